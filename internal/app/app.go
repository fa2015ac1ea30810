// Package app wires the stores, services and transports of the server.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vedran77/mavis/internal/config"
	"github.com/vedran77/mavis/internal/database"
	"github.com/vedran77/mavis/internal/fanout"
	"github.com/vedran77/mavis/internal/repository"
	"github.com/vedran77/mavis/internal/repository/memory"
	postgresrepo "github.com/vedran77/mavis/internal/repository/postgres"
	redisrepo "github.com/vedran77/mavis/internal/repository/redis"
	"github.com/vedran77/mavis/internal/service"
	"github.com/vedran77/mavis/internal/transport/http/handlers"
	"github.com/vedran77/mavis/internal/transport/ws"
)

type App struct {
	cfg    *config.Config
	logger *zap.Logger

	Registry *prometheus.Registry
	Fanout   *fanout.Hub
	WS       *ws.Hub

	Presence   *service.PresenceService
	Auth       *service.AuthService
	Messages   *service.MessageService
	Chats      *service.ChatService
	Bot        *service.BotService
	Moderation *service.ModerationService
	Realtime   *service.RealtimeService

	store  *memory.Store
	pool   *pgxpool.Pool
	redis  *goredis.Client
	health map[string]handlers.HealthCheck
}

type stores struct {
	users    repository.UserRepository
	creds    repository.CredentialRepository
	chats    repository.ChatRepository
	messages repository.MessageRepository
	presence repository.PresenceRepository
}

// New connects the configured stores and builds every service. The public
// group and the support bot exist when it returns.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		cfg:      cfg,
		logger:   logger,
		Registry: prometheus.NewRegistry(),
		health:   make(map[string]handlers.HealthCheck),
	}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	st, err := a.openStores(ctx)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	a.Fanout = fanout.NewHub(logger, fanout.NewMetrics(a.Registry))
	notifier := service.NewFanoutNotifier(a.Fanout)

	a.Presence = service.NewPresenceService(st.presence, logger)
	a.Auth = service.NewAuthService(st.users, st.creds, a.Presence, cfg.JWTSecret, cfg.TokenTTL, cfg.AdminEmails, logger)
	a.Messages = service.NewMessageService(st.messages, st.chats, st.users, logger)
	a.Chats = service.NewChatService(st.chats, st.users, a.Messages, logger)
	a.Bot = service.NewBotService(st.users, st.chats, a.Messages, cfg.BotReplyDelay, logger)
	a.Moderation = service.NewModerationService(st.users, a.Presence, logger)
	a.Realtime = service.NewRealtimeService(a.Fanout, a.Auth, a.Chats, a.Messages)

	for _, s := range []interface{ SetNotifier(service.Notifier) }{a.Presence, a.Auth, a.Messages, a.Chats, a.Moderation} {
		s.SetNotifier(notifier)
	}

	a.WS = ws.NewHub(a.Auth, a.Presence, a.Realtime, a.Registry, logger)

	if _, err := a.Chats.EnsureGlobalGroup(ctx); err != nil {
		a.Bot.Close()
		a.closeStores()
		return nil, err
	}
	if _, err := a.Bot.EnsureBot(ctx); err != nil {
		a.Bot.Close()
		a.closeStores()
		return nil, err
	}
	return a, nil
}

func (a *App) openStores(ctx context.Context) (*stores, error) {
	var st stores

	switch a.cfg.Store {
	case config.StorePostgres:
		pool, err := database.Connect(ctx, a.cfg)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		if err := database.Migrate(ctx, pool); err != nil {
			return nil, err
		}
		a.health["postgres"] = pool.Ping
		st.users = postgresrepo.NewUserRepo(pool)
		st.creds = postgresrepo.NewCredentialRepo(pool)
		st.chats = postgresrepo.NewChatRepo(pool)
		st.messages = postgresrepo.NewMessageRepo(pool)
		a.logger.Info("connected to postgres", zap.String("host", a.cfg.DBHost), zap.String("db", a.cfg.DBName))

	default:
		a.store = memory.NewStore()
		if err := a.restoreSnapshot(); err != nil {
			return nil, err
		}
		st.users = a.store.Users()
		st.creds = a.store.Credentials()
		st.chats = a.store.Chats()
		st.messages = a.store.Messages()
	}

	switch a.cfg.PresenceStore {
	case config.StoreRedis:
		opts, err := goredis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		a.redis = goredis.NewClient(opts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("unable to ping redis: %w", err)
		}
		a.health["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
		st.presence = redisrepo.NewPresenceRepo(a.redis, a.cfg.PresenceTTL)
		a.logger.Info("connected to redis")

	default:
		st.presence = memory.NewPresenceRepo()
	}

	return &st, nil
}

func (a *App) restoreSnapshot() error {
	if a.cfg.SnapshotPath == "" {
		return nil
	}
	f, err := os.Open(a.cfg.SnapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	if err := a.store.Restore(f); err != nil {
		return err
	}
	a.logger.Info("restored memory store", zap.String("path", a.cfg.SnapshotPath))
	return nil
}

// saveSnapshot writes the memory store next to its final path and renames it
// into place so a crash never leaves a truncated snapshot.
func (a *App) saveSnapshot() error {
	if a.store == nil || a.cfg.SnapshotPath == "" {
		return nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(a.cfg.SnapshotPath), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := a.store.Snapshot(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), a.cfg.SnapshotPath); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	a.logger.Info("saved memory store", zap.String("path", a.cfg.SnapshotPath))
	return nil
}

// Close drains websocket clients, stops pending bot replies, marks every
// connected user offline and releases the stores.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.WS.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("draining websockets: %w", err))
	}
	a.Bot.Close()
	a.Presence.Close(ctx)
	if err := a.saveSnapshot(); err != nil {
		errs = append(errs, err)
	}
	a.closeStores()
	return errors.Join(errs...)
}

func (a *App) closeStores() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("closing redis", zap.Error(err))
		}
	}
}
