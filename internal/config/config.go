package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	ServerPort string `yaml:"server_port"`
	DBHost     string `yaml:"db_host"`
	DBPort     string `yaml:"db_port"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBName     string `yaml:"db_name"`
	RedisURL   string `yaml:"redis_url"`
	JWTSecret  string `yaml:"jwt_secret"`

	// Store selects the user/chat/message backend: memory or postgres.
	Store string `yaml:"store"`
	// PresenceStore selects memory or redis.
	PresenceStore string `yaml:"presence_store"`
	// SnapshotPath is where the memory store persists itself on shutdown.
	SnapshotPath string `yaml:"snapshot_path"`

	AdminEmails []string `yaml:"admin_emails"`

	// BotReplyDelay scales the bot's reply delays. 0 replies immediately.
	BotReplyDelay float64       `yaml:"bot_reply_delay"`
	PresenceTTL   time.Duration `yaml:"presence_ttl"`
	TokenTTL      time.Duration `yaml:"token_ttl"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func defaults() *Config {
	return &Config{
		ServerPort:    "8080",
		DBHost:        "localhost",
		DBPort:        "5432",
		DBUser:        "mavis",
		DBPassword:    "mavis_dev_password",
		DBName:        "mavis",
		RedisURL:      "redis://localhost:6379/0",
		JWTSecret:     "dev-secret-change-me",
		Store:         StoreMemory,
		PresenceStore: StoreMemory,
		BotReplyDelay: 1,
		PresenceTTL:   45 * time.Second,
		TokenTTL:      72 * time.Hour,
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// Load builds the config from defaults, then the YAML file at path (if path is
// non-empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.DBHost = getEnv("DB_HOST", c.DBHost)
	c.DBPort = getEnv("DB_PORT", c.DBPort)
	c.DBUser = getEnv("DB_USER", c.DBUser)
	c.DBPassword = getEnv("DB_PASSWORD", c.DBPassword)
	c.DBName = getEnv("DB_NAME", c.DBName)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.Store = getEnv("STORE", c.Store)
	c.PresenceStore = getEnv("PRESENCE_STORE", c.PresenceStore)
	c.SnapshotPath = getEnv("SNAPSHOT_PATH", c.SnapshotPath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	if v, ok := os.LookupEnv("ADMIN_EMAILS"); ok {
		c.AdminEmails = splitList(v)
	}
	if v, ok := os.LookupEnv("BOT_REPLY_DELAY"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("BOT_REPLY_DELAY: %w", err)
		}
		c.BotReplyDelay = f
	}
	var err error
	if c.PresenceTTL, err = getDuration("PRESENCE_TTL", c.PresenceTTL); err != nil {
		return err
	}
	if c.TokenTTL, err = getDuration("TOKEN_TTL", c.TokenTTL); err != nil {
		return err
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Store != StoreMemory && c.Store != StorePostgres {
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.PresenceStore != StoreMemory && c.PresenceStore != StoreRedis {
		errs = append(errs, fmt.Errorf("unknown presence store %q", c.PresenceStore))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt secret must not be empty"))
	}
	if c.BotReplyDelay < 0 {
		errs = append(errs, errors.New("bot reply delay must not be negative"))
	}
	if c.PresenceTTL <= 0 {
		errs = append(errs, errors.New("presence ttl must be positive"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token ttl must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func (c *Config) Addr() string {
	return ":" + c.ServerPort
}

func getEnv(key, fallback string) string {
	val, exists := os.LookupEnv(key)

	if exists {
		return val
	}

	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	val, exists := os.LookupEnv(key)
	if !exists {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
