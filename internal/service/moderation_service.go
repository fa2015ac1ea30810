package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vedran77/mavis/internal/domain"
	"github.com/vedran77/mavis/internal/repository"
)

// ModerationService changes ban and admin flags. Every operation checks the
// acting user's admin flag itself, so no caller can skip the check.
type ModerationService struct {
	users    repository.UserRepository
	presence *PresenceService
	notifier Notifier
	logger   *zap.Logger
}

func NewModerationService(users repository.UserRepository, presence *PresenceService, logger *zap.Logger) *ModerationService {
	return &ModerationService{
		users:    users,
		presence: presence,
		notifier: nopNotifier{},
		logger:   logger.With(zap.String("component", "moderation")),
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *ModerationService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetBanned looks the target up by username, case-insensitively and with a
// leading @ ignored. Banning signs the user out of every live session.
func (s *ModerationService) SetBanned(ctx context.Context, actorID, username string, banned bool) (*domain.User, error) {
	if err := requireAdmin(ctx, s.users, actorID); err != nil {
		return nil, err
	}
	target, err := s.lookup(ctx, username)
	if err != nil {
		return nil, err
	}

	updated, err := s.users.SetBanned(ctx, target.ID, banned)
	if err != nil {
		return nil, fmt.Errorf("setting banned: %w", err)
	}
	if updated == nil {
		return nil, ErrUserNotFound
	}
	s.afterBanChange(ctx, actorID, updated)
	return updated, nil
}

func (s *ModerationService) SetAdmin(ctx context.Context, actorID, username string, isAdmin bool) (*domain.User, error) {
	if err := requireAdmin(ctx, s.users, actorID); err != nil {
		return nil, err
	}
	target, err := s.lookup(ctx, username)
	if err != nil {
		return nil, err
	}

	updated, err := s.users.SetAdmin(ctx, target.ID, isAdmin)
	if err != nil {
		return nil, fmt.Errorf("setting admin: %w", err)
	}
	if updated == nil {
		return nil, ErrUserNotFound
	}

	s.logger.Info("admin flag changed",
		zap.String("actor_id", actorID),
		zap.String("user_id", updated.ID),
		zap.Bool("admin", updated.IsAdmin),
	)
	s.notifier.NotifyUser(updated.ID)
	return updated, nil
}

// ToggleBanned flips the ban flag of userID and returns the new value.
func (s *ModerationService) ToggleBanned(ctx context.Context, actorID, userID string) (bool, error) {
	if err := requireAdmin(ctx, s.users, actorID); err != nil {
		return false, err
	}

	updated, err := s.users.ToggleBanned(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("toggling banned: %w", err)
	}
	if updated == nil {
		return false, ErrUserNotFound
	}
	s.afterBanChange(ctx, actorID, updated)
	return updated.IsBanned, nil
}

func (s *ModerationService) afterBanChange(ctx context.Context, actorID string, user *domain.User) {
	s.logger.Info("ban flag changed",
		zap.String("actor_id", actorID),
		zap.String("user_id", user.ID),
		zap.Bool("banned", user.IsBanned),
	)
	if user.IsBanned {
		if err := s.presence.DisconnectUser(ctx, user.ID); err != nil {
			s.logger.Error("signing out banned user", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	s.notifier.NotifyUser(user.ID)
}

func (s *ModerationService) lookup(ctx context.Context, username string) (*domain.User, error) {
	user, err := s.users.GetByUsername(ctx, domain.CleanUsername(username))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// requireAdmin fails with ErrNotAdmin unless actorID is an admin.
func requireAdmin(ctx context.Context, users repository.UserRepository, actorID string) error {
	actor, err := users.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	if actor == nil || !actor.IsAdmin || actor.IsBanned {
		return ErrNotAdmin
	}
	return nil
}
