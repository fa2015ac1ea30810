package repository

import (
	"context"
	"errors"
	"time"

	"github.com/vedran77/mavis/internal/domain"
)

// Storage failures are classified into these so callers can tell a
// misconfigured store from a missing record or a retryable blip.
var (
	ErrNotFound         = errors.New("record not found")
	ErrConflict         = errors.New("record already exists")
	ErrPermissionDenied = errors.New("storage permission denied")
	ErrUnavailable      = errors.New("storage temporarily unavailable")
)

// Lookups return (nil, nil) on a miss.

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	FindBot(ctx context.Context) (*domain.User, error)
	Search(ctx context.Context, query, excludeID string, limit int) ([]domain.User, error)
	UpdateProfile(ctx context.Context, user *domain.User) error
	SetAdmin(ctx context.Context, id string, isAdmin bool) (*domain.User, error)
	SetBanned(ctx context.Context, id string, isBanned bool) (*domain.User, error)
	ToggleBanned(ctx context.Context, id string) (*domain.User, error)
}

type CredentialRepository interface {
	Create(ctx context.Context, cred *domain.Credential) error
	GetByEmail(ctx context.Context, email string) (*domain.Credential, error)
	Delete(ctx context.Context, email string) error
}

type ChatRepository interface {
	// CreateIfAbsent stores chat unless a record with the same id exists, and
	// returns whichever record is stored afterwards.
	CreateIfAbsent(ctx context.Context, chat *domain.ChatSession) (*domain.ChatSession, bool, error)
	GetByID(ctx context.Context, id string) (*domain.ChatSession, error)
	ListByParticipant(ctx context.Context, userID string) ([]domain.ChatSession, error)
	// AddParticipant reports whether userID was newly added.
	AddParticipant(ctx context.Context, chatID, userID string) (bool, error)
}

type MessageRepository interface {
	// Append assigns msg.Seq, clamps msg.Timestamp to be no earlier than the
	// chat's last message and updates the chat's last message in the same
	// atomic step. Returns ErrNotFound if the chat does not exist.
	Append(ctx context.Context, msg *domain.Message) error
	ListByChat(ctx context.Context, chatID string) ([]domain.Message, error)
	// MarkRead flips every unread message not sent by readerID to read and
	// returns how many changed.
	MarkRead(ctx context.Context, chatID, readerID string) (int, error)
	CountUnread(ctx context.Context, chatID, viewerID string) (int, error)
}

type PresenceRepository interface {
	MarkOnline(ctx context.Context, userID string, at time.Time) error
	MarkOffline(ctx context.Context, userID string, at time.Time) error
	// Refresh extends a live online mark. Stores without expiry may no-op.
	Refresh(ctx context.Context, userID string) error
	Get(ctx context.Context, userID string) (*domain.Presence, error)
	GetMany(ctx context.Context, userIDs []string) (map[string]*domain.Presence, error)
}
