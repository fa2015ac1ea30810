package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vedran77/mavis/internal/domain"
	"github.com/vedran77/mavis/internal/repository"
	"github.com/vedran77/mavis/pkg/validator"
)

var ErrNotGroup = fmt.Errorf("chat is not a group: %w", ErrForbidden)

const createTimeout = 10 * time.Second

// SystemPoster appends system announcements to a chat.
type SystemPoster interface {
	PostSystem(ctx context.Context, chatID, text string) (*domain.Message, error)
}

type ChatService struct {
	chats    repository.ChatRepository
	users    repository.UserRepository
	poster   SystemPoster
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	creating singleflight.Group
}

func NewChatService(
	chats repository.ChatRepository,
	users repository.UserRepository,
	poster SystemPoster,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		chats:    chats,
		users:    users,
		poster:   poster,
		notifier: nopNotifier{},
		logger:   logger.With(zap.String("component", "chats")),
		now:      time.Now,
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *ChatService) SetNotifier(n Notifier) {
	s.notifier = n
}

// GetOrCreateDirect returns the direct chat between two users, creating it if
// needed. Concurrent callers for the same pair converge on one record: the id
// is derived from the sorted pair, in-process callers share one creation via
// singleflight, and the store never overwrites an existing record.
func (s *ChatService) GetOrCreateDirect(ctx context.Context, userA, userB string) (*domain.ChatSession, error) {
	if userA == userB {
		return nil, validator.ValidationErrors{"user_id": "Cannot start a chat with yourself"}
	}
	for _, id := range []string{userA, userB} {
		u, err := s.users.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, ErrUserNotFound
		}
		if id == userA && u.IsBanned {
			return nil, ErrBanned
		}
	}

	low, high := domain.SortPair(userA, userB)
	chatID := domain.DirectChatID(low, high)

	// The shared creation outlives any single caller; each caller still
	// stops waiting when its own ctx is done.
	detached := context.WithoutCancel(ctx)
	ch := s.creating.DoChan(chatID, func() (any, error) {
		ctx, cancel := context.WithTimeout(detached, createTimeout)
		defer cancel()

		existing, err := s.chats.GetByID(ctx, chatID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}

		chat, created, err := s.chats.CreateIfAbsent(ctx, &domain.ChatSession{
			ID:           chatID,
			Participants: domain.NewParticipantSet(low, high),
			CreatedAt:    s.now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("creating direct chat: %w", err)
		}
		if created {
			s.logger.Debug("direct chat created", zap.String("chat_id", chatID))
			s.notifier.NotifyChats(low, high)
		}
		return chat, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	chat := *res.Val.(*domain.ChatSession)
	chat.Participants = chat.Participants.Clone()
	return &chat, nil
}

// EnsureGlobalGroup creates the public group if it does not exist.
func (s *ChatService) EnsureGlobalGroup(ctx context.Context) (*domain.ChatSession, error) {
	name := domain.GlobalGroupName
	chat, created, err := s.chats.CreateIfAbsent(ctx, &domain.ChatSession{
		ID:           domain.GlobalGroupID,
		Participants: domain.ParticipantSet{},
		IsGroup:      true,
		GroupName:    &name,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring global group: %w", err)
	}
	if created {
		s.logger.Info("global group created", zap.String("chat_id", chat.ID))
		s.notifier.NotifyAllChats()
	}
	return chat, nil
}

// JoinGroup adds userID to a group chat and reports whether it was newly
// added. A new member is announced with a system message.
func (s *ChatService) JoinGroup(ctx context.Context, chatID, userID string) (bool, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return false, err
	}
	if chat == nil {
		return false, ErrChatNotFound
	}
	if !chat.IsGroup {
		return false, ErrNotGroup
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, ErrUserNotFound
	}
	if user.IsBanned {
		return false, ErrBanned
	}

	changed, err := s.chats.AddParticipant(ctx, chatID, userID)
	if err != nil {
		return false, fmt.Errorf("joining group: %w", err)
	}
	if !changed {
		return false, nil
	}

	s.notifier.NotifyAllChats()
	if _, err := s.poster.PostSystem(ctx, chatID, fmt.Sprintf("%s joined the group", user.DisplayName)); err != nil {
		s.logger.Warn("posting join notice", zap.String("chat_id", chatID), zap.Error(err))
	}
	return true, nil
}

func (s *ChatService) Get(ctx context.Context, chatID string) (*domain.ChatSession, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	return chat, nil
}

// ListForUser returns the user's direct chats plus the public group, whether
// or not the user has joined it, most recently active first.
func (s *ChatService) ListForUser(ctx context.Context, userID string) ([]domain.ChatSession, error) {
	chats, err := s.chats.ListByParticipant(ctx, userID)
	if err != nil {
		return nil, err
	}

	hasGroup := false
	for _, c := range chats {
		if c.ID == domain.GlobalGroupID {
			hasGroup = true
			break
		}
	}
	if !hasGroup {
		group, err := s.chats.GetByID(ctx, domain.GlobalGroupID)
		if err != nil {
			return nil, err
		}
		if group == nil {
			if group, err = s.EnsureGlobalGroup(ctx); err != nil {
				return nil, err
			}
		}
		chats = append(chats, *group)
	}

	SortByActivity(chats)
	return chats, nil
}

// SortByActivity orders chats by last message time, newest first, then by id.
func SortByActivity(chats []domain.ChatSession) {
	sort.SliceStable(chats, func(i, j int) bool {
		ai, aj := chats[i].LastActivity(), chats[j].LastActivity()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return chats[i].ID < chats[j].ID
	})
}
