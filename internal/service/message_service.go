package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vedran77/mavis/internal/domain"
	"github.com/vedran77/mavis/internal/repository"
	"github.com/vedran77/mavis/pkg/validator"
)

var (
	ErrNotParticipant = fmt.Errorf("not a participant of this chat: %w", ErrForbidden)
	ErrReservedType   = fmt.Errorf("system messages are reserved: %w", ErrForbidden)
)

type MessageService struct {
	messages  repository.MessageRepository
	chats     repository.ChatRepository
	users     repository.UserRepository
	notifier  Notifier
	observers []MessageObserver
	logger    *zap.Logger
	now       func() time.Time

	mu            sync.RWMutex
	systemSenders map[string]struct{}
}

func NewMessageService(
	messages repository.MessageRepository,
	chats repository.ChatRepository,
	users repository.UserRepository,
	logger *zap.Logger,
) *MessageService {
	return &MessageService{
		messages:      messages,
		chats:         chats,
		users:         users,
		notifier:      nopNotifier{},
		logger:        logger.With(zap.String("component", "messages")),
		now:           time.Now,
		systemSenders: map[string]struct{}{
			domain.SystemUserID: {},
			domain.SupportBotID: {},
		},
	}
}

// AllowSystemSender lets userID post system-typed messages.
func (s *MessageService) AllowSystemSender(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemSenders[userID] = struct{}{}
}

func (s *MessageService) mayPostSystem(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.systemSenders[userID]
	return ok
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *MessageService) SetNotifier(n Notifier) {
	s.notifier = n
}

// AddObserver registers o to be called after every successful send. Observers
// must be added before the service is used.
func (s *MessageService) AddObserver(o MessageObserver) {
	s.observers = append(s.observers, o)
}

type SendMessageInput struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// Send appends a message. Banned senders are rejected before anything is
// written. The system identity may post system messages to any chat; every
// other sender must be a participant.
func (s *MessageService) Send(ctx context.Context, chatID, senderID string, input SendMessageInput) (*domain.Message, error) {
	msgType, err := domain.ParseMessageType(input.Type)
	if err != nil {
		return nil, validator.ValidationErrors{"type": "Unknown message type"}
	}
	if err := validator.ValidateMessage(string(msgType), input.Text).Err(); err != nil {
		return nil, err
	}

	isSystem := senderID == domain.SystemUserID
	if msgType == domain.MessageTypeSystem && !s.mayPostSystem(senderID) {
		return nil, ErrReservedType
	}

	if !isSystem {
		if err := s.checkSender(ctx, senderID); err != nil {
			return nil, err
		}
	}

	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	if !isSystem && !chat.HasParticipant(senderID) {
		return nil, ErrNotParticipant
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}
	msg := &domain.Message{
		ID:        id.String(),
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      strings.TrimSpace(input.Text),
		Timestamp: s.now().UTC(),
		Status:    domain.MessageStatusSent,
		Type:      msgType,
	}

	if err := s.messages.Append(ctx, msg); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("appending message: %w", err)
	}

	s.notifier.NotifyMessages(chatID)
	s.notifyChats(chat)

	for _, o := range s.observers {
		o.MessageSent(ctx, chat, msg)
	}
	return msg, nil
}

// PostSystem appends a system announcement authored by the system identity.
func (s *MessageService) PostSystem(ctx context.Context, chatID, text string) (*domain.Message, error) {
	return s.Send(ctx, chatID, domain.SystemUserID, SendMessageInput{Text: text, Type: string(domain.MessageTypeSystem)})
}

// List returns the chat's messages oldest first.
func (s *MessageService) List(ctx context.Context, viewerID, chatID string) ([]domain.Message, error) {
	if _, err := s.readableChat(ctx, viewerID, chatID); err != nil {
		return nil, err
	}
	return s.messages.ListByChat(ctx, chatID)
}

// MarkRead marks every message in the chat not sent by readerID as read.
// Calling it again when nothing is unread is a no-op.
func (s *MessageService) MarkRead(ctx context.Context, chatID, readerID string) error {
	chat, err := s.readableChat(ctx, readerID, chatID)
	if err != nil {
		return err
	}

	n, err := s.messages.MarkRead(ctx, chatID, readerID)
	if err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	if n > 0 {
		s.notifier.NotifyMessages(chatID)
		s.notifyChats(chat)
	}
	return nil
}

func (s *MessageService) UnreadCount(ctx context.Context, chatID, viewerID string) (int, error) {
	if _, err := s.readableChat(ctx, viewerID, chatID); err != nil {
		return 0, err
	}
	return s.messages.CountUnread(ctx, chatID, viewerID)
}

// readableChat loads the chat and checks viewerID may read it: participants,
// anyone for the public group, and admins.
func (s *MessageService) readableChat(ctx context.Context, viewerID, chatID string) (*domain.ChatSession, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	if chat.HasParticipant(viewerID) || chat.IsGroup {
		return chat, nil
	}

	viewer, err := s.users.GetByID(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if viewer != nil && viewer.IsAdmin {
		return chat, nil
	}
	return nil, ErrNotParticipant
}

func (s *MessageService) checkSender(ctx context.Context, senderID string) error {
	sender, err := s.users.GetByID(ctx, senderID)
	if err != nil {
		return err
	}
	if sender == nil {
		return ErrUserNotFound
	}
	if sender.IsBanned {
		return ErrBanned
	}
	return nil
}

func (s *MessageService) notifyChats(chat *domain.ChatSession) {
	if chat.IsGroup {
		s.notifier.NotifyAllChats()
		return
	}
	s.notifier.NotifyChats(chat.Participants.IDs()...)
}
