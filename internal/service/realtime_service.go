package service

import (
	"context"
	"errors"

	"github.com/vedran77/mavis/internal/domain"
	"github.com/vedran77/mavis/internal/fanout"
)

// ChatView is a chat as shown in a user's list: the session, the other
// participant of a direct chat and the viewer's unread count.
type ChatView struct {
	domain.ChatSession
	Peer   *domain.User `json:"peer,omitempty"`
	Unread int          `json:"unread"`
}

// RealtimeService materializes the views clients subscribe to and registers
// their subscriptions with the hub.
type RealtimeService struct {
	hub      *fanout.Hub
	auth     *AuthService
	chats    *ChatService
	messages *MessageService
}

func NewRealtimeService(hub *fanout.Hub, auth *AuthService, chats *ChatService, messages *MessageService) *RealtimeService {
	return &RealtimeService{hub: hub, auth: auth, chats: chats, messages: messages}
}

// Chats builds the chat list of viewerID.
func (s *RealtimeService) Chats(ctx context.Context, viewerID string) ([]ChatView, error) {
	chats, err := s.chats.ListForUser(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	views := make([]ChatView, len(chats))
	for i, c := range chats {
		views[i] = ChatView{ChatSession: c}

		if peerID := c.OtherParticipant(viewerID); peerID != "" {
			peer, err := s.auth.GetByID(ctx, peerID)
			if err != nil && !errors.Is(err, ErrUserNotFound) {
				return nil, err
			}
			views[i].Peer = peer
		}

		unread, err := s.messages.UnreadCount(ctx, c.ID, viewerID)
		if err != nil {
			return nil, err
		}
		views[i].Unread = unread
	}
	return views, nil
}

func (s *RealtimeService) SubscribeChats(ctx context.Context, viewerID string) *fanout.Subscription[[]ChatView] {
	return fanout.Subscribe(ctx, s.hub, fanout.Key{Kind: fanout.KindChats, ID: viewerID},
		func(ctx context.Context) ([]ChatView, error) {
			return s.Chats(ctx, viewerID)
		})
}

// SubscribeMessages checks read access up front; participants are never
// removed, so access cannot be lost later.
func (s *RealtimeService) SubscribeMessages(ctx context.Context, viewerID, chatID string) (*fanout.Subscription[[]domain.Message], error) {
	if _, err := s.messages.List(ctx, viewerID, chatID); err != nil {
		return nil, err
	}
	return fanout.Subscribe(ctx, s.hub, fanout.Key{Kind: fanout.KindMessages, ID: chatID},
		func(ctx context.Context) ([]domain.Message, error) {
			return s.messages.List(ctx, viewerID, chatID)
		}), nil
}

func (s *RealtimeService) SubscribeUnread(ctx context.Context, viewerID, chatID string) (*fanout.Subscription[int], error) {
	if _, err := s.messages.UnreadCount(ctx, chatID, viewerID); err != nil {
		return nil, err
	}
	return fanout.Subscribe(ctx, s.hub, fanout.Key{Kind: fanout.KindUnread, ID: chatID},
		func(ctx context.Context) (int, error) {
			return s.messages.UnreadCount(ctx, chatID, viewerID)
		}), nil
}

func (s *RealtimeService) SubscribePresence(ctx context.Context, userID string) (*fanout.Subscription[*domain.User], error) {
	if _, err := s.auth.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	return fanout.Subscribe(ctx, s.hub, fanout.Key{Kind: fanout.KindPresence, ID: userID},
		func(ctx context.Context) (*domain.User, error) {
			return s.auth.GetByID(ctx, userID)
		}), nil
}

// FanoutNotifier publishes committed changes to the hub.
type FanoutNotifier struct {
	hub *fanout.Hub
}

func NewFanoutNotifier(hub *fanout.Hub) *FanoutNotifier {
	return &FanoutNotifier{hub: hub}
}

func (n *FanoutNotifier) NotifyChats(userIDs ...string) {
	for _, id := range userIDs {
		n.hub.Publish(fanout.Key{Kind: fanout.KindChats, ID: id})
	}
}

func (n *FanoutNotifier) NotifyAllChats() {
	n.hub.PublishKind(fanout.KindChats)
}

func (n *FanoutNotifier) NotifyMessages(chatID string) {
	n.hub.Publish(fanout.Key{Kind: fanout.KindMessages, ID: chatID})
	n.hub.Publish(fanout.Key{Kind: fanout.KindUnread, ID: chatID})
}

// NotifyUser refreshes the user's presence view and every chat list, since
// lists embed peer profiles.
func (n *FanoutNotifier) NotifyUser(userID string) {
	n.hub.Publish(fanout.Key{Kind: fanout.KindPresence, ID: userID})
	n.hub.PublishKind(fanout.KindChats)
}
