package service

import (
	"context"

	"github.com/vedran77/mavis/internal/domain"
)

// Notifier is told about committed changes so live views can refresh.
type Notifier interface {
	// NotifyChats refreshes the chat lists of the given users.
	NotifyChats(userIDs ...string)
	// NotifyAllChats refreshes every chat list.
	NotifyAllChats()
	NotifyMessages(chatID string)
	NotifyUser(userID string)
}

// MessageObserver is called after a message has been appended.
type MessageObserver interface {
	MessageSent(ctx context.Context, chat *domain.ChatSession, msg *domain.Message)
}

type nopNotifier struct{}

func (nopNotifier) NotifyChats(...string) {}
func (nopNotifier) NotifyAllChats()       {}
func (nopNotifier) NotifyMessages(string) {}
func (nopNotifier) NotifyUser(string)     {}
