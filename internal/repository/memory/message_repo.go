package memory

import (
	"context"

	"github.com/vedran77/mavis/internal/domain"
	"github.com/vedran77/mavis/internal/repository"
)

type MessageRepo struct {
	s *Store
}

func (r *MessageRepo) Append(ctx context.Context, msg *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.s.chats[msg.ChatID]
	if !ok {
		return repository.ErrNotFound
	}

	if last := rec.chat.LastMessage; last != nil && msg.Timestamp.Before(last.Timestamp) {
		msg.Timestamp = last.Timestamp
	}
	rec.seq++
	msg.Seq = rec.seq

	stored := *msg
	r.s.messages[msg.ChatID] = append(r.s.messages[msg.ChatID], &stored)
	cached := stored
	rec.chat.LastMessage = &cached
	return nil
}

func (r *MessageRepo) ListByChat(ctx context.Context, chatID string) ([]domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	log := r.s.messages[chatID]
	out := make([]domain.Message, len(log))
	for i, m := range log {
		out[i] = *m
	}
	return out, nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, chatID, readerID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	changed := 0
	for _, m := range r.s.messages[chatID] {
		if m.IsUnreadFor(readerID) {
			m.Status = domain.MessageStatusRead
			changed++
		}
	}
	if rec, ok := r.s.chats[chatID]; ok && changed > 0 {
		if last := rec.chat.LastMessage; last != nil && last.IsUnreadFor(readerID) {
			last.Status = domain.MessageStatusRead
		}
	}
	return changed, nil
}

func (r *MessageRepo) CountUnread(ctx context.Context, chatID, viewerID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	n := 0
	for _, m := range r.s.messages[chatID] {
		if m.IsUnreadFor(viewerID) {
			n++
		}
	}
	return n, nil
}
