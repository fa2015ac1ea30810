package memory

import (
	"context"
	"sort"

	"github.com/vedran77/mavis/internal/domain"
	"github.com/vedran77/mavis/internal/repository"
)

type ChatRepo struct {
	s *Store
}

func (r *ChatRepo) CreateIfAbsent(ctx context.Context, chat *domain.ChatSession) (*domain.ChatSession, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if rec, ok := r.s.chats[chat.ID]; ok {
		return cloneChat(rec.chat), false, nil
	}
	stored := cloneChat(chat)
	if stored.Participants == nil {
		stored.Participants = domain.ParticipantSet{}
	}
	r.s.chats[chat.ID] = &chatRecord{chat: stored}
	return cloneChat(stored), true, nil
}

func (r *ChatRepo) GetByID(ctx context.Context, id string) (*domain.ChatSession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rec, ok := r.s.chats[id]
	if !ok {
		return nil, nil
	}
	return cloneChat(rec.chat), nil
}

func (r *ChatRepo) ListByParticipant(ctx context.Context, userID string) ([]domain.ChatSession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.ChatSession
	for _, rec := range r.s.chats {
		if rec.chat.HasParticipant(userID) {
			out = append(out, *cloneChat(rec.chat))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ChatRepo) AddParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.s.chats[chatID]
	if !ok {
		return false, repository.ErrNotFound
	}
	return rec.chat.Participants.Add(userID), nil
}
