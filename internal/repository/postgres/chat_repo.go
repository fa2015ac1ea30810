package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/mavis/internal/domain"
	"github.com/vedran77/mavis/internal/repository"
)

type ChatRepo struct {
	pool *pgxpool.Pool
}

func NewChatRepo(pool *pgxpool.Pool) *ChatRepo {
	return &ChatRepo{pool: pool}
}

func (r *ChatRepo) CreateIfAbsent(ctx context.Context, chat *domain.ChatSession) (*domain.ChatSession, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, classify(err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO chats (id, is_group, group_name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		chat.ID, chat.IsGroup, chat.GroupName, chat.CreatedAt,
	)
	if err != nil {
		return nil, false, classify(err)
	}
	created := tag.RowsAffected() == 1

	if created {
		for _, userID := range chat.Participants.IDs() {
			if _, err := tx.Exec(ctx, `
				INSERT INTO chat_participants (chat_id, user_id, joined_at)
				VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING`,
				chat.ID, userID, chat.CreatedAt,
			); err != nil {
				return nil, false, classify(err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, classify(err)
	}

	stored, err := r.GetByID(ctx, chat.ID)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, fmt.Errorf("chat %s vanished after insert: %w", chat.ID, repository.ErrNotFound)
	}
	return stored, created, nil
}

func (r *ChatRepo) GetByID(ctx context.Context, id string) (*domain.ChatSession, error) {
	query := `
		SELECT c.id, c.is_group, c.group_name, c.last_message, c.created_at,
			COALESCE(array_agg(p.user_id) FILTER (WHERE p.user_id IS NOT NULL), '{}')
		FROM chats c
		LEFT JOIN chat_participants p ON p.chat_id = c.id
		WHERE c.id = $1
		GROUP BY c.id`

	chat, err := scanChat(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return chat, nil
}

func (r *ChatRepo) ListByParticipant(ctx context.Context, userID string) ([]domain.ChatSession, error) {
	query := `
		SELECT c.id, c.is_group, c.group_name, c.last_message, c.created_at,
			array_agg(p.user_id)
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		WHERE c.id IN (SELECT chat_id FROM chat_participants WHERE user_id = $1)
		GROUP BY c.id
		ORDER BY c.id`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var chats []domain.ChatSession
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, classify(err)
		}
		chats = append(chats, *chat)
	}
	return chats, classify(rows.Err())
}

func (r *ChatRepo) AddParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO chat_participants (chat_id, user_id, joined_at)
		SELECT id, $2, $3 FROM chats WHERE id = $1
		ON CONFLICT DO NOTHING`,
		chatID, userID, time.Now().UTC(),
	)
	if err != nil {
		return false, classify(err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chats WHERE id = $1)`, chatID).Scan(&exists); err != nil {
		return false, classify(err)
	}
	if !exists {
		return false, repository.ErrNotFound
	}
	return false, nil
}

func scanChat(row pgx.Row) (*domain.ChatSession, error) {
	var (
		chat    domain.ChatSession
		lastRaw []byte
		members []string
	)
	if err := row.Scan(&chat.ID, &chat.IsGroup, &chat.GroupName, &lastRaw, &chat.CreatedAt, &members); err != nil {
		return nil, err
	}
	chat.Participants = domain.NewParticipantSet(members...)

	if len(lastRaw) > 0 {
		var last domain.Message
		if err := json.Unmarshal(lastRaw, &last); err != nil {
			return nil, fmt.Errorf("decoding last message of %s: %w", chat.ID, err)
		}
		chat.LastMessage = &last
	}
	return &chat, nil
}
