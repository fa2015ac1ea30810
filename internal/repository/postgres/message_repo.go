package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/mavis/internal/domain"
	"github.com/vedran77/mavis/internal/repository"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

// Append runs in one transaction. Bumping message_seq takes the chat row
// lock, which serializes concurrent appends to the same chat.
func (r *MessageRepo) Append(ctx context.Context, msg *domain.Message) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	var (
		seq     int64
		lastRaw []byte
	)
	err = tx.QueryRow(ctx, `
		UPDATE chats SET message_seq = message_seq + 1
		WHERE id = $1
		RETURNING message_seq, last_message`, msg.ChatID,
	).Scan(&seq, &lastRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return classify(err)
	}

	if len(lastRaw) > 0 {
		var last domain.Message
		if err := json.Unmarshal(lastRaw, &last); err != nil {
			return fmt.Errorf("decoding last message of %s: %w", msg.ChatID, err)
		}
		if msg.Timestamp.Before(last.Timestamp) {
			msg.Timestamp = last.Timestamp
		}
	}
	msg.Seq = seq

	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (chat_id, id, seq, sender_id, text, type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ChatID, msg.ID, msg.Seq, msg.SenderID, msg.Text, msg.Type, msg.Status, msg.Timestamp,
	); err != nil {
		return classify(err)
	}

	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding last message: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE chats SET last_message = $1 WHERE id = $2`, encoded, msg.ChatID); err != nil {
		return classify(err)
	}

	return classify(tx.Commit(ctx))
}

func (r *MessageRepo) ListByChat(ctx context.Context, chatID string) ([]domain.Message, error) {
	query := `
		SELECT id, chat_id, sender_id, text, created_at, status, type, seq
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at, seq`

	rows, err := r.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(
			&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.Timestamp, &m.Status, &m.Type, &m.Seq,
		); err != nil {
			return nil, classify(err)
		}
		messages = append(messages, m)
	}
	return messages, classify(rows.Err())
}

func (r *MessageRepo) MarkRead(ctx context.Context, chatID, readerID string) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, classify(err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE messages SET status = 'read'
		WHERE chat_id = $1 AND sender_id <> $2 AND status <> 'read'
		RETURNING id`, chatID, readerID)
	if err != nil {
		return 0, classify(err)
	}
	var changed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, classify(err)
		}
		changed = append(changed, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, classify(err)
	}

	if len(changed) > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE chats SET last_message = jsonb_set(last_message, '{status}', '"read"')
			WHERE id = $1 AND last_message ->> 'id' = ANY($2)`, chatID, changed,
		); err != nil {
			return 0, classify(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, classify(err)
	}
	return len(changed), nil
}

func (r *MessageRepo) CountUnread(ctx context.Context, chatID, viewerID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM messages
		WHERE chat_id = $1 AND sender_id <> $2 AND status <> 'read'`, chatID, viewerID,
	).Scan(&n)
	return n, classify(err)
}
