package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/mavis/internal/domain"
)

const userColumns = `id, username, display_name, email, bio, avatar_color, avatar_url,
	is_admin, is_bot, is_banned, notifications_enabled, created_at, updated_at`

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, username, username_key, display_name, email, bio, avatar_color, avatar_url,
			is_admin, is_bot, is_banned, notifications_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.pool.Exec(ctx, query,
		user.ID, user.Username, domain.UsernameKey(user.Username), user.DisplayName, user.Email,
		user.Bio, user.AvatarColor, user.AvatarURL,
		user.IsAdmin, user.IsBot, user.IsBanned, user.NotificationsEnabled,
		user.CreatedAt, user.UpdatedAt,
	)
	return classify(err)
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.scanUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.scanUser(ctx, "SELECT "+userColumns+" FROM users WHERE username_key = $1", domain.UsernameKey(username))
}

func (r *UserRepo) FindBot(ctx context.Context) (*domain.User, error) {
	return r.scanUser(ctx, "SELECT "+userColumns+" FROM users WHERE is_bot ORDER BY id LIMIT 1")
}

func (r *UserRepo) Search(ctx context.Context, query, excludeID string, limit int) ([]domain.User, error) {
	pattern := "%" + escapeLike(domain.UsernameKey(query)) + "%"
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username_key LIKE $1 AND id <> $2
		ORDER BY username_key
		LIMIT $3`, pattern, excludeID, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, classify(err)
		}
		users = append(users, *u)
	}
	return users, classify(rows.Err())
}

func (r *UserRepo) UpdateProfile(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users
		SET display_name = $1, bio = $2, avatar_color = $3, avatar_url = $4,
			notifications_enabled = $5, updated_at = $6
		WHERE id = $7`
	_, err := r.pool.Exec(ctx, query,
		user.DisplayName, user.Bio, user.AvatarColor, user.AvatarURL,
		user.NotificationsEnabled, user.UpdatedAt, user.ID,
	)
	return classify(err)
}

func (r *UserRepo) SetAdmin(ctx context.Context, id string, isAdmin bool) (*domain.User, error) {
	return r.scanUser(ctx, `
		UPDATE users SET is_admin = $1, updated_at = now()
		WHERE id = $2
		RETURNING `+userColumns, isAdmin, id)
}

func (r *UserRepo) SetBanned(ctx context.Context, id string, isBanned bool) (*domain.User, error) {
	return r.scanUser(ctx, `
		UPDATE users SET is_banned = $1, updated_at = now()
		WHERE id = $2
		RETURNING `+userColumns, isBanned, id)
}

func (r *UserRepo) ToggleBanned(ctx context.Context, id string) (*domain.User, error) {
	return r.scanUser(ctx, `
		UPDATE users SET is_banned = NOT is_banned, updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns, id)
}

func (r *UserRepo) scanUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	u, err := scanUserRow(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return u, nil
}

func scanUserRow(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.Username, &u.DisplayName, &u.Email, &u.Bio, &u.AvatarColor, &u.AvatarURL,
		&u.IsAdmin, &u.IsBot, &u.IsBanned, &u.NotificationsEnabled, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type CredentialRepo struct {
	pool *pgxpool.Pool
}

func NewCredentialRepo(pool *pgxpool.Pool) *CredentialRepo {
	return &CredentialRepo{pool: pool}
}

func (r *CredentialRepo) Create(ctx context.Context, cred *domain.Credential) error {
	query := `
		INSERT INTO credentials (email_key, email, user_id, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query,
		domain.EmailKey(cred.Email), cred.Email, cred.UserID, cred.PasswordHash, cred.CreatedAt,
	)
	return classify(err)
}

func (r *CredentialRepo) GetByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	query := `SELECT user_id, email, password_hash, created_at FROM credentials WHERE email_key = $1`
	var c domain.Credential
	err := r.pool.QueryRow(ctx, query, domain.EmailKey(email)).Scan(
		&c.UserID, &c.Email, &c.PasswordHash, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &c, nil
}

func (r *CredentialRepo) Delete(ctx context.Context, email string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM credentials WHERE email_key = $1`, domain.EmailKey(email))
	return classify(err)
}
