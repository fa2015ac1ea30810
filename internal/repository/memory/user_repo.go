package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vedran77/mavis/internal/domain"
	"github.com/vedran77/mavis/internal/repository"
)

type UserRepo struct {
	s *Store
}

func (r *UserRepo) Create(ctx context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[user.ID]; ok {
		return fmt.Errorf("user %s: %w", user.ID, repository.ErrConflict)
	}
	key := domain.UsernameKey(user.Username)
	if _, ok := r.s.usernames[key]; ok {
		return fmt.Errorf("username %s: %w", user.Username, repository.ErrConflict)
	}

	r.s.users[user.ID] = cloneUser(user)
	r.s.usernames[key] = user.ID
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	return cloneUser(u), nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.usernames[domain.UsernameKey(username)]
	if !ok {
		return nil, nil
	}
	return cloneUser(r.s.users[id]), nil
}

func (r *UserRepo) FindBot(ctx context.Context) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ids := make([]string, 0, len(r.s.users))
	for id, u := range r.s.users {
		if u.IsBot {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)
	return cloneUser(r.s.users[ids[0]]), nil
}

func (r *UserRepo) Search(ctx context.Context, query, excludeID string, limit int) ([]domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	q := domain.UsernameKey(query)
	var out []domain.User
	for key, id := range r.s.usernames {
		if id == excludeID || !strings.Contains(key, q) {
			continue
		}
		out = append(out, *cloneUser(r.s.users[id]))
	}
	sort.Slice(out, func(i, j int) bool {
		return domain.UsernameKey(out[i].Username) < domain.UsernameKey(out[j].Username)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *UserRepo) UpdateProfile(ctx context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.users[user.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.DisplayName = user.DisplayName
	cur.Bio = user.Bio
	cur.AvatarColor = user.AvatarColor
	cur.AvatarURL = user.AvatarURL
	cur.NotificationsEnabled = user.NotificationsEnabled
	cur.UpdatedAt = user.UpdatedAt
	return nil
}

func (r *UserRepo) SetAdmin(ctx context.Context, id string, isAdmin bool) (*domain.User, error) {
	return r.mutate(id, func(u *domain.User) { u.IsAdmin = isAdmin })
}

func (r *UserRepo) SetBanned(ctx context.Context, id string, isBanned bool) (*domain.User, error) {
	return r.mutate(id, func(u *domain.User) { u.IsBanned = isBanned })
}

func (r *UserRepo) ToggleBanned(ctx context.Context, id string) (*domain.User, error) {
	return r.mutate(id, func(u *domain.User) { u.IsBanned = !u.IsBanned })
}

func (r *UserRepo) mutate(id string, fn func(u *domain.User)) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return cloneUser(u), nil
}

type CredentialRepo struct {
	s *Store
}

func (r *CredentialRepo) Create(ctx context.Context, cred *domain.Credential) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := domain.EmailKey(cred.Email)
	if _, ok := r.s.credentials[key]; ok {
		return fmt.Errorf("email %s: %w", cred.Email, repository.ErrConflict)
	}
	c := *cred
	r.s.credentials[key] = &c
	return nil
}

func (r *CredentialRepo) GetByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	c, ok := r.s.credentials[domain.EmailKey(email)]
	if !ok {
		return nil, nil
	}
	out := *c
	return &out, nil
}

func (r *CredentialRepo) Delete(ctx context.Context, email string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	delete(r.s.credentials, domain.EmailKey(email))
	return nil
}
