package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vedran77/mavis/internal/domain"
	"github.com/vedran77/mavis/internal/repository"
)

const disconnectTimeout = 5 * time.Second

// PresenceService tracks connected sessions. A user is online while at least
// one of their sessions is connected. Transitions for one user are serialized
// by a striped lock so the stored flag never flickers out of order.
type PresenceService struct {
	repo     repository.PresenceRepository
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	stripes [64]sync.Mutex

	mu       sync.Mutex
	sessions map[string]map[*Session]struct{}
}

func NewPresenceService(repo repository.PresenceRepository, logger *zap.Logger) *PresenceService {
	return &PresenceService{
		repo:     repo,
		notifier: nopNotifier{},
		logger:   logger.With(zap.String("component", "presence")),
		now:      time.Now,
		sessions: make(map[string]map[*Session]struct{}),
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *PresenceService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Session is one connected client. Disconnect is its compensating action and
// is safe to call more than once.
type Session struct {
	ID      string
	UserID  string
	TokenID string

	svc     *PresenceService
	closeFn func()
	once    sync.Once
}

func (s *PresenceService) lock(userID string) func() {
	h := fnv.New32a()
	h.Write([]byte(userID))
	m := &s.stripes[h.Sum32()%uint32(len(s.stripes))]
	m.Lock()
	return m.Unlock
}

// Connect registers a session for userID and marks the user online. The
// session is registered before the online flag is written, so a failure at
// any point still leaves a Disconnect that converges the user to offline.
// closeFn is invoked when the session is terminated server-side.
func (s *PresenceService) Connect(ctx context.Context, userID string, closeFn func()) (*Session, error) {
	return s.ConnectToken(ctx, userID, "", closeFn)
}

// ConnectToken is Connect for a session opened with the access token
// tokenID, so that logging that token out ends only this device's sessions.
func (s *PresenceService) ConnectToken(ctx context.Context, userID, tokenID string, closeFn func()) (*Session, error) {
	sess := &Session{ID: uuid.NewString(), UserID: userID, TokenID: tokenID, svc: s, closeFn: closeFn}

	unlock := s.lock(userID)
	first := s.add(sess)
	var err error
	if first {
		err = s.repo.MarkOnline(ctx, userID, s.now())
	} else {
		err = s.repo.Refresh(ctx, userID)
	}
	unlock()

	if err != nil {
		sess.Disconnect(ctx)
		return nil, fmt.Errorf("marking online: %w", err)
	}

	s.logger.Debug("session connected", zap.String("user_id", userID), zap.String("session_id", sess.ID))
	if first {
		s.notifier.NotifyUser(userID)
	}
	return sess, nil
}

// Heartbeat extends the stored online mark of the session's user.
func (sess *Session) Heartbeat(ctx context.Context) error {
	return sess.svc.repo.Refresh(ctx, sess.UserID)
}

// Disconnect removes the session. When it was the user's last one the user is
// marked offline with last seen set to now.
func (sess *Session) Disconnect(ctx context.Context) {
	sess.once.Do(func() {
		sess.svc.disconnect(ctx, sess)
	})
}

func (s *PresenceService) disconnect(ctx context.Context, sess *Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
	defer cancel()

	unlock := s.lock(sess.UserID)
	last := s.remove(sess)
	var err error
	if last {
		err = s.repo.MarkOffline(ctx, sess.UserID, s.now())
	}
	unlock()

	if err != nil {
		s.logger.Error("marking offline failed", zap.String("user_id", sess.UserID), zap.Error(err))
	}
	if last {
		s.notifier.NotifyUser(sess.UserID)
	}
}

// DisconnectUser terminates every session of userID and marks the user
// offline, whether or not any session was connected here.
func (s *PresenceService) DisconnectUser(ctx context.Context, userID string) error {
	return s.disconnectMatching(ctx, userID, func(*Session) bool { return true })
}

// DisconnectToken terminates the sessions of userID opened with tokenID.
// Sessions opened with other tokens stay connected and keep the user online.
func (s *PresenceService) DisconnectToken(ctx context.Context, userID, tokenID string) error {
	return s.disconnectMatching(ctx, userID, func(sess *Session) bool { return sess.TokenID == tokenID })
}

func (s *PresenceService) disconnectMatching(ctx context.Context, userID string, match func(*Session) bool) error {
	s.mu.Lock()
	var live []*Session
	for sess := range s.sessions[userID] {
		if match(sess) {
			live = append(live, sess)
		}
	}
	remaining := len(s.sessions[userID]) - len(live)
	s.mu.Unlock()

	for _, sess := range live {
		sess.Disconnect(ctx)
		if sess.closeFn != nil {
			sess.closeFn()
		}
	}

	// With no session here the stored flag may still be stale, e.g. written
	// by another instance or left behind by a crash.
	if len(live) == 0 && remaining == 0 {
		unlock := s.lock(userID)
		err := s.repo.MarkOffline(ctx, userID, s.now())
		unlock()
		if err != nil {
			return fmt.Errorf("marking offline: %w", err)
		}
		s.notifier.NotifyUser(userID)
	}
	return nil
}

// SessionCount returns the number of sessions userID has connected here.
func (s *PresenceService) SessionCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions[userID])
}

// Close disconnects every session, marking their users offline.
func (s *PresenceService) Close(ctx context.Context) {
	s.mu.Lock()
	var all []*Session
	for _, set := range s.sessions {
		for sess := range set {
			all = append(all, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range all {
		sess.Disconnect(ctx)
	}
}

func (s *PresenceService) Get(ctx context.Context, userID string) (*domain.Presence, error) {
	return s.repo.Get(ctx, userID)
}

// Hydrate copies stored presence onto each user.
func (s *PresenceService) Hydrate(ctx context.Context, users ...*domain.User) error {
	if len(users) == 0 {
		return nil
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		if u != nil {
			ids = append(ids, u.ID)
		}
	}
	states, err := s.repo.GetMany(ctx, ids)
	if err != nil {
		return fmt.Errorf("loading presence: %w", err)
	}
	for _, u := range users {
		if u != nil {
			u.ApplyPresence(states[u.ID])
		}
	}
	return nil
}

func (s *PresenceService) add(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sessions[sess.UserID]
	if !ok {
		set = make(map[*Session]struct{})
		s.sessions[sess.UserID] = set
	}
	set[sess] = struct{}{}
	return len(set) == 1
}

func (s *PresenceService) remove(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sessions[sess.UserID]
	if !ok {
		return false
	}
	if _, ok := set[sess]; !ok {
		return false
	}
	delete(set, sess)
	if len(set) == 0 {
		delete(s.sessions, sess.UserID)
		return true
	}
	return false
}
