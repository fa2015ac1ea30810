package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vedran77/mavis/internal/domain"
	"github.com/vedran77/mavis/internal/repository/memory"
)

func zapNop() *zap.Logger {
	return zap.NewNop()
}

func TestPresenceStaysOnlineWhileAnySessionIsLive(t *testing.T) {
	ctx := context.Background()
	svc := NewPresenceService(memory.NewPresenceRepo(), zapNop())

	first, err := svc.Connect(ctx, "u1", nil)
	require.NoError(t, err)
	second, err := svc.Connect(ctx, "u1", nil)
	require.NoError(t, err)

	p, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.IsOnline)

	first.Disconnect(ctx)
	first.Disconnect(ctx)
	p, err = svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.IsOnline, "second session still connected")

	second.Disconnect(ctx)
	p, err = svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, p.IsOnline)
	require.NotNil(t, p.LastSeen)
	assert.Zero(t, svc.SessionCount("u1"))
}

func TestPresenceDisconnectSurvivesCanceledContext(t *testing.T) {
	svc := NewPresenceService(memory.NewPresenceRepo(), zapNop())
	ctx, cancel := context.WithCancel(context.Background())
	sess, err := svc.Connect(ctx, "u1", nil)
	require.NoError(t, err)

	cancel()
	sess.Disconnect(ctx)

	p, err := svc.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, p.IsOnline)
}

func TestPresenceClose(t *testing.T) {
	ctx := context.Background()
	svc := NewPresenceService(memory.NewPresenceRepo(), zapNop())
	_, err := svc.Connect(ctx, "u1", nil)
	require.NoError(t, err)
	_, err = svc.Connect(ctx, "u2", nil)
	require.NoError(t, err)

	svc.Close(ctx)

	states, err := svc.repo.GetMany(ctx, []string{"u1", "u2"})
	require.NoError(t, err)
	assert.False(t, states["u1"].IsOnline)
	assert.False(t, states["u2"].IsOnline)
}

type mockPresenceRepo struct {
	mock.Mock
}

func (m *mockPresenceRepo) MarkOnline(ctx context.Context, userID string, at time.Time) error {
	return m.Called(ctx, userID, at).Error(0)
}

func (m *mockPresenceRepo) MarkOffline(ctx context.Context, userID string, at time.Time) error {
	return m.Called(ctx, userID, at).Error(0)
}

func (m *mockPresenceRepo) Refresh(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *mockPresenceRepo) Get(ctx context.Context, userID string) (*domain.Presence, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(*domain.Presence), args.Error(1)
}

func (m *mockPresenceRepo) GetMany(ctx context.Context, userIDs []string) (map[string]*domain.Presence, error) {
	args := m.Called(ctx, userIDs)
	return args.Get(0).(map[string]*domain.Presence), args.Error(1)
}

func TestPresenceFailedConnectRunsCompensation(t *testing.T) {
	repo := new(mockPresenceRepo)
	repo.On("MarkOnline", mock.Anything, "u1", mock.Anything).Return(errors.New("store down"))
	repo.On("MarkOffline", mock.Anything, "u1", mock.Anything).Return(nil)

	svc := NewPresenceService(repo, zapNop())
	sess, err := svc.Connect(context.Background(), "u1", nil)
	require.Error(t, err)
	assert.Nil(t, sess)
	assert.Zero(t, svc.SessionCount("u1"))
	repo.AssertCalled(t, "MarkOffline", mock.Anything, "u1", mock.Anything)
}

func TestPresenceHeartbeatRefreshes(t *testing.T) {
	repo := new(mockPresenceRepo)
	repo.On("MarkOnline", mock.Anything, "u1", mock.Anything).Return(nil)
	repo.On("Refresh", mock.Anything, "u1").Return(nil)
	repo.On("MarkOffline", mock.Anything, "u1", mock.Anything).Return(nil)

	svc := NewPresenceService(repo, zapNop())
	ctx := context.Background()
	sess, err := svc.Connect(ctx, "u1", nil)
	require.NoError(t, err)
	require.NoError(t, sess.Heartbeat(ctx))

	// A second session only refreshes the stored mark.
	other, err := svc.Connect(ctx, "u1", nil)
	require.NoError(t, err)
	repo.AssertNumberOfCalls(t, "MarkOnline", 1)
	repo.AssertNumberOfCalls(t, "Refresh", 2)

	sess.Disconnect(ctx)
	repo.AssertNotCalled(t, "MarkOffline", mock.Anything, "u1", mock.Anything)
	other.Disconnect(ctx)
	repo.AssertNumberOfCalls(t, "MarkOffline", 1)
}
