package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumastery/mastery-engine/internal/application/saga"
	"github.com/edumastery/mastery-engine/pkg/timeutil"
)

type fakeUsers struct {
	users []string
	err   error
	since time.Time
	limit int
}

func (f *fakeUsers) ActiveUsersSince(_ context.Context, since time.Time, limit int) ([]string, error) {
	f.since, f.limit = since, limit
	return f.users, f.err
}

type fakeRunner struct {
	mu       sync.Mutex
	unlocks  map[string][]string
	failures map[string]error
	seen     []string
}

func (f *fakeRunner) Run(_ context.Context, userID string) *saga.RunReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, userID)
	r := &saga.RunReport{UserID: userID, Unlocked: []string{}}
	if err := f.failures[userID]; err != nil {
		r.Err = err
		return r
	}
	r.Unlocked = append(r.Unlocked, f.unlocks[userID]...)
	return r
}

type fakeInvalidator struct {
	mu    sync.Mutex
	users []string
	err   error
}

func (f *fakeInvalidator) Invalidate(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	return f.err
}

func TestEvaluateActiveUsersJob_Run(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	users := &fakeUsers{users: []string{"u1", "u2", "u3"}}
	runner := &fakeRunner{
		unlocks:  map[string][]string{"u1": {"Primera lección", "Racha"}, "u3": {"Constante"}},
		failures: map[string]error{"u2": errors.New("definitions unavailable")},
	}
	scores := &fakeInvalidator{}

	job := NewEvaluateActiveUsersJob(users, runner, scores, timeutil.Fixed(now), nil,
		EvaluateActiveUsersConfig{Lookback: 6 * time.Hour, Concurrency: 2, BatchLimit: 50})

	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, now.Add(-6*time.Hour), users.since)
	assert.Equal(t, 50, users.limit)
	assert.ElementsMatch(t, []string{"u1", "u2", "u3"}, runner.seen)
	assert.ElementsMatch(t, []string{"u1", "u2", "u3"}, scores.users)

	stats := job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.Users)
	assert.Equal(t, 3, stats.Unlocked)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 3, stats.Invalidated)
}

func TestEvaluateActiveUsersJob_InvalidatesUsersWithoutUnlocks(t *testing.T) {
	users := &fakeUsers{users: []string{"answered-new-exam", "unlocked-something"}}
	runner := &fakeRunner{unlocks: map[string][]string{"unlocked-something": {"Primera lección"}}}
	scores := &fakeInvalidator{}

	job := NewEvaluateActiveUsersJob(users, runner, scores, nil, nil, DefaultEvaluateActiveUsersConfig())

	require.NoError(t, job.Run(context.Background()))
	assert.ElementsMatch(t, []string{"answered-new-exam", "unlocked-something"}, scores.users)
	assert.Equal(t, []string{"unlocked-something"}, job.LastStats().UsersUnlocked)
}

func TestEvaluateActiveUsersJob_ListFailureFailsJob(t *testing.T) {
	job := NewEvaluateActiveUsersJob(&fakeUsers{err: errors.New("db down")}, &fakeRunner{}, nil, nil, nil,
		DefaultEvaluateActiveUsersConfig())

	err := job.Run(context.Background())
	assert.ErrorContains(t, err, "list active users")
	assert.Nil(t, job.LastStats())
}

func TestEvaluateActiveUsersJob_InvalidateFailureIsNotFatal(t *testing.T) {
	runner := &fakeRunner{unlocks: map[string][]string{"u1": {"Primera lección"}}}
	scores := &fakeInvalidator{err: errors.New("redis down")}

	job := NewEvaluateActiveUsersJob(&fakeUsers{users: []string{"u1"}}, runner, scores, nil, nil,
		DefaultEvaluateActiveUsersConfig())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []string{"u1"}, scores.users)
	assert.Equal(t, 0, job.LastStats().Invalidated)
}

func TestEvaluateActiveUsersJob_NoUsers(t *testing.T) {
	runner := &fakeRunner{}
	job := NewEvaluateActiveUsersJob(&fakeUsers{}, runner, nil, nil, nil, EvaluateActiveUsersConfig{})

	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, runner.seen)
	assert.Equal(t, 0, job.LastStats().Users)
	assert.Equal(t, "evaluate_active_users", job.Name())
	assert.Contains(t, job.Description(), "24h0m0s")
}

func TestEvaluateActiveUsersJob_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := NewEvaluateActiveUsersJob(&fakeUsers{users: []string{"u1"}}, &fakeRunner{}, nil, nil, nil,
		DefaultEvaluateActiveUsersConfig())
	assert.ErrorIs(t, job.Run(ctx), context.Canceled)
}
