// Package jobs contains the scheduled jobs run by the worker.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edumastery/mastery-engine/internal/application/saga"
	"github.com/edumastery/mastery-engine/pkg/logger"
	"github.com/edumastery/mastery-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE ACTIVE USERS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ActiveUserSource lists users with recent activity, most recent first.
type ActiveUserSource interface {
	ActiveUsersSince(ctx context.Context, since time.Time, limit int) ([]string, error)
}

// UserRunner runs every active achievement for one user.
type UserRunner interface {
	Run(ctx context.Context, userID string) *saga.RunReport
}

// ScoreInvalidator drops cached standardized scores.
type ScoreInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// EvaluateActiveUsersJob re-evaluates achievements for every user with
// activity inside the lookback window.
type EvaluateActiveUsersJob struct {
	users  ActiveUserSource
	runner UserRunner
	scores ScoreInvalidator
	clock  timeutil.Clock
	logger *logger.Logger
	config EvaluateActiveUsersConfig

	lastStats atomic.Value // *EvaluateStats
}

// EvaluateActiveUsersConfig contains configuration for the sweep.
type EvaluateActiveUsersConfig struct {
	// Lookback is how far back activity counts.
	Lookback time.Duration

	// Concurrency is the number of users evaluated in parallel.
	Concurrency int

	// BatchLimit caps users per sweep. Zero means no cap.
	BatchLimit int
}

// DefaultEvaluateActiveUsersConfig returns sensible defaults.
func DefaultEvaluateActiveUsersConfig() EvaluateActiveUsersConfig {
	return EvaluateActiveUsersConfig{
		Lookback:    24 * time.Hour,
		Concurrency: 4,
		BatchLimit:  500,
	}
}

// EvaluateStats contains statistics from one sweep.
type EvaluateStats struct {
	StartedAt     time.Time
	CompletedAt   time.Time
	Users         int
	Failed        int
	Unlocked      int
	UsersUnlocked []string
	Invalidated   int
}

// NewEvaluateActiveUsersJob creates the job. scores may be nil.
func NewEvaluateActiveUsersJob(
	users ActiveUserSource,
	runner UserRunner,
	scores ScoreInvalidator,
	clock timeutil.Clock,
	log *logger.Logger,
	config EvaluateActiveUsersConfig,
) *EvaluateActiveUsersJob {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	if log == nil {
		log = logger.NewNop()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.Lookback <= 0 {
		config.Lookback = DefaultEvaluateActiveUsersConfig().Lookback
	}
	return &EvaluateActiveUsersJob{
		users:  users,
		runner: runner,
		scores: scores,
		clock:  clock,
		logger: log.With(logger.Component("evaluate_active_users")),
		config: config,
	}
}

// Name returns the job name.
func (j *EvaluateActiveUsersJob) Name() string {
	return "evaluate_active_users"
}

// Description returns a human-readable description.
func (j *EvaluateActiveUsersJob) Description() string {
	return fmt.Sprintf("Evaluates achievements for users active in the last %s", j.config.Lookback)
}

// Run executes one sweep. Failures for a single user are counted, not
// returned; only a failure to list users fails the job.
func (j *EvaluateActiveUsersJob) Run(ctx context.Context) error {
	now := j.clock()
	stats := &EvaluateStats{StartedAt: now}

	userIDs, err := j.users.ActiveUsersSince(ctx, now.Add(-j.config.Lookback), j.config.BatchLimit)
	if err != nil {
		return fmt.Errorf("list active users: %w", err)
	}
	stats.Users = len(userIDs)

	var (
		mu       sync.Mutex
		unlocked int
		failed   int
		winners  []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)
	for _, userID := range userIDs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			report := j.runner.Run(gctx, userID)

			mu.Lock()
			defer mu.Unlock()
			if report.Err != nil {
				failed++
				return nil
			}
			if n := len(report.Unlocked); n > 0 {
				unlocked += n
				winners = append(winners, userID)
			}
			return nil
		})
	}
	_ = g.Wait()

	// The standardized score depends on answers, not unlocks: every user
	// with recent activity may hold a stale cached score.
	if j.scores != nil {
		for _, userID := range userIDs {
			if err := j.scores.Invalidate(ctx, userID); err != nil {
				j.logger.Warn("failed to invalidate cached score", logger.UserID(userID), logger.Err(err))
				continue
			}
			stats.Invalidated++
		}
	}

	stats.Unlocked = unlocked
	stats.Failed = failed
	stats.UsersUnlocked = winners
	stats.CompletedAt = j.clock()
	j.lastStats.Store(stats)

	j.logger.Info("sweep completed",
		logger.Int("users", stats.Users),
		logger.Int("unlocked", stats.Unlocked),
		logger.Int("failed", stats.Failed),
		logger.Int("invalidated", stats.Invalidated),
		logger.Latency(stats.CompletedAt.Sub(stats.StartedAt)),
	)
	return ctx.Err()
}

// LastStats returns statistics from the most recent sweep, or nil.
func (j *EvaluateActiveUsersJob) LastStats() *EvaluateStats {
	if v := j.lastStats.Load(); v != nil {
		return v.(*EvaluateStats)
	}
	return nil
}
