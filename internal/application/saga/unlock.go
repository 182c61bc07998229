// Package saga contains the multi-step processes that turn evaluation
// decisions into persisted achievements and notifications.
package saga

import (
	"context"
	"time"

	"github.com/edumastery/mastery-engine/internal/domain/achievement"
	"github.com/edumastery/mastery-engine/internal/domain/shared"
	"github.com/edumastery/mastery-engine/pkg/logger"
	"github.com/edumastery/mastery-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	GenerateID() string
}

// UnlockNotification is the payload handed to the notification collaborator
// on a first unlock.
type UnlockNotification struct {
	UserID                 string
	AchievementID          string
	AchievementName        string
	AchievementDescription string
	UnlockedAt             time.Time
}

// Notifier delivers unlock notifications. Delivery itself is out of this
// module's hands; an error only means the hand-off failed.
type Notifier interface {
	NotifyUnlocked(ctx context.Context, n UnlockNotification) error
}

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK COORDINATOR
// Locked ──(positive evaluation, row created)──► Unlocked
// There is no way back; an unlocked achievement is skipped forever.
// ══════════════════════════════════════════════════════════════════════════════

// UnlockOutcome is the result of one unlock attempt.
type UnlockOutcome string

const (
	// OutcomeUnlocked means this call created the UserAchievement row.
	OutcomeUnlocked UnlockOutcome = "unlocked"
	// OutcomeAlreadyUnlocked means a row existed or a concurrent writer won.
	OutcomeAlreadyUnlocked UnlockOutcome = "already_unlocked"
	// OutcomeNotEarned means the user does not meet the criteria yet.
	OutcomeNotEarned UnlockOutcome = "not_earned"
	// OutcomeSkipped means the definition could not be evaluated this time.
	OutcomeSkipped UnlockOutcome = "skipped"
)

// UnlockResult describes one unlock attempt.
type UnlockResult struct {
	Outcome    UnlockOutcome
	Evaluation achievement.Evaluation
	Notified   bool
}

// UnlockCoordinator applies unlock decisions exactly once per
// (user, achievement) pair.
type UnlockCoordinator struct {
	repo      achievement.Repository
	evaluator *achievement.Evaluator
	notifier  Notifier
	ids       IDGenerator
	clock     timeutil.Clock
	log       *logger.Logger
}

// NewUnlockCoordinator creates a coordinator. notifier may be nil.
func NewUnlockCoordinator(
	repo achievement.Repository,
	evaluator *achievement.Evaluator,
	notifier Notifier,
	ids IDGenerator,
	clock timeutil.Clock,
	log *logger.Logger,
) *UnlockCoordinator {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &UnlockCoordinator{
		repo:      repo,
		evaluator: evaluator,
		notifier:  notifier,
		ids:       ids,
		clock:     clock,
		log:       log.With(logger.Component("unlock_coordinator")),
	}
}

// Unlock evaluates def for the user and grants it on a positive decision.
// The only errors returned come from the achievement store.
func (c *UnlockCoordinator) Unlock(ctx context.Context, userID string, def achievement.Definition) (UnlockResult, error) {
	return c.unlock(ctx, c.evaluator, userID, def)
}

func (c *UnlockCoordinator) unlock(
	ctx context.Context,
	evaluator *achievement.Evaluator,
	userID string,
	def achievement.Definition,
) (UnlockResult, error) {
	if userID == "" {
		return UnlockResult{Outcome: OutcomeSkipped}, shared.ErrInvalidUserID
	}

	unlocked, err := c.repo.IsUnlocked(ctx, userID, def.ID)
	if err != nil {
		return UnlockResult{Outcome: OutcomeSkipped}, err
	}
	if unlocked {
		return UnlockResult{Outcome: OutcomeAlreadyUnlocked}, nil
	}

	eval := evaluator.Evaluate(ctx, userID, def)
	result := UnlockResult{Evaluation: eval}
	switch {
	case eval.Skipped():
		result.Outcome = OutcomeSkipped
		return result, nil
	case !eval.ShouldUnlock:
		result.Outcome = OutcomeNotEarned
		return result, nil
	}

	now := c.clock().UTC()
	created, err := c.repo.Grant(ctx, achievement.UserAchievement{
		ID:            c.ids.GenerateID(),
		UserID:        userID,
		AchievementID: def.ID,
		UnlockedAt:    now,
	})
	if err != nil {
		result.Outcome = OutcomeSkipped
		return result, err
	}
	if !created {
		c.log.Debug("achievement granted concurrently",
			logger.UserID(userID),
			logger.AchievementID(def.ID),
		)
		result.Outcome = OutcomeAlreadyUnlocked
		return result, nil
	}

	result.Outcome = OutcomeUnlocked
	c.log.Info("achievement unlocked",
		logger.UserID(userID),
		logger.AchievementID(def.ID),
		logger.String("name", def.Name),
		logger.Metric(eval.Metric.String()),
		logger.Float64("value", eval.CurrentValue),
	)

	result.Notified = c.notify(ctx, userID, def, now)
	return result, nil
}

// notify hands the payload to the notifier. A failure is logged and the
// unlock stands.
func (c *UnlockCoordinator) notify(ctx context.Context, userID string, def achievement.Definition, at time.Time) bool {
	if c.notifier == nil {
		return false
	}
	err := c.notifier.NotifyUnlocked(ctx, UnlockNotification{
		UserID:                 userID,
		AchievementID:          def.ID,
		AchievementName:        def.Name,
		AchievementDescription: def.Description,
		UnlockedAt:             at,
	})
	if err != nil {
		c.log.Warn("unlock notification failed",
			logger.UserID(userID),
			logger.AchievementID(def.ID),
			logger.Err(err),
		)
		return false
	}
	return true
}
