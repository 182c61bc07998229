package saga

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edumastery/mastery-engine/internal/domain/achievement"
	"github.com/edumastery/mastery-engine/internal/domain/shared"
	"github.com/edumastery/mastery-engine/pkg/logger"
	"github.com/edumastery/mastery-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT FLOW SAGA
// Flow: Load Definitions → Load Unlocked → Evaluate & Grant each → Publish Summary
//
// A run never fails as a whole. Definitions that cannot be evaluated are
// reported as skipped and count as not unlocked.
// ══════════════════════════════════════════════════════════════════════════════

// AchievementFlowStep represents a step in the achievement flow.
type AchievementFlowStep string

const (
	StepLoadDefinitions AchievementFlowStep = "load_definitions"
	StepLoadUnlocked    AchievementFlowStep = "load_unlocked"
	StepEvaluate        AchievementFlowStep = "evaluate"
	StepPublishSummary  AchievementFlowStep = "publish_summary"
	StepComplete        AchievementFlowStep = "complete"
)

// DefinitionOutcome is the per-definition line of a run report.
type DefinitionOutcome struct {
	AchievementID string
	Name          string
	Outcome       UnlockOutcome
	Evaluation    achievement.Evaluation
	Err           error
}

// RunReport summarizes one evaluation run for a user.
type RunReport struct {
	UserID string

	// Unlocked holds names of achievements unlocked by this run, in
	// definition order.
	Unlocked []string

	Outcomes []DefinitionOutcome

	// FailedStep and Err are set when the run stopped early.
	FailedStep AchievementFlowStep
	Err        error

	StartedAt   time.Time
	CompletedAt time.Time
}

// Count returns how many definitions ended with outcome.
func (r *RunReport) Count(outcome UnlockOutcome) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Outcome == outcome {
			n++
		}
	}
	return n
}

// AchievementFlowConfig contains configuration for the achievement flow saga.
type AchievementFlowConfig struct {
	// Parallel evaluates definitions concurrently. Results are the same as
	// a sequential run.
	Parallel bool

	// Concurrency bounds parallel evaluation.
	Concurrency int

	// PublishSummary publishes an EvaluationCompletedEvent after each run.
	PublishSummary bool
}

// DefaultAchievementFlowConfig returns default configuration.
func DefaultAchievementFlowConfig() AchievementFlowConfig {
	return AchievementFlowConfig{
		Parallel:       false,
		Concurrency:    4,
		PublishSummary: true,
	}
}

// AchievementFlowSaga runs every active definition for a user through the
// unlock coordinator.
type AchievementFlowSaga struct {
	repo        achievement.Repository
	coordinator *UnlockCoordinator
	evaluator   *achievement.Evaluator
	metrics     achievement.MetricSource
	eventBus    shared.EventPublisher
	idGenerator IDGenerator
	clock       timeutil.Clock
	log         *logger.Logger
	config      AchievementFlowConfig
}

// NewAchievementFlowSaga creates the saga. eventBus may be nil.
func NewAchievementFlowSaga(
	repo achievement.Repository,
	coordinator *UnlockCoordinator,
	evaluator *achievement.Evaluator,
	metrics achievement.MetricSource,
	eventBus shared.EventPublisher,
	idGenerator IDGenerator,
	clock timeutil.Clock,
	log *logger.Logger,
	config AchievementFlowConfig,
) *AchievementFlowSaga {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	if log == nil {
		log = logger.NewNop()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &AchievementFlowSaga{
		repo:        repo,
		coordinator: coordinator,
		evaluator:   evaluator,
		metrics:     metrics,
		eventBus:    eventBus,
		idGenerator: idGenerator,
		clock:       clock,
		log:         log.With(logger.Component("achievement_flow")),
		config:      config,
	}
}

// RunAll returns the names of achievements unlocked by this pass. It never
// returns nil.
func (s *AchievementFlowSaga) RunAll(ctx context.Context, userID string) []string {
	return s.Run(ctx, userID).Unlocked
}

// Run evaluates every active definition for the user and reports the
// outcome of each.
func (s *AchievementFlowSaga) Run(ctx context.Context, userID string) *RunReport {
	report := &RunReport{
		UserID:    userID,
		Unlocked:  []string{},
		StartedAt: s.clock().UTC(),
	}
	log := s.log.With(logger.UserID(userID))

	if userID == "" {
		return s.fail(report, StepLoadDefinitions, shared.ErrInvalidUserID, log)
	}

	// Step 1: Load definitions
	defs, err := s.repo.ActiveDefinitions(ctx)
	if err != nil {
		return s.fail(report, StepLoadDefinitions, err, log)
	}

	// Step 2: Load unlocked achievements. The coordinator re-checks each
	// one before writing, so a failure here only costs extra reads.
	unlocked, err := s.repo.UnlockedIDs(ctx, userID)
	if err != nil {
		log.Warn("failed to preload unlocked achievements", logger.Err(err))
		unlocked = map[string]struct{}{}
	}

	// Step 3: Evaluate
	report.Outcomes = s.evaluateAll(ctx, userID, defs, unlocked)
	for _, o := range report.Outcomes {
		if o.Outcome == OutcomeUnlocked {
			report.Unlocked = append(report.Unlocked, o.Name)
		}
	}

	// Step 4: Publish summary
	s.publishSummary(report, log)

	report.CompletedAt = s.clock().UTC()
	log.Info("achievement run completed",
		logger.Int("definitions", len(defs)),
		logger.Int("unlocked", len(report.Unlocked)),
		logger.Int("skipped", report.Count(OutcomeSkipped)),
		logger.Latency(report.CompletedAt.Sub(report.StartedAt)),
	)
	return report
}

func (s *AchievementFlowSaga) fail(report *RunReport, step AchievementFlowStep, err error, log *logger.Logger) *RunReport {
	report.FailedStep = step
	report.Err = err
	report.CompletedAt = s.clock().UTC()
	log.Error("achievement run aborted", logger.String("step", string(step)), logger.Err(err))
	return report
}

// evaluateAll runs each definition once. Metric values are shared across
// definitions of the same run.
func (s *AchievementFlowSaga) evaluateAll(
	ctx context.Context,
	userID string,
	defs []achievement.Definition,
	unlocked map[string]struct{},
) []DefinitionOutcome {
	evaluator := s.evaluator.WithMetrics(achievement.NewMemoizedMetrics(s.metrics))
	outcomes := make([]DefinitionOutcome, len(defs))

	one := func(i int) {
		def := defs[i]
		out := DefinitionOutcome{AchievementID: def.ID, Name: def.Name}
		if _, ok := unlocked[def.ID]; ok {
			out.Outcome = OutcomeAlreadyUnlocked
			outcomes[i] = out
			return
		}
		if err := ctx.Err(); err != nil {
			out.Outcome = OutcomeSkipped
			out.Err = err
			outcomes[i] = out
			return
		}

		res, err := s.coordinator.unlock(ctx, evaluator, userID, def)
		out.Outcome = res.Outcome
		out.Evaluation = res.Evaluation
		out.Err = err
		if err != nil {
			s.log.Error("achievement unlock failed",
				logger.UserID(userID),
				logger.AchievementID(def.ID),
				logger.Err(err),
			)
		}
		outcomes[i] = out
	}

	if !s.config.Parallel || len(defs) < 2 {
		for i := range defs {
			one(i)
		}
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)
	for i := range defs {
		g.Go(func() error {
			one(i)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *AchievementFlowSaga) publishSummary(report *RunReport, log *logger.Logger) {
	if s.eventBus == nil || !s.config.PublishSummary {
		return
	}
	event := &shared.EvaluationCompletedEvent{
		BaseEvent: shared.NewBaseEvent(s.idGenerator.GenerateID(), shared.EventEvaluationCompleted, report.UserID, s.clock().UTC()),
		UserID:    report.UserID,
		Evaluated: report.Count(OutcomeUnlocked) + report.Count(OutcomeNotEarned),
		Skipped:   report.Count(OutcomeSkipped),
		Unlocked:  report.Unlocked,
	}
	if err := s.eventBus.Publish(event); err != nil {
		log.Warn("failed to publish evaluation summary", logger.Err(err))
	}
}
