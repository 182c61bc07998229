// Package engine assembles the evaluation pipeline from its stores so that
// the worker and the CLI run exactly the same code.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/edumastery/mastery-engine/internal/application/query"
	"github.com/edumastery/mastery-engine/internal/application/saga"
	"github.com/edumastery/mastery-engine/internal/domain/achievement"
	"github.com/edumastery/mastery-engine/internal/domain/activity"
	"github.com/edumastery/mastery-engine/internal/domain/scoring"
	"github.com/edumastery/mastery-engine/internal/domain/shared"
	"github.com/edumastery/mastery-engine/pkg/logger"
	"github.com/edumastery/mastery-engine/pkg/timeutil"
)

// Options selects optional behaviour.
type Options struct {
	// WeightsFile is a YAML scoring weight table; empty uses the defaults.
	WeightsFile string

	Location *time.Location
	Clock    timeutil.Clock

	// ParallelEvaluation evaluates definitions of a run concurrently.
	ParallelEvaluation    bool
	DefinitionConcurrency int

	// PublishSummary publishes evaluation.completed after each run.
	PublishSummary bool
}

// Deps are the ports the engine reads and writes through. Notifier,
// Publisher and ScoreCache may be nil.
type Deps struct {
	Activity     activity.Reader
	Achievements achievement.Repository
	Notifier     saga.Notifier
	Publisher    shared.EventPublisher
	ScoreCache   query.ScoreCache
	IDs          saga.IDGenerator
	Logger       *logger.Logger
}

// Engine holds the wired pipeline.
type Engine struct {
	Metrics     *achievement.MetricEvaluator
	Evaluator   *achievement.Evaluator
	Coordinator *saga.UnlockCoordinator
	Flow        *saga.AchievementFlowSaga
	Scores      *query.GetStandardizedScoreHandler

	normalizer   *achievement.Normalizer
	achievements achievement.Repository
	log          *logger.Logger
}

// New wires an Engine.
func New(opts Options, deps Deps) (*Engine, error) {
	if deps.Activity == nil || deps.Achievements == nil {
		return nil, shared.NewDomainError("engine", "New", shared.ErrInvalidInput, "activity reader and achievement repository are required")
	}
	if deps.IDs == nil {
		return nil, shared.NewDomainError("engine", "New", shared.ErrInvalidInput, "id generator is required")
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}

	weights, err := scoring.LoadConfig(opts.WeightsFile)
	if err != nil {
		return nil, fmt.Errorf("load scoring weights: %w", err)
	}
	aggregator, err := scoring.NewAggregator(weights)
	if err != nil {
		return nil, fmt.Errorf("scoring weights: %w", err)
	}

	normalizer := achievement.NewDefaultNormalizer()
	metrics := achievement.NewMetricEvaluator(deps.Activity, aggregator, opts.Location, opts.Clock, log)
	evaluator := achievement.NewEvaluator(normalizer, metrics, log)
	coordinator := saga.NewUnlockCoordinator(deps.Achievements, evaluator, deps.Notifier, deps.IDs, opts.Clock, log)

	flowCfg := saga.DefaultAchievementFlowConfig()
	flowCfg.Parallel = opts.ParallelEvaluation
	if opts.DefinitionConcurrency > 0 {
		flowCfg.Concurrency = opts.DefinitionConcurrency
	}
	flowCfg.PublishSummary = opts.PublishSummary

	flow := saga.NewAchievementFlowSaga(deps.Achievements, coordinator, evaluator, metrics,
		deps.Publisher, deps.IDs, opts.Clock, log, flowCfg)

	return &Engine{
		Metrics:      metrics,
		Evaluator:    evaluator,
		Coordinator:  coordinator,
		Flow:         flow,
		Scores:       query.NewGetStandardizedScoreHandler(metrics, deps.ScoreCache, log),
		normalizer:   normalizer,
		achievements: deps.Achievements,
		log:          log.With(logger.Component("engine")),
	}, nil
}

// CheckCatalogue logs every active definition that can never unlock and
// returns them.
func (e *Engine) CheckCatalogue(ctx context.Context) ([]achievement.CatalogueIssue, error) {
	defs, err := e.achievements.ActiveDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load definitions: %w", err)
	}
	issues := achievement.ValidateCatalogue(e.normalizer, defs)
	for _, issue := range issues {
		e.log.Warn("achievement can never unlock",
			logger.AchievementID(issue.AchievementID),
			logger.String("name", issue.Name),
			logger.String("problem", issue.Problem),
		)
	}
	return issues, nil
}
