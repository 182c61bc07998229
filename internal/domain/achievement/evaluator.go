package achievement

import (
	"context"
	"errors"

	"github.com/edumastery/mastery-engine/pkg/logger"
)

// Status classifies the outcome of evaluating one definition.
type Status string

const (
	// StatusEvaluated means the metric was computed and compared.
	StatusEvaluated Status = "evaluated"
	// StatusInvalidCriteria means the stored criteria did not normalize.
	StatusInvalidCriteria Status = "invalid_criteria"
	// StatusUnknownMetric means no evaluator implements the metric; its value
	// is 0 and it is still compared against the threshold.
	StatusUnknownMetric Status = "unknown_metric"
	// StatusReadFailed means the activity read for the metric failed.
	StatusReadFailed Status = "read_failed"
)

// Evaluation is the unlock decision for one definition. Only
// StatusEvaluated and StatusUnknownMetric can carry ShouldUnlock.
type Evaluation struct {
	AchievementID string
	Status        Status
	ShouldUnlock  bool
	Metric        MetricType
	CurrentValue  float64
	RequiredValue float64
	Err           error
}

func formatPayload(err error) string {
	var cfe *CriteriaFormatError
	if errors.As(err, &cfe) {
		return cfe.Payload
	}
	return ""
}

// Skipped reports whether the definition could not be evaluated.
func (e Evaluation) Skipped() bool {
	return e.Status != StatusEvaluated && e.Status != StatusUnknownMetric
}

// Evaluator combines a Normalizer and a MetricSource into an unlock decision.
type Evaluator struct {
	normalizer *Normalizer
	metrics    MetricSource
	log        *logger.Logger
}

// NewEvaluator creates an evaluator.
func NewEvaluator(normalizer *Normalizer, metrics MetricSource, log *logger.Logger) *Evaluator {
	if normalizer == nil {
		normalizer = NewDefaultNormalizer()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Evaluator{normalizer: normalizer, metrics: metrics, log: log}
}

// WithMetrics returns a copy that reads metric values from src.
func (e *Evaluator) WithMetrics(src MetricSource) *Evaluator {
	cp := *e
	cp.metrics = src
	return &cp
}

// Evaluate decides whether the user has earned def. It never fails; problems
// are reported through Status so a batch can continue.
func (e *Evaluator) Evaluate(ctx context.Context, userID string, def Definition) Evaluation {
	out := Evaluation{AchievementID: def.ID}

	criteria, err := e.normalizer.NormalizeRaw(def.Criteria)
	if err != nil {
		e.log.Warn("achievement criteria not recognized",
			logger.UserID(userID),
			logger.AchievementID(def.ID),
			logger.String("criteria", formatPayload(err)),
			logger.Err(err),
		)
		out.Status = StatusInvalidCriteria
		out.Err = err
		return out
	}
	out.Metric = criteria.Metric
	out.RequiredValue = criteria.Required

	if !criteria.Metric.IsKnown() {
		value, _ := e.metrics.Evaluate(ctx, userID, criteria.Metric)
		out.CurrentValue = value
		out.Status = StatusUnknownMetric
		out.ShouldUnlock = criteria.IsSatisfiedBy(value)
		return out
	}

	value, err := e.metrics.Evaluate(ctx, userID, criteria.Metric)
	if err != nil {
		e.log.Error("metric evaluation failed",
			logger.UserID(userID),
			logger.AchievementID(def.ID),
			logger.Metric(criteria.Metric.String()),
			logger.Err(err),
		)
		out.Status = StatusReadFailed
		out.Err = err
		return out
	}

	out.Status = StatusEvaluated
	out.CurrentValue = value
	out.ShouldUnlock = criteria.IsSatisfiedBy(value)
	return out
}
