package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/edumastery/mastery-engine/internal/domain/activity"
	"github.com/edumastery/mastery-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESULT TYPES
// ══════════════════════════════════════════════════════════════════════════════

// CompetencyScore is the per-competency breakdown of a standardized score.
type CompetencyScore struct {
	Competency  string
	Obtained    float64
	MaxPossible float64
	Percentage  float64
	Weight      float64
	Answers     int
}

// Result is the outcome of one aggregation.
type Result struct {
	// Score is the final integer score in [0, MaxScore].
	Score int

	// WeightedPercentage is the weighted mean of competency percentages.
	WeightedPercentage float64

	// Competencies is sorted by competency key.
	Competencies []CompetencyScore

	// AnswerCount counts the answers that entered the computation.
	AnswerCount int
}

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATOR
// ══════════════════════════════════════════════════════════════════════════════

// Aggregator computes standardized scores with a fixed Config.
type Aggregator struct {
	cfg       Config
	summative map[string]struct{}
}

// NewAggregator creates an aggregator. The config is copied; later changes
// by the caller have no effect.
func NewAggregator(cfg Config) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := cfg.clone()

	summative := make(map[string]struct{}, len(c.SummativeExamTypes))
	for _, t := range c.SummativeExamTypes {
		summative[t] = struct{}{}
	}

	return &Aggregator{cfg: c, summative: summative}, nil
}

// MustNewAggregator is NewAggregator for known-good configs.
func MustNewAggregator(cfg Config) *Aggregator {
	a, err := NewAggregator(cfg)
	if err != nil {
		panic(err)
	}
	return a
}

// SummativeExamTypes returns the exam kinds that feed the score.
func (a *Aggregator) SummativeExamTypes() []string {
	return append([]string(nil), a.cfg.SummativeExamTypes...)
}

// IsSummative reports whether examType feeds the score.
func (a *Aggregator) IsSummative(examType string) bool {
	_, ok := a.summative[activity.NormalizeKey(examType)]
	return ok
}

// DifficultyWeight returns the weight of a difficulty level.
func (a *Aggregator) DifficultyWeight(difficulty string) float64 {
	if w, ok := a.cfg.DifficultyWeights[activity.NormalizeKey(difficulty)]; ok {
		return w
	}
	return a.cfg.DefaultDifficultyWeight
}

// CompetencyWeight returns the weight of a competency.
func (a *Aggregator) CompetencyWeight(competency string) float64 {
	if w, ok := a.cfg.CompetencyWeights[activity.NormalizeKey(competency)]; ok {
		return w
	}
	return a.cfg.DefaultCompetencyWeight
}

// TimeFactor maps seconds spent answering to a multiplier. Nil is neutral.
func (a *Aggregator) TimeFactor(seconds *float64) float64 {
	if seconds == nil {
		return a.cfg.Time.Normal
	}
	switch s := *seconds; {
	case s < a.cfg.Time.FastBelowSeconds:
		return a.cfg.Time.Fast
	case s < a.cfg.Time.SlowFromSeconds:
		return a.cfg.Time.Normal
	default:
		return a.cfg.Time.Slow
	}
}

// RecencyFactor applies the tiered decay to an answer completed at
// completedAt. A missing completion date is neutral.
func (a *Aggregator) RecencyFactor(completedAt *time.Time, now time.Time) float64 {
	if completedAt == nil {
		return 1.0
	}
	days := timeutil.WholeDaysSince(*completedAt, now)
	for _, tier := range a.cfg.RecencyTiers {
		if days <= tier.MaxDays {
			return tier.Factor
		}
	}
	return a.cfg.RecencyFloor
}

// Weigh returns the contribution of one answer and the ceiling it could
// have contributed.
func (a *Aggregator) Weigh(ans activity.QuestionAnswer, now time.Time) (score, maxScore float64) {
	maxScore = a.DifficultyWeight(ans.Difficulty) * a.TimeFactor(ans.TimeSpentSeconds) * a.RecencyFactor(ans.CompletedAt, now)
	if ans.IsCorrect {
		score = maxScore
	}
	return score, maxScore
}

// Compute aggregates answers into a standardized score. Answers whose exam
// type is not summative are ignored. Zero qualifying answers yield a zero
// Result with AnswerCount 0, so callers can fall back to another estimate.
func (a *Aggregator) Compute(answers []activity.QuestionAnswer, now time.Time) Result {
	type acc struct {
		obtained, max float64
		answers       int
	}
	perCompetency := make(map[string]*acc)
	counted := 0

	for _, ans := range answers {
		if ans.ExamType != "" && !a.IsSummative(ans.ExamType) {
			continue
		}
		key := activity.NormalizeKey(ans.Competency)
		c, ok := perCompetency[key]
		if !ok {
			c = &acc{}
			perCompetency[key] = c
		}
		score, maxScore := a.Weigh(ans, now)
		c.obtained += score
		c.max += maxScore
		c.answers++
		counted++
	}

	if counted == 0 {
		return Result{}
	}

	keys := make([]string, 0, len(perCompetency))
	for k := range perCompetency {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := Result{AnswerCount: counted, Competencies: make([]CompetencyScore, 0, len(keys))}
	var weightedSum, weightUsed float64

	for _, k := range keys {
		c := perCompetency[k]
		if c.max == 0 {
			continue
		}
		pct := 100 * c.obtained / c.max
		w := a.CompetencyWeight(k)
		result.Competencies = append(result.Competencies, CompetencyScore{
			Competency:  k,
			Obtained:    c.obtained,
			MaxPossible: c.max,
			Percentage:  pct,
			Weight:      w,
			Answers:     c.answers,
		})
		weightedSum += pct * w
		weightUsed += w
	}

	if weightUsed > 0 {
		result.WeightedPercentage = weightedSum / weightUsed
	}
	result.Score = a.ScaleFromPercentage(result.WeightedPercentage)
	return result
}

// ScaleFromPercentage converts a 0-100 percentage to the clamped integer
// score scale. The average-score fallback uses it too.
func (a *Aggregator) ScaleFromPercentage(pct float64) int {
	v := pct * a.cfg.PercentToScale
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	if v > a.cfg.MaxScore {
		v = a.cfg.MaxScore
	}
	return int(math.Round(v))
}
