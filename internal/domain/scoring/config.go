// Package scoring computes the standardized exam score (0-500) from raw
// per-question answers. All lookup tables live in an immutable Config that is
// injected at construction so alternative weightings can be substituted.
package scoring

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/edumastery/mastery-engine/internal/domain/activity"
	"github.com/edumastery/mastery-engine/internal/domain/shared"
)

// Exam kinds whose answers feed the standardized score.
const (
	ExamTypeMock  = "simulacro"
	ExamTypeIcfes = "icfes"
)

// RecencyTier applies Factor to answers completed at most MaxDays ago.
type RecencyTier struct {
	MaxDays int     `yaml:"max_days"`
	Factor  float64 `yaml:"factor"`
}

// TimeFactors maps answer time to a multiplier.
type TimeFactors struct {
	FastBelowSeconds float64 `yaml:"fast_below_seconds"`
	SlowFromSeconds  float64 `yaml:"slow_from_seconds"`
	Fast             float64 `yaml:"fast"`
	Normal           float64 `yaml:"normal"`
	Slow             float64 `yaml:"slow"`
}

// Config holds every table used by the aggregator.
type Config struct {
	DifficultyWeights       map[string]float64 `yaml:"difficulty_weights"`
	DefaultDifficultyWeight float64            `yaml:"default_difficulty_weight"`
	CompetencyWeights       map[string]float64 `yaml:"competency_weights"`
	DefaultCompetencyWeight float64            `yaml:"default_competency_weight"`
	Time                    TimeFactors        `yaml:"time_factors"`
	RecencyTiers            []RecencyTier      `yaml:"recency_tiers"`
	RecencyFloor            float64            `yaml:"recency_floor"`
	SummativeExamTypes      []string           `yaml:"summative_exam_types"`
	// PercentToScale converts a 0-100 percentage to the score scale.
	PercentToScale float64 `yaml:"percent_to_scale"`
	MaxScore       float64 `yaml:"max_score"`
}

// DefaultConfig returns the production weighting.
func DefaultConfig() Config {
	return Config{
		DifficultyWeights: map[string]float64{
			"facil":      0.7,
			"intermedio": 1.0,
			"dificil":    1.5,
		},
		DefaultDifficultyWeight: 1.0,
		CompetencyWeights: map[string]float64{
			"matematicas":           0.25,
			"lectura_critica":       0.25,
			"ciencias_naturales":    0.20,
			"sociales_y_ciudadanas": 0.15,
			"ingles":                0.15,
		},
		DefaultCompetencyWeight: 0.20,
		Time: TimeFactors{
			FastBelowSeconds: 5,
			SlowFromSeconds:  30,
			Fast:             0.8,
			Normal:           1.0,
			Slow:             1.1,
		},
		RecencyTiers: []RecencyTier{
			{MaxDays: 30, Factor: 1.0},
			{MaxDays: 60, Factor: 0.9},
			{MaxDays: 90, Factor: 0.8},
			{MaxDays: 120, Factor: 0.7},
			{MaxDays: 180, Factor: 0.6},
			{MaxDays: 365, Factor: 0.5},
		},
		RecencyFloor:       0.3,
		SummativeExamTypes: []string{ExamTypeMock, ExamTypeIcfes},
		PercentToScale:     5,
		MaxScore:           500,
	}
}

// LoadConfig reads a YAML weight file. Keys absent from the file keep their
// DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read scoring config: %w", err)
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Config{}, shared.WrapError("scoring", "LoadConfig", shared.ErrInvalidFormat, "invalid scoring config", err)
	}

	if override.DifficultyWeights != nil {
		cfg.DifficultyWeights = override.DifficultyWeights
	}
	if override.DefaultDifficultyWeight > 0 {
		cfg.DefaultDifficultyWeight = override.DefaultDifficultyWeight
	}
	if override.CompetencyWeights != nil {
		cfg.CompetencyWeights = override.CompetencyWeights
	}
	if override.DefaultCompetencyWeight > 0 {
		cfg.DefaultCompetencyWeight = override.DefaultCompetencyWeight
	}
	if override.Time != (TimeFactors{}) {
		cfg.Time = override.Time
	}
	if len(override.RecencyTiers) > 0 {
		cfg.RecencyTiers = override.RecencyTiers
	}
	if override.RecencyFloor > 0 {
		cfg.RecencyFloor = override.RecencyFloor
	}
	if len(override.SummativeExamTypes) > 0 {
		cfg.SummativeExamTypes = override.SummativeExamTypes
	}
	if override.PercentToScale > 0 {
		cfg.PercentToScale = override.PercentToScale
	}
	if override.MaxScore > 0 {
		cfg.MaxScore = override.MaxScore
	}

	return cfg, cfg.Validate()
}

// Validate rejects negative weights and unsorted recency tiers.
func (c Config) Validate() error {
	for k, w := range c.DifficultyWeights {
		if w < 0 {
			return shared.WrapError("scoring", "Validate", shared.ErrNegativeValue, "difficulty weight "+k, shared.ErrInvalidWeights)
		}
	}
	for k, w := range c.CompetencyWeights {
		if w < 0 {
			return shared.WrapError("scoring", "Validate", shared.ErrNegativeValue, "competency weight "+k, shared.ErrInvalidWeights)
		}
	}
	if c.DefaultCompetencyWeight < 0 || c.DefaultDifficultyWeight < 0 || c.RecencyFloor < 0 {
		return shared.ErrInvalidWeights
	}
	if !sort.SliceIsSorted(c.RecencyTiers, func(i, j int) bool {
		return c.RecencyTiers[i].MaxDays < c.RecencyTiers[j].MaxDays
	}) {
		return shared.NewDomainError("scoring", "Validate", shared.ErrInvalidInput, "recency tiers must be sorted by max_days")
	}
	if c.MaxScore <= 0 {
		return shared.NewDomainError("scoring", "Validate", shared.ErrValueOutOfRange, "max_score must be positive")
	}
	return nil
}

// clone returns a deep copy with normalized keys.
func (c Config) clone() Config {
	out := c
	out.DifficultyWeights = normalizeTable(c.DifficultyWeights)
	out.CompetencyWeights = normalizeTable(c.CompetencyWeights)
	out.RecencyTiers = append([]RecencyTier(nil), c.RecencyTiers...)
	out.SummativeExamTypes = make([]string, 0, len(c.SummativeExamTypes))
	for _, t := range c.SummativeExamTypes {
		out.SummativeExamTypes = append(out.SummativeExamTypes, activity.NormalizeKey(t))
	}
	return out
}

func normalizeTable(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[activity.NormalizeKey(k)] = v
	}
	return out
}
