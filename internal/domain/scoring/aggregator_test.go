package scoring

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumastery/mastery-engine/internal/domain/activity"
	"github.com/edumastery/mastery-engine/internal/domain/shared"
)

var now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func secs(v float64) *float64 { return &v }

func daysAgo(d int) *time.Time {
	t := now.Add(-time.Duration(d) * 24 * time.Hour)
	return &t
}

func answer(correct bool, difficulty, competency string, seconds *float64, completed *time.Time) activity.QuestionAnswer {
	return activity.QuestionAnswer{
		IsCorrect:        correct,
		Difficulty:       difficulty,
		TimeSpentSeconds: seconds,
		CompletedAt:      completed,
		Competency:       competency,
		ExamType:         ExamTypeMock,
	}
}

func TestAggregator_SingleHardAnswer(t *testing.T) {
	agg := MustNewAggregator(DefaultConfig())

	ans := answer(true, "dificil", "matematicas", secs(45), daysAgo(10))
	score, maxScore := agg.Weigh(ans, now)
	assert.InDelta(t, 1.65, score, 1e-9)
	assert.InDelta(t, 1.65, maxScore, 1e-9)

	res := agg.Compute([]activity.QuestionAnswer{ans}, now)
	require.Len(t, res.Competencies, 1)
	assert.Equal(t, "matematicas", res.Competencies[0].Competency)
	assert.InDelta(t, 100.0, res.Competencies[0].Percentage, 1e-9)
	assert.InDelta(t, 0.25, res.Competencies[0].Weight, 1e-9)
	assert.InDelta(t, 100.0, res.WeightedPercentage, 1e-9)
	assert.Equal(t, 500, res.Score)
	assert.Equal(t, 1, res.AnswerCount)
}

func TestAggregator_EmptyInput(t *testing.T) {
	agg := MustNewAggregator(DefaultConfig())

	res := agg.Compute(nil, now)
	assert.Equal(t, 0, res.Score)
	assert.Equal(t, 0, res.AnswerCount)
	assert.Empty(t, res.Competencies)
}

func TestAggregator_IgnoresNonSummativeExams(t *testing.T) {
	agg := MustNewAggregator(DefaultConfig())

	practice := answer(true, "facil", "ingles", nil, nil)
	practice.ExamType = "practica"

	res := agg.Compute([]activity.QuestionAnswer{practice}, now)
	assert.Equal(t, 0, res.AnswerCount)
	assert.Equal(t, 0, res.Score)
}

func TestAggregator_WeightedAcrossCompetencies(t *testing.T) {
	agg := MustNewAggregator(DefaultConfig())

	answers := []activity.QuestionAnswer{
		// matematicas: 100%
		answer(true, "intermedio", "Matemáticas", secs(10), daysAgo(1)),
		// lectura_critica: 0%
		answer(false, "intermedio", "Lectura Crítica", secs(10), daysAgo(1)),
	}

	res := agg.Compute(answers, now)
	require.Len(t, res.Competencies, 2)
	assert.Equal(t, "lectura_critica", res.Competencies[0].Competency)
	assert.Equal(t, "matematicas", res.Competencies[1].Competency)

	// (100*0.25 + 0*0.25) / 0.50 = 50
	assert.InDelta(t, 50.0, res.WeightedPercentage, 1e-9)
	assert.Equal(t, 250, res.Score)
}

func TestAggregator_UnknownCompetencyUsesDefaultWeight(t *testing.T) {
	agg := MustNewAggregator(DefaultConfig())
	assert.InDelta(t, 0.20, agg.CompetencyWeight("filosofia"), 1e-9)
	assert.InDelta(t, 0.25, agg.CompetencyWeight("Lectura Crítica"), 1e-9)
	assert.InDelta(t, 1.0, agg.DifficultyWeight("imposible"), 1e-9)
	assert.InDelta(t, 0.7, agg.DifficultyWeight("Fácil"), 1e-9)
}

func TestAggregator_TimeFactor(t *testing.T) {
	agg := MustNewAggregator(DefaultConfig())

	tests := []struct {
		name    string
		seconds *float64
		want    float64
	}{
		{"missing", nil, 1.0},
		{"fast", secs(4.9), 0.8},
		{"lower bound normal", secs(5), 1.0},
		{"normal", secs(29.9), 1.0},
		{"slow", secs(30), 1.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, agg.TimeFactor(tt.seconds), 1e-9)
		})
	}
}

func TestAggregator_RecencyFactor(t *testing.T) {
	agg := MustNewAggregator(DefaultConfig())

	tests := []struct {
		days int
		want float64
	}{
		{0, 1.0},
		{30, 1.0},
		{31, 0.9},
		{60, 0.9},
		{90, 0.8},
		{120, 0.7},
		{180, 0.6},
		{365, 0.5},
		{366, 0.3},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, agg.RecencyFactor(daysAgo(tt.days), now), 1e-9, "days=%d", tt.days)
	}

	assert.InDelta(t, 1.0, agg.RecencyFactor(nil, now), 1e-9)
	future := now.Add(48 * time.Hour)
	assert.InDelta(t, 1.0, agg.RecencyFactor(&future, now), 1e-9)
}

func TestAggregator_RecencyMonotonicity(t *testing.T) {
	agg := MustNewAggregator(DefaultConfig())

	for _, difficulty := range []string{"facil", "intermedio", "dificil"} {
		for _, s := range []*float64{nil, secs(2), secs(15), secs(60)} {
			recentScore, recentMax := agg.Weigh(answer(true, difficulty, "ciencias_naturales", s, daysAgo(10)), now)
			oldScore, oldMax := agg.Weigh(answer(true, difficulty, "ciencias_naturales", s, daysAgo(200)), now)
			assert.GreaterOrEqual(t, recentScore, oldScore)
			assert.GreaterOrEqual(t, recentMax, oldMax)
		}
	}
}

func TestAggregator_ScoreBounds(t *testing.T) {
	agg := MustNewAggregator(DefaultConfig())

	var answers []activity.QuestionAnswer
	competencies := []string{"matematicas", "lectura_critica", "ingles", "otra"}
	for i := 0; i < 400; i++ {
		answers = append(answers, answer(i%3 != 0, []string{"facil", "intermedio", "dificil", "x"}[i%4],
			competencies[i%len(competencies)], secs(float64(i%50)), daysAgo(i)))
		res := agg.Compute(answers, now)
		assert.GreaterOrEqual(t, res.Score, 0)
		assert.LessOrEqual(t, res.Score, 500)
	}
}

func TestAggregator_ScaleFromPercentage(t *testing.T) {
	agg := MustNewAggregator(DefaultConfig())

	assert.Equal(t, 0, agg.ScaleFromPercentage(-10))
	assert.Equal(t, 250, agg.ScaleFromPercentage(50))
	assert.Equal(t, 353, agg.ScaleFromPercentage(70.5))
	assert.Equal(t, 500, agg.ScaleFromPercentage(140))
}

func TestAggregator_ConfigIsCopied(t *testing.T) {
	cfg := DefaultConfig()
	agg := MustNewAggregator(cfg)

	cfg.CompetencyWeights["matematicas"] = 99
	assert.InDelta(t, 0.25, agg.CompetencyWeight("matematicas"), 1e-9)
}

func TestNewAggregator_RejectsNegativeWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DifficultyWeights["facil"] = -1

	_, err := NewAggregator(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrNegativeValue)
}

func TestLoadConfig(t *testing.T) {
	t.Run("empty path yields defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("overrides selected tables", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "weights.yaml")
		content := `
competency_weights:
  matematicas: 0.5
  ingles: 0.5
recency_floor: 0.1
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"matematicas": 0.5, "ingles": 0.5}, cfg.CompetencyWeights)
		assert.InDelta(t, 0.1, cfg.RecencyFloor, 1e-9)
		assert.Equal(t, DefaultConfig().DifficultyWeights, cfg.DifficultyWeights)
	})

	t.Run("unsorted tiers are rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "weights.yaml")
		content := `
recency_tiers:
  - {max_days: 60, factor: 0.9}
  - {max_days: 30, factor: 1.0}
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		_, err := LoadConfig(path)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "weights.yaml")
		require.NoError(t, os.WriteFile(path, []byte("competency_weights: [1, 2"), 0o600))

		_, err := LoadConfig(path)
		assert.True(t, shared.IsInvalidFormat(err))
	})
}
