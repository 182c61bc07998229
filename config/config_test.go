package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://app@localhost:5432/mastery")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mastery-engine", cfg.App.Name)
	assert.True(t, cfg.IsDevelopment())
	assert.NotNil(t, cfg.App.Location)
	assert.Equal(t, 5*time.Minute, cfg.Worker.Interval)
	assert.Equal(t, "@every 5m0s", cfg.Worker.ScheduleSpec())
	assert.Equal(t, 24*time.Hour, cfg.Worker.Lookback)
	assert.Equal(t, 10*time.Minute, cfg.Scoring.CacheTTL)
	assert.Equal(t, "mastery-engine:events", cfg.Redis.EventChannel)
	assert.True(t, cfg.Features.IsEnabled(FeatureScoreCache))
	assert.False(t, cfg.Features.IsEnabled(FeatureParallelEvaluation))
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://app@localhost:5432/mastery")
	t.Setenv("APP_TIMEZONE", "UTC")
	t.Setenv("WORKER_SCHEDULE", "*/10 * * * *")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("WORKER_LOOKBACK", "2h")
	t.Setenv("SCORING_WEIGHTS_FILE", "/etc/mastery/weights.yaml")
	t.Setenv("FEATURE_PARALLEL_EVALUATION", "true")
	t.Setenv("FEATURE_NOTIFICATIONS", "false")
	t.Setenv("FEATURE_SCORE_CACHE", "maybe")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.Equal(t, "*/10 * * * *", cfg.Worker.ScheduleSpec())
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 2*time.Hour, cfg.Worker.Lookback)
	assert.Equal(t, "/etc/mastery/weights.yaml", cfg.Scoring.WeightsFile)
	assert.Equal(t, []string{FeatureParallelEvaluation, FeatureScoreCache}, cfg.Features.Enabled())
}

func TestLoad_BuildsDatabaseURLFromParts(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "mastery")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://app:secret@db:5432/mastery?sslmode=require", cfg.Database.URL)
}

func TestLoad_ValidationErrors(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("APP_TIMEZONE", "Mars/Olympus")
	t.Setenv("WORKER_CONCURRENCY", "0")
	t.Setenv("LOG_FORMAT", "xml")

	_, err := Load()
	require.Error(t, err)
	for _, want := range []string{"DATABASE_URL", "APP_TIMEZONE", "WORKER_CONCURRENCY", "LOG_FORMAT"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadLocal_NoDatabaseRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")

	cfg, err := LoadLocal()
	require.NoError(t, err)
	assert.True(t, cfg.Redis.Disabled)
}

func TestFeatureFlags_Set(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.Set(FeatureRunSummary, true))
	assert.True(t, ff.IsEnabled(FeatureRunSummary))
	assert.ErrorIs(t, ff.Set("unknown", true), ErrFeatureNotFound)
	assert.False(t, ff.IsEnabled("unknown"))

	var nilFlags *FeatureFlags
	assert.False(t, nilFlags.IsEnabled(FeatureScoreCache))
}
