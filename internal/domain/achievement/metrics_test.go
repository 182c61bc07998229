package achievement

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumastery/mastery-engine/internal/domain/activity"
	"github.com/edumastery/mastery-engine/internal/domain/scoring"
	"github.com/edumastery/mastery-engine/internal/domain/shared"
	"github.com/edumastery/mastery-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKE READER
// ══════════════════════════════════════════════════════════════════════════════

type fakeReader struct {
	progress     []activity.LessonProgress
	exams        []activity.ExamResult
	answers      []activity.QuestionAnswer
	enrollments  []activity.Enrollment
	lessons      map[string][]string
	competencies []activity.Competency
	err          error
	calls        atomic.Int32
}

func (f *fakeReader) LessonProgress(context.Context, string) ([]activity.LessonProgress, error) {
	f.calls.Add(1)
	return f.progress, f.err
}

func (f *fakeReader) ExamResults(context.Context, string) ([]activity.ExamResult, error) {
	f.calls.Add(1)
	return f.exams, f.err
}

func (f *fakeReader) QuestionAnswers(context.Context, string, []string) ([]activity.QuestionAnswer, error) {
	f.calls.Add(1)
	return f.answers, f.err
}

func (f *fakeReader) Enrollments(context.Context, string) ([]activity.Enrollment, error) {
	f.calls.Add(1)
	return f.enrollments, f.err
}

func (f *fakeReader) CourseLessons(_ context.Context, courseID string) ([]string, error) {
	f.calls.Add(1)
	return f.lessons[courseID], f.err
}

func (f *fakeReader) Competencies(context.Context) ([]activity.Competency, error) {
	f.calls.Add(1)
	return f.competencies, f.err
}

func (f *fakeReader) ActiveUsersSince(context.Context, time.Time, int) ([]string, error) {
	return nil, f.err
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

var testNow = time.Date(2024, 6, 15, 15, 0, 0, 0, timeutil.DefaultLocation)

func newTestEvaluator(r activity.Reader) *MetricEvaluator {
	return NewMetricEvaluator(r, scoring.MustNewAggregator(scoring.DefaultConfig()),
		timeutil.DefaultLocation, timeutil.Fixed(testNow), nil)
}

func at(hoursAgo int) *time.Time {
	t := testNow.Add(-time.Duration(hoursAgo) * time.Hour)
	return &t
}

// examsNewestFirst builds completed results one hour apart, newest first.
func examsNewestFirst(scores ...float64) []activity.ExamResult {
	out := make([]activity.ExamResult, len(scores))
	for i, s := range scores {
		out[i] = activity.ExamResult{ID: string(rune('a' + i)), Score: s, CompletedAt: at(i + 1)}
	}
	return out
}

func eval(t *testing.T, e *MetricEvaluator, m MetricType) float64 {
	t.Helper()
	v, err := e.Evaluate(context.Background(), "user-1", m)
	require.NoError(t, err)
	return v
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestMetricEvaluator_EmptyActivityIsZero(t *testing.T) {
	e := newTestEvaluator(&fakeReader{})
	for _, m := range KnownMetrics() {
		assert.Zero(t, eval(t, e, m), m.String())
	}
}

func TestMetricEvaluator_LessonMetrics(t *testing.T) {
	r := &fakeReader{progress: []activity.LessonProgress{
		{LessonID: "l1", Status: "completed", TimeSpentMinutes: 30, UpdatedAt: testNow.Add(-time.Hour)},
		{LessonID: "l2", Status: "in_progress", Percentage: 100, TimeSpentMinutes: 20, UpdatedAt: testNow.Add(-26 * time.Hour)},
		{LessonID: "l3", Status: "in_progress", Percentage: 40, TimeSpentMinutes: 15, UpdatedAt: testNow.Add(-2 * time.Hour)},
		{LessonID: "l4", Status: "Finalizado", TimeSpentMinutes: 10, UpdatedAt: testNow.Add(-72 * time.Hour)},
	}}
	e := newTestEvaluator(r)

	assert.Equal(t, 3.0, eval(t, e, MetricLessonsCompleted))
	assert.Equal(t, 75.0, eval(t, e, MetricStudyTimeMinutes))
	assert.Equal(t, 45.0, eval(t, e, MetricDailyStudyTime))
	// today and yesterday; the day before has no activity
	assert.Equal(t, 2.0, eval(t, e, MetricStudyStreakDays))
}

func TestMetricEvaluator_DailyStudyTimeUsesLocalMidnight(t *testing.T) {
	midnight := timeutil.StartOfDay(testNow, timeutil.DefaultLocation)
	r := &fakeReader{progress: []activity.LessonProgress{
		{TimeSpentMinutes: 5, UpdatedAt: midnight},
		{TimeSpentMinutes: 7, UpdatedAt: midnight.Add(-time.Second)},
		// 03:00 UTC on the same date is still the previous local day
		{TimeSpentMinutes: 11, UpdatedAt: time.Date(2024, 6, 15, 3, 0, 0, 0, time.UTC)},
	}}

	assert.Equal(t, 5.0, eval(t, newTestEvaluator(r), MetricDailyStudyTime))
}

func TestMetricEvaluator_StudyStreakDays(t *testing.T) {
	day := func(d int) activity.LessonProgress {
		return activity.LessonProgress{UpdatedAt: testNow.AddDate(0, 0, -d)}
	}

	t.Run("no activity today", func(t *testing.T) {
		r := &fakeReader{progress: []activity.LessonProgress{day(1), day(2)}}
		assert.Zero(t, eval(t, newTestEvaluator(r), MetricStudyStreakDays))
	})

	t.Run("capped at window", func(t *testing.T) {
		var rows []activity.LessonProgress
		for d := 0; d < 45; d++ {
			rows = append(rows, day(d))
		}
		r := &fakeReader{progress: rows}
		assert.Equal(t, float64(StreakWindow), eval(t, newTestEvaluator(r), MetricStudyStreakDays))
	})

	t.Run("gap stops the streak", func(t *testing.T) {
		r := &fakeReader{progress: []activity.LessonProgress{day(0), day(0), day(1), day(2), day(4)}}
		assert.Equal(t, 3.0, eval(t, newTestEvaluator(r), MetricStudyStreakDays))
	})
}

func TestMetricEvaluator_ExamCounts(t *testing.T) {
	exams := examsNewestFirst(100, 60, 59.9, 85)
	exams = append(exams, activity.ExamResult{ID: "pending", Score: 100})
	e := newTestEvaluator(&fakeReader{exams: exams})

	assert.Equal(t, 4.0, eval(t, e, MetricExamsCompleted))
	assert.Equal(t, 3.0, eval(t, e, MetricExamsPassed))
	assert.Equal(t, 1.0, eval(t, e, MetricPerfectScore))
	assert.Equal(t, 100.0, eval(t, e, MetricExamScore))
	// (100 + 60 + 59.9 + 85) / 4 = 76.225
	assert.Equal(t, 76.0, eval(t, e, MetricAverageScore))
}

func TestMetricEvaluator_HighScoresStreak(t *testing.T) {
	exams := examsNewestFirst(95, 92, 91, 88, 99, 97, 96, 95, 94, 93)
	// store order is oldest first; the evaluator sorts by completion time
	for i, j := 0, len(exams)-1; i < j; i, j = i+1, j-1 {
		exams[i], exams[j] = exams[j], exams[i]
	}

	assert.Equal(t, 3.0, eval(t, newTestEvaluator(&fakeReader{exams: exams}), MetricHighScoresStreak))
}

func TestMetricEvaluator_HighScoresStreakLooksAtTenMostRecent(t *testing.T) {
	scores := make([]float64, 12)
	for i := range scores {
		scores[i] = 99
	}
	e := newTestEvaluator(&fakeReader{exams: examsNewestFirst(scores...)})

	assert.Equal(t, 10.0, eval(t, e, MetricHighScoresStreak))
}

func TestMetricEvaluator_ImprovementStreak(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   float64
	}{
		{"single", []float64{80}, 0},
		{"strictly improving", []float64{90, 80, 70, 60}, 3},
		{"tie stops", []float64{90, 80, 80, 70}, 1},
		{"first pair declines", []float64{50, 80, 70}, 0},
		{"window of ten", []float64{100, 99, 98, 97, 96, 95, 94, 93, 92, 91, 90, 89}, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEvaluator(&fakeReader{exams: examsNewestFirst(tt.scores...)})
			assert.Equal(t, tt.want, eval(t, e, MetricImprovementStreak))
		})
	}
}

func TestMetricEvaluator_AllCompetenciesHigh(t *testing.T) {
	catalogue := []activity.Competency{{Key: "matematicas"}, {Key: "lectura_critica"}}
	exam := func(comp string, score float64) activity.ExamResult {
		return activity.ExamResult{Competency: comp, Score: score, CompletedAt: at(1)}
	}

	tests := []struct {
		name         string
		competencies []activity.Competency
		exams        []activity.ExamResult
		want         float64
	}{
		{"empty catalogue", nil, []activity.ExamResult{exam("matematicas", 100)}, 0},
		{"all high", catalogue, []activity.ExamResult{
			exam("Matemáticas", 100), exam("matematicas", 90), exam("Lectura Crítica", 96),
		}, 1},
		{"one below threshold", catalogue, []activity.ExamResult{
			exam("matematicas", 94), exam("lectura_critica", 100),
		}, 0},
		{"competency without exams", catalogue, []activity.ExamResult{exam("matematicas", 100)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeReader{competencies: tt.competencies, exams: tt.exams}
			assert.Equal(t, tt.want, eval(t, newTestEvaluator(r), MetricAllCompetenciesHigh))
		})
	}
}

func TestMetricEvaluator_CourseMetrics(t *testing.T) {
	r := &fakeReader{
		enrollments: []activity.Enrollment{
			{CourseID: "c1", Active: true, Competency: "matematicas"},
			{CourseID: "c2", Active: true, Competency: "Matemáticas"},
			{CourseID: "c3", Active: true, Competency: "ingles"},
			{CourseID: "c4", Active: false, Competency: "sociales_y_ciudadanas"},
			{CourseID: "c1", Active: true, Competency: "matematicas"},
		},
		lessons: map[string][]string{
			"c1": {"l1", "l2"},
			"c2": {"l1", "l3"},
			"c4": {"l1"},
		},
		progress: []activity.LessonProgress{
			{LessonID: "l1", Status: "completed"},
			{LessonID: "l2", Percentage: 100},
			{LessonID: "l3", Percentage: 50},
		},
	}
	e := newTestEvaluator(r)

	// c1 complete, c2 missing l3, c3 has no lessons, c4 inactive
	assert.Equal(t, 1.0, eval(t, e, MetricCourseCompleted))
	assert.Equal(t, 2.0, eval(t, e, MetricDifferentCompetencies))
}

func TestMetricEvaluator_StandardizedScore(t *testing.T) {
	seconds := 45.0
	completed := testNow.AddDate(0, 0, -10)

	t.Run("from answers", func(t *testing.T) {
		r := &fakeReader{answers: []activity.QuestionAnswer{{
			IsCorrect: true, Difficulty: "dificil", TimeSpentSeconds: &seconds,
			CompletedAt: &completed, Competency: "matematicas", ExamType: scoring.ExamTypeIcfes,
		}}}
		e := newTestEvaluator(r)

		report, err := e.StandardizedScore(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, 500, report.Score)
		assert.False(t, report.Fallback)
		assert.Equal(t, 500.0, eval(t, e, MetricIcfesScore))
	})

	t.Run("falls back to average score", func(t *testing.T) {
		r := &fakeReader{exams: examsNewestFirst(70, 71)}
		report, err := newTestEvaluator(r).StandardizedScore(context.Background(), "user-1")
		require.NoError(t, err)
		assert.True(t, report.Fallback)
		// round(70.5) = 71, 71 * 5 = 355
		assert.Equal(t, 355, report.Score)
	})

	t.Run("no activity", func(t *testing.T) {
		score, err := newTestEvaluator(&fakeReader{}).ComputeStandardizedScore(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Zero(t, score)
	})
}

func TestMetricEvaluator_UnknownMetric(t *testing.T) {
	r := &fakeReader{progress: []activity.LessonProgress{{Status: "completed"}}}
	assert.Zero(t, eval(t, newTestEvaluator(r), MetricType("badges")))
	assert.Zero(t, r.calls.Load())
}

func TestMetricEvaluator_ReadFailure(t *testing.T) {
	e := newTestEvaluator(&fakeReader{err: errors.New("connection reset")})

	for _, m := range KnownMetrics() {
		_, err := e.Evaluate(context.Background(), "user-1", m)
		require.Error(t, err, m.String())
		assert.True(t, shared.IsStorage(err), m.String())
		assert.ErrorIs(t, err, shared.ErrActivityRead, m.String())
	}
}

func TestMetricEvaluator_RequiresUser(t *testing.T) {
	_, err := newTestEvaluator(&fakeReader{}).Evaluate(context.Background(), "", MetricLessonsCompleted)
	assert.ErrorIs(t, err, shared.ErrInvalidID)
}

func TestMemoizedMetrics(t *testing.T) {
	r := &fakeReader{progress: []activity.LessonProgress{{Status: "completed"}}}
	memo := NewMemoizedMetrics(newTestEvaluator(r))

	for i := 0; i < 3; i++ {
		v, err := memo.Evaluate(context.Background(), "user-1", MetricLessonsCompleted)
		require.NoError(t, err)
		assert.Equal(t, 1.0, v)
	}
	assert.Equal(t, int32(1), r.calls.Load())

	r.err = errors.New("boom")
	_, err := memo.Evaluate(context.Background(), "user-1", MetricStudyTimeMinutes)
	require.Error(t, err)

	r.err = nil
	_, err = memo.Evaluate(context.Background(), "user-1", MetricStudyTimeMinutes)
	require.NoError(t, err)
}
