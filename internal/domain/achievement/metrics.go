package achievement

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/edumastery/mastery-engine/internal/domain/activity"
	"github.com/edumastery/mastery-engine/internal/domain/scoring"
	"github.com/edumastery/mastery-engine/internal/domain/shared"
	"github.com/edumastery/mastery-engine/pkg/logger"
	"github.com/edumastery/mastery-engine/pkg/timeutil"
)

// Thresholds used by the exam metrics.
const (
	PassingScore    = 60.0
	PerfectScore    = 100.0
	HighScore       = 90.0
	CompetencyHigh  = 95.0
	RecentExamLimit = 10
	StreakWindow    = 30
)

// MetricSource yields the current value of a metric for a user.
type MetricSource interface {
	Evaluate(ctx context.Context, userID string, metric MetricType) (float64, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// METRIC EVALUATOR
// ══════════════════════════════════════════════════════════════════════════════

// MetricEvaluator computes metric values from raw activity records.
type MetricEvaluator struct {
	reader activity.Reader
	scorer *scoring.Aggregator
	loc    *time.Location
	clock  timeutil.Clock
	log    *logger.Logger
}

// NewMetricEvaluator creates an evaluator. A nil loc uses
// timeutil.DefaultLocation, a nil clock the system clock.
func NewMetricEvaluator(
	reader activity.Reader,
	scorer *scoring.Aggregator,
	loc *time.Location,
	clock timeutil.Clock,
	log *logger.Logger,
) *MetricEvaluator {
	if loc == nil {
		loc = timeutil.DefaultLocation
	}
	if clock == nil {
		clock = timeutil.SystemClock
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &MetricEvaluator{
		reader: reader,
		scorer: scorer,
		loc:    loc,
		clock:  clock,
		log:    log.With(logger.Component("metric_evaluator")),
	}
}

// Evaluate returns the user's current value for metric. Empty activity
// yields 0. An unknown metric yields 0 and a warning. Errors are returned
// only for failed reads.
func (e *MetricEvaluator) Evaluate(ctx context.Context, userID string, metric MetricType) (float64, error) {
	if userID == "" {
		return 0, shared.ErrInvalidUserID
	}

	switch metric {
	case MetricLessonsCompleted:
		return e.lessonsCompleted(ctx, userID)
	case MetricExamsCompleted:
		return e.countExams(ctx, userID, func(activity.ExamResult) bool { return true })
	case MetricExamsPassed:
		return e.countExams(ctx, userID, func(r activity.ExamResult) bool { return r.Score >= PassingScore })
	case MetricPerfectScore:
		return e.countExams(ctx, userID, func(r activity.ExamResult) bool { return r.Score == PerfectScore })
	case MetricExamScore:
		return e.bestExamScore(ctx, userID)
	case MetricHighScoresStreak:
		return e.highScoresStreak(ctx, userID)
	case MetricStudyTimeMinutes:
		return e.studyTime(ctx, userID)
	case MetricDailyStudyTime:
		return e.dailyStudyTime(ctx, userID)
	case MetricStudyStreakDays:
		return e.studyStreakDays(ctx, userID)
	case MetricAverageScore:
		return e.averageScore(ctx, userID)
	case MetricImprovementStreak:
		return e.improvementStreak(ctx, userID)
	case MetricAllCompetenciesHigh:
		return e.allCompetenciesHigh(ctx, userID)
	case MetricCourseCompleted:
		return e.coursesCompleted(ctx, userID)
	case MetricDifferentCompetencies:
		return e.differentCompetencies(ctx, userID)
	case MetricIcfesScore:
		score, err := e.ComputeStandardizedScore(ctx, userID)
		return float64(score), err
	default:
		e.log.Warn("unknown metric type evaluates to 0",
			logger.UserID(userID),
			logger.Metric(metric.String()),
		)
		return 0, nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

func readErr(op string, err error) error {
	return shared.WrapError("activity", op, shared.ErrActivityRead, "failed to read activity records", err)
}

func (e *MetricEvaluator) progress(ctx context.Context, userID string) ([]activity.LessonProgress, error) {
	rows, err := e.reader.LessonProgress(ctx, userID)
	if err != nil {
		return nil, readErr("LessonProgress", err)
	}
	return rows, nil
}

// completedExams returns completed results, newest first. Results sharing a
// completion time keep their store order.
func (e *MetricEvaluator) completedExams(ctx context.Context, userID string) ([]activity.ExamResult, error) {
	rows, err := e.reader.ExamResults(ctx, userID)
	if err != nil {
		return nil, readErr("ExamResults", err)
	}

	completed := make([]activity.ExamResult, 0, len(rows))
	for _, r := range rows {
		if r.IsCompleted() {
			completed = append(completed, r)
		}
	}
	sort.SliceStable(completed, func(i, j int) bool {
		return completed[i].CompletedAt.After(*completed[j].CompletedAt)
	})
	return completed, nil
}

func (e *MetricEvaluator) activeEnrollments(ctx context.Context, userID string) ([]activity.Enrollment, error) {
	rows, err := e.reader.Enrollments(ctx, userID)
	if err != nil {
		return nil, readErr("Enrollments", err)
	}
	active := rows[:0:0]
	for _, en := range rows {
		if en.Active {
			active = append(active, en)
		}
	}
	return active, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Lesson metrics
// ─────────────────────────────────────────────────────────────────────────────

func (e *MetricEvaluator) lessonsCompleted(ctx context.Context, userID string) (float64, error) {
	rows, err := e.progress(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range rows {
		if p.IsCompleted() {
			n++
		}
	}
	return float64(n), nil
}

func (e *MetricEvaluator) studyTime(ctx context.Context, userID string) (float64, error) {
	rows, err := e.progress(ctx, userID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, p := range rows {
		total += p.TimeSpentMinutes
	}
	return float64(total), nil
}

func (e *MetricEvaluator) dailyStudyTime(ctx context.Context, userID string) (float64, error) {
	rows, err := e.progress(ctx, userID)
	if err != nil {
		return 0, err
	}
	start, end := timeutil.DayRange(e.clock(), e.loc)
	total := 0
	for _, p := range rows {
		if !p.UpdatedAt.Before(start) && p.UpdatedAt.Before(end) {
			total += p.TimeSpentMinutes
		}
	}
	return float64(total), nil
}

// studyStreakDays counts consecutive local days with activity, starting
// today and looking back at most StreakWindow days.
func (e *MetricEvaluator) studyStreakDays(ctx context.Context, userID string) (float64, error) {
	rows, err := e.progress(ctx, userID)
	if err != nil {
		return 0, err
	}

	active := make(map[string]struct{}, len(rows))
	for _, p := range rows {
		if !p.UpdatedAt.IsZero() {
			active[timeutil.DateKey(p.UpdatedAt, e.loc)] = struct{}{}
		}
	}

	today := timeutil.StartOfDay(e.clock(), e.loc)
	streak := 0
	for i := 0; i < StreakWindow; i++ {
		day := today.AddDate(0, 0, -i)
		if _, ok := active[timeutil.DateKey(day, e.loc)]; !ok {
			break
		}
		streak++
	}
	return float64(streak), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Exam metrics
// ─────────────────────────────────────────────────────────────────────────────

func (e *MetricEvaluator) countExams(ctx context.Context, userID string, match func(activity.ExamResult) bool) (float64, error) {
	exams, err := e.completedExams(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range exams {
		if match(r) {
			n++
		}
	}
	return float64(n), nil
}

func (e *MetricEvaluator) bestExamScore(ctx context.Context, userID string) (float64, error) {
	exams, err := e.completedExams(ctx, userID)
	if err != nil {
		return 0, err
	}
	best := 0.0
	for i, r := range exams {
		if i == 0 || r.Score > best {
			best = r.Score
		}
	}
	return best, nil
}

func (e *MetricEvaluator) highScoresStreak(ctx context.Context, userID string) (float64, error) {
	exams, err := e.completedExams(ctx, userID)
	if err != nil {
		return 0, err
	}
	streak := 0
	for _, r := range recent(exams) {
		if r.Score < HighScore {
			break
		}
		streak++
	}
	return float64(streak), nil
}

func (e *MetricEvaluator) improvementStreak(ctx context.Context, userID string) (float64, error) {
	exams, err := e.completedExams(ctx, userID)
	if err != nil {
		return 0, err
	}
	window := recent(exams)
	streak := 0
	for i := 0; i+1 < len(window); i++ {
		if window[i].Score <= window[i+1].Score {
			break
		}
		streak++
	}
	return float64(streak), nil
}

func (e *MetricEvaluator) averageScore(ctx context.Context, userID string) (float64, error) {
	exams, err := e.completedExams(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(exams) == 0 {
		return 0, nil
	}
	sum := 0.0
	for _, r := range exams {
		sum += r.Score
	}
	return math.Round(sum / float64(len(exams))), nil
}

// allCompetenciesHigh is 1 when every catalogued competency has a completed
// exam average of at least CompetencyHigh. An empty catalogue yields 0.
func (e *MetricEvaluator) allCompetenciesHigh(ctx context.Context, userID string) (float64, error) {
	catalogue, err := e.reader.Competencies(ctx)
	if err != nil {
		return 0, readErr("Competencies", err)
	}
	if len(catalogue) == 0 {
		return 0, nil
	}

	exams, err := e.completedExams(ctx, userID)
	if err != nil {
		return 0, err
	}

	type agg struct {
		sum float64
		n   int
	}
	byCompetency := make(map[string]*agg)
	for _, r := range exams {
		key := activity.NormalizeKey(r.Competency)
		a, ok := byCompetency[key]
		if !ok {
			a = &agg{}
			byCompetency[key] = a
		}
		a.sum += r.Score
		a.n++
	}

	for _, c := range catalogue {
		a, ok := byCompetency[activity.NormalizeKey(c.Key)]
		if !ok || a.n == 0 || a.sum/float64(a.n) < CompetencyHigh {
			return 0, nil
		}
	}
	return 1, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Course metrics
// ─────────────────────────────────────────────────────────────────────────────

// coursesCompleted counts active courses whose every lesson is completed.
// Courses without lessons are not counted.
func (e *MetricEvaluator) coursesCompleted(ctx context.Context, userID string) (float64, error) {
	enrollments, err := e.activeEnrollments(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(enrollments) == 0 {
		return 0, nil
	}

	rows, err := e.progress(ctx, userID)
	if err != nil {
		return 0, err
	}
	done := make(map[string]struct{}, len(rows))
	for _, p := range rows {
		if p.IsCompleted() {
			done[p.LessonID] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(enrollments))
	n := 0
	for _, en := range enrollments {
		if _, dup := seen[en.CourseID]; dup {
			continue
		}
		seen[en.CourseID] = struct{}{}

		lessons, err := e.reader.CourseLessons(ctx, en.CourseID)
		if err != nil {
			return 0, readErr("CourseLessons", err)
		}
		if len(lessons) == 0 {
			continue
		}
		complete := true
		for _, id := range lessons {
			if _, ok := done[id]; !ok {
				complete = false
				break
			}
		}
		if complete {
			n++
		}
	}
	return float64(n), nil
}

func (e *MetricEvaluator) differentCompetencies(ctx context.Context, userID string) (float64, error) {
	enrollments, err := e.activeEnrollments(ctx, userID)
	if err != nil {
		return 0, err
	}
	distinct := make(map[string]struct{})
	for _, en := range enrollments {
		if key := activity.NormalizeKey(en.Competency); key != "" {
			distinct[key] = struct{}{}
		}
	}
	return float64(len(distinct)), nil
}

// recent returns at most RecentExamLimit results from a newest-first slice.
func recent(exams []activity.ExamResult) []activity.ExamResult {
	if len(exams) > RecentExamLimit {
		return exams[:RecentExamLimit]
	}
	return exams
}

// ══════════════════════════════════════════════════════════════════════════════
// STANDARDIZED SCORE
// ══════════════════════════════════════════════════════════════════════════════

// ScoreReport is a standardized score with its breakdown.
type ScoreReport struct {
	UserID string
	Score  int
	// Fallback is set when the user had no summative answers and the score
	// was derived from the average exam score.
	Fallback   bool
	Detail     scoring.Result
	ComputedAt time.Time
}

// StandardizedScore computes the 0-500 score with its breakdown.
func (e *MetricEvaluator) StandardizedScore(ctx context.Context, userID string) (ScoreReport, error) {
	if userID == "" {
		return ScoreReport{}, shared.ErrInvalidUserID
	}
	now := e.clock()

	answers, err := e.reader.QuestionAnswers(ctx, userID, e.scorer.SummativeExamTypes())
	if err != nil {
		return ScoreReport{}, readErr("QuestionAnswers", err)
	}

	detail := e.scorer.Compute(answers, now)
	report := ScoreReport{UserID: userID, Score: detail.Score, Detail: detail, ComputedAt: now}
	if detail.AnswerCount > 0 {
		return report, nil
	}

	avg, err := e.averageScore(ctx, userID)
	if err != nil {
		return ScoreReport{}, err
	}
	report.Score = e.scorer.ScaleFromPercentage(avg)
	report.Fallback = true
	return report, nil
}

// ComputeStandardizedScore returns the 0-500 score of the user.
func (e *MetricEvaluator) ComputeStandardizedScore(ctx context.Context, userID string) (int, error) {
	report, err := e.StandardizedScore(ctx, userID)
	if err != nil {
		return 0, err
	}
	return report.Score, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MEMOIZATION
// ══════════════════════════════════════════════════════════════════════════════

// MemoizedMetrics caches metric values of one evaluation run so that several
// definitions on the same metric read the activity store once. Failed reads
// are not cached. Safe for concurrent use.
type MemoizedMetrics struct {
	src    MetricSource
	group  singleflight.Group
	mu     sync.RWMutex
	values map[string]float64
}

// NewMemoizedMetrics wraps src.
func NewMemoizedMetrics(src MetricSource) *MemoizedMetrics {
	return &MemoizedMetrics{src: src, values: make(map[string]float64)}
}

// Evaluate implements MetricSource.
func (m *MemoizedMetrics) Evaluate(ctx context.Context, userID string, metric MetricType) (float64, error) {
	key := userID + "\x00" + string(metric)

	m.mu.RLock()
	v, ok := m.values[key]
	m.mu.RUnlock()
	if ok {
		return v, nil
	}

	res, err, _ := m.group.Do(key, func() (interface{}, error) {
		v, err := m.src.Evaluate(ctx, userID, metric)
		if err != nil {
			return 0.0, err
		}
		m.mu.Lock()
		m.values[key] = v
		m.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return 0, err
	}
	return res.(float64), nil
}
