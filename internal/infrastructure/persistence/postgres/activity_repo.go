package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edumastery/mastery-engine/internal/domain/activity"
	"github.com/edumastery/mastery-engine/pkg/circuitbreaker"
	"github.com/edumastery/mastery-engine/pkg/logger"
	"github.com/edumastery/mastery-engine/pkg/retry"
)

// ActivityReader implements activity.Reader using PostgreSQL. Every read
// is retried on transient errors and passes through a circuit breaker.
type ActivityReader struct {
	db      Querier
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
	logger  *logger.Logger
}

var _ activity.Reader = (*ActivityReader)(nil)

// NewActivityReader creates a reader. A nil breaker disables it.
func NewActivityReader(db Querier, breaker *circuitbreaker.CircuitBreaker, log *logger.Logger) *ActivityReader {
	if log == nil {
		log = logger.NewNop()
	}
	return &ActivityReader{
		db:      db,
		retrier: retry.DatabaseRetrier(IsTransient),
		breaker: breaker,
		logger:  log.With(logger.Component("activity_reader")),
	}
}

// read runs fn with retry, inside the breaker when one is set.
func (r *ActivityReader) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := func(ctx context.Context) error {
		return r.retrier.Do(ctx, fn)
	}
	var err error
	if r.breaker != nil {
		err = r.breaker.Execute(ctx, attempt)
	} else {
		err = attempt(ctx)
	}
	if err != nil {
		r.logger.Debug("activity read failed", logger.Operation(op), logger.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// queryAll runs sql and scans every row with scan. The result is never nil.
func queryAll[T any](ctx context.Context, q Querier, sql string, scan func(pgx.Rows) (T, error), args ...interface{}) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERIES
// ══════════════════════════════════════════════════════════════════════════════

const (
	queryLessonProgress = `
		SELECT id, user_id, lesson_id, status, percentage, time_spent_minutes, updated_at
		FROM lesson_progress
		WHERE user_id = $1
		ORDER BY updated_at, id`

	queryExamResults = `
		SELECT er.id, er.user_id, er.exam_id, e.exam_type, COALESCE(e.competency, ''),
		       er.score, er.passed, er.completed_at
		FROM exam_results er
		JOIN exams e ON e.id = er.exam_id
		WHERE er.user_id = $1
		ORDER BY er.completed_at NULLS LAST, er.id`

	queryQuestionAnswers = `
		SELECT qa.id, qa.exam_result_id, qa.question_id, qa.is_correct, q.difficulty,
		       qa.time_spent_seconds, er.completed_at,
		       COALESCE(q.competency, e.competency, ''), e.exam_type
		FROM question_answers qa
		JOIN exam_results er ON er.id = qa.exam_result_id
		JOIN exams e ON e.id = er.exam_id
		JOIN questions q ON q.id = qa.question_id
		WHERE er.user_id = $1
		ORDER BY er.completed_at NULLS LAST, qa.id`

	queryEnrollments = `
		SELECT en.user_id, en.course_id, en.is_active, COALESCE(c.competency, '')
		FROM enrollments en
		JOIN courses c ON c.id = en.course_id
		WHERE en.user_id = $1
		ORDER BY en.enrolled_at, en.course_id`

	queryCourseLessons = `
		SELECT l.id
		FROM lessons l
		JOIN course_modules m ON m.id = l.module_id
		WHERE m.course_id = $1
		ORDER BY m.position, l.position, l.id`

	queryCompetencies = `
		SELECT key, name FROM competencies ORDER BY key`

	// LIMIT NULL means no limit.
	queryActiveUsersSince = `
		SELECT user_id FROM (
			SELECT user_id, updated_at AS at FROM lesson_progress WHERE updated_at >= $1
			UNION ALL
			SELECT user_id, completed_at AS at FROM exam_results WHERE completed_at >= $1
		) activity
		GROUP BY user_id
		ORDER BY max(at) DESC, user_id
		LIMIT $2`
)

// ══════════════════════════════════════════════════════════════════════════════
// READER
// ══════════════════════════════════════════════════════════════════════════════

// LessonProgress implements activity.Reader.
func (r *ActivityReader) LessonProgress(ctx context.Context, userID string) ([]activity.LessonProgress, error) {
	var out []activity.LessonProgress
	err := r.read(ctx, "LessonProgress", func(ctx context.Context) (err error) {
		out, err = queryAll(ctx, r.db, queryLessonProgress, func(rows pgx.Rows) (activity.LessonProgress, error) {
			var p activity.LessonProgress
			err := rows.Scan(&p.ID, &p.UserID, &p.LessonID, &p.Status, &p.Percentage, &p.TimeSpentMinutes, &p.UpdatedAt)
			return p, err
		}, userID)
		return err
	})
	return out, err
}

// ExamResults implements activity.Reader.
func (r *ActivityReader) ExamResults(ctx context.Context, userID string) ([]activity.ExamResult, error) {
	var out []activity.ExamResult
	err := r.read(ctx, "ExamResults", func(ctx context.Context) (err error) {
		out, err = queryAll(ctx, r.db, queryExamResults, func(rows pgx.Rows) (activity.ExamResult, error) {
			var e activity.ExamResult
			err := rows.Scan(&e.ID, &e.UserID, &e.ExamID, &e.ExamType, &e.Competency, &e.Score, &e.Passed, &e.CompletedAt)
			return e, err
		}, userID)
		return err
	})
	return out, err
}

// QuestionAnswers implements activity.Reader. Exam types are matched with
// activity.NormalizeKey after the read, like every other adapter, so case,
// accents and spacing do not matter.
func (r *ActivityReader) QuestionAnswers(ctx context.Context, userID string, examTypes []string) ([]activity.QuestionAnswer, error) {
	wanted := make(map[string]struct{}, len(examTypes))
	for _, t := range examTypes {
		wanted[activity.NormalizeKey(t)] = struct{}{}
	}

	var all []activity.QuestionAnswer
	err := r.read(ctx, "QuestionAnswers", func(ctx context.Context) (err error) {
		all, err = queryAll(ctx, r.db, queryQuestionAnswers, func(rows pgx.Rows) (activity.QuestionAnswer, error) {
			var a activity.QuestionAnswer
			err := rows.Scan(&a.ID, &a.ExamResultID, &a.QuestionID, &a.IsCorrect, &a.Difficulty,
				&a.TimeSpentSeconds, &a.CompletedAt, &a.Competency, &a.ExamType)
			return a, err
		}, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := all[:0]
	for _, a := range all {
		if _, ok := wanted[activity.NormalizeKey(a.ExamType)]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// Enrollments implements activity.Reader.
func (r *ActivityReader) Enrollments(ctx context.Context, userID string) ([]activity.Enrollment, error) {
	var out []activity.Enrollment
	err := r.read(ctx, "Enrollments", func(ctx context.Context) (err error) {
		out, err = queryAll(ctx, r.db, queryEnrollments, func(rows pgx.Rows) (activity.Enrollment, error) {
			var e activity.Enrollment
			err := rows.Scan(&e.UserID, &e.CourseID, &e.Active, &e.Competency)
			return e, err
		}, userID)
		return err
	})
	return out, err
}

// CourseLessons implements activity.Reader.
func (r *ActivityReader) CourseLessons(ctx context.Context, courseID string) ([]string, error) {
	var out []string
	err := r.read(ctx, "CourseLessons", func(ctx context.Context) (err error) {
		out, err = queryAll(ctx, r.db, queryCourseLessons, scanString, courseID)
		return err
	})
	return out, err
}

// Competencies implements activity.Reader.
func (r *ActivityReader) Competencies(ctx context.Context) ([]activity.Competency, error) {
	var out []activity.Competency
	err := r.read(ctx, "Competencies", func(ctx context.Context) (err error) {
		out, err = queryAll(ctx, r.db, queryCompetencies, func(rows pgx.Rows) (activity.Competency, error) {
			var c activity.Competency
			err := rows.Scan(&c.Key, &c.Name)
			return c, err
		})
		return err
	})
	return out, err
}

// ActiveUsersSince implements activity.Reader. A non-positive limit
// returns every user.
func (r *ActivityReader) ActiveUsersSince(ctx context.Context, since time.Time, limit int) ([]string, error) {
	var limitArg interface{}
	if limit > 0 {
		limitArg = int64(limit)
	}

	var out []string
	err := r.read(ctx, "ActiveUsersSince", func(ctx context.Context) (err error) {
		out, err = queryAll(ctx, r.db, queryActiveUsersSince, scanString, since, limitArg)
		return err
	})
	return out, err
}

func scanString(rows pgx.Rows) (string, error) {
	var s string
	err := rows.Scan(&s)
	return s, err
}
