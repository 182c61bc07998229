package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumastery/mastery-engine/internal/domain/activity"
	"github.com/edumastery/mastery-engine/pkg/circuitbreaker"
)

func TestActivityReader_LessonProgress(t *testing.T) {
	mock := newMock(t)
	r := NewActivityReader(mock, nil, nil)
	updated := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM lesson_progress")).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "lesson_id", "status", "percentage", "time_spent_minutes", "updated_at"}).
			AddRow("lp1", "u1", "l1", "completado", 100.0, 30, updated))

	rows, err := r.LessonProgress(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "l1", rows[0].LessonID)
	assert.Equal(t, 30, rows[0].TimeSpentMinutes)
	assert.True(t, rows[0].IsCompleted())
}

func TestActivityReader_EmptyResultIsNotNil(t *testing.T) {
	mock := newMock(t)
	r := NewActivityReader(mock, nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments")).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "course_id", "is_active", "competency"}))

	rows, err := r.Enrollments(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestActivityReader_QuestionAnswers(t *testing.T) {
	mock := newMock(t)
	r := NewActivityReader(mock, nil, nil)
	completed := time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC)
	seconds := 45.0

	mock.ExpectQuery(regexp.QuoteMeta("FROM question_answers")).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "exam_result_id", "question_id", "is_correct", "difficulty", "time_spent_seconds", "completed_at", "competency", "exam_type"}).
			AddRow("qa1", "er1", "q1", true, "Difícil", &seconds, &completed, "matematicas", "ICFES").
			AddRow("qa2", "er1", "q2", false, "facil", nil, &completed, "lectura_critica", "icfes").
			AddRow("qa3", "er2", "q3", true, "facil", nil, &completed, "matematicas", "quiz"))

	answers, err := r.QuestionAnswers(context.Background(), "u1", []string{"Simulacro", "ICFES"})
	require.NoError(t, err)
	require.Len(t, answers, 2)
	require.NotNil(t, answers[0].TimeSpentSeconds)
	assert.Equal(t, 45.0, *answers[0].TimeSpentSeconds)
	assert.True(t, completed.Equal(*answers[0].CompletedAt))
	assert.Nil(t, answers[1].TimeSpentSeconds)
}

func TestActivityReader_QuestionAnswersMatchesExamTypeLikeMemoryStore(t *testing.T) {
	mock := newMock(t)
	r := NewActivityReader(mock, nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM question_answers")).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "exam_result_id", "question_id", "is_correct", "difficulty", "time_spent_seconds", "completed_at", "competency", "exam_type"}).
			AddRow("qa1", "er1", "q1", true, "facil", nil, nil, "matematicas", "Simulácro").
			AddRow("qa2", "er2", "q2", true, "facil", nil, nil, "matematicas", " Prueba  ICFES ").
			AddRow("qa3", "er3", "q3", true, "facil", nil, nil, "matematicas", "diagnóstico"))

	answers, err := r.QuestionAnswers(context.Background(), "u1", []string{"simulacro", "prueba_icfes"})
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.Equal(t, "qa1", answers[0].ID)
	assert.Equal(t, "qa2", answers[1].ID)

	for _, a := range answers {
		assert.Contains(t, []string{"simulacro", "prueba_icfes"}, activity.NormalizeKey(a.ExamType))
	}
}

func TestActivityReader_ActiveUsersSince(t *testing.T) {
	mock := newMock(t)
	r := NewActivityReader(mock, nil, nil)
	since := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY user_id")).
		WithArgs(since, int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("u3").AddRow("u2"))
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY user_id")).
		WithArgs(since, nil).
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("u3").AddRow("u2").AddRow("u1"))

	users, err := r.ActiveUsersSince(context.Background(), since, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"u3", "u2"}, users)

	users, err = r.ActiveUsersSince(context.Background(), since, 0)
	require.NoError(t, err)
	assert.Len(t, users, 3)
}

func TestActivityReader_RetriesTransientErrors(t *testing.T) {
	mock := newMock(t)
	r := NewActivityReader(mock, nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM competencies")).
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectQuery(regexp.QuoteMeta("FROM competencies")).
		WillReturnRows(pgxmock.NewRows([]string{"key", "name"}).AddRow("matematicas", "Matemáticas"))

	comps, err := r.Competencies(context.Background())
	require.NoError(t, err)
	require.Len(t, comps, 1)
	assert.Equal(t, "matematicas", comps[0].Key)
}

func TestActivityReader_PermanentErrorsAreNotRetried(t *testing.T) {
	mock := newMock(t)
	r := NewActivityReader(mock, nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM course_modules")).
		WithArgs("c1").
		WillReturnError(&pgconn.PgError{Code: "42P01"})

	_, err := r.CourseLessons(context.Background(), "c1")
	assert.Error(t, err)
}

func TestActivityReader_BreakerOpens(t *testing.T) {
	mock := newMock(t)
	cb := circuitbreaker.DatabaseBreaker(nil, nil)
	r := NewActivityReader(mock, cb, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mock.ExpectQuery(regexp.QuoteMeta("FROM exam_results")).
			WithArgs("u1").
			WillReturnError(errors.New("relation does not exist"))
	}
	for i := 0; i < 3; i++ {
		_, err := r.ExamResults(ctx, "u1")
		require.Error(t, err)
	}
	assert.True(t, cb.IsOpen())

	_, err := r.ExamResults(ctx, "u1")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"no rows", pgx.ErrNoRows, false},
		{"cancelled", context.Canceled, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
}
