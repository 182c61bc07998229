package activity

import (
	"context"
	"time"
)

// Reader is the query interface onto the platform's activity records.
// Implementations return a current snapshot; there is no isolation across
// calls. Every method returns an empty slice, never an error, when the user
// simply has no records.
type Reader interface {
	// LessonProgress returns every lesson-progress row of the user.
	LessonProgress(ctx context.Context, userID string) ([]LessonProgress, error)

	// ExamResults returns every exam result of the user, completed or not.
	ExamResults(ctx context.Context, userID string) ([]ExamResult, error)

	// QuestionAnswers returns the user's answers whose parent exam type is
	// one of examTypes.
	QuestionAnswers(ctx context.Context, userID string, examTypes []string) ([]QuestionAnswer, error)

	// Enrollments returns the user's course enrollments.
	Enrollments(ctx context.Context, userID string) ([]Enrollment, error)

	// CourseLessons returns the IDs of every lesson reachable through the
	// course's modules.
	CourseLessons(ctx context.Context, courseID string) ([]string, error)

	// Competencies returns the competency catalogue.
	Competencies(ctx context.Context) ([]Competency, error)

	// ActiveUsersSince returns users with lesson or exam activity at or
	// after since, most recent first.
	ActiveUsersSince(ctx context.Context, since time.Time, limit int) ([]string, error)
}
