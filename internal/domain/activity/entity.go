// Package activity contains the read-only activity records the mastery
// engine consumes: lesson progress, exam results, per-question answers and
// course enrollments. These records are owned by the surrounding platform;
// nothing in this module mutates them.
package activity

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORDS
// ══════════════════════════════════════════════════════════════════════════════

// LessonProgress is a user's progress row for one lesson.
type LessonProgress struct {
	ID               string
	UserID           string
	LessonID         string
	Status           string
	Percentage       float64
	TimeSpentMinutes int
	UpdatedAt        time.Time
}

// completedStatuses lists the status spellings the platform has used for a
// finished lesson over time.
var completedStatuses = map[string]struct{}{
	"completed":  {},
	"complete":   {},
	"completado": {},
	"completada": {},
	"finalizado": {},
	"finished":   {},
	"done":       {},
}

// IsCompleted reports whether the lesson counts as completed: either a
// completed status variant or a percentage of at least 100.
func (p LessonProgress) IsCompleted() bool {
	if p.Percentage >= 100 {
		return true
	}
	_, ok := completedStatuses[NormalizeKey(p.Status)]
	return ok
}

// ExamResult is one attempt of a user at an exam.
type ExamResult struct {
	ID          string
	UserID      string
	ExamID      string
	ExamType    string
	Competency  string
	Score       float64
	Passed      bool
	CompletedAt *time.Time
}

// IsCompleted reports whether the attempt has a completion timestamp.
func (r ExamResult) IsCompleted() bool {
	return r.CompletedAt != nil
}

// QuestionAnswer is a single answered question. CompletedAt, Competency and
// ExamType are denormalized from the owning exam result.
type QuestionAnswer struct {
	ID               string
	ExamResultID     string
	QuestionID       string
	IsCorrect        bool
	Difficulty       string
	TimeSpentSeconds *float64
	CompletedAt      *time.Time
	Competency       string
	ExamType         string
}

// Enrollment links a user to a course.
type Enrollment struct {
	UserID     string
	CourseID   string
	Active     bool
	Competency string
}

// Competency is an entry of the competency catalogue.
type Competency struct {
	Key  string
	Name string
}

// ══════════════════════════════════════════════════════════════════════════════
// KEY NORMALIZATION
// ══════════════════════════════════════════════════════════════════════════════

// NormalizeKey lower-cases s, strips diacritics and joins words with
// underscores, so "Lectura Crítica" and "lectura_critica" compare equal.
func NormalizeKey(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return strings.Join(strings.Fields(strings.ToLower(stripped)), "_")
}
