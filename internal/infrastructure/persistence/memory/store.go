// Package memory provides an in-process implementation of the activity
// reader and the achievement repository. It backs tests and the CLI's
// fixture mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/edumastery/mastery-engine/internal/domain/achievement"
	"github.com/edumastery/mastery-engine/internal/domain/activity"
	"github.com/edumastery/mastery-engine/internal/domain/shared"
)

type grantKey struct {
	userID        string
	achievementID string
}

// Store keeps every record in memory. Safe for concurrent use.
type Store struct {
	mutex sync.RWMutex

	definitions  []achievement.Definition
	grants       map[grantKey]achievement.UserAchievement
	grantOrder   []grantKey
	progress     map[string][]activity.LessonProgress
	exams        map[string][]activity.ExamResult
	answers      map[string][]activity.QuestionAnswer
	enrollments  map[string][]activity.Enrollment
	courses      map[string][]string
	competencies []activity.Competency
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		grants:      make(map[grantKey]achievement.UserAchievement),
		progress:    make(map[string][]activity.LessonProgress),
		exams:       make(map[string][]activity.ExamResult),
		answers:     make(map[string][]activity.QuestionAnswer),
		enrollments: make(map[string][]activity.Enrollment),
		courses:     make(map[string][]string),
	}
}

var (
	_ activity.Reader        = (*Store)(nil)
	_ achievement.Repository = (*Store)(nil)
)

// ══════════════════════════════════════════════════════════════════════════════
// SEEDING
// ══════════════════════════════════════════════════════════════════════════════

// AddDefinition appends a definition to the catalogue.
func (s *Store) AddDefinition(def achievement.Definition) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.definitions = append(s.definitions, def)
}

// AddLessonProgress stores progress rows.
func (s *Store) AddLessonProgress(rows ...activity.LessonProgress) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, r := range rows {
		s.progress[r.UserID] = append(s.progress[r.UserID], r)
	}
}

// AddExamResult stores exam results.
func (s *Store) AddExamResult(rows ...activity.ExamResult) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, r := range rows {
		s.exams[r.UserID] = append(s.exams[r.UserID], r)
	}
}

// AddQuestionAnswer stores answers of userID.
func (s *Store) AddQuestionAnswer(userID string, rows ...activity.QuestionAnswer) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.answers[userID] = append(s.answers[userID], rows...)
}

// AddEnrollment stores enrollments.
func (s *Store) AddEnrollment(rows ...activity.Enrollment) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, r := range rows {
		s.enrollments[r.UserID] = append(s.enrollments[r.UserID], r)
	}
}

// SetCourseLessons replaces the lessons reachable from a course.
func (s *Store) SetCourseLessons(courseID string, lessonIDs ...string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.courses[courseID] = append([]string(nil), lessonIDs...)
}

// AddCompetency appends to the competency catalogue.
func (s *Store) AddCompetency(c ...activity.Competency) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.competencies = append(s.competencies, c...)
}

// Grants returns every UserAchievement in insertion order.
func (s *Store) Grants() []achievement.UserAchievement {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]achievement.UserAchievement, 0, len(s.grantOrder))
	for _, k := range s.grantOrder {
		out = append(out, s.grants[k])
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY READER
// ══════════════════════════════════════════════════════════════════════════════

// LessonProgress implements activity.Reader.
func (s *Store) LessonProgress(_ context.Context, userID string) ([]activity.LessonProgress, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]activity.LessonProgress{}, s.progress[userID]...), nil
}

// ExamResults implements activity.Reader.
func (s *Store) ExamResults(_ context.Context, userID string) ([]activity.ExamResult, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]activity.ExamResult{}, s.exams[userID]...), nil
}

// QuestionAnswers implements activity.Reader.
func (s *Store) QuestionAnswers(_ context.Context, userID string, examTypes []string) ([]activity.QuestionAnswer, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	wanted := make(map[string]struct{}, len(examTypes))
	for _, t := range examTypes {
		wanted[activity.NormalizeKey(t)] = struct{}{}
	}
	out := []activity.QuestionAnswer{}
	for _, a := range s.answers[userID] {
		if _, ok := wanted[activity.NormalizeKey(a.ExamType)]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// Enrollments implements activity.Reader.
func (s *Store) Enrollments(_ context.Context, userID string) ([]activity.Enrollment, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]activity.Enrollment{}, s.enrollments[userID]...), nil
}

// CourseLessons implements activity.Reader.
func (s *Store) CourseLessons(_ context.Context, courseID string) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]string{}, s.courses[courseID]...), nil
}

// Competencies implements activity.Reader.
func (s *Store) Competencies(context.Context) ([]activity.Competency, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]activity.Competency{}, s.competencies...), nil
}

// ActiveUsersSince implements activity.Reader.
func (s *Store) ActiveUsersSince(_ context.Context, since time.Time, limit int) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	latest := make(map[string]time.Time)
	touch := func(userID string, t time.Time) {
		if t.Before(since) {
			return
		}
		if cur, ok := latest[userID]; !ok || t.After(cur) {
			latest[userID] = t
		}
	}
	for userID, rows := range s.progress {
		for _, r := range rows {
			touch(userID, r.UpdatedAt)
		}
	}
	for userID, rows := range s.exams {
		for _, r := range rows {
			if r.CompletedAt != nil {
				touch(userID, *r.CompletedAt)
			}
		}
	}

	users := make([]string, 0, len(latest))
	for id := range latest {
		users = append(users, id)
	}
	sort.Slice(users, func(i, j int) bool {
		ti, tj := latest[users[i]], latest[users[j]]
		if ti.Equal(tj) {
			return users[i] < users[j]
		}
		return ti.After(tj)
	})
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ActiveDefinitions implements achievement.Repository.
func (s *Store) ActiveDefinitions(context.Context) ([]achievement.Definition, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]achievement.Definition, 0, len(s.definitions))
	for _, d := range s.definitions {
		if d.IsActive {
			out = append(out, d)
		}
	}
	return out, nil
}

// UnlockedIDs implements achievement.Repository.
func (s *Store) UnlockedIDs(_ context.Context, userID string) (map[string]struct{}, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make(map[string]struct{})
	for k := range s.grants {
		if k.userID == userID {
			out[k.achievementID] = struct{}{}
		}
	}
	return out, nil
}

// IsUnlocked implements achievement.Repository.
func (s *Store) IsUnlocked(_ context.Context, userID, achievementID string) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, ok := s.grants[grantKey{userID, achievementID}]
	return ok, nil
}

// Grant implements achievement.Repository.
func (s *Store) Grant(_ context.Context, ua achievement.UserAchievement) (bool, error) {
	if ua.UserID == "" || ua.AchievementID == "" {
		return false, shared.NewDomainError("achievement", "Grant", shared.ErrInvalidInput, "user and achievement IDs are required")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	k := grantKey{ua.UserID, ua.AchievementID}
	if _, exists := s.grants[k]; exists {
		return false, nil
	}
	s.grants[k] = ua
	s.grantOrder = append(s.grantOrder, k)
	return true, nil
}
