package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edumastery/mastery-engine/internal/domain/achievement"
	"github.com/edumastery/mastery-engine/internal/domain/activity"
)

// Fixture is the YAML layout accepted by LoadFixture.
type Fixture struct {
	Definitions []struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Icon        string `yaml:"icon"`
		Category    string `yaml:"category"`
		Points      int    `yaml:"points"`
		// Criteria is the stored JSON document, kept verbatim.
		Criteria string `yaml:"criteria"`
		Active   *bool  `yaml:"active"`
	} `yaml:"definitions"`

	Competencies []struct {
		Key  string `yaml:"key"`
		Name string `yaml:"name"`
	} `yaml:"competencies"`

	Courses map[string][]string `yaml:"courses"`

	Users map[string]struct {
		Lessons []struct {
			LessonID   string    `yaml:"lesson_id"`
			Status     string    `yaml:"status"`
			Percentage float64   `yaml:"percentage"`
			Minutes    int       `yaml:"minutes"`
			UpdatedAt  time.Time `yaml:"updated_at"`
		} `yaml:"lessons"`

		Exams []struct {
			ID          string     `yaml:"id"`
			ExamType    string     `yaml:"exam_type"`
			Competency  string     `yaml:"competency"`
			Score       float64    `yaml:"score"`
			CompletedAt *time.Time `yaml:"completed_at"`
		} `yaml:"exams"`

		Answers []struct {
			Correct     bool       `yaml:"correct"`
			Difficulty  string     `yaml:"difficulty"`
			Seconds     *float64   `yaml:"seconds"`
			CompletedAt *time.Time `yaml:"completed_at"`
			Competency  string     `yaml:"competency"`
			ExamType    string     `yaml:"exam_type"`
		} `yaml:"answers"`

		Enrollments []struct {
			CourseID   string `yaml:"course_id"`
			Active     bool   `yaml:"active"`
			Competency string `yaml:"competency"`
		} `yaml:"enrollments"`
	} `yaml:"users"`
}

// LoadFixture reads a YAML fixture file into a new Store.
func LoadFixture(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return fx.Store(), nil
}

// Store builds a Store holding the fixture's records.
func (fx Fixture) Store() *Store {
	s := NewStore()

	for _, d := range fx.Definitions {
		if d.Criteria != "" && !json.Valid([]byte(d.Criteria)) {
			// Kept as a JSON string so evaluation reports it as invalid.
			d.Criteria = fmt.Sprintf("%q", d.Criteria)
		}
		active := d.Active == nil || *d.Active
		s.AddDefinition(achievement.Definition{
			ID:          d.ID,
			Name:        d.Name,
			Description: d.Description,
			IconName:    d.Icon,
			Category:    d.Category,
			Points:      d.Points,
			Criteria:    json.RawMessage(d.Criteria),
			IsActive:    active,
		})
	}

	for _, c := range fx.Competencies {
		s.AddCompetency(activity.Competency{Key: c.Key, Name: c.Name})
	}
	for id, lessons := range fx.Courses {
		s.SetCourseLessons(id, lessons...)
	}

	for userID, u := range fx.Users {
		for i, l := range u.Lessons {
			s.AddLessonProgress(activity.LessonProgress{
				ID:               fmt.Sprintf("%s-lp-%d", userID, i),
				UserID:           userID,
				LessonID:         l.LessonID,
				Status:           l.Status,
				Percentage:       l.Percentage,
				TimeSpentMinutes: l.Minutes,
				UpdatedAt:        l.UpdatedAt,
			})
		}
		for i, e := range u.Exams {
			id := e.ID
			if id == "" {
				id = fmt.Sprintf("%s-ex-%d", userID, i)
			}
			s.AddExamResult(activity.ExamResult{
				ID:          id,
				UserID:      userID,
				ExamType:    e.ExamType,
				Competency:  e.Competency,
				Score:       e.Score,
				Passed:      e.Score >= achievement.PassingScore,
				CompletedAt: e.CompletedAt,
			})
		}
		for i, a := range u.Answers {
			s.AddQuestionAnswer(userID, activity.QuestionAnswer{
				ID:               fmt.Sprintf("%s-qa-%d", userID, i),
				IsCorrect:        a.Correct,
				Difficulty:       a.Difficulty,
				TimeSpentSeconds: a.Seconds,
				CompletedAt:      a.CompletedAt,
				Competency:       a.Competency,
				ExamType:         a.ExamType,
			})
		}
		for _, e := range u.Enrollments {
			s.AddEnrollment(activity.Enrollment{
				UserID:     userID,
				CourseID:   e.CourseID,
				Active:     e.Active,
				Competency: e.Competency,
			})
		}
	}

	return s
}
