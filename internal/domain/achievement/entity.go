// Package achievement contains the achievement catalogue model and the pure
// pipeline that decides whether a user has earned an achievement:
//
//	stored criteria ─► Normalizer ─► Criteria{Metric, Required}
//	                                         │
//	activity records ─► MetricEvaluator ─────┤
//	                                         ▼
//	                                     Evaluator ─► Evaluation{ShouldUnlock}
//
// Persisting the unlock is the job of the application layer.
package achievement

import (
	"encoding/json"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// METRIC TYPES
// ══════════════════════════════════════════════════════════════════════════════

// MetricType names a measurable kind of user activity.
type MetricType string

const (
	MetricLessonsCompleted      MetricType = "lessons_completed"
	MetricExamsCompleted        MetricType = "exams_completed"
	MetricExamsPassed           MetricType = "exams_passed"
	MetricPerfectScore          MetricType = "perfect_score"
	MetricExamScore             MetricType = "exam_score"
	MetricHighScoresStreak      MetricType = "high_scores_streak"
	MetricStudyTimeMinutes      MetricType = "study_time_minutes"
	MetricDailyStudyTime        MetricType = "daily_study_time"
	MetricStudyStreakDays       MetricType = "study_streak_days"
	MetricAverageScore          MetricType = "average_score"
	MetricImprovementStreak     MetricType = "improvement_streak"
	MetricAllCompetenciesHigh   MetricType = "all_competencies_high"
	MetricCourseCompleted       MetricType = "course_completed"
	MetricDifferentCompetencies MetricType = "different_competencies"
	MetricIcfesScore            MetricType = "icfes_score"
)

// KnownMetrics lists every metric the evaluator implements.
func KnownMetrics() []MetricType {
	return []MetricType{
		MetricLessonsCompleted,
		MetricExamsCompleted,
		MetricExamsPassed,
		MetricPerfectScore,
		MetricExamScore,
		MetricHighScoresStreak,
		MetricStudyTimeMinutes,
		MetricDailyStudyTime,
		MetricStudyStreakDays,
		MetricAverageScore,
		MetricImprovementStreak,
		MetricAllCompetenciesHigh,
		MetricCourseCompleted,
		MetricDifferentCompetencies,
		MetricIcfesScore,
	}
}

// IsKnown reports whether the metric has an implementation.
func (m MetricType) IsKnown() bool {
	for _, k := range KnownMetrics() {
		if k == m {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer.
func (m MetricType) String() string {
	return string(m)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEFINITIONS
// ══════════════════════════════════════════════════════════════════════════════

// Definition is an administrator-authored achievement. Criteria is the raw
// stored payload; it is interpreted only through a Normalizer.
type Definition struct {
	ID          string
	Name        string
	Description string
	IconName    string
	Category    string
	Points      int
	Criteria    json.RawMessage
	IsActive    bool
	CreatedAt   time.Time
}

// Criteria is the canonical unlock rule of a definition.
type Criteria struct {
	Metric   MetricType
	Required float64
}

// IsSatisfiedBy reports whether value meets the threshold. The comparison is
// the same for every metric, including the 0/1 ones.
func (c Criteria) IsSatisfiedBy(value float64) bool {
	return value >= c.Required
}

// UserAchievement records that a user unlocked a definition. It is written
// once and never updated.
type UserAchievement struct {
	ID            string
	UserID        string
	AchievementID string
	UnlockedAt    time.Time
}
