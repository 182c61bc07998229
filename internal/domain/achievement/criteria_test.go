package achievement

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumastery/mastery-engine/internal/domain/shared"
)

func normalize(t *testing.T, raw string) (Criteria, error) {
	t.Helper()
	return NewDefaultNormalizer().NormalizeRaw(json.RawMessage(raw))
}

func TestNormalize_Formats(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Criteria
	}{
		{"canonical", `{"type":"lessons_completed","value":3}`, Criteria{MetricLessonsCompleted, 3}},
		{"canonical with extras", `{"icon":"x","value":5,"type":"exam_score"}`, Criteria{MetricExamScore, 5}},
		{"alias", `{"lessonsCompleted":3}`, Criteria{MetricLessonsCompleted, 3}},
		{"alias exams taken", `{"examsTaken":2}`, Criteria{MetricExamsCompleted, 2}},
		{"alias perfect exam", `{"perfectExam":1}`, Criteria{MetricPerfectScore, 1}},
		{"alias streak days", `{"streakDays":7}`, Criteria{MetricStudyStreakDays, 7}},
		{"alias total study time", `{"totalStudyTime":600}`, Criteria{MetricStudyTimeMinutes, 600}},
		{"alias course completed", `{"courseCompleted":1}`, Criteria{MetricCourseCompleted, 1}},
		{"alias table order wins", `{"averageScore":80,"lessonsCompleted":1}`, Criteria{MetricLessonsCompleted, 1}},
		{"numeric string", `{"examsPassed":"4"}`, Criteria{MetricExamsPassed, 4}},
		{"first numeric key", `{"label":"x","High_Scores_Streak":3,"other":9}`, Criteria{MetricHighScoresStreak, 3}},
		{"custom metric", `{"Badges":2}`, Criteria{MetricType("badges"), 2}},
		{"zero threshold", `{"type":"icfes_score","value":0}`, Criteria{MetricIcfesScore, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalize(t, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Failures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty object", `{}`},
		{"no numeric field", `{"label":"x","enabled":true}`},
		{"not an object", `[1,2,3]`},
		{"invalid json", `{"type":`},
		{"empty input", ``},
		{"negative value", `{"type":"exam_score","value":-1}`},
		{"negative alias", `{"lessonsCompleted":-3}`},
		{"non numeric value", `{"type":"exam_score","value":"high"}`},
		{"non string type", `{"type":7,"value":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := normalize(t, tt.raw)
			require.Error(t, err)
			assert.True(t, IsCriteriaFormat(err))
			assert.ErrorIs(t, err, shared.ErrInvalidFormat)
		})
	}
}

func TestNormalize_AliasEquivalence(t *testing.T) {
	alias, err := normalize(t, `{"lessonsCompleted":3}`)
	require.NoError(t, err)
	canonical, err := normalize(t, `{"type":"lessons_completed","value":3}`)
	require.NoError(t, err)

	assert.Equal(t, canonical, alias)
}

func TestNormalize_Idempotent(t *testing.T) {
	n := NewDefaultNormalizer()
	for _, raw := range []string{
		`{"type":"lessons_completed","value":3}`,
		`{"studyStreak":5}`,
		`{"custom_thing":1.5}`,
	} {
		first, err := n.NormalizeRaw(json.RawMessage(raw))
		require.NoError(t, err)

		again, err := n.Normalize(first.Payload())
		require.NoError(t, err)
		assert.Equal(t, first, again)

		encoded, err := json.Marshal(first)
		require.NoError(t, err)
		fromJSON, err := n.NormalizeRaw(encoded)
		require.NoError(t, err)
		assert.Equal(t, first, fromJSON)
	}
}

func TestNormalize_FormatErrorCarriesPayload(t *testing.T) {
	n := NewDefaultNormalizer()

	for _, raw := range []string{
		`{"type":5,"value":1}`,
		`{"lessonsCompleted":"many"}`,
		`{"label":"x"}`,
		`{"b":true,"a":-3}`,
	} {
		_, err := n.NormalizeRaw(json.RawMessage(raw))
		var cfe *CriteriaFormatError
		require.ErrorAs(t, err, &cfe, raw)
		assert.Equal(t, raw, cfe.Payload)
	}

	_, err := n.Normalize(Payload{{Key: "label", Value: "x"}, {Key: "flag", Value: true}})
	var cfe *CriteriaFormatError
	require.ErrorAs(t, err, &cfe)
	assert.Equal(t, `{"label":"x","flag":true}`, cfe.Payload)
}

func TestNormalizer_CustomAliases(t *testing.T) {
	aliases := []Alias{{Key: "logros", Metric: MetricLessonsCompleted}}
	n := NewNormalizer(aliases)
	aliases[0].Metric = MetricExamScore

	got, err := n.NormalizeRaw(json.RawMessage(`{"logros":2}`))
	require.NoError(t, err)
	assert.Equal(t, Criteria{MetricLessonsCompleted, 2}, got)
}

func TestParsePayload_KeepsOrder(t *testing.T) {
	p, err := ParsePayload([]byte(`{"z":1,"a":{"nested":true},"m":"x"}`))
	require.NoError(t, err)
	require.Len(t, p, 3)
	assert.Equal(t, "z", p[0].Key)
	assert.Equal(t, "a", p[1].Key)
	assert.Equal(t, "m", p[2].Key)
	assert.Equal(t, json.Number("1"), p[0].Value)
}

func TestCriteria_IsSatisfiedBy(t *testing.T) {
	c := Criteria{Metric: MetricAllCompetenciesHigh, Required: 1}
	assert.True(t, c.IsSatisfiedBy(1))
	assert.False(t, c.IsSatisfiedBy(0))

	// Lowering the threshold never turns a success into a failure.
	for required := 10.0; required >= 0; required-- {
		assert.True(t, Criteria{Metric: MetricExamScore, Required: required}.IsSatisfiedBy(10))
	}
}

func TestValidateCatalogue(t *testing.T) {
	defs := []Definition{
		{ID: "1", Name: "ok", Criteria: json.RawMessage(`{"lessonsCompleted":1}`)},
		{ID: "2", Name: "broken", Criteria: json.RawMessage(`{"label":"x"}`)},
		{ID: "3", Name: "custom", Criteria: json.RawMessage(`{"badges":1}`)},
		{ID: "4", Name: "free", Criteria: json.RawMessage(`{"badges":0}`)},
	}

	issues := ValidateCatalogue(NewDefaultNormalizer(), defs)
	require.Len(t, issues, 2)
	assert.Equal(t, "2", issues[0].AchievementID)
	assert.Equal(t, "3", issues[1].AchievementID)
	assert.Contains(t, issues[1].String(), "unknown metric badges")
}
