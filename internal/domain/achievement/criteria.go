package achievement

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/edumastery/mastery-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PAYLOAD
// ══════════════════════════════════════════════════════════════════════════════

// PayloadField is one top-level key of a stored criteria object.
type PayloadField struct {
	Key   string
	Value any
}

// Payload is a criteria object with its keys in document order.
type Payload []PayloadField

// Get returns the value stored under key.
func (p Payload) Get(key string) (any, bool) {
	for _, f := range p {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// String renders the payload as a JSON object in key order.
func (p Payload) String() string {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(f.Key)
		value, err := json.Marshal(f.Value)
		if err != nil {
			value = []byte("null")
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.String()
}

// ParsePayload decodes a JSON object keeping key order. Numbers are kept as
// json.Number.
func ParsePayload(raw []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, newFormatError("criteria is not valid JSON", raw, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, newFormatError("criteria is not a JSON object", raw, nil)
	}

	var payload Payload
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, newFormatError("criteria is not valid JSON", raw, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, newFormatError("criteria key is not a string", raw, nil)
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, newFormatError("criteria is not valid JSON", raw, err)
		}
		payload = append(payload, PayloadField{Key: key, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return nil, newFormatError("criteria is not valid JSON", raw, err)
	}
	return payload, nil
}

// numericValue extracts a finite number from a decoded JSON value. Numeric
// strings count; booleans do not.
func numericValue(v any) (float64, bool) {
	var (
		f   float64
		err error
	)
	switch n := v.(type) {
	case json.Number:
		f, err = n.Float64()
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// CriteriaFormatError reports a criteria payload that cannot be normalized.
// It matches shared.ErrCriteriaFormat and shared.ErrInvalidFormat.
type CriteriaFormatError struct {
	Reason  string
	Payload string
	Err     error
}

func newFormatError(reason string, raw []byte, err error) *CriteriaFormatError {
	return &CriteriaFormatError{Reason: reason, Payload: string(raw), Err: err}
}

// Error implements the error interface.
func (e *CriteriaFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("criteria format: %s: %v", e.Reason, e.Err)
	}
	return "criteria format: " + e.Reason
}

// Unwrap returns the domain sentinel.
func (e *CriteriaFormatError) Unwrap() error {
	return shared.ErrCriteriaFormat
}

// IsCriteriaFormat reports whether err is a normalization failure.
func IsCriteriaFormat(err error) bool {
	var cfe *CriteriaFormatError
	return errors.As(err, &cfe)
}

// ══════════════════════════════════════════════════════════════════════════════
// NORMALIZER
// ══════════════════════════════════════════════════════════════════════════════

// Alias maps a legacy criteria key to a canonical metric.
type Alias struct {
	Key    string
	Metric MetricType
}

// DefaultAliases returns the legacy keys seen in stored definitions, in
// lookup order.
func DefaultAliases() []Alias {
	return []Alias{
		{"lessonsCompleted", MetricLessonsCompleted},
		{"examsTaken", MetricExamsCompleted},
		{"examsPassed", MetricExamsPassed},
		{"examScore", MetricExamScore},
		{"perfectScore", MetricPerfectScore},
		{"perfectExam", MetricPerfectScore},
		{"studyTimeMinutes", MetricStudyTimeMinutes},
		{"totalStudyTime", MetricStudyTimeMinutes},
		{"studyStreak", MetricStudyStreakDays},
		{"streakDays", MetricStudyStreakDays},
		{"dailyStudyTime", MetricDailyStudyTime},
		{"averageScore", MetricAverageScore},
		{"courseCompleted", MetricCourseCompleted},
	}
}

// Normalizer turns stored criteria into Criteria.
type Normalizer struct {
	aliases []Alias
}

// NewNormalizer creates a normalizer over a copy of aliases.
func NewNormalizer(aliases []Alias) *Normalizer {
	return &Normalizer{aliases: append([]Alias(nil), aliases...)}
}

// NewDefaultNormalizer creates a normalizer with DefaultAliases.
func NewDefaultNormalizer() *Normalizer {
	return NewNormalizer(DefaultAliases())
}

// NormalizeRaw parses and normalizes a stored criteria document.
func (n *Normalizer) NormalizeRaw(raw json.RawMessage) (Criteria, error) {
	payload, err := ParsePayload(raw)
	if err != nil {
		return Criteria{}, err
	}
	c, err := n.Normalize(payload)
	var cfe *CriteriaFormatError
	if errors.As(err, &cfe) {
		cfe.Payload = string(raw)
	}
	return c, err
}

// Normalize resolves a payload in this order:
//  1. explicit "type" and "value" keys;
//  2. the first alias, in table order, present in the payload;
//  3. the first numeric key, lower-cased, taken as a custom metric.
//
// A payload without any numeric value fails with *CriteriaFormatError
// carrying the payload.
func (n *Normalizer) Normalize(payload Payload) (Criteria, error) {
	c, err := n.resolve(payload)
	var cfe *CriteriaFormatError
	if errors.As(err, &cfe) && cfe.Payload == "" {
		cfe.Payload = payload.String()
	}
	return c, err
}

func (n *Normalizer) resolve(payload Payload) (Criteria, error) {
	if t, ok := payload.Get("type"); ok {
		if v, ok := payload.Get("value"); ok {
			name, isString := t.(string)
			if !isString || strings.TrimSpace(name) == "" {
				return Criteria{}, &CriteriaFormatError{Reason: "type must be a non-empty string"}
			}
			return criteria(MetricType(strings.TrimSpace(name)), v)
		}
	}

	for _, alias := range n.aliases {
		if v, ok := payload.Get(alias.Key); ok {
			return criteria(alias.Metric, v)
		}
	}

	for _, f := range payload {
		if required, ok := numericValue(f.Value); ok {
			return build(MetricType(strings.ToLower(strings.TrimSpace(f.Key))), required)
		}
	}

	return Criteria{}, &CriteriaFormatError{Reason: "no numeric field"}
}

func criteria(metric MetricType, v any) (Criteria, error) {
	required, ok := numericValue(v)
	if !ok {
		return Criteria{}, &CriteriaFormatError{Reason: fmt.Sprintf("value of %s is not numeric", metric)}
	}
	return build(metric, required)
}

func build(metric MetricType, required float64) (Criteria, error) {
	if required < 0 {
		return Criteria{}, &CriteriaFormatError{Reason: fmt.Sprintf("required value of %s is negative", metric)}
	}
	return Criteria{Metric: metric, Required: required}, nil
}

// Payload renders the canonical form, which normalizes to c again.
func (c Criteria) Payload() Payload {
	return Payload{
		{Key: "type", Value: string(c.Metric)},
		{Key: "value", Value: c.Required},
	}
}

// MarshalJSON writes the canonical {"type", "value"} object.
func (c Criteria) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string  `json:"type"`
		Value float64 `json:"value"`
	}{string(c.Metric), c.Required})
}
