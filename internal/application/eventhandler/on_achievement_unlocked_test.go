package eventhandler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumastery/mastery-engine/internal/domain/shared"
)

type recordingSink struct {
	mu       sync.Mutex
	messages []UnlockMessage
	failures int
}

func (s *recordingSink) Send(_ context.Context, msg UnlockMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("sink unavailable")
	}
	s.messages = append(s.messages, msg)
	return nil
}

// payloadEvent mimics an event that arrived from another process.
type payloadEvent struct {
	payload map[string]interface{}
}

func (e payloadEvent) EventType() shared.EventType     { return shared.EventAchievementUnlocked }
func (e payloadEvent) OccurredAt() time.Time           { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
func (e payloadEvent) AggregateID() string             { return "u1" }
func (e payloadEvent) Payload() map[string]interface{} { return e.payload }

func TestOnAchievementUnlocked_ForwardsToSink(t *testing.T) {
	sink := &recordingSink{}
	h := NewOnAchievementUnlockedHandler(sink, nil, DefaultAchievementUnlockedConfig())
	at := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	err := h.Handle(shared.NewAchievementUnlockedEvent("evt-1", "u1", "first-lesson", "Primera lección", "Completa tu primera lección", at))
	require.NoError(t, err)

	require.Len(t, sink.messages, 1)
	msg := sink.messages[0]
	assert.Equal(t, "evt-1", msg.EventID)
	assert.Equal(t, "u1", msg.UserID)
	assert.Equal(t, "first-lesson", msg.AchievementID)
	assert.Equal(t, "Primera lección", msg.Title)
	assert.Equal(t, "Completa tu primera lección", msg.Body)
	assert.Equal(t, at, msg.UnlockedAt)
}

func TestOnAchievementUnlocked_RemotePayload(t *testing.T) {
	sink := &recordingSink{}
	h := NewOnAchievementUnlockedHandler(sink, nil, DefaultAchievementUnlockedConfig())

	require.NoError(t, h.Handle(payloadEvent{payload: map[string]interface{}{
		"user_id":        "u1",
		"achievement_id": "streak-3",
	}}))
	require.Len(t, sink.messages, 1)
	assert.Equal(t, "streak-3", sink.messages[0].Title)

	err := h.Handle(payloadEvent{payload: map[string]interface{}{"user_id": "u1"}})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	assert.Len(t, sink.messages, 1)
}

func TestOnAchievementUnlocked_RetriesSink(t *testing.T) {
	sink := &recordingSink{failures: 2}
	h := NewOnAchievementUnlockedHandler(sink, nil, AchievementUnlockedConfig{MaxAttempts: 3, SendTimeout: 5 * time.Second})

	require.NoError(t, h.Handle(shared.NewAchievementUnlockedEvent("e", "u1", "a1", "A", "", time.Now())))
	assert.Len(t, sink.messages, 1)

	failing := &recordingSink{failures: 5}
	h = NewOnAchievementUnlockedHandler(failing, nil, AchievementUnlockedConfig{MaxAttempts: 2, SendTimeout: 5 * time.Second})
	assert.Error(t, h.Handle(shared.NewAchievementUnlockedEvent("e", "u1", "a1", "A", "", time.Now())))
	assert.Empty(t, failing.messages)
}

func TestOnAchievementUnlocked_IgnoresOtherEvents(t *testing.T) {
	sink := &recordingSink{}
	h := NewOnAchievementUnlockedHandler(sink, nil, DefaultAchievementUnlockedConfig())

	assert.NoError(t, h.Handle(&shared.EvaluationCompletedEvent{UserID: "u1"}))
	assert.Empty(t, sink.messages)
}

type subscribeRecorder struct {
	types []shared.EventType
}

func (s *subscribeRecorder) Subscribe(t shared.EventType, _ shared.EventHandler) error {
	s.types = append(s.types, t)
	return nil
}

func (s *subscribeRecorder) SubscribeAll(shared.EventHandler) error { return nil }

func TestOnAchievementUnlocked_Register(t *testing.T) {
	rec := &subscribeRecorder{}
	h := NewOnAchievementUnlockedHandler(nil, nil, DefaultAchievementUnlockedConfig())
	require.NoError(t, h.Register(rec))
	assert.Equal(t, []shared.EventType{shared.EventAchievementUnlocked}, rec.types)
}
