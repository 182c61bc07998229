package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

const (
	EventAchievementUnlocked EventType = "achievement.unlocked"
	EventEvaluationCompleted EventType = "achievement.evaluation_completed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(id string, eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		ID:          id,
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
	}
}

// AchievementUnlockedEvent carries the notification payload emitted on the
// first unlock of an achievement. The aggregate is the user.
type AchievementUnlockedEvent struct {
	BaseEvent
	UserID                 string `json:"user_id"`
	AchievementID          string `json:"achievement_id"`
	AchievementName        string `json:"achievement_name"`
	AchievementDescription string `json:"achievement_description"`
}

// NewAchievementUnlockedEvent creates the unlock event.
func NewAchievementUnlockedEvent(eventID, userID, achievementID, name, description string, at time.Time) *AchievementUnlockedEvent {
	return &AchievementUnlockedEvent{
		BaseEvent:              NewBaseEvent(eventID, EventAchievementUnlocked, userID, at),
		UserID:                 userID,
		AchievementID:          achievementID,
		AchievementName:        name,
		AchievementDescription: description,
	}
}

// Payload implements Event interface.
func (e *AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"event_id":                e.ID,
		"user_id":                 e.UserID,
		"achievement_id":          e.AchievementID,
		"achievement_name":        e.AchievementName,
		"achievement_description": e.AchievementDescription,
	}
}

// EvaluationCompletedEvent summarizes one batch run for a user.
type EvaluationCompletedEvent struct {
	BaseEvent
	UserID    string   `json:"user_id"`
	Evaluated int      `json:"evaluated"`
	Skipped   int      `json:"skipped"`
	Unlocked  []string `json:"unlocked"`
}

// Payload implements Event interface.
func (e *EvaluationCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"evaluated": e.Evaluated,
		"skipped":   e.Skipped,
		"unlocked":  e.Unlocked,
	}
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for a specific event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
