// Package eventhandler contains subscribers for domain events.
package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/edumastery/mastery-engine/internal/domain/shared"
	"github.com/edumastery/mastery-engine/pkg/logger"
	"github.com/edumastery/mastery-engine/pkg/retry"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ACHIEVEMENT UNLOCKED HANDLER
// Forwards unlock events to a NotificationSink. Events may come from this
// process or from another worker through the Redis bus, so the handler
// reads the payload map instead of asserting a concrete type.
// ═══════════════════════════════════════════════════════════════════════════

// UnlockMessage is what a sink receives for one unlock.
type UnlockMessage struct {
	EventID       string
	UserID        string
	AchievementID string
	Title         string
	Body          string
	UnlockedAt    time.Time
}

// NotificationSink hands messages to whatever delivers them.
type NotificationSink interface {
	Send(ctx context.Context, msg UnlockMessage) error
}

// LogSink writes messages to the log. It is the default sink while no
// delivery channel is configured.
type LogSink struct {
	logger *logger.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogSink{logger: log.With(logger.Component("notification_sink"))}
}

// Send implements NotificationSink.
func (s *LogSink) Send(_ context.Context, msg UnlockMessage) error {
	s.logger.Info("achievement unlocked",
		logger.UserID(msg.UserID),
		logger.AchievementID(msg.AchievementID),
		logger.String("title", msg.Title),
		logger.Time("unlocked_at", msg.UnlockedAt),
	)
	return nil
}

// AchievementUnlockedConfig contains handler configuration.
type AchievementUnlockedConfig struct {
	// SendTimeout bounds a single delivery, retries included.
	SendTimeout time.Duration

	// MaxAttempts is how often a failing sink is tried.
	MaxAttempts int
}

// DefaultAchievementUnlockedConfig returns the default configuration.
func DefaultAchievementUnlockedConfig() AchievementUnlockedConfig {
	return AchievementUnlockedConfig{
		SendTimeout: 10 * time.Second,
		MaxAttempts: 3,
	}
}

// OnAchievementUnlockedHandler handles EventAchievementUnlocked.
type OnAchievementUnlockedHandler struct {
	sink    NotificationSink
	retrier *retry.Retrier
	logger  *logger.Logger
	config  AchievementUnlockedConfig
}

// NewOnAchievementUnlockedHandler creates the handler. A nil sink logs.
func NewOnAchievementUnlockedHandler(
	sink NotificationSink,
	log *logger.Logger,
	config AchievementUnlockedConfig,
) *OnAchievementUnlockedHandler {
	if log == nil {
		log = logger.NewNop()
	}
	if sink == nil {
		sink = NewLogSink(log)
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultAchievementUnlockedConfig().SendTimeout
	}

	return &OnAchievementUnlockedHandler{
		sink: sink,
		retrier: retry.New(
			retry.WithMaxAttempts(config.MaxAttempts),
			retry.WithInitialDelay(50*time.Millisecond),
			retry.WithMaxDelay(time.Second),
		),
		logger: log.With(logger.String("handler", "on_achievement_unlocked")),
		config: config,
	}
}

// EventType returns the event this handler subscribes to.
func (h *OnAchievementUnlockedHandler) EventType() shared.EventType {
	return shared.EventAchievementUnlocked
}

// Register subscribes the handler on bus.
func (h *OnAchievementUnlockedHandler) Register(bus shared.EventSubscriber) error {
	return bus.Subscribe(h.EventType(), h.Handle)
}

// Handle implements shared.EventHandler.
func (h *OnAchievementUnlockedHandler) Handle(event shared.Event) error {
	if event.EventType() != shared.EventAchievementUnlocked {
		h.logger.Warn("unexpected event type", logger.String("event_type", string(event.EventType())))
		return nil
	}

	msg, err := messageFromPayload(event)
	if err != nil {
		h.logger.Error("malformed unlock event", logger.Err(err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.SendTimeout)
	defer cancel()

	if err := h.retrier.Do(ctx, func(ctx context.Context) error {
		return h.sink.Send(ctx, msg)
	}); err != nil {
		h.logger.Error("failed to deliver unlock notification",
			logger.UserID(msg.UserID),
			logger.AchievementID(msg.AchievementID),
			logger.Err(err),
		)
		return fmt.Errorf("send unlock notification: %w", err)
	}
	return nil
}

func messageFromPayload(event shared.Event) (UnlockMessage, error) {
	p := event.Payload()
	str := func(key string) string {
		v, _ := p[key].(string)
		return v
	}

	msg := UnlockMessage{
		EventID:       str("event_id"),
		UserID:        str("user_id"),
		AchievementID: str("achievement_id"),
		Title:         str("achievement_name"),
		Body:          str("achievement_description"),
		UnlockedAt:    event.OccurredAt(),
	}
	if msg.UserID == "" || msg.AchievementID == "" {
		return UnlockMessage{}, shared.NewDomainError("notification", "Handle", shared.ErrInvalidInput,
			"user_id and achievement_id are required")
	}
	if msg.Title == "" {
		msg.Title = msg.AchievementID
	}
	return msg, nil
}
