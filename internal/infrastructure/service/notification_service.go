// Package service holds the adapters that connect application ports to
// concrete infrastructure.
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/edumastery/mastery-engine/internal/application/saga"
	"github.com/edumastery/mastery-engine/internal/domain/shared"
	"github.com/edumastery/mastery-engine/pkg/logger"
)

// IDGeneratorImpl implements saga.IDGenerator.
type IDGeneratorImpl struct{}

func NewIDGenerator() *IDGeneratorImpl {
	return &IDGeneratorImpl{}
}

func (g *IDGeneratorImpl) GenerateID() string {
	return uuid.New().String()
}

// NotificationPublisher implements saga.Notifier by turning each unlock into
// an AchievementUnlockedEvent on the event bus.
type NotificationPublisher struct {
	publisher shared.EventPublisher
	ids       saga.IDGenerator
	logger    *logger.Logger
}

var _ saga.Notifier = (*NotificationPublisher)(nil)

func NewNotificationPublisher(publisher shared.EventPublisher, ids saga.IDGenerator, log *logger.Logger) *NotificationPublisher {
	if ids == nil {
		ids = NewIDGenerator()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &NotificationPublisher{
		publisher: publisher,
		ids:       ids,
		logger:    log.With(logger.Component("notification_publisher")),
	}
}

// NotifyUnlocked publishes the unlock event.
func (p *NotificationPublisher) NotifyUnlocked(ctx context.Context, n saga.UnlockNotification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	event := shared.NewAchievementUnlockedEvent(
		p.ids.GenerateID(),
		n.UserID,
		n.AchievementID,
		n.AchievementName,
		n.AchievementDescription,
		n.UnlockedAt,
	)
	if err := p.publisher.Publish(event); err != nil {
		return fmt.Errorf("publish unlock event: %w", err)
	}
	p.logger.Debug("unlock event published",
		logger.UserID(n.UserID),
		logger.AchievementID(n.AchievementID),
	)
	return nil
}
