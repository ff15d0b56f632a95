package app

import (
	"context"

	"github.com/sirupsen/logrus"
)

// PresenceSetter updates the bot's visible status on the platform.
type PresenceSetter interface {
	SetPresence(ctx context.Context, text string) error
}

// PresencePublisher sets a static status each time the connection becomes ready.
// Failures are logged and never retried.
type PresencePublisher struct {
	setter PresenceSetter
	text   string
	logger *logrus.Entry
}

func NewPresencePublisher(setter PresenceSetter, text string, logger *logrus.Entry) *PresencePublisher {
	return &PresencePublisher{setter: setter, text: text, logger: logger}
}

func (p *PresencePublisher) Publish(ctx context.Context) {
	if err := p.setter.SetPresence(ctx, p.text); err != nil {
		p.logger.WithError(err).Warn("Failed to set presence")
		return
	}
	p.logger.WithField("status", p.text).Info("Presence set")
}
