// Package events carries thread coverage transitions and account sync outcomes from the
// outbox table to a message broker.
package events

import (
	"context"
	"fmt"

	"github.com/Martian-dev/watchlane/internal/config"
)

// Publisher hands one outbox message to a broker. msgID lets the broker drop redeliveries.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, msgID string) error
	Close()
}

// NewPublisher connects the configured broker. It returns nil, nil when events are disabled.
func NewPublisher(ctx context.Context, cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "nats":
		p, err := NewNATSPublisher(cfg.URL, cfg.SubjectPrefix)
		if err != nil {
			return nil, err
		}
		if err := p.EnsureStream(ctx); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	case "amqp":
		p, err := NewAMQPPublisher(cfg.URL, cfg.SubjectPrefix)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported events backend %q", cfg.Backend)
	}
}
