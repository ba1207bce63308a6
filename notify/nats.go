package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix roots every published subject
const DefaultSubjectPrefix = "watchtower"

// Publisher is the subset of *nats.Conn used for delivery
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes notifications as JSON on
// <prefix>.<alerts|incidents>.<action>, e.g. watchtower.alerts.created.
type NATSNotifier struct {
	pub     Publisher
	prefix  string
	breaker *Breaker
	logger  *zap.SugaredLogger
}

// NewNATSNotifier wraps an established publisher
func NewNATSNotifier(pub Publisher, prefix string, logger *zap.SugaredLogger) *NATSNotifier {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSNotifier{pub: pub, prefix: prefix, breaker: NewBreaker(0, 0), logger: logger}
}

// ConnectNATS dials url with reconnect handling logged through logger
func ConnectNATS(url, name string, logger *zap.SugaredLogger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnw("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Infow("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Subject returns the subject a notification is published on
func (n *NATSNotifier) Subject(note Notification) string {
	return n.prefix + "." + note.Kind.Entity() + "." + note.Kind.Action()
}

// Notify publishes note unless the breaker is open
func (n *NATSNotifier) Notify(ctx context.Context, note Notification) error {
	if err := n.breaker.Allow(); err != nil {
		return err
	}
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	err = n.pub.Publish(n.Subject(note), data)
	n.breaker.Record(err)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", note.Kind, err)
	}
	return nil
}
