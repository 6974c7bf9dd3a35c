package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is prepended to the event type.
const DefaultSubjectPrefix = "perps.events"

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes each event as JSON on <prefix>.<type>.
type NATSPublisher struct {
	conn   Conn
	prefix string
	logger log.Logger
}

// NewNATSPublisher publishes through conn.
func NewNATSPublisher(conn Conn, prefix string, logger log.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

// ConnectNATS dials url and returns a publisher with the connection. The
// caller closes the connection.
func ConnectNATS(url, prefix string, logger log.Logger) (*NATSPublisher, *nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("perpd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return NewNATSPublisher(nc, prefix, logger), nc, nil
}

func (p *NATSPublisher) Publish(envs []Envelope) error {
	for _, e := range envs {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		subject := Subject(p.prefix, e.Type)
		if err := p.conn.Publish(subject, data); err != nil {
			p.logger.Error("failed to publish event", "subject", subject, "id", e.ID, "error", err)
			return fmt.Errorf("publish %s: %w", subject, err)
		}
	}
	return nil
}
