// Package notify fans status transition events out to their consumers.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ernie/craftwatch/internal/domain"
	"github.com/nats-io/nats.go"
)

// Sink receives transition events; Publish must not block for long
type Sink interface {
	Publish(event domain.Event)
}

// Multi forwards every event to each sink in order
type Multi []Sink

// Publish implements Sink
func (m Multi) Publish(event domain.Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(event)
		}
	}
}

// NATSPublisher publishes events as JSON to a subject
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	log     *slog.Logger
}

// ConnectNATS connects to url and returns a publisher for subject
func ConnectNATS(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("craftwatch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &NATSPublisher{nc: nc, subject: subject, log: logger}, nil
}

// Publish implements Sink. Failures are logged; events are not retried.
func (p *NATSPublisher) Publish(event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Error("Encoding event failed", "event", event.Type, "err", err)
		return
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		p.log.Warn("Publishing event failed", "event", event.Type, "err", err)
	}
}

// Close flushes pending events and closes the connection
func (p *NATSPublisher) Close() error {
	err := p.nc.Drain()
	if err != nil {
		p.nc.Close()
	}
	return err
}
