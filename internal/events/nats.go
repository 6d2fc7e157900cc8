package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/routa/routa/internal/common/logger"
)

// NATSMirror republishes every emitted event to NATS so external consumers
// (dashboards, audit sinks) can observe coordination without touching the
// in-process bus. Subjects follow routa.events.<workspaceId>.<type>.
type NATSMirror struct {
	conn   *nats.Conn
	logger *logger.Logger
}

// NewNATSMirror connects to NATS with reconnection handling.
func NewNATSMirror(url, clientID string, log *logger.Logger) (*NATSMirror, error) {
	opts := []nats.Option{
		nats.Name(clientID),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info("connected to NATS", zap.String("url", url))

	return &NATSMirror{
		conn:   conn,
		logger: log.WithComponent("nats-mirror"),
	}, nil
}

// Attach subscribes the mirror to the bus. Every event matching the empty
// filter (all events) is forwarded.
func (m *NATSMirror) Attach(bus *Bus) string {
	return bus.Subscribe(Filter{}, m.publish)
}

func (m *NATSMirror) publish(event *AgentEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		m.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	subject := fmt.Sprintf("routa.events.%s.%s", event.WorkspaceID, event.Type)
	if err := m.conn.Publish(subject, data); err != nil {
		m.logger.Error("failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// Close drains and closes the NATS connection.
func (m *NATSMirror) Close() {
	if m.conn != nil {
		m.conn.Close()
	}
}
