// internal/common/messaging/nats.go
package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"substitution-engine/internal/common/config"
	"substitution-engine/internal/common/logger"
)

// NATSClient wraps the NATS connection used for handoff events.
type NATSClient struct {
	Conn *nats.Conn
}

// NewNATS connects and keeps reconnecting forever in the background.
func NewNATS(cfg config.MessagingConfig, log logger.Logger) (*NATSClient, error) {
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name(cfg.NATS.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", map[string]interface{}{"error": err.Error()})
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", map[string]interface{}{"url": c.ConnectedUrl()})
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return &NATSClient{Conn: nc}, nil
}

func (c *NATSClient) Name() string { return "nats" }

// Ping round-trips to the server.
func (c *NATSClient) Ping(ctx context.Context) error {
	if c.Conn == nil || !c.Conn.IsConnected() {
		return errors.New("nats not connected")
	}
	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return c.Conn.FlushTimeout(timeout)
}

// Close drains pending publishes before closing.
func (c *NATSClient) Close() error {
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Drain()
}
