package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnState is the websocket link lifecycle state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnected
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateFailed:
		return "FAILED"
	default:
		return "DISCONNECTED"
	}
}

// WSConfig configures the execution-link websocket client.
type WSConfig struct {
	URL              string        `yaml:"url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`

	// MaxRetries bounds consecutive reconnect attempts. Exhausting
	// them moves the client to FAILED, which only an operator
	// Reconnect clears.
	MaxRetries  int           `yaml:"max_retries"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// DefaultWSConfig returns the production defaults.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		URL:              "ws://127.0.0.1:8787/execution",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		MaxRetries:       5,
		BaseBackoff:      250 * time.Millisecond,
		MaxBackoff:       10 * time.Second,
	}
}

// wireMessage is the envelope written on the socket.
type wireMessage struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sent_at"`
}

// WSClient publishes engine messages over a single websocket
// connection, reconnecting with exponential backoff and jitter.
type WSClient struct {
	cfg WSConfig

	mu       sync.Mutex
	conn     *websocket.Conn
	state    ConnState
	attempts int
}

// NewWSClient creates a disconnected client; the first Publish dials.
func NewWSClient(cfg WSConfig) *WSClient {
	return &WSClient{cfg: cfg}
}

// State reports the current connection state.
func (c *WSClient) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Publish delivers one payload on the channel, dialing as needed.
// A client in FAILED state rejects immediately.
func (c *WSClient) Publish(ctx context.Context, channel string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateFailed {
		return ErrTerminalFailure
	}
	if err := c.ensureConnectedLocked(ctx); err != nil {
		return err
	}

	msg, err := json.Marshal(wireMessage{Channel: channel, Payload: payload, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("transport: encode message: %w", err)
	}
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		c.dropLocked()
		return fmt.Errorf("transport: write %s: %w", channel, err)
	}
	return nil
}

// Reconnect is the operator escape hatch out of FAILED: it resets the
// retry budget and dials again.
func (c *WSClient) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
	c.state = StateDisconnected
	c.attempts = 0
	return c.ensureConnectedLocked(ctx)
}

// Close tears down the connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
	return nil
}

func (c *WSClient) ensureConnectedLocked(ctx context.Context) error {
	if c.state == StateConnected && c.conn != nil {
		return nil
	}

	for c.attempts < c.cfg.MaxRetries {
		if c.attempts > 0 {
			delay := backoffDelay(c.cfg.BaseBackoff, c.cfg.MaxBackoff, c.attempts)
			log.Info().Dur("delay", delay).Int("attempt", c.attempts).
				Msg("execution link reconnect backoff")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		c.attempts++

		dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
		conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
		if err == nil {
			c.conn = conn
			c.state = StateConnected
			c.attempts = 0
			log.Info().Str("url", c.cfg.URL).Msg("execution link connected")
			return nil
		}
		log.Warn().Err(err).Str("url", c.cfg.URL).Int("attempt", c.attempts).
			Msg("execution link dial failed")
	}

	c.state = StateFailed
	log.Error().Str("url", c.cfg.URL).Int("attempts", c.cfg.MaxRetries).
		Msg("execution link entered terminal FAILED state")
	return ErrTerminalFailure
}

func (c *WSClient) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.state == StateConnected {
		c.state = StateDisconnected
	}
}

// backoffDelay is exponential in the attempt number, capped, with up
// to 50% jitter to avoid thundering-herd reconnects.
func backoffDelay(base, ceiling time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	d := base
	for i := 1; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	if ceiling > 0 && d > ceiling {
		d = ceiling
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
