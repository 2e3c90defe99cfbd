package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadLetterQueue(t *testing.T) {
	q := NewDeadLetterQueue(2)

	q.Enqueue(ChannelIntents, []byte(`{"a":1}`), errors.New("boom"))
	q.Enqueue(ChannelIntents, []byte(`{"a":2}`), nil)
	require.Equal(t, 2, q.Len())

	// Overflow drops the oldest.
	q.Enqueue(ChannelHeartbeat, []byte(`{"a":3}`), errors.New("still down"))
	require.Equal(t, 2, q.Len())

	entries := q.Drain()
	require.Len(t, entries, 2)
	assert.JSONEq(t, `{"a":2}`, string(entries[0].Payload))
	assert.Equal(t, ChannelHeartbeat, entries[1].Channel)
	assert.Equal(t, "still down", entries[1].Reason)
	assert.Equal(t, 0, q.Len())
}

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	ceiling := time.Second

	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffDelay(base, ceiling, attempt)
		assert.GreaterOrEqual(t, d, ceiling/2/16, "attempt %d", attempt)
		assert.LessOrEqual(t, d, ceiling, "attempt %d never exceeds the cap", attempt)
	}

	// Late attempts saturate at [ceiling/2, ceiling].
	d := backoffDelay(base, ceiling, 10)
	assert.GreaterOrEqual(t, d, ceiling/2)
}

func TestWSClient_TerminalFailureAndReconnect(t *testing.T) {
	cfg := DefaultWSConfig()
	cfg.URL = "ws://127.0.0.1:1" // nothing listens here
	cfg.MaxRetries = 2
	cfg.BaseBackoff = time.Millisecond
	cfg.MaxBackoff = 2 * time.Millisecond
	c := NewWSClient(cfg)

	err := c.Publish(context.Background(), ChannelIntents, []byte(`{}`))
	require.ErrorIs(t, err, ErrTerminalFailure)
	assert.Equal(t, StateFailed, c.State())

	// FAILED is sticky: publishes reject without dialing.
	err = c.Publish(context.Background(), ChannelIntents, []byte(`{}`))
	require.ErrorIs(t, err, ErrTerminalFailure)

	// Operator reconnect retries (and fails again here, but resets
	// the terminal latch first).
	err = c.Reconnect(context.Background())
	require.Error(t, err)
}

func TestWSClient_PublishRoundTrip(t *testing.T) {
	received := make(chan []byte, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- msg
	}))
	defer srv.Close()

	cfg := DefaultWSConfig()
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewWSClient(cfg)
	defer c.Close()

	err := c.Publish(context.Background(), ChannelIntents, []byte(`{"signal_id":"s1"}`))
	require.NoError(t, err)
	assert.Equal(t, StateConnected, c.State())

	select {
	case msg := <-received:
		assert.Contains(t, string(msg), `"channel":"intents"`)
		assert.Contains(t, string(msg), `"signal_id":"s1"`)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the published message")
	}
}

type flakyPublisher struct {
	calls int
	err   error
}

func (f *flakyPublisher) Publish(_ context.Context, _ string, _ []byte) error {
	f.calls++
	return f.err
}

func TestCircuitPublisher_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flakyPublisher{err: errors.New("link down")}
	p := NewCircuitPublisher("test", inner)

	for i := 0; i < 3; i++ {
		err := p.Publish(context.Background(), ChannelIntents, nil)
		require.Error(t, err)
	}
	callsWhenOpened := inner.calls

	err := p.Publish(context.Background(), ChannelIntents, nil)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, callsWhenOpened, inner.calls, "open circuit must not reach the inner publisher")
}

func TestCircuitPublisher_PassesThroughSuccess(t *testing.T) {
	inner := &flakyPublisher{}
	p := NewCircuitPublisher("test", inner)

	require.NoError(t, p.Publish(context.Background(), ChannelHeartbeat, []byte(`{}`)))
	assert.Equal(t, 1, inner.calls)
}
