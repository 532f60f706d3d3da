package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"nhooyr.io/websocket"
)

// Conn is the transport under the Router. The websocket implementation
// below is the real one; tests drive the Router through a fake.
type Conn interface {
	Dial(ctx context.Context) error
	Read(ctx context.Context) (Envelope, error)
	Send(ctx context.Context, typ string, payload any) error
	Close() error
}

type wsConn struct {
	url  string
	conn *websocket.Conn
}

// NewWebsocketConn returns a Conn dialing the given ws:// or wss:// URL.
func NewWebsocketConn(url string) Conn {
	return &wsConn{url: url}
}

func (w *wsConn) Dial(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	w.conn = conn
	return nil
}

func (w *wsConn) Read(ctx context.Context) (Envelope, error) {
	_, data, err := w.conn.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

func (w *wsConn) Send(ctx context.Context, typ string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Envelope{Type: typ, Payload: raw})
	if err != nil {
		return err
	}
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	if w.conn == nil {
		return nil
	}
	return w.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

// backoff computes the reconnect delay for the given attempt:
// exponential with jitter, capped at 30s.
func backoff(attempt int) time.Duration {
	base := 500 * time.Millisecond
	max := 30 * time.Second
	jitter := time.Duration(rand.Float64() * float64(base) * 0.5)
	delay := time.Duration(math.Min(
		float64(base)*math.Pow(2, float64(attempt))+float64(jitter),
		float64(max),
	))
	return delay
}
