package stream

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chriscow/rtvad/pkg/audio"
)

// Client is a websocket client for a stream server. Writes are serialized;
// ReadMessage must be called from a single goroutine.
type Client struct {
	url    string
	conn   *websocket.Conn
	logger *slog.Logger
	mu     sync.Mutex
}

// Dial connects to the stream endpoint at serverURL. A URL without a path
// gets Path appended.
func Dial(ctx context.Context, serverURL string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = Path
	}

	logger.Debug("connecting to stream server", slog.String("url", u.String()))

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	logger.Info("stream connected", slog.String("url", u.String()))
	return &Client{url: u.String(), conn: conn, logger: logger}, nil
}

// DialRetry calls Dial until it succeeds, ctx ends or attempts are
// exhausted, backing off exponentially between tries (1s, 2s, 4s, capped at
// 10s).
func DialRetry(ctx context.Context, serverURL string, attempts int, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		c, err := Dial(ctx, serverURL, logger)
		if err == nil {
			return c, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		delay := time.Duration(math.Min(math.Pow(2, float64(attempt-1)), 10)) * time.Second
		logger.Info("reconnecting with backoff",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

// SendAudio sends samples as one binary message.
func (c *Client) SendAudio(samples []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, audio.Float32Bytes(samples)); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// Send writes a control message.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	c.logger.Debug("sending message", slog.String("type", msg.Type))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write %s: %w", msg.Type, err)
	}
	return nil
}

// Configure asks the server to apply req.
func (c *Client) Configure(req ConfigureRequest) error {
	data, err := toData(req)
	if err != nil {
		return err
	}
	return c.Send(Message{Type: TypeConfigure, Data: data})
}

// Ping sends an application-level ping; the server echoes data in a pong.
func (c *Client) Ping(data map[string]any) error {
	return c.Send(Message{Type: TypePing, Data: data})
}

// Release asks the server to release the engine and end the stream.
func (c *Client) Release() error {
	return c.Send(Message{Type: TypeRelease})
}

// ReadMessage blocks for the next server message.
func (c *Client) ReadMessage() (*Message, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	var msg Message
	if err := c.conn.ReadJSON(&msg); err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	c.logger.Debug("received message", slog.String("type", msg.Type))
	return &msg, nil
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}

	c.logger.Debug("closing stream connection")
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}
