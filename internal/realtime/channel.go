package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/driver-console-sync/internal/apperr"
	"github.com/example/driver-console-sync/internal/session"
)

// Channel is the realtime collaborator the console session drives.
type Channel interface {
	Connect(ctx context.Context, id session.Identity, role string) error
	On(event string, h Handler) HandlerID
	Off(event string, ids ...HandlerID)
	Emit(event string, payload any) error
	Disconnect() error
}

// Frame is the envelope of every message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var ErrNotConnected = errors.New("realtime: not connected")

// WSChannel is a Channel over a single websocket connection.
type WSChannel struct {
	*Router

	URL    string
	Dialer *websocket.Dialer
	Logger *slog.Logger

	mu   sync.Mutex // guards conn writes and swaps
	conn *websocket.Conn
	done chan struct{}
}

func NewWSChannel(url string, logger *slog.Logger) *WSChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSChannel{Router: NewRouter(logger), URL: url, Dialer: websocket.DefaultDialer, Logger: logger}
}

// Connect dials the server, authenticates as id and starts delivering inbound
// frames to the registered handlers.
func (c *WSChannel) Connect(ctx context.Context, id session.Identity, role string) error {
	const op = "realtime.Connect"
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	header := http.Header{}
	if id.Token != "" {
		header.Set("Authorization", "Bearer "+id.Token)
	}
	conn, _, err := c.Dialer.DialContext(ctx, c.URL, header)
	if err != nil {
		return apperr.Network(op, err)
	}
	auth, err := frame(EmitAuthenticate, map[string]any{"token": id.Token, "userId": id.UserID, "role": role})
	if err != nil {
		conn.Close()
		return err
	}
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return apperr.Network(op, err)
	}
	c.conn = conn
	c.done = make(chan struct{})
	go c.readLoop(conn, c.done)
	c.Logger.Info("realtime connected", "url", c.URL, "user_id", id.UserID, "role", role)
	return nil
}

func (c *WSChannel) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			current := c.conn == conn
			if current {
				c.conn = nil
			}
			c.mu.Unlock()
			if current {
				c.Logger.Warn("realtime connection lost", "error", err)
				conn.Close()
			}
			return
		}
		if f.Event == "" {
			c.Logger.Debug("dropping frame without event name")
			continue
		}
		c.Dispatch(f.Event, f.Data)
	}
}

// Emit sends one event. Writes are serialized.
func (c *WSChannel) Emit(event string, payload any) error {
	f, err := frame(event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.WriteJSON(f); err != nil {
		return apperr.Network("realtime.Emit", err)
	}
	return nil
}

// Disconnect closes the connection and waits for the read loop to stop, so
// no handler runs after it returns.
func (c *WSChannel) Disconnect() error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	c.conn = nil
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-done
	return err
}

// Connected reports whether a connection is currently open.
func (c *WSChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func frame(event string, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Event: event}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", event, err)
	}
	return Frame{Event: event, Data: b}, nil
}
