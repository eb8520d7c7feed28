package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is the envelope of every message in both directions
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn is one client connection. Emit may be called from any goroutine.
type Conn struct {
	ws        *websocket.Conn
	remote    string
	writeWait time.Duration

	writeMu sync.Mutex
}

func newConn(ws *websocket.Conn, remote string, writeWait time.Duration) *Conn {
	return &Conn{ws: ws, remote: remote, writeWait: writeWait}
}

// RemoteAddr returns the client address as seen by the server
func (c *Conn) RemoteAddr() string {
	return c.remote
}

// Emit sends a named event with payload encoded as JSON
func (c *Conn) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := c.ws.WriteJSON(Frame{Event: event, Data: data}); err != nil {
		return fmt.Errorf("failed to write %s: %w", event, err)
	}
	return nil
}

func (c *Conn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

// close sends a close frame and releases the socket
func (c *Conn) close(code int, text string) {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(c.writeWait))
	_ = c.ws.Close()
}
