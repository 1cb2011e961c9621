package ws

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/meowlet/mercury-api/internal/config"
)

// Options are the per-connection transport limits.
type Options struct {
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
}

func OptionsFrom(cfg config.ChatConfig) Options {
	return Options{
		SendBuffer:     cfg.SendBuffer,
		WriteWait:      cfg.WriteWait,
		PongWait:       cfg.PongWait,
		MaxMessageSize: cfg.MaxMessageSize,
	}
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 512 * 1024
	}
	return o
}

// pingPeriod must stay below PongWait so the peer's pong arrives in time.
func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// WebSocket wraps a gorilla connection. Only one goroutine may write and one may read.
type WebSocket struct {
	*websocket.Conn
	opts Options
}

func NewWebSocket(conn *websocket.Conn, opts Options) *WebSocket {
	return &WebSocket{Conn: conn, opts: opts.withDefaults()}
}

func (w *WebSocket) WriteMessage(data []byte) error {
	_ = w.Conn.SetWriteDeadline(time.Now().Add(w.opts.WriteWait))
	return w.Conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WebSocket) WritePing() error {
	_ = w.Conn.SetWriteDeadline(time.Now().Add(w.opts.WriteWait))
	return w.Conn.WriteMessage(websocket.PingMessage, nil)
}

func (w *WebSocket) WriteClose(code int, text string) error {
	return w.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(w.opts.WriteWait))
}

// ReadLoop feeds every non-empty frame to onMsg until the peer goes away.
// It returns nil on a normal close.
func (w *WebSocket) ReadLoop(onMsg func([]byte)) error {
	// Configure Read Limits (Protects against memory exhaustion)
	w.Conn.SetReadLimit(w.opts.MaxMessageSize)
	_ = w.Conn.SetReadDeadline(time.Now().Add(w.opts.PongWait))
	w.Conn.SetPongHandler(func(string) error {
		return w.Conn.SetReadDeadline(time.Now().Add(w.opts.PongWait))
	})

	for {
		_, data, err := w.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				return err
			}
			return nil
		}
		if len(data) > 0 {
			onMsg(data)
		}
	}
}

func (w *WebSocket) Close() error {
	return w.Conn.Close()
}
