// Package relay maintains the realtime duplex connection between the bridge
// and the backend relay's /email namespace. The Manager owns the single
// connection object and its recovery behavior; everything else in the bridge
// talks to the relay only through Emit and On.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is the wire envelope for relay events in both directions.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Conn is a single established relay connection. Implementations must allow
// one concurrent reader and serialize writers internally.
type Conn interface {
	ReadFrame() (Frame, error)
	WriteFrame(f Frame) error
	Close() error
}

// Dialer establishes relay connections. Injectable so tests can script
// handshake outcomes without sockets.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// writeWait bounds a single frame write to the peer.
const writeWait = 3 * time.Second

// wsConn adapts a gorilla websocket connection to Conn.
type wsConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (c *wsConn) ReadFrame() (Frame, error) {
	var f Frame
	if err := c.conn.ReadJSON(&f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (c *wsConn) WriteFrame(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	c.writeMu.Unlock()
	return c.conn.Close()
}

// WebsocketDialer is the production Dialer. It accepts an http(s) base URL
// and rewrites the scheme for the websocket handshake.
type WebsocketDialer struct {
	// HandshakeTimeout bounds one dial attempt.
	HandshakeTimeout time.Duration
	// Header carries credentials for the relay handshake.
	Header http.Header
}

// Dial performs the websocket handshake against rawURL.
func (d *WebsocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	wsURL, err := toWebsocketURL(rawURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, d.Header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("relay handshake failed (%d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("relay handshake failed: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	return &wsConn{conn: conn}, nil
}

// toWebsocketURL maps http/https schemes to ws/wss, leaving ws URLs as-is.
func toWebsocketURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse relay URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay URL scheme %q", u.Scheme)
	}
	return u.String(), nil
}
