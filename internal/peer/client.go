// Package peer implements the sender and receiver ends of the signaling
// protocol. It drives an engine that owns the actual peer connections and
// only ever talks to the relay.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/signaling"
)

const (
	writeWait = 10 * time.Second
	// SDP with a full candidate list can be large; the relay enforces its own
	// limit on what it accepts.
	maxMessageSize = 1 << 20
)

// ErrNotRegistered is returned when the relay's first message is not the
// registration notice.
var ErrNotRegistered = errors.New("peer: relay did not send registered")

// Client is one signaling connection to the relay.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// EndpointURL maps the relay's base URL to the WebSocket endpoint for role.
// http and https are rewritten to ws and wss.
func EndpointURL(baseURL string, role signaling.Role) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid relay url %q: scheme must be http, https, ws or wss", baseURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid relay url %q: missing host", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + string(role)
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Dial connects to the relay as role.
func Dial(ctx context.Context, baseURL string, role signaling.Role, header http.Header, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	endpoint, err := EndpointURL(baseURL, role)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	conn.SetReadLimit(maxMessageSize)
	log.Debug("connected to relay", "url", endpoint, "role", role)
	return &Client{conn: conn, log: log}, nil
}

// Send writes one control message. Safe for concurrent use.
func (c *Client) Send(msg signaling.Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

// Receive returns the next message the relay delivered. Unknown and
// malformed messages are logged and skipped. Must be called from a single
// goroutine; pings from the relay are answered while it runs.
func (c *Client) Receive() (signaling.Message, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return signaling.Message{}, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := signaling.ParseMessage(data)
		switch {
		case err == nil:
			return msg, nil
		case errors.Is(err, signaling.ErrUnknownMessageType):
			c.log.Debug("ignoring unknown message type", "type", msg.Type)
		default:
			c.log.Warn("ignoring malformed message", "err", err)
		}
	}
}

// Close sends a normal close frame and releases the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// awaitRegistered reads the relay's first message and returns the id it
// assigned to this connection.
func (c *Client) awaitRegistered(role signaling.Role) (string, error) {
	msg, err := c.Receive()
	if err != nil {
		return "", err
	}
	if msg.Type != signaling.MessageTypeRegistered {
		return "", fmt.Errorf("%w: got %s", ErrNotRegistered, msg.Type)
	}
	id := msg.ReceiverID
	if role == signaling.RoleSender {
		id = msg.SenderID
	}
	if id == "" {
		return "", fmt.Errorf("%w: missing %s id", ErrNotRegistered, role)
	}
	return id, nil
}

// runErr prefers the context's error when cancellation is what broke the
// connection.
func runErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
