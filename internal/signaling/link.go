package signaling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

// Link is the outbound half of a peer's transport as seen by the router.
// Send must not block on the network.
type Link interface {
	Send(frame []byte) error
}

// wsLink delivers frames to one WebSocket connection. A single write pump
// goroutine drains the outbox, so frames reach the peer in the order they
// were accepted. Pings go out on their own ticker via WriteControl, which
// gorilla allows concurrently with the pump.
type wsLink struct {
	conn *websocket.Conn
	out  *outbox
	log  *slog.Logger

	pingInterval time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

func newWSLink(conn *websocket.Conn, maxQueueBytes int, pingInterval time.Duration, log *slog.Logger) *wsLink {
	return &wsLink{
		conn:         conn,
		out:          newOutbox(maxQueueBytes, true),
		log:          log,
		pingInterval: pingInterval,
		done:         make(chan struct{}),
	}
}

func (l *wsLink) Send(frame []byte) error {
	return l.out.push(frame)
}

// start launches the writer goroutines. Nothing is written until open.
func (l *wsLink) start() {
	go l.writePump()
	if l.pingInterval > 0 {
		go l.pingLoop()
	}
}

// open sends first, then everything routed to the link so far.
func (l *wsLink) open(first ...[]byte) {
	l.out.release(first...)
}

func (l *wsLink) writePump() {
	for {
		frame, ok := l.out.pop()
		if !ok {
			return
		}
		_ = l.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := l.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			l.log.Debug("signaling write failed", "err", err)
			l.out.close()
			// Unblocks the session's read loop so it can run cleanup.
			_ = l.conn.Close()
			return
		}
	}
}

func (l *wsLink) pingLoop() {
	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// close drops pending frames, sends a close frame and tears the connection
// down. Later calls are no-ops.
func (l *wsLink) close(code int, reason string) {
	l.closeOnce.Do(func() {
		l.out.close()
		close(l.done)
		_ = l.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		_ = l.conn.Close()
	})
}
