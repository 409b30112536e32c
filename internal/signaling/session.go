package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/ratelimit"
)

// State is a session's position in its lifecycle. It only moves forward.
type State int32

const (
	StateConnecting State = iota
	StateRegistered
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRegistered:
		return "registered"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// session owns one peer connection from upgrade to cleanup. Its read loop
// runs on the HTTP handler goroutine.
type session struct {
	srv     *Server
	conn    *websocket.Conn
	role    Role
	link    *wsLink
	limiter *ratelimit.MessageLimiter
	log     *slog.Logger

	idleTimeout time.Duration

	state atomic.Int32
	peer  *Peer

	closeOnce sync.Once
}

func (s *session) State() State { return State(s.state.Load()) }

func (s *session) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev != next {
		s.log.Debug("session state", "from", prev.String(), "to", next.String())
	}
}

// run serves a registered session until its connection ends.
func (s *session) run() {
	defer s.close(websocket.CloseNormalClosure, "")
	s.readLoop()
}

// register moves connecting -> registered. It runs before the session is
// tracked by the server, so peer and log are fixed by the time another
// goroutine can reach the session. The first frames the peer sees
// are its own id and, for receivers, one sender_available per live sender.
func (s *session) register() bool {
	peer, senders, err := s.srv.registry.Register(s.role, s.link)
	if err != nil {
		code, reason := websocket.CloseInternalServerErr, "registration failed"
		if errors.Is(err, ErrTooManyPeers) {
			s.srv.metrics.Inc(metrics.TooManyPeers)
			code, reason = websocket.CloseTryAgainLater, "too many peers"
		}
		s.srv.metrics.Inc(metrics.PeerRegistrationFailed)
		s.log.Warn("peer registration failed", "err", err)
		s.close(code, reason)
		return false
	}
	s.peer = peer
	s.log = s.log.With("peer_id", peer.ID)

	first := make([][]byte, 0, 1+len(senders))
	frame, err := RegisteredMessage(s.role, peer.ID).Marshal()
	if err != nil {
		s.log.Error("encode registered", "err", err)
		s.close(websocket.CloseInternalServerErr, "internal error")
		return false
	}
	first = append(first, frame)
	for _, sender := range senders {
		frame, err := SenderAvailableMessage(sender.ID).Marshal()
		if err != nil {
			s.log.Error("encode sender_available", "err", err)
			continue
		}
		first = append(first, frame)
	}
	s.link.open(first...)

	if s.role == RoleSender {
		s.srv.metrics.Inc(metrics.PeerRegisteredSender)
	} else {
		s.srv.metrics.Inc(metrics.PeerRegisteredReceiver)
	}
	s.setState(StateRegistered)
	s.log.Info("peer registered", "announced_senders", len(senders))
	return true
}

func (s *session) readLoop() {
	s.conn.SetReadLimit(s.srv.maxSignalingMessageBytes())
	s.extendDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.extendDeadline()
		return nil
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}
		s.extendDeadline()
		if s.State() == StateRegistered {
			s.setState(StateActive)
		}

		// Limit after reading so the frame is consumed either way.
		if !s.limiter.Allow() {
			s.srv.metrics.Inc(metrics.DropRateLimited)
			s.log.Warn("signaling message dropped", "reason", "rate_limited")
			continue
		}
		if msgType != websocket.TextMessage {
			s.srv.metrics.Inc(metrics.DropNonTextFrame)
			s.log.Warn("signaling message dropped", "reason", "non_text_frame")
			continue
		}
		s.dispatch(data)
	}
}

func (s *session) dispatch(data []byte) {
	msg, err := ParseMessage(data)
	if err == nil {
		var target *Peer
		target, err = s.srv.router.Forward(s.peer, msg, data)
		if err == nil {
			s.log.Debug("message forwarded", "type", msg.Type, "target_id", target.ID)
			return
		}
	}

	name := dropMetric(err)
	s.srv.metrics.Inc(name)
	level := slog.LevelWarn
	if errors.Is(err, ErrUnknownMessageType) || errors.Is(err, ErrUnknownTarget) {
		level = slog.LevelInfo
	}
	s.log.Log(context.Background(), level, "signaling message dropped", "type", msg.Type, "reason", name, "err", err)
}

func (s *session) extendDeadline() {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
}

func (s *session) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.log.Warn("signaling message too large", "limit", s.srv.maxSignalingMessageBytes())
		s.close(websocket.CloseMessageTooBig, "message too large")
	case isTimeout(err):
		s.log.Info("signaling connection idle", "timeout", s.idleTimeout)
		s.close(websocket.ClosePolicyViolation, "idle timeout")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived):
		s.log.Warn("signaling connection closed unexpectedly", "err", err)
	default:
		s.log.Debug("signaling connection closed", "err", err)
	}
}

// close enters the closed state: the peer leaves the registry, receivers
// learn about a departed sender, and the link is torn down. Safe to call more
// than once.
func (s *session) close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		if s.peer != nil && s.srv.registry.Unregister(s.peer.ID, s.role) {
			s.srv.metrics.Inc(metrics.PeerUnregistered)
			if s.role == RoleSender && s.srv.notifySenderExit() {
				n := s.srv.router.NotifySenderExit(s.peer)
				s.log.Debug("sender_exit broadcast", "receivers", n)
			}
			s.log.Info("peer unregistered")
		}
		s.link.close(code, reason)
		s.srv.untrack(s)
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
