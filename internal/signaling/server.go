package signaling

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/ratelimit"
)

// Config wires together the runtime dependencies for the signaling relay.
// Zero values select the documented defaults.
type Config struct {
	// Registry is created from MaxPeers when nil.
	Registry *Registry
	MaxPeers int

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// AllowedOrigins is checked against the Origin header of WebSocket
	// upgrades. Empty means same-host only.
	AllowedOrigins []string

	// DisableSenderExit suppresses the sender_exit broadcast.
	DisableSenderExit bool

	PeerSendQueueBytes            int
	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	// Clock drives per-connection rate limits. Defaults to the wall clock.
	Clock ratelimit.Clock
}

// Server is the signaling relay's WebSocket surface.
//
// Endpoints:
//   - GET /sender   : register as a sender
//   - GET /receiver : register as a receiver
type Server struct {
	cfg      Config
	registry *Registry
	router   *Router
	metrics  *metrics.Metrics
	log      *slog.Logger
	origins  origin.Policy
	upgrader websocket.Upgrader

	mu       sync.Mutex
	closed   bool
	sessions map[*session]struct{}
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry(cfg.MaxPeers)
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}

	return &Server{
		cfg:      cfg,
		registry: registry,
		router:   NewRouter(registry, cfg.Metrics, logger),
		metrics:  cfg.Metrics,
		log:      logger,
		origins:  origin.Policy{AllowedOrigins: cfg.AllowedOrigins},
		upgrader: websocket.Upgrader{
			// Origin is checked before Upgrade so rejections get an HTTP status.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[*session]struct{}),
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /sender", s.handleSender)
	mux.HandleFunc("GET /receiver", s.handleReceiver)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// ServeHTTP provides minimal routing for tests and simple deployments.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/sender":
		s.handleSender(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/receiver":
		s.handleReceiver(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) Registry() *Registry { return s.registry }

// Stats is a point-in-time count of registered peers.
type Stats struct {
	Senders   int `json:"senders"`
	Receivers int `json:"receivers"`
}

func (s *Server) Stats() Stats {
	return Stats{
		Senders:   s.registry.Count(RoleSender),
		Receivers: s.registry.Count(RoleReceiver),
	}
}

// StatsHandler serves Stats as JSON.
func (s *Server) StatsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.Stats())
	})
}

// Close disconnects every peer and refuses new connections.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close(websocket.CloseGoingAway, "server shutting down")
	}
}

func (s *Server) handleSender(w http.ResponseWriter, r *http.Request) {
	s.handleWebSocket(w, r, RoleSender)
}

func (s *Server) handleReceiver(w http.ResponseWriter, r *http.Request) {
	s.handleWebSocket(w, r, RoleReceiver)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, role Role) {
	if s.isClosed() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if normalized, ok := s.origins.Check(r); !ok {
		s.metrics.Inc(metrics.SignalingOriginRejected)
		s.log.Warn("signaling origin rejected", "origin", normalized, "role", role)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error.
		return
	}

	log := s.log.With("role", role, "remote_addr", r.RemoteAddr)
	sess := &session{
		srv:         s,
		conn:        conn,
		role:        role,
		link:        newWSLink(conn, s.peerSendQueueBytes(), s.pingInterval(), log),
		limiter:     ratelimit.NewMessageLimiter(s.cfg.Clock, s.maxSignalingMessagesPerSecond()),
		log:         log,
		idleTimeout: s.idleTimeout(),
	}
	sess.link.start()
	if !sess.register() {
		return
	}
	if !s.track(sess) {
		sess.close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	sess.run()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// track fails once Close has started; a session that raced past isClosed is
// then closed by its handler.
func (s *Server) track(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

func (s *Server) notifySenderExit() bool { return !s.cfg.DisableSenderExit }

func (s *Server) peerSendQueueBytes() int {
	if s.cfg.PeerSendQueueBytes <= 0 {
		return 1 << 20
	}
	return s.cfg.PeerSendQueueBytes
}

func (s *Server) idleTimeout() time.Duration {
	if s.cfg.SignalingWSIdleTimeout <= 0 {
		return 60 * time.Second
	}
	return s.cfg.SignalingWSIdleTimeout
}

func (s *Server) pingInterval() time.Duration {
	if s.cfg.SignalingWSPingInterval <= 0 {
		return 20 * time.Second
	}
	return s.cfg.SignalingWSPingInterval
}

func (s *Server) maxSignalingMessageBytes() int64 {
	if s.cfg.MaxSignalingMessageBytes <= 0 {
		return 64 * 1024
	}
	return s.cfg.MaxSignalingMessageBytes
}

func (s *Server) maxSignalingMessagesPerSecond() int {
	if s.cfg.MaxSignalingMessagesPerSecond <= 0 {
		return 50
	}
	return s.cfg.MaxSignalingMessagesPerSecond
}
