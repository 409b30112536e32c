package metrics

import "sync"

// Event names recorded by the signaling relay.
const (
	PeerRegisteredSender    = "peer_registered_sender"
	PeerRegisteredReceiver  = "peer_registered_receiver"
	PeerUnregistered        = "peer_unregistered"
	PeerRegistrationFailed  = "peer_registration_failed"
	TooManyPeers            = "too_many_peers"
	MessageForwarded        = "message_forwarded"
	SenderExitSent          = "sender_exit_sent"
	DropUnknownTarget       = "drop_unknown_target"
	DropMalformed           = "drop_malformed"
	DropUnknownType         = "drop_unknown_type"
	DropUnexpected          = "drop_unexpected"
	DropRateLimited         = "drop_rate_limited"
	DropOutboxFull          = "drop_outbox_full"
	DropLinkClosed          = "drop_link_closed"
	DropNonTextFrame        = "drop_non_text_frame"
	SignalingOriginRejected = "signaling_origin_rejected"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// Counters are keyed by event name and only ever increase. A nil *Metrics is
// valid and discards everything, so components can be built without one.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
