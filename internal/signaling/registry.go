package signaling

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Peer is one registered connection. The registry holds it only while the
// connection is live.
type Peer struct {
	ID          string
	Role        Role
	ConnectedAt time.Time

	link Link
	seq  uint64
}

// Send queues frame on the peer's link.
func (p *Peer) Send(frame []byte) error {
	return p.link.Send(frame)
}

// Registry tracks live senders and receivers by id.
//
// The lock only guards map access; callers send to the returned peers after
// the registry call returns.
type Registry struct {
	maxPeers int
	newID    func() (string, error)
	now      func() time.Time

	mu        sync.RWMutex
	seq       uint64
	senders   map[string]*Peer
	receivers map[string]*Peer
}

// NewRegistry returns an empty registry. maxPeers <= 0 means unlimited.
func NewRegistry(maxPeers int) *Registry {
	return &Registry{
		maxPeers:  maxPeers,
		newID:     newPeerID,
		now:       time.Now,
		senders:   make(map[string]*Peer),
		receivers: make(map[string]*Peer),
	}
}

func newPeerID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Register adds a peer under a fresh id.
//
// For receivers it also returns the senders registered at that instant, taken
// under the same lock as the insert, so each live sender is announced exactly
// once. The slice is empty for senders.
func (r *Registry) Register(role Role, link Link) (*Peer, []*Peer, error) {
	if !role.valid() {
		return nil, nil, fmt.Errorf("%w %q", ErrInvalidRole, role)
	}

	for attempt := 0; attempt < 3; attempt++ {
		id, err := r.newID()
		if err != nil {
			return nil, nil, fmt.Errorf("generate peer id: %w", err)
		}

		r.mu.Lock()
		if r.maxPeers > 0 && len(r.senders)+len(r.receivers) >= r.maxPeers {
			r.mu.Unlock()
			return nil, nil, ErrTooManyPeers
		}
		if r.idInUseLocked(id) {
			r.mu.Unlock()
			continue
		}

		r.seq++
		peer := &Peer{ID: id, Role: role, ConnectedAt: r.now(), link: link, seq: r.seq}
		var senders []*Peer
		if role == RoleSender {
			r.senders[id] = peer
		} else {
			r.receivers[id] = peer
			senders = snapshotLocked(r.senders)
		}
		r.mu.Unlock()
		return peer, senders, nil
	}
	return nil, nil, ErrDuplicateID
}

// Unregister removes id from role's table. It reports whether an entry was
// removed; removing an absent id is a no-op.
func (r *Registry) Unregister(id string, role Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	table := r.tableLocked(role)
	if table == nil {
		return false
	}
	if _, ok := table[id]; !ok {
		return false
	}
	delete(table, id)
	return true
}

func (r *Registry) Lookup(id string, role Role) (*Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.tableLocked(role)[id]; ok {
		return p, nil
	}
	return nil, ErrPeerNotFound
}

// AllSenders returns live senders in registration order.
func (r *Registry) AllSenders() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshotLocked(r.senders)
}

// AllReceivers returns live receivers in registration order.
func (r *Registry) AllReceivers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshotLocked(r.receivers)
}

func (r *Registry) Count(role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tableLocked(role))
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.senders) + len(r.receivers)
}

func (r *Registry) tableLocked(role Role) map[string]*Peer {
	switch role {
	case RoleSender:
		return r.senders
	case RoleReceiver:
		return r.receivers
	default:
		return nil
	}
}

// idInUseLocked checks both tables so an id is never shared across roles.
func (r *Registry) idInUseLocked(id string) bool {
	_, s := r.senders[id]
	_, rc := r.receivers[id]
	return s || rc
}

func snapshotLocked(table map[string]*Peer) []*Peer {
	out := make([]*Peer, 0, len(table))
	for _, p := range table {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
