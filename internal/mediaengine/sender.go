package mediaengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/peer"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/signaling"
)

// ErrNoConnection is returned for a peer id with no pending or open
// connection.
var ErrNoConnection = errors.New("mediaengine: no connection for peer")

var _ peer.OfferEngine = (*Sender)(nil)

// Sender keeps one peer connection per receiver. Each connection carries an
// ordered data channel labelled DataChannelLabel.
type Sender struct {
	api           *webrtc.API
	cfg           Config
	log           *slog.Logger
	onChannelOpen func(receiverID string, dc *webrtc.DataChannel)

	mu    sync.Mutex
	conns map[string]*webrtc.PeerConnection
}

// NewSender builds a sender engine. onChannelOpen, if set, runs when a
// receiver's data channel opens.
func NewSender(cfg Config, onChannelOpen func(receiverID string, dc *webrtc.DataChannel)) (*Sender, error) {
	api, err := NewAPI(cfg)
	if err != nil {
		return nil, err
	}
	return &Sender{
		api:           api,
		cfg:           cfg,
		log:           cfg.logger(),
		onChannelOpen: onChannelOpen,
		conns:         make(map[string]*webrtc.PeerConnection),
	}, nil
}

func (s *Sender) CreateOffer(ctx context.Context, receiverID string) (signaling.SessionDescription, error) {
	pc, err := s.api.NewPeerConnection(webrtc.Configuration{ICEServers: s.cfg.ICEServers})
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("new peer connection: %w", err)
	}
	log := s.log.With("receiver_id", receiverID)

	dc, err := pc.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		_ = pc.Close()
		return signaling.SessionDescription{}, fmt.Errorf("create datachannel: %w", err)
	}
	dc.OnOpen(func() {
		log.Info("datachannel open", "label", dc.Label())
		if s.onChannelOpen != nil {
			s.onChannelOpen(receiverID, dc)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			s.forget(receiverID, pc)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return signaling.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	local, err := setLocalAndGather(ctx, pc, offer, s.cfg.gatherTimeout())
	if err != nil {
		_ = pc.Close()
		return signaling.SessionDescription{}, err
	}

	s.replace(receiverID, pc)
	return signaling.SessionDescriptionFromPion(*local), nil
}

func (s *Sender) ApplyAnswer(_ context.Context, receiverID string, answer signaling.SessionDescription) error {
	pc := s.lookup(receiverID)
	if pc == nil {
		return fmt.Errorf("%w %s", ErrNoConnection, receiverID)
	}
	desc, err := answer.ToPion()
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (s *Sender) Close(receiverID string) error {
	s.mu.Lock()
	pc := s.conns[receiverID]
	delete(s.conns, receiverID)
	s.mu.Unlock()
	if pc == nil {
		return nil
	}
	return pc.Close()
}

// CloseAll closes every connection.
func (s *Sender) CloseAll() error {
	return closeAll(&s.mu, s.conns)
}

func (s *Sender) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Sender) lookup(receiverID string) *webrtc.PeerConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[receiverID]
}

// replace installs pc for receiverID and closes the connection it
// supersedes.
func (s *Sender) replace(receiverID string, pc *webrtc.PeerConnection) {
	s.mu.Lock()
	old := s.conns[receiverID]
	s.conns[receiverID] = pc
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

func (s *Sender) forget(receiverID string, pc *webrtc.PeerConnection) {
	s.mu.Lock()
	if s.conns[receiverID] == pc {
		delete(s.conns, receiverID)
	}
	s.mu.Unlock()
}

func closeAll(mu *sync.Mutex, conns map[string]*webrtc.PeerConnection) error {
	mu.Lock()
	pcs := make([]*webrtc.PeerConnection, 0, len(conns))
	for id, pc := range conns {
		pcs = append(pcs, pc)
		delete(conns, id)
	}
	mu.Unlock()

	var errs []error
	for _, pc := range pcs {
		if err := pc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
