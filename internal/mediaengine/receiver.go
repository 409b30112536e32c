package mediaengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/peer"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/signaling"
)

var _ peer.AnswerEngine = (*Receiver)(nil)

// Receiver answers offers, one peer connection per sender, and hands the
// sender's data channel messages to onMessage.
type Receiver struct {
	api       *webrtc.API
	cfg       Config
	log       *slog.Logger
	onMessage func(senderID string, data []byte)

	mu    sync.Mutex
	conns map[string]*webrtc.PeerConnection
}

func NewReceiver(cfg Config, onMessage func(senderID string, data []byte)) (*Receiver, error) {
	api, err := NewAPI(cfg)
	if err != nil {
		return nil, err
	}
	return &Receiver{
		api:       api,
		cfg:       cfg,
		log:       cfg.logger(),
		onMessage: onMessage,
		conns:     make(map[string]*webrtc.PeerConnection),
	}, nil
}

func (r *Receiver) Answer(ctx context.Context, senderID string, offer signaling.SessionDescription) (signaling.SessionDescription, error) {
	remote, err := offer.ToPion()
	if err != nil {
		return signaling.SessionDescription{}, err
	}
	if remote.Type != webrtc.SDPTypeOffer {
		return signaling.SessionDescription{}, fmt.Errorf("expected offer, got %s", remote.Type)
	}

	pc, err := r.api.NewPeerConnection(webrtc.Configuration{ICEServers: r.cfg.ICEServers})
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("new peer connection: %w", err)
	}
	log := r.log.With("sender_id", senderID)

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if err := validateStreamDataChannel(dc); err != nil {
			log.Warn("rejecting datachannel", "label", dc.Label(), "err", err)
			_ = dc.Close()
			return
		}
		dc.OnOpen(func() { log.Info("datachannel open", "label", dc.Label()) })
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if r.onMessage == nil {
				return
			}
			// Copy because pion reuses internal buffers.
			r.onMessage(senderID, append([]byte(nil), msg.Data...))
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			r.forget(senderID, pc)
		}
	})

	if err := pc.SetRemoteDescription(remote); err != nil {
		_ = pc.Close()
		return signaling.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return signaling.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	local, err := setLocalAndGather(ctx, pc, answer, r.cfg.gatherTimeout())
	if err != nil {
		_ = pc.Close()
		return signaling.SessionDescription{}, err
	}

	r.mu.Lock()
	old := r.conns[senderID]
	r.conns[senderID] = pc
	r.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return signaling.SessionDescriptionFromPion(*local), nil
}

func (r *Receiver) Close(senderID string) error {
	r.mu.Lock()
	pc := r.conns[senderID]
	delete(r.conns, senderID)
	r.mu.Unlock()
	if pc == nil {
		return nil
	}
	return pc.Close()
}

func (r *Receiver) CloseAll() error {
	return closeAll(&r.mu, r.conns)
}

func (r *Receiver) forget(senderID string, pc *webrtc.PeerConnection) {
	r.mu.Lock()
	if r.conns[senderID] == pc {
		delete(r.conns, senderID)
	}
	r.mu.Unlock()
}
