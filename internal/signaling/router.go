package signaling

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
)

// Router decides where a peer's message goes and hands it to that peer's
// link. It implements the explicit-request pairing: a receiver asks a sender
// it learned about for an offer, and only that sender answers it.
type Router struct {
	registry *Registry
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewRouter(registry *Registry, m *metrics.Metrics, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{registry: registry, metrics: m, log: log}
}

// Route returns the peer msg should be delivered to.
//
// The id naming the source must match from's own id, so a peer cannot speak
// for another one.
func (rt *Router) Route(from *Peer, msg Message) (*Peer, error) {
	var (
		wantRole   Role
		sourceID   string
		targetRole Role
		targetID   string
	)
	switch msg.Type {
	case MessageTypeOffer:
		wantRole, sourceID = RoleSender, msg.SenderID
		targetRole, targetID = RoleReceiver, msg.ReceiverID
	case MessageTypeAnswer, MessageTypeRequestOffer:
		wantRole, sourceID = RoleReceiver, msg.ReceiverID
		targetRole, targetID = RoleSender, msg.SenderID
	default:
		return nil, fmt.Errorf("%w: %s may not send %s", ErrUnexpectedMessage, from.Role, msg.Type)
	}

	if from.Role != wantRole {
		return nil, fmt.Errorf("%w: %s may not send %s", ErrUnexpectedMessage, from.Role, msg.Type)
	}
	if sourceID != from.ID {
		return nil, fmt.Errorf("%w: %s_id %q does not match connection", ErrMalformedMessage, from.Role, sourceID)
	}

	target, err := rt.registry.Lookup(targetID, targetRole)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUnknownTarget, targetRole, targetID, err)
	}
	return target, nil
}

// Forward routes msg and queues raw, the frame exactly as received, on the
// target's link. A target that disconnected after the lookup has a closed
// link, so the frame is dropped with ErrLinkClosed rather than delivered.
func (rt *Router) Forward(from *Peer, msg Message, raw []byte) (*Peer, error) {
	target, err := rt.Route(from, msg)
	if err != nil {
		return nil, err
	}
	if err := target.Send(raw); err != nil {
		return target, fmt.Errorf("forward %s to %s: %w", msg.Type, target.ID, err)
	}
	rt.metrics.Inc(metrics.MessageForwarded)
	return target, nil
}

// NotifySenderExit tells every registered receiver that sender is gone. The
// sender must already be unregistered. It returns the number of receivers
// the notice was queued for.
func (rt *Router) NotifySenderExit(sender *Peer) int {
	frame, err := SenderExitMessage(sender.ID).Marshal()
	if err != nil {
		rt.log.Error("encode sender_exit", "err", err)
		return 0
	}

	sent := 0
	for _, r := range rt.registry.AllReceivers() {
		if err := r.Send(frame); err != nil {
			rt.log.Debug("sender_exit not delivered", "receiver_id", r.ID, "sender_id", sender.ID, "err", err)
			rt.metrics.Inc(dropMetric(err))
			continue
		}
		sent++
	}
	rt.metrics.Add(metrics.SenderExitSent, uint64(sent))
	return sent
}

// dropMetric maps a routing or parsing error to the counter it is recorded
// under.
func dropMetric(err error) string {
	switch {
	case errors.Is(err, ErrUnknownMessageType):
		return metrics.DropUnknownType
	case errors.Is(err, ErrMalformedMessage):
		return metrics.DropMalformed
	case errors.Is(err, ErrUnexpectedMessage):
		return metrics.DropUnexpected
	case errors.Is(err, ErrUnknownTarget):
		return metrics.DropUnknownTarget
	case errors.Is(err, ErrOutboxFull):
		return metrics.DropOutboxFull
	default:
		return metrics.DropLinkClosed
	}
}
