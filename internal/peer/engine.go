package peer

import (
	"context"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/signaling"
)

// OfferEngine owns a sender's peer connections, one per receiver.
type OfferEngine interface {
	// CreateOffer starts a fresh connection for receiverID, replacing any
	// previous one, and returns its complete local offer.
	CreateOffer(ctx context.Context, receiverID string) (signaling.SessionDescription, error)
	ApplyAnswer(ctx context.Context, receiverID string, answer signaling.SessionDescription) error
	Close(receiverID string) error
}

// AnswerEngine owns a receiver's peer connections, one per sender.
type AnswerEngine interface {
	Answer(ctx context.Context, senderID string, offer signaling.SessionDescription) (signaling.SessionDescription, error)
	Close(senderID string) error
}
