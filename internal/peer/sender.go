package peer

import (
	"context"
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/signaling"
)

type SenderOptions struct {
	Logger *slog.Logger
	// OnRegistered is called once with the id the relay assigned.
	OnRegistered func(id string)
}

// RunSender serves offers until ctx is done or the relay connection ends.
// Each request_offer gets a new offer from engine; each answer is applied to
// the connection of the receiver that sent it. Engine failures affect only
// that receiver.
func RunSender(ctx context.Context, c *Client, engine OfferEngine, opts SenderOptions) error {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	id, err := c.awaitRegistered(signaling.RoleSender)
	if err != nil {
		return runErr(ctx, err)
	}
	log = log.With("sender_id", id)
	log.Info("registered as sender")
	if opts.OnRegistered != nil {
		opts.OnRegistered(id)
	}

	for {
		msg, err := c.Receive()
		if err != nil {
			return runErr(ctx, err)
		}
		if msg.SenderID != id {
			log.Warn("ignoring message for another sender", "type", msg.Type, "to", msg.SenderID)
			continue
		}

		switch msg.Type {
		case signaling.MessageTypeRequestOffer:
			offer, err := engine.CreateOffer(ctx, msg.ReceiverID)
			if err != nil {
				log.Warn("create offer failed", "receiver_id", msg.ReceiverID, "err", err)
				continue
			}
			if err := c.Send(signaling.Message{
				Type:       signaling.MessageTypeOffer,
				SenderID:   id,
				ReceiverID: msg.ReceiverID,
				Offer:      &offer,
			}); err != nil {
				return runErr(ctx, err)
			}
			log.Info("offer sent", "receiver_id", msg.ReceiverID)
		case signaling.MessageTypeAnswer:
			if err := engine.ApplyAnswer(ctx, msg.ReceiverID, *msg.Answer); err != nil {
				log.Warn("apply answer failed", "receiver_id", msg.ReceiverID, "err", err)
				continue
			}
			log.Info("answer applied", "receiver_id", msg.ReceiverID)
		default:
			log.Debug("ignoring message", "type", msg.Type)
		}
	}
}
