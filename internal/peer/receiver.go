package peer

import (
	"context"
	"log/slog"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/signaling"
)

// noSenderNotice is how long a receiver waits for a usable sender_available
// before saying so. The relay only announces senders that were live when the
// receiver registered.
var noSenderNotice = 3 * time.Second

type ReceiverOptions struct {
	// SenderID restricts the receiver to one sender. Empty means the first
	// sender announced.
	SenderID string
	Logger   *slog.Logger

	OnRegistered func(id string)
	// OnAnswered is called after an answer for senderID was sent.
	OnAnswered func(senderID string)
}

// RunReceiver requests an offer from one sender at a time and answers it.
// When the selected sender leaves, the next known sender is requested.
func RunReceiver(ctx context.Context, c *Client, engine AnswerEngine, opts ReceiverOptions) error {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	id, err := c.awaitRegistered(signaling.RoleReceiver)
	if err != nil {
		return runErr(ctx, err)
	}
	log = log.With("receiver_id", id)
	log.Info("registered as receiver")
	if opts.OnRegistered != nil {
		opts.OnRegistered(id)
	}

	st := newSelection(opts.SenderID)
	waiting := time.AfterFunc(noSenderNotice, func() {
		log.Info("no sender announced; only senders connected before this receiver are offered, restart once a sender is running",
			"want_sender_id", opts.SenderID)
	})
	defer waiting.Stop()

	request := func(senderID string) error {
		if senderID == "" {
			return nil
		}
		waiting.Stop()
		log.Info("requesting offer", "sender_id", senderID)
		return c.Send(signaling.Message{
			Type:       signaling.MessageTypeRequestOffer,
			SenderID:   senderID,
			ReceiverID: id,
		})
	}

	for {
		msg, err := c.Receive()
		if err != nil {
			return runErr(ctx, err)
		}

		switch msg.Type {
		case signaling.MessageTypeSenderAvailable:
			if err := request(st.available(msg.SenderID)); err != nil {
				return runErr(ctx, err)
			}
		case signaling.MessageTypeOffer:
			if msg.ReceiverID != id || !st.accepts(msg.SenderID) {
				log.Warn("ignoring unrequested offer", "sender_id", msg.SenderID, "to", msg.ReceiverID)
				continue
			}
			answer, err := engine.Answer(ctx, msg.SenderID, *msg.Offer)
			if err != nil {
				log.Warn("answer failed", "sender_id", msg.SenderID, "err", err)
				continue
			}
			if err := c.Send(signaling.Message{
				Type:       signaling.MessageTypeAnswer,
				SenderID:   msg.SenderID,
				ReceiverID: id,
				Answer:     &answer,
			}); err != nil {
				return runErr(ctx, err)
			}
			log.Info("answer sent", "sender_id", msg.SenderID)
			if opts.OnAnswered != nil {
				opts.OnAnswered(msg.SenderID)
			}
		case signaling.MessageTypeSenderExit:
			wasSelected := st.selected == msg.SenderID
			next := st.exited(msg.SenderID)
			if wasSelected {
				log.Info("selected sender left", "sender_id", msg.SenderID)
				if err := engine.Close(msg.SenderID); err != nil {
					log.Debug("close connection", "sender_id", msg.SenderID, "err", err)
				}
			}
			if err := request(next); err != nil {
				return runErr(ctx, err)
			}
		default:
			log.Debug("ignoring message", "type", msg.Type)
		}
	}
}

// selection tracks which announced sender the receiver is paired with.
type selection struct {
	want     string
	known    []string
	selected string
}

func newSelection(want string) *selection {
	return &selection{want: want}
}

func (s *selection) eligible(senderID string) bool {
	return s.want == "" || s.want == senderID
}

// available records an announced sender and returns it if it should be
// requested now.
func (s *selection) available(senderID string) string {
	for _, k := range s.known {
		if k == senderID {
			return ""
		}
	}
	s.known = append(s.known, senderID)
	if s.selected != "" || !s.eligible(senderID) {
		return ""
	}
	s.selected = senderID
	return senderID
}

func (s *selection) accepts(senderID string) bool {
	return s.selected != "" && s.selected == senderID
}

// exited forgets senderID and returns the next sender to request, if the
// departed one was selected and another eligible sender is known.
func (s *selection) exited(senderID string) string {
	for i, k := range s.known {
		if k == senderID {
			s.known = append(s.known[:i], s.known[i+1:]...)
			break
		}
	}
	if s.selected != senderID {
		return ""
	}
	s.selected = ""
	for _, k := range s.known {
		if s.eligible(k) {
			s.selected = k
			return k
		}
	}
	return ""
}
