package signaling

import (
	"errors"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
)

func newTestRouter(t *testing.T) (*Router, *Registry, *metrics.Metrics) {
	t.Helper()
	reg := NewRegistry(0)
	m := metrics.New()
	return NewRouter(reg, m, nil), reg, m
}

func TestRouter_Route(t *testing.T) {
	rt, reg, _ := newTestRouter(t)
	s, _ := mustRegister(t, reg, RoleSender)
	rc, _ := mustRegister(t, reg, RoleReceiver)
	other, _ := mustRegister(t, reg, RoleReceiver)
	desc := &SessionDescription{Type: "offer", SDP: "v=0"}
	ans := &SessionDescription{Type: "answer", SDP: "v=0"}

	tests := []struct {
		name    string
		from    *Peer
		msg     Message
		want    *Peer
		wantErr error
	}{
		{"request_offer", rc, Message{Type: MessageTypeRequestOffer, SenderID: s.ID, ReceiverID: rc.ID}, s, nil},
		{"offer", s, Message{Type: MessageTypeOffer, SenderID: s.ID, ReceiverID: rc.ID, Offer: desc}, rc, nil},
		{"answer", rc, Message{Type: MessageTypeAnswer, SenderID: s.ID, ReceiverID: rc.ID, Answer: ans}, s, nil},
		{"offer from receiver", rc, Message{Type: MessageTypeOffer, SenderID: s.ID, ReceiverID: rc.ID, Offer: desc}, nil, ErrUnexpectedMessage},
		{"answer from sender", s, Message{Type: MessageTypeAnswer, SenderID: s.ID, ReceiverID: rc.ID, Answer: ans}, nil, ErrUnexpectedMessage},
		{"request_offer from sender", s, Message{Type: MessageTypeRequestOffer, SenderID: s.ID, ReceiverID: rc.ID}, nil, ErrUnexpectedMessage},
		{"registered from receiver", rc, RegisteredMessage(RoleReceiver, rc.ID), nil, ErrUnexpectedMessage},
		{"sender_exit from sender", s, SenderExitMessage(s.ID), nil, ErrUnexpectedMessage},
		{"spoofed receiver id", rc, Message{Type: MessageTypeRequestOffer, SenderID: s.ID, ReceiverID: other.ID}, nil, ErrMalformedMessage},
		{"spoofed sender id", s, Message{Type: MessageTypeOffer, SenderID: "someone", ReceiverID: rc.ID, Offer: desc}, nil, ErrMalformedMessage},
		{"unknown sender", rc, Message{Type: MessageTypeAnswer, SenderID: "gone", ReceiverID: rc.ID, Answer: ans}, nil, ErrUnknownTarget},
		{"unknown receiver", s, Message{Type: MessageTypeOffer, SenderID: s.ID, ReceiverID: "gone", Offer: desc}, nil, ErrUnknownTarget},
		{"receiver id used as sender", rc, Message{Type: MessageTypeRequestOffer, SenderID: other.ID, ReceiverID: rc.ID}, nil, ErrUnknownTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rt.Route(tt.from, tt.msg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err=%v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Route: %v", err)
			}
			if got != tt.want {
				t.Fatalf("target=%s, want %s", got.ID, tt.want.ID)
			}
		})
	}
}

func TestRouter_UnknownTargetWrapsNotFound(t *testing.T) {
	rt, reg, _ := newTestRouter(t)
	rc, _ := mustRegister(t, reg, RoleReceiver)

	_, err := rt.Route(rc, Message{Type: MessageTypeRequestOffer, SenderID: "gone", ReceiverID: rc.ID})
	if !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("err=%v, want %v", err, ErrUnknownTarget)
	}
	if !errors.Is(err, ErrPeerNotFound) {
		t.Fatalf("err=%v, want it to wrap %v", err, ErrPeerNotFound)
	}
}

func TestRouter_ForwardSendsFrameVerbatim(t *testing.T) {
	rt, reg, m := newTestRouter(t)
	s, sLink := mustRegister(t, reg, RoleSender)
	rc, _ := mustRegister(t, reg, RoleReceiver)

	raw := []byte(`{"receiver_id":"` + rc.ID + `","type":"request_offer","sender_id":"` + s.ID + `","note":"kept"}`)
	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if _, err := rt.Forward(rc, msg, raw); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	got := sLink.sent()
	if len(got) != 1 || got[0] != string(raw) {
		t.Fatalf("sender got %q, want %q", got, raw)
	}
	if n := m.Get(metrics.MessageForwarded); n != 1 {
		t.Fatalf("forwarded=%d, want 1", n)
	}
}

func TestRouter_ForwardToClosedLink(t *testing.T) {
	rt, reg, m := newTestRouter(t)
	s, sLink := mustRegister(t, reg, RoleSender)
	rc, _ := mustRegister(t, reg, RoleReceiver)
	sLink.fail(ErrLinkClosed)

	msg := Message{Type: MessageTypeRequestOffer, SenderID: s.ID, ReceiverID: rc.ID}
	_, err := rt.Forward(rc, msg, []byte(`{}`))
	if !errors.Is(err, ErrLinkClosed) {
		t.Fatalf("err=%v, want ErrLinkClosed", err)
	}
	if got := dropMetric(err); got != metrics.DropLinkClosed {
		t.Fatalf("dropMetric=%q, want %q", got, metrics.DropLinkClosed)
	}
	if n := m.Get(metrics.MessageForwarded); n != 0 {
		t.Fatalf("forwarded=%d, want 0", n)
	}
}

func TestRouter_NotifySenderExit(t *testing.T) {
	rt, reg, m := newTestRouter(t)
	s, sLink := mustRegister(t, reg, RoleSender)
	_, r1 := mustRegister(t, reg, RoleReceiver)
	_, r2 := mustRegister(t, reg, RoleReceiver)
	_, r3 := mustRegister(t, reg, RoleReceiver)
	r3.fail(ErrOutboxFull)

	reg.Unregister(s.ID, RoleSender)
	if n := rt.NotifySenderExit(s); n != 2 {
		t.Fatalf("notified=%d, want 2", n)
	}

	want := `{"type":"sender_exit","sender_id":"` + s.ID + `"}`
	for i, l := range []*fakeLink{r1, r2} {
		got := l.sent()
		if len(got) != 1 || got[0] != want {
			t.Fatalf("receiver %d got %q, want [%s]", i, got, want)
		}
	}
	if len(sLink.sent()) != 0 {
		t.Fatalf("departed sender was notified")
	}
	if n := m.Get(metrics.SenderExitSent); n != 2 {
		t.Fatalf("sender_exit sent=%d, want 2", n)
	}
	if n := m.Get(metrics.DropOutboxFull); n != 1 {
		t.Fatalf("outbox_full drops=%d, want 1", n)
	}
}

func TestDropMetric(t *testing.T) {
	tests := map[error]string{
		ErrUnknownMessageType: metrics.DropUnknownType,
		ErrMalformedMessage:   metrics.DropMalformed,
		ErrUnexpectedMessage:  metrics.DropUnexpected,
		ErrUnknownTarget:      metrics.DropUnknownTarget,
		ErrOutboxFull:         metrics.DropOutboxFull,
		ErrLinkClosed:         metrics.DropLinkClosed,
	}
	for err, want := range tests {
		if got := dropMetric(err); got != want {
			t.Fatalf("dropMetric(%v)=%q, want %q", err, got, want)
		}
	}
}
