package signaling

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func startRelay(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	srv := NewServer(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, ts
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func dialRole(t *testing.T, ts *httptest.Server, role Role) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/"+string(role)), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", role, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) []byte {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Fatalf("message type=%d, want text", msgType)
	}
	return data
}

// expectSilence fails if c receives any frame within d. The read deadline
// leaves c unusable for further reads.
func expectSilence(t *testing.T, c *websocket.Conn, d time.Duration) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(d))
	_, data, err := c.ReadMessage()
	if err == nil {
		t.Fatalf("unexpected frame: %s", data)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("ReadMessage err=%v, want timeout", err)
	}
}

func readMsg(t *testing.T, c *websocket.Conn) Message {
	t.Helper()
	data := readFrame(t, c)
	msg, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("ParseMessage(%s): %v", data, err)
	}
	return msg
}

func expectType(t *testing.T, c *websocket.Conn, want MessageType) Message {
	t.Helper()
	msg := readMsg(t, c)
	if msg.Type != want {
		t.Fatalf("type=%q, want %q (%+v)", msg.Type, want, msg)
	}
	return msg
}

// connectSender dials /sender and returns its assigned id.
func connectSender(t *testing.T, ts *httptest.Server) (*websocket.Conn, string) {
	t.Helper()
	c := dialRole(t, ts, RoleSender)
	msg := expectType(t, c, MessageTypeRegistered)
	if msg.SenderID == "" || msg.ReceiverID != "" {
		t.Fatalf("sender registered=%+v", msg)
	}
	return c, msg.SenderID
}

// connectReceiver dials /receiver and returns its id plus the announced
// senders.
func connectReceiver(t *testing.T, ts *httptest.Server, announced int) (*websocket.Conn, string, []string) {
	t.Helper()
	c := dialRole(t, ts, RoleReceiver)
	msg := expectType(t, c, MessageTypeRegistered)
	if msg.ReceiverID == "" || msg.SenderID != "" {
		t.Fatalf("receiver registered=%+v", msg)
	}
	var senders []string
	for i := 0; i < announced; i++ {
		senders = append(senders, expectType(t, c, MessageTypeSenderAvailable).SenderID)
	}
	return c, msg.ReceiverID, senders
}

func writeJSON(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	writeText(t, c, string(data))
}

func writeText(t *testing.T, c *websocket.Conn, s string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(s)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
}

func requestOffer(senderID, receiverID string) map[string]any {
	return map[string]any{"type": "request_offer", "sender_id": senderID, "receiver_id": receiverID}
}

func expectCloseCode(t *testing.T, c *websocket.Conn, code int) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := c.ReadMessage()
		if err == nil {
			// Frames queued before the close are allowed.
			_ = data
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("err=%v, want close %d", err, code)
		}
		if ce.Code != code {
			t.Fatalf("close code=%d, want %d", ce.Code, code)
		}
		return
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestServer_OfferAnswerExchange(t *testing.T) {
	srv, ts := startRelay(t, Config{})

	sConn, sID := connectSender(t, ts)
	rConn, rID, announced := connectReceiver(t, ts, 1)
	if announced[0] != sID {
		t.Fatalf("announced=%v, want [%s]", announced, sID)
	}
	bystander, _, _ := connectReceiver(t, ts, 1)

	writeJSON(t, rConn, requestOffer(sID, rID))
	req := expectType(t, sConn, MessageTypeRequestOffer)
	if req.SenderID != sID || req.ReceiverID != rID {
		t.Fatalf("request_offer=%+v", req)
	}

	offer := `{"type":"offer","sender_id":"` + sID + `","receiver_id":"` + rID + `","offer":{"type":"offer","sdp":"v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\n"}}`
	writeText(t, sConn, offer)
	if got := readFrame(t, rConn); string(got) != offer {
		t.Fatalf("receiver got %s, want %s", got, offer)
	}

	answer := `{"type":"answer","sender_id":"` + sID + `","receiver_id":"` + rID + `","answer":{"type":"answer","sdp":"v=0\r\n"}}`
	writeText(t, rConn, answer)
	if got := readFrame(t, sConn); string(got) != answer {
		t.Fatalf("sender got %s, want %s", got, answer)
	}

	m := srv.metrics
	if n := m.Get(metrics.MessageForwarded); n != 3 {
		t.Fatalf("forwarded=%d, want 3", n)
	}
	if st := srv.Stats(); st.Senders != 1 || st.Receivers != 2 {
		t.Fatalf("stats=%+v", st)
	}

	// The offer was addressed to rID only.
	expectSilence(t, bystander, 200*time.Millisecond)
}

func TestServer_AnnouncesEachLiveSenderOnce(t *testing.T) {
	srv, ts := startRelay(t, Config{})

	_, s1 := connectSender(t, ts)
	s2Conn, _ := connectSender(t, ts)
	s3Conn, s3 := connectSender(t, ts)

	_ = s2Conn.Close()
	waitFor(t, "sender unregister", func() bool { return srv.Registry().Count(RoleSender) == 2 })

	rConn, rID, announced := connectReceiver(t, ts, 2)
	if announced[0] != s1 || announced[1] != s3 {
		t.Fatalf("announced=%v, want [%s %s]", announced, s1, s3)
	}

	// The next frame after the announcements is the routed offer, so no
	// duplicate announcement was queued.
	writeJSON(t, rConn, requestOffer(s3, rID))
	expectType(t, s3Conn, MessageTypeRequestOffer)
	writeJSON(t, s3Conn, map[string]any{
		"type": "offer", "sender_id": s3, "receiver_id": rID,
		"offer": map[string]string{"type": "offer", "sdp": "v=0"},
	})
	expectType(t, rConn, MessageTypeOffer)
}

func TestServer_SenderExitBroadcast(t *testing.T) {
	srv, ts := startRelay(t, Config{})

	sConn, sID := connectSender(t, ts)
	r1, _, _ := connectReceiver(t, ts, 1)
	r2, _, _ := connectReceiver(t, ts, 1)

	_ = sConn.Close()
	for _, c := range []*websocket.Conn{r1, r2} {
		msg := expectType(t, c, MessageTypeSenderExit)
		if msg.SenderID != sID {
			t.Fatalf("sender_exit id=%q, want %q", msg.SenderID, sID)
		}
	}
	if _, err := srv.Registry().Lookup(sID, RoleSender); !errors.Is(err, ErrPeerNotFound) {
		t.Fatalf("sender still registered: %v", err)
	}
	if n := srv.metrics.Get(metrics.SenderExitSent); n != 2 {
		t.Fatalf("sender_exit sent=%d, want 2", n)
	}
	for _, c := range []*websocket.Conn{r1, r2} {
		expectSilence(t, c, 200*time.Millisecond)
	}

	// A sender leaving is not announced to other senders.
	_, s2 := connectSender(t, ts)
	_, _, announced := connectReceiver(t, ts, 1)
	if announced[0] != s2 {
		t.Fatalf("announced=%v, want [%s]", announced, s2)
	}
}

func TestServer_SenderExitDisabled(t *testing.T) {
	srv, ts := startRelay(t, Config{DisableSenderExit: true})

	sConn, _ := connectSender(t, ts)
	_, _, _ = connectReceiver(t, ts, 1)
	_ = sConn.Close()

	waitFor(t, "sender unregister", func() bool { return srv.Registry().Count(RoleSender) == 0 })
	if n := srv.metrics.Get(metrics.SenderExitSent); n != 0 {
		t.Fatalf("sender_exit sent=%d, want 0", n)
	}
}

func TestServer_DropsWithoutClosing(t *testing.T) {
	srv, ts := startRelay(t, Config{})

	sConn, sID := connectSender(t, ts)
	rConn, rID, _ := connectReceiver(t, ts, 1)
	_, otherID, _ := connectReceiver(t, ts, 1)

	writeText(t, rConn, `not json`)
	writeText(t, rConn, `{"type":"offer","sender_id":"x"}`)
	writeText(t, rConn, `{"type":"candidate","candidate":"a=x"}`)
	writeJSON(t, rConn, requestOffer("no-such-sender", rID))
	writeJSON(t, rConn, requestOffer(sID, otherID))
	writeJSON(t, sConn, requestOffer(sID, rID))
	if err := rConn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	// Still connected, and nothing was sent back for the drops.
	probe := `{"type":"request_offer","sender_id":"` + sID + `","receiver_id":"` + rID + `","probe":1}`
	writeText(t, rConn, probe)
	if got := readFrame(t, sConn); string(got) != probe {
		t.Fatalf("sender got %s, want probe", got)
	}
	writeJSON(t, sConn, map[string]any{
		"type": "offer", "sender_id": sID, "receiver_id": rID,
		"offer": map[string]string{"type": "offer", "sdp": "v=0"},
	})
	expectType(t, rConn, MessageTypeOffer)

	m := srv.metrics
	checks := map[string]uint64{
		metrics.DropMalformed:     3,
		metrics.DropUnknownType:   1,
		metrics.DropUnknownTarget: 1,
		metrics.DropUnexpected:    1,
		metrics.DropNonTextFrame:  1,
	}
	for name, want := range checks {
		if got := m.Get(name); got != want {
			t.Fatalf("%s=%d, want %d", name, got, want)
		}
	}
}

func TestServer_UnroutableAfterTargetLeft(t *testing.T) {
	_, ts := startRelay(t, Config{})

	sConn, sID := connectSender(t, ts)
	rConn, rID, _ := connectReceiver(t, ts, 1)
	_ = sConn.Close()
	expectType(t, rConn, MessageTypeSenderExit)

	writeJSON(t, rConn, map[string]any{
		"type": "answer", "sender_id": sID, "receiver_id": rID,
		"answer": map[string]string{"type": "answer", "sdp": "v=0"},
	})

	s2Conn, s2 := connectSender(t, ts)
	writeJSON(t, rConn, requestOffer(s2, rID))
	expectType(t, s2Conn, MessageTypeRequestOffer)
}

func TestServer_OversizedMessageCloses(t *testing.T) {
	srv, ts := startRelay(t, Config{MaxSignalingMessageBytes: 64})

	c, id := connectSender(t, ts)
	writeText(t, c, `{"type":"offer","pad":"`+strings.Repeat("x", 200)+`"}`)
	expectCloseCode(t, c, websocket.CloseMessageTooBig)

	waitFor(t, "sender unregister", func() bool {
		_, err := srv.Registry().Lookup(id, RoleSender)
		return errors.Is(err, ErrPeerNotFound)
	})
}

func TestServer_IdleTimeout(t *testing.T) {
	srv, ts := startRelay(t, Config{
		SignalingWSIdleTimeout:  300 * time.Millisecond,
		SignalingWSPingInterval: 50 * time.Millisecond,
	})

	c, _ := connectSender(t, ts)
	c.SetPingHandler(func(string) error { return nil })
	expectCloseCode(t, c, websocket.ClosePolicyViolation)
	waitFor(t, "sender unregister", func() bool { return srv.Registry().Len() == 0 })
}

func TestServer_PongKeepsConnectionAlive(t *testing.T) {
	srv, ts := startRelay(t, Config{
		SignalingWSIdleTimeout:  300 * time.Millisecond,
		SignalingWSPingInterval: 50 * time.Millisecond,
	})

	c, _ := connectSender(t, ts)
	// The default ping handler answers with a pong while we read.
	_ = c.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := c.ReadMessage()
	if err == nil {
		t.Fatalf("unexpected frame")
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		t.Fatalf("connection closed: %v", err)
	}
	if srv.Registry().Count(RoleSender) != 1 {
		t.Fatalf("sender unregistered while answering pings")
	}
}

func TestServer_RateLimitDropsExcess(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	srv, ts := startRelay(t, Config{MaxSignalingMessagesPerSecond: 2, Clock: clk})

	sConn, sID := connectSender(t, ts)
	rConn, rID, _ := connectReceiver(t, ts, 1)

	for i := 1; i <= 3; i++ {
		writeText(t, rConn, `{"type":"request_offer","sender_id":"`+sID+`","receiver_id":"`+rID+`","n":`+strconv.Itoa(i)+`}`)
	}
	waitFor(t, "rate limited drop", func() bool { return srv.metrics.Get(metrics.DropRateLimited) == 1 })
	clk.Advance(time.Second)
	writeText(t, rConn, `{"type":"request_offer","sender_id":"`+sID+`","receiver_id":"`+rID+`","n":4}`)

	for _, want := range []string{`"n":1`, `"n":2`, `"n":4`} {
		if got := readFrame(t, sConn); !strings.Contains(string(got), want) {
			t.Fatalf("sender got %s, want frame with %s", got, want)
		}
	}
}

func TestServer_OriginRejected(t *testing.T) {
	srv, ts := startRelay(t, Config{AllowedOrigins: []string{"https://app.example.com"}})

	h := http.Header{}
	h.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/sender"), h)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp=%v, want 403", resp)
	}
	if srv.Registry().Len() != 0 {
		t.Fatalf("rejected connection was registered")
	}
	if n := srv.metrics.Get(metrics.SignalingOriginRejected); n != 1 {
		t.Fatalf("origin rejections=%d, want 1", n)
	}

	h.Set("Origin", "https://app.example.com")
	c, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/receiver"), h)
	if err != nil {
		t.Fatalf("dial allowed origin: %v", err)
	}
	defer c.Close()
	expectType(t, c, MessageTypeRegistered)
}

func TestServer_TooManyPeers(t *testing.T) {
	srv, ts := startRelay(t, Config{MaxPeers: 1})

	connectSender(t, ts)
	c := dialRole(t, ts, RoleReceiver)
	expectCloseCode(t, c, websocket.CloseTryAgainLater)

	if n := srv.metrics.Get(metrics.TooManyPeers); n != 1 {
		t.Fatalf("too_many_peers=%d, want 1", n)
	}
	if srv.Registry().Len() != 1 {
		t.Fatalf("len=%d, want 1", srv.Registry().Len())
	}
}

func TestServer_CloseDisconnectsPeers(t *testing.T) {
	srv, ts := startRelay(t, Config{})

	sConn, _ := connectSender(t, ts)
	rConn, _, _ := connectReceiver(t, ts, 1)

	srv.Close()
	expectCloseCode(t, sConn, websocket.CloseGoingAway)
	expectCloseCode(t, rConn, websocket.CloseGoingAway)
	waitFor(t, "registry drained", func() bool { return srv.Registry().Len() == 0 })

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/sender"), nil)
	if err == nil {
		t.Fatalf("dial after close succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("resp=%v, want 503", resp)
	}
}

func TestServer_StatsHandler(t *testing.T) {
	srv, ts := startRelay(t, Config{})
	connectSender(t, ts)
	connectSender(t, ts)
	connectReceiver(t, ts, 2)

	rec := httptest.NewRecorder()
	srv.StatsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	var got Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Senders != 2 || got.Receivers != 1 {
		t.Fatalf("stats=%+v, want 2 senders 1 receiver", got)
	}
}

func TestServer_UnknownPath(t *testing.T) {
	_, ts := startRelay(t, Config{})
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/observer"), nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resp=%v, want 404", resp)
	}
}
