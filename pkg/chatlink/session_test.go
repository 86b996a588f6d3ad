package chatlink

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GleciaGaba/GYMCOACH/pkg/wire"
)

type stubFrame struct {
	conn  int
	frame wire.Frame
}

// stubRouter stands in for the topic router: it accepts upgrades, decodes
// every inbound frame onto a channel tagged with its connection, and hands
// accepted connections to the test so it can push frames or kill them.
type stubRouter struct {
	srv    *httptest.Server
	url    string
	reject atomic.Bool
	token  atomic.Value
	frames chan stubFrame
	conns  chan *websocket.Conn
}

func newStubRouter(t *testing.T) *stubRouter {
	t.Helper()
	s := &stubRouter{
		frames: make(chan stubFrame, 64),
		conns:  make(chan *websocket.Conn, 8),
	}
	var upgrader websocket.Upgrader
	var seq int32
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.reject.Load() {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		s.token.Store(r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// The test goroutine is the only writer on this connection.
		conn.SetPingHandler(func(string) error { return nil })
		id := int(atomic.AddInt32(&seq, 1))
		s.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame, err := wire.DecodeFrame(data)
			if err != nil {
				continue
			}
			s.frames <- stubFrame{conn: id, frame: *frame}
		}
	}))
	s.url = "ws" + strings.TrimPrefix(s.srv.URL, "http")
	t.Cleanup(func() {
		s.srv.CloseClientConnections()
		s.srv.Close()
	})
	return s
}

func (s *stubRouter) waitFrame(t *testing.T) stubFrame {
	t.Helper()
	select {
	case f := <-s.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return stubFrame{}
	}
}

func (s *stubRouter) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a connection")
		return nil
	}
}

// expectHandshake consumes the subscription frames and the JOIN that every
// fresh connection must open with, and returns the connection they arrived
// on.
func (s *stubRouter) expectHandshake(t *testing.T) int {
	t.Helper()
	subscribed := make(map[string]bool)
	connID := 0
	for i := 0; i < len(wire.Topics()); i++ {
		f := s.waitFrame(t)
		if f.frame.Subscribe == "" {
			t.Fatalf("expected subscribe frame before JOIN, got %+v", f.frame)
		}
		if subscribed[f.frame.Subscribe] {
			t.Fatalf("topic %q subscribed twice", f.frame.Subscribe)
		}
		subscribed[f.frame.Subscribe] = true
		connID = f.conn
	}
	for _, topic := range wire.Topics() {
		if !subscribed[topic] {
			t.Fatalf("topic %q was not subscribed", topic)
		}
	}
	join := s.waitFrame(t)
	if join.conn != connID {
		t.Fatalf("JOIN arrived on a different connection")
	}
	if join.frame.Destination != wire.DestAddUser || join.frame.Envelope.Type != wire.EventJoin {
		t.Fatalf("expected JOIN on %s, got %+v", wire.DestAddUser, join.frame)
	}
	return connID
}

type typingEvent struct {
	userID int64
	typing bool
}

type recordingListener struct {
	NopListener
	connected    chan struct{}
	disconnected chan error
	errs         chan error
	reconnecting chan int
	messages     chan wire.Envelope
	typing       chan typingEvent
	reads        chan int64
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		connected:    make(chan struct{}, 16),
		disconnected: make(chan error, 16),
		errs:         make(chan error, 16),
		reconnecting: make(chan int, 16),
		messages:     make(chan wire.Envelope, 16),
		typing:       make(chan typingEvent, 16),
		reads:        make(chan int64, 16),
	}
}

func (l *recordingListener) OnConnected()               { l.connected <- struct{}{} }
func (l *recordingListener) OnDisconnected(err error)   { l.disconnected <- err }
func (l *recordingListener) OnError(err error)          { l.errs <- err }
func (l *recordingListener) OnReconnecting(attempt int) { l.reconnecting <- attempt }
func (l *recordingListener) OnMessage(env wire.Envelope) {
	l.messages <- env
}
func (l *recordingListener) OnTyping(userID int64, typing bool) {
	l.typing <- typingEvent{userID: userID, typing: typing}
}
func (l *recordingListener) OnRead(messageID int64) { l.reads <- messageID }

func testConfig(url string) Config {
	return Config{
		URL:                  url,
		Token:                "test-token",
		UserID:               selfID,
		HeartbeatInterval:    50 * time.Millisecond,
		HeartbeatTimeout:     2 * time.Second,
		ReconnectBaseDelay:   10 * time.Millisecond,
		MaxReconnectAttempts: 5,
		TypingExpiry:         40 * time.Millisecond,
	}
}

func TestConnectSubscribesAndJoins(t *testing.T) {
	router := newStubRouter(t)
	sess := NewSession(testConfig(router.url))
	listener := newRecordingListener()
	sess.SetListener(listener)

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sess.Disconnect()

	router.expectHandshake(t)
	select {
	case <-listener.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnected was not delivered")
	}
	if got := sess.State(); got != StateConnected {
		t.Fatalf("expected CONNECTED, got %s", got)
	}
	if tok, _ := router.token.Load().(string); tok != "Bearer test-token" {
		t.Fatalf("expected bearer credential on the handshake, got %q", tok)
	}
}

func TestConnectRejectedCredentialIsTerminal(t *testing.T) {
	router := newStubRouter(t)
	router.reject.Store(true)
	sess := NewSession(testConfig(router.url))

	err := sess.Connect(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
	if sess.State() != StateDisconnected {
		t.Fatalf("expected DISCONNECTED after rejection, got %s", sess.State())
	}
}

func TestSendMessageWhileConnected(t *testing.T) {
	router := newStubRouter(t)
	sess := NewSession(testConfig(router.url))
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sess.Disconnect()
	router.expectHandshake(t)

	pending, err := sess.SendMessage("see you at 6", peerID)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !pending.Pending || pending.Content != "see you at 6" {
		t.Fatalf("expected optimistic pending entry, got %+v", pending)
	}

	f := router.waitFrame(t)
	if f.frame.Destination != wire.DestSendMessage {
		t.Fatalf("expected publish to %s, got %+v", wire.DestSendMessage, f.frame)
	}
	env := f.frame.Envelope
	if env.Type != wire.EventMessage || env.ReceiverID != peerID || env.Content != "see you at 6" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if msgs := sess.Reconciler().Messages(peerID); len(msgs) != 1 || !msgs[0].Pending {
		t.Fatalf("expected one pending entry in the conversation, got %+v", msgs)
	}
}

func TestSendMessageWhileDisconnectedRejectsFast(t *testing.T) {
	sess := NewSession(testConfig("ws://127.0.0.1:0"))

	start := time.Now()
	_, err := sess.SendMessage("hello?", peerID)
	if !errors.Is(err, ErrDeliveryUncertain) {
		t.Fatalf("expected ErrDeliveryUncertain, got %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("rejection must be synchronous, not queued")
	}
	if msgs := sess.Reconciler().Messages(peerID); len(msgs) != 0 {
		t.Fatalf("no optimistic entry may exist for a rejected send, got %+v", msgs)
	}
}

func TestReconnectResubscribesExactlyOnce(t *testing.T) {
	router := newStubRouter(t)
	sess := NewSession(testConfig(router.url))
	listener := newRecordingListener()
	sess.SetListener(listener)

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sess.Disconnect()
	first := router.expectHandshake(t)
	conn := router.waitConn(t)
	<-listener.connected

	conn.Close()

	select {
	case attempt := <-listener.reconnecting:
		if attempt != 1 {
			t.Fatalf("expected first reconnect attempt, got %d", attempt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnReconnecting was not delivered")
	}

	second := router.expectHandshake(t)
	if second == first {
		t.Fatal("expected the handshake on a fresh connection")
	}
	select {
	case <-listener.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not recover")
	}
	if sess.State() != StateConnected {
		t.Fatalf("expected CONNECTED after recovery, got %s", sess.State())
	}

	// No duplicate subscriptions trail the recovered handshake.
	select {
	case f := <-router.frames:
		if f.frame.Subscribe != "" {
			t.Fatalf("unexpected extra subscription %+v", f.frame)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnectBudgetExhaustionIsTerminal(t *testing.T) {
	router := newStubRouter(t)
	cfg := testConfig(router.url)
	sess := NewSession(cfg)
	listener := newRecordingListener()
	sess.SetListener(listener)

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	router.expectHandshake(t)
	conn := router.waitConn(t)
	<-listener.connected

	// Stop accepting redials, then drop the live connection so the loss
	// is seen immediately rather than at the read deadline.
	router.srv.Close()
	conn.Close()

	for want := 1; want <= cfg.MaxReconnectAttempts; want++ {
		select {
		case attempt := <-listener.reconnecting:
			if attempt != want {
				t.Fatalf("expected attempt %d, got %d", want, attempt)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("attempt %d was never scheduled", want)
		}
	}

	select {
	case err := <-listener.errs:
		if !errors.Is(err, ErrReconnectFailed) {
			t.Fatalf("expected ErrReconnectFailed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("terminal error was not delivered")
	}

	if sess.State() != StateDisconnected {
		t.Fatalf("expected terminal DISCONNECTED, got %s", sess.State())
	}
	select {
	case err := <-listener.errs:
		t.Fatalf("terminal error must fire exactly once, got a second: %v", err)
	case attempt := <-listener.reconnecting:
		t.Fatalf("no attempts after exhaustion, got %d", attempt)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestReconnectStopsOnAuthRejection(t *testing.T) {
	router := newStubRouter(t)
	sess := NewSession(testConfig(router.url))
	listener := newRecordingListener()
	sess.SetListener(listener)

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	router.expectHandshake(t)
	conn := router.waitConn(t)
	<-listener.connected

	router.reject.Store(true)
	conn.Close()

	select {
	case err := <-listener.errs:
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("expected *AuthError, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("auth rejection was not surfaced")
	}
	if sess.State() != StateDisconnected {
		t.Fatalf("expected DISCONNECTED after auth rejection, got %s", sess.State())
	}
	select {
	case attempt := <-listener.reconnecting:
		// Attempt 1 is scheduled before the rejection comes back; nothing
		// may follow it.
		if attempt > 1 {
			t.Fatalf("no retries after auth rejection, got attempt %d", attempt)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestIncomingMessageOnActiveConversationIsAcknowledged(t *testing.T) {
	router := newStubRouter(t)
	sess := NewSession(testConfig(router.url))
	listener := newRecordingListener()
	sess.SetListener(listener)

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sess.Disconnect()
	router.expectHandshake(t)
	conn := router.waitConn(t)
	sess.Reconciler().SetActive(peerID)

	env := wire.Envelope{
		Type:       wire.EventMessage,
		SenderID:   peerID,
		ReceiverID: selfID,
		Content:    "ready for the session?",
		Timestamp:  time.Now().UTC(),
		MessageID:  11,
	}
	if err := conn.WriteJSON(wire.TopicFrame(wire.TopicMessages, env)); err != nil {
		t.Fatalf("push: %v", err)
	}

	select {
	case got := <-listener.messages:
		if got.MessageID != 11 || got.Content != env.Content {
			t.Fatalf("unexpected message callback: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnMessage was not delivered")
	}

	ack := router.waitFrame(t)
	if ack.frame.Destination != wire.DestRead {
		t.Fatalf("expected automatic READ, got %+v", ack.frame)
	}
	if ack.frame.Envelope.MessageID != 11 || ack.frame.Envelope.ReceiverID != peerID {
		t.Fatalf("unexpected READ envelope: %+v", ack.frame.Envelope)
	}
	if sess.Reconciler().UnreadCount(peerID) != 0 {
		t.Fatal("active conversation must consume messages as they arrive")
	}
}

func TestIncomingTypingClearsAfterQuietInterval(t *testing.T) {
	router := newStubRouter(t)
	sess := NewSession(testConfig(router.url))
	listener := newRecordingListener()
	sess.SetListener(listener)

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sess.Disconnect()
	router.expectHandshake(t)
	conn := router.waitConn(t)

	env := wire.Envelope{
		Type:       wire.EventTyping,
		SenderID:   peerID,
		ReceiverID: selfID,
		Content:    "typing",
		Timestamp:  time.Now().UTC(),
	}
	if err := conn.WriteJSON(wire.TopicFrame(wire.TopicTyping, env)); err != nil {
		t.Fatalf("push: %v", err)
	}

	select {
	case ev := <-listener.typing:
		if ev.userID != peerID || !ev.typing {
			t.Fatalf("expected typing set for %d, got %+v", peerID, ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("typing indicator was not delivered")
	}
	select {
	case ev := <-listener.typing:
		if ev.typing {
			t.Fatalf("expected expiry to clear the indicator, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("typing indicator never expired")
	}
	if sess.Reconciler().TypingActive(peerID) {
		t.Fatal("expected indicator cleared in the conversation state")
	}
}

func TestDisconnectSendsLeaveAndIsIdempotent(t *testing.T) {
	router := newStubRouter(t)
	sess := NewSession(testConfig(router.url))
	listener := newRecordingListener()
	sess.SetListener(listener)

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	router.expectHandshake(t)
	<-listener.connected

	if err := sess.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	leave := router.waitFrame(t)
	if leave.frame.Destination != wire.DestDisconnect || leave.frame.Envelope.Type != wire.EventLeave {
		t.Fatalf("expected LEAVE on %s, got %+v", wire.DestDisconnect, leave.frame)
	}
	if sess.State() != StateDisconnected {
		t.Fatalf("expected DISCONNECTED, got %s", sess.State())
	}

	if err := sess.Disconnect(); err != nil {
		t.Fatalf("second disconnect must be a no-op, got %v", err)
	}
	select {
	case attempt := <-listener.reconnecting:
		t.Fatalf("explicit disconnect must not trigger the supervisor, got attempt %d", attempt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMalformedFrameIsDroppedAndSessionSurvives(t *testing.T) {
	router := newStubRouter(t)
	sess := NewSession(testConfig(router.url))
	listener := newRecordingListener()
	sess.SetListener(listener)

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sess.Disconnect()
	router.expectHandshake(t)
	conn := router.waitConn(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"queue/messages"`)); err != nil {
		t.Fatalf("push: %v", err)
	}
	env := wire.Envelope{
		Type:       wire.EventMessage,
		SenderID:   peerID,
		ReceiverID: selfID,
		Content:    "still here",
		Timestamp:  time.Now().UTC(),
		MessageID:  12,
	}
	if err := conn.WriteJSON(wire.TopicFrame(wire.TopicMessages, env)); err != nil {
		t.Fatalf("push: %v", err)
	}

	select {
	case got := <-listener.messages:
		if got.MessageID != 12 {
			t.Fatalf("unexpected message after dropped frame: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not survive the malformed frame")
	}
	if sess.State() != StateConnected {
		t.Fatalf("expected CONNECTED after dropped frame, got %s", sess.State())
	}
}
