// Package chatlink is the client side of the realtime coaching chat: one
// Session owns one WebSocket connection to the topic router, keeps it alive
// with heartbeats, resubscribes after reconnects, and reconciles the
// client-visible conversation state.
package chatlink

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GleciaGaba/GYMCOACH/pkg/wire"
)

type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
)

const (
	defaultHeartbeatInterval = 4 * time.Second
	// 2.5× the heartbeat interval: missing two pongs plus slack is loss.
	defaultHeartbeatTimeout     = 10 * time.Second
	defaultReconnectBaseDelay   = 3 * time.Second
	defaultMaxReconnectAttempts = 5
	defaultSendQueueSize        = 64
	writeWait                   = 5 * time.Second
	teardownFlushWait           = time.Second
)

// Config carries the session credentials and tunables. Zero values fall back
// to the defaults above.
type Config struct {
	// URL is the router WebSocket endpoint (ws:// or wss://).
	URL string
	// Token is the bearer credential attached to the handshake headers.
	Token string
	// UserID is the authenticated identity, stamped on outbound envelopes
	// and used for optimistic local state. The router re-derives it from
	// the credential and never trusts this value.
	UserID int64

	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	TypingExpiry         time.Duration
	SendQueueSize        int

	Dialer *websocket.Dialer
	Logger *zap.Logger
}

func (c *Config) withDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = defaultReconnectBaseDelay
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if c.TypingExpiry == 0 {
		c.TypingExpiry = defaultTypingExpiry
	}
	if c.SendQueueSize == 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Session is one live connection instance and its state machine. Construct
// with NewSession and inject wherever a consumer needs chat; there is no
// package-level shared instance.
type Session struct {
	cfg  Config
	log  *zap.Logger
	disp *dispatcher
	rec  *Reconciler

	mu          sync.Mutex
	state       State
	conn        *websocket.Conn
	sendq       chan wire.Frame
	connCancel  context.CancelFunc
	lifeCtx     context.Context
	lifeCancel  context.CancelFunc
	dialing     bool
	supervising bool
	closing     bool
	lastErr     error
}

func NewSession(cfg Config) *Session {
	cfg.withDefaults()
	s := &Session{
		cfg:   cfg,
		log:   cfg.Logger,
		disp:  &dispatcher{},
		state: StateDisconnected,
	}
	s.rec = NewReconciler(cfg.UserID, cfg.TypingExpiry, func(userID int64) {
		s.disp.emitTyping(userID, false)
	})
	return s
}

// SetListener installs the consumer callback set. The dispatcher holds one
// listener at a time; passing nil detaches the previous one.
func (s *Session) SetListener(l Listener) {
	s.disp.setListener(l)
}

// Reconciler exposes the client-visible conversation state owned by this
// session.
func (s *Session) Reconciler() *Reconciler {
	return s.rec
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Connect establishes the transport and performs the handshake. It suspends
// until the connection is up or rejected. A rejected credential returns
// *AuthError and is terminal; a transport failure returns *TransportError
// and is the caller's cue that nothing is live yet (the supervisor only
// engages on loss of an established connection).
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnected || s.dialing {
		s.mu.Unlock()
		return nil
	}
	s.closing = false
	s.state = StateConnecting
	if s.lifeCancel == nil {
		s.lifeCtx, s.lifeCancel = context.WithCancel(context.Background())
	}
	s.mu.Unlock()

	if err := s.dial(ctx); err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.lastErr = err
		s.mu.Unlock()
		return err
	}
	return nil
}

// dial runs one handshake attempt. Both Connect and the supervisor funnel
// through here; the dialing flag keeps a single attempt in flight.
func (s *Session) dial(ctx context.Context) error {
	s.mu.Lock()
	if s.dialing {
		s.mu.Unlock()
		return &TransportError{Op: "dial", Err: errors.New("connect already in progress")}
	}
	s.dialing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.dialing = false
		s.mu.Unlock()
	}()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.cfg.Token)

	conn, resp, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return &AuthError{Status: resp.StatusCode}
		}
		return &TransportError{Op: "dial", Err: err}
	}

	// Subscriptions go on the wire before JOIN so a message sent to us right
	// after the router sees the JOIN cannot race the subscription.
	for _, topic := range wire.Topics() {
		if err := conn.WriteJSON(wire.SubscribeFrame(topic)); err != nil {
			_ = conn.Close()
			return &TransportError{Op: "subscribe", Err: err}
		}
	}
	join := wire.Envelope{
		Type:      wire.EventJoin,
		SenderID:  s.cfg.UserID,
		Timestamp: time.Now().UTC(),
	}
	if err := conn.WriteJSON(wire.CommandFrame(wire.DestAddUser, join)); err != nil {
		_ = conn.Close()
		return &TransportError{Op: "join", Err: err}
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close()
		return &TransportError{Op: "dial", Err: errors.New("session closed during connect")}
	}
	connCtx, cancel := context.WithCancel(s.lifeCtx)
	s.conn = conn
	s.sendq = make(chan wire.Frame, s.cfg.SendQueueSize)
	s.connCancel = cancel
	s.state = StateConnected
	s.lastErr = nil
	q := s.sendq
	s.mu.Unlock()

	go s.readPump(conn)
	go s.writePump(connCtx, conn, q)

	s.log.Info("session connected", zap.String("url", s.cfg.URL))
	s.disp.emitConnected()
	return nil
}

// Disconnect sends a best-effort LEAVE, releases the transport and cancels
// any pending reconnect timer. Idempotent; safe to call from any state.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state == StateDisconnected && s.conn == nil && s.lifeCancel == nil {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	wasConnected := s.state == StateConnected
	q := s.sendq
	lifeCancel := s.lifeCancel
	s.lifeCancel = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if wasConnected && q != nil {
		leave := wire.Envelope{
			Type:      wire.EventLeave,
			SenderID:  s.cfg.UserID,
			Timestamp: time.Now().UTC(),
		}
		select {
		case q <- wire.CommandFrame(wire.DestDisconnect, leave):
		default:
		}
	}

	if lifeCancel != nil {
		// The write pump flushes the queue, including the LEAVE, on its way
		// out; the read pump observes the close and releases the socket.
		lifeCancel()
	}

	s.disp.emitDisconnected(nil)
	return nil
}

// SendMessage publishes a MESSAGE envelope to chat.sendMessage and appends
// an optimistic entry to the conversation. Fire-and-forget: it never blocks
// and never waits for the router. While not CONNECTED it rejects fast with
// ErrDeliveryUncertain so user input is not silently queued into a dead
// transport.
func (s *Session) SendMessage(content string, receiverID int64) (Message, error) {
	env := wire.Envelope{
		Type:       wire.EventMessage,
		SenderID:   s.cfg.UserID,
		ReceiverID: receiverID,
		Content:    content,
		Timestamp:  time.Now().UTC(),
	}

	q, ok := s.liveQueue()
	if !ok {
		return Message{}, ErrDeliveryUncertain
	}

	pending := s.rec.BeginSend(content, receiverID)
	select {
	case q <- wire.CommandFrame(wire.DestSendMessage, env):
		return pending, nil
	default:
		s.rec.RollbackSend(receiverID, pending.LocalID)
		return Message{}, ErrDeliveryUncertain
	}
}

// SendTyping publishes a typing indicator. Callers debounce keystroke
// bursts themselves; the router clears stale indicators after the quiet
// interval regardless.
func (s *Session) SendTyping(receiverID int64, typing bool) error {
	content := ""
	if typing {
		content = "typing"
	}
	env := wire.Envelope{
		Type:       wire.EventTyping,
		SenderID:   s.cfg.UserID,
		ReceiverID: receiverID,
		Content:    content,
		Timestamp:  time.Now().UTC(),
	}
	return s.enqueue(wire.CommandFrame(wire.DestTyping, env))
}

// SendRead publishes a READ envelope marking messages up to messageID as
// consumed.
func (s *Session) SendRead(messageID, receiverID int64) error {
	env := wire.Envelope{
		Type:       wire.EventRead,
		SenderID:   s.cfg.UserID,
		ReceiverID: receiverID,
		Timestamp:  time.Now().UTC(),
		MessageID:  messageID,
	}
	return s.enqueue(wire.CommandFrame(wire.DestRead, env))
}

func (s *Session) liveQueue() (chan wire.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.sendq == nil {
		return nil, false
	}
	return s.sendq, true
}

func (s *Session) enqueue(frame wire.Frame) error {
	q, ok := s.liveQueue()
	if !ok {
		return ErrDeliveryUncertain
	}
	select {
	case q <- frame:
		return nil
	default:
		return ErrDeliveryUncertain
	}
}

// readPump dispatches inbound frames in receive order. It is the only
// reader of the connection; heartbeat timeouts surface here as read errors.
func (s *Session) readPump(conn *websocket.Conn) {
	defer conn.Close()

	timeout := s.cfg.HeartbeatTimeout
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(timeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleTransportLoss(conn, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(timeout))

		frame, err := wire.DecodeFrame(data)
		if err != nil {
			// Parse failures are recovered locally: log, drop, keep reading.
			s.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		s.handleFrame(frame)
	}
}

// writePump is the only writer of the connection. It serializes queued
// frames and outgoing pings; on teardown it flushes what is already queued
// before closing.
func (s *Session) writePump(ctx context.Context, conn *websocket.Conn, sendq chan wire.Frame) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(teardownFlushWait)
			for {
				select {
				case frame := <-sendq:
					_ = conn.SetWriteDeadline(deadline)
					if err := conn.WriteJSON(frame); err != nil {
						return
					}
				default:
					_ = conn.SetWriteDeadline(deadline)
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		case frame := <-sendq:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleTransportLoss runs when the read pump fails. Explicit disconnects
// end here quietly; everything else hands the session to the supervisor.
func (s *Session) handleTransportLoss(conn *websocket.Conn, cause error) {
	s.mu.Lock()
	if s.conn != conn {
		// A pump from a replaced connection; the current one is fine.
		s.mu.Unlock()
		return
	}
	if s.connCancel != nil {
		s.connCancel()
		s.connCancel = nil
	}
	s.conn = nil
	s.sendq = nil

	if s.closing {
		s.state = StateDisconnected
		s.mu.Unlock()
		return
	}

	retry := s.cfg.MaxReconnectAttempts > 0 && !s.supervising
	if retry {
		s.supervising = true
		s.state = StateReconnecting
	} else {
		s.state = StateDisconnected
	}
	s.lastErr = &TransportError{Op: "read", Err: cause}
	life := s.lifeCtx
	s.mu.Unlock()

	s.log.Warn("transport lost", zap.Error(cause))
	s.disp.emitDisconnected(&TransportError{Op: "read", Err: cause})

	if retry {
		go s.supervise(life)
	} else {
		s.disp.emitError(ErrReconnectFailed)
	}
}

// handleFrame demultiplexes one inbound frame by topic. Reconciliation
// happens before the listener callback so a consumer reading the state from
// inside the callback sees the event already applied.
func (s *Session) handleFrame(frame *wire.Frame) {
	if frame.Error != "" {
		s.disp.emitError(errors.New(frame.Error))
		return
	}
	env := frame.Envelope

	switch frame.Topic {
	case wire.TopicMessages:
		if env.Type != wire.EventMessage {
			s.log.Warn("unexpected event on messages topic", zap.String("type", string(env.Type)))
			return
		}
		autoRead := s.rec.ApplyIncoming(*env)
		s.disp.emitMessage(*env)
		if autoRead && env.MessageID != 0 {
			// The open conversation consumes messages as they arrive.
			_ = s.SendRead(env.MessageID, env.SenderID)
		}
	case wire.TopicTyping:
		typing := env.Content != ""
		s.rec.SetTyping(env.SenderID, typing)
		s.disp.emitTyping(env.SenderID, typing)
	case wire.TopicRead:
		s.rec.ApplyRead(*env)
		s.disp.emitRead(env.MessageID)
	default:
		s.log.Warn("frame for unsubscribed topic", zap.String("topic", frame.Topic))
	}
}
