package chatlink

import (
	"sync"

	"github.com/GleciaGaba/GYMCOACH/pkg/wire"
)

// Listener is the capability set a consumer implements to observe one
// session. The dispatcher holds a single listener at a time; all transport
// trouble reaches the consumer through these callbacks, never as a panic or
// a synchronous error from an unrelated call.
type Listener interface {
	OnMessage(env wire.Envelope)
	OnTyping(userID int64, typing bool)
	OnRead(messageID int64)
	OnConnected()
	OnDisconnected(err error)
	OnError(err error)
	OnReconnecting(attempt int)
}

// NopListener implements Listener with no-ops so consumers can embed it and
// override only the callbacks they care about.
type NopListener struct{}

func (NopListener) OnMessage(wire.Envelope) {}
func (NopListener) OnTyping(int64, bool)    {}
func (NopListener) OnRead(int64)            {}
func (NopListener) OnConnected()            {}
func (NopListener) OnDisconnected(error)    {}
func (NopListener) OnError(error)           {}
func (NopListener) OnReconnecting(int)      {}

// dispatcher fans session events into the registered listener. Callbacks are
// invoked on the goroutine that received the event, so per-topic order is
// the transport receive order; there is no ordering across topics.
type dispatcher struct {
	mu sync.RWMutex
	l  Listener
}

func (d *dispatcher) setListener(l Listener) {
	d.mu.Lock()
	d.l = l
	d.mu.Unlock()
}

func (d *dispatcher) listener() Listener {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.l
}

func (d *dispatcher) emitMessage(env wire.Envelope) {
	if l := d.listener(); l != nil {
		l.OnMessage(env)
	}
}

func (d *dispatcher) emitTyping(userID int64, typing bool) {
	if l := d.listener(); l != nil {
		l.OnTyping(userID, typing)
	}
}

func (d *dispatcher) emitRead(messageID int64) {
	if l := d.listener(); l != nil {
		l.OnRead(messageID)
	}
}

func (d *dispatcher) emitConnected() {
	if l := d.listener(); l != nil {
		l.OnConnected()
	}
}

func (d *dispatcher) emitDisconnected(err error) {
	if l := d.listener(); l != nil {
		l.OnDisconnected(err)
	}
}

func (d *dispatcher) emitError(err error) {
	if l := d.listener(); l != nil {
		l.OnError(err)
	}
}

func (d *dispatcher) emitReconnecting(attempt int) {
	if l := d.listener(); l != nil {
		l.OnReconnecting(attempt)
	}
}
