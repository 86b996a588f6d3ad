// Package wire defines the JSON types exchanged between chat clients and the
// topic router: the Envelope carrying a single chat event, and the Frame that
// addresses it to a destination or tags it with the topic it arrived on.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventMessage EventType = "MESSAGE"
	EventTyping  EventType = "TYPING"
	EventRead    EventType = "READ"
	EventJoin    EventType = "JOIN"
	EventLeave   EventType = "LEAVE"
)

// Private per-user topics a session subscribes to.
const (
	TopicMessages = "queue/messages"
	TopicTyping   = "queue/typing"
	TopicRead     = "queue/read"
)

// Command destinations a session publishes to.
const (
	DestAddUser     = "chat.addUser"
	DestSendMessage = "chat.sendMessage"
	DestTyping      = "chat.typing"
	DestRead        = "chat.read"
	DestDisconnect  = "chat.disconnect"
)

// Topics returns the three private topics in subscription order.
func Topics() []string {
	return []string{TopicMessages, TopicTyping, TopicRead}
}

// Envelope is the unit of chat communication. SenderID is authoritative only
// when the envelope was produced by the router; inbound command envelopes get
// their senderId overwritten with the authenticated session identity.
type Envelope struct {
	Type       EventType `json:"type"`
	SenderID   int64     `json:"senderId"`
	ReceiverID int64     `json:"receiverId"`
	Content    string    `json:"content,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	MessageID  int64     `json:"messageId,omitempty"`
}

// Frame is one WebSocket message. Exactly one of Subscribe, Destination or
// Topic is set: Subscribe and Destination flow client to router, Topic flows
// router to client. Error frames report rejected commands.
type Frame struct {
	Subscribe   string    `json:"subscribe,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Topic       string    `json:"topic,omitempty"`
	Envelope    *Envelope `json:"envelope,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func (t EventType) Valid() bool {
	switch t {
	case EventMessage, EventTyping, EventRead, EventJoin, EventLeave:
		return true
	}
	return false
}

func ValidTopic(topic string) bool {
	switch topic {
	case TopicMessages, TopicTyping, TopicRead:
		return true
	}
	return false
}

// DecodeFrame parses and validates a single wire frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	set := 0
	for _, field := range []string{frame.Subscribe, frame.Destination, frame.Topic} {
		if field != "" {
			set++
		}
	}
	if set != 1 && frame.Error == "" {
		return nil, fmt.Errorf("decode frame: expected exactly one of subscribe, destination or topic")
	}

	if frame.Subscribe != "" && !ValidTopic(frame.Subscribe) {
		return nil, fmt.Errorf("decode frame: unknown topic %q", frame.Subscribe)
	}
	if frame.Topic != "" && !ValidTopic(frame.Topic) {
		return nil, fmt.Errorf("decode frame: unknown topic %q", frame.Topic)
	}
	if frame.Destination != "" || frame.Topic != "" {
		if frame.Envelope == nil {
			return nil, fmt.Errorf("decode frame: missing envelope")
		}
		if !frame.Envelope.Type.Valid() {
			return nil, fmt.Errorf("decode frame: unknown event type %q", frame.Envelope.Type)
		}
	}

	return &frame, nil
}

func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// SubscribeFrame addresses a subscription request for one private topic.
func SubscribeFrame(topic string) Frame {
	return Frame{Subscribe: topic}
}

// CommandFrame addresses an envelope to a command destination.
func CommandFrame(destination string, env Envelope) Frame {
	return Frame{Destination: destination, Envelope: &env}
}

// TopicFrame tags an envelope with the private topic it is delivered on.
func TopicFrame(topic string, env Envelope) Frame {
	return Frame{Topic: topic, Envelope: &env}
}
