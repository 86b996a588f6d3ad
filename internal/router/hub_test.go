package router

import (
	"context"
	"testing"
	"time"

	"github.com/GleciaGaba/GYMCOACH/internal/models"
	"github.com/GleciaGaba/GYMCOACH/internal/services"
	"github.com/GleciaGaba/GYMCOACH/pkg/wire"
)

type stubChatService struct {
	lastActorID    int64
	lastRole       string
	lastReceiverID int64
	lastContent    string
	lastOtherID    int64
	lastMessageID  int64
	sendErr        error
	nextMessageID  int64
}

func (s *stubChatService) SendMessage(_ context.Context, actorID int64, role string, receiverID int64, content string) (*services.ChatDelivery, error) {
	s.lastActorID = actorID
	s.lastRole = role
	s.lastReceiverID = receiverID
	s.lastContent = content
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	s.nextMessageID++
	return &services.ChatDelivery{
		Conversation: &models.Conversation{ID: 1, UserA: actorID, UserB: receiverID},
		Message: &models.ChatMessage{
			ID:         s.nextMessageID,
			SenderID:   actorID,
			ReceiverID: receiverID,
			Content:    content,
			CreatedAt:  time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
		},
	}, nil
}

func (s *stubChatService) MarkReadUpTo(_ context.Context, actorID int64, otherUserID int64, messageID int64) (*services.ReadReceipt, error) {
	s.lastActorID = actorID
	s.lastOtherID = otherUserID
	s.lastMessageID = messageID
	return &services.ReadReceipt{
		Conversation: &models.Conversation{ID: 1, UserA: actorID, UserB: otherUserID},
		ReaderID:     actorID,
		NotifyUserID: otherUserID,
		MessageID:    messageID,
	}, nil
}

type stubPresence struct {
	online  chan int64
	offline chan int64
}

func newStubPresence() *stubPresence {
	return &stubPresence{online: make(chan int64, 4), offline: make(chan int64, 4)}
}

func (p *stubPresence) SetOnline(_ context.Context, userID int64) error {
	p.online <- userID
	return nil
}

func (p *stubPresence) SetOffline(_ context.Context, userID int64) error {
	p.offline <- userID
	return nil
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil)
	go hub.Run()
	return hub
}

func addClient(t *testing.T, hub *Hub, userID int64, role string, topics ...string) *Client {
	t.Helper()
	client := NewClient(hub, nil, userID, role)
	hub.Register(client)
	for _, topic := range topics {
		hub.Subscribe(client, topic)
	}
	return client
}

func receiveFrame(t *testing.T, client *Client) *wire.Frame {
	t.Helper()
	select {
	case payload := <-client.send:
		frame, err := wire.DecodeFrame(payload)
		if err != nil {
			t.Fatalf("decode delivered frame: %v", err)
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func expectNoFrame(t *testing.T, client *Client) {
	t.Helper()
	select {
	case payload := <-client.send:
		t.Fatalf("unexpected delivery: %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSendMessageOverwritesSenderAndEchoes(t *testing.T) {
	hub := startHub(t)
	service := &stubChatService{}

	sender := addClient(t, hub, 7, models.RoleSportif, wire.TopicMessages)
	receiver := addClient(t, hub, 42, models.RoleCoach, wire.TopicMessages)

	env := wire.Envelope{
		Type:       wire.EventMessage,
		SenderID:   999, // forged; must be replaced with the session identity
		ReceiverID: 42,
		Content:    "see you at 6",
		Timestamp:  time.Now().UTC(),
	}
	frame := wire.CommandFrame(wire.DestSendMessage, env)
	sender.handleFrame(service, nil, &frame)

	if service.lastActorID != 7 || service.lastRole != models.RoleSportif {
		t.Fatalf("expected session identity 7/%s, got %d/%s",
			models.RoleSportif, service.lastActorID, service.lastRole)
	}

	delivered := receiveFrame(t, receiver)
	if delivered.Topic != wire.TopicMessages {
		t.Fatalf("expected delivery on %s, got %+v", wire.TopicMessages, delivered)
	}
	if delivered.Envelope.SenderID != 7 {
		t.Fatalf("expected authoritative senderId 7, got %d", delivered.Envelope.SenderID)
	}
	if delivered.Envelope.MessageID == 0 {
		t.Fatal("expected authoritative message id on delivery")
	}

	echo := receiveFrame(t, sender)
	if echo.Envelope.SenderID != 7 || echo.Envelope.MessageID != delivered.Envelope.MessageID {
		t.Fatalf("expected matching echo to the sender, got %+v", echo.Envelope)
	}
}

func TestFreshClientFirstSubscribeReceivesDelivery(t *testing.T) {
	hub := startHub(t)

	client := NewClient(hub, nil, 42, models.RoleCoach)
	hub.Register(client)
	hub.Subscribe(client, wire.TopicMessages)

	hub.Deliver(42, wire.TopicMessages, wire.Envelope{
		Type:       wire.EventMessage,
		SenderID:   7,
		ReceiverID: 42,
		Content:    "hello",
		Timestamp:  time.Now().UTC(),
	})

	delivered := receiveFrame(t, client)
	if delivered.Topic != wire.TopicMessages || delivered.Envelope.Content != "hello" {
		t.Fatalf("expected delivery on first subscribed topic, got %+v", delivered)
	}
}

func TestDeliveryRequiresLiveSubscription(t *testing.T) {
	hub := startHub(t)
	service := &stubChatService{}

	sender := addClient(t, hub, 7, models.RoleSportif, wire.TopicMessages)
	unsubscribed := addClient(t, hub, 42, models.RoleCoach) // registered, no topics

	frame := wire.CommandFrame(wire.DestSendMessage, wire.Envelope{
		Type:       wire.EventMessage,
		ReceiverID: 42,
		Content:    "anyone there?",
		Timestamp:  time.Now().UTC(),
	})
	sender.handleFrame(service, nil, &frame)

	// The echo proves the command went through; the unsubscribed session
	// must see nothing.
	receiveFrame(t, sender)
	expectNoFrame(t, unsubscribed)
}

func TestTypingForwardedWithoutPersistence(t *testing.T) {
	hub := startHub(t)
	service := &stubChatService{}

	sender := addClient(t, hub, 7, models.RoleSportif, wire.TopicTyping)
	receiver := addClient(t, hub, 42, models.RoleCoach, wire.TopicTyping)

	frame := wire.CommandFrame(wire.DestTyping, wire.Envelope{
		Type:       wire.EventTyping,
		ReceiverID: 42,
		Content:    "typing",
		Timestamp:  time.Now().UTC(),
	})
	sender.handleFrame(service, nil, &frame)

	delivered := receiveFrame(t, receiver)
	if delivered.Topic != wire.TopicTyping || delivered.Envelope.SenderID != 7 {
		t.Fatalf("unexpected typing delivery: %+v", delivered)
	}
	if service.lastActorID != 0 {
		t.Fatal("typing must not reach the chat service")
	}
	expectNoFrame(t, sender)
}

func TestReadNotifiesOtherParticipant(t *testing.T) {
	hub := startHub(t)
	service := &stubChatService{}

	reader := addClient(t, hub, 7, models.RoleSportif, wire.TopicRead)
	other := addClient(t, hub, 42, models.RoleCoach, wire.TopicRead)

	frame := wire.CommandFrame(wire.DestRead, wire.Envelope{
		Type:       wire.EventRead,
		ReceiverID: 42,
		Timestamp:  time.Now().UTC(),
		MessageID:  11,
	})
	reader.handleFrame(service, nil, &frame)

	if service.lastActorID != 7 || service.lastOtherID != 42 || service.lastMessageID != 11 {
		t.Fatalf("unexpected service call: actor=%d other=%d id=%d",
			service.lastActorID, service.lastOtherID, service.lastMessageID)
	}

	notified := receiveFrame(t, other)
	if notified.Topic != wire.TopicRead || notified.Envelope.SenderID != 7 || notified.Envelope.MessageID != 11 {
		t.Fatalf("unexpected read notification: %+v", notified.Envelope)
	}
	expectNoFrame(t, reader)
}

func TestJoinAndDisconnectUpdatePresence(t *testing.T) {
	hub := startHub(t)
	service := &stubChatService{}
	presence := newStubPresence()

	client := addClient(t, hub, 7, models.RoleSportif)

	join := wire.CommandFrame(wire.DestAddUser, wire.Envelope{
		Type: wire.EventJoin, Timestamp: time.Now().UTC(),
	})
	client.handleFrame(service, presence, &join)
	select {
	case id := <-presence.online:
		if id != 7 {
			t.Fatalf("expected user 7 online, got %d", id)
		}
	case <-time.After(time.Second):
		t.Fatal("JOIN did not mark the user online")
	}

	leave := wire.CommandFrame(wire.DestDisconnect, wire.Envelope{
		Type: wire.EventLeave, Timestamp: time.Now().UTC(),
	})
	client.handleFrame(service, presence, &leave)
	select {
	case id := <-presence.offline:
		if id != 7 {
			t.Fatalf("expected user 7 offline, got %d", id)
		}
	case <-time.After(time.Second):
		t.Fatal("LEAVE did not mark the user offline")
	}
}

func TestRejectedCommandGetsErrorFrame(t *testing.T) {
	hub := startHub(t)
	service := &stubChatService{sendErr: services.ErrInvalidInput}

	client := addClient(t, hub, 7, models.RoleSportif, wire.TopicMessages)

	frame := wire.CommandFrame(wire.DestSendMessage, wire.Envelope{
		Type:       wire.EventMessage,
		ReceiverID: 7, // sending to self
		Content:    "hi me",
		Timestamp:  time.Now().UTC(),
	})
	client.handleFrame(service, nil, &frame)

	errFrame := receiveFrame(t, client)
	if errFrame.Error == "" {
		t.Fatalf("expected error frame, got %+v", errFrame)
	}
}
