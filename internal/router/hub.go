// Package router hosts the realtime side of the chat: one hub goroutine
// owns the client registry and per-client topic subscriptions, command
// frames are persisted through the chat service, and deliveries reach a
// user's private topics only while a live subscribed session exists.
package router

import (
	"go.uber.org/zap"

	"github.com/GleciaGaba/GYMCOACH/pkg/wire"
)

type Hub struct {
	log        *zap.Logger
	clients    map[int64]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	deliver    chan delivery
}

type subscription struct {
	client *Client
	topic  string
}

type delivery struct {
	userID int64
	frame  wire.Frame
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:        log,
		clients:    make(map[int64]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		deliver:    make(chan delivery, 64),
	}
}

// Run owns all registry state. Everything else talks to it through
// channels; no other goroutine touches the maps.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
			h.log.Info("client registered",
				zap.String("conn", client.id),
				zap.Int64("user", client.userID))
		case client := <-h.unregister:
			h.drop(client)
		case sub := <-h.subscribe:
			sub.client.topics[sub.topic] = struct{}{}
		case d := <-h.deliver:
			h.dispatch(d)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe attaches the client to one of its private topics. Deliveries
// for a topic reach only clients that subscribed to it on this connection.
func (h *Hub) Subscribe(client *Client, topic string) {
	h.subscribe <- subscription{client: client, topic: topic}
}

// Deliver queues an envelope for every live session of userID subscribed to
// the topic. No store-and-forward: with no such session the envelope is
// gone (persisted messages are still readable over HTTP).
func (h *Hub) Deliver(userID int64, topic string, env wire.Envelope) {
	h.deliver <- delivery{userID: userID, frame: wire.TopicFrame(topic, env)}
}

func (h *Hub) drop(client *Client) {
	set, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, exists := set[client]; exists {
		delete(set, client)
		close(client.send)
	}
	if len(set) == 0 {
		delete(h.clients, client.userID)
	}
}

func (h *Hub) dispatch(d delivery) {
	set, ok := h.clients[d.userID]
	if !ok {
		return
	}

	payload, err := d.frame.Encode()
	if err != nil {
		h.log.Error("encode frame", zap.Error(err))
		return
	}

	for client := range set {
		if _, subscribed := client.topics[d.frame.Topic]; !subscribed {
			continue
		}
		select {
		case client.send <- payload:
		default:
			// A session that stopped draining is dead weight.
			h.drop(client)
		}
	}
}
