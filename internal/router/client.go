package router

import (
	"context"
	"errors"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GleciaGaba/GYMCOACH/internal/services"
	"github.com/GleciaGaba/GYMCOACH/pkg/wire"
)

// ChatService is the persistence surface the router commands go through.
type ChatService interface {
	SendMessage(ctx context.Context, actorID int64, role string, receiverID int64, content string) (*services.ChatDelivery, error)
	MarkReadUpTo(ctx context.Context, actorID int64, otherUserID int64, messageID int64) (*services.ReadReceipt, error)
}

// PresenceStore records which users currently hold a live session.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID int64) error
	SetOffline(ctx context.Context, userID int64) error
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	id     string
	userID int64
	role   string
	send   chan []byte

	// topics is owned by the hub goroutine once the client is registered.
	topics map[string]struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID int64, role string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		id:     uuid.NewString(),
		userID: userID,
		role:   role,
		send:   make(chan []byte, 32),
		topics: make(map[string]struct{}),
	}
}

// ReadPump consumes frames from the connection until it drops. Malformed
// frames are answered with an error frame and the connection stays up; the
// client recovers parse failures locally the same way.
func (c *Client) ReadPump(service ChatService, presence PresenceStore) {
	defer func() {
		c.setPresence(presence, false)
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		frame, err := wire.DecodeFrame(payload)
		if err != nil {
			c.hub.log.Warn("malformed frame",
				zap.String("conn", c.id),
				zap.Int64("user", c.userID),
				zap.Error(err))
			c.writeError("malformed frame")
			continue
		}

		c.handleFrame(service, presence, frame)
	}
}

func (c *Client) handleFrame(service ChatService, presence PresenceStore, frame *wire.Frame) {
	if frame.Subscribe != "" {
		c.hub.Subscribe(c, frame.Subscribe)
		return
	}

	env := frame.Envelope

	switch frame.Destination {
	case wire.DestAddUser:
		c.setPresence(presence, true)
		c.hub.log.Info("user joined",
			zap.String("conn", c.id),
			zap.Int64("user", c.userID))

	case wire.DestDisconnect:
		c.setPresence(presence, false)
		c.hub.log.Info("user left",
			zap.String("conn", c.id),
			zap.Int64("user", c.userID))

	case wire.DestSendMessage:
		// The sender identity comes from the authenticated session, never
		// from the payload.
		delivery, err := service.SendMessage(
			context.Background(), c.userID, c.role, env.ReceiverID, env.Content)
		if err != nil {
			c.writeError(commandErrorText(err))
			return
		}
		out := wire.Envelope{
			Type:       wire.EventMessage,
			SenderID:   delivery.Message.SenderID,
			ReceiverID: delivery.Message.ReceiverID,
			Content:    delivery.Message.Content,
			Timestamp:  delivery.Message.CreatedAt,
			MessageID:  delivery.Message.ID,
		}
		c.hub.Deliver(out.ReceiverID, wire.TopicMessages, out)
		// The echo confirms the sender's optimistic entry with the
		// authoritative id and timestamp.
		c.hub.Deliver(out.SenderID, wire.TopicMessages, out)

	case wire.DestTyping:
		if env.ReceiverID <= 0 || env.ReceiverID == c.userID {
			c.writeError("invalid receiver")
			return
		}
		c.hub.Deliver(env.ReceiverID, wire.TopicTyping, wire.Envelope{
			Type:       wire.EventTyping,
			SenderID:   c.userID,
			ReceiverID: env.ReceiverID,
			Content:    env.Content,
			Timestamp:  time.Now().UTC(),
		})

	case wire.DestRead:
		receipt, err := service.MarkReadUpTo(
			context.Background(), c.userID, env.ReceiverID, env.MessageID)
		if err != nil {
			c.writeError(commandErrorText(err))
			return
		}
		c.hub.Deliver(receipt.NotifyUserID, wire.TopicRead, wire.Envelope{
			Type:       wire.EventRead,
			SenderID:   receipt.ReaderID,
			ReceiverID: receipt.NotifyUserID,
			Timestamp:  time.Now().UTC(),
			MessageID:  receipt.MessageID,
		})

	default:
		c.writeError("unsupported destination")
	}
}

// WritePump is the single writer of the connection.
func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func (c *Client) setPresence(presence PresenceStore, online bool) {
	if presence == nil {
		return
	}
	var err error
	if online {
		err = presence.SetOnline(context.Background(), c.userID)
	} else {
		err = presence.SetOffline(context.Background(), c.userID)
	}
	if err != nil {
		c.hub.log.Warn("presence update failed",
			zap.Int64("user", c.userID),
			zap.Bool("online", online),
			zap.Error(err))
	}
}

func (c *Client) writeError(text string) {
	payload, err := wire.Frame{Error: text}.Encode()
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.hub.Unregister(c)
	}
}

func commandErrorText(err error) string {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return "forbidden"
	case errors.Is(err, services.ErrInvalidInput):
		return "invalid request"
	case errors.Is(err, services.ErrUserNotFound):
		return "unknown receiver"
	default:
		return "failed to process command"
	}
}
