package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/GleciaGaba/GYMCOACH/internal/models"
	"github.com/GleciaGaba/GYMCOACH/internal/router"
	"github.com/GleciaGaba/GYMCOACH/internal/services"
	"github.com/GleciaGaba/GYMCOACH/pkg/utils"
	"github.com/GleciaGaba/GYMCOACH/pkg/wire"
)

type chatApplicationService interface {
	ListConversations(ctx context.Context, actorID int64, role string) ([]models.ConversationSummary, error)
	History(ctx context.Context, actorID int64, role string, otherUserID int64, page int, limit int) ([]models.ChatMessage, int, error)
	SendMessage(ctx context.Context, actorID int64, role string, receiverID int64, content string) (*services.ChatDelivery, error)
	MarkConversationRead(ctx context.Context, actorID int64, role string, conversationID int64) (*services.ReadReceipt, error)
	MarkReadUpTo(ctx context.Context, actorID int64, otherUserID int64, messageID int64) (*services.ReadReceipt, error)
	UnreadCount(ctx context.Context, actorID int64) (int, error)
}

type ChatHandler struct {
	service   chatApplicationService
	hub       *router.Hub
	presence  router.PresenceStore
	jwtSecret string
}

type sendMessageRequest struct {
	Content    string `json:"content"`
	ReceiverID int64  `json:"receiverId"`
}

func NewChatHandler(
	service chatApplicationService,
	hub *router.Hub,
	presence router.PresenceStore,
	jwtSecret string,
) *ChatHandler {
	return &ChatHandler{
		service:   service,
		hub:       hub,
		presence:  presence,
		jwtSecret: jwtSecret,
	}
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	actorID, role, err := actorContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversations, err := h.service.ListConversations(c.Context(), actorID, role)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(conversations)
}

func (h *ChatHandler) GetConversation(c *fiber.Ctx) error {
	actorID, role, err := actorContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	otherUserID, err := strconv.ParseInt(c.Params("otherUserId"), 10, 64)
	if err != nil || otherUserID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}

	page := parsePositiveInt(c.Query("page"), 1)
	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	messages, total, err := h.service.History(c.Context(), actorID, role, otherUserID, page, limit)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{
		"messages":   messages,
		"pagination": buildPaginationMeta(page, limit, total),
	})
}

// SendMessage is the HTTP fallback for clients without a live realtime
// session. The persisted message still reaches live recipients through the
// hub.
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	actorID, role, err := actorContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	delivery, err := h.service.SendMessage(c.Context(), actorID, role, req.ReceiverID, req.Content)
	if err != nil {
		return mapChatError(c, err)
	}

	env := wire.Envelope{
		Type:       wire.EventMessage,
		SenderID:   delivery.Message.SenderID,
		ReceiverID: delivery.Message.ReceiverID,
		Content:    delivery.Message.Content,
		Timestamp:  delivery.Message.CreatedAt,
		MessageID:  delivery.Message.ID,
	}
	h.hub.Deliver(env.ReceiverID, wire.TopicMessages, env)
	h.hub.Deliver(env.SenderID, wire.TopicMessages, env)

	return c.Status(fiber.StatusCreated).JSON(delivery.Message)
}

func (h *ChatHandler) MarkConversationRead(c *fiber.Ctx) error {
	actorID, role, err := actorContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || conversationID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	receipt, err := h.service.MarkConversationRead(c.Context(), actorID, role, conversationID)
	if err != nil {
		return mapChatError(c, err)
	}

	h.hub.Deliver(receipt.NotifyUserID, wire.TopicRead, wire.Envelope{
		Type:       wire.EventRead,
		SenderID:   receipt.ReaderID,
		ReceiverID: receipt.NotifyUserID,
		Timestamp:  receipt.Conversation.UpdatedAt,
	})

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) UnreadCount(c *fiber.Ctx) error {
	actorID, _, err := actorContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	count, err := h.service.UnreadCount(c.Context(), actorID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(count)
}

func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	rawID, _ := conn.Locals("user_id").(string)
	role, _ := conn.Locals("role").(string)

	userID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || userID <= 0 {
		_ = conn.Close()
		return
	}

	client := router.NewClient(h.hub, conn, userID, role)
	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump(h.service, h.presence)
}

func (h *ChatHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

func actorContext(c *fiber.Ctx) (int64, string, error) {
	rawID, _ := c.Locals("user_id").(string)
	role, _ := c.Locals("role").(string)

	actorID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || actorID <= 0 {
		return 0, "", errors.New("invalid user id in token")
	}
	return actorID, role, nil
}

func mapChatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
	case errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process chat request"})
	}
}
