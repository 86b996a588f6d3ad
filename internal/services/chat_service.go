package services

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GleciaGaba/GYMCOACH/internal/models"
	"github.com/GleciaGaba/GYMCOACH/internal/repository"
)

type userReader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

type ChatService struct {
	db               *pgxpool.Pool
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	userRepo         userReader
}

// ChatDelivery is the outcome of a persisted send: the conversation it
// landed in and the authoritative message row.
type ChatDelivery struct {
	Conversation *models.Conversation
	Message      *models.ChatMessage
}

// ReadReceipt reports which sender's messages were consumed, so the router
// can notify them.
type ReadReceipt struct {
	Conversation *models.Conversation
	ReaderID     int64
	NotifyUserID int64
	MessageID    int64
}

func NewChatService(
	db *pgxpool.Pool,
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	userRepo userReader,
) *ChatService {
	return &ChatService{
		db:               db,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		userRepo:         userRepo,
	}
}

func chatParticipantRole(role string) bool {
	return role == models.RoleCoach || role == models.RoleSportif
}

func (s *ChatService) ListConversations(
	ctx context.Context,
	actorID int64,
	role string,
) ([]models.ConversationSummary, error) {
	if !chatParticipantRole(role) && role != models.RoleAdmin {
		return nil, ErrForbidden
	}

	return s.conversationRepo.ListForParticipant(ctx, actorID)
}

// History returns the chronological message page with one other user and
// marks the returned messages addressed to the actor as read, in one
// transaction. A pair that never talked yields an empty page, not an error.
func (s *ChatService) History(
	ctx context.Context,
	actorID int64,
	role string,
	otherUserID int64,
	page int,
	limit int,
) ([]models.ChatMessage, int, error) {
	if !chatParticipantRole(role) && role != models.RoleAdmin {
		return nil, 0, ErrForbidden
	}
	if otherUserID <= 0 || otherUserID == actorID || page <= 0 || limit <= 0 {
		return nil, 0, ErrInvalidInput
	}

	conversation, err := s.conversationRepo.GetByParticipants(ctx, actorID, otherUserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []models.ChatMessage{}, 0, nil
		}
		return nil, 0, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txMessageRepo := repository.NewMessageRepository(tx)

	messages, total, err := txMessageRepo.ListByConversation(
		ctx,
		conversation.ID,
		limit,
		(page-1)*limit,
	)
	if err != nil {
		return nil, 0, err
	}

	if err := txMessageRepo.MarkConversationRead(ctx, conversation.ID, actorID); err != nil {
		return nil, 0, err
	}

	for i := range messages {
		if messages[i].ReceiverID == actorID {
			messages[i].Read = true
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

// SendMessage persists a message from the authenticated actor. The sender
// identity is the actor, never caller-supplied data. First contact creates
// the conversation.
func (s *ChatService) SendMessage(
	ctx context.Context,
	actorID int64,
	role string,
	receiverID int64,
	content string,
) (*ChatDelivery, error) {
	if !chatParticipantRole(role) {
		return nil, ErrForbidden
	}
	if receiverID <= 0 || receiverID == actorID {
		return nil, ErrInvalidInput
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, ErrInvalidInput
	}

	receiver, err := s.userRepo.GetByID(ctx, receiverID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if !chatParticipantRole(receiver.Role) {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txConversationRepo := repository.NewConversationRepository(tx)
	txMessageRepo := repository.NewMessageRepository(tx)

	conversation, err := txConversationRepo.CreateOrGet(ctx, actorID, receiverID)
	if err != nil {
		return nil, err
	}

	message, err := txMessageRepo.Create(ctx, conversation.ID, actorID, receiverID, trimmed)
	if err != nil {
		return nil, err
	}

	if err := txConversationRepo.Touch(ctx, conversation.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &ChatDelivery{
		Conversation: conversation,
		Message:      message,
	}, nil
}

// MarkConversationRead consumes every message addressed to the actor in the
// conversation.
func (s *ChatService) MarkConversationRead(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
) (*ReadReceipt, error) {
	if !chatParticipantRole(role) && role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	if conversationID <= 0 {
		return nil, ErrInvalidInput
	}

	conversation, err := s.conversationRepo.GetByIDForParticipant(ctx, conversationID, actorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrForbidden
		}
		return nil, err
	}

	if err := s.messageRepo.MarkConversationRead(ctx, conversationID, actorID); err != nil {
		return nil, err
	}

	return &ReadReceipt{
		Conversation: conversation,
		ReaderID:     actorID,
		NotifyUserID: conversation.OtherParticipant(actorID),
	}, nil
}

// MarkReadUpTo consumes messages from otherUserID up to and including
// messageID; zero messageID covers them all. Used by the realtime READ
// command.
func (s *ChatService) MarkReadUpTo(
	ctx context.Context,
	actorID int64,
	otherUserID int64,
	messageID int64,
) (*ReadReceipt, error) {
	if otherUserID <= 0 || otherUserID == actorID {
		return nil, ErrInvalidInput
	}

	conversation, err := s.conversationRepo.GetByParticipants(ctx, actorID, otherUserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidInput
		}
		return nil, err
	}

	if err := s.messageRepo.MarkReadUpTo(ctx, conversation.ID, actorID, messageID); err != nil {
		return nil, err
	}

	return &ReadReceipt{
		Conversation: conversation,
		ReaderID:     actorID,
		NotifyUserID: otherUserID,
		MessageID:    messageID,
	}, nil
}

func (s *ChatService) UnreadCount(ctx context.Context, actorID int64) (int, error) {
	return s.messageRepo.CountUnreadForUser(ctx, actorID)
}
