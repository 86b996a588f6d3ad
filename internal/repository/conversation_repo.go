package repository

import (
	"context"
	"database/sql"

	"github.com/GleciaGaba/GYMCOACH/internal/models"
)

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// CreateOrGet returns the single conversation between the two participants,
// creating it on first contact. The pair is stored normalized (lower id
// first) so either ordering maps to the same row.
func (r *ConversationRepository) CreateOrGet(
	ctx context.Context,
	userID int64,
	otherUserID int64,
) (*models.Conversation, error) {
	query := `
		INSERT INTO conversations (user_a, user_b)
		VALUES (LEAST($1::bigint, $2::bigint), GREATEST($1::bigint, $2::bigint))
		ON CONFLICT (user_a, user_b)
		DO UPDATE SET updated_at = conversations.updated_at
		RETURNING id, user_a, user_b, created_at, updated_at
	`

	var conversation models.Conversation
	err := r.db.QueryRow(ctx, query, userID, otherUserID).Scan(
		&conversation.ID,
		&conversation.UserA,
		&conversation.UserB,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &conversation, nil
}

func (r *ConversationRepository) GetByIDForParticipant(
	ctx context.Context,
	conversationID int64,
	participantID int64,
) (*models.Conversation, error) {
	query := `
		SELECT id, user_a, user_b, created_at, updated_at
		FROM conversations
		WHERE id = $1 AND (user_a = $2 OR user_b = $2)
	`

	var conversation models.Conversation
	err := r.db.QueryRow(ctx, query, conversationID, participantID).Scan(
		&conversation.ID,
		&conversation.UserA,
		&conversation.UserB,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &conversation, nil
}

func (r *ConversationRepository) GetByParticipants(
	ctx context.Context,
	userID int64,
	otherUserID int64,
) (*models.Conversation, error) {
	query := `
		SELECT id, user_a, user_b, created_at, updated_at
		FROM conversations
		WHERE user_a = LEAST($1::bigint, $2::bigint)
		  AND user_b = GREATEST($1::bigint, $2::bigint)
	`

	var conversation models.Conversation
	err := r.db.QueryRow(ctx, query, userID, otherUserID).Scan(
		&conversation.ID,
		&conversation.UserA,
		&conversation.UserB,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &conversation, nil
}

// ListForParticipant returns one summary per conversation of the
// participant: the other user's name, the latest message snapshot and how
// many messages still wait unread for the participant.
func (r *ConversationRepository) ListForParticipant(
	ctx context.Context,
	participantID int64,
) ([]models.ConversationSummary, error) {
	query := `
		SELECT
			c.id,
			other.id,
			other.first_name,
			other.last_name,
			other.email,
			lm.content,
			lm.created_at,
			COALESCE(uc.unread_count, 0)
		FROM conversations c
		JOIN users other
		  ON other.id = CASE WHEN c.user_a = $1 THEN c.user_b ELSE c.user_a END
		LEFT JOIN LATERAL (
			SELECT content, created_at
			FROM messages
			WHERE conversation_id = c.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) lm ON TRUE
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS unread_count
			FROM messages
			WHERE conversation_id = c.id
			  AND receiver_id = $1
			  AND is_read = FALSE
		) uc ON TRUE
		WHERE c.user_a = $1 OR c.user_b = $1
		ORDER BY COALESCE(lm.created_at, c.updated_at, c.created_at) DESC, c.id DESC
	`

	rows, err := r.db.Query(ctx, query, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var summary models.ConversationSummary
		var other models.User
		var lastContent sql.NullString
		var lastCreatedAt sql.NullTime

		if err := rows.Scan(
			&summary.ID,
			&other.ID,
			&other.FirstName,
			&other.LastName,
			&other.Email,
			&lastContent,
			&lastCreatedAt,
			&summary.UnreadCount,
		); err != nil {
			return nil, err
		}

		summary.OtherUserID = other.ID
		summary.OtherUserName = other.DisplayName()
		if lastContent.Valid {
			summary.LastMessage = lastContent.String
			summary.LastMessageTimestamp = lastCreatedAt.Time
		}

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}

func (r *ConversationRepository) Touch(ctx context.Context, conversationID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET updated_at = NOW()
		WHERE id = $1
	`, conversationID)
	return err
}
