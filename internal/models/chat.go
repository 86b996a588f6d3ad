package models

import "time"

type Conversation struct {
	ID        int64     `json:"id"`
	UserA     int64     `json:"userA"`
	UserB     int64     `json:"userB"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OtherParticipant returns the participant that is not userID.
func (c *Conversation) OtherParticipant(userID int64) int64 {
	if c.UserA == userID {
		return c.UserB
	}
	return c.UserA
}

type ChatMessage struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"-"`
	SenderID       int64     `json:"senderId"`
	ReceiverID     int64     `json:"receiverId"`
	Content        string    `json:"content"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"timestamp"`
}

type ConversationSummary struct {
	ID                   int64     `json:"id"`
	OtherUserID          int64     `json:"otherUserId"`
	OtherUserName        string    `json:"otherUserName"`
	LastMessage          string    `json:"lastMessage"`
	LastMessageTimestamp time.Time `json:"lastMessageTimestamp"`
	UnreadCount          int       `json:"unreadCount"`
}
