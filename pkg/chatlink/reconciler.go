package chatlink

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GleciaGaba/GYMCOACH/pkg/wire"
)

const defaultTypingExpiry = 2 * time.Second

// Message is the client-visible view of one chat message. Pending entries
// are optimistic local sends that have not been confirmed by the router yet;
// they carry a LocalID instead of a server id.
type Message struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"senderId"`
	ReceiverID int64     `json:"receiverId"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`

	LocalID string `json:"-"`
	Pending bool   `json:"-"`
}

// ConversationSummary mirrors the REST collaborator's conversation shape and
// the reconciler's per-conversation snapshot.
type ConversationSummary struct {
	ID                   int64     `json:"id"`
	OtherUserID          int64     `json:"otherUserId"`
	OtherUserName        string    `json:"otherUserName"`
	LastMessage          string    `json:"lastMessage"`
	LastMessageTimestamp time.Time `json:"lastMessageTimestamp"`
	UnreadCount          int       `json:"unreadCount"`
}

type conversation struct {
	id        int64
	otherID   int64
	otherName string
	messages  []Message
	typing    bool
}

// Reconciler owns the client-visible chat state: conversations, message
// ordering, unread counters and typing indicators. It is the sole mutator of
// that state. The mutex is held for single transitions only, never across
// I/O.
type Reconciler struct {
	mu           sync.Mutex
	selfID       int64
	active       int64
	convs        map[int64]*conversation
	typingTimers map[int64]*time.Timer
	typingExpiry time.Duration
	typingGone   func(userID int64)
}

// NewReconciler builds the state view for the given local identity.
// typingGone is invoked (off-lock) whenever a typing indicator expires on
// its own rather than by an explicit clear.
func NewReconciler(selfID int64, typingExpiry time.Duration, typingGone func(userID int64)) *Reconciler {
	if typingExpiry == 0 {
		typingExpiry = defaultTypingExpiry
	}
	return &Reconciler{
		selfID:       selfID,
		convs:        make(map[int64]*conversation),
		typingTimers: make(map[int64]*time.Timer),
		typingExpiry: typingExpiry,
		typingGone:   typingGone,
	}
}

func (r *Reconciler) conv(otherID int64) *conversation {
	c, ok := r.convs[otherID]
	if !ok {
		c = &conversation{otherID: otherID}
		r.convs[otherID] = c
	}
	return c
}

func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// Seed installs the conversation list fetched from the REST collaborator.
// Known conversations keep their messages; metadata is refreshed.
func (r *Reconciler) Seed(summaries []ConversationSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range summaries {
		c := r.conv(s.OtherUserID)
		c.id = s.ID
		c.otherName = s.OtherUserName
	}
}

// SeedMessages installs the authoritative history for one conversation and
// merges it with any optimistic entries: a pending entry confirmed by the
// read-back (same content from us) is dropped in favor of the server copy,
// unconfirmed ones stay pending.
func (r *Reconciler) SeedMessages(otherID int64, history []Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.conv(otherID)
	merged := make([]Message, 0, len(history)+len(c.messages))
	merged = append(merged, history...)

	for _, m := range c.messages {
		if !m.Pending {
			continue
		}
		confirmed := false
		for _, h := range history {
			if h.SenderID == r.selfID && h.Content == m.Content {
				confirmed = true
				break
			}
		}
		if !confirmed {
			merged = append(merged, m)
		}
	}

	sortMessages(merged)
	c.messages = merged
}

// BeginSend appends an optimistic entry for a locally authored message and
// returns a copy of it. The entry stays pending until the router echoes the
// authoritative message back.
func (r *Reconciler) BeginSend(content string, receiverID int64) Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := Message{
		SenderID:   r.selfID,
		ReceiverID: receiverID,
		Content:    content,
		Timestamp:  time.Now().UTC(),
		LocalID:    uuid.NewString(),
		Pending:    true,
	}
	c := r.conv(receiverID)
	c.messages = append(c.messages, m)
	return m
}

// RollbackSend removes a failed optimistic entry and hands the authored
// content back so the caller can restore it to the input. A user-authored
// message is never silently dropped.
func (r *Reconciler) RollbackSend(receiverID int64, localID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.convs[receiverID]
	if !ok {
		return "", false
	}
	for i, m := range c.messages {
		if m.Pending && m.LocalID == localID {
			content := m.Content
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return content, true
		}
	}
	return "", false
}

// ApplyIncoming folds a MESSAGE envelope into the conversation it belongs
// to. The router echoes our own sends back with their authoritative id and
// timestamp; those confirm the matching pending entry instead of appending a
// duplicate. The return value reports whether the receiving conversation is
// the active one and the message should be acknowledged with a READ.
func (r *Reconciler) ApplyIncoming(env wire.Envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if env.SenderID == r.selfID {
		r.confirmEcho(env)
		return false
	}

	c := r.conv(env.SenderID)
	if env.MessageID != 0 {
		for _, m := range c.messages {
			if !m.Pending && m.ID == env.MessageID {
				return false // duplicate delivery
			}
		}
	}

	active := r.active == env.SenderID
	c.messages = append(c.messages, Message{
		ID:         env.MessageID,
		SenderID:   env.SenderID,
		ReceiverID: env.ReceiverID,
		Content:    env.Content,
		Timestamp:  env.Timestamp,
		Read:       active,
	})
	sortMessages(c.messages)
	return active
}

func (r *Reconciler) confirmEcho(env wire.Envelope) {
	c := r.conv(env.ReceiverID)

	if env.MessageID != 0 {
		for _, m := range c.messages {
			if !m.Pending && m.ID == env.MessageID {
				return
			}
		}
	}
	for i := range c.messages {
		m := &c.messages[i]
		if m.Pending && m.Content == env.Content {
			m.ID = env.MessageID
			m.Timestamp = env.Timestamp
			m.Pending = false
			m.LocalID = ""
			sortMessages(c.messages)
			return
		}
	}

	// No local entry to confirm (sent from another device, or the optimistic
	// entry was rolled back): keep the list complete.
	c.messages = append(c.messages, Message{
		ID:         env.MessageID,
		SenderID:   env.SenderID,
		ReceiverID: env.ReceiverID,
		Content:    env.Content,
		Timestamp:  env.Timestamp,
	})
	sortMessages(c.messages)
}

// ApplyRead marks our sent messages as read by the envelope's sender.
// Idempotent: re-applying the same READ changes nothing. With no message id
// every message sent before now is covered.
func (r *Reconciler) ApplyRead(env wire.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.convs[env.SenderID]
	if !ok {
		return
	}
	for i := range c.messages {
		m := &c.messages[i]
		if m.SenderID != r.selfID || m.Pending {
			continue
		}
		if env.MessageID == 0 || m.ID <= env.MessageID {
			m.Read = true
		}
	}
}

// SetTyping sets or clears the typing indicator for a peer. A set indicator
// expires on its own after the quiet interval; a superseding indicator
// resets the timer instead of stacking a second one.
func (r *Reconciler) SetTyping(userID int64, typing bool) {
	r.mu.Lock()

	c := r.conv(userID)
	c.typing = typing

	if t, ok := r.typingTimers[userID]; ok {
		t.Stop()
		delete(r.typingTimers, userID)
	}
	if !typing {
		r.mu.Unlock()
		return
	}

	r.typingTimers[userID] = time.AfterFunc(r.typingExpiry, func() {
		r.mu.Lock()
		expired := false
		if c, ok := r.convs[userID]; ok && c.typing {
			c.typing = false
			expired = true
		}
		delete(r.typingTimers, userID)
		r.mu.Unlock()
		if expired && r.typingGone != nil {
			r.typingGone(userID)
		}
	})
	r.mu.Unlock()
}

// TypingActive reports whether the peer currently shows as typing.
func (r *Reconciler) TypingActive(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[userID]
	return ok && c.typing
}

// SetActive marks a conversation as the open one. Its buffered incoming
// messages count as consumed; the ids of the ones that were still unread are
// returned so the caller can acknowledge them. Passing 0 deactivates.
func (r *Reconciler) SetActive(otherID int64) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.active = otherID
	if otherID == 0 {
		return nil
	}
	c, ok := r.convs[otherID]
	if !ok {
		return nil
	}
	var acked []int64
	for i := range c.messages {
		m := &c.messages[i]
		if m.SenderID == otherID && !m.Read {
			m.Read = true
			if m.ID != 0 {
				acked = append(acked, m.ID)
			}
		}
	}
	return acked
}

// Active returns the open conversation's peer id, 0 if none.
func (r *Reconciler) Active() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Messages returns a copy of the ordered message list for one conversation.
func (r *Reconciler) Messages(otherID int64) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[otherID]
	if !ok {
		return nil
	}
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// UnreadCount counts buffered messages from the peer not yet consumed here.
func (r *Reconciler) UnreadCount(otherID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[otherID]
	if !ok {
		return 0
	}
	n := 0
	for _, m := range c.messages {
		if m.SenderID == otherID && !m.Read {
			n++
		}
	}
	return n
}

// Conversations returns per-conversation snapshots ordered by last activity,
// most recent first.
func (r *Reconciler) Conversations() []ConversationSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ConversationSummary, 0, len(r.convs))
	for _, c := range r.convs {
		s := ConversationSummary{
			ID:            c.id,
			OtherUserID:   c.otherID,
			OtherUserName: c.otherName,
		}
		if n := len(c.messages); n > 0 {
			last := c.messages[n-1]
			s.LastMessage = last.Content
			s.LastMessageTimestamp = last.Timestamp
		}
		for _, m := range c.messages {
			if m.SenderID == c.otherID && !m.Read {
				s.UnreadCount++
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageTimestamp.After(out[j].LastMessageTimestamp)
	})
	return out
}
