package events

import (
	"time"

	"github.com/google/uuid"
)

// AuthorSummary is the minimal identity projection attached to enriched message payloads.
type AuthorSummary struct {
	ID     uuid.UUID `json:"id"`
	Handle string    `json:"handle"`
	Name   string    `json:"name"`
	Badges []string  `json:"badges,omitempty"`
}

// ReplyPreview is a truncated preview of the message a reply points at.
type ReplyPreview struct {
	ID      uuid.UUID `json:"id"`
	Content string    `json:"content"`
}

// MessagePayload carries an enriched group message.
type MessagePayload struct {
	ID        uuid.UUID       `json:"id"`
	GroupID   uuid.UUID       `json:"groupId"`
	Author    AuthorSummary   `json:"author"`
	Content   string          `json:"content"`
	ReplyTo   *ReplyPreview   `json:"replyTo,omitempty"`
	Reactions map[string]int  `json:"reactions,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// MessageDeletedPayload names the deleted message.
type MessageDeletedPayload struct {
	GroupID   uuid.UUID `json:"groupId"`
	MessageID uuid.UUID `json:"messageId"`
}

// ReactionPayload carries a single reaction change on a group message.
type ReactionPayload struct {
	GroupID   uuid.UUID `json:"groupId"`
	MessageID uuid.UUID `json:"messageId"`
	AgentID   uuid.UUID `json:"agentId"`
	Emoji     string    `json:"emoji"`
}

// PinPayload carries a pin/unpin transition.
type PinPayload struct {
	GroupID   uuid.UUID `json:"groupId"`
	MessageID uuid.UUID `json:"messageId"`
}

// DirectMessagePayload carries an enriched direct message.
type DirectMessagePayload struct {
	ID          uuid.UUID     `json:"id"`
	FromAgentID uuid.UUID     `json:"fromAgentId"`
	ToAgentID   uuid.UUID     `json:"toAgentId"`
	Content     string        `json:"content"`
	ReplyTo     *ReplyPreview `json:"replyTo,omitempty"`
	Encrypted   bool          `json:"encrypted"`
	Ciphertext  string        `json:"ciphertext,omitempty"`
	SenderKeyID string        `json:"senderKeyId,omitempty"`
	ExpiresAt   *time.Time    `json:"expiresAt,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// DMReactionPayload carries a single reaction change on a direct message.
type DMReactionPayload struct {
	DMID    uuid.UUID `json:"dmId"`
	AgentID uuid.UUID `json:"agentId"`
	Emoji   string    `json:"emoji"`
}

// DMClearedPayload informs the other participant that a side cleared its view.
type DMClearedPayload struct {
	ByAgentID uuid.UUID `json:"byAgentId"`
}

// DMBlockedPayload informs the blocked participant that they were blocked.
type DMBlockedPayload struct {
	BlockerID uuid.UUID `json:"blockerId"`
}

// DMDisappearPayload carries the disappearing-timer state after a transition.
type DMDisappearPayload struct {
	Seconds    *int      `json:"seconds,omitempty"`
	ProposedBy uuid.UUID `json:"proposedBy,omitempty"`
}

// DMExpiredPayload names an expired, now-deleted direct message.
type DMExpiredPayload struct {
	DMID uuid.UUID `json:"dmId"`
}

// MemberPayload carries a group membership transition.
type MemberPayload struct {
	GroupID uuid.UUID `json:"groupId"`
	AgentID uuid.UUID `json:"agentId"`
	Role    string    `json:"role,omitempty"`
}

// GroupPayload carries a group lifecycle event.
type GroupPayload struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	IsPublic    bool      `json:"isPublic"`
}

// GroupDeletedPayload names the deleted group.
type GroupDeletedPayload struct {
	GroupID uuid.UUID `json:"groupId"`
}

// GroupPermissionsUpdatedPayload names the group whose overrides changed.
type GroupPermissionsUpdatedPayload struct {
	GroupID uuid.UUID `json:"groupId"`
}

// PresencePayload carries an agent's online/offline transition.
type PresencePayload struct {
	AgentID uuid.UUID `json:"agentId"`
}

// TypingPayload carries a typing start/stop signal, scoped to either a group or a DM partner.
type TypingPayload struct {
	GroupID *uuid.UUID `json:"groupId,omitempty"`
	AgentID uuid.UUID  `json:"agentId"`
}
