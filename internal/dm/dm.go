// Package dm implements direct messaging: canonicalized conversations, disappearing-message
// timer negotiation, blocks, and per-side clearing (spec.md §4.6).
package dm

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the dm package.
var (
	ErrNotFound         = errors.New("conversation not found")
	ErrMessageNotFound  = errors.New("direct message not found")
	ErrSelfDM           = errors.New("cannot send a direct message to yourself")
	ErrBlocked          = errors.New("blocked")
	ErrEmptyContent     = errors.New("direct message content must not be empty")
	ErrContentTooLong   = errors.New("direct message content exceeds the maximum length")
	ErrAlreadyBlocked   = errors.New("agent is already blocked")
	ErrNotBlocked       = errors.New("agent is not blocked")
	ErrReplyNotFound    = errors.New("reply target message not found in this conversation")
	ErrNotParticipant   = errors.New("actor is not a participant in this conversation")
	ErrInvalidReaction  = errors.New("reaction name must be one of like, love, angry, sad")
	ErrAlreadyReacted   = errors.New("actor has already reacted with this emoji")
	ErrReactionNotFound = errors.New("no such reaction to remove")
)

// Pagination and content limits.
const (
	DefaultLimit      = 50
	MaxLimit          = 100
	MaxContentLength  = 4000
	ReplyPreviewChars = 100
)

// Conversation holds the fields read from dm_conversations. AgentAID < AgentBID always, the
// canonical ordering spec.md §4.6 requires.
type Conversation struct {
	AgentAID              uuid.UUID
	AgentBID              uuid.UUID
	DisappearTimerSeconds *int
	DisappearSetBy        *uuid.UUID
	PendingApproval       bool
	ProposedValueSeconds  *int
	ProposedBy            *uuid.UUID
	AgentAClearedAt       *time.Time
	AgentBClearedAt       *time.Time
	CreatedAt             time.Time
}

// ClearedAtFor returns the side-specific clearedAt for agentID, which must be one of the
// conversation's two participants.
func (c Conversation) ClearedAtFor(agentID uuid.UUID) *time.Time {
	if agentID == c.AgentAID {
		return c.AgentAClearedAt
	}
	return c.AgentBClearedAt
}

// Active reports whether the disappearing-message timer is currently active, and its duration.
func (c Conversation) Active() (time.Duration, bool) {
	if c.DisappearTimerSeconds == nil || c.PendingApproval {
		return 0, false
	}
	return time.Duration(*c.DisappearTimerSeconds) * time.Second, true
}

// Message holds the fields read from direct_messages.
type Message struct {
	ID          uuid.UUID
	FromAgentID uuid.UUID
	ToAgentID   uuid.UUID
	Content     string
	ReplyToID   *uuid.UUID
	Read        bool
	Encrypted   bool
	Ciphertext  *string
	SenderKeyID *string
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// CreateParams groups the inputs for sending a direct message.
type CreateParams struct {
	FromAgentID uuid.UUID
	ToAgentID   uuid.UUID
	Content     string
	ReplyToID   *uuid.UUID
	ExpiresAt   *time.Time
}

// Canonicalize returns a, b in ascending order, matching the `a1 < a2` invariant every
// conversation and lookup in this package depends on.
func Canonicalize(x, y uuid.UUID) (uuid.UUID, uuid.UUID) {
	if x.String() < y.String() {
		return x, y
	}
	return y, x
}

// Repository defines the data-access contract for conversations, direct messages, reactions,
// and blocks.
type Repository interface {
	GetOrCreateConversation(ctx context.Context, agentA, agentB uuid.UUID) (*Conversation, error)
	ListConversations(ctx context.Context, agentID uuid.UUID) ([]Conversation, error)
	UpdateDisappear(ctx context.Context, agentA, agentB uuid.UUID, update Conversation) error
	SetClearedAt(ctx context.Context, agentA, agentB uuid.UUID, actorID uuid.UUID, at time.Time) error

	CreateMessage(ctx context.Context, params CreateParams) (*Message, error)
	GetMessage(ctx context.Context, id uuid.UUID) (*Message, error)
	MessageInConversation(ctx context.Context, agentA, agentB, messageID uuid.UUID) (bool, error)
	ListMessages(ctx context.Context, agentA, agentB uuid.UUID, limit int) ([]Message, error)
	MarkRead(ctx context.Context, fromAgentID, toAgentID uuid.UUID) error
	DeleteExpired(ctx context.Context, now time.Time) ([]Message, error)

	AddReaction(ctx context.Context, messageID, agentID uuid.UUID, emoji string) error
	RemoveReaction(ctx context.Context, messageID, agentID uuid.UUID, emoji string) error
	ReactionsForMessages(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID]map[string]int, error)

	IsBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error)
	Block(ctx context.Context, blockerID, blockedID uuid.UUID) error
	Unblock(ctx context.Context, blockerID, blockedID uuid.UUID) error
	ListBlocked(ctx context.Context, blockerID uuid.UUID) ([]uuid.UUID, error)
}

// ClampLimit constrains a requested page size to [1, MaxLimit], defaulting to DefaultLimit when
// limit is zero or negative.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
