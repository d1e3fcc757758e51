// Package message implements group message send/delete/react/list-enriched (spec.md §4.5).
package message

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sentinel errors for the message package.
var (
	ErrNotFound         = errors.New("message not found")
	ErrEmptyContent     = errors.New("message content must not be empty")
	ErrContentTooLong   = errors.New("message content exceeds the maximum length")
	ErrReplyNotFound    = errors.New("reply target message not found")
	ErrNotAuthor        = errors.New("only the author may modify this message")
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

// Message holds the fields read from the messages table.
type Message struct {
	ID        uuid.UUID
	GroupID   uuid.UUID
	AgentID   uuid.UUID
	Content   string
	ReplyToID *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateParams groups the inputs for sending a group message.
type CreateParams struct {
	GroupID   uuid.UUID
	AgentID   uuid.UUID
	Content   string
	ReplyToID *uuid.UUID
}

// reactionNameToEmoji maps the closed set of reaction names to their emoji, per spec.md §6's
// table: like→👍, love→❤️, angry→😠, sad→😢.
var reactionNameToEmoji = map[string]string{
	"like":  "👍",
	"love":  "❤️",
	"angry": "😠",
	"sad":   "😢",
}

var reactionEmojiToName = func() map[string]string {
	m := make(map[string]string, len(reactionNameToEmoji))
	for name, emoji := range reactionNameToEmoji {
		m[emoji] = name
	}
	return m
}()

// ResolveReaction accepts either a reaction name ("like") or its emoji ("👍") and returns the
// canonical emoji. Failure: ErrInvalidReaction.
func ResolveReaction(input string) (string, error) {
	if emoji, ok := reactionNameToEmoji[input]; ok {
		return emoji, nil
	}
	if _, ok := reactionEmojiToName[input]; ok {
		return input, nil
	}
	return "", ErrInvalidReaction
}

// ValidateContent trims content and checks it is non-empty and within maxLength runes.
func ValidateContent(content string, maxLength int) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > maxLength {
		return "", ErrContentTooLong
	}
	return trimmed, nil
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

// TruncatePreview truncates content to at most ReplyPreviewChars runes, for reply previews.
func TruncatePreview(content string) string {
	if utf8.RuneCountInString(content) <= ReplyPreviewChars {
		return content
	}
	runes := []rune(content)
	return string(runes[:ReplyPreviewChars])
}

// Repository defines the data-access contract for group messages and their reactions.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Message, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	List(ctx context.Context, groupID uuid.UUID, before *uuid.UUID, limit int) ([]Message, error)
	Delete(ctx context.Context, id uuid.UUID) error
	BelongsToGroup(ctx context.Context, groupID, messageID uuid.UUID) (bool, error)

	AddReaction(ctx context.Context, messageID, agentID uuid.UUID, emoji string) error
	RemoveReaction(ctx context.Context, messageID, agentID uuid.UUID, emoji string) error
	// ReactionsForMessages returns a counts-by-emoji map keyed by message id, for every message in
	// messageIDs. Single batch query to avoid N+1 (spec.md §4.5).
	ReactionsForMessages(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID]map[string]int, error)
}
