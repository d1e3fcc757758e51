package dm

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/badge"
	"github.com/clawlink/clawlink-core/internal/clock"
	"github.com/clawlink/clawlink-core/internal/events"
	"github.com/clawlink/clawlink-core/internal/identity"
)

// reactionNameToEmoji mirrors message.ResolveReaction's table; duplicated rather than imported
// to keep dm independent of the message package (the two reaction sets are the same closed set
// applied to different message types, not a shared concern).
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

// ResolveReaction accepts either a reaction name or its emoji and returns the canonical emoji.
func ResolveReaction(input string) (string, error) {
	if emoji, ok := reactionNameToEmoji[input]; ok {
		return emoji, nil
	}
	if _, ok := reactionEmojiToName[input]; ok {
		return input, nil
	}
	return "", ErrInvalidReaction
}

// AgentLookup batch-fetches agents for author enrichment. Satisfied by *identity.Service.
type AgentLookup interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]identity.Agent, error)
}

// BadgeLookup batch-fetches held badges for author enrichment. Satisfied by *badge.Service.
type BadgeLookup interface {
	ListForAgents(ctx context.Context, agentIDs []uuid.UUID) (map[uuid.UUID][]badge.AgentBadge, error)
}

// Publisher fans out direct-message events to a single agent's connections without this package
// importing the gateway package.
type Publisher interface {
	PublishToAgent(ctx context.Context, agentID uuid.UUID, env events.Envelope) error
}

// Enriched is a Message with the identity and reaction enrichment ListDM produces.
type Enriched struct {
	Message
	Author    events.AuthorSummary
	ReplyTo   *events.ReplyPreview
	Reactions map[string]int
}

// Service orchestrates direct messages, blocks, and disappearing-timer negotiation
// (spec.md §4.6).
type Service struct {
	repo      Repository
	agents    AgentLookup
	badges    BadgeLookup
	publisher Publisher
	clock     clock.Clock
	maxLen    int
	log       zerolog.Logger
}

// NewService builds a dm Service. maxLen caps content length; pass 0 for MaxContentLength.
func NewService(repo Repository, agents AgentLookup, badges BadgeLookup, publisher Publisher, clk clock.Clock, maxLen int, logger zerolog.Logger) *Service {
	if maxLen <= 0 {
		maxLen = MaxContentLength
	}
	return &Service{
		repo:      repo,
		agents:    agents,
		badges:    badges,
		publisher: publisher,
		clock:     clk,
		maxLen:    maxLen,
		log:       logger.With().Str("component", "dm").Logger(),
	}
}

// SendDM sends content from fromID to toID. Failure: ErrSelfDM, ErrBlocked, ErrReplyNotFound.
func (s *Service) SendDM(ctx context.Context, fromID, toID uuid.UUID, content string, replyToID *uuid.UUID) (*Enriched, error) {
	if fromID == toID {
		return nil, ErrSelfDM
	}

	blockedByTo, err := s.repo.IsBlocked(ctx, toID, fromID)
	if err != nil {
		return nil, err
	}
	blockedByFrom, err := s.repo.IsBlocked(ctx, fromID, toID)
	if err != nil {
		return nil, err
	}
	if blockedByTo || blockedByFrom {
		return nil, ErrBlocked
	}

	trimmed, err := validateContent(content, s.maxLen)
	if err != nil {
		return nil, err
	}

	agentA, agentB := Canonicalize(fromID, toID)
	conv, err := s.repo.GetOrCreateConversation(ctx, agentA, agentB)
	if err != nil {
		return nil, err
	}

	if replyToID != nil {
		inConv, err := s.repo.MessageInConversation(ctx, agentA, agentB, *replyToID)
		if err != nil {
			return nil, err
		}
		if !inConv {
			return nil, ErrReplyNotFound
		}
	}

	var expiresAt *time.Time
	if timer, active := conv.Active(); active {
		at := s.clock.Now().Add(timer)
		expiresAt = &at
	}

	msg, err := s.repo.CreateMessage(ctx, CreateParams{
		FromAgentID: fromID,
		ToAgentID:   toID,
		Content:     trimmed,
		ReplyToID:   replyToID,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		return nil, err
	}

	enriched, err := s.enrichOne(ctx, msg)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, toID, events.Envelope{Kind: events.KindDMNew, Data: toPayload(enriched)})
	return enriched, nil
}

// ListDM returns messages between actorID and otherID, excluding those created before actorID's
// side-specific clearedAt or already expired, and marks messages received by actorID as read.
func (s *Service) ListDM(ctx context.Context, actorID, otherID uuid.UUID, limit int) ([]Enriched, error) {
	agentA, agentB := Canonicalize(actorID, otherID)
	conv, err := s.repo.GetOrCreateConversation(ctx, agentA, agentB)
	if err != nil {
		return nil, err
	}

	limit = ClampLimit(limit)
	messages, err := s.repo.ListMessages(ctx, agentA, agentB, limit)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	clearedAt := conv.ClearedAtFor(actorID)
	visible := make([]Message, 0, len(messages))
	for _, m := range messages {
		if clearedAt != nil && m.CreatedAt.Before(*clearedAt) {
			continue
		}
		if m.ExpiresAt != nil && m.ExpiresAt.Before(now) {
			continue
		}
		visible = append(visible, m)
	}

	if err := s.repo.MarkRead(ctx, otherID, actorID); err != nil {
		return nil, err
	}

	return s.enrichMany(ctx, visible)
}

// ListConversations returns the conversation-level state (disappear timer, cleared-at) for every
// conversation actorID participates in.
func (s *Service) ListConversations(ctx context.Context, actorID uuid.UUID) ([]Conversation, error) {
	return s.repo.ListConversations(ctx, actorID)
}

// GetConversationSettings returns the disappear-timer and clearing state of the conversation
// between actorID and otherID, creating it if it does not yet exist.
func (s *Service) GetConversationSettings(ctx context.Context, actorID, otherID uuid.UUID) (*Conversation, error) {
	agentA, agentB := Canonicalize(actorID, otherID)
	return s.repo.GetOrCreateConversation(ctx, agentA, agentB)
}

// ReactDM adds actorID's reaction to messageID. Participant-only.
func (s *Service) ReactDM(ctx context.Context, actorID, messageID uuid.UUID, reactionName string) error {
	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := s.requireParticipant(msg, actorID); err != nil {
		return err
	}

	emoji, err := ResolveReaction(reactionName)
	if err != nil {
		return err
	}
	if err := s.repo.AddReaction(ctx, messageID, actorID, emoji); err != nil {
		return err
	}

	other := otherParty(msg, actorID)
	s.publish(ctx, other, events.Envelope{
		Kind: events.KindDMReactionAdded,
		Data: events.DMReactionPayload{DMID: messageID, AgentID: actorID, Emoji: emoji},
	})
	return nil
}

// UnreactDM removes actorID's reaction from messageID. Participant-only.
func (s *Service) UnreactDM(ctx context.Context, actorID, messageID uuid.UUID, reactionName string) error {
	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := s.requireParticipant(msg, actorID); err != nil {
		return err
	}

	emoji, err := ResolveReaction(reactionName)
	if err != nil {
		return err
	}
	if err := s.repo.RemoveReaction(ctx, messageID, actorID, emoji); err != nil {
		return err
	}

	other := otherParty(msg, actorID)
	s.publish(ctx, other, events.Envelope{
		Kind: events.KindDMReactionRemoved,
		Data: events.DMReactionPayload{DMID: messageID, AgentID: actorID, Emoji: emoji},
	})
	return nil
}

// ClearConversation sets actorID's side of the conversation's clearedAt to now, hiding prior
// messages from actorID only.
func (s *Service) ClearConversation(ctx context.Context, actorID, otherID uuid.UUID) error {
	agentA, agentB := Canonicalize(actorID, otherID)
	if err := s.repo.SetClearedAt(ctx, agentA, agentB, actorID, s.clock.Now()); err != nil {
		return err
	}

	s.publish(ctx, otherID, events.Envelope{Kind: events.KindDMCleared, Data: events.DMClearedPayload{ByAgentID: actorID}})
	return nil
}

// Block makes actorID block targetID. Failure: ErrAlreadyBlocked.
func (s *Service) Block(ctx context.Context, actorID, targetID uuid.UUID) error {
	if err := s.repo.Block(ctx, actorID, targetID); err != nil {
		return err
	}

	s.publish(ctx, targetID, events.Envelope{Kind: events.KindDMBlocked, Data: events.DMBlockedPayload{BlockerID: actorID}})
	return nil
}

// Unblock removes actorID's block of targetID. Failure: ErrNotBlocked.
func (s *Service) Unblock(ctx context.Context, actorID, targetID uuid.UUID) error {
	return s.repo.Unblock(ctx, actorID, targetID)
}

// ListBlocked returns the ids actorID has blocked.
func (s *Service) ListBlocked(ctx context.Context, actorID uuid.UUID) ([]uuid.UUID, error) {
	return s.repo.ListBlocked(ctx, actorID)
}

// SetDisappear runs the disappearing-timer negotiation state machine for the actorID/otherID
// conversation (spec.md §4.6). seconds nil or 0 disables the timer.
func (s *Service) SetDisappear(ctx context.Context, actorID, otherID uuid.UUID, seconds *int) error {
	agentA, agentB := Canonicalize(actorID, otherID)
	conv, err := s.repo.GetOrCreateConversation(ctx, agentA, agentB)
	if err != nil {
		return err
	}

	if seconds == nil || *seconds == 0 {
		update := *conv
		update.DisappearTimerSeconds = nil
		update.DisappearSetBy = nil
		update.PendingApproval = false
		update.ProposedValueSeconds = nil
		update.ProposedBy = nil
		if err := s.repo.UpdateDisappear(ctx, agentA, agentB, update); err != nil {
			return err
		}
		s.publish(ctx, otherID, events.Envelope{Kind: events.KindDMDisappearDisabled, Data: events.DMDisappearPayload{}})
		return nil
	}

	_, active := conv.Active()
	switch {
	case !conv.PendingApproval && !active:
		// Disabled -> Proposed(seconds, actor).
		return s.propose(ctx, agentA, agentB, otherID, actorID, *seconds, conv)

	case conv.PendingApproval && conv.ProposedBy != nil && *conv.ProposedBy == actorID:
		// Same proposer overwrites their own proposal.
		return s.propose(ctx, agentA, agentB, otherID, actorID, *seconds, conv)

	case conv.PendingApproval:
		if conv.ProposedValueSeconds != nil && *conv.ProposedValueSeconds == *seconds {
			// Other side agrees -> Active(seconds).
			update := *conv
			update.DisappearTimerSeconds = seconds
			update.DisappearSetBy = &actorID
			update.PendingApproval = false
			update.ProposedValueSeconds = nil
			update.ProposedBy = nil
			if err := s.repo.UpdateDisappear(ctx, agentA, agentB, update); err != nil {
				return err
			}
			s.publish(ctx, otherID, events.Envelope{Kind: events.KindDMDisappearEnabled, Data: events.DMDisappearPayload{Seconds: seconds}})
			return nil
		}
		// Disagreement -> new proposal supersedes.
		return s.propose(ctx, agentA, agentB, otherID, actorID, *seconds, conv)

	default:
		// Active -> re-negotiation required, same as Disabled.
		return s.propose(ctx, agentA, agentB, otherID, actorID, *seconds, conv)
	}
}

func (s *Service) propose(ctx context.Context, agentA, agentB, otherID, actorID uuid.UUID, seconds int, conv *Conversation) error {
	update := *conv
	update.DisappearTimerSeconds = nil
	update.DisappearSetBy = nil
	update.PendingApproval = true
	update.ProposedValueSeconds = &seconds
	update.ProposedBy = &actorID
	if err := s.repo.UpdateDisappear(ctx, agentA, agentB, update); err != nil {
		return err
	}
	s.publish(ctx, otherID, events.Envelope{
		Kind: events.KindDMDisappearProposed,
		Data: events.DMDisappearPayload{Seconds: &seconds, ProposedBy: actorID},
	})
	return nil
}

func (s *Service) requireParticipant(msg *Message, actorID uuid.UUID) error {
	if msg.FromAgentID != actorID && msg.ToAgentID != actorID {
		return ErrNotParticipant
	}
	return nil
}

func otherParty(msg *Message, actorID uuid.UUID) uuid.UUID {
	if msg.FromAgentID == actorID {
		return msg.ToAgentID
	}
	return msg.FromAgentID
}

func (s *Service) enrichOne(ctx context.Context, msg *Message) (*Enriched, error) {
	enriched, err := s.enrichMany(ctx, []Message{*msg})
	if err != nil {
		return nil, err
	}
	return &enriched[0], nil
}

func (s *Service) enrichMany(ctx context.Context, messages []Message) ([]Enriched, error) {
	if len(messages) == 0 {
		return []Enriched{}, nil
	}

	ids := make([]uuid.UUID, len(messages))
	authorIDSet := make(map[uuid.UUID]struct{})
	replyIDSet := make(map[uuid.UUID]struct{})
	for i, m := range messages {
		ids[i] = m.ID
		authorIDSet[m.FromAgentID] = struct{}{}
		if m.ReplyToID != nil {
			replyIDSet[*m.ReplyToID] = struct{}{}
		}
	}

	reactions, err := s.repo.ReactionsForMessages(ctx, ids)
	if err != nil {
		return nil, err
	}

	authorIDs := make([]uuid.UUID, 0, len(authorIDSet))
	for id := range authorIDSet {
		authorIDs = append(authorIDs, id)
	}
	agents, err := s.agents.GetByIDs(ctx, authorIDs)
	if err != nil {
		return nil, err
	}
	agentBadges, err := s.badges.ListForAgents(ctx, authorIDs)
	if err != nil {
		return nil, err
	}

	replyPreviews := make(map[uuid.UUID]events.ReplyPreview, len(replyIDSet))
	for id := range replyIDSet {
		replyMsg, err := s.repo.GetMessage(ctx, id)
		if err != nil {
			if errors.Is(err, ErrMessageNotFound) {
				continue
			}
			return nil, err
		}
		replyPreviews[id] = events.ReplyPreview{ID: replyMsg.ID, Content: truncatePreview(replyMsg.Content)}
	}

	out := make([]Enriched, len(messages))
	for i, m := range messages {
		var badgeSlugs []string
		for _, ab := range agentBadges[m.FromAgentID] {
			badgeSlugs = append(badgeSlugs, ab.BadgeSlug)
		}

		author := events.AuthorSummary{ID: m.FromAgentID, Badges: badgeSlugs}
		if agent, ok := agents[m.FromAgentID]; ok {
			author.Handle = agent.Handle
			author.Name = agent.Name
		}

		var replyTo *events.ReplyPreview
		if m.ReplyToID != nil {
			if preview, ok := replyPreviews[*m.ReplyToID]; ok {
				replyTo = &preview
			}
		}

		out[i] = Enriched{
			Message:   m,
			Author:    author,
			ReplyTo:   replyTo,
			Reactions: reactions[m.ID],
		}
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, agentID uuid.UUID, env events.Envelope) {
	if err := s.publisher.PublishToAgent(ctx, agentID, env); err != nil {
		s.log.Warn().Err(err).Msg("publish event failed")
	}
}

func toPayload(e *Enriched) events.DirectMessagePayload {
	p := events.DirectMessagePayload{
		ID:          e.ID,
		FromAgentID: e.FromAgentID,
		ToAgentID:   e.ToAgentID,
		Content:     e.Content,
		ReplyTo:     e.ReplyTo,
		Encrypted:   e.Encrypted,
		ExpiresAt:   e.ExpiresAt,
		CreatedAt:   e.CreatedAt,
	}
	if e.Ciphertext != nil {
		p.Ciphertext = *e.Ciphertext
	}
	if e.SenderKeyID != nil {
		p.SenderKeyID = *e.SenderKeyID
	}
	return p
}

func validateContent(content string, maxLength int) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > maxLength {
		return "", ErrContentTooLong
	}
	return trimmed, nil
}

func truncatePreview(content string) string {
	runes := []rune(content)
	if len(runes) <= ReplyPreviewChars {
		return content
	}
	return string(runes[:ReplyPreviewChars])
}
