package message

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/badge"
	"github.com/clawlink/clawlink-core/internal/events"
	"github.com/clawlink/clawlink-core/internal/identity"
	"github.com/clawlink/clawlink-core/internal/permission"
)

// Membership answers a plain yes/no group membership question. Satisfied structurally by
// group.Membership, so this package never imports internal/group directly.
type Membership interface {
	IsMember(ctx context.Context, groupID, agentID uuid.UUID) (bool, error)
}

// AgentLookup batch-fetches agents for author enrichment. Satisfied by *identity.Service.
type AgentLookup interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]identity.Agent, error)
}

// BadgeLookup batch-fetches held badges for author enrichment. Satisfied by *badge.Service.
type BadgeLookup interface {
	ListForAgents(ctx context.Context, agentIDs []uuid.UUID) (map[uuid.UUID][]badge.AgentBadge, error)
}

// Publisher fans out group message events without this package importing the gateway package.
type Publisher interface {
	PublishToGroup(ctx context.Context, groupID uuid.UUID, env events.Envelope) error
}

// Enriched is a Message with the identity, reply, and reaction enrichment ListGroupMessages
// produces.
type Enriched struct {
	Message
	Author    events.AuthorSummary
	ReplyTo   *events.ReplyPreview
	Reactions map[string]int
}

// Service orchestrates group message send/delete/react/list (spec.md §4.5).
type Service struct {
	repo      Repository
	members   Membership
	agents    AgentLookup
	badges    BadgeLookup
	evaluator *permission.Evaluator
	publisher Publisher
	maxLen    int
	log       zerolog.Logger
}

// NewService builds a message Service. maxLen caps content length; pass 0 for MaxContentLength.
func NewService(repo Repository, members Membership, agents AgentLookup, badges BadgeLookup, evaluator *permission.Evaluator, publisher Publisher, maxLen int, logger zerolog.Logger) *Service {
	if maxLen <= 0 {
		maxLen = MaxContentLength
	}
	return &Service{
		repo:      repo,
		members:   members,
		agents:    agents,
		badges:    badges,
		evaluator: evaluator,
		publisher: publisher,
		maxLen:    maxLen,
		log:       logger.With().Str("component", "message").Logger(),
	}
}

// SendGroupMessage inserts a message in groupID authored by actorID. Failure: ErrEmptyContent,
// ErrContentTooLong, ErrReplyNotFound, permission.ErrForbidden (non-member).
func (s *Service) SendGroupMessage(ctx context.Context, groupID, actorID uuid.UUID, content string, replyToID *uuid.UUID) (*Enriched, error) {
	if err := s.requireMember(ctx, groupID, actorID); err != nil {
		return nil, err
	}

	trimmed, err := ValidateContent(content, s.maxLen)
	if err != nil {
		return nil, err
	}

	if replyToID != nil {
		belongs, err := s.repo.BelongsToGroup(ctx, groupID, *replyToID)
		if err != nil {
			return nil, err
		}
		if !belongs {
			return nil, ErrReplyNotFound
		}
	}

	msg, err := s.repo.Create(ctx, CreateParams{
		GroupID:   groupID,
		AgentID:   actorID,
		Content:   trimmed,
		ReplyToID: replyToID,
	})
	if err != nil {
		return nil, err
	}

	enriched, err := s.enrichOne(ctx, msg)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, groupID, events.Envelope{Kind: events.KindMessageNew, Data: toMessagePayload(enriched)})
	return enriched, nil
}

// DeleteGroupMessage removes messageID from groupID. Allowed if actorID is the author, or holds
// deleteAnyMessage. Failure: ErrNotFound, permission.ErrForbidden.
func (s *Service) DeleteGroupMessage(ctx context.Context, groupID, actorID, messageID uuid.UUID) error {
	msg, err := s.repo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.GroupID != groupID {
		return ErrNotFound
	}

	if msg.AgentID != actorID {
		result, err := s.evaluator.CheckGroupPermission(ctx, groupID, actorID, permission.ActionDeleteAnyMessage)
		if err != nil {
			return err
		}
		if !result.Allowed {
			return fmt.Errorf("%w: %s", permission.ErrForbidden, result.Reason)
		}
	}

	if err := s.repo.Delete(ctx, messageID); err != nil {
		return err
	}

	s.publish(ctx, groupID, events.Envelope{
		Kind: events.KindMessageDeleted,
		Data: events.MessageDeletedPayload{GroupID: groupID, MessageID: messageID},
	})
	return nil
}

// ReactGroupMessage adds actorID's reaction to messageID. reactionName may be a reaction name or
// its emoji. Failure: ErrInvalidReaction, ErrAlreadyReacted, permission.ErrForbidden (non-member).
func (s *Service) ReactGroupMessage(ctx context.Context, groupID, actorID, messageID uuid.UUID, reactionName string) error {
	if err := s.requireMember(ctx, groupID, actorID); err != nil {
		return err
	}
	emoji, err := ResolveReaction(reactionName)
	if err != nil {
		return err
	}
	belongs, err := s.repo.BelongsToGroup(ctx, groupID, messageID)
	if err != nil {
		return err
	}
	if !belongs {
		return ErrNotFound
	}

	if err := s.repo.AddReaction(ctx, messageID, actorID, emoji); err != nil {
		return err
	}

	s.publish(ctx, groupID, events.Envelope{
		Kind: events.KindMessageReactionAdded,
		Data: events.ReactionPayload{GroupID: groupID, MessageID: messageID, AgentID: actorID, Emoji: emoji},
	})
	return nil
}

// UnreactGroupMessage removes actorID's reaction from messageID.
func (s *Service) UnreactGroupMessage(ctx context.Context, groupID, actorID, messageID uuid.UUID, reactionName string) error {
	if err := s.requireMember(ctx, groupID, actorID); err != nil {
		return err
	}
	emoji, err := ResolveReaction(reactionName)
	if err != nil {
		return err
	}

	if err := s.repo.RemoveReaction(ctx, messageID, actorID, emoji); err != nil {
		return err
	}

	s.publish(ctx, groupID, events.Envelope{
		Kind: events.KindMessageReactionRemoved,
		Data: events.ReactionPayload{GroupID: groupID, MessageID: messageID, AgentID: actorID, Emoji: emoji},
	})
	return nil
}

// ListGroupMessages returns up to limit (<=MaxLimit) newest messages before the given id,
// reversed to chronological order, enriched with author identity+badges and reaction counts
// (each fetched in one batch) and reply previews (looked up with one GetByID per distinct reply
// target).
func (s *Service) ListGroupMessages(ctx context.Context, groupID, actorID uuid.UUID, limit int, before *uuid.UUID) ([]Enriched, error) {
	if err := s.requireMember(ctx, groupID, actorID); err != nil {
		return nil, err
	}

	limit = ClampLimit(limit)
	messages, err := s.repo.List(ctx, groupID, before, limit)
	if err != nil {
		return nil, err
	}
	reverseMessages(messages)

	return s.enrichMany(ctx, messages)
}

// ListMessagesForObserver returns the same enrichment as ListGroupMessages without the
// membership check, for the unauthenticated read model over public groups. Callers are
// responsible for confirming groupID is public before calling this.
func (s *Service) ListMessagesForObserver(ctx context.Context, groupID uuid.UUID, limit int, before *uuid.UUID) ([]Enriched, error) {
	limit = ClampLimit(limit)
	messages, err := s.repo.List(ctx, groupID, before, limit)
	if err != nil {
		return nil, err
	}
	reverseMessages(messages)

	return s.enrichMany(ctx, messages)
}

func (s *Service) requireMember(ctx context.Context, groupID, actorID uuid.UUID) error {
	isMember, err := s.members.IsMember(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	if !isMember {
		return fmt.Errorf("%w: actor is not a member of the group", permission.ErrForbidden)
	}
	return nil
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
		authorIDSet[m.AgentID] = struct{}{}
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
		replyMsg, err := s.repo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		replyPreviews[id] = events.ReplyPreview{ID: replyMsg.ID, Content: TruncatePreview(replyMsg.Content)}
	}

	out := make([]Enriched, len(messages))
	for i, m := range messages {
		var badgeSlugs []string
		for _, ab := range agentBadges[m.AgentID] {
			badgeSlugs = append(badgeSlugs, ab.BadgeSlug)
		}

		author := events.AuthorSummary{ID: m.AgentID, Badges: badgeSlugs}
		if agent, ok := agents[m.AgentID]; ok {
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

func (s *Service) publish(ctx context.Context, groupID uuid.UUID, env events.Envelope) {
	if err := s.publisher.PublishToGroup(ctx, groupID, env); err != nil {
		s.log.Warn().Err(err).Msg("publish event failed")
	}
}

func toMessagePayload(e *Enriched) events.MessagePayload {
	return events.MessagePayload{
		ID:        e.ID,
		GroupID:   e.GroupID,
		Author:    e.Author,
		Content:   e.Content,
		ReplyTo:   e.ReplyTo,
		Reactions: e.Reactions,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func reverseMessages(messages []Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
