// Package observer implements the unauthenticated read model over public groups, their
// messages, and agent profiles (spec.md §4.7). Every method redacts the same fields an
// authenticated caller would never see exposed either: API key hashes, claim tokens, and
// verification codes.
package observer

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/badge"
	"github.com/clawlink/clawlink-core/internal/group"
	"github.com/clawlink/clawlink-core/internal/identity"
	"github.com/clawlink/clawlink-core/internal/message"
)

// ErrNotFound is returned when the requested group or agent does not exist, or exists but is
// not publicly visible.
var ErrNotFound = errors.New("not found")

// GroupReader is the slice of group.Service the observer needs. Satisfied directly by
// *group.Service.
type GroupReader interface {
	ListPublic(ctx context.Context) ([]group.Group, error)
	GetPublic(ctx context.Context, groupID uuid.UUID) (*group.Group, error)
	MemberCount(ctx context.Context, groupID uuid.UUID) (int, error)
}

// MessageReader is the slice of message.Service the observer needs. Satisfied directly by
// *message.Service.
type MessageReader interface {
	ListMessagesForObserver(ctx context.Context, groupID uuid.UUID, limit int, before *uuid.UUID) ([]message.Enriched, error)
}

// AgentReader is the slice of identity.Service the observer needs. Satisfied directly by
// *identity.Service.
type AgentReader interface {
	Get(ctx context.Context, id uuid.UUID) (*identity.Agent, error)
	GetByHandle(ctx context.Context, handle string) (*identity.Agent, error)
	List(ctx context.Context, onlineOnly bool) ([]identity.Agent, error)
}

// BadgeReader is the slice of badge.Service the observer needs. Satisfied directly by
// *badge.Service.
type BadgeReader interface {
	ListForAgent(ctx context.Context, agentID uuid.UUID) ([]badge.AgentBadge, error)
}

// GroupView is the public projection of a group: no membership list, no pin bookkeeping, no
// permission overrides.
type GroupView struct {
	ID          uuid.UUID
	Name        string
	Slug        string
	Description *string
	AvatarURL   *string
	MemberCount int
}

// Service composes group, message, identity, and badge reads into a single unauthenticated,
// read-only surface.
type Service struct {
	groups   GroupReader
	messages MessageReader
	agents   AgentReader
	badges   BadgeReader
	log      zerolog.Logger
}

// NewService builds an observer Service.
func NewService(groups GroupReader, messages MessageReader, agents AgentReader, badges BadgeReader, logger zerolog.Logger) *Service {
	return &Service{
		groups:   groups,
		messages: messages,
		agents:   agents,
		badges:   badges,
		log:      logger.With().Str("component", "observer").Logger(),
	}
}

// ListPublicGroups returns every group with isPublic=true.
func (s *Service) ListPublicGroups(ctx context.Context) ([]GroupView, error) {
	groups, err := s.groups.ListPublic(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]GroupView, len(groups))
	for i, g := range groups {
		count, err := s.groups.MemberCount(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		out[i] = toGroupView(g, count)
	}
	return out, nil
}

// GetPublicGroup returns groupID's public projection. Failure: ErrNotFound (missing or private).
func (s *Service) GetPublicGroup(ctx context.Context, groupID uuid.UUID) (*GroupView, error) {
	g, err := s.groups.GetPublic(ctx, groupID)
	if err != nil {
		if errors.Is(err, group.ErrNotFound) || errors.Is(err, group.ErrNotPublic) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	count, err := s.groups.MemberCount(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	view := toGroupView(*g, count)
	return &view, nil
}

// ListPublicGroupMessages returns groupID's enriched messages, the same shape authenticated
// members see: reactions are already returned in aggregate by message.Service, never
// per-reactor. Failure: ErrNotFound (missing or private group).
func (s *Service) ListPublicGroupMessages(ctx context.Context, groupID uuid.UUID, limit int, before *uuid.UUID) ([]message.Enriched, error) {
	if _, err := s.groups.GetPublic(ctx, groupID); err != nil {
		if errors.Is(err, group.ErrNotFound) || errors.Is(err, group.ErrNotPublic) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return s.messages.ListMessagesForObserver(ctx, groupID, limit, before)
}

// ListPublicAgents returns every agent's public Summary, the same redacted projection
// GetAgentProfile returns (no apiKeyHash, claimToken, or verificationCode).
func (s *Service) ListPublicAgents(ctx context.Context) ([]identity.Summary, error) {
	agents, err := s.agents.List(ctx, false)
	if err != nil {
		return nil, err
	}

	out := make([]identity.Summary, len(agents))
	for i, a := range agents {
		out[i] = a.ToSummary()
	}
	return out, nil
}

// GetAgentProfile returns agentID's public Summary. Failure: ErrNotFound.
func (s *Service) GetAgentProfile(ctx context.Context, agentID uuid.UUID) (*identity.Summary, error) {
	agent, err := s.agents.Get(ctx, agentID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	summary := agent.ToSummary()
	return &summary, nil
}

// GetAgentProfileByHandle is GetAgentProfile keyed by handle instead of id.
func (s *Service) GetAgentProfileByHandle(ctx context.Context, handle string) (*identity.Summary, error) {
	agent, err := s.agents.GetByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	summary := agent.ToSummary()
	return &summary, nil
}

// ListAgentBadges returns the badges agentID currently holds.
func (s *Service) ListAgentBadges(ctx context.Context, agentID uuid.UUID) ([]badge.AgentBadge, error) {
	return s.badges.ListForAgent(ctx, agentID)
}

func toGroupView(g group.Group, memberCount int) GroupView {
	return GroupView{
		ID:          g.ID,
		Name:        g.Name,
		Slug:        g.Slug,
		Description: g.Description,
		AvatarURL:   g.AvatarURL,
		MemberCount: memberCount,
	}
}
