package group

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/events"
	"github.com/clawlink/clawlink-core/internal/permission"
)

// Publisher is the collaborator interface Service uses to fan out realtime events without
// importing the gateway package directly.
type Publisher interface {
	PublishToGroup(ctx context.Context, groupID uuid.UUID, env events.Envelope) error
	PublishToAll(ctx context.Context, env events.Envelope) error
}

// memberRoles adapts Repository to permission.MemberRoles so a group's own Service can feed an
// Evaluator without the permission package knowing about groups.
type memberRoles struct {
	repo Repository
}

func (m memberRoles) MemberRole(ctx context.Context, groupID, agentID uuid.UUID) (permission.Role, bool, error) {
	member, err := m.repo.GetMember(ctx, groupID, agentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return member.Role, true, nil
}

// NewMemberRoles builds the permission.MemberRoles adapter for repo, for wiring a
// permission.Evaluator at startup.
func NewMemberRoles(repo Repository) permission.MemberRoles {
	return memberRoles{repo: repo}
}

// Membership answers a plain yes/no group membership question, satisfied structurally by
// message.Membership and dm.Membership so neither package needs to import this one.
type Membership interface {
	IsMember(ctx context.Context, groupID, agentID uuid.UUID) (bool, error)
}

type groupMembership struct {
	repo Repository
}

func (m groupMembership) IsMember(ctx context.Context, groupID, agentID uuid.UUID) (bool, error) {
	_, err := m.repo.GetMember(ctx, groupID, agentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// NewMembership builds the plain membership-check adapter for repo.
func NewMembership(repo Repository) Membership {
	return groupMembership{repo: repo}
}

// Service orchestrates group CRUD, membership, and pins (spec.md §4.4).
type Service struct {
	repo      Repository
	perms     permission.Store
	evaluator *permission.Evaluator
	publisher Publisher
	log       zerolog.Logger
}

// NewService builds a group Service.
func NewService(repo Repository, perms permission.Store, evaluator *permission.Evaluator, publisher Publisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		perms:     perms,
		evaluator: evaluator,
		publisher: publisher,
		log:       logger.With().Str("component", "group").Logger(),
	}
}

// Create makes a new group with creatorID as its sole admin. Failure: ErrNameLength.
func (s *Service) Create(ctx context.Context, creatorID uuid.UUID, params CreateParams) (*Group, error) {
	name, err := ValidateName(params.Name)
	if err != nil {
		return nil, err
	}
	if err := ValidateDescription(params.Description); err != nil {
		return nil, err
	}
	params.Name = name

	g, err := s.repo.CreateWithAdmin(ctx, creatorID, params)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, s.publisher.PublishToAll(ctx, events.Envelope{
		Kind: events.KindGroupCreated,
		Data: groupPayload(g),
	}))

	return g, nil
}

// Get returns a group by id. Failure: ErrNotFound.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Group, error) {
	return s.repo.Get(ctx, id)
}

// List returns groups, optionally restricted to publicly listed ones.
func (s *Service) List(ctx context.Context, publicOnly bool) ([]Group, error) {
	return s.repo.List(ctx, publicOnly)
}

// ListGroupIDsForAgent returns the ids of every group agentID belongs to, for the gateway's
// attach step (spec.md §4.8) to join each group's room on connect.
func (s *Service) ListGroupIDsForAgent(ctx context.Context, agentID uuid.UUID) ([]uuid.UUID, error) {
	return s.repo.ListGroupIDsForAgent(ctx, agentID)
}

// ListPublic returns every group with isPublic=true, for the unauthenticated observer surface.
func (s *Service) ListPublic(ctx context.Context) ([]Group, error) {
	return s.repo.List(ctx, true)
}

// GetPublic returns groupID if it exists and is publicly listed. Failure: ErrNotFound,
// ErrNotPublic.
func (s *Service) GetPublic(ctx context.Context, groupID uuid.UUID) (*Group, error) {
	g, err := s.repo.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.IsPublic {
		return nil, ErrNotPublic
	}
	return g, nil
}

// MemberCount returns the number of members in groupID, for the observer's public group listing.
func (s *Service) MemberCount(ctx context.Context, groupID uuid.UUID) (int, error) {
	counts, err := s.repo.RoleCounts(ctx, groupID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return total, nil
}

// Join adds actorID to groupID as a member. Failure: ErrNotFound, ErrAlreadyMember.
func (s *Service) Join(ctx context.Context, groupID, actorID uuid.UUID) error {
	g, err := s.repo.Get(ctx, groupID)
	if err != nil {
		return err
	}
	if _, err := s.repo.GetMember(ctx, groupID, actorID); err == nil {
		return ErrAlreadyMember
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	if err := s.repo.AddMember(ctx, groupID, actorID, permission.RoleMember); err != nil {
		return err
	}

	s.publish(ctx, s.publisher.PublishToGroup(ctx, g.ID, events.Envelope{
		Kind: events.KindMemberJoined,
		Data: events.MemberPayload{GroupID: g.ID, AgentID: actorID, Role: string(permission.RoleMember)},
	}))
	return nil
}

// Leave removes actorID's own membership from groupID. Failure: ErrNotMember.
func (s *Service) Leave(ctx context.Context, groupID, actorID uuid.UUID) error {
	if _, err := s.repo.GetMember(ctx, groupID, actorID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotMember
		}
		return err
	}
	if err := s.repo.RemoveMember(ctx, groupID, actorID); err != nil {
		return err
	}

	s.publish(ctx, s.publisher.PublishToGroup(ctx, groupID, events.Envelope{
		Kind: events.KindMemberLeft,
		Data: events.MemberPayload{GroupID: groupID, AgentID: actorID},
	}))
	return nil
}

// UpdateSettings changes name/description/avatar, each field gated by its own permission
// (renameGroup, editDescription, editAvatar).
func (s *Service) UpdateSettings(ctx context.Context, groupID, actorID uuid.UUID, params UpdateParams) (*Group, error) {
	if params.Name != nil {
		if err := s.checkPermission(ctx, groupID, actorID, permission.ActionRenameGroup); err != nil {
			return nil, err
		}
		name, err := ValidateName(*params.Name)
		if err != nil {
			return nil, err
		}
		params.Name = &name
	}
	if params.Description != nil {
		if err := s.checkPermission(ctx, groupID, actorID, permission.ActionEditDescription); err != nil {
			return nil, err
		}
		if err := ValidateDescription(params.Description); err != nil {
			return nil, err
		}
	}
	if params.AvatarURL != nil {
		if err := s.checkPermission(ctx, groupID, actorID, permission.ActionEditAvatar); err != nil {
			return nil, err
		}
	}

	g, err := s.repo.Update(ctx, groupID, params)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, s.publisher.PublishToGroup(ctx, g.ID, events.Envelope{
		Kind: events.KindGroupUpdated,
		Data: groupPayload(g),
	}))
	return g, nil
}

// UpdatePermissions replaces groupID's permission overrides. Admin only; deleteGroup lock
// enforced by permission.ValidateOverrides.
func (s *Service) UpdatePermissions(ctx context.Context, groupID, actorID uuid.UUID, overrides permission.Overrides) error {
	if err := s.checkPermission(ctx, groupID, actorID, permission.ActionSetRoles); err != nil {
		return err
	}
	if err := s.evaluator.UpdateOverrides(ctx, groupID, overrides); err != nil {
		return err
	}

	s.publish(ctx, s.publisher.PublishToGroup(ctx, groupID, events.Envelope{
		Kind: events.KindGroupPermissionsUpdated,
		Data: events.GroupPermissionsUpdatedPayload{GroupID: groupID},
	}))
	return nil
}

// Delete removes groupID. Admin only (deleteGroup is always admin, never overridable).
func (s *Service) Delete(ctx context.Context, groupID, actorID uuid.UUID) error {
	if err := s.checkPermission(ctx, groupID, actorID, permission.ActionDeleteGroup); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, groupID); err != nil {
		return err
	}

	s.publish(ctx, s.publisher.PublishToAll(ctx, events.Envelope{
		Kind: events.KindGroupDeleted,
		Data: events.GroupDeletedPayload{GroupID: groupID},
	}))
	return nil
}

// RemoveMember removes targetID from groupID. Requires removeMembers permission AND
// canModifyRole(actor, target).
func (s *Service) RemoveMember(ctx context.Context, groupID, actorID, targetID uuid.UUID) error {
	result, err := s.evaluator.CheckGroupPermission(ctx, groupID, actorID, permission.ActionRemoveMembers)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return fmt.Errorf("%w: %s", permission.ErrForbidden, result.Reason)
	}

	target, err := s.repo.GetMember(ctx, groupID, targetID)
	if err != nil {
		return err
	}
	if !permission.CanModifyRole(result.ActorRole, target.Role) {
		return ErrCannotModify
	}

	if err := s.repo.RemoveMember(ctx, groupID, targetID); err != nil {
		return err
	}

	s.publish(ctx, s.publisher.PublishToGroup(ctx, groupID, events.Envelope{
		Kind: events.KindMemberRemoved,
		Data: events.MemberPayload{GroupID: groupID, AgentID: targetID},
	}))
	return nil
}

// SetMemberRole changes targetID's role. Requires setRoles permission AND
// canModifyRole(actor, target) AND canModifyRole(actor, newRole); actor may not change their own
// role.
func (s *Service) SetMemberRole(ctx context.Context, groupID, actorID, targetID uuid.UUID, newRole permission.Role) error {
	if actorID == targetID {
		return ErrSelfRoleChange
	}
	if !newRole.IsValid() {
		return permission.ErrInvalidRole
	}

	result, err := s.evaluator.CheckGroupPermission(ctx, groupID, actorID, permission.ActionSetRoles)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return fmt.Errorf("%w: %s", permission.ErrForbidden, result.Reason)
	}

	target, err := s.repo.GetMember(ctx, groupID, targetID)
	if err != nil {
		return err
	}
	if !permission.CanModifyRole(result.ActorRole, target.Role) || !permission.CanModifyRole(result.ActorRole, newRole) {
		return ErrCannotModify
	}

	if err := s.repo.SetMemberRole(ctx, groupID, targetID, newRole); err != nil {
		return err
	}

	s.publish(ctx, s.publisher.PublishToGroup(ctx, groupID, events.Envelope{
		Kind: events.KindMemberRoleChanged,
		Data: events.MemberPayload{GroupID: groupID, AgentID: targetID, Role: string(newRole)},
	}))
	return nil
}

// Pin pins messageID to groupID. Requires pinMessages permission; messageID must belong to
// groupID.
func (s *Service) Pin(ctx context.Context, groupID, actorID, messageID uuid.UUID) error {
	if err := s.checkPermission(ctx, groupID, actorID, permission.ActionPinMessages); err != nil {
		return err
	}
	belongs, err := s.repo.MessageBelongsToGroup(ctx, groupID, messageID)
	if err != nil {
		return err
	}
	if !belongs {
		return ErrMessageNotFound
	}

	if err := s.repo.AddPin(ctx, groupID, messageID); err != nil {
		return err
	}

	s.publish(ctx, s.publisher.PublishToGroup(ctx, groupID, events.Envelope{
		Kind: events.KindMessagePinned,
		Data: events.PinPayload{GroupID: groupID, MessageID: messageID},
	}))
	return nil
}

// Unpin removes messageID's pin from groupID. Requires pinMessages permission.
func (s *Service) Unpin(ctx context.Context, groupID, actorID, messageID uuid.UUID) error {
	if err := s.checkPermission(ctx, groupID, actorID, permission.ActionPinMessages); err != nil {
		return err
	}
	if err := s.repo.RemovePin(ctx, groupID, messageID); err != nil {
		return err
	}

	s.publish(ctx, s.publisher.PublishToGroup(ctx, groupID, events.Envelope{
		Kind: events.KindMessageUnpinned,
		Data: events.PinPayload{GroupID: groupID, MessageID: messageID},
	}))
	return nil
}

// GetSettings returns role counts, resolved permission overrides, pinned message ids, and the
// actor's own role. Member-only.
func (s *Service) GetSettings(ctx context.Context, groupID, actorID uuid.UUID) (*Settings, error) {
	member, err := s.repo.GetMember(ctx, groupID, actorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotMember
		}
		return nil, err
	}

	g, err := s.repo.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.RoleCounts(ctx, groupID)
	if err != nil {
		return nil, err
	}
	overrides, err := s.perms.GetOverrides(ctx, groupID)
	if err != nil {
		return nil, err
	}
	pins, err := s.repo.ListPins(ctx, groupID)
	if err != nil {
		return nil, err
	}

	return &Settings{
		Group:          *g,
		RoleCounts:     counts,
		Permissions:    overrides,
		PinnedMessages: pins,
		ActorRole:      member.Role,
	}, nil
}

func (s *Service) checkPermission(ctx context.Context, groupID, actorID uuid.UUID, action permission.Action) error {
	result, err := s.evaluator.CheckGroupPermission(ctx, groupID, actorID, action)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return fmt.Errorf("%w: %s", permission.ErrForbidden, result.Reason)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, err error) {
	if err != nil {
		s.log.Warn().Err(err).Msg("publish event failed")
	}
}

func groupPayload(g *Group) events.GroupPayload {
	p := events.GroupPayload{ID: g.ID, Name: g.Name, Slug: g.Slug, IsPublic: g.IsPublic}
	if g.Description != nil {
		p.Description = *g.Description
	}
	return p
}
