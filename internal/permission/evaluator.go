package permission

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MemberRoles looks up a group member's role. internal/group's NewMemberRoles adapter satisfies
// this interface.
type MemberRoles interface {
	MemberRole(ctx context.Context, groupID, agentID uuid.UUID) (Role, bool, error)
}

// Result is the outcome of a permission check, carrying enough detail for a handler to explain
// a denial.
type Result struct {
	Allowed      bool
	ActorRole    Role
	RequiredRole Role
	Reason       string
}

// Evaluator resolves (group, actor, action) -> allow/deny using the role hierarchy and per-group
// overrides, caching resolved override sets to avoid a Store round-trip per check.
type Evaluator struct {
	members MemberRoles
	store   Store
	cache   Cache
	log     zerolog.Logger
}

// NewEvaluator creates a new permission evaluator. cache may be nil to disable caching.
func NewEvaluator(members MemberRoles, store Store, cache Cache, logger zerolog.Logger) *Evaluator {
	return &Evaluator{members: members, store: store, cache: cache, log: logger}
}

// CheckGroupPermission implements spec.md §4.2's checkGroupPermission: allowed=false when the
// actor is not a member, or the actor's role is below the resolved minimum for action.
func (e *Evaluator) CheckGroupPermission(ctx context.Context, groupID, actorID uuid.UUID, action Action) (Result, error) {
	actorRole, isMember, err := e.members.MemberRole(ctx, groupID, actorID)
	if err != nil {
		return Result{}, fmt.Errorf("look up member role: %w", err)
	}
	if !isMember {
		required, err := DefaultRole(action)
		if err != nil {
			return Result{}, err
		}
		return Result{Allowed: false, RequiredRole: required, Reason: "actor is not a member of the group"}, nil
	}

	overrides, err := e.resolveOverrides(ctx, groupID)
	if err != nil {
		return Result{}, err
	}

	required, err := overrides.Resolved(action)
	if err != nil {
		return Result{}, err
	}

	if !HasPermission(actorRole, required) {
		return Result{
			Allowed:      false,
			ActorRole:    actorRole,
			RequiredRole: required,
			Reason:       fmt.Sprintf("requires role %s, actor holds %s", required, actorRole),
		}, nil
	}

	return Result{Allowed: true, ActorRole: actorRole, RequiredRole: required}, nil
}

// UpdateOverrides validates and persists overrides, then invalidates the cache entry.
func (e *Evaluator) UpdateOverrides(ctx context.Context, groupID uuid.UUID, overrides Overrides) error {
	if err := ValidateOverrides(overrides); err != nil {
		return err
	}
	if err := e.store.SetOverrides(ctx, groupID, overrides); err != nil {
		return err
	}
	if e.cache != nil {
		if err := e.cache.Invalidate(ctx, groupID); err != nil {
			e.log.Warn().Err(err).Str("group_id", groupID.String()).Msg("permission cache invalidate failed")
		}
	}
	return nil
}

func (e *Evaluator) resolveOverrides(ctx context.Context, groupID uuid.UUID) (Overrides, error) {
	if e.cache != nil {
		if cached, ok, err := e.cache.Get(ctx, groupID); err != nil {
			e.log.Warn().Err(err).Msg("permission cache get failed, falling through to store")
		} else if ok {
			return cached, nil
		}
	}

	overrides, err := e.store.GetOverrides(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("get group permission overrides: %w", err)
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, groupID, overrides); err != nil {
			e.log.Warn().Err(err).Msg("permission cache set failed")
		}
	}

	return overrides, nil
}
