package permission

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeMemberRoles struct {
	roles map[uuid.UUID]Role
}

func (f *fakeMemberRoles) MemberRole(_ context.Context, _, agentID uuid.UUID) (Role, bool, error) {
	role, ok := f.roles[agentID]
	return role, ok, nil
}

type fakeStore struct {
	overrides    map[uuid.UUID]Overrides
	setCalled    int
	setOverrides Overrides
}

func (s *fakeStore) GetOverrides(_ context.Context, groupID uuid.UUID) (Overrides, error) {
	return s.overrides[groupID], nil
}

func (s *fakeStore) SetOverrides(_ context.Context, groupID uuid.UUID, overrides Overrides) error {
	s.setCalled++
	s.setOverrides = overrides
	if s.overrides == nil {
		s.overrides = map[uuid.UUID]Overrides{}
	}
	s.overrides[groupID] = overrides
	return nil
}

func TestEvaluator_CheckGroupPermission_nonMemberDenied(t *testing.T) {
	t.Parallel()

	groupID := uuid.New()
	actorID := uuid.New()

	members := &fakeMemberRoles{roles: map[uuid.UUID]Role{}}
	store := &fakeStore{}
	eval := NewEvaluator(members, store, nil, zerolog.Nop())

	result, err := eval.CheckGroupPermission(context.Background(), groupID, actorID, ActionInviteMembers)
	if err != nil {
		t.Fatalf("CheckGroupPermission() error: %v", err)
	}
	if result.Allowed {
		t.Error("Allowed = true, want false for non-member")
	}
}

func TestEvaluator_CheckGroupPermission_defaultsApply(t *testing.T) {
	t.Parallel()

	groupID := uuid.New()
	admin := uuid.New()
	member := uuid.New()

	members := &fakeMemberRoles{roles: map[uuid.UUID]Role{admin: RoleAdmin, member: RoleMember}}
	store := &fakeStore{}
	eval := NewEvaluator(members, store, nil, zerolog.Nop())

	result, err := eval.CheckGroupPermission(context.Background(), groupID, admin, ActionRenameGroup)
	if err != nil {
		t.Fatalf("CheckGroupPermission() error: %v", err)
	}
	if !result.Allowed {
		t.Error("Allowed = false, want true for admin on renameGroup default")
	}

	result, err = eval.CheckGroupPermission(context.Background(), groupID, member, ActionRenameGroup)
	if err != nil {
		t.Fatalf("CheckGroupPermission() error: %v", err)
	}
	if result.Allowed {
		t.Error("Allowed = true, want false for member on renameGroup default")
	}
}

func TestEvaluator_CheckGroupPermission_overrideLowersRequirement(t *testing.T) {
	t.Parallel()

	groupID := uuid.New()
	member := uuid.New()

	members := &fakeMemberRoles{roles: map[uuid.UUID]Role{member: RoleMember}}
	store := &fakeStore{overrides: map[uuid.UUID]Overrides{
		groupID: {ActionRenameGroup: RoleMember},
	}}
	eval := NewEvaluator(members, store, nil, zerolog.Nop())

	result, err := eval.CheckGroupPermission(context.Background(), groupID, member, ActionRenameGroup)
	if err != nil {
		t.Fatalf("CheckGroupPermission() error: %v", err)
	}
	if !result.Allowed {
		t.Error("Allowed = false, want true after override lowers renameGroup to member")
	}
}

func TestEvaluator_UpdateOverrides_rejectsDeleteGroupDowngrade(t *testing.T) {
	t.Parallel()

	groupID := uuid.New()
	store := &fakeStore{}
	eval := NewEvaluator(&fakeMemberRoles{roles: map[uuid.UUID]Role{}}, store, nil, zerolog.Nop())

	err := eval.UpdateOverrides(context.Background(), groupID, Overrides{ActionDeleteGroup: RoleMember})
	if err == nil {
		t.Fatal("UpdateOverrides() error = nil, want ErrDeleteGroupLocked")
	}
	if store.setCalled != 0 {
		t.Error("SetOverrides should not be called when validation fails")
	}
}

func TestEvaluator_UpdateOverrides_persists(t *testing.T) {
	t.Parallel()

	groupID := uuid.New()
	store := &fakeStore{}
	eval := NewEvaluator(&fakeMemberRoles{roles: map[uuid.UUID]Role{}}, store, nil, zerolog.Nop())

	err := eval.UpdateOverrides(context.Background(), groupID, Overrides{ActionPinMessages: RoleAdmin})
	if err != nil {
		t.Fatalf("UpdateOverrides() error: %v", err)
	}
	if store.setCalled != 1 {
		t.Errorf("SetOverrides called %d times, want 1", store.setCalled)
	}
	if store.setOverrides[ActionPinMessages] != RoleAdmin {
		t.Error("persisted override mismatch")
	}
}
