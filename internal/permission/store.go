package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrDeleteGroupLocked is returned when an override attempts to lower deleteGroup below admin.
var ErrDeleteGroupLocked = errors.New("deleteGroup permission is locked to admin")

// Overrides holds the per-group minimum-role override for each of the nine actions. A zero Role
// value means "no override"; resolution falls back to DefaultRole(action).
type Overrides map[Action]Role

// Resolved returns the effective minimum role for action: the override if present and valid,
// otherwise the default.
func (o Overrides) Resolved(action Action) (Role, error) {
	if role, ok := o[action]; ok && role != "" {
		return role, nil
	}
	return DefaultRole(action)
}

// Store persists per-group permission overrides.
type Store interface {
	// GetOverrides returns the override set for groupID. An empty Overrides value (no error) is
	// returned when no row exists, so callers fall back to defaults uniformly.
	GetOverrides(ctx context.Context, groupID uuid.UUID) (Overrides, error)
	// SetOverrides replaces the override set for groupID. Returns ErrDeleteGroupLocked if
	// overrides attempts to set deleteGroup to anything but admin.
	SetOverrides(ctx context.Context, groupID uuid.UUID, overrides Overrides) error
}

// ValidateOverrides rejects an override set that would lower deleteGroup below admin, per
// spec.md §4.2's lock.
func ValidateOverrides(overrides Overrides) error {
	if role, ok := overrides[ActionDeleteGroup]; ok && role != "" && role != RoleAdmin {
		return ErrDeleteGroupLocked
	}
	for action, role := range overrides {
		if role == "" {
			continue
		}
		if !role.IsValid() {
			return fmt.Errorf("invalid role %q for action %q", role, action)
		}
	}
	return nil
}
