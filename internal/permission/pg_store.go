package permission

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements Store against the group_permissions table.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a new Postgres-backed permission override store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

var overrideColumns = []string{
	"rename_group", "edit_description", "edit_avatar", "delete_group",
	"remove_members", "set_roles", "invite_members", "pin_messages", "delete_any_message",
}

var overrideActionByColumn = map[string]Action{
	"rename_group":       ActionRenameGroup,
	"edit_description":   ActionEditDescription,
	"edit_avatar":        ActionEditAvatar,
	"delete_group":       ActionDeleteGroup,
	"remove_members":     ActionRemoveMembers,
	"set_roles":          ActionSetRoles,
	"invite_members":     ActionInviteMembers,
	"pin_messages":       ActionPinMessages,
	"delete_any_message": ActionDeleteAnyMessage,
}

// GetOverrides returns the override row for groupID, or an empty Overrides if no row exists yet
// (a group only gets a row once UpdatePermissions is called; reads before that fall back to
// defaults).
func (s *PGStore) GetOverrides(ctx context.Context, groupID uuid.UUID) (Overrides, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM group_permissions WHERE group_id = $1`,
		joinColumns(overrideColumns),
	)

	values := make([]string, len(overrideColumns))
	scanTargets := make([]any, len(values))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	err := s.pool.QueryRow(ctx, query, groupID).Scan(scanTargets...)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Overrides{}, nil
		}
		return nil, fmt.Errorf("get group permission overrides: %w", err)
	}

	overrides := make(Overrides, len(overrideColumns))
	for i, col := range overrideColumns {
		overrides[overrideActionByColumn[col]] = Role(values[i])
	}
	return overrides, nil
}

// SetOverrides upserts the override row for groupID. Missing actions fall back to their default
// role rather than an empty column, so a partial update never leaves a column null.
func (s *PGStore) SetOverrides(ctx context.Context, groupID uuid.UUID, overrides Overrides) error {
	if err := ValidateOverrides(overrides); err != nil {
		return err
	}

	resolved := make(map[string]Role, len(overrideColumns))
	for col, action := range overrideActionByColumn {
		role, err := overrides.Resolved(action)
		if err != nil {
			return err
		}
		resolved[col] = role
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO group_permissions (
			group_id, rename_group, edit_description, edit_avatar, delete_group,
			remove_members, set_roles, invite_members, pin_messages, delete_any_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (group_id) DO UPDATE SET
			rename_group = EXCLUDED.rename_group,
			edit_description = EXCLUDED.edit_description,
			edit_avatar = EXCLUDED.edit_avatar,
			delete_group = EXCLUDED.delete_group,
			remove_members = EXCLUDED.remove_members,
			set_roles = EXCLUDED.set_roles,
			invite_members = EXCLUDED.invite_members,
			pin_messages = EXCLUDED.pin_messages,
			delete_any_message = EXCLUDED.delete_any_message
	`,
		groupID,
		resolved["rename_group"], resolved["edit_description"], resolved["edit_avatar"], resolved["delete_group"],
		resolved["remove_members"], resolved["set_roles"], resolved["invite_members"], resolved["pin_messages"], resolved["delete_any_message"],
	)
	if err != nil {
		return fmt.Errorf("upsert group permission overrides: %w", err)
	}
	return nil
}

func joinColumns(cols []string) string {
	out := cols[0]
	for _, c := range cols[1:] {
		out += ", " + c
	}
	return out
}
