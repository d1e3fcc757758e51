package group

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/permission"
	"github.com/clawlink/clawlink-core/internal/postgres"
)

const selectColumns = "id, name, slug, description, avatar_url, is_public, created_by_id, created_at"

func scanGroup(row pgx.Row) (*Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.Name, &g.Slug, &g.Description, &g.AvatarURL, &g.IsPublic, &g.CreatedByID, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan group: %w", err)
	}
	return &g, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed group repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func (r *PGRepository) CreateWithAdmin(ctx context.Context, creatorID uuid.UUID, params CreateParams) (*Group, error) {
	slug := Slugify(params.Name)
	var g *Group
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO groups (name, slug, description, is_public, created_by_id)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING `+selectColumns,
			params.Name, slug, params.Description, params.IsPublic, creatorID,
		)
		var err error
		g, err = scanGroup(row)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrSlugTaken
			}
			return fmt.Errorf("insert group: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO group_members (group_id, agent_id, role) VALUES ($1, $2, $3)`,
			g.ID, creatorID, permission.RoleAdmin,
		)
		if err != nil {
			return fmt.Errorf("insert creator membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (*Group, error) {
	g, err := scanGroup(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM groups WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query group by id: %w", err)
	}
	return g, nil
}

func (r *PGRepository) GetBySlug(ctx context.Context, slug string) (*Group, error) {
	g, err := scanGroup(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM groups WHERE slug = $1`, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query group by slug: %w", err)
	}
	return g, nil
}

func (r *PGRepository) List(ctx context.Context, publicOnly bool) ([]Group, error) {
	query := `SELECT ` + selectColumns + ` FROM groups`
	if publicOnly {
		query += ` WHERE is_public = true`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return groups, nil
}

func (r *PGRepository) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Group, error) {
	g, err := scanGroup(r.db.QueryRow(ctx,
		`UPDATE groups
		 SET name = COALESCE($2, name), description = COALESCE($3, description), avatar_url = COALESCE($4, avatar_url)
		 WHERE id = $1
		 RETURNING `+selectColumns,
		id, params.Name, params.Description, params.AvatarURL,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update group: %w", err)
	}
	return g, nil
}

func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) AddMember(ctx context.Context, groupID, agentID uuid.UUID, role permission.Role) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO group_members (group_id, agent_id, role) VALUES ($1, $2, $3)`,
		groupID, agentID, role,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyMember
		}
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

func (r *PGRepository) RemoveMember(ctx context.Context, groupID, agentID uuid.UUID) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1 AND agent_id = $2`, groupID, agentID)
	if err != nil {
		return fmt.Errorf("remove group member: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) GetMember(ctx context.Context, groupID, agentID uuid.UUID) (*Member, error) {
	var m Member
	err := r.db.QueryRow(ctx,
		`SELECT group_id, agent_id, role, joined_at FROM group_members WHERE group_id = $1 AND agent_id = $2`,
		groupID, agentID,
	).Scan(&m.GroupID, &m.AgentID, &m.Role, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query group member: %w", err)
	}
	return &m, nil
}

func (r *PGRepository) ListGroupIDsForAgent(ctx context.Context, agentID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT group_id FROM group_members WHERE agent_id = $1`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query group memberships for agent: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group membership: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group memberships: %w", err)
	}
	return ids, nil
}

func (r *PGRepository) ListMembers(ctx context.Context, groupID uuid.UUID) ([]Member, error) {
	rows, err := r.db.Query(ctx,
		`SELECT group_id, agent_id, role, joined_at FROM group_members WHERE group_id = $1 ORDER BY joined_at`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("query group members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.GroupID, &m.AgentID, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group members: %w", err)
	}
	return members, nil
}

func (r *PGRepository) SetMemberRole(ctx context.Context, groupID, agentID uuid.UUID, role permission.Role) error {
	cmd, err := r.db.Exec(ctx,
		`UPDATE group_members SET role = $3 WHERE group_id = $1 AND agent_id = $2`,
		groupID, agentID, role,
	)
	if err != nil {
		return fmt.Errorf("set group member role: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) RoleCounts(ctx context.Context, groupID uuid.UUID) (map[permission.Role]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT role, COUNT(*) FROM group_members WHERE group_id = $1 GROUP BY role`, groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("query group role counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[permission.Role]int, 3)
	for rows.Next() {
		var role permission.Role
		var count int
		if err := rows.Scan(&role, &count); err != nil {
			return nil, fmt.Errorf("scan role count: %w", err)
		}
		counts[role] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role counts: %w", err)
	}
	return counts, nil
}

func (r *PGRepository) AddPin(ctx context.Context, groupID, messageID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO pinned_messages (group_id, message_id) VALUES ($1, $2)`,
		groupID, messageID,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyPinned
		}
		return fmt.Errorf("add pin: %w", err)
	}
	return nil
}

func (r *PGRepository) RemovePin(ctx context.Context, groupID, messageID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM pinned_messages WHERE group_id = $1 AND message_id = $2`, groupID, messageID)
	if err != nil {
		return fmt.Errorf("remove pin: %w", err)
	}
	return nil
}

func (r *PGRepository) ListPins(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx,
		`SELECT message_id FROM pinned_messages WHERE group_id = $1 ORDER BY pinned_at DESC`, groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("query pins: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pin: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pins: %w", err)
	}
	return ids, nil
}

func (r *PGRepository) MessageBelongsToGroup(ctx context.Context, groupID, messageID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1 AND group_id = $2)`, messageID, groupID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check message group membership: %w", err)
	}
	return exists, nil
}
