package badge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/postgres"
)

const selectColumns = "slug, name, description, icon, color, priority"

func scanBadge(row pgx.Row) (*Badge, error) {
	var b Badge
	if err := row.Scan(&b.Slug, &b.Name, &b.Description, &b.Icon, &b.Color, &b.Priority); err != nil {
		return nil, fmt.Errorf("scan badge: %w", err)
	}
	return &b, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed badge repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Seed upserts the given badges by slug, leaving existing rows' priority/name/etc untouched only
// when they match; re-running with an updated catalog updates display fields in place.
func (r *PGRepository) Seed(ctx context.Context, badges []Badge) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		for _, b := range badges {
			_, err := tx.Exec(ctx,
				`INSERT INTO badges (slug, name, description, icon, color, priority)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (slug) DO UPDATE SET
				   name = EXCLUDED.name, description = EXCLUDED.description,
				   icon = EXCLUDED.icon, color = EXCLUDED.color, priority = EXCLUDED.priority`,
				b.Slug, b.Name, b.Description, b.Icon, b.Color, b.Priority,
			)
			if err != nil {
				return fmt.Errorf("seed badge %q: %w", b.Slug, err)
			}
		}
		return nil
	})
}

func (r *PGRepository) List(ctx context.Context) ([]Badge, error) {
	rows, err := r.db.Query(ctx, `SELECT `+selectColumns+` FROM badges ORDER BY priority`)
	if err != nil {
		return nil, fmt.Errorf("query badges: %w", err)
	}
	defer rows.Close()

	var badges []Badge
	for rows.Next() {
		b, err := scanBadge(rows)
		if err != nil {
			return nil, err
		}
		badges = append(badges, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate badges: %w", err)
	}
	return badges, nil
}

func (r *PGRepository) GetBySlug(ctx context.Context, slug string) (*Badge, error) {
	b, err := scanBadge(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM badges WHERE slug = $1`, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query badge by slug: %w", err)
	}
	return b, nil
}

func (r *PGRepository) Award(ctx context.Context, agentID uuid.UUID, slug, awardedBy string, expiresAt *time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO agent_badges (agent_id, badge_slug, awarded_by, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (agent_id, badge_slug) DO NOTHING`,
		agentID, slug, awardedBy, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("award badge: %w", err)
	}
	return nil
}

func (r *PGRepository) Revoke(ctx context.Context, agentID uuid.UUID, slug string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM agent_badges WHERE agent_id = $1 AND badge_slug = $2`, agentID, slug)
	if err != nil {
		return fmt.Errorf("revoke badge: %w", err)
	}
	return nil
}

func (r *PGRepository) ListForAgent(ctx context.Context, agentID uuid.UUID, now time.Time) ([]AgentBadge, error) {
	rows, err := r.db.Query(ctx,
		`SELECT agent_id, badge_slug, awarded_at, awarded_by, expires_at
		 FROM agent_badges
		 WHERE agent_id = $1 AND (expires_at IS NULL OR expires_at > $2)
		 ORDER BY awarded_at`,
		agentID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("query agent badges: %w", err)
	}
	defer rows.Close()
	return scanAgentBadges(rows)
}

func (r *PGRepository) ListForAgents(ctx context.Context, agentIDs []uuid.UUID, now time.Time) (map[uuid.UUID][]AgentBadge, error) {
	rows, err := r.db.Query(ctx,
		`SELECT agent_id, badge_slug, awarded_at, awarded_by, expires_at
		 FROM agent_badges
		 WHERE agent_id = ANY($1) AND (expires_at IS NULL OR expires_at > $2)
		 ORDER BY awarded_at`,
		agentIDs, now,
	)
	if err != nil {
		return nil, fmt.Errorf("query agent badges: %w", err)
	}
	defer rows.Close()

	badges, err := scanAgentBadges(rows)
	if err != nil {
		return nil, err
	}
	byAgent := make(map[uuid.UUID][]AgentBadge, len(agentIDs))
	for _, b := range badges {
		byAgent[b.AgentID] = append(byAgent[b.AgentID], b)
	}
	return byAgent, nil
}

func scanAgentBadges(rows pgx.Rows) ([]AgentBadge, error) {
	var out []AgentBadge
	for rows.Next() {
		var ab AgentBadge
		if err := rows.Scan(&ab.AgentID, &ab.BadgeSlug, &ab.AwardedAt, &ab.AwardedBy, &ab.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan agent badge: %w", err)
		}
		out = append(out, ab)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent badges: %w", err)
	}
	return out, nil
}
