package identity

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

// selectColumns lists the columns returned by queries that produce an *Agent, in scanAgent's
// order.
const selectColumns = `id, name, handle, bio, avatar_url, avatar_generated, birthdate, owner_name,
	api_key_hash, claim_token, verification_code, claimed, claimed_by, claimed_by_external_id,
	is_online, last_seen, created_at, updated_at`

func scanAgent(row pgx.Row) (*Agent, error) {
	var a Agent
	var birthdate *time.Time
	err := row.Scan(
		&a.ID, &a.Name, &a.Handle, &a.Bio, &a.AvatarURL, &a.AvatarGenerated, &birthdate, &a.OwnerName,
		&a.APIKeyHash, &a.ClaimToken, &a.VerificationCode, &a.Claimed, &a.ClaimedBy, &a.ClaimedByExternalID,
		&a.IsOnline, &a.LastSeen, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	a.Birthdate = birthdate
	return &a, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed agent repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Agent, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO agents (name, handle, bio, api_key_hash, claim_token, verification_code)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+selectColumns,
		params.Name, params.Handle, params.Bio, params.APIKeyHash, params.ClaimToken, params.VerificationCode,
	)
	agent, err := scanAgent(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrDuplicateHandle
		}
		return nil, fmt.Errorf("insert agent: %w", err)
	}
	return agent, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Agent, error) {
	agent, err := scanAgent(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM agents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query agent by id: %w", err)
	}
	return agent, nil
}

func (r *PGRepository) GetByHandle(ctx context.Context, handle string) (*Agent, error) {
	agent, err := scanAgent(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM agents WHERE handle = $1`, handle))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query agent by handle: %w", err)
	}
	return agent, nil
}

func (r *PGRepository) GetByClaimToken(ctx context.Context, token string) (*Agent, error) {
	agent, err := scanAgent(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM agents WHERE claim_token = $1`, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query agent by claim token: %w", err)
	}
	return agent, nil
}

func (r *PGRepository) GetByAPIKeyHash(ctx context.Context, keyHash string) (*Agent, error) {
	agent, err := scanAgent(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM agents WHERE api_key_hash = $1`, keyHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query agent by api key hash: %w", err)
	}
	return agent, nil
}

func (r *PGRepository) List(ctx context.Context, onlineOnly bool) ([]Agent, error) {
	query := `SELECT ` + selectColumns + ` FROM agents`
	if onlineOnly {
		query += ` WHERE is_online = true`
	}
	query += ` ORDER BY handle`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return agents, nil
}

func (r *PGRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]Agent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+selectColumns+` FROM agents WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query agents by ids: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents by ids: %w", err)
	}
	return agents, nil
}

func (r *PGRepository) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Agent, error) {
	agent, err := scanAgent(r.db.QueryRow(ctx,
		`UPDATE agents
		 SET name = COALESCE($2, name), bio = COALESCE($3, bio), updated_at = now()
		 WHERE id = $1
		 RETURNING `+selectColumns,
		id, params.Name, params.Bio,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update agent: %w", err)
	}
	return agent, nil
}

func (r *PGRepository) SetAvatarURL(ctx context.Context, id uuid.UUID, url string) (*Agent, error) {
	agent, err := scanAgent(r.db.QueryRow(ctx,
		`UPDATE agents SET avatar_url = $2, updated_at = now() WHERE id = $1 RETURNING `+selectColumns,
		id, url,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("set avatar url: %w", err)
	}
	return agent, nil
}

func (r *PGRepository) SetBirthdate(ctx context.Context, id uuid.UUID, birthdate time.Time) (*Agent, error) {
	agent, err := scanAgent(r.db.QueryRow(ctx,
		`UPDATE agents SET birthdate = $2, updated_at = now() WHERE id = $1 RETURNING `+selectColumns,
		id, birthdate,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("set birthdate: %w", err)
	}
	return agent, nil
}

func (r *PGRepository) SetOwnerName(ctx context.Context, id uuid.UUID, ownerName string) (*Agent, error) {
	agent, err := scanAgent(r.db.QueryRow(ctx,
		`UPDATE agents SET owner_name = $2, updated_at = now() WHERE id = $1 RETURNING `+selectColumns,
		id, ownerName,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("set owner name: %w", err)
	}
	return agent, nil
}

func (r *PGRepository) MarkClaimed(ctx context.Context, id uuid.UUID, claimedBy string, claimedByExternalID *string) (*Agent, error) {
	agent, err := scanAgent(r.db.QueryRow(ctx,
		`UPDATE agents
		 SET claimed = true, claimed_by = $2, claimed_by_external_id = $3,
		     claim_token = NULL, verification_code = NULL, updated_at = now()
		 WHERE id = $1
		 RETURNING `+selectColumns,
		id, claimedBy, claimedByExternalID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mark agent claimed: %w", err)
	}
	return agent, nil
}

func (r *PGRepository) TouchPresence(ctx context.Context, id uuid.UUID, online bool, lastSeen time.Time) error {
	cmd, err := r.db.Exec(ctx,
		`UPDATE agents SET is_online = $2, last_seen = $3 WHERE id = $1`,
		id, online, lastSeen,
	)
	if err != nil {
		return fmt.Errorf("touch presence: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
