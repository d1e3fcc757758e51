package message

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/postgres"
)

const selectColumns = "id, group_id, agent_id, content, reply_to_id, created_at, updated_at"

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.GroupID, &m.AgentID, &m.Content, &m.ReplyToID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return &m, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed message repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx,
		`INSERT INTO messages (group_id, agent_id, content, reply_to_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+selectColumns,
		params.GroupID, params.AgentID, params.Content, params.ReplyToID,
	))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query message by id: %w", err)
	}
	return m, nil
}

func (r *PGRepository) List(ctx context.Context, groupID uuid.UUID, before *uuid.UUID, limit int) ([]Message, error) {
	var rows pgx.Rows
	var err error
	if before != nil {
		beforeMsg, getErr := r.GetByID(ctx, *before)
		if getErr != nil {
			return nil, getErr
		}
		rows, err = r.db.Query(ctx,
			`SELECT `+selectColumns+` FROM messages
			 WHERE group_id = $1 AND (created_at, id) < ($2, $3)
			 ORDER BY created_at DESC, id DESC LIMIT $4`,
			groupID, beforeMsg.CreatedAt, beforeMsg.ID, limit,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+selectColumns+` FROM messages WHERE group_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
			groupID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) BelongsToGroup(ctx context.Context, groupID, messageID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1 AND group_id = $2)`, messageID, groupID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check message group membership: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) AddReaction(ctx context.Context, messageID, agentID uuid.UUID, emoji string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO message_reactions (message_id, agent_id, emoji) VALUES ($1, $2, $3)`,
		messageID, agentID, emoji,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyReacted
		}
		if postgres.IsForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

func (r *PGRepository) RemoveReaction(ctx context.Context, messageID, agentID uuid.UUID, emoji string) error {
	cmd, err := r.db.Exec(ctx,
		`DELETE FROM message_reactions WHERE message_id = $1 AND agent_id = $2 AND emoji = $3`,
		messageID, agentID, emoji,
	)
	if err != nil {
		return fmt.Errorf("remove reaction: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrReactionNotFound
	}
	return nil
}

func (r *PGRepository) ReactionsForMessages(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID]map[string]int, error) {
	result := make(map[uuid.UUID]map[string]int, len(messageIDs))
	if len(messageIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT message_id, emoji, COUNT(*) FROM message_reactions
		 WHERE message_id = ANY($1) GROUP BY message_id, emoji`,
		messageIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("query reaction counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID uuid.UUID
		var emoji string
		var count int
		if err := rows.Scan(&messageID, &emoji, &count); err != nil {
			return nil, fmt.Errorf("scan reaction count: %w", err)
		}
		if result[messageID] == nil {
			result[messageID] = make(map[string]int)
		}
		result[messageID][emoji] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reaction counts: %w", err)
	}
	return result, nil
}
