package dm

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

const conversationColumns = `agent1_id, agent2_id, disappear_timer_seconds, disappear_set_by, pending_approval,
	proposed_value_seconds, proposed_by, agent1_cleared_at, agent2_cleared_at, created_at`

const messageColumns = `id, from_agent_id, to_agent_id, content, reply_to_id, read, encrypted, ciphertext,
	sender_key_id, expires_at, created_at`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	err := row.Scan(
		&c.AgentAID, &c.AgentBID, &c.DisappearTimerSeconds, &c.DisappearSetBy, &c.PendingApproval,
		&c.ProposedValueSeconds, &c.ProposedBy, &c.AgentAClearedAt, &c.AgentBClearedAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &c, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(
		&m.ID, &m.FromAgentID, &m.ToAgentID, &m.Content, &m.ReplyToID, &m.Read, &m.Encrypted, &m.Ciphertext,
		&m.SenderKeyID, &m.ExpiresAt, &m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan direct message: %w", err)
	}
	return &m, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed dm repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func (r *PGRepository) GetOrCreateConversation(ctx context.Context, agentA, agentB uuid.UUID) (*Conversation, error) {
	c, err := scanConversation(r.db.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM dm_conversations WHERE agent1_id = $1 AND agent2_id = $2`,
		agentA, agentB,
	))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	c, err = scanConversation(r.db.QueryRow(ctx,
		`INSERT INTO dm_conversations (agent1_id, agent2_id) VALUES ($1, $2)
		 ON CONFLICT (agent1_id, agent2_id) DO UPDATE SET agent1_id = EXCLUDED.agent1_id
		 RETURNING `+conversationColumns,
		agentA, agentB,
	))
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns every conversation agentID participates in, most recently created
// first.
func (r *PGRepository) ListConversations(ctx context.Context, agentID uuid.UUID) ([]Conversation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+conversationColumns+` FROM dm_conversations
		 WHERE agent1_id = $1 OR agent2_id = $1
		 ORDER BY created_at DESC`,
		agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, scanErr := scanConversation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}

func (r *PGRepository) UpdateDisappear(ctx context.Context, agentA, agentB uuid.UUID, update Conversation) error {
	cmd, err := r.db.Exec(ctx,
		`UPDATE dm_conversations
		 SET disappear_timer_seconds = $3, disappear_set_by = $4, pending_approval = $5,
		     proposed_value_seconds = $6, proposed_by = $7
		 WHERE agent1_id = $1 AND agent2_id = $2`,
		agentA, agentB, update.DisappearTimerSeconds, update.DisappearSetBy, update.PendingApproval,
		update.ProposedValueSeconds, update.ProposedBy,
	)
	if err != nil {
		return fmt.Errorf("update disappear state: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) SetClearedAt(ctx context.Context, agentA, agentB, actorID uuid.UUID, at time.Time) error {
	column := "agent1_cleared_at"
	if actorID == agentB {
		column = "agent2_cleared_at"
	}
	cmd, err := r.db.Exec(ctx,
		`UPDATE dm_conversations SET `+column+` = $3 WHERE agent1_id = $1 AND agent2_id = $2`,
		agentA, agentB, at,
	)
	if err != nil {
		return fmt.Errorf("set cleared_at: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) CreateMessage(ctx context.Context, params CreateParams) (*Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx,
		`INSERT INTO direct_messages (from_agent_id, to_agent_id, content, reply_to_id, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+messageColumns,
		params.FromAgentID, params.ToAgentID, params.Content, params.ReplyToID, params.ExpiresAt,
	))
	if err != nil {
		return nil, fmt.Errorf("insert direct message: %w", err)
	}
	return m, nil
}

func (r *PGRepository) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM direct_messages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("query direct message: %w", err)
	}
	return m, nil
}

func (r *PGRepository) MessageInConversation(ctx context.Context, agentA, agentB, messageID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM direct_messages
			WHERE id = $1
			  AND ((from_agent_id = $2 AND to_agent_id = $3) OR (from_agent_id = $3 AND to_agent_id = $2))
		 )`,
		messageID, agentA, agentB,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check message conversation membership: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) ListMessages(ctx context.Context, agentA, agentB uuid.UUID, limit int) ([]Message, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+messageColumns+` FROM direct_messages
		 WHERE (from_agent_id = $1 AND to_agent_id = $2) OR (from_agent_id = $2 AND to_agent_id = $1)
		 ORDER BY created_at DESC, id DESC LIMIT $3`,
		agentA, agentB, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query direct messages: %w", err)
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
		return nil, fmt.Errorf("iterate direct messages: %w", err)
	}
	reverseMessages(messages)
	return messages, nil
}

func (r *PGRepository) MarkRead(ctx context.Context, fromAgentID, toAgentID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE direct_messages SET read = true WHERE from_agent_id = $1 AND to_agent_id = $2 AND read = false`,
		fromAgentID, toAgentID,
	)
	if err != nil {
		return fmt.Errorf("mark direct messages read: %w", err)
	}
	return nil
}

func (r *PGRepository) DeleteExpired(ctx context.Context, now time.Time) ([]Message, error) {
	rows, err := r.db.Query(ctx,
		`DELETE FROM direct_messages WHERE expires_at IS NOT NULL AND expires_at < $1 RETURNING `+messageColumns,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("delete expired direct messages: %w", err)
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
		return nil, fmt.Errorf("iterate expired direct messages: %w", err)
	}
	return messages, nil
}

func (r *PGRepository) AddReaction(ctx context.Context, messageID, agentID uuid.UUID, emoji string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO dm_reactions (dm_id, agent_id, emoji) VALUES ($1, $2, $3)`,
		messageID, agentID, emoji,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyReacted
		}
		if postgres.IsForeignKeyViolation(err) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("add dm reaction: %w", err)
	}
	return nil
}

func (r *PGRepository) RemoveReaction(ctx context.Context, messageID, agentID uuid.UUID, emoji string) error {
	cmd, err := r.db.Exec(ctx,
		`DELETE FROM dm_reactions WHERE dm_id = $1 AND agent_id = $2 AND emoji = $3`,
		messageID, agentID, emoji,
	)
	if err != nil {
		return fmt.Errorf("remove dm reaction: %w", err)
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
		`SELECT dm_id, emoji, COUNT(*) FROM dm_reactions WHERE dm_id = ANY($1) GROUP BY dm_id, emoji`,
		messageIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("query dm reaction counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dmID uuid.UUID
		var emoji string
		var count int
		if err := rows.Scan(&dmID, &emoji, &count); err != nil {
			return nil, fmt.Errorf("scan dm reaction count: %w", err)
		}
		if result[dmID] == nil {
			result[dmID] = make(map[string]int)
		}
		result[dmID][emoji] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dm reaction counts: %w", err)
	}
	return result, nil
}

func (r *PGRepository) IsBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM agent_blocks WHERE blocker_id = $1 AND blocked_id = $2)`,
		blockerID, blockedID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check block: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) Block(ctx context.Context, blockerID, blockedID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO agent_blocks (blocker_id, blocked_id) VALUES ($1, $2)`,
		blockerID, blockedID,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyBlocked
		}
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

func (r *PGRepository) Unblock(ctx context.Context, blockerID, blockedID uuid.UUID) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM agent_blocks WHERE blocker_id = $1 AND blocked_id = $2`, blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotBlocked
	}
	return nil
}

func (r *PGRepository) ListBlocked(ctx context.Context, blockerID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT blocked_id FROM agent_blocks WHERE blocker_id = $1 ORDER BY created_at`, blockerID)
	if err != nil {
		return nil, fmt.Errorf("query blocked agents: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan blocked agent: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocked agents: %w", err)
	}
	return ids, nil
}

func reverseMessages(messages []Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
