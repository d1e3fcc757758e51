// Package sweeper runs the periodic expiry pass over disappearing direct messages (spec.md
// §4.9).
package sweeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/clock"
	"github.com/clawlink/clawlink-core/internal/dm"
	"github.com/clawlink/clawlink-core/internal/events"
)

// Interval is how often the sweeper runs, per spec.md §4.9.
const Interval = 60 * time.Second

// Repository is the slice of dm.Repository the sweeper needs. Satisfied directly by
// *dm.PGRepository.
type Repository interface {
	DeleteExpired(ctx context.Context, now time.Time) ([]dm.Message, error)
}

// Publisher fans a dm:expired event out to both participants of an expired conversation.
// Satisfied directly by *gateway.Publisher.
type Publisher interface {
	PublishToAgent(ctx context.Context, agentID uuid.UUID, env events.Envelope) error
}

// Sweeper deletes expired direct messages and notifies their participants. A single pass has no
// exactly-once requirement: duplicate dm:expired events for the same message are acceptable
// (spec.md §4.9), so a publish failure is logged and the row stays deleted rather than retried.
type Sweeper struct {
	repo Repository
	pub  Publisher
	clk  clock.Clock
	log  zerolog.Logger
}

// New builds a Sweeper.
func New(repo Repository, pub Publisher, clk clock.Clock, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		repo: repo,
		pub:  pub,
		clk:  clk,
		log:  logger.With().Str("component", "sweeper").Logger(),
	}
}

// Run ticks every Interval until ctx is done, sweeping once immediately on entry. It matches the
// shape of this codebase's other long-running background services (gateway.Bus.Run): callers
// wrap it in a restart-with-backoff loop rather than Run retrying internally.
func (s *Sweeper) Run(ctx context.Context) error {
	s.sweepOnce(ctx)

	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// sweepOnce runs a single expiry pass. On failure it logs and returns, relying on the next tick
// to retry (spec.md §4.9: "On sweeper failure, log and continue").
func (s *Sweeper) sweepOnce(ctx context.Context) {
	expired, err := s.repo.DeleteExpired(ctx, s.clk.Now())
	if err != nil {
		s.log.Warn().Err(err).Msg("expiry sweep failed")
		return
	}
	if len(expired) == 0 {
		return
	}

	for _, msg := range expired {
		payload := events.Envelope{Kind: events.KindDMExpired, Data: events.DMExpiredPayload{DMID: msg.ID}}
		if err := s.pub.PublishToAgent(ctx, msg.FromAgentID, payload); err != nil {
			s.log.Warn().Err(err).Stringer("dm_id", msg.ID).Msg("failed to publish dm:expired to sender")
		}
		if err := s.pub.PublishToAgent(ctx, msg.ToAgentID, payload); err != nil {
			s.log.Warn().Err(err).Stringer("dm_id", msg.ID).Msg("failed to publish dm:expired to recipient")
		}
	}
	s.log.Info().Int("deleted", len(expired)).Msg("swept expired direct messages")
}
