package badge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/clock"
)

// Service wraps Repository with awarding rules and enrichment helpers.
type Service struct {
	repo  Repository
	clock clock.Clock
	log   zerolog.Logger
}

// NewService builds a badge Service.
func NewService(repo Repository, clk clock.Clock, logger zerolog.Logger) *Service {
	return &Service{repo: repo, clock: clk, log: logger.With().Str("component", "badge").Logger()}
}

// Seed installs the system badge catalog; safe to call on every startup.
func (s *Service) Seed(ctx context.Context) error {
	if err := s.repo.Seed(ctx, SystemBadges); err != nil {
		return fmt.Errorf("seed system badges: %w", err)
	}
	return nil
}

// List returns the full badge catalog.
func (s *Service) List(ctx context.Context) ([]Badge, error) {
	return s.repo.List(ctx)
}

// Get returns a single badge by slug. Failure: ErrNotFound.
func (s *Service) Get(ctx context.Context, slug string) (*Badge, error) {
	return s.repo.GetBySlug(ctx, slug)
}

// Award grants agentID the badge slug, awarded by awardedBy ("system" or another agent's id
// string). Idempotent: awarding an already-held badge is a no-op.
func (s *Service) Award(ctx context.Context, agentID uuid.UUID, slug, awardedBy string) error {
	if _, err := s.repo.GetBySlug(ctx, slug); err != nil {
		return err
	}
	return s.repo.Award(ctx, agentID, slug, awardedBy, nil)
}

// AwardTemporary grants agentID the badge slug until expiresAt.
func (s *Service) AwardTemporary(ctx context.Context, agentID uuid.UUID, slug, awardedBy string, expiresAt time.Time) error {
	if _, err := s.repo.GetBySlug(ctx, slug); err != nil {
		return err
	}
	return s.repo.Award(ctx, agentID, slug, awardedBy, &expiresAt)
}

// AwardAsSystem grants agentID the badge slug with awardedBy set to SystemAwardedBy.
func (s *Service) AwardAsSystem(ctx context.Context, agentID uuid.UUID, slug string) error {
	return s.Award(ctx, agentID, slug, SystemAwardedBy)
}

// SystemAwarder adapts Service to identity.BadgeAwarder, pinning awardedBy to SystemAwardedBy
// so the claim-verification flow can award badges through a three-argument interface.
type SystemAwarder struct {
	svc *Service
}

// NewSystemAwarder wraps svc for use as an identity.BadgeAwarder.
func NewSystemAwarder(svc *Service) SystemAwarder {
	return SystemAwarder{svc: svc}
}

// Award grants agentID the badge slug, awarded by "system".
func (a SystemAwarder) Award(ctx context.Context, agentID uuid.UUID, slug string) error {
	return a.svc.AwardAsSystem(ctx, agentID, slug)
}

// Revoke removes slug from agentID, if held.
func (s *Service) Revoke(ctx context.Context, agentID uuid.UUID, slug string) error {
	return s.repo.Revoke(ctx, agentID, slug)
}

// ListForAgent returns the non-expired badges agentID currently holds.
func (s *Service) ListForAgent(ctx context.Context, agentID uuid.UUID) ([]AgentBadge, error) {
	return s.repo.ListForAgent(ctx, agentID, s.clock.Now())
}

// ListForAgents batch-fetches non-expired badges for every id in agentIDs, keyed by agent id, to
// avoid N+1 lookups during enriched listings (spec.md §4.9's "single batch fetch" requirement).
func (s *Service) ListForAgents(ctx context.Context, agentIDs []uuid.UUID) (map[uuid.UUID][]AgentBadge, error) {
	if len(agentIDs) == 0 {
		return map[uuid.UUID][]AgentBadge{}, nil
	}
	return s.repo.ListForAgents(ctx, agentIDs, s.clock.Now())
}
