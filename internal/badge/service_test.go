package badge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeRepository struct {
	badges  map[string]Badge
	awards  map[uuid.UUID]map[string]AgentBadge
	seedLen int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		badges: make(map[string]Badge),
		awards: make(map[uuid.UUID]map[string]AgentBadge),
	}
}

func (r *fakeRepository) Seed(_ context.Context, badges []Badge) error {
	r.seedLen = len(badges)
	for _, b := range badges {
		r.badges[b.Slug] = b
	}
	return nil
}

func (r *fakeRepository) List(_ context.Context) ([]Badge, error) {
	var out []Badge
	for _, b := range r.badges {
		out = append(out, b)
	}
	return out, nil
}

func (r *fakeRepository) GetBySlug(_ context.Context, slug string) (*Badge, error) {
	b, ok := r.badges[slug]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (r *fakeRepository) Award(_ context.Context, agentID uuid.UUID, slug, awardedBy string, expiresAt *time.Time) error {
	if _, ok := r.awards[agentID]; !ok {
		r.awards[agentID] = make(map[string]AgentBadge)
	}
	if _, exists := r.awards[agentID][slug]; exists {
		return nil
	}
	r.awards[agentID][slug] = AgentBadge{AgentID: agentID, BadgeSlug: slug, AwardedBy: awardedBy, ExpiresAt: expiresAt, AwardedAt: time.Now()}
	return nil
}

func (r *fakeRepository) Revoke(_ context.Context, agentID uuid.UUID, slug string) error {
	delete(r.awards[agentID], slug)
	return nil
}

func (r *fakeRepository) ListForAgent(_ context.Context, agentID uuid.UUID, now time.Time) ([]AgentBadge, error) {
	var out []AgentBadge
	for _, ab := range r.awards[agentID] {
		if ab.ExpiresAt != nil && !ab.ExpiresAt.After(now) {
			continue
		}
		out = append(out, ab)
	}
	return out, nil
}

func (r *fakeRepository) ListForAgents(ctx context.Context, agentIDs []uuid.UUID, now time.Time) (map[uuid.UUID][]AgentBadge, error) {
	out := make(map[uuid.UUID][]AgentBadge)
	for _, id := range agentIDs {
		badges, _ := r.ListForAgent(ctx, id, now)
		if len(badges) > 0 {
			out[id] = badges
		}
	}
	return out, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestService_Seed(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	svc := NewService(repo, fixedClock{now: time.Now()}, zerolog.Nop())
	if err := svc.Seed(context.Background()); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if repo.seedLen != len(SystemBadges) {
		t.Errorf("seeded %d badges, want %d", repo.seedLen, len(SystemBadges))
	}
}

func TestService_Award_idempotent(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	svc := NewService(repo, fixedClock{now: time.Now()}, zerolog.Nop())
	ctx := context.Background()
	if err := svc.Seed(ctx); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	agentID := uuid.New()
	if err := svc.Award(ctx, agentID, "verified", SystemAwardedBy); err != nil {
		t.Fatalf("first Award() error = %v", err)
	}
	if err := svc.Award(ctx, agentID, "verified", SystemAwardedBy); err != nil {
		t.Fatalf("second Award() error = %v", err)
	}

	held, err := svc.ListForAgent(ctx, agentID)
	if err != nil {
		t.Fatalf("ListForAgent() error = %v", err)
	}
	if len(held) != 1 {
		t.Errorf("held = %d badges, want 1", len(held))
	}
}

func TestService_Award_unknownBadge(t *testing.T) {
	t.Parallel()

	svc := NewService(newFakeRepository(), fixedClock{now: time.Now()}, zerolog.Nop())
	err := svc.Award(context.Background(), uuid.New(), "does-not-exist", SystemAwardedBy)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestService_ListForAgent_filtersExpired(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	now := time.Now()
	svc := NewService(repo, fixedClock{now: now}, zerolog.Nop())
	ctx := context.Background()
	if err := svc.Seed(ctx); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	agentID := uuid.New()
	past := now.Add(-time.Hour)
	if err := svc.AwardTemporary(ctx, agentID, "trusted", "system", past); err != nil {
		t.Fatalf("AwardTemporary() error = %v", err)
	}

	held, err := svc.ListForAgent(ctx, agentID)
	if err != nil {
		t.Fatalf("ListForAgent() error = %v", err)
	}
	if len(held) != 0 {
		t.Errorf("held = %d badges, want 0 (expired)", len(held))
	}
}

func TestService_ListForAgents_batch(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	svc := NewService(repo, fixedClock{now: time.Now()}, zerolog.Nop())
	ctx := context.Background()
	if err := svc.Seed(ctx); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	a, b := uuid.New(), uuid.New()
	if err := svc.Award(ctx, a, "verified", SystemAwardedBy); err != nil {
		t.Fatalf("Award() error = %v", err)
	}

	byAgent, err := svc.ListForAgents(ctx, []uuid.UUID{a, b})
	if err != nil {
		t.Fatalf("ListForAgents() error = %v", err)
	}
	if len(byAgent[a]) != 1 {
		t.Errorf("byAgent[a] = %d, want 1", len(byAgent[a]))
	}
	if len(byAgent[b]) != 0 {
		t.Errorf("byAgent[b] = %d, want 0", len(byAgent[b]))
	}
}
