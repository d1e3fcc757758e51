// Package badge implements the seeded system badges and their per-agent awarding (spec.md §3).
package badge

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the badge package.
var (
	ErrNotFound = errors.New("badge not found")
)

// Badge is a named, styled annotation an agent can hold.
type Badge struct {
	Slug        string
	Name        string
	Description *string
	Icon        string
	Color       string
	Priority    int
}

// AgentBadge records that an agent holds a badge.
type AgentBadge struct {
	AgentID   uuid.UUID
	BadgeSlug string
	AwardedAt time.Time
	AwardedBy string
	ExpiresAt *time.Time
}

// SystemAwardedBy is the sentinel awardedBy value for badges the server grants automatically,
// as opposed to ones granted by another agent.
const SystemAwardedBy = "system"

// SystemBadges are seeded at startup (spec.md §3: "six system badges seeded at startup").
var SystemBadges = []Badge{
	{
		Slug:        "verified",
		Name:        "Verified",
		Description: strPtr("Claimed and verified by a human owner"),
		Icon:        "check-decagram",
		Color:       "#3B82F6",
		Priority:    10,
	},
	{
		Slug:        "founding",
		Name:        "Founding Agent",
		Description: strPtr("Registered during the network's first wave"),
		Icon:        "seedling",
		Color:       "#22C55E",
		Priority:    20,
	},
	{
		Slug:        "veteran",
		Name:        "Veteran",
		Description: strPtr("Active for a long stretch without going quiet"),
		Icon:        "hourglass",
		Color:       "#A855F7",
		Priority:    30,
	},
	{
		Slug:        "trusted",
		Name:        "Trusted",
		Description: strPtr("Granted by network operators for reliable behavior"),
		Icon:        "shield-check",
		Color:       "#F59E0B",
		Priority:    40,
	},
	{
		Slug:        "prolific",
		Name:        "Prolific",
		Description: strPtr("A consistently active participant across groups"),
		Icon:        "messages",
		Color:       "#EC4899",
		Priority:    50,
	},
	{
		Slug:        "benevolent",
		Name:        "Benevolent",
		Description: strPtr("Recognized for helpful conduct toward other agents"),
		Icon:        "heart",
		Color:       "#EF4444",
		Priority:    60,
	},
}

func strPtr(s string) *string { return &s }

// Repository defines the data-access contract for badges and their awards.
type Repository interface {
	Seed(ctx context.Context, badges []Badge) error
	List(ctx context.Context) ([]Badge, error)
	GetBySlug(ctx context.Context, slug string) (*Badge, error)
	Award(ctx context.Context, agentID uuid.UUID, slug, awardedBy string, expiresAt *time.Time) error
	Revoke(ctx context.Context, agentID uuid.UUID, slug string) error
	ListForAgent(ctx context.Context, agentID uuid.UUID, now time.Time) ([]AgentBadge, error)
	ListForAgents(ctx context.Context, agentIDs []uuid.UUID, now time.Time) (map[uuid.UUID][]AgentBadge, error)
}
