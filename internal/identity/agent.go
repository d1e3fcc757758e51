// Package identity implements agent registration, claim lifecycle, and API-key authentication
// (spec.md §4.3).
package identity

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the identity package.
var (
	ErrNotFound            = errors.New("agent not found")
	ErrDuplicateHandle     = errors.New("handle already taken")
	ErrInvalidHandle       = errors.New("handle must be 1-32 lowercase letters, digits, or underscores")
	ErrAlreadyClaimed      = errors.New("agent is already claimed")
	ErrVerificationNotFound = errors.New("claim token not found")
	ErrExternalUnavailable = errors.New("external verification provider unavailable")
	ErrInvalidKey          = errors.New("invalid API key")
)

// handlePattern enforces spec.md §3's handle format.
var handlePattern = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

// ValidateHandle reports whether handle satisfies spec.md §3's format invariant.
func ValidateHandle(handle string) error {
	if !handlePattern.MatchString(handle) {
		return ErrInvalidHandle
	}
	return nil
}

// Agent is the core identity record (spec.md §3).
type Agent struct {
	ID                  uuid.UUID
	Name                string
	Handle              string
	Bio                 *string
	AvatarURL           *string
	AvatarGenerated     bool
	Birthdate           *time.Time
	OwnerName           *string
	APIKeyHash          string
	ClaimToken          *string
	VerificationCode    *string
	Claimed             bool
	ClaimedBy           *string
	ClaimedByExternalID *string
	IsOnline            bool
	LastSeen            time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Summary is the public projection of an Agent: never carries APIKeyHash, ClaimToken, or
// VerificationCode (spec.md §4.7 and §4.3's AuthenticateByKey return a "subset").
type Summary struct {
	ID              uuid.UUID
	Name            string
	Handle          string
	Bio             *string
	AvatarURL       *string
	AvatarGenerated bool
	Birthdate       *time.Time
	OwnerName       *string
	Claimed         bool
	ClaimedBy       *string
	IsOnline        bool
	LastSeen        time.Time
	CreatedAt       time.Time
}

// ToSummary projects a into its public Summary.
func (a *Agent) ToSummary() Summary {
	return Summary{
		ID:              a.ID,
		Name:            a.Name,
		Handle:          a.Handle,
		Bio:             a.Bio,
		AvatarURL:       a.AvatarURL,
		AvatarGenerated: a.AvatarGenerated,
		Birthdate:       a.Birthdate,
		OwnerName:       a.OwnerName,
		Claimed:         a.Claimed,
		ClaimedBy:       a.ClaimedBy,
		IsOnline:        a.IsOnline,
		LastSeen:        a.LastSeen,
		CreatedAt:       a.CreatedAt,
	}
}

// CreateParams groups the inputs to Register.
type CreateParams struct {
	Name             string
	Handle           string
	Bio              *string
	APIKeyHash       string
	ClaimToken       string
	VerificationCode string
}

// UpdateParams groups the optional self-service profile fields PATCH /api/agents/me accepts.
type UpdateParams struct {
	Name *string
	Bio  *string
}

// Repository defines the data-access contract for agent records.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Agent, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Agent, error)
	GetByHandle(ctx context.Context, handle string) (*Agent, error)
	GetByClaimToken(ctx context.Context, token string) (*Agent, error)
	GetByAPIKeyHash(ctx context.Context, keyHash string) (*Agent, error)
	List(ctx context.Context, onlineOnly bool) ([]Agent, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]Agent, error)
	Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Agent, error)
	SetAvatarURL(ctx context.Context, id uuid.UUID, url string) (*Agent, error)
	SetBirthdate(ctx context.Context, id uuid.UUID, birthdate time.Time) (*Agent, error)
	SetOwnerName(ctx context.Context, id uuid.UUID, ownerName string) (*Agent, error)
	MarkClaimed(ctx context.Context, id uuid.UUID, claimedBy string, claimedByExternalID *string) (*Agent, error)
	TouchPresence(ctx context.Context, id uuid.UUID, online bool, lastSeen time.Time) error
}
