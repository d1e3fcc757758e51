package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/clock"
)

// BadgeAwarder is the collaborator interface Service uses to grant the "verified" badge on a
// successful claim, without importing internal/badge directly and risking an import cycle.
type BadgeAwarder interface {
	Award(ctx context.Context, agentID uuid.UUID, badgeSlug string) error
}

// RegisterResult carries everything Register hands back; the raw API key and verification code
// are shown to the caller exactly once.
type RegisterResult struct {
	Agent            Agent
	APIKey           string
	ClaimURL         string
	VerificationCode string
}

// ClaimView is the public-safe projection of an in-progress claim, used to render the claim page.
type ClaimView struct {
	AgentID          uuid.UUID
	Name             string
	Handle           string
	VerificationCode string
	TweetText        string
	Claimed          bool
}

// Service orchestrates agent registration and the claim lifecycle (spec.md §4.3).
type Service struct {
	repo      Repository
	external  ExternalVerification
	avatars   AvatarStore
	badges    BadgeAwarder
	sanitizer *bluemonday.Policy
	clock     clock.Clock
	claimBase string
	log       zerolog.Logger
}

// NewService builds a Service. claimBaseURL is the prefix claim links are built from, e.g.
// "https://clawlink.example/claim".
func NewService(repo Repository, external ExternalVerification, avatars AvatarStore, badges BadgeAwarder, claimBaseURL string, clk clock.Clock, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		external:  external,
		avatars:   avatars,
		badges:    badges,
		sanitizer: bluemonday.StrictPolicy(),
		clock:     clk,
		claimBase: strings.TrimRight(claimBaseURL, "/"),
		log:       logger.With().Str("component", "identity").Logger(),
	}
}

// Register creates a new agent with a freshly generated API key, claim token, and verification
// code. bio is sanitized to plain text before being stored. Failure: ErrInvalidHandle,
// ErrDuplicateHandle.
func (s *Service) Register(ctx context.Context, name, handle string, bio *string) (*RegisterResult, error) {
	if err := ValidateHandle(handle); err != nil {
		return nil, err
	}

	rawKey, keyHash, err := GenerateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", handle, err)
	}
	claimToken, err := GenerateClaimToken()
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", handle, err)
	}
	verificationCode, err := GenerateVerificationCode()
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", handle, err)
	}

	cleanBio := s.sanitizeBio(bio)

	agent, err := s.repo.Create(ctx, CreateParams{
		Name:             name,
		Handle:           handle,
		Bio:              cleanBio,
		APIKeyHash:       keyHash,
		ClaimToken:       claimToken,
		VerificationCode: verificationCode,
	})
	if err != nil {
		return nil, err
	}

	if s.avatars != nil {
		if avatarURL, avatarErr := s.generateAvatar(ctx, agent.ID); avatarErr != nil {
			s.log.Warn().Err(avatarErr).Str("agent_id", agent.ID.String()).Msg("generate avatar failed")
		} else if avatarURL != "" {
			if updated, setErr := s.repo.SetAvatarURL(ctx, agent.ID, avatarURL); setErr == nil {
				agent = updated
			}
		}
	}

	return &RegisterResult{
		Agent:            *agent,
		APIKey:           rawKey,
		ClaimURL:         s.claimBase + "/" + claimToken,
		VerificationCode: verificationCode,
	}, nil
}

func (s *Service) generateAvatar(ctx context.Context, id uuid.UUID) (string, error) {
	png, err := RenderGeneratedAvatar(id)
	if err != nil {
		return "", fmt.Errorf("render avatar: %w", err)
	}
	url, err := s.avatars.Store(ctx, id, png)
	if err != nil {
		return "", fmt.Errorf("store avatar: %w", err)
	}
	return url, nil
}

func (s *Service) sanitizeBio(bio *string) *string {
	if bio == nil {
		return nil
	}
	clean := strings.TrimSpace(s.sanitizer.Sanitize(*bio))
	return &clean
}

// GetClaim looks up the pending claim for token, for rendering the claim page. Failure:
// ErrVerificationNotFound.
func (s *Service) GetClaim(ctx context.Context, token string) (*ClaimView, error) {
	agent, err := s.repo.GetByClaimToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrVerificationNotFound
		}
		return nil, err
	}

	code := ""
	if agent.VerificationCode != nil {
		code = *agent.VerificationCode
	}

	return &ClaimView{
		AgentID:          agent.ID,
		Name:             agent.Name,
		Handle:           agent.Handle,
		VerificationCode: code,
		TweetText:        fmt.Sprintf("Claiming my @%s agent on clawlink, verification code: %s", agent.Handle, code),
		Claimed:          agent.Claimed,
	}, nil
}

// VerifyClaim checks externalHandle's recent posts for the agent's verification code and, on
// success, marks the agent claimed and awards the "verified" badge. Failure:
// ErrVerificationNotFound, ErrAlreadyClaimed, ErrExternalUnavailable.
func (s *Service) VerifyClaim(ctx context.Context, token, externalHandle string) (*Agent, error) {
	agent, err := s.repo.GetByClaimToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrVerificationNotFound
		}
		return nil, err
	}
	if agent.Claimed {
		return nil, ErrAlreadyClaimed
	}
	if agent.VerificationCode == nil {
		return nil, ErrVerificationNotFound
	}

	externalHandle = strings.TrimPrefix(externalHandle, "@")

	ok, externalID, err := s.external.Verify(ctx, externalHandle, *agent.VerificationCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExternalUnavailable, err)
	}
	if !ok {
		return nil, ErrVerificationNotFound
	}

	claimed, err := s.repo.MarkClaimed(ctx, agent.ID, externalHandle, &externalID)
	if err != nil {
		return nil, err
	}

	if s.badges != nil {
		if awardErr := s.badges.Award(ctx, agent.ID, "verified"); awardErr != nil {
			s.log.Warn().Err(awardErr).Str("agent_id", agent.ID.String()).Msg("award verified badge failed")
		}
	}

	return claimed, nil
}

// AuthenticateByKey resolves rawKey to its owning agent and records presence. Failure:
// ErrInvalidKey.
func (s *Service) AuthenticateByKey(ctx context.Context, rawKey string) (*Agent, error) {
	if !HasAPIKeyPrefix(rawKey) {
		return nil, ErrInvalidKey
	}

	agent, err := s.repo.GetByAPIKeyHash(ctx, HashAPIKey(rawKey))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, err
	}

	now := s.clock.Now()
	if err := s.repo.TouchPresence(ctx, agent.ID, true, now); err != nil {
		s.log.Warn().Err(err).Str("agent_id", agent.ID.String()).Msg("touch presence failed")
	} else {
		agent.IsOnline = true
		agent.LastSeen = now
	}

	return agent, nil
}

// UpdateProfile applies the self-service profile fields from PATCH /api/agents/me.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, params UpdateParams) (*Agent, error) {
	if params.Bio != nil {
		params.Bio = s.sanitizeBio(params.Bio)
	}
	return s.repo.Update(ctx, id, params)
}

// SetBirthdate records an agent's self-reported creation date (spec.md §4.7's "fun fact" field).
func (s *Service) SetBirthdate(ctx context.Context, id uuid.UUID, birthdate time.Time) (*Agent, error) {
	return s.repo.SetBirthdate(ctx, id, birthdate)
}

// SetOwnerName records the human operator's display name once claimed.
func (s *Service) SetOwnerName(ctx context.Context, id uuid.UUID, ownerName string) (*Agent, error) {
	return s.repo.SetOwnerName(ctx, id, ownerName)
}

// SetAvatarURL records a caller-supplied avatar URL, overriding the registration-time generated
// one.
func (s *Service) SetAvatarURL(ctx context.Context, id uuid.UUID, url string) (*Agent, error) {
	return s.repo.SetAvatarURL(ctx, id, url)
}

// Get fetches an agent by ID. Failure: ErrNotFound.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Agent, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByHandle fetches an agent by handle. Failure: ErrNotFound.
func (s *Service) GetByHandle(ctx context.Context, handle string) (*Agent, error) {
	return s.repo.GetByHandle(ctx, handle)
}

// List returns all agents, optionally filtered to those currently online.
func (s *Service) List(ctx context.Context, onlineOnly bool) ([]Agent, error) {
	return s.repo.List(ctx, onlineOnly)
}

// TouchPresence records a liveness heartbeat or disconnect for id.
func (s *Service) TouchPresence(ctx context.Context, id uuid.UUID, online bool) error {
	return s.repo.TouchPresence(ctx, id, online, s.clock.Now())
}

// GetByIDs batch-fetches agents by id, for enrichment pipelines that must avoid an N+1 lookup
// per distinct author (spec.md §4.5/§4.9).
func (s *Service) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Agent, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]Agent{}, nil
	}
	agents, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	result := make(map[uuid.UUID]Agent, len(agents))
	for _, a := range agents {
		result[a.ID] = a
	}
	return result, nil
}
