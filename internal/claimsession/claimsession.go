// Package claimsession holds the process-local PKCE-verifier-shaped state used during the claim
// flow (spec.md §5): a claim token maps to transient verifier state for up to 10 minutes. This is
// deliberately not durable: losing it on restart only means an in-flight claim has to be retried.
// It also signs the short-lived JWT that binds the claim web page to whoever fetched it, so
// VerifyClaim can refuse a party that never loaded GetClaim.
package claimsession

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clawlink/clawlink-core/internal/clock"
)

// TTL is how long an entry survives before it is considered expired.
const TTL = 10 * time.Minute

const sessionIssuer = "clawlink-claim"

// ErrInvalidSessionToken is returned when a claim session token fails signature, issuer, expiry,
// or claim-token-binding checks.
var ErrInvalidSessionToken = errors.New("invalid or expired claim session token")

// State is the verifier payload associated with a claim token.
type State struct {
	AgentID        string
	Verifier       string
	ExternalHandle string
	storedAt       time.Time
}

// sessionClaims is the JWT payload binding a signed session token to its claim token (carried as
// Subject).
type sessionClaims struct {
	jwt.RegisteredClaims
}

// Store is an in-memory, mutex-protected map of claim token to State, swept lazily on access. It
// also issues and validates the HS256 session tokens handed to the claim web page.
// Grounded on the shape of a TTL-expiring pending-secret store, scoped down from Valkey-backed to
// purely process-local per spec.md §5.
type Store struct {
	mu      sync.Mutex
	entries map[string]State
	clock   clock.Clock

	jwtSecret string
	jwtTTL    time.Duration
}

// NewStore creates an empty Store. jwtSecret and jwtTTL parameterize the session tokens issued by
// IssueSessionToken.
func NewStore(clk clock.Clock, jwtSecret string, jwtTTL time.Duration) *Store {
	return &Store{
		entries:   make(map[string]State),
		clock:     clk,
		jwtSecret: jwtSecret,
		jwtTTL:    jwtTTL,
	}
}

// Put records state for token, replacing any existing entry and resetting its expiry.
func (s *Store) Put(token string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.storedAt = s.clock.Now()
	s.entries[token] = state
}

// Get returns the state for token if present and not expired. Expired or missing entries report
// ok=false and are removed from the map as a side effect.
func (s *Store) Get(token string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.entries[token]
	if !ok {
		return State{}, false
	}
	if s.clock.Now().Sub(state.storedAt) > TTL {
		delete(s.entries, token)
		return State{}, false
	}
	return state, true
}

// Delete removes token's entry, if any.
func (s *Store) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, token)
}

// Sweep removes every expired entry. Intended to be called periodically by a background task,
// though Get's lazy eviction means correctness never depends on it running.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for token, state := range s.entries {
		if now.Sub(state.storedAt) > TTL {
			delete(s.entries, token)
			removed++
		}
	}
	return removed
}

// IssueSessionToken signs a short-lived JWT bound to claimToken, handed to the client on
// GetClaim. VerifyClaim requires this same token back, so a verification can only be completed by
// whoever fetched the claim page.
func (s *Store) IssueSessionToken(claimToken string) (string, error) {
	if s.jwtSecret == "" {
		return "", fmt.Errorf("claimsession: JWT secret must not be empty")
	}

	now := s.clock.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claimToken,
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("claimsession: sign session token: %w", err)
	}
	return signed, nil
}

// ValidateSessionToken checks that sessionToken is a signature-valid, unexpired token issued by
// IssueSessionToken for claimToken.
func (s *Store) ValidateSessionToken(sessionToken, claimToken string) error {
	if sessionToken == "" {
		return ErrInvalidSessionToken
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(sessionToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	}, jwt.WithIssuer(sessionIssuer), jwt.WithTimeFunc(s.clock.Now))
	if err != nil || !token.Valid {
		return ErrInvalidSessionToken
	}
	if claims.Subject != claimToken {
		return ErrInvalidSessionToken
	}
	return nil
}
