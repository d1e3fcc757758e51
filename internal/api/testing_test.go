package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/clock"
	"github.com/clawlink/clawlink-core/internal/events"
	"github.com/clawlink/clawlink-core/internal/group"
	"github.com/clawlink/clawlink-core/internal/identity"
	"github.com/clawlink/clawlink-core/internal/permission"
)

// testTimeout extends app.Test()'s default deadline, matching the margin the teacher's own
// handler tests use under the race detector.
var testTimeout = fiber.TestConfig{Timeout: 10 * time.Second}

// successEnvelope and errorEnvelope mirror httputil's (unexported) response shapes for test
// assertions.
type successEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func jsonReq(method, url, body string) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func authedReq(method, url, body, apiKey string) *http.Request {
	req := jsonReq(method, url, body)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	return req
}

func doReq(t *testing.T, app *fiber.App, req *http.Request) *http.Response {
	t.Helper()
	resp, err := app.Test(req, testTimeout)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return b
}

func parseSuccess(t *testing.T, body []byte) successEnvelope {
	t.Helper()
	var env successEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal success response %q: %v", string(body), err)
	}
	return env
}

func parseError(t *testing.T, body []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal error response %q: %v", string(body), err)
	}
	return env
}

// fixedClock is a deterministic clock.Clock for handler tests.
type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func testClock() clock.Clock {
	return fixedClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// testJWTSecret is a fixed, adequately long secret for claimsession.NewStore in handler tests.
const testJWTSecret = "handler-test-jwt-secret-needs-32-chars"

// fakeIdentityRepo implements identity.Repository in memory, for handler tests that need a real
// *identity.Service wired to RequireAuth without a database.
type fakeIdentityRepo struct {
	byID      map[uuid.UUID]*identity.Agent
	byHandle  map[string]uuid.UUID
	byKeyHash map[string]uuid.UUID
	byToken   map[string]uuid.UUID
}

func newFakeIdentityRepo() *fakeIdentityRepo {
	return &fakeIdentityRepo{
		byID:      make(map[uuid.UUID]*identity.Agent),
		byHandle:  make(map[string]uuid.UUID),
		byKeyHash: make(map[string]uuid.UUID),
		byToken:   make(map[string]uuid.UUID),
	}
}

func (r *fakeIdentityRepo) Create(_ context.Context, params identity.CreateParams) (*identity.Agent, error) {
	if _, exists := r.byHandle[params.Handle]; exists {
		return nil, identity.ErrDuplicateHandle
	}
	now := time.Now()
	claimToken := params.ClaimToken
	agent := &identity.Agent{
		ID:               uuid.New(),
		Name:             params.Name,
		Handle:           params.Handle,
		Bio:              params.Bio,
		APIKeyHash:       params.APIKeyHash,
		ClaimToken:       &claimToken,
		VerificationCode: &params.VerificationCode,
		LastSeen:         now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.byID[agent.ID] = agent
	r.byHandle[agent.Handle] = agent.ID
	r.byKeyHash[agent.APIKeyHash] = agent.ID
	r.byToken[claimToken] = agent.ID
	return agent, nil
}

func (r *fakeIdentityRepo) GetByID(_ context.Context, id uuid.UUID) (*identity.Agent, error) {
	agent, ok := r.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return agent, nil
}

func (r *fakeIdentityRepo) GetByHandle(_ context.Context, handle string) (*identity.Agent, error) {
	id, ok := r.byHandle[handle]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *fakeIdentityRepo) GetByClaimToken(_ context.Context, token string) (*identity.Agent, error) {
	id, ok := r.byToken[token]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *fakeIdentityRepo) GetByAPIKeyHash(_ context.Context, keyHash string) (*identity.Agent, error) {
	id, ok := r.byKeyHash[keyHash]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *fakeIdentityRepo) List(_ context.Context, onlineOnly bool) ([]identity.Agent, error) {
	var out []identity.Agent
	for _, a := range r.byID {
		if onlineOnly && !a.IsOnline {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (r *fakeIdentityRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]identity.Agent, error) {
	var out []identity.Agent
	for _, id := range ids {
		if a, ok := r.byID[id]; ok {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeIdentityRepo) Update(_ context.Context, id uuid.UUID, params identity.UpdateParams) (*identity.Agent, error) {
	agent, ok := r.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	if params.Name != nil {
		agent.Name = *params.Name
	}
	if params.Bio != nil {
		agent.Bio = params.Bio
	}
	return agent, nil
}

func (r *fakeIdentityRepo) SetAvatarURL(_ context.Context, id uuid.UUID, url string) (*identity.Agent, error) {
	agent, ok := r.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	agent.AvatarURL = &url
	return agent, nil
}

func (r *fakeIdentityRepo) SetBirthdate(_ context.Context, id uuid.UUID, birthdate time.Time) (*identity.Agent, error) {
	agent, ok := r.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	agent.Birthdate = &birthdate
	return agent, nil
}

func (r *fakeIdentityRepo) SetOwnerName(_ context.Context, id uuid.UUID, ownerName string) (*identity.Agent, error) {
	agent, ok := r.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	agent.OwnerName = &ownerName
	return agent, nil
}

func (r *fakeIdentityRepo) MarkClaimed(_ context.Context, id uuid.UUID, claimedBy string, claimedByExternalID *string) (*identity.Agent, error) {
	agent, ok := r.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	agent.Claimed = true
	agent.ClaimedBy = &claimedBy
	agent.ClaimedByExternalID = claimedByExternalID
	return agent, nil
}

func (r *fakeIdentityRepo) TouchPresence(_ context.Context, id uuid.UUID, online bool, lastSeen time.Time) error {
	agent, ok := r.byID[id]
	if !ok {
		return identity.ErrNotFound
	}
	agent.IsOnline = online
	agent.LastSeen = lastSeen
	return nil
}

// fakeBadgeAwarder is a no-op identity.BadgeAwarder.
type fakeBadgeAwarder struct{}

func (fakeBadgeAwarder) Award(_ context.Context, _ uuid.UUID, _ string) error { return nil }

// newTestIdentityService builds a real *identity.Service backed by in-memory fakes, so handlers
// exercising RequireAuth can run without a database.
func newTestIdentityService() (*identity.Service, *fakeIdentityRepo) {
	repo := newFakeIdentityRepo()
	svc := identity.NewService(repo, identity.DevModeVerification{}, nil, fakeBadgeAwarder{}, "https://clawlink.example/claim", testClock(), zerolog.Nop())
	return svc, repo
}

// registerTestAgent registers an agent through svc and returns its id and raw API key, for use
// as an Authorization: Bearer header in handler tests.
func registerTestAgent(svc *identity.Service, handle string) (uuid.UUID, string) {
	result, err := svc.Register(context.Background(), "Test Agent", handle, nil)
	if err != nil {
		panic(err)
	}
	return result.Agent.ID, result.APIKey
}

// fakePermStore is an in-memory permission.Store that keeps overrides per group, without validation.
type fakePermStore struct {
	overrides map[uuid.UUID]permission.Overrides
}

func newFakePermStore() *fakePermStore {
	return &fakePermStore{overrides: make(map[uuid.UUID]permission.Overrides)}
}

func (s *fakePermStore) GetOverrides(_ context.Context, groupID uuid.UUID) (permission.Overrides, error) {
	return s.overrides[groupID], nil
}

func (s *fakePermStore) SetOverrides(_ context.Context, groupID uuid.UUID, overrides permission.Overrides) error {
	s.overrides[groupID] = overrides
	return nil
}

// newTestGroupService builds a real *group.Service backed by an in-memory repository, evaluator,
// and no-op publisher.
func newTestGroupService(repo group.Repository) *group.Service {
	memberRoles := group.NewMemberRoles(repo)
	evaluator := permission.NewEvaluator(memberRoles, newFakePermStore(), nil, zerolog.Nop())
	return group.NewService(repo, newFakePermStore(), evaluator, groupPublisherAdapter{}, zerolog.Nop())
}

// groupPublisherAdapter satisfies group.Publisher with no-op fan-out, for tests that don't
// assert on realtime delivery.
type groupPublisherAdapter struct{}

func (groupPublisherAdapter) PublishToGroup(_ context.Context, _ uuid.UUID, _ events.Envelope) error {
	return nil
}
func (groupPublisherAdapter) PublishToAll(_ context.Context, _ events.Envelope) error {
	return nil
}
