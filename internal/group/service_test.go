package group

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/events"
	"github.com/clawlink/clawlink-core/internal/permission"
)

type fakeRepository struct {
	groups      map[uuid.UUID]*Group
	members     map[uuid.UUID]map[uuid.UUID]*Member
	pins        map[uuid.UUID][]uuid.UUID
	messageGrps map[uuid.UUID]uuid.UUID
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		groups:      make(map[uuid.UUID]*Group),
		members:     make(map[uuid.UUID]map[uuid.UUID]*Member),
		pins:        make(map[uuid.UUID][]uuid.UUID),
		messageGrps: make(map[uuid.UUID]uuid.UUID),
	}
}

func (r *fakeRepository) CreateWithAdmin(_ context.Context, creatorID uuid.UUID, params CreateParams) (*Group, error) {
	g := &Group{
		ID:          uuid.New(),
		Name:        params.Name,
		Slug:        Slugify(params.Name),
		Description: params.Description,
		IsPublic:    params.IsPublic,
		CreatedByID: creatorID,
		CreatedAt:   time.Now(),
	}
	r.groups[g.ID] = g
	r.members[g.ID] = map[uuid.UUID]*Member{
		creatorID: {GroupID: g.ID, AgentID: creatorID, Role: permission.RoleAdmin, JoinedAt: time.Now()},
	}
	return g, nil
}

func (r *fakeRepository) Get(_ context.Context, id uuid.UUID) (*Group, error) {
	g, ok := r.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	return g, nil
}

func (r *fakeRepository) GetBySlug(_ context.Context, slug string) (*Group, error) {
	for _, g := range r.groups {
		if g.Slug == slug {
			return g, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeRepository) List(_ context.Context, publicOnly bool) ([]Group, error) {
	var out []Group
	for _, g := range r.groups {
		if publicOnly && !g.IsPublic {
			continue
		}
		out = append(out, *g)
	}
	return out, nil
}

func (r *fakeRepository) Update(_ context.Context, id uuid.UUID, params UpdateParams) (*Group, error) {
	g, ok := r.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	if params.Name != nil {
		g.Name = *params.Name
	}
	if params.Description != nil {
		g.Description = params.Description
	}
	if params.AvatarURL != nil {
		g.AvatarURL = params.AvatarURL
	}
	return g, nil
}

func (r *fakeRepository) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.groups[id]; !ok {
		return ErrNotFound
	}
	delete(r.groups, id)
	delete(r.members, id)
	return nil
}

func (r *fakeRepository) AddMember(_ context.Context, groupID, agentID uuid.UUID, role permission.Role) error {
	if _, ok := r.members[groupID]; !ok {
		r.members[groupID] = make(map[uuid.UUID]*Member)
	}
	if _, exists := r.members[groupID][agentID]; exists {
		return ErrAlreadyMember
	}
	r.members[groupID][agentID] = &Member{GroupID: groupID, AgentID: agentID, Role: role, JoinedAt: time.Now()}
	return nil
}

func (r *fakeRepository) RemoveMember(_ context.Context, groupID, agentID uuid.UUID) error {
	if _, ok := r.members[groupID][agentID]; !ok {
		return ErrNotFound
	}
	delete(r.members[groupID], agentID)
	return nil
}

func (r *fakeRepository) GetMember(_ context.Context, groupID, agentID uuid.UUID) (*Member, error) {
	m, ok := r.members[groupID][agentID]
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

func (r *fakeRepository) ListMembers(_ context.Context, groupID uuid.UUID) ([]Member, error) {
	var out []Member
	for _, m := range r.members[groupID] {
		out = append(out, *m)
	}
	return out, nil
}

func (r *fakeRepository) ListGroupIDsForAgent(_ context.Context, agentID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for groupID, members := range r.members {
		if _, ok := members[agentID]; ok {
			out = append(out, groupID)
		}
	}
	return out, nil
}

func (r *fakeRepository) SetMemberRole(_ context.Context, groupID, agentID uuid.UUID, role permission.Role) error {
	m, ok := r.members[groupID][agentID]
	if !ok {
		return ErrNotFound
	}
	m.Role = role
	return nil
}

func (r *fakeRepository) RoleCounts(_ context.Context, groupID uuid.UUID) (map[permission.Role]int, error) {
	counts := make(map[permission.Role]int)
	for _, m := range r.members[groupID] {
		counts[m.Role]++
	}
	return counts, nil
}

func (r *fakeRepository) AddPin(_ context.Context, groupID, messageID uuid.UUID) error {
	r.pins[groupID] = append(r.pins[groupID], messageID)
	return nil
}

func (r *fakeRepository) RemovePin(_ context.Context, groupID, messageID uuid.UUID) error {
	var out []uuid.UUID
	for _, id := range r.pins[groupID] {
		if id != messageID {
			out = append(out, id)
		}
	}
	r.pins[groupID] = out
	return nil
}

func (r *fakeRepository) ListPins(_ context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	return r.pins[groupID], nil
}

func (r *fakeRepository) MessageBelongsToGroup(_ context.Context, groupID, messageID uuid.UUID) (bool, error) {
	belongsTo, ok := r.messageGrps[messageID]
	return ok && belongsTo == groupID, nil
}

// fakePermStore implements permission.Store for unit tests.
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
	if err := permission.ValidateOverrides(overrides); err != nil {
		return err
	}
	s.overrides[groupID] = overrides
	return nil
}

// fakePublisher implements Publisher for unit tests.
type fakePublisher struct {
	published []events.Envelope
}

func (p *fakePublisher) PublishToGroup(_ context.Context, _ uuid.UUID, env events.Envelope) error {
	p.published = append(p.published, env)
	return nil
}

func (p *fakePublisher) PublishToAll(_ context.Context, env events.Envelope) error {
	p.published = append(p.published, env)
	return nil
}

func newTestService(repo Repository, perms permission.Store, publisher Publisher) *Service {
	evaluator := permission.NewEvaluator(NewMemberRoles(repo), perms, nil, zerolog.Nop())
	return NewService(repo, perms, evaluator, publisher, zerolog.Nop())
}

func TestService_Create(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	publisher := &fakePublisher{}
	svc := newTestService(repo, newFakePermStore(), publisher)

	creator := uuid.New()
	g, err := svc.Create(context.Background(), creator, CreateParams{Name: "Night Owls"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if g.Slug != "night-owls" {
		t.Errorf("Slug = %q, want night-owls", g.Slug)
	}
	member, err := repo.GetMember(context.Background(), g.ID, creator)
	if err != nil {
		t.Fatalf("GetMember() error = %v", err)
	}
	if member.Role != permission.RoleAdmin {
		t.Errorf("creator role = %v, want admin", member.Role)
	}
	if len(publisher.published) != 1 || publisher.published[0].Kind != events.KindGroupCreated {
		t.Errorf("published = %v, want one group:created event", publisher.published)
	}
}

func TestService_Join_alreadyMember(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	svc := newTestService(repo, newFakePermStore(), &fakePublisher{})

	ctx := context.Background()
	creator := uuid.New()
	g, _ := svc.Create(ctx, creator, CreateParams{Name: "Test"})

	if err := svc.Join(ctx, g.ID, creator); !errors.Is(err, ErrAlreadyMember) {
		t.Errorf("Join() error = %v, want ErrAlreadyMember", err)
	}
}

func TestService_Leave(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	svc := newTestService(repo, newFakePermStore(), &fakePublisher{})

	ctx := context.Background()
	creator := uuid.New()
	g, _ := svc.Create(ctx, creator, CreateParams{Name: "Test"})

	joiner := uuid.New()
	if err := svc.Join(ctx, g.ID, joiner); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if err := svc.Leave(ctx, g.ID, joiner); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if _, err := repo.GetMember(ctx, g.ID, joiner); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMember() after Leave error = %v, want ErrNotFound", err)
	}
}

func TestService_SetMemberRole_selfDenied(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	svc := newTestService(repo, newFakePermStore(), &fakePublisher{})

	ctx := context.Background()
	creator := uuid.New()
	g, _ := svc.Create(ctx, creator, CreateParams{Name: "Test"})

	err := svc.SetMemberRole(ctx, g.ID, creator, creator, permission.RoleModerator)
	if !errors.Is(err, ErrSelfRoleChange) {
		t.Errorf("SetMemberRole() error = %v, want ErrSelfRoleChange", err)
	}
}

func TestService_SetMemberRole_cannotPromoteAboveSelf(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	svc := newTestService(repo, newFakePermStore(), &fakePublisher{})

	ctx := context.Background()
	admin := uuid.New()
	g, _ := svc.Create(ctx, admin, CreateParams{Name: "Test"})

	moderator := uuid.New()
	if err := svc.Join(ctx, g.ID, moderator); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if err := svc.SetMemberRole(ctx, g.ID, admin, moderator, permission.RoleModerator); err != nil {
		t.Fatalf("promote to moderator error = %v", err)
	}

	other := uuid.New()
	if err := svc.Join(ctx, g.ID, other); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	// moderator cannot promote other to admin: canModifyRole(moderator, admin) is false.
	err := svc.SetMemberRole(ctx, g.ID, moderator, other, permission.RoleAdmin)
	if !errors.Is(err, ErrCannotModify) {
		t.Errorf("SetMemberRole() error = %v, want ErrCannotModify", err)
	}
}

func TestService_Delete_requiresAdmin(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	svc := newTestService(repo, newFakePermStore(), &fakePublisher{})

	ctx := context.Background()
	admin := uuid.New()
	g, _ := svc.Create(ctx, admin, CreateParams{Name: "Test"})

	member := uuid.New()
	if err := svc.Join(ctx, g.ID, member); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	if err := svc.Delete(ctx, g.ID, member); !errors.Is(err, permission.ErrForbidden) {
		t.Errorf("Delete() by member error = %v, want ErrForbidden", err)
	}
	if err := svc.Delete(ctx, g.ID, admin); err != nil {
		t.Errorf("Delete() by admin error = %v", err)
	}
}

func TestService_UpdatePermissions_deleteGroupLocked(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	svc := newTestService(repo, newFakePermStore(), &fakePublisher{})

	ctx := context.Background()
	admin := uuid.New()
	g, _ := svc.Create(ctx, admin, CreateParams{Name: "Test"})

	err := svc.UpdatePermissions(ctx, g.ID, admin, permission.Overrides{
		permission.ActionDeleteGroup: permission.RoleModerator,
	})
	if !errors.Is(err, permission.ErrDeleteGroupLocked) {
		t.Errorf("UpdatePermissions() error = %v, want ErrDeleteGroupLocked", err)
	}
}

func TestService_GetSettings(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	svc := newTestService(repo, newFakePermStore(), &fakePublisher{})

	ctx := context.Background()
	admin := uuid.New()
	g, _ := svc.Create(ctx, admin, CreateParams{Name: "Test"})

	settings, err := svc.GetSettings(ctx, g.ID, admin)
	if err != nil {
		t.Fatalf("GetSettings() error = %v", err)
	}
	if settings.ActorRole != permission.RoleAdmin {
		t.Errorf("ActorRole = %v, want admin", settings.ActorRole)
	}
	if settings.RoleCounts[permission.RoleAdmin] != 1 {
		t.Errorf("RoleCounts[admin] = %d, want 1", settings.RoleCounts[permission.RoleAdmin])
	}
}

func TestService_GetSettings_nonMemberDenied(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	svc := newTestService(repo, newFakePermStore(), &fakePublisher{})

	ctx := context.Background()
	admin := uuid.New()
	g, _ := svc.Create(ctx, admin, CreateParams{Name: "Test"})

	_, err := svc.GetSettings(ctx, g.ID, uuid.New())
	if !errors.Is(err, ErrNotMember) {
		t.Errorf("GetSettings() error = %v, want ErrNotMember", err)
	}
}
