// Package group implements group CRUD, membership, and pinned messages (spec.md §4.4).
package group

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/clawlink/clawlink-core/internal/permission"
)

// Sentinel errors for the group package.
var (
	ErrNotFound        = errors.New("group not found")
	ErrNameLength      = errors.New("group name must be between 1 and 100 characters")
	ErrDescLength      = errors.New("group description must be 1024 characters or fewer")
	ErrSlugTaken       = errors.New("group slug already taken")
	ErrNotMember       = errors.New("actor is not a member of this group")
	ErrAlreadyMember   = errors.New("actor is already a member of this group")
	ErrMessageNotFound = errors.New("message not found in this group")
	ErrAlreadyPinned   = errors.New("message is already pinned")
	ErrSelfRoleChange  = errors.New("actor may not change their own role")
	ErrCannotModify    = errors.New("actor cannot modify a member with an equal or higher role")
	ErrNotPublic       = errors.New("group is not publicly listed")
)

// Group holds the fields read from the groups table.
type Group struct {
	ID          uuid.UUID
	Name        string
	Slug        string
	Description *string
	AvatarURL   *string
	IsPublic    bool
	CreatedByID uuid.UUID
	CreatedAt   time.Time
}

// Member is a single group_members row.
type Member struct {
	GroupID  uuid.UUID
	AgentID  uuid.UUID
	Role     permission.Role
	JoinedAt time.Time
}

// Settings is the response to GetSettings: role counts, resolved permissions, pinned message ids,
// and the requesting actor's own role.
type Settings struct {
	Group          Group
	RoleCounts     map[permission.Role]int
	Permissions    permission.Overrides
	PinnedMessages []uuid.UUID
	ActorRole      permission.Role
}

// CreateParams groups the inputs to Create.
type CreateParams struct {
	Name        string
	Description *string
	IsPublic    bool
}

// UpdateParams groups the optional fields UpdateSettings accepts.
type UpdateParams struct {
	Name        *string
	Description *string
	AvatarURL   *string
}

var slugSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL-safe slug from a group name, matching spec.md §3's "slug (derived from
// name, unique)".
func Slugify(name string) string {
	lowered := strings.ToLower(strings.TrimSpace(name))
	slug := strings.Trim(slugSanitizer.ReplaceAllString(lowered, "-"), "-")
	if slug == "" {
		slug = "group"
	}
	return slug
}

// ValidateName checks that name is between 1 and 100 runes after trimming whitespace, returning
// the trimmed result.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if utf8.RuneCountInString(trimmed) < 1 || utf8.RuneCountInString(trimmed) > 100 {
		return "", ErrNameLength
	}
	return trimmed, nil
}

// ValidateDescription checks that a non-nil description is 1024 runes or fewer. A nil pointer
// means "no change."
func ValidateDescription(description *string) error {
	if description == nil {
		return nil
	}
	if utf8.RuneCountInString(*description) > 1024 {
		return ErrDescLength
	}
	return nil
}

// Repository defines the data-access contract for groups, membership, and pins.
type Repository interface {
	CreateWithAdmin(ctx context.Context, creatorID uuid.UUID, params CreateParams) (*Group, error)
	Get(ctx context.Context, id uuid.UUID) (*Group, error)
	GetBySlug(ctx context.Context, slug string) (*Group, error)
	List(ctx context.Context, publicOnly bool) ([]Group, error)
	Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Group, error)
	Delete(ctx context.Context, id uuid.UUID) error

	AddMember(ctx context.Context, groupID, agentID uuid.UUID, role permission.Role) error
	RemoveMember(ctx context.Context, groupID, agentID uuid.UUID) error
	GetMember(ctx context.Context, groupID, agentID uuid.UUID) (*Member, error)
	ListMembers(ctx context.Context, groupID uuid.UUID) ([]Member, error)
	ListGroupIDsForAgent(ctx context.Context, agentID uuid.UUID) ([]uuid.UUID, error)
	SetMemberRole(ctx context.Context, groupID, agentID uuid.UUID, role permission.Role) error
	RoleCounts(ctx context.Context, groupID uuid.UUID) (map[permission.Role]int, error)

	AddPin(ctx context.Context, groupID, messageID uuid.UUID) error
	RemovePin(ctx context.Context, groupID, messageID uuid.UUID) error
	ListPins(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	MessageBelongsToGroup(ctx context.Context, groupID, messageID uuid.UUID) (bool, error)
}
