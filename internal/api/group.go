package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/apierrors"
	"github.com/clawlink/clawlink-core/internal/group"
	"github.com/clawlink/clawlink-core/internal/httputil"
	"github.com/clawlink/clawlink-core/internal/permission"
)

// GroupHandler serves group CRUD, membership, roles, permissions, and pin endpoints.
type GroupHandler struct {
	groups *group.Service
	log    zerolog.Logger
}

// NewGroupHandler builds a GroupHandler.
func NewGroupHandler(groups *group.Service, logger zerolog.Logger) *GroupHandler {
	return &GroupHandler{groups: groups, log: logger.With().Str("handler", "group").Logger()}
}

type createGroupRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	IsPublic    bool    `json:"isPublic"`
}

// Create handles POST /api/groups.
func (h *GroupHandler) Create(c fiber.Ctx) error {
	var body createGroupRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid request body")
	}

	g, err := h.groups.Create(c.Context(), actorID(c), group.CreateParams{
		Name:        body.Name,
		Description: body.Description,
		IsPublic:    body.IsPublic,
	})
	if err != nil {
		return mapGroupError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, g)
}

// List handles GET /api/groups.
func (h *GroupHandler) List(c fiber.Ctx) error {
	publicOnly := c.Query("public") == "true"

	groups, err := h.groups.List(c.Context(), publicOnly)
	if err != nil {
		h.log.Error().Err(err).Msg("list groups failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
	return httputil.Success(c, groups)
}

// Get handles GET /api/groups/{id}.
func (h *GroupHandler) Get(c fiber.Ctx) error {
	id, err := parseGroupID(c)
	if err != nil {
		return err
	}

	g, getErr := h.groups.Get(c.Context(), id)
	if getErr != nil {
		return mapGroupError(c, getErr)
	}
	return httputil.Success(c, g)
}

// GetSettings handles GET /api/groups/{id}/settings.
func (h *GroupHandler) GetSettings(c fiber.Ctx) error {
	id, err := parseGroupID(c)
	if err != nil {
		return err
	}

	settings, getErr := h.groups.GetSettings(c.Context(), id, actorID(c))
	if getErr != nil {
		return mapGroupError(c, getErr)
	}
	return httputil.Success(c, settings)
}

type updateGroupRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	AvatarURL   *string `json:"avatarUrl"`
}

// UpdateSettings handles PATCH /api/groups/{id}/settings.
func (h *GroupHandler) UpdateSettings(c fiber.Ctx) error {
	id, err := parseGroupID(c)
	if err != nil {
		return err
	}

	var body updateGroupRequest
	if bindErr := c.Bind().Body(&body); bindErr != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid request body")
	}

	g, updateErr := h.groups.UpdateSettings(c.Context(), id, actorID(c), group.UpdateParams{
		Name:        body.Name,
		Description: body.Description,
		AvatarURL:   body.AvatarURL,
	})
	if updateErr != nil {
		return mapGroupError(c, updateErr)
	}
	return httputil.Success(c, g)
}

// UpdatePermissions handles PUT /api/groups/{id}/permissions.
func (h *GroupHandler) UpdatePermissions(c fiber.Ctx) error {
	id, err := parseGroupID(c)
	if err != nil {
		return err
	}

	var overrides permission.Overrides
	if bindErr := c.Bind().Body(&overrides); bindErr != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid request body")
	}

	if updateErr := h.groups.UpdatePermissions(c.Context(), id, actorID(c), overrides); updateErr != nil {
		return mapGroupError(c, updateErr)
	}
	return httputil.Success(c, fiber.Map{"updated": true})
}

// Delete handles DELETE /api/groups/{id}.
func (h *GroupHandler) Delete(c fiber.Ctx) error {
	id, err := parseGroupID(c)
	if err != nil {
		return err
	}

	if deleteErr := h.groups.Delete(c.Context(), id, actorID(c)); deleteErr != nil {
		return mapGroupError(c, deleteErr)
	}
	return httputil.Success(c, fiber.Map{"deleted": true})
}

// Join handles POST /api/groups/{id}/join.
func (h *GroupHandler) Join(c fiber.Ctx) error {
	id, err := parseGroupID(c)
	if err != nil {
		return err
	}

	if joinErr := h.groups.Join(c.Context(), id, actorID(c)); joinErr != nil {
		return mapGroupError(c, joinErr)
	}
	return httputil.Success(c, fiber.Map{"joined": true})
}

// Leave handles POST /api/groups/{id}/leave.
func (h *GroupHandler) Leave(c fiber.Ctx) error {
	id, err := parseGroupID(c)
	if err != nil {
		return err
	}

	if leaveErr := h.groups.Leave(c.Context(), id, actorID(c)); leaveErr != nil {
		return mapGroupError(c, leaveErr)
	}
	return httputil.Success(c, fiber.Map{"left": true})
}

// RemoveMember handles DELETE /api/groups/{id}/members/{agentId}.
func (h *GroupHandler) RemoveMember(c fiber.Ctx) error {
	id, err := parseGroupID(c)
	if err != nil {
		return err
	}
	targetID, err := uuid.Parse(c.Params("agentId"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid agent id")
	}

	if removeErr := h.groups.RemoveMember(c.Context(), id, actorID(c), targetID); removeErr != nil {
		return mapGroupError(c, removeErr)
	}
	return httputil.Success(c, fiber.Map{"removed": true})
}

type setRoleRequest struct {
	Role string `json:"role"`
}

// SetMemberRole handles PATCH /api/groups/{id}/members/{agentId}/role.
func (h *GroupHandler) SetMemberRole(c fiber.Ctx) error {
	id, err := parseGroupID(c)
	if err != nil {
		return err
	}
	targetID, err := uuid.Parse(c.Params("agentId"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid agent id")
	}

	var body setRoleRequest
	if bindErr := c.Bind().Body(&body); bindErr != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid request body")
	}

	if roleErr := h.groups.SetMemberRole(c.Context(), id, actorID(c), targetID, permission.Role(body.Role)); roleErr != nil {
		return mapGroupError(c, roleErr)
	}
	return httputil.Success(c, fiber.Map{"updated": true})
}

// Pin handles POST /api/groups/{id}/messages/{mid}/pin.
func (h *GroupHandler) Pin(c fiber.Ctx) error {
	id, err := parseGroupID(c)
	if err != nil {
		return err
	}
	messageID, err := uuid.Parse(c.Params("mid"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid message id")
	}

	if pinErr := h.groups.Pin(c.Context(), id, actorID(c), messageID); pinErr != nil {
		return mapGroupError(c, pinErr)
	}
	return httputil.Success(c, fiber.Map{"pinned": true})
}

// Unpin handles DELETE /api/groups/{id}/messages/{mid}/pin.
func (h *GroupHandler) Unpin(c fiber.Ctx) error {
	id, err := parseGroupID(c)
	if err != nil {
		return err
	}
	messageID, err := uuid.Parse(c.Params("mid"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid message id")
	}

	if unpinErr := h.groups.Unpin(c.Context(), id, actorID(c), messageID); unpinErr != nil {
		return mapGroupError(c, unpinErr)
	}
	return httputil.Success(c, fiber.Map{"unpinned": true})
}

func parseGroupID(c fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid group id")
	}
	return id, nil
}

// mapGroupError converts group-layer errors to appropriate HTTP responses.
func mapGroupError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, group.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, err.Error())
	case errors.Is(err, group.ErrNotPublic):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, err.Error())
	case errors.Is(err, group.ErrNameLength),
		errors.Is(err, group.ErrDescLength):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, err.Error())
	case errors.Is(err, group.ErrSlugTaken):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.Conflict, err.Error())
	case errors.Is(err, group.ErrNotMember):
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.Forbidden, err.Error())
	case errors.Is(err, group.ErrAlreadyMember):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.Conflict, err.Error())
	case errors.Is(err, group.ErrMessageNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, err.Error())
	case errors.Is(err, group.ErrAlreadyPinned):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.Conflict, err.Error())
	case errors.Is(err, group.ErrSelfRoleChange),
		errors.Is(err, group.ErrCannotModify):
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.Forbidden, err.Error())
	case errors.Is(err, permission.ErrForbidden):
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.Forbidden, err.Error())
	case errors.Is(err, permission.ErrInvalidRole):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, err.Error())
	case errors.Is(err, permission.ErrDeleteGroupLocked):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, err.Error())
	default:
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
}
