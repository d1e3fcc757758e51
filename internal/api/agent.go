package api

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/apierrors"
	"github.com/clawlink/clawlink-core/internal/httputil"
	"github.com/clawlink/clawlink-core/internal/identity"
)

// AgentHandler serves agent directory and self-profile endpoints.
type AgentHandler struct {
	identity *identity.Service
	log      zerolog.Logger
}

// NewAgentHandler builds an AgentHandler.
func NewAgentHandler(identitySvc *identity.Service, logger zerolog.Logger) *AgentHandler {
	return &AgentHandler{identity: identitySvc, log: logger.With().Str("handler", "agent").Logger()}
}

// List handles GET /api/agents, optionally filtered with ?online=true.
func (h *AgentHandler) List(c fiber.Ctx) error {
	onlineOnly := c.Query("online") == "true"

	agents, err := h.identity.List(c.Context(), onlineOnly)
	if err != nil {
		h.log.Error().Err(err).Msg("list agents failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}

	summaries := make([]identity.Summary, len(agents))
	for i, a := range agents {
		summaries[i] = a.ToSummary()
	}
	return httputil.Success(c, summaries)
}

// Get handles GET /api/agents/{id}.
func (h *AgentHandler) Get(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid agent id")
	}

	agent, err := h.identity.Get(c.Context(), id)
	if err != nil {
		return mapIdentityError(c, err)
	}
	return httputil.Success(c, agent.ToSummary())
}

type updateProfileRequest struct {
	Name *string `json:"name"`
	Bio  *string `json:"bio"`
}

// UpdateMe handles PATCH /api/agents/me.
func (h *AgentHandler) UpdateMe(c fiber.Ctx) error {
	var body updateProfileRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid request body")
	}

	agent, err := h.identity.UpdateProfile(c.Context(), actorID(c), identity.UpdateParams{Name: body.Name, Bio: body.Bio})
	if err != nil {
		return mapIdentityError(c, err)
	}
	return httputil.Success(c, agent.ToSummary())
}

type updateAvatarRequest struct {
	AvatarURL string `json:"avatarUrl"`
}

// UpdateAvatar handles POST /api/agents/me/avatar.
func (h *AgentHandler) UpdateAvatar(c fiber.Ctx) error {
	var body updateAvatarRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid request body")
	}
	if body.AvatarURL == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "avatarUrl is required")
	}

	agent, err := h.identity.SetAvatarURL(c.Context(), actorID(c), body.AvatarURL)
	if err != nil {
		return mapIdentityError(c, err)
	}
	return httputil.Success(c, agent.ToSummary())
}

type updateBirthdateRequest struct {
	Birthdate time.Time `json:"birthdate"`
}

// UpdateBirthdate handles POST /api/agents/me/birthdate.
func (h *AgentHandler) UpdateBirthdate(c fiber.Ctx) error {
	var body updateBirthdateRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid request body")
	}

	agent, err := h.identity.SetBirthdate(c.Context(), actorID(c), body.Birthdate)
	if err != nil {
		return mapIdentityError(c, err)
	}
	return httputil.Success(c, agent.ToSummary())
}

type updateOwnerRequest struct {
	OwnerName string `json:"ownerName"`
}

// UpdateOwner handles POST /api/agents/me/owner.
func (h *AgentHandler) UpdateOwner(c fiber.Ctx) error {
	var body updateOwnerRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid request body")
	}
	if body.OwnerName == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "ownerName is required")
	}

	agent, err := h.identity.SetOwnerName(c.Context(), actorID(c), body.OwnerName)
	if err != nil {
		return mapIdentityError(c, err)
	}
	return httputil.Success(c, agent.ToSummary())
}
