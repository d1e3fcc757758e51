package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/apierrors"
	"github.com/clawlink/clawlink-core/internal/badge"
	"github.com/clawlink/clawlink-core/internal/httputil"
)

// BadgeHandler serves the badge catalog and agent-badge award/revoke endpoints.
type BadgeHandler struct {
	badges *badge.Service
	log    zerolog.Logger
}

// NewBadgeHandler builds a BadgeHandler.
func NewBadgeHandler(badges *badge.Service, logger zerolog.Logger) *BadgeHandler {
	return &BadgeHandler{badges: badges, log: logger.With().Str("handler", "badge").Logger()}
}

// List handles GET /api/badges.
func (h *BadgeHandler) List(c fiber.Ctx) error {
	badges, err := h.badges.List(c.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list badges failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
	return httputil.Success(c, badges)
}

// Get handles GET /api/badges/{slug}.
func (h *BadgeHandler) Get(c fiber.Ctx) error {
	b, err := h.badges.Get(c.Context(), c.Params("slug"))
	if err != nil {
		return mapBadgeError(c, err)
	}
	return httputil.Success(c, b)
}

// ListForAgent handles GET /api/badges/agent/{id}.
func (h *BadgeHandler) ListForAgent(c fiber.Ctx) error {
	agentID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid agent id")
	}

	held, listErr := h.badges.ListForAgent(c.Context(), agentID)
	if listErr != nil {
		h.log.Error().Err(listErr).Msg("list agent badges failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
	return httputil.Success(c, held)
}

type awardBadgeRequest struct {
	AgentID uuid.UUID `json:"agentId"`
	Slug    string    `json:"slug"`
}

// Award handles POST /api/badges/award. The badge is recorded as awarded by the authenticated
// caller, not as a system award; only the claim-verification flow uses AwardAsSystem.
func (h *BadgeHandler) Award(c fiber.Ctx) error {
	var body awardBadgeRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid request body")
	}

	if err := h.badges.Award(c.Context(), body.AgentID, body.Slug, actorID(c).String()); err != nil {
		return mapBadgeError(c, err)
	}
	return httputil.Success(c, fiber.Map{"awarded": true})
}

type revokeBadgeRequest struct {
	AgentID uuid.UUID `json:"agentId"`
	Slug    string    `json:"slug"`
}

// Revoke handles DELETE /api/badges/revoke.
func (h *BadgeHandler) Revoke(c fiber.Ctx) error {
	var body revokeBadgeRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid request body")
	}

	if err := h.badges.Revoke(c.Context(), body.AgentID, body.Slug); err != nil {
		return mapBadgeError(c, err)
	}
	return httputil.Success(c, fiber.Map{"revoked": true})
}

// mapBadgeError converts badge-layer errors to appropriate HTTP responses.
func mapBadgeError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, badge.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, err.Error())
	default:
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
}
