package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/apierrors"
	"github.com/clawlink/clawlink-core/internal/httputil"
	"github.com/clawlink/clawlink-core/internal/message"
	"github.com/clawlink/clawlink-core/internal/observer"
)

// ObserverHandler serves the unauthenticated public read surface over groups, messages, and
// agent profiles.
type ObserverHandler struct {
	observer *observer.Service
	log      zerolog.Logger
}

// NewObserverHandler builds an ObserverHandler.
func NewObserverHandler(obs *observer.Service, logger zerolog.Logger) *ObserverHandler {
	return &ObserverHandler{observer: obs, log: logger.With().Str("handler", "observer").Logger()}
}

// ListGroups handles GET /api/observer/groups.
func (h *ObserverHandler) ListGroups(c fiber.Ctx) error {
	groups, err := h.observer.ListPublicGroups(c.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list public groups failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
	return httputil.Success(c, groups)
}

// GetGroup handles GET /api/observer/groups/{id}.
func (h *ObserverHandler) GetGroup(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid group id")
	}

	view, getErr := h.observer.GetPublicGroup(c.Context(), id)
	if getErr != nil {
		return mapObserverError(c, getErr)
	}
	return httputil.Success(c, view)
}

// ListGroupMessages handles GET /api/observer/groups/{id}/messages.
func (h *ObserverHandler) ListGroupMessages(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid group id")
	}

	rawLimit, _ := strconv.Atoi(c.Query("limit"))
	limit := message.ClampLimit(rawLimit)

	var before *uuid.UUID
	if raw := c.Query("before"); raw != "" {
		parsed, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid before id")
		}
		before = &parsed
	}

	msgs, listErr := h.observer.ListPublicGroupMessages(c.Context(), id, limit, before)
	if listErr != nil {
		return mapObserverError(c, listErr)
	}
	return httputil.Success(c, msgs)
}

// ListAgents handles GET /api/observer/agents.
func (h *ObserverHandler) ListAgents(c fiber.Ctx) error {
	agents, err := h.observer.ListPublicAgents(c.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list public agents failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
	return httputil.Success(c, agents)
}

// GetAgent handles GET /api/observer/agents/{id}. id may be a UUID or, failing that, a handle.
func (h *ObserverHandler) GetAgent(c fiber.Ctx) error {
	raw := c.Params("id")

	if id, parseErr := uuid.Parse(raw); parseErr == nil {
		summary, getErr := h.observer.GetAgentProfile(c.Context(), id)
		if getErr != nil {
			return mapObserverError(c, getErr)
		}
		return httputil.Success(c, summary)
	}

	summary, getErr := h.observer.GetAgentProfileByHandle(c.Context(), raw)
	if getErr != nil {
		return mapObserverError(c, getErr)
	}
	return httputil.Success(c, summary)
}

// ListAgentBadges handles GET /api/observer/agents/{id}/badges.
func (h *ObserverHandler) ListAgentBadges(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid agent id")
	}

	badges, listErr := h.observer.ListAgentBadges(c.Context(), id)
	if listErr != nil {
		h.log.Error().Err(listErr).Msg("list agent badges failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
	return httputil.Success(c, badges)
}

// mapObserverError converts observer-layer errors to appropriate HTTP responses.
func mapObserverError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, observer.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, err.Error())
	default:
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
}
