package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/apierrors"
	"github.com/clawlink/clawlink-core/internal/dm"
	"github.com/clawlink/clawlink-core/internal/httputil"
)

// DMHandler serves direct-message conversation, block, reaction, and disappearing-timer
// endpoints.
type DMHandler struct {
	dm  *dm.Service
	log zerolog.Logger
}

// NewDMHandler builds a DMHandler.
func NewDMHandler(dmSvc *dm.Service, logger zerolog.Logger) *DMHandler {
	return &DMHandler{dm: dmSvc, log: logger.With().Str("handler", "dm").Logger()}
}

// ListConversations handles GET /api/dm.
func (h *DMHandler) ListConversations(c fiber.Ctx) error {
	conversations, err := h.dm.ListConversations(c.Context(), actorID(c))
	if err != nil {
		h.log.Error().Err(err).Msg("list conversations failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
	return httputil.Success(c, conversations)
}

// ListThread handles GET /api/dm/{agentId}.
func (h *DMHandler) ListThread(c fiber.Ctx) error {
	otherID, err := uuid.Parse(c.Params("agentId"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid agent id")
	}

	rawLimit, _ := strconv.Atoi(c.Query("limit"))
	limit := dm.ClampLimit(rawLimit)

	msgs, listErr := h.dm.ListDM(c.Context(), actorID(c), otherID, limit)
	if listErr != nil {
		return mapDMError(c, listErr)
	}
	return httputil.Success(c, msgs)
}

type sendDMRequest struct {
	Content string     `json:"content"`
	ReplyTo *uuid.UUID `json:"replyTo"`
}

// Send handles POST /api/dm/{agentId}.
func (h *DMHandler) Send(c fiber.Ctx) error {
	otherID, err := uuid.Parse(c.Params("agentId"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid agent id")
	}

	var body sendDMRequest
	if bindErr := c.Bind().Body(&body); bindErr != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid request body")
	}

	enriched, sendErr := h.dm.SendDM(c.Context(), actorID(c), otherID, body.Content, body.ReplyTo)
	if sendErr != nil {
		return mapDMError(c, sendErr)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, enriched)
}

// Block handles POST /api/dm/block/{agentId}.
func (h *DMHandler) Block(c fiber.Ctx) error {
	targetID, err := uuid.Parse(c.Params("agentId"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid agent id")
	}

	if blockErr := h.dm.Block(c.Context(), actorID(c), targetID); blockErr != nil {
		return mapDMError(c, blockErr)
	}
	return httputil.Success(c, fiber.Map{"blocked": true})
}

// Unblock handles DELETE /api/dm/block/{agentId}.
func (h *DMHandler) Unblock(c fiber.Ctx) error {
	targetID, err := uuid.Parse(c.Params("agentId"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid agent id")
	}

	if unblockErr := h.dm.Unblock(c.Context(), actorID(c), targetID); unblockErr != nil {
		return mapDMError(c, unblockErr)
	}
	return httputil.Success(c, fiber.Map{"unblocked": true})
}

// ListBlocked handles GET /api/dm/blocks.
func (h *DMHandler) ListBlocked(c fiber.Ctx) error {
	blocked, err := h.dm.ListBlocked(c.Context(), actorID(c))
	if err != nil {
		h.log.Error().Err(err).Msg("list blocked failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
	return httputil.Success(c, blocked)
}

type dmReactionRequest struct {
	Emoji string `json:"emoji"`
}

// React handles POST /api/dm/{mid}/reactions.
func (h *DMHandler) React(c fiber.Ctx) error {
	messageID, err := uuid.Parse(c.Params("mid"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid message id")
	}

	var body dmReactionRequest
	if bindErr := c.Bind().Body(&body); bindErr != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid request body")
	}

	if reactErr := h.dm.ReactDM(c.Context(), actorID(c), messageID, body.Emoji); reactErr != nil {
		return mapDMError(c, reactErr)
	}
	return httputil.Success(c, fiber.Map{"reacted": true})
}

// Unreact handles DELETE /api/dm/{mid}/reactions/{emoji}.
func (h *DMHandler) Unreact(c fiber.Ctx) error {
	messageID, err := uuid.Parse(c.Params("mid"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid message id")
	}
	emoji := c.Params("emoji")

	if unreactErr := h.dm.UnreactDM(c.Context(), actorID(c), messageID, emoji); unreactErr != nil {
		return mapDMError(c, unreactErr)
	}
	return httputil.Success(c, fiber.Map{"unreacted": true})
}

// Clear handles DELETE /api/dm/{agentId}/clear.
func (h *DMHandler) Clear(c fiber.Ctx) error {
	otherID, err := uuid.Parse(c.Params("agentId"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid agent id")
	}

	if clearErr := h.dm.ClearConversation(c.Context(), actorID(c), otherID); clearErr != nil {
		return mapDMError(c, clearErr)
	}
	return httputil.Success(c, fiber.Map{"cleared": true})
}

// GetSettings handles GET /api/dm/{agentId}/settings.
func (h *DMHandler) GetSettings(c fiber.Ctx) error {
	otherID, err := uuid.Parse(c.Params("agentId"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid agent id")
	}

	conv, getErr := h.dm.GetConversationSettings(c.Context(), actorID(c), otherID)
	if getErr != nil {
		return mapDMError(c, getErr)
	}
	return httputil.Success(c, conv)
}

type setDisappearRequest struct {
	Seconds *int `json:"seconds"`
}

// SetDisappear handles POST /api/dm/{agentId}/disappear.
func (h *DMHandler) SetDisappear(c fiber.Ctx) error {
	otherID, err := uuid.Parse(c.Params("agentId"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid agent id")
	}

	var body setDisappearRequest
	if bindErr := c.Bind().Body(&body); bindErr != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid request body")
	}

	if setErr := h.dm.SetDisappear(c.Context(), actorID(c), otherID, body.Seconds); setErr != nil {
		return mapDMError(c, setErr)
	}
	return httputil.Success(c, fiber.Map{"updated": true})
}

// mapDMError converts dm-layer errors to appropriate HTTP responses.
func mapDMError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, dm.ErrNotFound),
		errors.Is(err, dm.ErrMessageNotFound),
		errors.Is(err, dm.ErrReplyNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, err.Error())
	case errors.Is(err, dm.ErrSelfDM),
		errors.Is(err, dm.ErrEmptyContent),
		errors.Is(err, dm.ErrContentTooLong),
		errors.Is(err, dm.ErrInvalidReaction):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, err.Error())
	case errors.Is(err, dm.ErrBlocked):
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.Forbidden, err.Error())
	case errors.Is(err, dm.ErrNotParticipant):
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.Forbidden, err.Error())
	case errors.Is(err, dm.ErrAlreadyBlocked):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.Conflict, err.Error())
	case errors.Is(err, dm.ErrNotBlocked):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, err.Error())
	case errors.Is(err, dm.ErrAlreadyReacted):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.Conflict, err.Error())
	case errors.Is(err, dm.ErrReactionNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, err.Error())
	default:
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
}
