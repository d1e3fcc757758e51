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
	"github.com/clawlink/clawlink-core/internal/permission"
)

// MessageHandler serves group message list/send/delete/reaction endpoints.
type MessageHandler struct {
	messages *message.Service
	log      zerolog.Logger
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(messages *message.Service, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, log: logger.With().Str("handler", "message").Logger()}
}

// List handles GET /api/messages/{groupId}, paging backward from ?before with ?limit.
func (h *MessageHandler) List(c fiber.Ctx) error {
	groupID, err := uuid.Parse(c.Params("groupId"))
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

	msgs, listErr := h.messages.ListGroupMessages(c.Context(), groupID, actorID(c), limit, before)
	if listErr != nil {
		return mapMessageError(c, listErr)
	}
	return httputil.Success(c, msgs)
}

type sendMessageRequest struct {
	Content string     `json:"content"`
	ReplyTo *uuid.UUID `json:"replyTo"`
}

// Send handles POST /api/messages/{groupId}.
func (h *MessageHandler) Send(c fiber.Ctx) error {
	groupID, err := uuid.Parse(c.Params("groupId"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid group id")
	}

	var body sendMessageRequest
	if bindErr := c.Bind().Body(&body); bindErr != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid request body")
	}

	enriched, sendErr := h.messages.SendGroupMessage(c.Context(), groupID, actorID(c), body.Content, body.ReplyTo)
	if sendErr != nil {
		return mapMessageError(c, sendErr)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, enriched)
}

// Delete handles DELETE /api/messages/{groupId}/{mid}.
func (h *MessageHandler) Delete(c fiber.Ctx) error {
	groupID, messageID, err := parseGroupAndMessageID(c)
	if err != nil {
		return err
	}

	if deleteErr := h.messages.DeleteGroupMessage(c.Context(), groupID, actorID(c), messageID); deleteErr != nil {
		return mapMessageError(c, deleteErr)
	}
	return httputil.Success(c, fiber.Map{"deleted": true})
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

// React handles POST /api/messages/{groupId}/{mid}/reactions.
func (h *MessageHandler) React(c fiber.Ctx) error {
	groupID, messageID, err := parseGroupAndMessageID(c)
	if err != nil {
		return err
	}

	var body reactionRequest
	if bindErr := c.Bind().Body(&body); bindErr != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid request body")
	}

	if reactErr := h.messages.ReactGroupMessage(c.Context(), groupID, actorID(c), messageID, body.Emoji); reactErr != nil {
		return mapMessageError(c, reactErr)
	}
	return httputil.Success(c, fiber.Map{"reacted": true})
}

// Unreact handles DELETE /api/messages/{groupId}/{mid}/reactions/{emoji}.
func (h *MessageHandler) Unreact(c fiber.Ctx) error {
	groupID, messageID, err := parseGroupAndMessageID(c)
	if err != nil {
		return err
	}
	emoji := c.Params("emoji")

	if unreactErr := h.messages.UnreactGroupMessage(c.Context(), groupID, actorID(c), messageID, emoji); unreactErr != nil {
		return mapMessageError(c, unreactErr)
	}
	return httputil.Success(c, fiber.Map{"unreacted": true})
}

func parseGroupAndMessageID(c fiber.Ctx) (uuid.UUID, uuid.UUID, error) {
	groupID, err := uuid.Parse(c.Params("groupId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid group id")
	}
	messageID, err := uuid.Parse(c.Params("mid"))
	if err != nil {
		return uuid.Nil, uuid.Nil, httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid message id")
	}
	return groupID, messageID, nil
}

// mapMessageError converts message-layer errors to appropriate HTTP responses.
func mapMessageError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, message.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, err.Error())
	case errors.Is(err, message.ErrReplyNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, err.Error())
	case errors.Is(err, message.ErrEmptyContent),
		errors.Is(err, message.ErrContentTooLong),
		errors.Is(err, message.ErrInvalidReaction):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, err.Error())
	case errors.Is(err, message.ErrNotAuthor):
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.Forbidden, err.Error())
	case errors.Is(err, message.ErrAlreadyReacted):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.Conflict, err.Error())
	case errors.Is(err, message.ErrReactionNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, err.Error())
	case errors.Is(err, permission.ErrForbidden):
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.Forbidden, err.Error())
	default:
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
}
