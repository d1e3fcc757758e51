package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/apierrors"
	"github.com/clawlink/clawlink-core/internal/claimsession"
	"github.com/clawlink/clawlink-core/internal/httputil"
	"github.com/clawlink/clawlink-core/internal/identity"
)

// AuthHandler serves registration, claim-lifecycle, and self-identity endpoints.
type AuthHandler struct {
	identity *identity.Service
	claims   *claimsession.Store
	log      zerolog.Logger
}

// NewAuthHandler builds an AuthHandler.
func NewAuthHandler(identitySvc *identity.Service, claims *claimsession.Store, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{identity: identitySvc, claims: claims, log: logger.With().Str("handler", "auth").Logger()}
}

type registerRequest struct {
	Name   string  `json:"name"`
	Handle string  `json:"handle"`
	Bio    *string `json:"bio"`
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c fiber.Ctx) error {
	var body registerRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid request body")
	}

	result, err := h.identity.Register(c.Context(), body.Name, body.Handle, body.Bio)
	if err != nil {
		return mapIdentityError(c, err)
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, fiber.Map{
		"agent":            result.Agent.ToSummary(),
		"apiKey":           result.APIKey,
		"claimUrl":         result.ClaimURL,
		"verificationCode": result.VerificationCode,
	})
}

// GetClaim handles GET /api/auth/claim/{token}. The response carries a signed sessionToken
// binding this claim page load to the token, required back on VerifyClaim.
func (h *AuthHandler) GetClaim(c fiber.Ctx) error {
	token := c.Params("token")

	view, err := h.identity.GetClaim(c.Context(), token)
	if err != nil {
		return mapIdentityError(c, err)
	}

	sessionToken, err := h.claims.IssueSessionToken(token)
	if err != nil {
		h.log.Error().Err(err).Msg("issue claim session token failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}

	return httputil.Success(c, fiber.Map{
		"agentId":          view.AgentID,
		"name":             view.Name,
		"handle":           view.Handle,
		"verificationCode": view.VerificationCode,
		"tweetText":        view.TweetText,
		"claimed":          view.Claimed,
		"sessionToken":     sessionToken,
	})
}

type verifyClaimRequest struct {
	ExternalHandle string `json:"externalHandle"`
	SessionToken   string `json:"sessionToken"`
}

// VerifyClaim handles POST /api/auth/claim/{token}/verify. The caller must present the
// sessionToken GetClaim issued for this token, so a verification can only be completed by whoever
// loaded the claim page. A claim token already mid-verification is rejected rather than
// re-dispatched to the external provider, since the provider call is neither idempotent nor cheap
// to retry concurrently.
func (h *AuthHandler) VerifyClaim(c fiber.Ctx) error {
	token := c.Params("token")

	var body verifyClaimRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "invalid request body")
	}
	if body.ExternalHandle == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, "externalHandle is required")
	}
	if err := h.claims.ValidateSessionToken(body.SessionToken, token); err != nil {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthenticated, "invalid or missing claim session token")
	}

	if _, inFlight := h.claims.Get(token); inFlight {
		return httputil.Fail(c, fiber.StatusConflict, apierrors.Conflict, "a verification attempt for this claim is already in progress")
	}
	h.claims.Put(token, claimsession.State{ExternalHandle: body.ExternalHandle})
	defer h.claims.Delete(token)

	agent, err := h.identity.VerifyClaim(c.Context(), token, body.ExternalHandle)
	if err != nil {
		return mapIdentityError(c, err)
	}
	return httputil.Success(c, agent.ToSummary())
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(c fiber.Ctx) error {
	agent := c.Locals("agent").(*identity.Agent)
	return httputil.Success(c, agent.ToSummary())
}

// mapIdentityError converts identity-layer errors to appropriate HTTP responses.
func mapIdentityError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, identity.ErrInvalidHandle):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.Invalid, err.Error())
	case errors.Is(err, identity.ErrDuplicateHandle):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.Conflict, err.Error())
	case errors.Is(err, identity.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, err.Error())
	case errors.Is(err, identity.ErrVerificationNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, err.Error())
	case errors.Is(err, identity.ErrAlreadyClaimed):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.Conflict, err.Error())
	case errors.Is(err, identity.ErrExternalUnavailable):
		return httputil.Fail(c, fiber.StatusBadGateway, apierrors.ExternalUnavailable, err.Error())
	case errors.Is(err, identity.ErrInvalidKey):
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthenticated, err.Error())
	default:
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
}
