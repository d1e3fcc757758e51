// Package httputil holds response envelope helpers and middleware shared by every handler.
package httputil

import (
	"github.com/gofiber/fiber/v3"

	"github.com/clawlink/clawlink-core/internal/apierrors"
)

// successEnvelope is the `{success: bool, ...}` shape every successful response uses.
type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// failEnvelope is the `{success:false, error:<string>}` shape every error response uses.
type failEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Success sends a 200 JSON response carrying data.
func Success(c fiber.Ctx, data any) error {
	return c.JSON(successEnvelope{Success: true, Data: data})
}

// SuccessStatus sends a JSON response carrying data at a custom status code.
func SuccessStatus(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(successEnvelope{Success: true, Data: data})
}

// Fail sends a JSON error response. code is not serialized into the body (spec.md's error
// contract is a single sentence string) but is available to the caller for logging.
func Fail(c fiber.Ctx, status int, code apierrors.Code, message string) error {
	return c.Status(status).JSON(failEnvelope{Success: false, Error: message})
}
