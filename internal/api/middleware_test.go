package api

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v3"
)

func TestRequireAuth_MissingHeader(t *testing.T) {
	t.Parallel()
	svc, _ := newTestIdentityService()
	app := fiber.New()
	app.Get("/protected", RequireAuth(svc), func(c fiber.Ctx) error {
		return c.SendString("ok")
	})

	resp := doReq(t, app, jsonReq(http.MethodGet, "/protected", ""))
	body := readBody(t, resp)

	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
	env := parseError(t, body)
	if env.Error == "" {
		t.Errorf("expected a non-empty error message")
	}
}

func TestRequireAuth_InvalidKey(t *testing.T) {
	t.Parallel()
	svc, _ := newTestIdentityService()
	app := fiber.New()
	app.Get("/protected", RequireAuth(svc), func(c fiber.Ctx) error {
		return c.SendString("ok")
	})

	resp := doReq(t, app, authedReq(http.MethodGet, "/protected", "", "clk_bogus"))
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
}

func TestRequireAuth_ValidKey(t *testing.T) {
	t.Parallel()
	svc, _ := newTestIdentityService()
	agentID, apiKey := registerTestAgent(svc, "valid-key-agent")

	app := fiber.New()
	app.Get("/protected", RequireAuth(svc), func(c fiber.Ctx) error {
		if actorID(c) != agentID {
			t.Errorf("actorID = %v, want %v", actorID(c), agentID)
		}
		return c.SendString("ok")
	})

	resp := doReq(t, app, authedReq(http.MethodGet, "/protected", "", apiKey))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
}
