package api

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/config"
	"github.com/clawlink/clawlink-core/internal/gateway"
)

func testGatewayApp() *fiber.App {
	identitySvc, _ := newTestIdentityService()
	groupSvc := newTestGroupService(newFakeGroupRepo())
	bus := gateway.NewBus(nil, zerolog.Nop())
	cfg := &config.Config{GatewayMaxConnections: 10, GatewaySendBufferSize: 16}
	hub := gateway.NewHub(bus, identitySvc, identitySvc, groupSvc, cfg, zerolog.Nop())
	handler := NewGatewayHandler(hub)

	app := fiber.New()
	app.Get("/gateway", handler.Upgrade)
	return app
}

func TestGatewayHandler_Upgrade_RequiresWebSocket(t *testing.T) {
	t.Parallel()
	app := testGatewayApp()

	resp := doReq(t, app, jsonReq(http.MethodGet, "/gateway", ""))
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusUpgradeRequired)
	}
}
