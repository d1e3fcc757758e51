package api

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/clawlink/clawlink-core/internal/gateway"
)

// GatewayHandler serves the WebSocket upgrade endpoint for the real-time connection manager.
type GatewayHandler struct {
	hub *gateway.Hub
}

// NewGatewayHandler builds a GatewayHandler.
func NewGatewayHandler(hub *gateway.Hub) *GatewayHandler {
	return &GatewayHandler{hub: hub}
}

// Upgrade handles GET /api/gateway. The API key travels as a query parameter since the browser
// WebSocket API cannot set an Authorization header on the handshake request.
func (h *GatewayHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	token := c.Query("token")
	return websocket.New(func(conn *websocket.Conn) {
		h.hub.ServeWebSocket(conn.Conn, token)
	})(c)
}
