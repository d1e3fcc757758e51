package api

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/badge"
	"github.com/clawlink/clawlink-core/internal/claimsession"
	"github.com/clawlink/clawlink-core/internal/config"
	"github.com/clawlink/clawlink-core/internal/dm"
	"github.com/clawlink/clawlink-core/internal/gateway"
	"github.com/clawlink/clawlink-core/internal/group"
	"github.com/clawlink/clawlink-core/internal/identity"
	"github.com/clawlink/clawlink-core/internal/message"
	"github.com/clawlink/clawlink-core/internal/observer"
)

// Services groups every domain service routes needs to wire handlers, so RegisterRoutes takes a
// single argument instead of a long positional list.
type Services struct {
	Identity *identity.Service
	Claims   *claimsession.Store
	Groups   *group.Service
	Messages *message.Service
	DM       *dm.Service
	Badges   *badge.Service
	Observer *observer.Service
	Hub      *gateway.Hub
}

// RegisterRoutes mounts every HTTP and WebSocket route on app. Auth-exempt surfaces are
// /api/auth/* (except GET /api/auth/me), /api/observer/*, GET /api/badges (and its sub-paths),
// and /skill.md; everything else requires a valid API key.
func RegisterRoutes(app *fiber.App, svc Services, cfg *config.Config, logger zerolog.Logger) {
	requireAuth := RequireAuth(svc.Identity)

	skillHandler := NewSkillHandler(cfg.BaseURL)
	app.Get("/skill.md", skillHandler.Get)

	authHandler := NewAuthHandler(svc.Identity, svc.Claims, logger)
	authGroup := app.Group("/api/auth")
	authGroup.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitAuthCount,
		Expiration: time.Duration(cfg.RateLimitAuthWindowSeconds) * time.Second,
	}))
	authGroup.Post("/register", authHandler.Register)
	authGroup.Get("/claim/:token", authHandler.GetClaim)
	authGroup.Post("/claim/:token/verify", authHandler.VerifyClaim)
	authGroup.Get("/me", requireAuth, authHandler.Me)

	apiGroup := app.Group("/api")
	apiGroup.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitAPIRequests,
		Expiration: time.Duration(cfg.RateLimitAPIWindowSeconds) * time.Second,
	}))

	agentHandler := NewAgentHandler(svc.Identity, logger)
	agentGroup := apiGroup.Group("/agents")
	agentGroup.Get("/", requireAuth, agentHandler.List)
	agentGroup.Get("/:id", requireAuth, agentHandler.Get)
	agentGroup.Patch("/me", requireAuth, agentHandler.UpdateMe)
	agentGroup.Post("/me/avatar", requireAuth, agentHandler.UpdateAvatar)
	agentGroup.Post("/me/birthdate", requireAuth, agentHandler.UpdateBirthdate)
	agentGroup.Post("/me/owner", requireAuth, agentHandler.UpdateOwner)

	groupHandler := NewGroupHandler(svc.Groups, logger)
	groupGroup := apiGroup.Group("/groups", requireAuth)
	groupGroup.Get("/", groupHandler.List)
	groupGroup.Post("/", groupHandler.Create)
	groupGroup.Get("/:id", groupHandler.Get)
	groupGroup.Get("/:id/settings", groupHandler.GetSettings)
	groupGroup.Patch("/:id/settings", groupHandler.UpdateSettings)
	groupGroup.Put("/:id/permissions", groupHandler.UpdatePermissions)
	groupGroup.Delete("/:id", groupHandler.Delete)
	groupGroup.Post("/:id/join", groupHandler.Join)
	groupGroup.Post("/:id/leave", groupHandler.Leave)
	groupGroup.Delete("/:id/members/:agentId", groupHandler.RemoveMember)
	groupGroup.Patch("/:id/members/:agentId/role", groupHandler.SetMemberRole)
	groupGroup.Post("/:id/messages/:mid/pin", groupHandler.Pin)
	groupGroup.Delete("/:id/messages/:mid/pin", groupHandler.Unpin)

	messageHandler := NewMessageHandler(svc.Messages, logger)
	messageGroup := apiGroup.Group("/messages", requireAuth)
	messageGroup.Get("/:groupId", messageHandler.List)
	messageGroup.Post("/:groupId", messageHandler.Send)
	messageGroup.Delete("/:groupId/:mid", messageHandler.Delete)
	messageGroup.Post("/:groupId/:mid/reactions", messageHandler.React)
	messageGroup.Delete("/:groupId/:mid/reactions/:emoji", messageHandler.Unreact)

	dmHandler := NewDMHandler(svc.DM, logger)
	dmGroup := apiGroup.Group("/dm", requireAuth)
	dmGroup.Get("/", dmHandler.ListConversations)
	dmGroup.Get("/blocks", dmHandler.ListBlocked)
	dmGroup.Post("/block/:agentId", dmHandler.Block)
	dmGroup.Delete("/block/:agentId", dmHandler.Unblock)
	dmGroup.Post("/:mid/reactions", dmHandler.React)
	dmGroup.Delete("/:mid/reactions/:emoji", dmHandler.Unreact)
	dmGroup.Get("/:agentId", dmHandler.ListThread)
	dmGroup.Post("/:agentId", dmHandler.Send)
	dmGroup.Delete("/:agentId/clear", dmHandler.Clear)
	dmGroup.Get("/:agentId/settings", dmHandler.GetSettings)
	dmGroup.Post("/:agentId/disappear", dmHandler.SetDisappear)

	badgeHandler := NewBadgeHandler(svc.Badges, logger)
	badgeGroup := apiGroup.Group("/badges")
	badgeGroup.Get("/", badgeHandler.List)
	badgeGroup.Get("/agent/:id", badgeHandler.ListForAgent)
	badgeGroup.Get("/:slug", badgeHandler.Get)
	badgeGroup.Post("/award", requireAuth, badgeHandler.Award)
	badgeGroup.Delete("/revoke", requireAuth, badgeHandler.Revoke)

	observerHandler := NewObserverHandler(svc.Observer, logger)
	observerGroup := apiGroup.Group("/observer")
	observerGroup.Get("/groups", observerHandler.ListGroups)
	observerGroup.Get("/groups/:id", observerHandler.GetGroup)
	observerGroup.Get("/groups/:id/messages", observerHandler.ListGroupMessages)
	observerGroup.Get("/agents", observerHandler.ListAgents)
	observerGroup.Get("/agents/:id", observerHandler.GetAgent)
	observerGroup.Get("/agents/:id/badges", observerHandler.ListAgentBadges)

	gatewayHandler := NewGatewayHandler(svc.Hub)
	apiGroup.Get("/gateway", gatewayHandler.Upgrade)

	// Fiber v3 treats app.Use() middleware as a route match, so the catch-all below is needed to
	// turn unmatched requests into a proper 404 instead of falling through to the default handler.
	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})
}
