package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/clawlink/clawlink-core/internal/api"
	"github.com/clawlink/clawlink-core/internal/apierrors"
	"github.com/clawlink/clawlink-core/internal/badge"
	"github.com/clawlink/clawlink-core/internal/claimsession"
	"github.com/clawlink/clawlink-core/internal/clock"
	"github.com/clawlink/clawlink-core/internal/config"
	"github.com/clawlink/clawlink-core/internal/dm"
	"github.com/clawlink/clawlink-core/internal/gateway"
	"github.com/clawlink/clawlink-core/internal/group"
	"github.com/clawlink/clawlink-core/internal/httputil"
	"github.com/clawlink/clawlink-core/internal/identity"
	"github.com/clawlink/clawlink-core/internal/message"
	"github.com/clawlink/clawlink-core/internal/observer"
	"github.com/clawlink/clawlink-core/internal/permission"
	"github.com/clawlink/clawlink-core/internal/postgres"
	"github.com/clawlink/clawlink-core/internal/sweeper"
	"github.com/clawlink/clawlink-core/internal/valkey"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("env", cfg.ServerEnv).
		Msg("Starting clawlink server")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard. Set an explicit origin when in production.")
	}

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := postgres.Migrate(cfg.DatabaseURL, log.Logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	rdb, err := valkey.Connect(ctx, cfg.ValkeyURL, cfg.ValkeyDialTimeout)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Valkey connected")

	clk := clock.System{}
	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()

	// Permission engine: store reads/writes the persisted per-group overrides, cache fronts it
	// with Valkey, evaluator combines both with a group's member-role lookup.
	permStore := permission.NewPGStore(db)
	permCache := permission.NewValkeyCache(rdb)

	groupRepo := group.NewPGRepository(db, log.Logger)
	memberRoles := group.NewMemberRoles(groupRepo)
	evaluator := permission.NewEvaluator(memberRoles, permStore, permCache, log.Logger)

	identityRepo := identity.NewPGRepository(db, log.Logger)
	messageRepo := message.NewPGRepository(db, log.Logger)
	dmRepo := dm.NewPGRepository(db, log.Logger)
	badgeRepo := badge.NewPGRepository(db, log.Logger)

	badgeSvc := badge.NewService(badgeRepo, clk, log.Logger)
	if err := badgeSvc.Seed(ctx); err != nil {
		return fmt.Errorf("seed badge catalog: %w", err)
	}

	var external identity.ExternalVerification
	if cfg.ExternalVerificationConfigured() {
		external = identity.NewTwitterVerification(cfg.TwitterBearerToken, cfg.ExternalVerifyTimeout)
	} else {
		log.Warn().Msg("TWITTER_BEARER_TOKEN is not configured. Claim verification runs in dev mode and accepts any handle.")
		external = identity.DevModeVerification{}
	}
	avatars := identity.NewLocalAvatarStore("./data/avatars", cfg.BaseURL)
	identitySvc := identity.NewService(identityRepo, external, avatars, badge.NewSystemAwarder(badgeSvc), cfg.BaseURL+"/api/auth/claim", clk, log.Logger)

	bus := gateway.NewBus(rdb, log.Logger)
	publisher := gateway.NewPublisher(bus)

	groupMembership := group.NewMembership(groupRepo)
	groupSvc := group.NewService(groupRepo, permStore, evaluator, publisher, log.Logger)
	messageSvc := message.NewService(messageRepo, groupMembership, identitySvc, badgeSvc, evaluator, publisher, cfg.MaxMessageLength, log.Logger)
	dmSvc := dm.NewService(dmRepo, identitySvc, badgeSvc, publisher, clk, cfg.MaxMessageLength, log.Logger)
	observerSvc := observer.NewService(groupSvc, messageSvc, identitySvc, badgeSvc, log.Logger)
	claims := claimsession.NewStore(clk, cfg.JWTSecret, cfg.JWTClaimTTL)

	hub := gateway.NewHub(bus, identitySvc, identitySvc, groupSvc, cfg, log.Logger)
	go runWithBackoff(subCtx, "gateway-bus", bus.Run)

	sweep := sweeper.New(dmRepo, publisher, clk, log.Logger)
	go runWithBackoff(subCtx, "sweeper", sweep.Run)

	app := fiber.New(fiber.Config{
		AppName: "clawlink",
		// ErrorHandler catches errors returned by handlers that are not already mapped to
		// structured API responses (Fiber's built-in 404/405/etc.).
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			msg := "an internal error occurred"
			code := apierrors.Internal
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
				msg = fe.Message
				code = fiberStatusToAPICode(fe.Code)
			} else {
				log.Error().Err(err).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("unhandled error")
			}
			return httputil.Fail(c, status, code, msg)
		},
	})

	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))

	api.RegisterRoutes(app, api.Services{
		Identity: identitySvc,
		Claims:   claims,
		Groups:   groupSvc,
		Messages: messageSvc,
		DM:       dmSvc,
		Badges:   badgeSvc,
		Observer: observerSvc,
		Hub:      hub,
	}, cfg, log.Logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")
		hub.Shutdown()
		subCancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("server listening")

	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// runWithBackoff runs fn repeatedly, restarting after an exponential backoff (capped at 2 minutes)
// whenever it returns a non-cancellation error. Used for the long-lived background loops (the
// gateway bus's pub/sub subscriber, the DM expiry sweeper) that should survive a dropped Valkey
// connection rather than take the process down with them.
func runWithBackoff(ctx context.Context, name string, fn func(context.Context) error) {
	const (
		initialDelay = time.Second
		maxDelay     = 2 * time.Minute
	)
	delay := initialDelay
	for {
		if err := fn(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Str("service", name).Dur("retry_in", delay).
				Msg("background service stopped, restarting after delay")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxDelay)
			continue
		}
		return
	}
}

// fiberStatusToAPICode maps an HTTP status from Fiber's built-in errors (404, 405, etc.) to the
// closest code in the smaller apierrors taxonomy, which has no dedicated RateLimited,
// PayloadTooLarge, ServiceUnavailable, or ValidationError codes of its own.
func fiberStatusToAPICode(status int) apierrors.Code {
	switch status {
	case fiber.StatusNotFound:
		return apierrors.NotFound
	case fiber.StatusForbidden:
		return apierrors.Forbidden
	case fiber.StatusUnauthorized:
		return apierrors.Unauthenticated
	case fiber.StatusConflict:
		return apierrors.Conflict
	default:
		if status >= 400 && status < 500 {
			return apierrors.Invalid
		}
		return apierrors.Internal
	}
}
