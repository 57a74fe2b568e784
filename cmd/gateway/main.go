package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chatplatform/gateway/internal/auth"
	"github.com/chatplatform/gateway/internal/broker"
	"github.com/chatplatform/gateway/internal/config"
	"github.com/chatplatform/gateway/internal/directory"
	"github.com/chatplatform/gateway/internal/gateway"
	"github.com/chatplatform/gateway/internal/presence"
	"github.com/chatplatform/gateway/internal/valkey"
	"github.com/chatplatform/gateway/internal/ws"
)

// valkeyDialTimeout bounds the initial connection attempt to Valkey at startup.
const valkeyDialTimeout = 5 * time.Second

// shutdownGrace bounds how long the process waits for in-flight sessions to drain once a
// shutdown signal arrives.
const shutdownGrace = 15 * time.Second

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if level, parseErr := zerolog.ParseLevel(cfg.LogLevel); parseErr == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().Str("addr", cfg.GatewayAddr).Msg("starting chat gateway")

	ctx := context.Background()

	rdb, err := valkey.Connect(ctx, cfg.RedisURL, valkeyDialTimeout)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("valkey connected")

	brokerClient, err := broker.Connect(cfg.BrokerURL, log.Logger)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer brokerClient.Close()
	log.Info().Str("url", cfg.BrokerURL).Msg("broker connected")

	// The directory service (guild/channel/role/member listing) and the identity
	// service that issues Identify tokens are external collaborators this gateway does
	// not own. Development and tests run against an in-memory stand-in seeded with one
	// guild; a production deployment swaps dir for a client of the platform's
	// Postgres-backed directory service without touching gateway.Controller.
	dir := directory.NewMemory()
	if _, _, seedErr := directory.SeedDevelopment(dir); seedErr != nil {
		return fmt.Errorf("seed development directory: %w", seedErr)
	}

	tokens := auth.NewJWTResolver(cfg.JWTSecret, "")

	presenceStore := presence.NewStore(rdb, dir, brokerClient)
	if resetErr := presenceStore.ResetAll(ctx); resetErr != nil {
		log.Warn().Err(resetErr).Msg("failed to reset stale presence state")
	}

	controller := gateway.NewController(
		tokens,
		presenceStore,
		dir,
		dir,
		brokerClient,
		log.Logger,
		cfg.IdentifyTimeout,
		cfg.ReadIdleTimeout,
		cfg.RateLimitEvents,
		cfg.RateLimitWindow,
		cfg.PresenceTTL,
	)

	app := fiber.New(fiber.Config{AppName: "chat-gateway"})

	handler := ws.NewHandler(controller.Handle)
	app.Get("/", handler.Upgrade)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutting down gateway: accept loop stopping, draining existing sessions")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if shutdownErr := app.ShutdownWithContext(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("gateway shutdown error")
		}
	}()

	if err := app.Listen(cfg.GatewayAddr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	return nil
}
