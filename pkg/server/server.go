// Package server is the composition root: it loads configuration, wires
// every component, and hands main a ready-to-serve handler.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/tripweave/tripweave/internal/agent"
	"github.com/tripweave/tripweave/internal/api"
	"github.com/tripweave/tripweave/internal/auth"
	"github.com/tripweave/tripweave/internal/config"
	"github.com/tripweave/tripweave/internal/credentials"
	"github.com/tripweave/tripweave/internal/gateway"
	"github.com/tripweave/tripweave/internal/resolver"
	"github.com/tripweave/tripweave/internal/sessions"
	"github.com/tripweave/tripweave/internal/telemetry"
)

// Server bundles what main needs to run and stop the process.
type Server struct {
	Handler      http.Handler
	Port         int
	ShutdownFunc func(context.Context) error
}

// New builds the full service. ctx scopes background work (the eviction
// sweeper); cancelling it stops those goroutines.
//
// The tool invoker is nil for now: tool execution lives in an external
// runtime and clients are warned over the socket that turns run text-only
// until one is attached.
func New(ctx context.Context) (*Server, error) {
	cfg := config.Load()

	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTAlgorithm, cfg.Auth.VerifyExpiry)
	if err != nil {
		return nil, fmt.Errorf("configuring token verifier: %w", err)
	}

	modelResolver := resolver.New(cfg.Providers)
	registry := sessions.NewRegistry(modelResolver, cfg.Session.MaxHistoryMessages)

	sweeper := sessions.NewSweeper(registry, cfg.Session.InactivityTimeout)
	go sweeper.Start(ctx)

	creds := credentials.New(cfg.Account)

	var tools agent.ToolInvoker
	runtime := agent.NewLoop(agent.NewDispatcher(cfg.Providers), tools)

	bridge := gateway.NewBridge(registry, creds, runtime, cfg.Session.TurnTimeout, cfg.Session.MaxOutputTokens)
	ws := gateway.New(verifier, registry, bridge, tools)

	handler := api.NewRouter(api.Deps{
		Registry: registry,
		Resolver: modelResolver,
		Bridge:   bridge,
		Verifier: verifier,
		Gateway:  ws,
		Version:  cfg.Version,
	})

	log.Info().
		Int("port", cfg.Port).
		Str("version", cfg.Version).
		Dur("session_timeout", cfg.Session.InactivityTimeout).
		Msg("Server wired")

	return &Server{
		Handler:      handler,
		Port:         cfg.Port,
		ShutdownFunc: shutdownTelemetry,
	}, nil
}
