// Package server provides HTTP server wiring and lifecycle management.
// It carries the OAuth redirect endpoint plus the webhook delivery
// surface used when the workspace app is configured for HTTP event
// delivery instead of a socket connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/driveguard/driveguard-go/internal/chat"
	"github.com/driveguard/driveguard-go/internal/chat/socketmode"
	"github.com/driveguard/driveguard-go/internal/config"
)

var ErrMissingDep = errors.New("missing required dependency")

// Exchanger completes the authorization-code grant for a user. Satisfied
// by the credential manager.
type Exchanger interface {
	Exchange(ctx context.Context, userID, code string) error
}

// Deps holds all server dependencies.
type Deps struct {
	// Required: consent workflow entry points.
	Handlers chat.Handlers

	// Required: resolves file ids delivered by webhook events.
	Files socketmode.FileInfoResolver

	// Required: completes the OAuth redirect.
	OAuth Exchanger

	// Shared secret for request signature verification. Empty disables
	// verification, which is only acceptable in development.
	SigningSecret string
}

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	logger     *slog.Logger
	deps       *Deps
}

// New creates a Server. Returns an error if required dependencies are
// missing.
func New(cfg *config.Config, logger *slog.Logger, deps *Deps) (*Server, error) {
	if err := validateDeps(deps); err != nil {
		return nil, err
	}
	if deps.SigningSecret == "" {
		logger.Warn("request signature verification disabled, no signing secret configured")
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		deps:   deps,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.setupRoutes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Start starts the HTTP server. It blocks until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting server",
		"addr", s.cfg.ListenAddr,
		"external_origin", s.cfg.ExternalOrigin,
	)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

func validateDeps(deps *Deps) error {
	if deps == nil {
		return errors.New("deps is nil")
	}
	if deps.Handlers == nil {
		return fmt.Errorf("%w: Handlers", ErrMissingDep)
	}
	if deps.Files == nil {
		return fmt.Errorf("%w: Files", ErrMissingDep)
	}
	if deps.OAuth == nil {
		return fmt.Errorf("%w: OAuth", ErrMissingDep)
	}
	return nil
}
