// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package api implements the read-only core HTTP facade (spec §4.N,
// §6): GET /metrics, GET /runs/{public_id}, GET /runs/{run_id}/policy-checks,
// GET /runs/{run_id}/deviations, POST /hitl/{run_id}.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Axion-inc/DesktopAgent/internal/api/handlers"
	"github.com/Axion-inc/DesktopAgent/internal/common/config"
	"github.com/Axion-inc/DesktopAgent/internal/common/logger"
	"github.com/Axion-inc/DesktopAgent/internal/executor"
	"github.com/Axion-inc/DesktopAgent/internal/metrics"
	"github.com/Axion-inc/DesktopAgent/internal/store"
)

// Server wraps the gin engine and the handlers it routes to.
type Server struct {
	router *gin.Engine
	config *config.Config
	log    logger.Logger
}

// NewServer wires the facade's handlers over the shared Store, metrics
// Recorder, and ApprovalBroker (the same instances the `server` command
// in internal/cli constructs and shares with its Executor).
func NewServer(cfg *config.Config, st *store.Store, recorder *metrics.Recorder, broker *executor.ApprovalBroker) *Server {
	s := &Server{
		router: gin.Default(),
		config: cfg,
		log:    logger.NewLogger("api-server"),
	}
	s.setupRoutes(st, recorder, broker)
	return s
}

func (s *Server) setupRoutes(st *store.Store, recorder *metrics.Recorder, broker *executor.ApprovalBroker) {
	corsConfig := cors.DefaultConfig()
	if len(s.config.Server.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = s.config.Server.CORSOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	s.router.Use(cors.New(corsConfig))

	metricsHandler := handlers.NewMetricsHandler(recorder)
	runsHandler := handlers.NewRunsHandler(st)
	hitlHandler := handlers.NewHITLHandler(broker)

	// gin's router requires one parameter name per path segment across
	// every route sharing that prefix, so /runs/{public_id} and
	// /runs/{run_id}/... both bind ":id" — the handlers interpret it
	// as a public_id or a numeric run_id depending on which route matched.
	s.router.GET("/metrics", metricsHandler.GetSnapshot)
	s.router.GET("/runs/:id", runsHandler.GetByPublicID)
	s.router.GET("/runs/:id/policy-checks", runsHandler.GetPolicyChecks)
	s.router.GET("/runs/:id/deviations", runsHandler.GetDeviations)
	s.router.POST("/hitl/:id", hitlHandler.Resolve)
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.config.Server.HTTPAddr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("starting HTTP facade on %s", s.config.Server.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down HTTP facade")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Handler returns the underlying gin engine, primarily for tests.
func (s *Server) Handler() *gin.Engine {
	return s.router
}
