// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli wires the desktop-agent commands onto the same components
// the HTTP facade and worker pool use, building the shared services once in
// PersistentPreRunE and handing them to every subcommand.
package cli

import (
	"fmt"

	"github.com/Axion-inc/DesktopAgent/internal/common/config"
	"github.com/Axion-inc/DesktopAgent/internal/common/logger"
	"github.com/Axion-inc/DesktopAgent/internal/metrics"
	"github.com/Axion-inc/DesktopAgent/internal/secrets"
	"github.com/Axion-inc/DesktopAgent/internal/store"
	"github.com/Axion-inc/DesktopAgent/internal/trust"
)

// services holds the components every command may need: configuration,
// the run store, the trust store, and the metrics recorder. Commands that
// execute a plan (`run`) construct the heavier adapter/executor graph
// themselves, so commands that never touch an OS or web engine (validate,
// sign, list, show) never pay for dialing one.
type services struct {
	Config  *config.Config
	Log     logger.Logger
	Store   *store.Store
	Trust   *trust.Store
	Secrets *secrets.Resolver
	Metrics *metrics.Recorder
}

func buildServices(cfgFile string) (*services, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("ensure artifact dirs: %w", err)
	}

	logger.InitGlobalLogger(&cfg.Logger)
	log := logger.NewLogger("cli")

	st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	trustStore, err := trust.NewStore(cfg.TrustStore)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build trust store: %w", err)
	}

	resolver, err := secrets.BuildResolver(cfg.Secrets)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build secrets resolver: %w", err)
	}

	return &services{
		Config:  cfg,
		Log:     log,
		Store:   st,
		Trust:   trustStore,
		Secrets: resolver,
		Metrics: metrics.New(),
	}, nil
}

func (s *services) Close() error {
	if s.Store == nil {
		return nil
	}
	return s.Store.Close()
}
