// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/edithistory/cmd/edithistory/config"
	"github.com/AleutianAI/edithistory/pkg/logging"
	"github.com/AleutianAI/edithistory/services/api"
	"github.com/AleutianAI/edithistory/services/assist"
	"github.com/AleutianAI/edithistory/services/history"
	"github.com/AleutianAI/edithistory/services/storage/badger"
	"github.com/AleutianAI/edithistory/services/telemetry"
	"github.com/AleutianAI/edithistory/services/translation"
)

const shutdownTimeout = 10 * time.Second

// server is everything `serve` wires together.
type server struct {
	db      *badger.DB
	engine  *history.Engine
	handler http.Handler
}

// newServer opens storage and builds the engine, the optional assist
// service and the router. Close the returned server to release the database.
func newServer(cfg *config.Config, logger *slog.Logger) (*server, error) {
	bcfg := cfg.BadgerConfig()
	bcfg.Logger = logger
	db, err := badger.Open(bcfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	store := badger.NewKVStore(db, cfg.Storage.KeyPrefix)
	pairs := translation.NewPairCache(store, cfg.Translation.MaxPairs, translation.WithCacheLogger(logger))
	engine, err := history.NewEngine(store, pairs, cfg.History, history.WithLogger(logger))
	if err != nil {
		db.Close()
		return nil, err
	}

	deps := api.Deps{Engine: engine, Logger: logger}
	if cfg.Translation.APIKey != "" {
		svc, err := newAssist(cfg.Translation, engine, pairs, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		deps.Assist = svc
	} else {
		logger.Info("No translation API key configured, assist routes disabled")
	}

	metrics, err := telemetry.NewHTTPMetrics(otel.Meter(serviceName))
	if err != nil {
		logger.Warn("HTTP metrics disabled", slog.String("error", err.Error()))
	} else {
		deps.Metrics = metrics
	}

	return &server{
		db:      db,
		engine:  engine,
		handler: api.NewRouter(serviceName, deps),
	}, nil
}

func newAssist(cfg translation.Config, engine *history.Engine, pairs *translation.PairCache, logger *slog.Logger) (*assist.Service, error) {
	client, err := translation.NewOpenAIClient(cfg)
	if err != nil {
		return nil, err
	}
	translator, err := translation.NewTranslator(client, pairs, cfg, logger)
	if err != nil {
		return nil, err
	}
	return assist.NewService(engine, translator, logger)
}

func (s *server) Close() error {
	return s.db.Close()
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if ephemeral {
		cfg.Storage.InMemory = true
	}
	logCfg := cfg.LoggerConfig(serviceName)
	logCfg.Quiet = quiet
	logger := logging.New(logCfg)
	defer logger.Close()
	slogger := logger.Slog()
	if path := logger.FilePath(); path != "" {
		slogger.Debug("Writing log file", slog.String("path", path))
	}

	telemetryCfg := cfg.Telemetry
	if telemetryCfg.ServiceName == "" {
		telemetryCfg.ServiceName = serviceName
	}
	shutdownTelemetry, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slogger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	if logCfg.Level != logging.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	srv, err := newServer(cfg, slogger)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slogger.Info("Starting edithistory server",
			slog.String("address", cfg.Server.Addr),
			slog.Bool("in_memory", cfg.Storage.InMemory))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slogger.Info("Shutting down edithistory server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
