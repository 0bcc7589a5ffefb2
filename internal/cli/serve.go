package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/perchlabs/synapse/internal/config"
	"github.com/perchlabs/synapse/internal/engine"
	"github.com/perchlabs/synapse/internal/server"
	"github.com/perchlabs/synapse/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(lvl).
		With().Timestamp().Logger()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg.Server.LogLevel)

	dbPath := cfg.Server.DBPath
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	db.SetAllowedSources(cfg.Graph.Sources)

	eng := engine.New(db, engine.Params{
		LearningRate:       cfg.Graph.LearningRate,
		CoactivationWindow: cfg.Graph.CoactivationWindow,
		AutoCoactivate:     cfg.Graph.AutoCoactivate,
		Symmetric:          cfg.Graph.HebbianSymmetric,
		DecayFactor:        cfg.Graph.DecayFactor,
		DecayInterval:      cfg.Graph.DecayInterval,
		DecayRunTimeout:    cfg.Graph.DecayRunTimeout,
		MinEdgeWeight:      cfg.Graph.MinEdgeWeight,
		MinNodeScore:       cfg.Graph.MinNodeScore,
	}, log)
	eng.StartDecayWorker()
	defer eng.Stop()

	srv := server.New(db, eng, log, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", addr).Str("db", dbPath).Msg("synapse serving")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			os.Exit(1)
		}
	}()

	<-done
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
