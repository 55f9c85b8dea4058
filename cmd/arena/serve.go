package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-arena/internal/annotation"
	"github.com/ahrav/go-arena/internal/config"
	"github.com/ahrav/go-arena/internal/metrics"
	"github.com/ahrav/go-arena/internal/server"
	"github.com/ahrav/go-arena/internal/session"
	"github.com/ahrav/go-arena/internal/submission"
	"github.com/ahrav/go-arena/internal/worker"
	"github.com/ahrav/go-arena/pkg/activity"
)

// janitorInterval is how often idle conversations are swept.
const janitorInterval = time.Minute

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the annotation HTTP API",
		Long: `Serve the annotation API. Finished conversations are submitted through
the Temporal submission workflow when temporal.enabled is set, and written
to the configured stores in process otherwise.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.Log, os.Stderr)
	m := metrics.New()

	sink, closeSink, err := worker.OpenEventSink(cfg.Events)
	if err != nil {
		return err
	}
	defer func() { _ = closeSink() }()

	llmClient, err := worker.InitializeLLMClient(cfg, logger, m.LLM())
	if err != nil {
		return err
	}
	defer llmClient.Close()

	var persister annotation.Persister
	if cfg.Temporal.Enabled {
		tc, err := worker.DialTemporal(cfg.Temporal, logger)
		if err != nil {
			return err
		}
		defer tc.Close()
		persister = submission.NewTemporalPersister(tc, cfg.Temporal.TaskQueue, logger.With("component", "submission"))
	} else {
		stores, closeStores, err := worker.OpenStores(cfg.Store)
		if err != nil {
			return err
		}
		defer func() { _ = closeStores() }()
		persister = submission.NewDirectPersister(
			submission.NewPersistActivities(activity.NewBaseActivities(sink), stores...))
	}

	svc := session.NewService(
		session.WithGenerator(llmClient),
		session.WithPersister(persister),
		session.WithEventSink(sink),
		session.WithRecorder(m),
		session.WithLogger(logger.With("component", "session")),
		session.WithMaxTurns(cfg.Annotation.MaxTurns),
		session.WithIdleTTL(cfg.Server.IdleConversationTTL),
	)
	go svc.RunJanitor(ctx, janitorInterval)

	srv := server.New(svc,
		server.WithLogger(logger.With("component", "server")),
		server.WithMetricsHandler(m.Handler()),
	)
	logger.Info("starting arena",
		"version", Version,
		"addr", cfg.Server.Addr,
		"max_turns", cfg.Annotation.MaxTurns,
		"temporal", cfg.Temporal.Enabled,
		"model_a", cfg.LLM.Tracks.A.Model,
		"model_b", cfg.LLM.Tracks.B.Model)

	if err := srv.ListenAndServe(ctx, cfg.Server); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("arena stopped")
	return nil
}
