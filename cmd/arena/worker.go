package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-arena/internal/config"
	"github.com/ahrav/go-arena/internal/submission"
	"github.com/ahrav/go-arena/internal/worker"
	"github.com/ahrav/go-arena/pkg/activity"
)

func workerCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the Temporal worker hosting the submission workflow",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, cfg)
		},
	}
}

func runWorker(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.Log, os.Stderr)

	stores, closeStores, err := worker.OpenStores(cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = closeStores() }()

	sink, closeSink, err := worker.OpenEventSink(cfg.Events)
	if err != nil {
		return err
	}
	defer func() { _ = closeSink() }()

	tc, err := worker.DialTemporal(cfg.Temporal, logger)
	if err != nil {
		return err
	}
	defer tc.Close()

	acts := submission.NewPersistActivities(activity.NewBaseActivities(sink), stores...)
	w := sdkworker.New(tc, cfg.Temporal.TaskQueue, sdkworker.Options{})
	worker.RegisterAll(w, acts)

	logger.Info("starting submission worker",
		"task_queue", cfg.Temporal.TaskQueue,
		"namespace", cfg.Temporal.Namespace,
		"stores", acts.StoreNames())

	stopCh := make(chan any)
	go func() {
		<-ctx.Done()
		close(stopCh)
	}()
	if err := w.Run(stopCh); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	return nil
}
