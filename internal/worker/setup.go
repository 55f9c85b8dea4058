// Package worker builds the runtime dependencies shared by the API server and
// the Temporal worker process, and registers the submission workflow.
package worker

import (
	"errors"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"github.com/ahrav/go-arena/internal/config"
	"github.com/ahrav/go-arena/internal/llm"
	"github.com/ahrav/go-arena/internal/store"
	"github.com/ahrav/go-arena/pkg/events"
)

// Closer releases a resource opened during setup.
type Closer func() error

// closeAll runs closers in reverse order and joins their errors.
func closeAll(closers []Closer) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenStores opens every configured store. The returned Closer closes the
// ones holding resources.
func OpenStores(cfg config.StoreConfig) ([]store.Store, Closer, error) {
	var (
		stores  []store.Store
		closers []Closer
	)
	if cfg.CSVPath != "" {
		s, err := store.NewCSVStore(cfg.CSVPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open csv store: %w", err)
		}
		stores = append(stores, s)
	}
	if cfg.SQLitePath != "" {
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			_ = closeAll(closers)
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		stores = append(stores, s)
		closers = append(closers, s.Close)
	}
	if len(stores) == 0 {
		return nil, nil, errors.New("no store configured")
	}
	return stores, func() error { return closeAll(closers) }, nil
}

// OpenEventSink combines the configured sinks. With none configured it
// returns a no-op sink.
func OpenEventSink(cfg config.EventsConfig) (events.EventSink, Closer, error) {
	var (
		sinks   []events.EventSink
		closers []Closer
	)
	if cfg.JSONLPath != "" {
		s, err := events.NewJSONLSink(cfg.JSONLPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open jsonl sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if cfg.NATSURL != "" {
		s, err := events.DialNATSSink(cfg.NATSURL, cfg.SubjectPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("open nats sink: %w", err)
		}
		sinks = append(sinks, s)
		closers = append(closers, s.Close)
	}
	return events.NewMultiSink(sinks...), func() error { return closeAll(closers) }, nil
}

// InitializeLLMClient creates the model client from cfg.
func InitializeLLMClient(cfg *config.Config, logger *slog.Logger, metrics llm.Metrics) (*llm.Client, error) {
	opts := []llm.Option{llm.WithLogger(logger.With("component", "llm"))}
	if metrics != nil {
		opts = append(opts, llm.WithMetrics(metrics))
	}
	if cfg.Log.RedactPrompts {
		opts = append(opts, llm.WithRedactedPrompts())
	}

	c, err := llm.NewClient(&cfg.LLM, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return c, nil
}

// DialTemporal connects to the configured frontend.
func DialTemporal(cfg config.TemporalConfig, logger *slog.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    tlog.NewStructuredLogger(logger.With("component", "temporal")),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", cfg.HostPort, err)
	}
	return c, nil
}
