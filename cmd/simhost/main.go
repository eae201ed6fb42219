// Command simhost runs the deterministic agent simulation host: it loads
// configuration, wires the engine, starts the interceptor proxy, and
// drives the work-stealing scheduler until asked to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/itsemmanuelingwani/sentra-lab/internal/config"
	"github.com/itsemmanuelingwani/sentra-lab/internal/engine"
	"github.com/itsemmanuelingwani/sentra-lab/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New("simhost", cfg.Logging.Level, cfg.Logging.Format)
	runID := uuid.NewString()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, cfg, logger, runID)
	if err != nil {
		return fmt.Errorf("wire engine: %w", err)
	}

	logger.Info(ctx, "simhost started", map[string]interface{}{
		"run_id":        runID,
		"proxy_addr":    cfg.Interceptor.ListenAddr,
		"pool_size":     cfg.Pool.Size,
		"sched_workers": cfg.Scheduler.Workers,
	})

	for w := 0; w < cfg.Scheduler.Workers; w++ {
		go eng.RunWorker(ctx, w)
	}

	err = eng.StartInterceptor(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Runtime.ShutdownTimeout)
	defer cancel()
	if shutdownErr := eng.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error(ctx, "engine shutdown reported an error", shutdownErr, nil)
	}

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("interceptor: %w", err)
	}
	return nil
}
