// Package engine wires the twelve components together into one runnable
// simulation host: ring queue, recorder, blob store, routing table, cert
// mint, interceptor, sandbox, process manager, agent pool, and scheduler.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/itsemmanuelingwani/sentra-lab/internal/agent"
	"github.com/itsemmanuelingwani/sentra-lab/internal/agentpool"
	"github.com/itsemmanuelingwani/sentra-lab/internal/blobstore"
	"github.com/itsemmanuelingwani/sentra-lab/internal/certmint"
	"github.com/itsemmanuelingwani/sentra-lab/internal/compress"
	"github.com/itsemmanuelingwani/sentra-lab/internal/config"
	"github.com/itsemmanuelingwani/sentra-lab/internal/interceptor"
	"github.com/itsemmanuelingwani/sentra-lab/internal/logging"
	"github.com/itsemmanuelingwani/sentra-lab/internal/procmanager"
	"github.com/itsemmanuelingwani/sentra-lab/internal/queue"
	"github.com/itsemmanuelingwani/sentra-lab/internal/recorder"
	"github.com/itsemmanuelingwani/sentra-lab/internal/routing"
	"github.com/itsemmanuelingwani/sentra-lab/internal/sandbox"
	"github.com/itsemmanuelingwani/sentra-lab/internal/scheduler"
	"github.com/itsemmanuelingwani/sentra-lab/internal/simerrors"
)

// Engine holds every wired component for one simulation run.
type Engine struct {
	cfg    *config.Config
	logger *logging.Logger

	Queue       *queue.Queue
	Recorder    *recorder.Recorder
	BlobStore   *blobstore.Store
	Routes      *routing.Table
	CertMint    *certmint.Mint
	Sandbox     *sandbox.Sandbox
	ProcManager *procmanager.Manager
	Pool        *agentpool.Pool
	Scheduler   *scheduler.Scheduler
	Interceptor *interceptor.Interceptor

	runID string
}

// New constructs every component, spawns the agent pool's runtimes, and
// starts the recorder's drain task. It does not start the interceptor's
// listener; StartInterceptor does that.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger, runID string) (*Engine, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg == nil {
		cfg = config.Default()
	}

	q := queue.New(cfg.Queue.Capacity)

	store, err := blobstore.Open(cfg.BlobStore.BaseDir, logger)
	if err != nil {
		return nil, err
	}

	rec := recorder.New(recorder.Config{
		BatchSize:        cfg.Recorder.BatchSize,
		FlushInterval:    cfg.Recorder.FlushInterval,
		CompressionLevel: compress.Level(cfg.Recorder.CompressionLevel),
		MaxQueueSize:      cfg.Recorder.MaxQueueSize,
	}, q, store, logger)

	routes := routing.NewWithDefaults()

	ca, err := certmint.GenerateCA()
	if err != nil {
		return nil, simerrors.RuntimeError("failed to generate interception CA", err)
	}
	mint := certmint.NewMint(ca)

	caBundlePath := filepath.Join(cfg.BlobStore.BaseDir, "ca-bundle.pem")
	if err := os.WriteFile(caBundlePath, mint.CARootPEM(), 0o644); err != nil {
		return nil, simerrors.StorageFailed("failed to write CA bundle for agent children", err)
	}

	sb := sandbox.New(logger)
	procs := procmanager.New(logger)

	sched := scheduler.New(cfg.Scheduler.Workers)

	ic := interceptor.New(interceptor.Config{
		ListenAddr:       cfg.Interceptor.ListenAddr,
		LogHeaders:       cfg.Interceptor.LogHeaders,
		LogBodies:        cfg.Interceptor.LogBodies,
		MaxLoggedBodyLen: cfg.Interceptor.MaxLoggedBodyLen,
	}, routes, mint, rec, logger, runID)

	e := &Engine{
		cfg:         cfg,
		logger:      logger,
		Queue:       q,
		Recorder:    rec,
		BlobStore:   store,
		Routes:      routes,
		CertMint:    mint,
		Sandbox:     sb,
		ProcManager: procs,
		Scheduler:   sched,
		Interceptor: ic,
		runID:       runID,
	}

	childEnv := buildChildEnv(routes, caBundlePath, cfg)

	factory := func(ctx context.Context, kind procmanager.Kind) (*agent.Runtime, error) {
		return agent.New(ctx, agent.Config{
			Kind:            kind,
			Env:             childEnv,
			Cap:             sandbox.Cap{CPUPercent: cfg.Sandbox.CPUPercent, MemoryMB: cfg.Sandbox.MemoryMB, BandwidthMbps: cfg.Sandbox.BandwidthMbps},
			ExecuteTimeout:  cfg.Runtime.ExecuteTimeout,
			ShutdownTimeout: cfg.Runtime.ShutdownTimeout,
			KillTimeout:     cfg.Runtime.KillTimeout,
		}, procs, sb, logger)
	}

	pool, err := agentpool.New(ctx, cfg.Pool.Size, []procmanager.Kind{procmanager.KindScriptA, procmanager.KindScriptB}, factory, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	e.Pool = pool

	rec.Start(ctx)

	return e, nil
}

// StartInterceptor runs the proxy listener; it blocks until ctx is
// cancelled or the listener fails.
func (e *Engine) StartInterceptor(ctx context.Context) error {
	return e.Interceptor.ListenAndServe(ctx)
}

// Submit pushes one task onto the scheduler's injector queue.
func (e *Engine) Submit(code []byte, priority uint32) {
	e.Scheduler.Submit(scheduler.Task{
		ID:         fmt.Sprintf("%s-%d", e.runID, time.Now().UnixNano()),
		Code:       code,
		Priority:   priority,
		SubmitTime: time.Now(),
	})
}

// RunWorker drains tasks for workerID forever, executing each one against
// a runtime acquired from the pool, until ctx is cancelled.
func (e *Engine) RunWorker(ctx context.Context, workerID int) {
	for {
		if ctx.Err() != nil {
			return
		}
		task := e.Scheduler.GetTask(workerID)

		rt, err := e.Pool.Acquire(ctx)
		if err != nil {
			return
		}

		if _, err := rt.Execute(ctx, task.Code); err != nil {
			e.logger.Warn(ctx, "task execution failed", map[string]interface{}{"task_id": task.ID, "cause": err.Error()})
		}

		e.Pool.Release(ctx, rt)
	}
}

// buildChildEnv assembles the §6 child process environment contract: a
// base-URL and mock API key var per routed service, the CA bundle path
// trusting the interception mint, the syscall-interception preload-library
// path (Linux only), and the interception-category flags.
func buildChildEnv(routes *routing.Table, caBundlePath string, cfg *config.Config) []string {
	var env []string

	for _, route := range routes.GetRoutes() {
		env = append(env,
			agent.ServiceBaseURLEnvVar(route.SourceDomain)+"="+route.TargetURL,
			agent.ServiceAPIKeyEnvVar(route.SourceDomain)+"="+agent.MockAPIKeyValue,
		)
	}

	env = append(env, agent.EnvCABundle+"="+caBundlePath)

	if runtime.GOOS == "linux" && cfg.Sandbox.PreloadLibrary != "" {
		env = append(env, agent.EnvPreloadLibrary+"="+cfg.Sandbox.PreloadLibrary)
	}

	env = append(env,
		agent.EnvInterceptNetwork+"=1",
		agent.EnvInterceptFilesystem+"=1",
		agent.EnvInterceptProcess+"=1",
	)

	return env
}

// Shutdown tears down every component in dependency order: recorder
// first (so every queued event is flushed), then the agent pool, then
// the blob store.
func (e *Engine) Shutdown(ctx context.Context) error {
	if err := e.Recorder.Shutdown(ctx); err != nil {
		e.logger.Warn(ctx, "recorder shutdown reported an error", map[string]interface{}{"cause": err.Error()})
	}
	e.Pool.Shutdown(ctx)
	return e.BlobStore.Close()
}
