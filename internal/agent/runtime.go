// Package agent implements one interpreter child plus its stdio protocol
// wrapper: the Agent Runtime.
package agent

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/itsemmanuelingwani/sentra-lab/internal/logging"
	"github.com/itsemmanuelingwani/sentra-lab/internal/procmanager"
	"github.com/itsemmanuelingwani/sentra-lab/internal/sandbox"
	"github.com/itsemmanuelingwani/sentra-lab/internal/simerrors"
)

// sentinel is the line that terminates a child's response on stdout.
const sentinel = "__END__"

// LengthPrefixEnvVar, when set to "1" in the child's environment, opts the
// child into accepting a 4-byte big-endian length header before the code
// bytes on host->child framing, making it immune to a legitimate `__END__`
// appearing inside its own code payload. The child->host response
// terminator remains the text sentinel either way.
const LengthPrefixEnvVar = "SIMHOST_LENGTH_PREFIXED_INPUT"

// Config configures one Agent Runtime.
type Config struct {
	Kind            procmanager.Kind
	Env             []string
	Cap             sandbox.Cap
	ExecuteTimeout  time.Duration
	ShutdownTimeout time.Duration
	KillTimeout     time.Duration
	LengthPrefixed  bool
}

func (c Config) withDefaults() Config {
	if c.ExecuteTimeout <= 0 {
		c.ExecuteTimeout = 300 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.KillTimeout <= 0 {
		c.KillTimeout = 2 * time.Second
	}
	return c
}

// Runtime owns exactly one interpreter child.
type Runtime struct {
	mu      sync.Mutex
	cfg     Config
	procs   *procmanager.Manager
	sandbox *sandbox.Sandbox
	logger  *logging.Logger

	child          *procmanager.Child
	reader         *bufio.Reader
	executionCount int64
}

// New spawns the child, applies sandbox caps to the new PID, and stores
// the stdin handle.
func New(ctx context.Context, cfg Config, procs *procmanager.Manager, sb *sandbox.Sandbox, logger *logging.Logger) (*Runtime, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	cfg = cfg.withDefaults()

	r := &Runtime{cfg: cfg, procs: procs, sandbox: sb, logger: logger}
	if err := r.spawn(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runtime) spawn(ctx context.Context) error {
	env := append([]string{}, r.cfg.Env...)
	if r.cfg.LengthPrefixed {
		env = append(env, LengthPrefixEnvVar+"=1")
	}

	child, err := r.procs.Spawn(ctx, procmanager.SpawnConfig{Kind: r.cfg.Kind, Env: env})
	if err != nil {
		return err
	}

	r.sandbox.Apply(ctx, child.PID(), r.cfg.Cap)

	r.child = child
	r.reader = bufio.NewReader(child.Stdout)
	return nil
}

// Execute writes code to the child, flushes, and reads until the sentinel
// terminator, under cfg.ExecuteTimeout. It fails with execution-timeout if
// exceeded, runtime-error on IO failure.
func (r *Runtime) Execute(ctx context.Context, code []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.child == nil {
		return "", simerrors.RuntimeError("runtime has no live child", nil)
	}

	execCtx, cancel := context.WithTimeout(ctx, r.cfg.ExecuteTimeout)
	defer cancel()

	type result struct {
		output string
		err    error
	}
	done := make(chan result, 1)

	go func() {
		output, err := r.executeSync(code)
		done <- result{output: output, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			r.executionCount++
		}
		return res.output, res.err
	case <-execCtx.Done():
		_ = r.procs.Kill(r.child.PID())
		return "", simerrors.ExecutionTimeout(fmt.Sprintf("execution exceeded %s", r.cfg.ExecuteTimeout))
	}
}

func (r *Runtime) executeSync(code []byte) (string, error) {
	if r.cfg.LengthPrefixed {
		header := make([]byte, 4)
		binary.BigEndian.PutUint32(header, uint32(len(code)))
		if _, err := r.child.Stdin.Write(header); err != nil {
			return "", simerrors.RuntimeError("failed to write length header", err)
		}
	}

	if _, err := r.child.Stdin.Write(code); err != nil {
		return "", simerrors.RuntimeError("failed to write code to child stdin", err)
	}
	if _, err := r.child.Stdin.Write([]byte("\n" + sentinel + "\n")); err != nil {
		return "", simerrors.RuntimeError("failed to write sentinel to child stdin", err)
	}

	var out strings.Builder
	for {
		line, err := r.reader.ReadString('\n')
		if line != "" {
			trimmed := strings.TrimRight(line, "\n")
			if trimmed == sentinel {
				return out.String(), nil
			}
			out.WriteString(trimmed)
			out.WriteByte('\n')
		}
		if err != nil {
			if err == io.EOF {
				return out.String(), simerrors.RuntimeError("child closed stdout before sentinel", err)
			}
			return out.String(), simerrors.RuntimeError("failed to read child stdout", err)
		}
	}
}

// Reset shuts the child down and respawns a replacement.
func (r *Runtime) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.shutdownLocked(ctx)
	return r.spawn(ctx)
}

// HealthCheck reports whether the child is reachable.
func (r *Runtime) HealthCheck() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.child == nil {
		return false
	}
	return r.procs.IsRunning(r.child.PID())
}

// Shutdown terminates the child through the process manager's Kill:
// SIGTERM, a wait of up to 2 seconds, then SIGKILL. cfg.ShutdownTimeout and
// cfg.KillTimeout are not consulted. Safe to call on a partially-initialized
// or already-shut-down Runtime.
func (r *Runtime) Shutdown(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdownLocked(ctx)
}

func (r *Runtime) shutdownLocked(ctx context.Context) {
	if r.child == nil {
		return
	}
	pid := r.child.PID()
	if r.sandbox != nil {
		r.sandbox.Cleanup(ctx, pid)
	}
	_ = r.procs.Kill(pid)
	r.child = nil
	r.reader = nil
}

// ExecutionCount returns how many Execute calls have completed without error.
func (r *Runtime) ExecutionCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.executionCount
}

// PID returns the live child's PID, or 0 if none.
func (r *Runtime) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.child == nil {
		return 0
	}
	return r.child.PID()
}

// Kind returns the interpreter kind this runtime was constructed with.
func (r *Runtime) Kind() procmanager.Kind {
	return r.cfg.Kind
}
