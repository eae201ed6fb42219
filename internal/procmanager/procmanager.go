// Package procmanager locates interpreter executables and spawns and reaps
// the child processes that back each Agent Runtime.
package procmanager

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/itsemmanuelingwani/sentra-lab/internal/logging"
	"github.com/itsemmanuelingwani/sentra-lab/internal/simerrors"
)

func findProcess(pid int) (*os.Process, error) {
	return os.FindProcess(pid)
}

// Kind is one of the fixed, closed set of supported interpreter kinds.
type Kind string

const (
	KindScriptA   Kind = "script-A"
	KindScriptB   Kind = "script-B"
	KindCompiledC Kind = "compiled-C"
)

// interpreterSpec is the immutable definition of one interpreter kind:
// its executable name, the argument vector that forces an interactive,
// line-buffered REPL mode, and the source suffix agent code is given.
type interpreterSpec struct {
	executable   string
	defaultArgs  []string
	sourceSuffix string
}

var specs = map[Kind]interpreterSpec{
	KindScriptA:   {executable: "python3", defaultArgs: []string{"-u", "-i"}, sourceSuffix: ".py"},
	KindScriptB:   {executable: "node", defaultArgs: []string{"--interactive"}, sourceSuffix: ".js"},
	KindCompiledC: {executable: "simhost-agent-runner", defaultArgs: []string{"--stdin-repl"}, sourceSuffix: ".bin"},
}

// SpawnConfig configures a single child spawn.
type SpawnConfig struct {
	Kind Kind
	Env  []string
}

// Child is a running interpreter process with piped stdio.
type Child struct {
	Cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser
	Kind   Kind
}

// PID returns the OS process id, or 0 if the child has not started.
func (c *Child) PID() int {
	if c.Cmd == nil || c.Cmd.Process == nil {
		return 0
	}
	return c.Cmd.Process.Pid
}

// Manager locates and caches interpreter executable paths, and spawns and
// reaps child processes.
type Manager struct {
	mu        sync.Mutex
	pathCache map[Kind]string
	logger    *logging.Logger
}

// New constructs a Manager.
func New(logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{pathCache: make(map[Kind]string), logger: logger}
}

// resolvePath finds kind's executable on PATH, caching the result.
func (m *Manager) resolvePath(kind Kind) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if path, ok := m.pathCache[kind]; ok {
		return path, nil
	}

	spec, ok := specs[kind]
	if !ok {
		return "", simerrors.ConfigError("unsupported interpreter kind").WithDetails("kind", string(kind))
	}

	path, err := exec.LookPath(spec.executable)
	if err != nil {
		return "", simerrors.ProcessSpawnFailed("executable not found on PATH", err).WithDetails("executable", spec.executable)
	}

	m.pathCache[kind] = path
	return path, nil
}

// Spawn locates kind's executable and starts it with piped stdin/stdout/stderr.
func (m *Manager) Spawn(ctx context.Context, cfg SpawnConfig) (*Child, error) {
	spec, ok := specs[cfg.Kind]
	if !ok {
		return nil, simerrors.ConfigError("unsupported interpreter kind").WithDetails("kind", string(cfg.Kind))
	}

	path, err := m.resolvePath(cfg.Kind)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, path, spec.defaultArgs...)
	cmd.Env = cfg.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, simerrors.ProcessSpawnFailed("failed to open stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, simerrors.ProcessSpawnFailed("failed to open stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, simerrors.ProcessSpawnFailed("failed to open stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, simerrors.ProcessSpawnFailed("failed to start interpreter child", err)
	}

	m.logger.Info(ctx, "spawned interpreter child", map[string]interface{}{
		"kind": string(cfg.Kind), "pid": cmd.Process.Pid,
	})

	return &Child{Cmd: cmd, Stdin: stdin, Stdout: stdout, Stderr: stderr, Kind: cfg.Kind}, nil
}

// Kill performs graceful-then-forced termination: SIGTERM, wait up to 2
// seconds, then SIGKILL if the process is still reachable.
func (m *Manager) Kill(pid int) error {
	proc, err := findProcess(pid)
	if err != nil {
		return nil // already gone
	}

	_ = proc.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_, _ = proc.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(2 * time.Second):
		_ = proc.Signal(syscall.SIGKILL)
		return nil
	}
}

// IsRunning is a best-effort liveness probe.
func (m *Manager) IsRunning(pid int) bool {
	proc, err := findProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
