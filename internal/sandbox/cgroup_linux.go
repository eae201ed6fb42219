//go:build linux

package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/itsemmanuelingwani/sentra-lab/internal/logging"
)

const cgroupRoot = "/sys/fs/cgroup/simhost"

// cgroupEnforcer applies caps via a per-PID cgroup v2 hierarchy.
type cgroupEnforcer struct {
	logger *logging.Logger
}

func newPlatformEnforcer(logger *logging.Logger) Enforcer {
	return &cgroupEnforcer{logger: logger}
}

func (e *cgroupEnforcer) groupDir(pid int) string {
	return filepath.Join(cgroupRoot, fmt.Sprintf("agent-%d", pid))
}

func (e *cgroupEnforcer) Apply(ctx context.Context, pid int, cap Cap) error {
	dir := e.groupDir(pid)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cgroup dir: %w", err)
	}

	quotaUs := cap.CPUPercent * 1000 // percent of one core, in cpu.max's 100ms period units
	if err := writeKnob(dir, "cpu.max", fmt.Sprintf("%d 100000", quotaUs)); err != nil {
		return err
	}

	memBytes := int64(cap.MemoryMB) * 1024 * 1024
	if err := writeKnob(dir, "memory.max", fmt.Sprintf("%d", memBytes)); err != nil {
		return err
	}

	if err := writeKnob(dir, "cgroup.procs", fmt.Sprintf("%d", pid)); err != nil {
		return fmt.Errorf("attach pid to cgroup: %w", err)
	}

	return nil
}

func (e *cgroupEnforcer) Cleanup(ctx context.Context, pid int) error {
	return os.RemoveAll(e.groupDir(pid))
}

func writeKnob(dir, name, value string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte(value), 0o644)
}
