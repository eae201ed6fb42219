//go:build !linux

package sandbox

import (
	"context"

	"github.com/itsemmanuelingwani/sentra-lab/internal/logging"
)

// noopEnforcer records caps but cannot enforce them at the OS level on
// platforms without a hierarchical resource-control filesystem.
type noopEnforcer struct {
	logger *logging.Logger
}

func newPlatformEnforcer(logger *logging.Logger) Enforcer {
	return &noopEnforcer{logger: logger}
}

func (e *noopEnforcer) Apply(ctx context.Context, pid int, cap Cap) error {
	e.logger.Warn(ctx, "resource caps are not enforceable on this platform", map[string]interface{}{
		"pid": pid, "cpu_percent": cap.CPUPercent, "memory_mb": cap.MemoryMB,
	})
	return nil
}

func (e *noopEnforcer) Cleanup(ctx context.Context, pid int) error {
	return nil
}
