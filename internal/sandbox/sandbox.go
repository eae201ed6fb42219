package sandbox

import (
	"context"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/itsemmanuelingwani/sentra-lab/internal/logging"
)

// Enforcer applies and removes best-effort resource caps for a PID. The
// core contract is "best-effort apply, never fail the spawn": a real
// implementation backs platforms with a hierarchical resource-control
// filesystem; everywhere else a no-op records the cap and logs a warning.
type Enforcer interface {
	// Apply attaches cap to pid. Failures are logged, never returned as
	// fatal — the caller proceeds with the agent running unconstrained.
	Apply(ctx context.Context, pid int, cap Cap) error
	// Cleanup removes whatever per-PID control state Apply created.
	Cleanup(ctx context.Context, pid int) error
}

// Sandbox wraps an Enforcer with the reporting API that §4.14 adds.
type Sandbox struct {
	enforcer Enforcer
	logger   *logging.Logger
}

// New builds a Sandbox using the platform-appropriate Enforcer.
func New(logger *logging.Logger) *Sandbox {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Sandbox{enforcer: newPlatformEnforcer(logger), logger: logger}
}

// Apply validates cap and applies it to pid, degrading to a logged warning
// on enforcement failure rather than propagating an error.
func (s *Sandbox) Apply(ctx context.Context, pid int, cap Cap) {
	if err := cap.Validate(); err != nil {
		s.logger.Warn(ctx, "rejecting invalid resource cap", map[string]interface{}{"pid": pid, "cause": err.Error()})
		return
	}
	if err := s.enforcer.Apply(ctx, pid, cap); err != nil {
		s.logger.Warn(ctx, "resource cap enforcement failed, continuing unconstrained", map[string]interface{}{
			"pid": pid, "cause": err.Error(),
		})
	}
}

// Cleanup removes per-PID control state, logging rather than failing.
func (s *Sandbox) Cleanup(ctx context.Context, pid int) {
	if err := s.enforcer.Cleanup(ctx, pid); err != nil {
		s.logger.Warn(ctx, "resource cap cleanup failed", map[string]interface{}{"pid": pid, "cause": err.Error()})
	}
}

// Report samples pid's actual RSS and CPU usage via gopsutil. When the
// platform offers no usage data, Sampled is false and the usage fields are
// zero.
func (s *Sandbox) Report(pid int) Report {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return Report{PID: pid, Sampled: false}
	}
	mem, memErr := proc.MemoryInfo()
	cpuPct, cpuErr := proc.CPUPercent()
	if memErr != nil || cpuErr != nil {
		return Report{PID: pid, Sampled: false}
	}
	return Report{PID: pid, RSSBytes: mem.RSS, CPUPercent: cpuPct, Sampled: true}
}

// AggregateReport rolls up per-PID reports under the memory-scales/cpu-
// does-not/bandwidth-is-shared rule.
func (s *Sandbox) AggregateReport(pids []int, sharedBandwidthMbps int) AggregateReport {
	agg := AggregateReport{AgentCount: len(pids), SharedBandwidth: sharedBandwidthMbps}
	for _, pid := range pids {
		r := s.Report(pid)
		agg.TotalRSSBytes += r.RSSBytes
		agg.PerProcessCPU = append(agg.PerProcessCPU, r.CPUPercent)
	}
	return agg
}
