// Package sandbox applies best-effort CPU, memory, and bandwidth caps to a
// spawned agent process, and reports on actual resource usage for
// aggregation.
package sandbox

import "github.com/itsemmanuelingwani/sentra-lab/internal/simerrors"

// Cap is a validated resource cap for one agent process.
type Cap struct {
	CPUPercent    int // 1-400, percent of a core
	MemoryMB      int // 64-16384
	BandwidthMbps int // 1-10000, 0 means unset
}

// Validate checks Cap against the bounds fixed in §4.7.
func (c Cap) Validate() error {
	if c.CPUPercent < 1 || c.CPUPercent > 400 {
		return simerrors.ConfigError("cpu quota must be between 1 and 400 percent of a core").
			WithDetails("cpu_percent", c.CPUPercent)
	}
	if c.MemoryMB < 64 || c.MemoryMB > 16384 {
		return simerrors.ConfigError("memory cap must be between 64 and 16384 MB").
			WithDetails("memory_mb", c.MemoryMB)
	}
	if c.BandwidthMbps != 0 && (c.BandwidthMbps < 1 || c.BandwidthMbps > 10000) {
		return simerrors.ConfigError("bandwidth cap must be between 1 and 10000 Mbps").
			WithDetails("bandwidth_mbps", c.BandwidthMbps)
	}
	return nil
}

// Report is a best-effort snapshot of a PID's actual resource usage.
type Report struct {
	PID        int
	RSSBytes   uint64
	CPUPercent float64
	Sampled    bool // false when the platform offered no usage data
}

// AggregateReport is the reporting-only rollup across multiple agent PIDs,
// per the aggregation rule in §4.7: memory scales linearly by agent count,
// CPU is per-process and does not aggregate, bandwidth is shared and does
// not aggregate.
type AggregateReport struct {
	AgentCount      int
	TotalRSSBytes   uint64
	PerProcessCPU   []float64
	SharedBandwidth int
}
