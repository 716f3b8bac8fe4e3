// CPU usage collector: gathers overall utilization of the host.
// Uses gopsutil for cross-platform CPU metrics.

package collector

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// CPUCollector collects overall CPU usage percentage.
type CPUCollector struct {
	window time.Duration
}

// NewCPUCollector creates a CPU collector measuring over window.
func NewCPUCollector(window time.Duration) *CPUCollector {
	return &CPUCollector{window: window}
}

// Name returns the collector identifier.
func (c *CPUCollector) Name() string { return "cpu" }

// Collect blocks for the sampling window and returns the usage percentage as float64.
func (c *CPUCollector) Collect(ctx context.Context) (any, error) {
	overall, err := cpu.PercentWithContext(ctx, c.window, false)
	if err != nil {
		return nil, err
	}
	if len(overall) == 0 {
		return 0.0, nil
	}
	return overall[0], nil
}

// IsAvailable returns true; CPU metrics are available on all platforms.
func (c *CPUCollector) IsAvailable() bool { return true }
