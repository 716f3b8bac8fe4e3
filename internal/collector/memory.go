// RAM usage collector: gathers used and total memory of the host.
// Uses gopsutil for cross-platform memory metrics.

package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/mem"
)

// MemoryResult holds the collected memory usage data.
type MemoryResult struct {
	Used        uint64  `json:"used"`
	Total       uint64  `json:"total"`
	UsedPercent float64 `json:"used_percent"`
}

// MemoryCollector collects RAM usage metrics.
type MemoryCollector struct{}

// NewMemoryCollector creates a new memory collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{}
}

// Name returns the collector identifier.
func (c *MemoryCollector) Name() string { return "memory" }

// Collect gathers memory usage data.
func (c *MemoryCollector) Collect(ctx context.Context) (any, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return MemoryResult{
		Used:        v.Used,
		Total:       v.Total,
		UsedPercent: v.UsedPercent,
	}, nil
}

// IsAvailable returns true; memory metrics are available on all platforms.
func (c *MemoryCollector) IsAvailable() bool { return true }
