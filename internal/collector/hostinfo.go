// Host identity collector: gathers hostname, OS and uptime.
// Uses gopsutil host info for cross-platform data.

package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/host"
)

// HostInfoResult holds the collected host identity.
type HostInfoResult struct {
	Hostname      string `json:"hostname"`
	OS            string `json:"os"`
	Platform      string `json:"platform"`
	UptimeSeconds uint64 `json:"uptime_seconds"`
}

// HostInfoCollector collects host identity and uptime.
type HostInfoCollector struct{}

// NewHostInfoCollector creates a new host info collector.
func NewHostInfoCollector() *HostInfoCollector {
	return &HostInfoCollector{}
}

// Name returns the collector identifier.
func (c *HostInfoCollector) Name() string { return "host" }

// Collect gathers the host identity and seconds since boot.
func (c *HostInfoCollector) Collect(ctx context.Context) (any, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return HostInfoResult{
		Hostname:      info.Hostname,
		OS:            info.OS,
		Platform:      info.Platform + " " + info.PlatformVersion,
		UptimeSeconds: info.Uptime,
	}, nil
}

// IsAvailable returns true; host info is available on all platforms.
func (c *HostInfoCollector) IsAvailable() bool { return true }
