package collector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCollectTimeout bounds a single collector run.
const DefaultCollectTimeout = 5 * time.Second

// Results maps collector name to its result value.
type Results map[string]any

// Registry holds the host collectors and runs them concurrently on demand.
type Registry struct {
	collectors []Collector
	timeout    time.Duration
	logger     *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		timeout: DefaultCollectTimeout,
		logger:  logger,
	}
}

// Register adds c when it can run on this platform and reports whether it did.
func (r *Registry) Register(c Collector) bool {
	if !c.IsAvailable() {
		r.logger.Warn("Host collector not available, skipping", zap.String("name", c.Name()))
		return false
	}
	r.collectors = append(r.collectors, c)
	r.logger.Debug("Registered host collector", zap.String("name", c.Name()))
	return true
}

// Names lists the registered collectors in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.collectors))
	for i, c := range r.collectors {
		names[i] = c.Name()
	}
	return names
}

// Collect runs every collector concurrently, each under its own timeout.
// Successful results and per-collector errors are returned separately.
func (r *Registry) Collect(ctx context.Context) (Results, map[string]error) {
	results := make(Results, len(r.collectors))
	failures := make(map[string]error)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, c := range r.collectors {
		wg.Add(1)
		go func(col Collector) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			data, err := col.Collect(cctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[col.Name()] = err
				return
			}
			results[col.Name()] = data
		}(c)
	}

	wg.Wait()
	return results, failures
}

// HostStatus is the assembled view of the host running the monitor.
type HostStatus struct {
	Hostname         string            `json:"hostname,omitempty"`
	OS               string            `json:"os,omitempty"`
	Platform         string            `json:"platform,omitempty"`
	UptimeSeconds    uint64            `json:"uptime_seconds"`
	CPUUsage         float64           `json:"cpu_usage"`
	MemoryUsage      float64           `json:"memory_usage"`
	MemoryUsedBytes  uint64            `json:"memory_used_bytes"`
	MemoryTotalBytes uint64            `json:"memory_total_bytes"`
	Temperature      *float64          `json:"temperature"`
	Errors           map[string]string `json:"errors,omitempty"`
	CollectedAt      time.Time         `json:"collected_at"`
}

// Status runs all collectors and maps their results into a HostStatus.
// Failed collectors leave their fields zero and are listed in Errors.
func (r *Registry) Status(ctx context.Context) HostStatus {
	results, failures := r.Collect(ctx)
	status := HostStatus{CollectedAt: time.Now().UTC()}

	if info, ok := results["host"].(HostInfoResult); ok {
		status.Hostname = info.Hostname
		status.OS = info.OS
		status.Platform = info.Platform
		status.UptimeSeconds = info.UptimeSeconds
	}
	if pct, ok := results["cpu"].(float64); ok {
		status.CPUUsage = pct
	}
	if mem, ok := results["memory"].(MemoryResult); ok {
		status.MemoryUsage = mem.UsedPercent
		status.MemoryUsedBytes = mem.Used
		status.MemoryTotalBytes = mem.Total
	}
	if temp, ok := results["temperature"].(*float64); ok {
		status.Temperature = temp
	}

	if len(failures) > 0 {
		status.Errors = make(map[string]string, len(failures))
		for name, err := range failures {
			r.logger.Warn("Host collector failed", zap.String("collector", name), zap.Error(err))
			status.Errors[name] = err.Error()
		}
	}
	return status
}
