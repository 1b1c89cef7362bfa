package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"market-chat/contract"
	"market-chat/observability"
)

var _ contract.Worker = (*HealthMonitor)(nil)

// HealthMonitor samples the process's own CPU and memory usage on an
// interval and publishes the readings to the stats manager, where the
// debug endpoint exposes them.
type HealthMonitor struct {
	interval time.Duration
	log      *slog.Logger
	stats    *observability.Manager
}

func NewHealthMonitor(interval time.Duration, log *slog.Logger, stats *observability.Manager) *HealthMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &HealthMonitor{interval: interval, log: log, stats: stats}
}

func (h *HealthMonitor) Run(ctx context.Context) error {
	h.log.Info("Starting health monitoring worker")
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rss, cpu, err := getSelfStats(p)
			if err != nil {
				h.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			h.stats.SetProcessStats(cpu, rss)
			h.log.Debug("Process health sampled", "cpu_percent", cpu, "rss_bytes", rss)
		}
	}
}

// getSelfStats retrieves memory and CPU usage for the given process.
func getSelfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
