package hoststats

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemStats describes the orchestrator host, reported by /health.
type SystemStats struct {
	CPUUsage    float64 `json:"cpu_usage"`
	RAMUsage    float64 `json:"ram_usage"`
	RAMTotal    uint64  `json:"ram_total"`
	RAMUsed     uint64  `json:"ram_used"`
	Load1       float64 `json:"load1"`
	Uptime      uint64  `json:"uptime"`
	Hostname    string  `json:"hostname"`
	Platform    string  `json:"platform"`
	CollectedAt int64   `json:"collected_at"`
}

// ProcessStats describes one local workload process.
type ProcessStats struct {
	PID        int32   `json:"pid"`
	Running    bool    `json:"running"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads"`
	Cmdline    string  `json:"cmdline,omitempty"`
}

type Collector struct {
	sampleWindow time.Duration
}

func NewCollector() *Collector {
	return &Collector{sampleWindow: 200 * time.Millisecond}
}

// Collect gathers what it can; individual probe failures leave zero values.
func (c *Collector) Collect() *SystemStats {
	stats := &SystemStats{
		CollectedAt: time.Now().Unix(),
	}

	cpuPercent, err := cpu.Percent(c.sampleWindow, false)
	if err == nil && len(cpuPercent) > 0 {
		stats.CPUUsage = cpuPercent[0]
	}

	memInfo, err := mem.VirtualMemory()
	if err == nil {
		stats.RAMUsage = memInfo.UsedPercent
		stats.RAMTotal = memInfo.Total
		stats.RAMUsed = memInfo.Used
	}

	if avg, err := load.Avg(); err == nil {
		stats.Load1 = avg.Load1
	}

	hostInfo, err := host.Info()
	if err == nil {
		stats.Uptime = hostInfo.Uptime
		stats.Hostname = hostInfo.Hostname
		stats.Platform = hostInfo.Platform
	}

	return stats
}

// Process reports resource usage of pid, or a not-running record when the
// process is gone.
func (c *Collector) Process(pid int) *ProcessStats {
	stats := &ProcessStats{PID: int32(pid)}
	if pid <= 0 {
		return stats
	}

	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return stats
	}
	running, err := p.IsRunning()
	if err != nil || !running {
		return stats
	}
	stats.Running = true

	if pct, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = pct
	}
	if memInfo, err := p.MemoryInfo(); err == nil {
		stats.RSSBytes = memInfo.RSS
	}
	if threads, err := p.NumThreads(); err == nil {
		stats.Threads = threads
	}
	if cmdline, err := p.Cmdline(); err == nil {
		stats.Cmdline = cmdline
	}
	return stats
}
