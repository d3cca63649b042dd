package sysmon

import (
	"context"

	"github.com/lumenhub/lumen-backend-go/internal/core/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is the payload one fetch cycle produces
type Snapshot struct {
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	MemoryUsedMB      uint64  `json:"memory_used_mb"`
	DiskUsedPercent   float64 `json:"disk_used_percent"`
	UptimeSeconds     uint64  `json:"uptime_seconds"`
}

// Client collects local system metrics. The probe functions are fields so
// tests can substitute deterministic values.
type Client struct {
	diskPath string

	cpuPercent func(ctx context.Context) ([]float64, error)
	virtualMem func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	diskUsage  func(ctx context.Context, path string) (*disk.UsageStat, error)
	uptime     func(ctx context.Context) (uint64, error)
}

// NewClient creates a client probing the local host
func NewClient(diskPath string) *Client {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Client{
		diskPath: diskPath,
		cpuPercent: func(ctx context.Context) ([]float64, error) {
			return cpu.PercentWithContext(ctx, 0, false)
		},
		virtualMem: mem.VirtualMemoryWithContext,
		diskUsage:  disk.UsageWithContext,
		uptime:     host.UptimeWithContext,
	}
}

// Fetch collects one snapshot. It satisfies the coordinator's fetch
// contract: any failure maps onto the shared error taxonomy.
func (c *Client) Fetch(ctx context.Context) (interface{}, error) {
	cpuVals, err := c.cpuPercent(ctx)
	if err != nil {
		return nil, types.NewUnexpectedError("failed to read cpu usage", err)
	}

	vm, err := c.virtualMem(ctx)
	if err != nil {
		return nil, types.NewUnexpectedError("failed to read memory usage", err)
	}

	usage, err := c.diskUsage(ctx, c.diskPath)
	if err != nil {
		return nil, types.NewUnexpectedError("failed to read disk usage", err)
	}

	up, err := c.uptime(ctx)
	if err != nil {
		return nil, types.NewUnexpectedError("failed to read uptime", err)
	}

	snap := &Snapshot{
		MemoryUsedPercent: vm.UsedPercent,
		MemoryUsedMB:      vm.Used / 1024 / 1024,
		DiskUsedPercent:   usage.UsedPercent,
		UptimeSeconds:     up,
	}
	if len(cpuVals) > 0 {
		snap.CPUPercent = cpuVals[0]
	}
	return snap, nil
}
