// Package sysinfo reads host resource information for the startup
// preflight report and the capacity gauges.
package sysinfo

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/mfreitas/tlc_ingest/internal/logctx"
)

// Report is a point-in-time snapshot of the host resources that matter
// for an ingest run: CPU count for sizing the worker pool, memory, and
// capacity of the staging volume.
type Report struct {
	Hostname     string
	Platform     string
	UptimeSec    uint64
	CPUs         int
	MemTotal     uint64
	MemAvailable uint64
	Staging      DiskReport
}

// DiskReport describes the volume backing a single path.
type DiskReport struct {
	Path        string
	Total       uint64
	Free        uint64
	UsedPercent float64
}

// Collect gathers a Report for the host and the volume backing
// stagingRoot. The directory must already exist.
func Collect(ctx context.Context, stagingRoot string) (*Report, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read memory info: %w", err)
	}

	cpus, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to count cpus: %w", err)
	}

	usage, err := disk.UsageWithContext(ctx, stagingRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read disk usage for %s: %w", stagingRoot, err)
	}

	r := &Report{
		CPUs:         cpus,
		MemTotal:     vm.Total,
		MemAvailable: vm.Available,
		Staging: DiskReport{
			Path:        stagingRoot,
			Total:       usage.Total,
			Free:        usage.Free,
			UsedPercent: usage.UsedPercent,
		},
	}

	// Platform details are informational only, so a failure here does
	// not fail the preflight.
	if hi, err := host.InfoWithContext(ctx); err == nil {
		r.Hostname = hi.Hostname
		r.Platform = fmt.Sprintf("%s %s", hi.Platform, hi.PlatformVersion)
		r.UptimeSec = hi.Uptime
	}

	return r, nil
}

// DiskFree returns the free bytes on the volume backing path.
func DiskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}

	return usage.Free, nil
}

// Log writes the report through the context logger in one line per
// concern, with sizes rendered human-readable.
func (r *Report) Log(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("host resources",
		"hostname", r.Hostname,
		"platform", r.Platform,
		"cpus", r.CPUs,
		"mem_total", humanize.IBytes(r.MemTotal),
		"mem_available", humanize.IBytes(r.MemAvailable))
	logger.Info("staging volume",
		"path", r.Staging.Path,
		"total", humanize.IBytes(r.Staging.Total),
		"free", humanize.IBytes(r.Staging.Free),
		"used_percent", fmt.Sprintf("%.1f", r.Staging.UsedPercent))
}
