package sysinfo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
)

// CPUTimes is one CPU's cumulative time split, in seconds.
type CPUTimes struct {
	User   float64
	Nice   float64
	Kernel float64
	Idle   float64
	Iowait float64
}

// CPUUsage is one CPU's usage over an interval, as fractions of total time.
type CPUUsage struct {
	Usage  float64 // non-idle, non-iowait
	User   float64 // user + nice
	Kernel float64
	Iowait float64
	Idle   float64
}

// SnapshotCPU reads cumulative per-CPU counters. Two snapshots bracket the
// measurement window; UsageBetween turns the deltas into fractions of
// total time.
func SnapshotCPU() (map[int]CPUTimes, error) {
	times, err := cpu.Times(true)
	if err != nil {
		return nil, fmt.Errorf("sysinfo: snapshot cpu times: %w", err)
	}
	snap := make(map[int]CPUTimes, len(times))
	for _, t := range times {
		id, err := strconv.Atoi(strings.TrimPrefix(t.CPU, "cpu"))
		if err != nil {
			return nil, fmt.Errorf("sysinfo: unexpected cpu name %q", t.CPU)
		}
		snap[id] = CPUTimes{
			User:   t.User,
			Nice:   t.Nice,
			Kernel: t.System,
			Idle:   t.Idle,
			Iowait: t.Iowait,
		}
	}
	return snap, nil
}

// UsageBetween computes per-CPU usage fractions from two snapshots.
func UsageBetween(init, end map[int]CPUTimes) map[int]CPUUsage {
	usage := make(map[int]CPUUsage, len(init))
	for id, a := range init {
		b, ok := end[id]
		if !ok {
			continue
		}
		user := (b.User + b.Nice) - (a.User + a.Nice)
		kernel := b.Kernel - a.Kernel
		idle := b.Idle - a.Idle
		iowait := b.Iowait - a.Iowait
		total := user + kernel + idle + iowait
		if total <= 0 {
			usage[id] = CPUUsage{}
			continue
		}
		usage[id] = CPUUsage{
			Usage:  (user + kernel) / total,
			User:   user / total,
			Kernel: kernel / total,
			Iowait: iowait / total,
			Idle:   idle / total,
		}
	}
	return usage
}
