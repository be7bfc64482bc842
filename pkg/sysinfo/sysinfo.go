// Package sysinfo probes the facts the engine needs from the OS: online
// CPUs and affinity sets, per-CPU usage counters bracketing the measurement
// window, and block-device identity for each target.
package sysinfo

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v4/cpu"
)

// SysInfo captures the CPU topology view used for affinity and reporting.
type SysInfo struct {
	OnlineCPUs   []int
	AffinityCPUs []int

	// One-line hardware summary for the report header.
	CPUModel string
	Cores    uint32
	Threads  uint32
}

// New probes the system. affinitySpec is the -a argument ("0-3,7") or empty
// to affinitize over all online CPUs.
func New(affinitySpec string) (*SysInfo, error) {
	online, err := onlineCPUs()
	if err != nil {
		return nil, err
	}

	s := &SysInfo{OnlineCPUs: online}

	if affinitySpec != "" {
		set, err := ParseCPUSet(affinitySpec)
		if err != nil {
			return nil, err
		}
		s.AffinityCPUs = set
	} else {
		s.AffinityCPUs = online
	}

	// Hardware summary is best-effort; ghw needs sysfs and may fail in
	// minimal containers.
	if info, err := ghw.CPU(); err == nil && len(info.Processors) > 0 {
		s.CPUModel = info.Processors[0].Model
		s.Cores = info.TotalCores
		s.Threads = info.TotalThreads
	}

	return s, nil
}

func onlineCPUs() ([]int, error) {
	times, err := cpu.Times(true)
	if err != nil {
		return nil, fmt.Errorf("sysinfo: read per-cpu times: %w", err)
	}
	cpus := make([]int, 0, len(times))
	for _, t := range times {
		id, err := strconv.Atoi(strings.TrimPrefix(t.CPU, "cpu"))
		if err != nil {
			return nil, fmt.Errorf("sysinfo: unexpected cpu name %q", t.CPU)
		}
		cpus = append(cpus, id)
	}
	sort.Ints(cpus)
	if len(cpus) == 0 {
		return nil, fmt.Errorf("sysinfo: no online cpus found")
	}
	return cpus, nil
}

// ParseCPUSet parses comma-delimited groups of CPU ids, each a single id
// or an inclusive range: "0-3,7" = 0,1,2,3,7.
func ParseCPUSet(s string) ([]int, error) {
	seen := make(map[int]bool)
	for _, field := range strings.Split(s, ",") {
		lo, hi, found := strings.Cut(field, "-")
		first, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil || first < 0 {
			return nil, fmt.Errorf("sysinfo: invalid cpu set %q", s)
		}
		last := first
		if found {
			last, err = strconv.Atoi(strings.TrimSpace(hi))
			if err != nil || last < first {
				return nil, fmt.Errorf("sysinfo: invalid cpu set %q", s)
			}
		}
		for i := first; i <= last; i++ {
			seen[i] = true
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("sysinfo: empty cpu set %q", s)
	}
	cpus := make([]int, 0, len(seen))
	for id := range seen {
		cpus = append(cpus, id)
	}
	sort.Ints(cpus)
	return cpus, nil
}
