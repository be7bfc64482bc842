// Command spindle drives configurable read/write workloads against files
// or block devices and reports throughput, IOPS, CPU usage, and latency
// percentiles.
//
// Usage: spindle [options] FILE [FILE...]
//
// Options follow diskspd conventions: single letters with attached or
// separate arguments, e.g. "spindle -b4K -r -o8 -t2 -d30 -Sd /dev/nvme0n1".
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/runningwild/spindle/pkg/clock"
	"github.com/runningwild/spindle/pkg/config"
	"github.com/runningwild/spindle/pkg/engine"
	"github.com/runningwild/spindle/pkg/layout"
	"github.com/runningwild/spindle/pkg/metrics"
	"github.com/runningwild/spindle/pkg/report"
	"github.com/runningwild/spindle/pkg/sysinfo"
)

// The engine timestamps completions in microseconds, so the monotonic
// clock must resolve at least that fine.
const minClockResolutionNs = 1000

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Parse(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spindle: %v\n", err)
		fmt.Fprintln(os.Stderr, "usage: spindle [options] FILE [FILE...]")
		return 1
	}

	if cfg.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	if err := clock.Configure(minClockResolutionNs); err != nil {
		log.Error(err)
		return 1
	}

	sys, err := sysinfo.New(cfg.AffinitySpec)
	if err != nil {
		log.Error(err)
		return 1
	}

	if err := cfg.Finalize(); err != nil {
		log.Error(err)
		return 1
	}

	if err := layout.Prepare(cfg.Job.Targets); err != nil {
		log.Error(err)
		return 1
	}

	devices := make(report.Devices, len(cfg.Job.Targets))
	for _, t := range cfg.Job.Targets {
		dev, err := sysinfo.DeviceForPath(t.Path)
		if err != nil {
			log.Error(err)
			return 1
		}
		devices[t.Path] = dev
	}

	job := engine.NewJob(&cfg.Job, sys)

	if cfg.MetricsAddr != "" {
		live := &engine.LiveStats{}
		job.SetLive(live)
		metrics.Serve(cfg.MetricsAddr, live)
	}

	if err := job.Run(); err != nil {
		log.Error(err)
		return 1
	}

	report.Write(os.Stdout, cfg, sys, job.Results, devices)
	return 0
}
