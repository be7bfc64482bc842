package report

import (
	"strings"
	"testing"

	"github.com/runningwild/spindle/pkg/config"
	"github.com/runningwild/spindle/pkg/engine"
	"github.com/runningwild/spindle/pkg/stats"
	"github.com/runningwild/spindle/pkg/sysinfo"
)

func statsHist(vals ...int64) *stats.Histogram {
	h := stats.NewHistogram()
	for _, v := range vals {
		h.Add(v)
	}
	return h
}

func sampleResults(job *engine.JobConfig) *engine.JobResults {
	tr := &engine.TargetResults{
		Target:          job.Targets[0],
		ReadLatency:     statsHist(100, 200, 300, 1000),
		WriteLatency:    statsHist(500, 600),
		BytesCount:      6 * 4096,
		ReadBytesCount:  4 * 4096,
		WriteBytesCount: 2 * 4096,
		IopsCount:       6,
		ReadIopsCount:   4,
		WriteIopsCount:  2,
	}
	return &engine.JobResults{
		CPUUsage: map[int]sysinfo.CPUUsage{
			0: {Usage: 0.5, User: 0.25, Kernel: 0.25, Iowait: 0.1, Idle: 0.4},
		},
		Threads: []*engine.ThreadResults{
			{ThreadID: 0, Targets: []*engine.TargetResults{tr}},
		},
	}
}

func sampleConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]string{"spindle", "-b4K", "-d1", "-L", "/tmp/target"})
	if err != nil {
		t.Fatal(err)
	}
	tg := cfg.Job.Targets[0]
	tg.Size = 1 << 20
	tg.MaxSize = 1 << 20
	return cfg
}

func TestWriteReport(t *testing.T) {
	cfg := sampleConfig(t)
	res := sampleResults(&cfg.Job)
	sys := &sysinfo.SysInfo{OnlineCPUs: []int{0}, AffinityCPUs: []int{0}}

	var sb strings.Builder
	Write(&sb, cfg, sys, res, Devices{"/tmp/target": {Name: "sda1", Scheduler: "none"}})
	out := sb.String()

	for _, want := range []string{
		"Command Line: spindle -b4K -d1 -L /tmp/target",
		"processor count: 1",
		"Total IO",
		"Read IO",
		"Write IO",
		"block device: sda1",
		"  %-ile |",
		"9-nines",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q", want)
		}
	}

	// 6 ops of 4 KiB over 1s.
	if !strings.Contains(out, "24576") {
		t.Error("report missing total byte count")
	}
}

func TestPercentileTotalsAreDisjointUnion(t *testing.T) {
	cfg := sampleConfig(t)
	res := sampleResults(&cfg.Job)
	sys := &sysinfo.SysInfo{OnlineCPUs: []int{0}}

	var sb strings.Builder
	Write(&sb, cfg, sys, res, nil)
	out := sb.String()

	// Total max = max over read (1000us) and write (600us) = 1.000 ms; a
	// double-merge would not change max, but the median would shift. With
	// samples 100,200,300,500,600,1000 the total median is 0.300 ms.
	lines := strings.Split(out, "\n")
	var medianLine string
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "50th") {
			medianLine = l
			break
		}
	}
	if medianLine == "" {
		t.Fatal("no 50th percentile row in report")
	}
	if !strings.HasSuffix(strings.TrimSpace(medianLine), "0.300") {
		t.Errorf("total median line %q should end in 0.300", medianLine)
	}
}

func TestReportWithoutLatency(t *testing.T) {
	cfg, err := config.Parse([]string{"spindle", "/tmp/target"})
	if err != nil {
		t.Fatal(err)
	}
	res := sampleResults(&cfg.Job)
	sys := &sysinfo.SysInfo{OnlineCPUs: []int{0}}

	var sb strings.Builder
	Write(&sb, cfg, sys, res, nil)
	if strings.Contains(sb.String(), "%-ile") {
		t.Error("percentile table printed without -L")
	}
}
