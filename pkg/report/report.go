// Package report renders job results as the text tables operators read:
// command echo, system info, job parameters, CPU usage, the three I/O
// tables, and latency percentiles.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/runningwild/spindle/pkg/config"
	"github.com/runningwild/spindle/pkg/engine"
	"github.com/runningwild/spindle/pkg/stats"
	"github.com/runningwild/spindle/pkg/sysinfo"
)

const mib = 1 << 20

// Devices maps target paths to their resolved block devices.
type Devices map[string]sysinfo.DeviceInfo

type ioKind int

const (
	ioTotal ioKind = iota
	ioRead
	ioWrite
)

// Write renders the full report.
func Write(w io.Writer, cfg *config.Config, sys *sysinfo.SysInfo, res *engine.JobResults, devices Devices) {
	fmt.Fprintf(w, "\nCommand Line: %s\n\n", cfg.CmdLine)

	writeSystemInfo(w, sys)
	writeParameters(w, cfg, devices)
	writeCPUUsage(w, sys, res)

	job := &cfg.Job
	fmt.Fprintln(w, "Total IO")
	writeIoTable(w, job, res, ioTotal)
	fmt.Fprintln(w, "Read IO")
	writeIoTable(w, job, res, ioRead)
	fmt.Fprintln(w, "Write IO")
	writeIoTable(w, job, res, ioWrite)
	fmt.Fprintln(w)

	if job.MeasureLatency {
		writePercentiles(w, res)
	}
}

func writeSystemInfo(w io.Writer, sys *sysinfo.SysInfo) {
	fmt.Fprintln(w, "System info:")
	fmt.Fprintf(w, "\tprocessor count: %d\n", len(sys.OnlineCPUs))
	if sys.CPUModel != "" {
		fmt.Fprintf(w, "\tprocessor: %s (%d cores, %d threads)\n", sys.CPUModel, sys.Cores, sys.Threads)
	}
	fmt.Fprintln(w)
}

func writeParameters(w io.Writer, cfg *config.Config, devices Devices) {
	job := &cfg.Job

	fmt.Fprintln(w, "Input parameters:")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "\tduration: %ds\n", job.Duration)
	fmt.Fprintf(w, "\twarm up time: %ds\n", job.Warmup)
	if job.Cooldown > 0 {
		fmt.Fprintf(w, "\tcool down time: %ds\n", job.Cooldown)
	}
	if job.MeasureLatency {
		fmt.Fprintln(w, "\tmeasuring latency")
	}
	if job.MeasureIopsStdDev {
		fmt.Fprintf(w, "\tgathering IOPs at intervals of %dms\n", job.BucketDurationMs)
	}
	if job.UseTimeSeed {
		fmt.Fprintln(w, "\tusing OS entropy for seed")
	} else {
		fmt.Fprintf(w, "\trandom seed: %d\n", job.RandSeed)
	}
	fmt.Fprintf(w, "\tio engine: %s\n", job.Backend)
	fmt.Fprintf(w, "\ttotal threads: %d\n", job.WorkerCount())

	for _, t := range job.Targets {
		fmt.Fprintf(w, "\tpath: '%s'\n", t.Path)
		fmt.Fprintf(w, "\t\tsize: %dB\n", t.Size)
		if t.DirectIO {
			fmt.Fprintln(w, "\t\tusing O_DIRECT")
		}
		if t.SyncIO {
			fmt.Fprintln(w, "\t\tusing O_SYNC")
		}
		fmt.Fprintf(w, "\t\tperforming mix test (read/write ratio: %d/%d)\n",
			100-t.WritePercentage, t.WritePercentage)
		fmt.Fprintf(w, "\t\tblock size: %d\n", t.BlockSize)
		if t.Mode == engine.RandomAligned {
			fmt.Fprintf(w, "\t\tusing random I/O (alignment: %d)\n", t.Stride)
		} else {
			fmt.Fprintf(w, "\t\tusing %s I/O (stride: %d)\n", t.Mode, t.Stride)
		}
		fmt.Fprintf(w, "\t\tnumber of outstanding I/O operations: %d\n", t.Overlap)
		if t.BaseOffset > 0 {
			fmt.Fprintf(w, "\t\tbase file offset: %d bytes\n", t.BaseOffset)
		}
		if t.MaxSize != t.Size {
			fmt.Fprintf(w, "\t\tmax file size: %d bytes\n", t.MaxSize)
		}
		if t.ThreadStride > 0 {
			fmt.Fprintf(w, "\t\tthread stride size: %d\n", t.ThreadStride)
		}
		switch t.Content {
		case engine.ZeroFill:
			fmt.Fprintln(w, "\t\tzeroing I/O buffers")
		case engine.RandomFill:
			fmt.Fprintln(w, "\t\tfilling I/O buffers with random data")
		}
		if t.SeparateBuffers {
			fmt.Fprintln(w, "\t\tseparating read and write buffers")
		}
		if !job.UseTotalThreads {
			fmt.Fprintf(w, "\t\tthreads per file: %d\n", t.ThreadsPerTarget)
		}
		if dev, ok := devices[t.Path]; ok {
			fmt.Fprintf(w, "\t\tblock device: %s\n", dev.Name)
			fmt.Fprintf(w, "\t\tdevice scheduler: %s\n", dev.Scheduler)
		}
	}
	fmt.Fprintln(w)
}

func writeCPUUsage(w io.Writer, sys *sysinfo.SysInfo, res *engine.JobResults) {
	fmt.Fprintln(w, " CPU  |  Usage  |   User  |  Kernel | IO Wait |   Idle ")
	fmt.Fprintln(w, "-------------------------------------------------------")

	ids := make([]int, 0, len(res.CPUUsage))
	for id := range res.CPUUsage {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var totals [5]float64
	for _, id := range ids {
		u := res.CPUUsage[id]
		cols := [5]float64{u.Usage, u.User, u.Kernel, u.Iowait, u.Idle}
		fmt.Fprintf(w, "%5d ", id)
		for i, v := range cols {
			totals[i] += v * 100
			fmt.Fprintf(w, "| %6.2f%% ", v*100)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "-------------------------------------------------------")
	fmt.Fprint(w, " avg: ")
	n := len(sys.OnlineCPUs)
	if n == 0 {
		n = 1
	}
	for i, v := range totals {
		sep := " | "
		if i == len(totals)-1 {
			sep = "\n"
		}
		fmt.Fprintf(w, "%6.2f%%%s", v/float64(n), sep)
	}
	fmt.Fprintln(w)
}

func writeIoTable(w io.Writer, job *engine.JobConfig, res *engine.JobResults, kind ioKind) {
	fmt.Fprint(w, "thread |           bytes |         I/Os |       MB/s |  I/O per s |")
	if job.MeasureIopsStdDev {
		fmt.Fprint(w, " IopsStdDev |")
	}
	if job.MeasureLatency {
		fmt.Fprint(w, " AvgLat(ms) | LatStdDev  |")
	}
	fmt.Fprintln(w, " file")
	bar(w, job)

	bucketSeconds := float64(job.BucketDurationMs) / 1000.0
	duration := float64(job.Duration)

	var totalBytes, totalIops uint64
	var totalBuckets stats.IoBucketizer
	totalHist := stats.NewHistogram()

	for _, th := range res.Threads {
		for _, tr := range th.Targets {
			bytes, iops := pick(tr, kind)

			fmt.Fprintf(w, "%6d | %15d | %12d | %10.2f | %10.2f ",
				th.ThreadID, bytes, iops,
				float64(bytes)/mib/duration,
				float64(iops)/duration)

			if job.MeasureIopsStdDev {
				var cur stats.IoBucketizer
				if kind == ioRead || kind == ioTotal {
					cur.Merge(&tr.ReadBuckets)
				}
				if kind == ioWrite || kind == ioTotal {
					cur.Merge(&tr.WriteBuckets)
				}
				totalBuckets.Merge(&cur)
				fmt.Fprintf(w, "| %10.2f ", cur.StdDev()/bucketSeconds)
			}

			if job.MeasureLatency {
				cur := stats.NewHistogram()
				if kind == ioRead || kind == ioTotal {
					cur.Merge(tr.ReadLatency)
				}
				if kind == ioWrite || kind == ioTotal {
					cur.Merge(tr.WriteLatency)
				}
				totalHist.Merge(cur)
				writeLatencyCols(w, cur)
			}

			totalBytes += bytes
			totalIops += iops
			fmt.Fprintf(w, "| %s (%dB)\n", tr.Target.Path, tr.Target.Size)
		}
	}

	bar(w, job)
	fmt.Fprintf(w, "total:   %15d | %12d | %10.2f | %10.2f ",
		totalBytes, totalIops,
		float64(totalBytes)/mib/duration,
		float64(totalIops)/duration)
	if job.MeasureIopsStdDev {
		fmt.Fprintf(w, "| %10.2f ", totalBuckets.StdDev()/bucketSeconds)
	}
	if job.MeasureLatency {
		writeLatencyCols(w, totalHist)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w)
}

func bar(w io.Writer, job *engine.JobConfig) {
	fmt.Fprint(w, "-------------------------------------------------------------------------------")
	if job.MeasureIopsStdDev {
		fmt.Fprint(w, "------------")
	}
	if job.MeasureLatency {
		fmt.Fprint(w, "------------------------")
	}
	fmt.Fprintln(w)
}

func pick(tr *engine.TargetResults, kind ioKind) (bytes, iops uint64) {
	switch kind {
	case ioRead:
		return tr.ReadBytesCount, tr.ReadIopsCount
	case ioWrite:
		return tr.WriteBytesCount, tr.WriteIopsCount
	default:
		return tr.BytesCount, tr.IopsCount
	}
}

func writeLatencyCols(w io.Writer, h *stats.Histogram) {
	if h.Samples() == 0 {
		fmt.Fprint(w, "|        N/A |        N/A ")
		return
	}
	mean, err := h.Mean()
	if err != nil {
		fmt.Fprint(w, "|        N/A |        N/A ")
		return
	}
	sd, _ := h.StdDev()
	fmt.Fprintf(w, "|   %8.3f |   %8.3f ", mean/1000.0, sd/1000.0)
}

var percentileRows = []struct {
	p     float64
	label string
}{
	{0.25, "25th"},
	{0.50, "50th"},
	{0.75, "75th"},
	{0.90, "90th"},
	{0.95, "95th"},
	{0.99, "99th"},
	{0.999, "3-nines"},
	{0.9999, "4-nines"},
	{0.99999, "5-nines"},
	{0.999999, "6-nines"},
	{0.9999999, "7-nines"},
	{0.99999999, "8-nines"},
	{0.999999999, "9-nines"},
}

// writePercentiles renders the latency percentile table. The total column
// is the disjoint union of every per-(thread, target) read and write
// histogram, so no sample is counted twice.
func writePercentiles(w io.Writer, res *engine.JobResults) {
	read := stats.NewHistogram()
	write := stats.NewHistogram()
	total := stats.NewHistogram()

	for _, th := range res.Threads {
		for _, tr := range th.Targets {
			read.Merge(tr.ReadLatency)
			write.Merge(tr.WriteLatency)
			total.Merge(tr.ReadLatency)
			total.Merge(tr.WriteLatency)
		}
	}

	if total.Samples() == 0 {
		return
	}

	cell := func(h *stats.Histogram, v int64, err error) string {
		if h.Samples() == 0 || err != nil {
			return "       N/A"
		}
		return fmt.Sprintf("%10.3f", float64(v)/1000.0)
	}

	fmt.Fprintln(w, "  %-ile |  Read (ms) | Write (ms) | Total (ms)")
	fmt.Fprintln(w, "----------------------------------------------")

	rmin, rerr := read.Min()
	wmin, werr := write.Min()
	tmin, _ := total.Min()
	fmt.Fprintf(w, "    min | %s | %s | %10.3f\n",
		cell(read, rmin, rerr), cell(write, wmin, werr), float64(tmin)/1000.0)

	for _, row := range percentileRows {
		rv, rerr := read.Percentile(row.p)
		wv, werr := write.Percentile(row.p)
		tv, _ := total.Percentile(row.p)
		fmt.Fprintf(w, "%7s | %s | %s | %10.3f\n",
			row.label, cell(read, rv, rerr), cell(write, wv, werr), float64(tv)/1000.0)
	}

	rmax, rerr := read.Max()
	wmax, werr := write.Max()
	tmax, _ := total.Max()
	fmt.Fprintf(w, "    max | %s | %s | %10.3f\n",
		cell(read, rmax, rerr), cell(write, wmax, werr), float64(tmax)/1000.0)
	fmt.Fprintln(w)
}
