package engine

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/runningwild/spindle/pkg/clock"
	"github.com/runningwild/spindle/pkg/sysinfo"
)

// initDeadline bounds how long the controller waits for all workers to
// finish opening targets and pre-submitting their overlap.
const initDeadline = 10000 * time.Second

// JobConfig is everything a job needs beyond its targets' own options.
type JobConfig struct {
	Duration int // measurement seconds
	Warmup   int // seconds before the record window opens
	Cooldown int // drain seconds after the record window closes

	MeasureLatency    bool
	MeasureIopsStdDev bool
	BucketDurationMs  uint64

	UseTimeSeed bool
	RandSeed    uint64

	// TotalThreads mode: every worker drives every target. Otherwise each
	// target gets its own ThreadsPerTarget workers.
	UseTotalThreads bool
	TotalThreads    int

	DisableAffinity bool

	Backend Backend

	Targets []*Target
}

// WorkerCount returns how many worker threads the job will spawn.
func (c *JobConfig) WorkerCount() int {
	if c.UseTotalThreads {
		return c.TotalThreads
	}
	n := 0
	for _, t := range c.Targets {
		n += t.ThreadsPerTarget
	}
	return n
}

// ThreadResults is one worker's measurements, one entry per assigned target.
type ThreadResults struct {
	ThreadID int
	Targets  []*TargetResults
}

// JobResults is what the controller hands to the reporter after join.
type JobResults struct {
	CPUUsage map[int]sysinfo.CPUUsage
	Threads  []*ThreadResults
}

// runtimeFlags are the shared one-shot signals between controller and
// workers. run and failed transition at most once and record is raised
// once and lowered once, so relaxed atomic loads at completion boundaries
// are sufficient.
type runtimeFlags struct {
	run    atomic.Bool // true until drain
	record atomic.Bool // true only inside the measurement window
	failed atomic.Bool // set by any failing worker

	errWake  chan struct{} // closed once on the first failure
	wakeOnce sync.Once
}

// LiveStats are process-lifetime completion counters exported through the
// optional metrics endpoint. Updated by every worker on every completion.
type LiveStats struct {
	Ops        atomic.Uint64
	ReadOps    atomic.Uint64
	WriteOps   atomic.Uint64
	Bytes      atomic.Uint64
	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64
}

func (s *LiveStats) count(kind OpKind, bytes uint64) {
	s.Ops.Add(1)
	s.Bytes.Add(bytes)
	if kind == OpRead {
		s.ReadOps.Add(1)
		s.ReadBytes.Add(bytes)
	} else {
		s.WriteOps.Add(1)
		s.WriteBytes.Add(bytes)
	}
}

// Job owns the workers and runs the warm-up / measurement / drain
// lifecycle, aggregating results once all workers have joined.
type Job struct {
	cfg *JobConfig
	sys *sysinfo.SysInfo
	mgr Manager

	flags runtimeFlags

	// Absolute start of the record window, read by workers for bucket
	// timestamps and throttling.
	windowStartUs atomic.Uint64
	windowStartMs atomic.Uint64

	initMu    sync.Mutex
	initCount int
	initCh    chan struct{}

	workers []*Worker
	live    *LiveStats

	Results *JobResults
}

func NewJob(cfg *JobConfig, sys *sysinfo.SysInfo) *Job {
	j := &Job{cfg: cfg, sys: sys}
	j.flags.run.Store(true)
	j.flags.errWake = make(chan struct{})
	return j
}

// SetLive attaches live completion counters, exported by the metrics
// endpoint while the job runs.
func (j *Job) SetLive(s *LiveStats) {
	j.live = s
}

// fail flips the shared error state and wakes the controller out of any
// timed sleep. Safe to call from any worker, any number of times.
func (j *Job) fail() {
	j.flags.failed.Store(true)
	j.flags.run.Store(false)
	j.flags.wakeOnce.Do(func() { close(j.flags.errWake) })
}

func (j *Job) workerInitialized() {
	j.initMu.Lock()
	j.initCount++
	j.initMu.Unlock()
	j.initCh <- struct{}{}
}

// sleep waits for d unless a worker failure wakes it early.
func (j *Job) sleep(d time.Duration, phase string) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		if j.flags.failed.Load() {
			return fmt.Errorf("engine: error during %s", phase)
		}
		return nil
	case <-j.flags.errWake:
		return fmt.Errorf("engine: error during %s", phase)
	}
}

// buildWorkers assigns targets to workers. In total-threads mode every
// worker drives every target and its relative id equals its absolute id;
// otherwise workers are dealt out per target.
func (j *Job) buildWorkers() {
	n := j.cfg.WorkerCount()
	j.workers = make([]*Worker, n)
	threads := make([]*ThreadResults, n)
	for i := 0; i < n; i++ {
		j.workers[i] = &Worker{id: i, job: j}
		threads[i] = &ThreadResults{ThreadID: i}
	}

	next := 0
	for _, t := range j.cfg.Targets {
		limit := t.ThreadsPerTarget
		if j.cfg.UseTotalThreads {
			limit = j.cfg.TotalThreads
		}
		for rel := 0; rel < limit; rel++ {
			var w *Worker
			if j.cfg.UseTotalThreads {
				w = j.workers[rel]
			} else {
				w = j.workers[next]
				next++
			}

			res := newTargetResults(t, w.id)
			w.targets = append(w.targets, &ThreadTarget{
				Target:      t,
				Results:     res,
				relThreadID: rel,
			})
			threads[w.id].Targets = append(threads[w.id].Targets, res)
		}
	}

	j.Results = &JobResults{Threads: threads}
}

// Run executes the full lifecycle and returns the first error that
// invalidated the run.
func (j *Job) Run() error {
	mgr, err := NewManager(j.cfg.Backend)
	if err != nil {
		return err
	}
	j.mgr = mgr

	for _, t := range j.cfg.Targets {
		t.ResetCursor()
	}

	j.buildWorkers()
	n := len(j.workers)
	j.initCh = make(chan struct{}, n)

	totalOverlap := 0
	for _, w := range j.workers {
		for _, tt := range w.targets {
			totalOverlap += tt.Target.Overlap
		}
	}
	if err := j.mgr.Start(totalOverlap); err != nil {
		return fmt.Errorf("engine: start io manager: %w", err)
	}

	log.Debugf("starting %d workers (%s backend, %d outstanding ops)",
		n, j.cfg.Backend, totalOverlap)

	var wg sync.WaitGroup
	for i, w := range j.workers {
		wg.Add(1)
		cpu := -1
		if !j.cfg.DisableAffinity {
			cpu = j.sys.AffinityCPUs[i%len(j.sys.AffinityCPUs)]
		}
		go func(w *Worker, cpu int) {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			defer wg.Done()
			if cpu >= 0 {
				if err := sysinfo.PinToCPU(cpu); err != nil {
					w.abort(fmt.Errorf("pin to cpu %d: %w", cpu, err))
					return
				}
			}
			w.run()
		}(w, cpu)
	}

	// Wait for every worker to pre-submit its overlap, ticking at 1ms so
	// failures surface promptly, with a hard deadline on the whole phase.
	deadline := time.NewTimer(initDeadline)
	defer deadline.Stop()
initWait:
	for {
		j.initMu.Lock()
		done := j.initCount >= n
		j.initMu.Unlock()
		if done {
			break
		}
		select {
		case <-j.initCh:
		case <-j.flags.errWake:
			break initWait
		case <-time.After(time.Millisecond):
		case <-deadline.C:
			j.fail()
			wg.Wait()
			return fmt.Errorf("engine: worker initialization timed out")
		}
	}
	if j.flags.failed.Load() {
		wg.Wait()
		return fmt.Errorf("engine: error during worker initialization")
	}
	log.Debug("all workers initialized")

	if j.cfg.Warmup > 0 {
		log.Debugf("warming up for %ds", j.cfg.Warmup)
		if err := j.sleep(time.Duration(j.cfg.Warmup)*time.Second, "warmup"); err != nil {
			wg.Wait()
			return err
		}
	}

	cpuInit, err := sysinfo.SnapshotCPU()
	if err != nil {
		j.fail()
		wg.Wait()
		return err
	}

	log.Debugf("measuring for %ds", j.cfg.Duration)
	now := clock.NowNs()
	j.windowStartUs.Store(now / 1000)
	j.windowStartMs.Store(now / 1000000)

	j.flags.record.Store(true)
	sleepErr := j.sleep(time.Duration(j.cfg.Duration)*time.Second, "measurement")
	j.flags.record.Store(false)
	if sleepErr != nil {
		wg.Wait()
		return sleepErr
	}

	cpuEnd, err := sysinfo.SnapshotCPU()
	if err != nil {
		j.fail()
		wg.Wait()
		return err
	}

	if j.cfg.Cooldown > 0 {
		log.Debugf("cooling down for %ds", j.cfg.Cooldown)
		if err := j.sleep(time.Duration(j.cfg.Cooldown)*time.Second, "cooldown"); err != nil {
			wg.Wait()
			return err
		}
	}

	j.flags.run.Store(false)
	wg.Wait()

	if j.flags.failed.Load() {
		return fmt.Errorf("engine: worker failed during run")
	}

	j.Results.CPUUsage = sysinfo.UsageBetween(cpuInit, cpuEnd)
	log.Debug("job done")
	return nil
}
