package engine

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/runningwild/spindle/pkg/clock"
)

// Worker drives a steady queue of outstanding operations against its
// assigned targets, recording per-target results while the record flag
// is up. One worker owns one manager group.
type Worker struct {
	id  int
	job *Job

	targets []*ThreadTarget
	rng     *Rng
}

func (w *Worker) abort(err error) {
	log.WithField("worker", w.id).Error(err)
	w.job.fail()
}

// run is the worker thread body: open targets, pre-submit the overlap,
// signal initialization, then cycle completions until the controller
// lowers the run flag.
func (w *Worker) run() {
	cfg := w.job.cfg

	if cfg.UseTimeSeed {
		w.rng = NewTimeSeededRng()
	} else {
		w.rng = NewRng(cfg.RandSeed)
	}

	totalOverlap := 0

	var bucketMs uint64
	var validBuckets int
	if cfg.MeasureIopsStdDev {
		bucketMs = cfg.BucketDurationMs
		validBuckets = int((uint64(cfg.Duration)*1000 + bucketMs - 1) / bucketMs)
	}

	defer func() {
		for _, tt := range w.targets {
			tt.close()
		}
	}()

	for _, tt := range w.targets {
		tt.rng = w.rng
		totalOverlap += tt.Target.Overlap

		if cfg.MeasureIopsStdDev {
			tt.Results.ReadBuckets.Initialize(bucketMs, validBuckets)
			tt.Results.WriteBuckets.Initialize(bucketMs, validBuckets)
		}

		if err := tt.open(); err != nil {
			w.abort(err)
			return
		}
	}

	mgr := w.job.mgr
	if err := mgr.CreateGroup(w.id, totalOverlap); err != nil {
		w.abort(fmt.Errorf("create io group: %w", err))
		return
	}

	// The thread-wide throttle uses the first target's cap, matching the
	// reference behavior for multi-target workers.
	threadThroughput := w.targets[0].Target.MaxThroughput

	for _, tt := range w.targets {
		t := tt.Target
		offset := tt.StartOffset()

		for i := 0; i < t.Overlap; i++ {
			readBuf := tt.buffer.Slot(i, t.BlockSize)
			writeBuf := readBuf
			if t.SeparateBuffers {
				writeBuf = tt.writeBuffer.Bytes()
			}

			kind := OpRead
			if w.rng.Percentage() <= t.WritePercentage {
				kind = OpWrite
			}

			op, err := mgr.Construct(kind, tt.file.Fd(), offset, readBuf, writeBuf,
				t.BlockSize, w.id, tt, clock.NowUs())
			if err != nil {
				w.abort(fmt.Errorf("construct op: %w", err))
				return
			}
			if err := mgr.Enqueue(op); err != nil {
				w.abort(fmt.Errorf("enqueue op: %w", err))
				return
			}

			offset = tt.NextOffset(offset)
		}
	}

	if err := mgr.Submit(w.id); err != nil {
		w.abort(fmt.Errorf("submit initial ops: %w", err))
		return
	}

	w.job.workerInitialized()
	log.WithField("worker", w.id).Debug("initialized")

	var threadBytes int64

	for w.job.flags.run.Load() {
		// Throttle gate: estimate this thread's bytes/ms over the record
		// window so far and back off when over the cap.
		if threadThroughput > 0 && w.job.flags.record.Load() {
			sinceMs := clock.NowMs() - w.job.windowStartMs.Load()
			if sinceMs != 0 && threadBytes/int64(sinceMs) > threadThroughput {
				time.Sleep(time.Millisecond)
				continue
			}
		}

		op, err := mgr.Wait(w.id)
		if err != nil {
			w.abort(fmt.Errorf("wait for completion: %w", err))
			return
		}

		// Exiting right after the wait improves duration accuracy on
		// cancellation.
		if !w.job.flags.run.Load() {
			break
		}

		tt := op.State
		if op.Errno != 0 {
			w.abort(fmt.Errorf("io error on %s: %v", tt.Target.Path, op.Errno))
			return
		}
		if op.Res != tt.Target.BlockSize {
			w.abort(fmt.Errorf("short io on %s: %d of %d bytes", tt.Target.Path, op.Res, tt.Target.BlockSize))
			return
		}

		nowUs := clock.NowUs()

		if w.job.flags.record.Load() {
			threadBytes += tt.Target.BlockSize

			res := tt.Results
			res.BytesCount += uint64(op.Res)
			res.IopsCount++

			var sinceUs, opUs uint64
			if cfg.MeasureIopsStdDev || cfg.MeasureLatency {
				sinceUs = nowUs - w.job.windowStartUs.Load()
				opUs = nowUs - op.StampUs
			}

			if op.Kind == OpRead {
				res.ReadIopsCount++
				res.ReadBytesCount += uint64(op.Res)
				if cfg.MeasureIopsStdDev {
					res.ReadBuckets.Add(sinceUs / 1000)
				}
				if cfg.MeasureLatency {
					res.ReadLatency.Add(int64(opUs))
				}
			} else {
				res.WriteIopsCount++
				res.WriteBytesCount += uint64(op.Res)
				if cfg.MeasureIopsStdDev {
					res.WriteBuckets.Add(sinceUs / 1000)
				}
				if cfg.MeasureLatency {
					res.WriteLatency.Add(int64(opUs))
				}
			}
		}

		if live := w.job.live; live != nil {
			live.count(op.Kind, uint64(op.Res))
		}

		// Recycle the op for the next cycle.
		op.StampUs = nowUs
		op.Offset = tt.NextOffset(op.Offset)
		if w.rng.Percentage() <= tt.Target.WritePercentage {
			op.Kind = OpWrite
		} else {
			op.Kind = OpRead
		}

		if err := mgr.Enqueue(op); err != nil {
			w.abort(fmt.Errorf("re-enqueue op: %w", err))
			return
		}
		if err := mgr.Submit(w.id); err != nil {
			w.abort(fmt.Errorf("re-submit op: %w", err))
			return
		}
	}

	log.WithField("worker", w.id).Debug("exiting")
}
