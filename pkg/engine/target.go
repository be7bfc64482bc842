package engine

import (
	"fmt"
	"os"
	"sync"

	"github.com/runningwild/spindle/pkg/stats"
)

// AccessMode selects how successive offsets are generated for a target.
// Precedence when options conflict: random > interlocked > per-thread
// sequential.
type AccessMode int

const (
	SequentialPerThread AccessMode = iota
	SequentialInterlocked
	RandomAligned
)

func (m AccessMode) String() string {
	switch m {
	case SequentialInterlocked:
		return "interlocked sequential"
	case RandomAligned:
		return "random"
	default:
		return "sequential"
	}
}

// BufferContent selects what I/O buffers are filled with at setup.
type BufferContent int

const (
	AscendingPattern BufferContent = iota // byte i = i mod 256
	ZeroFill
	RandomFill
)

// Target is one file or block device to drive I/O against, with its
// immutable per-target options and the shared interlocked cursor.
type Target struct {
	Path string
	Size int64 // bytes

	SectorSize int64 // required buffer/offset alignment under O_DIRECT

	CreateFile bool
	BlockSize  int64
	BaseOffset int64
	MaxSize    int64 // I/O confined to [BaseOffset, MaxSize)

	Overlap int // outstanding I/Os per worker on this target

	ThreadStride int64 // starting-offset gap between workers
	Stride       int64 // distance between successive offsets; random alignment under RandomAligned

	DirectIO bool // O_DIRECT
	SyncIO   bool // O_SYNC

	Mode AccessMode

	WritePercentage int // 0..100

	ThreadsPerTarget int

	Content         BufferContent
	SeparateBuffers bool // dedicated write buffer per worker

	MaxThroughput int64 // bytes per ms per worker, 0 = unthrottled

	// Shared cursor for interlocked mode. Workers advance it under mu;
	// it always lies in [BaseOffset, MaxSize-BlockSize].
	mu     sync.Mutex
	cursor int64
}

// ResetCursor places the interlocked cursor at the base offset. Called once
// during job setup, before any worker starts.
func (t *Target) ResetCursor() {
	t.cursor = t.BaseOffset
}

// ThreadTarget is one worker's view of one target: the open handle, the
// worker's buffers and RNG, and the result accumulators it alone updates.
type ThreadTarget struct {
	Target  *Target
	Results *TargetResults

	relThreadID int

	file *os.File

	buffer      *Buffer // overlap * block_size, read and (by default) write
	writeBuffer *Buffer // block_size, only under SeparateBuffers

	rng *Rng
}

// TargetResults accumulates one worker's measurements against one target.
// Written only by the owning worker while the record flag is up; read by
// the controller after join.
type TargetResults struct {
	Target *Target

	ThreadID int

	BytesCount      uint64
	ReadBytesCount  uint64
	WriteBytesCount uint64

	IopsCount      uint64
	ReadIopsCount  uint64
	WriteIopsCount uint64

	ReadLatency  *stats.Histogram // microseconds
	WriteLatency *stats.Histogram

	ReadBuckets  stats.IoBucketizer
	WriteBuckets stats.IoBucketizer
}

func newTargetResults(t *Target, threadID int) *TargetResults {
	return &TargetResults{
		Target:       t,
		ThreadID:     threadID,
		ReadLatency:  stats.NewHistogram(),
		WriteLatency: stats.NewHistogram(),
	}
}

// threadBase is where this worker's sequential pattern starts on the target.
func (tt *ThreadTarget) threadBase() int64 {
	return tt.Target.BaseOffset + int64(tt.relThreadID)*tt.Target.ThreadStride
}

// correctOverflow wraps an offset that would run past MaxSize back to the
// worker's base.
func (tt *ThreadTarget) correctOverflow(offset int64) int64 {
	if offset+tt.Target.BlockSize > tt.Target.MaxSize {
		return tt.threadBase()
	}
	return offset
}

// StartOffset yields the first offset for an op on this target.
func (tt *ThreadTarget) StartOffset() int64 {
	switch tt.Target.Mode {
	case RandomAligned:
		return tt.randomOffset()
	case SequentialInterlocked:
		// The cursor starts at the base offset and thread stride is zero,
		// so the first advance matches the general next-offset rule.
		return tt.NextOffset(0)
	default:
		return tt.threadBase()
	}
}

// NextOffset yields the offset following curr for an op on this target.
func (tt *ThreadTarget) NextOffset(curr int64) int64 {
	t := tt.Target
	switch t.Mode {
	case RandomAligned:
		return tt.randomOffset()
	case SequentialInterlocked:
		t.mu.Lock()
		t.cursor = tt.correctOverflow(t.cursor + t.Stride)
		offset := t.cursor
		t.mu.Unlock()
		return offset
	default:
		return tt.correctOverflow(curr + t.Stride)
	}
}

// randomOffset picks a uniform stride-aligned offset whose block fits in
// [BaseOffset, MaxSize).
func (tt *ThreadTarget) randomOffset() int64 {
	t := tt.Target
	interval := t.MaxSize - t.BaseOffset - t.BlockSize
	interval -= interval % t.Stride
	count := interval/t.Stride + 1
	return t.BaseOffset + tt.rng.Offset(count)*t.Stride
}

// open opens the target file for this worker and allocates its buffers.
func (tt *ThreadTarget) open() error {
	t := tt.Target

	f, err := os.OpenFile(t.Path, openFlags(t.DirectIO, t.SyncIO), 0o664)
	if err != nil {
		return fmt.Errorf("open target %s: %w", t.Path, err)
	}
	tt.file = f

	align := int64(1)
	if t.DirectIO {
		align = t.SectorSize
	}

	tt.buffer, err = NewBuffer(int(int64(t.Overlap)*t.BlockSize), int(align))
	if err != nil {
		f.Close()
		return err
	}
	tt.buffer.Fill(t.Content, tt.rng)

	if t.SeparateBuffers {
		tt.writeBuffer, err = NewBuffer(int(t.BlockSize), int(align))
		if err != nil {
			tt.close()
			return err
		}
		tt.writeBuffer.Fill(t.Content, tt.rng)
	}
	return nil
}

func (tt *ThreadTarget) close() {
	if tt.file != nil {
		tt.file.Close()
		tt.file = nil
	}
	if tt.buffer != nil {
		tt.buffer.Release()
		tt.buffer = nil
	}
	if tt.writeBuffer != nil {
		tt.writeBuffer.Release()
		tt.writeBuffer = nil
	}
}
