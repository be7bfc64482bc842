//go:build linux

package engine

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux native AIO opcodes.
const (
	iocbCmdPread  = 0
	iocbCmdPwrite = 1
)

// iocb is the kernel AIO control block (standard 64-bit layout for x86_64
// and arm64).
type iocb struct {
	Data      uint64
	Key       uint32
	RwFlags   uint32
	OpCode    uint16
	ReqPrio   int16
	Fd        uint32
	Buf       uint64
	NBytes    uint64
	Offset    int64
	Reserved2 uint64
	Flags     uint32
	ResFd     uint32
}

type ioEvent struct {
	Data uint64
	Obj  uint64
	Res  int64
	Res2 int64
}

// kernelManager drives Linux native AIO. Each group owns its own
// io_context; Submit hands the whole pending queue to the kernel with a
// single io_submit, tagging every control block so Wait can map completion
// events back to ops.
type kernelManager struct {
	mu      sync.Mutex
	groups  map[int]*kernelGroup
	started bool
}

type kernelGroup struct {
	ctx         uint64
	outstanding int

	// One control block per constructed op; op.slot indexes this array.
	// The array is stable for the group's lifetime since the kernel holds
	// pointers into it while ops are in flight.
	iocbs []iocb
	ops   []*Op

	pending []*Op

	// Tags currently accepted by the kernel. The map always equals the
	// kernel's view of this context's in-flight set.
	inflight map[uint64]*Op
	nextTag  uint64

	ptrs  []*iocb // io_submit scratch
	event ioEvent
}

func newKernelManager() (Manager, error) {
	return &kernelManager{groups: make(map[int]*kernelGroup)}, nil
}

func (m *kernelManager) Start(totalOutstanding int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("engine: kernel aio manager already started")
	}
	m.started = true
	return nil
}

func (m *kernelManager) CreateGroup(groupID, outstanding int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[groupID]; ok {
		return ErrGroupExists
	}

	g := &kernelGroup{
		outstanding: outstanding,
		iocbs:       make([]iocb, 0, outstanding),
		inflight:    make(map[uint64]*Op, outstanding),
		ptrs:        make([]*iocb, 0, outstanding),
	}
	if _, _, errno := unix.Syscall(unix.SYS_IO_SETUP,
		uintptr(outstanding), uintptr(unsafe.Pointer(&g.ctx)), 0); errno != 0 {
		return fmt.Errorf("engine: io_setup: %w", errno)
	}
	m.groups[groupID] = g
	return nil
}

func (m *kernelManager) group(groupID int) (*kernelGroup, error) {
	m.mu.Lock()
	g, ok := m.groups[groupID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("engine: no such io group %d", groupID)
	}
	return g, nil
}

func (m *kernelManager) Construct(kind OpKind, fd uintptr, offset int64,
	readBuf, writeBuf []byte, nbytes int64, groupID int,
	state *ThreadTarget, stampUs uint64) (*Op, error) {

	g, err := m.group(groupID)
	if err != nil {
		return nil, err
	}
	if len(g.ops) >= g.outstanding {
		return nil, fmt.Errorf("engine: group %d over its outstanding limit %d", groupID, g.outstanding)
	}

	op := &Op{
		Kind:     kind,
		FD:       fd,
		Offset:   offset,
		NBytes:   nbytes,
		ReadBuf:  readBuf,
		WriteBuf: writeBuf,
		GroupID:  groupID,
		State:    state,
		StampUs:  stampUs,
		slot:     len(g.ops),
	}
	g.ops = append(g.ops, op)
	g.iocbs = append(g.iocbs, iocb{})
	return op, nil
}

func (m *kernelManager) Enqueue(op *Op) error {
	g, err := m.group(op.GroupID)
	if err != nil {
		return err
	}
	g.pending = append(g.pending, op)
	return nil
}

func (m *kernelManager) Submit(groupID int) error {
	g, err := m.group(groupID)
	if err != nil {
		return err
	}
	if len(g.pending) == 0 {
		return nil
	}

	g.ptrs = g.ptrs[:0]
	batch := make([]uint64, 0, len(g.pending))
	for _, op := range g.pending {
		cb := &g.iocbs[op.slot]
		*cb = iocb{
			Fd:     uint32(op.FD),
			NBytes: uint64(op.NBytes),
			Offset: op.Offset,
		}
		buf := op.ActiveBuf()
		cb.Buf = uint64(uintptr(unsafe.Pointer(&buf[0])))
		if op.Kind == OpWrite {
			cb.OpCode = iocbCmdPwrite
		} else {
			cb.OpCode = iocbCmdPread
		}

		tag := g.nextTag
		g.nextTag++
		cb.Data = tag
		g.inflight[tag] = op
		batch = append(batch, tag)
		g.ptrs = append(g.ptrs, cb)
	}
	g.pending = g.pending[:0]

	n, _, errno := unix.Syscall(unix.SYS_IO_SUBMIT,
		uintptr(g.ctx), uintptr(len(g.ptrs)), uintptr(unsafe.Pointer(&g.ptrs[0])))
	if errno != 0 || int(n) != len(g.ptrs) {
		// Unwind the whole batch: cancel whatever the kernel accepted and
		// drop the tags so the in-flight map matches the kernel again.
		var evt ioEvent
		for i, cb := range g.ptrs {
			if errno == 0 && i < int(n) {
				unix.Syscall(unix.SYS_IO_CANCEL,
					uintptr(g.ctx), uintptr(unsafe.Pointer(cb)), uintptr(unsafe.Pointer(&evt)))
			}
			delete(g.inflight, batch[i])
		}
		if errno != 0 {
			return fmt.Errorf("engine: io_submit: %w", errno)
		}
		return fmt.Errorf("%w: io_submit accepted %d of %d", ErrShortSubmit, n, len(g.ptrs))
	}
	return nil
}

func (m *kernelManager) Wait(groupID int) (*Op, error) {
	g, err := m.group(groupID)
	if err != nil {
		return nil, err
	}

	for {
		n, _, errno := unix.Syscall6(unix.SYS_IO_GETEVENTS,
			uintptr(g.ctx), 1, 1, uintptr(unsafe.Pointer(&g.event)), 0, 0)
		if errno == syscall.EINTR {
			continue
		}
		if errno != 0 {
			return nil, fmt.Errorf("engine: io_getevents: %w", errno)
		}
		if n != 1 {
			return nil, fmt.Errorf("engine: io_getevents returned %d events", n)
		}
		break
	}

	tag := g.event.Data
	op, ok := g.inflight[tag]
	if !ok {
		return nil, fmt.Errorf("engine: completion for unknown tag %d", tag)
	}
	delete(g.inflight, tag)

	if g.event.Res < 0 {
		op.Res = 0
		op.Errno = syscall.Errno(-g.event.Res)
	} else {
		op.Res = g.event.Res
		op.Errno = 0
	}
	return op, nil
}
