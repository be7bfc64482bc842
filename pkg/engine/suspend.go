package engine

import (
	"fmt"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// suspendManager is the portable fallback backend. Submit starts each
// pending op individually (one positioned-I/O syscall per op, driven from
// its own goroutine) and Wait suspends until any of the group's in-flight
// ops completes. Completions funnel through a channel sized to the group's
// outstanding count, so completing goroutines never block.
type suspendManager struct {
	mu      sync.Mutex
	groups  map[int]*suspendGroup
	started bool
}

type suspendGroup struct {
	outstanding int
	constructed int

	pending []*Op
	done    chan *Op
	// In-flight count, maintained only by the owning worker's
	// Submit/Wait calls.
	inflight int
}

func newSuspendManager() Manager {
	return &suspendManager{groups: make(map[int]*suspendGroup)}
}

func (m *suspendManager) Start(totalOutstanding int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("engine: suspend manager already started")
	}
	m.started = true
	return nil
}

func (m *suspendManager) CreateGroup(groupID, outstanding int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[groupID]; ok {
		return ErrGroupExists
	}
	m.groups[groupID] = &suspendGroup{
		outstanding: outstanding,
		done:        make(chan *Op, outstanding),
	}
	return nil
}

func (m *suspendManager) group(groupID int) (*suspendGroup, error) {
	m.mu.Lock()
	g, ok := m.groups[groupID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("engine: no such io group %d", groupID)
	}
	return g, nil
}

func (m *suspendManager) Construct(kind OpKind, fd uintptr, offset int64,
	readBuf, writeBuf []byte, nbytes int64, groupID int,
	state *ThreadTarget, stampUs uint64) (*Op, error) {

	g, err := m.group(groupID)
	if err != nil {
		return nil, err
	}
	if g.constructed >= g.outstanding {
		return nil, fmt.Errorf("engine: group %d over its outstanding limit %d", groupID, g.outstanding)
	}
	g.constructed++

	return &Op{
		Kind:     kind,
		FD:       fd,
		Offset:   offset,
		NBytes:   nbytes,
		ReadBuf:  readBuf,
		WriteBuf: writeBuf,
		GroupID:  groupID,
		State:    state,
		StampUs:  stampUs,
	}, nil
}

func (m *suspendManager) Enqueue(op *Op) error {
	g, err := m.group(op.GroupID)
	if err != nil {
		return err
	}
	g.pending = append(g.pending, op)
	return nil
}

func (m *suspendManager) Submit(groupID int) error {
	g, err := m.group(groupID)
	if err != nil {
		return err
	}
	for _, op := range g.pending {
		g.inflight++
		go perform(op, g.done)
	}
	g.pending = g.pending[:0]
	return nil
}

func (m *suspendManager) Wait(groupID int) (*Op, error) {
	g, err := m.group(groupID)
	if err != nil {
		return nil, err
	}
	if g.inflight == 0 {
		return nil, fmt.Errorf("engine: wait on group %d with no in-flight ops", groupID)
	}
	op := <-g.done
	g.inflight--
	return op, nil
}

// perform runs one op to completion and delivers it on done. The buffered
// channel guarantees the send never blocks.
func perform(op *Op, done chan<- *Op) {
	buf := op.ActiveBuf()
	for {
		var n int
		var err error
		if op.Kind == OpWrite {
			n, err = unix.Pwrite(int(op.FD), buf, op.Offset)
		} else {
			n, err = unix.Pread(int(op.FD), buf, op.Offset)
		}
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			op.Res = 0
			if errno, ok := err.(syscall.Errno); ok {
				op.Errno = errno
			} else {
				op.Errno = syscall.EIO
			}
		} else {
			op.Res = int64(n)
			op.Errno = 0
		}
		done <- op
		return
	}
}
