//go:build linux

package engine

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/godzie44/go-uring/uring"
)

// uringManager drives io_uring. Each group owns a ring sized to its
// outstanding count; Submit queues one SQE per pending op (tagged through
// userdata) and pushes the whole batch with a single Submit syscall.
type uringManager struct {
	mu      sync.Mutex
	groups  map[int]*uringGroup
	started bool
}

type uringGroup struct {
	ring        *uring.Ring
	outstanding int
	constructed int

	pending []*Op

	inflight map[uint64]*Op
	nextTag  uint64
}

func newUringManager() (Manager, error) {
	return &uringManager{groups: make(map[int]*uringGroup)}, nil
}

func (m *uringManager) Start(totalOutstanding int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("engine: io_uring manager already started")
	}
	m.started = true
	return nil
}

func (m *uringManager) CreateGroup(groupID, outstanding int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[groupID]; ok {
		return ErrGroupExists
	}
	ring, err := uring.New(uint32(outstanding))
	if err != nil {
		return fmt.Errorf("engine: setup io_uring: %w", err)
	}
	m.groups[groupID] = &uringGroup{
		ring:        ring,
		outstanding: outstanding,
		inflight:    make(map[uint64]*Op, outstanding),
	}
	return nil
}

func (m *uringManager) group(groupID int) (*uringGroup, error) {
	m.mu.Lock()
	g, ok := m.groups[groupID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("engine: no such io group %d", groupID)
	}
	return g, nil
}

func (m *uringManager) Construct(kind OpKind, fd uintptr, offset int64,
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

func (m *uringManager) Enqueue(op *Op) error {
	g, err := m.group(op.GroupID)
	if err != nil {
		return err
	}
	g.pending = append(g.pending, op)
	return nil
}

func (m *uringManager) Submit(groupID int) error {
	g, err := m.group(groupID)
	if err != nil {
		return err
	}
	if len(g.pending) == 0 {
		return nil
	}

	batch := make([]uint64, 0, len(g.pending))
	for _, op := range g.pending {
		var sqe uring.Operation
		buf := op.ActiveBuf()
		if op.Kind == OpWrite {
			sqe = uring.Write(op.FD, buf, uint64(op.Offset))
		} else {
			sqe = uring.Read(op.FD, buf, uint64(op.Offset))
		}

		tag := g.nextTag
		if err := g.ring.QueueSQE(sqe, 0, tag); err != nil {
			// Nothing queued so far has reached the kernel; drop the
			// batch's tags and hand the ops back to the caller.
			for _, t := range batch {
				delete(g.inflight, t)
			}
			g.pending = g.pending[:0]
			return fmt.Errorf("engine: queue sqe: %w", err)
		}
		g.nextTag++
		g.inflight[tag] = op
		batch = append(batch, tag)
	}
	g.pending = g.pending[:0]

	for {
		_, err := g.ring.Submit()
		if err == nil {
			return nil
		}
		if isEINTR(err) {
			continue
		}
		for _, t := range batch {
			delete(g.inflight, t)
		}
		return fmt.Errorf("engine: io_uring submit: %w", err)
	}
}

func (m *uringManager) Wait(groupID int) (*Op, error) {
	g, err := m.group(groupID)
	if err != nil {
		return nil, err
	}

	var cqe *uring.CQEvent
	for {
		cqe, err = g.ring.WaitCQEvents(1)
		if err == nil {
			break
		}
		if !isEINTR(err) {
			return nil, fmt.Errorf("engine: wait cq event: %w", err)
		}
	}

	op, ok := g.inflight[cqe.UserData]
	if !ok {
		return nil, fmt.Errorf("engine: completion for unknown tag %d", cqe.UserData)
	}
	delete(g.inflight, cqe.UserData)

	if cqe.Res < 0 {
		op.Res = 0
		op.Errno = syscall.Errno(-cqe.Res)
	} else {
		op.Res = int64(cqe.Res)
		op.Errno = 0
	}
	g.ring.SeenCQE(cqe)
	return op, nil
}

func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EINTR) {
		return true
	}
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return sysErr.Err == syscall.EINTR
	}
	return false
}
