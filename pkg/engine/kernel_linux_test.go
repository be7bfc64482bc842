//go:build linux

package engine

import (
	"testing"

	"github.com/runningwild/spindle/pkg/clock"
)

func TestKernelBackendRoundTrip(t *testing.T) {
	f := tempTarget(t, 1<<20)
	defer f.Close()

	mgr, err := newKernelManager()
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Start(4); err != nil {
		t.Fatal(err)
	}
	if err := mgr.CreateGroup(0, 4); err != nil {
		t.Skipf("io_setup unavailable: %v", err)
	}

	buf := make([]byte, 4096)
	const overlap = 4
	for i := 0; i < overlap; i++ {
		op, err := mgr.Construct(OpRead, f.Fd(), int64(i)*4096, buf, buf, 4096, 0, nil, clock.NowUs())
		if err != nil {
			t.Fatal(err)
		}
		if err := mgr.Enqueue(op); err != nil {
			t.Fatal(err)
		}
	}
	if err := mgr.Submit(0); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < overlap; i++ {
		op, err := mgr.Wait(0)
		if err != nil {
			t.Fatal(err)
		}
		if op.Errno != 0 || op.Res != 4096 {
			t.Fatalf("completion %d: res=%d errno=%v", i, op.Res, op.Errno)
		}
	}
}

func TestKernelBackendReuse(t *testing.T) {
	f := tempTarget(t, 1<<20)
	defer f.Close()

	mgr, err := newKernelManager()
	if err != nil {
		t.Fatal(err)
	}
	mgr.Start(1)
	if err := mgr.CreateGroup(0, 1); err != nil {
		t.Skipf("io_setup unavailable: %v", err)
	}

	buf := make([]byte, 4096)
	op, err := mgr.Construct(OpRead, f.Fd(), 0, buf, buf, 4096, 0, nil, clock.NowUs())
	if err != nil {
		t.Fatal(err)
	}

	for cycle := 0; cycle < 10; cycle++ {
		if err := mgr.Enqueue(op); err != nil {
			t.Fatal(err)
		}
		if err := mgr.Submit(0); err != nil {
			t.Fatal(err)
		}
		done, err := mgr.Wait(0)
		if err != nil {
			t.Fatal(err)
		}
		if done != op || done.Res != 4096 || done.Errno != 0 {
			t.Fatalf("cycle %d: res=%d errno=%v", cycle, done.Res, done.Errno)
		}
		op.Offset = (op.Offset + 4096) % (1 << 20)
		op.StampUs = clock.NowUs()
	}
}
