//go:build !linux

package engine

import "fmt"

func newKernelManager() (Manager, error) {
	return nil, fmt.Errorf("engine: the kernel aio backend is only supported on Linux")
}
