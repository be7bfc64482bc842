//go:build !linux

package engine

import "fmt"

func newUringManager() (Manager, error) {
	return nil, fmt.Errorf("engine: the io_uring backend is only supported on Linux")
}
