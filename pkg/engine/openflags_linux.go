//go:build linux

package engine

import (
	"os"

	"golang.org/x/sys/unix"
)

func openFlags(direct, sync bool) int {
	flags := os.O_RDWR
	if direct {
		flags |= unix.O_DIRECT
	}
	if sync {
		flags |= unix.O_SYNC
	}
	return flags
}
