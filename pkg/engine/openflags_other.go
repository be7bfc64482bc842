//go:build !linux

package engine

import "os"

// O_DIRECT is Linux-specific; elsewhere the direct flag is ignored and
// targets open with caching on.
func openFlags(direct, sync bool) int {
	flags := os.O_RDWR
	if sync {
		flags |= os.O_SYNC
	}
	return flags
}
