//go:build linux

package sysinfo

import "golang.org/x/sys/unix"

// PinToCPU binds the calling thread to a single CPU. The caller must have
// locked the goroutine to its OS thread first.
func PinToCPU(cpuID int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	return unix.SchedSetaffinity(0, &set)
}
