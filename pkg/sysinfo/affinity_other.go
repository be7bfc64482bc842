//go:build !linux

package sysinfo

// PinToCPU is a no-op where thread affinity syscalls are unavailable.
func PinToCPU(cpuID int) error {
	return nil
}
