//go:build linux

package clock

import "golang.org/x/sys/unix"

func resolution() (int64, error) {
	var ts unix.Timespec
	if err := unix.ClockGetres(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0, err
	}
	return ts.Sec*1e9 + ts.Nsec, nil
}
