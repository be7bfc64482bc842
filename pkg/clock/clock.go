// Package clock provides the process-wide monotonic time source used for
// latency stamps and bucket timestamps. All instants are relative to
// process start; no wall-clock semantics.
package clock

import (
	"fmt"
	"time"
)

var base = time.Now()

// Configure verifies that the OS monotonic clock meets the requested
// minimum resolution in nanoseconds. It must be called once at startup,
// before any workers run.
func Configure(minResolutionNs int64) error {
	res, err := resolution()
	if err != nil {
		return fmt.Errorf("clock: query resolution: %w", err)
	}
	if res > minResolutionNs {
		return fmt.Errorf("clock: resolution %dns coarser than required %dns", res, minResolutionNs)
	}
	return nil
}

// NowNs returns the current monotonic instant in nanoseconds.
func NowNs() uint64 {
	return uint64(time.Since(base).Nanoseconds())
}

// NowUs returns the current monotonic instant in microseconds.
func NowUs() uint64 {
	return NowNs() / 1000
}

// NowMs returns the current monotonic instant in milliseconds.
func NowMs() uint64 {
	return NowNs() / 1000000
}
