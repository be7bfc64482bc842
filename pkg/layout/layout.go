// Package layout prepares target files on disk before a job runs: fresh
// targets are created at exactly their configured size, filled with zeros
// or the ascending byte pattern the I/O buffers default to.
package layout

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/runningwild/spindle/pkg/engine"
)

// fillChunk is how much is written per syscall while laying out a file.
const fillChunk = 64 * 1024 * 1024

// Prepare lays out every target that asked to be created. Targets are
// filled in parallel; the first failure aborts the job before warm-up.
func Prepare(targets []*engine.Target) error {
	var g errgroup.Group
	for _, t := range targets {
		if !t.CreateFile {
			continue
		}
		g.Go(func() error {
			return fill(t)
		})
	}
	return g.Wait()
}

func fill(t *engine.Target) error {
	// Recreate from scratch so the file is exactly the configured size.
	if err := os.Remove(t.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("layout: remove old %s: %w", t.Path, err)
	}

	f, err := os.OpenFile(t.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_SYNC, 0o664)
	if err != nil {
		return fmt.Errorf("layout: create %s: %w", t.Path, err)
	}
	defer f.Close()

	buf := make([]byte, fillChunk)
	if t.Content != engine.ZeroFill {
		for i := range buf {
			buf[i] = byte(i % 256)
		}
	}

	log.Debugf("laying out %s (%d bytes)", t.Path, t.Size)

	remaining := t.Size
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		if _, err := f.Write(buf[:n]); err != nil {
			return fmt.Errorf("layout: fill %s: %w", t.Path, err)
		}
		remaining -= n
	}
	return nil
}
