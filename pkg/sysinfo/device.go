//go:build linux

package sysinfo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jaypipes/ghw"
	"golang.org/x/sys/unix"
)

// DeviceInfo identifies the block device behind a target path.
type DeviceInfo struct {
	Name      string // kernel device name, e.g. sda1 or nvme0n1
	Scheduler string // active I/O scheduler of the owning disk
	IsBlock   bool   // the target path is itself a block device
	Size      uint64 // device size in bytes, 0 if unknown
}

// DeviceForPath stats path and resolves its backing block device through
// sysfs. For regular files this is the device holding the filesystem; for
// block-device targets the device itself.
func DeviceForPath(path string) (DeviceInfo, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return DeviceInfo{}, fmt.Errorf("sysinfo: stat %s: %w", path, err)
	}

	dev := st.Dev
	isBlock := st.Rdev != 0
	if isBlock {
		dev = st.Rdev
	}

	major := unix.Major(dev)
	minor := unix.Minor(dev)

	link, err := os.Readlink(fmt.Sprintf("/sys/dev/block/%d:%d", major, minor))
	if err != nil {
		// Not fatal; tmpfs and overlay targets have no block device.
		return DeviceInfo{Name: "unknown", Scheduler: "unknown", IsBlock: isBlock}, nil
	}
	name := filepath.Base(link)

	info := DeviceInfo{
		Name:      name,
		Scheduler: schedulerFor(name),
		IsBlock:   isBlock,
		Size:      deviceSize(name),
	}
	return info, nil
}

// schedulerFor reads the active scheduler, walking up to the owning disk
// when name is a partition.
func schedulerFor(name string) string {
	for candidate := name; candidate != ""; candidate = parentDisk(candidate) {
		data, err := os.ReadFile(fmt.Sprintf("/sys/block/%s/queue/scheduler", candidate))
		if err != nil {
			continue
		}
		// Format: "mq-deadline kyber [bfq] none"; the bracketed entry is active.
		for _, field := range strings.Fields(string(data)) {
			if strings.HasPrefix(field, "[") {
				return strings.Trim(field, "[]")
			}
		}
		return strings.TrimSpace(string(data))
	}
	return "unknown"
}

func parentDisk(name string) string {
	trimmed := strings.TrimRight(name, "0123456789")
	// nvme partitions end in pN.
	trimmed = strings.TrimSuffix(trimmed, "p")
	if trimmed == name || trimmed == "" {
		return ""
	}
	return trimmed
}

func deviceSize(name string) uint64 {
	block, err := ghw.Block()
	if err != nil {
		return 0
	}
	for _, disk := range block.Disks {
		if disk.Name == name {
			return disk.SizeBytes
		}
		for _, part := range disk.Partitions {
			if part.Name == name {
				return part.SizeBytes
			}
		}
	}
	return 0
}
