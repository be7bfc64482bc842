package engine

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Buffer is an I/O payload buffer. Direct I/O requires sector alignment,
// so backing memory comes from an anonymous mapping, which is always
// page-aligned.
type Buffer struct {
	data []byte
}

// NewBuffer allocates size bytes aligned to align (a power of two no larger
// than the page size, which mmap guarantees).
func NewBuffer(size, align int) (*Buffer, error) {
	if align != 1 && align&(align-1) != 0 {
		return nil, fmt.Errorf("buffer alignment %d is not a power of two", align)
	}
	data, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("allocate aligned buffer of %d bytes: %w", size, err)
	}
	return &Buffer{data: data}, nil
}

// Release unmaps the backing memory. The buffer must not be used after.
func (b *Buffer) Release() {
	if b.data != nil {
		unix.Munmap(b.data)
		b.data = nil
	}
}

// Bytes returns the whole buffer.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Slot returns the i'th block-sized slice, one per outstanding op.
func (b *Buffer) Slot(i int, blockSize int64) []byte {
	return b.data[int64(i)*blockSize : int64(i+1)*blockSize]
}

// Fill initializes the buffer per the target's content policy. Mapped
// memory is already zeroed, so ZeroFill is a no-op.
func (b *Buffer) Fill(content BufferContent, rng *Rng) {
	switch content {
	case AscendingPattern:
		for i := range b.data {
			b.data[i] = byte(i % 256)
		}
	case RandomFill:
		for i := range b.data {
			b.data[i] = rng.Byte()
		}
	}
}
