package engine

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
)

// Rng holds a worker's two independent pseudo-random streams: one for
// offsets, one for the read/write coin flip. Not safe for concurrent use;
// every worker owns its own.
type Rng struct {
	offsets *rand.Rand
	rw      *rand.Rand
}

// NewRng builds a deterministic pair of streams. The read/write stream is
// seeded from a fixed transform of the offset seed so a seeded run is fully
// reproducible.
func NewRng(seed uint64) *Rng {
	return &Rng{
		offsets: rand.New(rand.NewSource(int64(seed))),
		rw:      rand.New(rand.NewSource(int64(seed ^ 0x9e3779b97f4a7c15))),
	}
}

// NewTimeSeededRng seeds both streams independently from the OS entropy
// source.
func NewTimeSeededRng() *Rng {
	return &Rng{
		offsets: rand.New(rand.NewSource(entropySeed())),
		rw:      rand.New(rand.NewSource(entropySeed())),
	}
}

func entropySeed() int64 {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		panic("engine: entropy source unavailable: " + err.Error())
	}
	return int64(binary.LittleEndian.Uint64(buf[:]))
}

// Offset returns a uniform value in [0, n) from the offset stream.
func (r *Rng) Offset(n int64) int64 {
	return r.offsets.Int63n(n)
}

// Percentage returns a uniform value in [1, 100] from the read/write
// stream. An op is a write when Percentage() <= the target's write
// percentage.
func (r *Rng) Percentage() int {
	return r.rw.Intn(100) + 1
}

// Byte returns a uniform byte from the offset stream, used for random
// buffer fill.
func (r *Rng) Byte() byte {
	return byte(r.offsets.Intn(256))
}
