package scheduler

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/google/uuid"
)

// Jitter resolves the randomization bounds of an event to concrete offsets.
// The same seed and mRID always produce the same offset, so an event keeps
// its effective window for the lifetime of the process.
type Jitter struct {
	seed uint64
}

// NewJitter returns a Jitter seeded from a random UUID.
func NewJitter() Jitter {
	id := uuid.New()
	return Jitter{seed: binary.BigEndian.Uint64(id[:8])}
}

// NewSeededJitter returns a Jitter with a fixed seed.
func NewSeededJitter(seed uint64) Jitter { return Jitter{seed: seed} }

// Pick returns an offset in seconds within [min(0,bound), max(0,bound)].
// kind distinguishes the start and duration offsets of the same event.
func (j Jitter) Pick(mrid, kind string, bound *int) int {
	if bound == nil || *bound == 0 {
		return 0
	}
	b := *bound
	h := fnv.New64a()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], j.seed)
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(kind))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(mrid))

	span := b
	if span < 0 {
		span = -span
	}
	off := int(h.Sum64() % uint64(span+1))
	if b < 0 {
		return -off
	}
	return off
}
