package vm

import "fmt"

// MaxAgingBits is the widest aging counter supported.
const MaxAgingBits = 32

// An AgingBuffer keeps one shift-register counter per frame. At every refresh,
// a counter shifts right by one and takes the referenced bit of the page in
// its frame as the new most significant bit. Counters with lower values
// belong to pages used less recently.
//
// The buffer has no notion of time. The owner decides when to refresh.
type AgingBuffer struct {
	bits     uint
	counters []uint32
}

// NewAgingBuffer creates a buffer of numFrames counters, each agingBits wide.
func NewAgingBuffer(numFrames uint64, agingBits uint) *AgingBuffer {
	if agingBits == 0 || agingBits > MaxAgingBits {
		panic(fmt.Sprintf("aging bits must be in [1, %d], got %d",
			MaxAgingBits, agingBits))
	}

	return &AgingBuffer{
		bits:     agingBits,
		counters: make([]uint32, numFrames),
	}
}

// Bits returns the width of the counters.
func (b *AgingBuffer) Bits() uint {
	return b.bits
}

// Len returns the number of counters.
func (b *AgingBuffer) Len() int {
	return len(b.counters)
}

// Max returns the value a counter takes when a page is loaded.
func (b *AgingBuffer) Max() uint32 {
	return uint32(uint64(1)<<b.bits - 1)
}

// OnLoad marks the frame as just loaded. Whatever history the frame had is
// discarded.
func (b *AgingBuffer) OnLoad(frame uint64) {
	b.counters[frame] = b.Max()
}

// OnEvict clears the counter of the frame.
func (b *AgingBuffer) OnEvict(frame uint64) {
	b.counters[frame] = 0
}

// Refresh shifts the counter of the frame and folds in the referenced bit.
func (b *AgingBuffer) Refresh(frame uint64, referenced bool) {
	c := b.counters[frame] >> 1
	if referenced {
		c |= 1 << (b.bits - 1)
	}

	b.counters[frame] = c
}

// AgeOf returns the counter of the frame. It is only meaningful as a
// comparison key: lower means staler.
func (b *AgingBuffer) AgeOf(frame uint64) uint32 {
	return b.counters[frame]
}

// Counters returns a copy of all the counters, indexed by frame.
func (b *AgingBuffer) Counters() []uint32 {
	out := make([]uint32, len(b.counters))
	copy(out, b.counters)

	return out
}
