package vm

import (
	"fmt"
	"slices"
)

// A FramePool tracks the physical frames that no page occupies. Frames are
// handed out lowest index first.
type FramePool struct {
	numFrames uint64
	free      []uint64
	isFree    []bool
}

// NewFramePool creates a pool in which all the numFrames frames are free.
func NewFramePool(numFrames uint64) *FramePool {
	p := &FramePool{
		numFrames: numFrames,
		free:      make([]uint64, numFrames),
		isFree:    make([]bool, numFrames),
	}

	for i := range p.free {
		p.free[i] = uint64(i)
		p.isFree[i] = true
	}

	return p
}

// NumFrames returns the number of frames managed by the pool, free or not.
func (p *FramePool) NumFrames() uint64 {
	return p.numFrames
}

// Allocate removes the lowest free frame from the pool. The bool return value
// is false when no frame is free, in which case the caller should replace a
// page.
func (p *FramePool) Allocate() (uint64, bool) {
	if len(p.free) == 0 {
		return 0, false
	}

	frame := p.free[0]
	p.free = p.free[1:]
	p.isFree[frame] = false

	return frame, true
}

// Release puts a frame back into the pool.
func (p *FramePool) Release(frame uint64) error {
	if frame >= p.numFrames {
		return fmt.Errorf("%w: frame %d, %d frames",
			ErrOutOfRange, frame, p.numFrames)
	}

	if p.isFree[frame] {
		return fmt.Errorf("%w: frame %d released twice",
			ErrInvariantViolation, frame)
	}

	pos, _ := slices.BinarySearch(p.free, frame)
	p.free = slices.Insert(p.free, pos, frame)
	p.isFree[frame] = true

	return nil
}

// NumFree returns the number of free frames.
func (p *FramePool) NumFree() int {
	return len(p.free)
}

// Free returns the free frames in allocation order.
func (p *FramePool) Free() []uint64 {
	return slices.Clone(p.free)
}
