package mmu

import (
	"fmt"

	"github.com/sarchlab/vmsim/mem/vm"
)

// PageState is the decoded entry of one page, with the aging counter of its
// frame when present.
type PageState struct {
	Page       uint64 `json:"page"`
	Present    bool   `json:"present"`
	Referenced bool   `json:"referenced"`
	Modified   bool   `json:"modified"`
	Frame      uint64 `json:"frame"`
	Age        uint32 `json:"age"`
}

// ProcessState holds the page table of one process.
type ProcessState struct {
	PID   vm.PID      `json:"pid"`
	Pages []PageState `json:"pages"`
}

// A Snapshot is a copy of the whole state of an MMU.
type Snapshot struct {
	Name        string         `json:"name"`
	NumAccesses uint64         `json:"num_accesses"`
	Processes   []ProcessState `json:"processes"`
	AgingBits   uint           `json:"aging_bits"`
	Aging       []uint32       `json:"aging"`
	FreeFrames  []uint64       `json:"free_frames"`
	Stats       Stats          `json:"stats"`
}

// Snapshot copies the current state of the MMU.
func (c *Comp) Snapshot() Snapshot {
	c.Lock()
	defer c.Unlock()

	s := Snapshot{
		Name:        c.name,
		NumAccesses: c.numAccesses,
		Processes:   make([]ProcessState, c.pageTables.NumProcesses()),
		AgingBits:   c.aging.Bits(),
		Aging:       c.aging.Counters(),
		FreeFrames:  c.frames.Free(),
		Stats:       c.stats,
	}

	for i := range s.Processes {
		pid := vm.PID(i)
		s.Processes[i] = ProcessState{
			PID:   pid,
			Pages: make([]PageState, c.pageTables.NumPages()),
		}

		for page := range s.Processes[i].Pages {
			s.Processes[i].Pages[page] = c.pageState(pid, uint64(page))
		}
	}

	return s
}

func (c *Comp) pageState(pid vm.PID, page uint64) PageState {
	state, err := c.pageTables.Lookup(pid, page)
	if err != nil {
		panic(err)
	}

	ps := PageState{Page: page, Present: state.Present}
	if state.Present {
		ps.Referenced = state.Referenced
		ps.Modified = state.Modified
		ps.Frame = state.Frame
		ps.Age = c.aging.AgeOf(state.Frame)
	}

	return ps
}

// CheckConsistency verifies that no two present pages share a frame and that
// every frame is either free or occupied, never both.
func (c *Comp) CheckConsistency() error {
	c.Lock()
	defer c.Unlock()

	numFrames := c.frames.NumFrames()
	if uint64(c.aging.Len()) != numFrames {
		return fmt.Errorf("%w: %d aging counters, %d frames",
			vm.ErrInvariantViolation, c.aging.Len(), numFrames)
	}
	occupied := make([]bool, numFrames)
	numPresent := uint64(0)

	for e := range c.pageTables.All() {
		if e.Frame >= numFrames {
			return fmt.Errorf("%w: page %d of process %d maps to frame %d, "+
				"%d frames", vm.ErrInvariantViolation,
				e.Page, e.PID, e.Frame, numFrames)
		}

		if occupied[e.Frame] {
			return fmt.Errorf("%w: frame %d is shared by several pages",
				vm.ErrInvariantViolation, e.Frame)
		}

		occupied[e.Frame] = true
		numPresent++
	}

	for _, f := range c.frames.Free() {
		if occupied[f] {
			return fmt.Errorf("%w: frame %d is both free and occupied",
				vm.ErrInvariantViolation, f)
		}
	}

	if numPresent+uint64(c.frames.NumFree()) != numFrames {
		return fmt.Errorf("%w: %d present pages and %d free frames, %d frames",
			vm.ErrInvariantViolation, numPresent, c.frames.NumFree(), numFrames)
	}

	return nil
}
