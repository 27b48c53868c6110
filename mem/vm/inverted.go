package vm

import (
	"fmt"
	"iter"
)

type pageKey struct {
	pid  PID
	page uint64
}

// invertedPageTableSet keeps one entry per frame instead of one per page. A
// hash map from (process, page) to frame replaces the scan that a pure
// inverted table would need on every lookup.
type invertedPageTableSet struct {
	codec        InvertedCodec
	numProcesses int
	numPages     uint64
	frames       []Entry
	lookup       map[pageKey]uint64
}

// NewInvertedPageTableSet creates a PageTableSet backed by an inverted page
// table with one entry per frame.
func NewInvertedPageTableSet(
	numProcesses int,
	numPages uint64,
	numFrames uint64,
) PageTableSet {
	if numProcesses < 1 {
		panic("at least one process is required")
	}

	if numFrames < 1 {
		panic("at least one frame is required")
	}

	return &invertedPageTableSet{
		codec: NewInvertedCodec(
			FieldBits(numPages), FieldBits(uint64(numProcesses))),
		numProcesses: numProcesses,
		numPages:     numPages,
		frames:       make([]Entry, numFrames),
		lookup:       make(map[pageKey]uint64),
	}
}

func (t *invertedPageTableSet) NumProcesses() int {
	return t.numProcesses
}

func (t *invertedPageTableSet) NumPages() uint64 {
	return t.numPages
}

func (t *invertedPageTableSet) find(pid PID, page uint64) (uint64, bool, error) {
	err := checkPage(t.numProcesses, t.numPages, pid, page)
	if err != nil {
		return 0, false, err
	}

	frame, found := t.lookup[pageKey{pid: pid, page: page}]

	return frame, found, nil
}

func (t *invertedPageTableSet) mustFind(pid PID, page uint64) (uint64, error) {
	frame, found, err := t.find(pid, page)
	if err != nil {
		return 0, err
	}

	if !found {
		return 0, fmt.Errorf("%w: page %d of process %d is not present",
			ErrInvariantViolation, page, pid)
	}

	return frame, nil
}

func (t *invertedPageTableSet) IsPresent(pid PID, page uint64) (bool, error) {
	_, found, err := t.find(pid, page)
	return found, err
}

func (t *invertedPageTableSet) FrameOf(pid PID, page uint64) (uint64, error) {
	return t.mustFind(pid, page)
}

func (t *invertedPageTableSet) Install(pid PID, page uint64, frame uint64) error {
	_, found, err := t.find(pid, page)
	if err != nil {
		return err
	}

	if found {
		return fmt.Errorf("%w: page %d of process %d is already present",
			ErrInvariantViolation, page, pid)
	}

	if frame >= uint64(len(t.frames)) {
		return fmt.Errorf("%w: frame %d, %d frames",
			ErrOutOfRange, frame, len(t.frames))
	}

	old := t.frames[frame]
	if t.codec.Present(old) {
		return fmt.Errorf("%w: frame %d is already used by page %d of process %d",
			ErrInvariantViolation, frame,
			t.codec.PageNumber(old), t.codec.ProcessNumber(old))
	}

	e, err := t.codec.WithOwner(0, pid, page)
	if err != nil {
		return err
	}

	t.frames[frame] = t.codec.SetPresent(e)
	t.lookup[pageKey{pid: pid, page: page}] = frame

	return nil
}

func (t *invertedPageTableSet) Evict(pid PID, page uint64) (bool, error) {
	frame, err := t.mustFind(pid, page)
	if err != nil {
		return false, err
	}

	wasModified := t.codec.Modified(t.frames[frame])
	t.frames[frame] = 0
	delete(t.lookup, pageKey{pid: pid, page: page})

	return wasModified, nil
}

func (t *invertedPageTableSet) update(
	pid PID,
	page uint64,
	f func(Entry) Entry,
) error {
	frame, err := t.mustFind(pid, page)
	if err != nil {
		return err
	}

	t.frames[frame] = f(t.frames[frame])

	return nil
}

func (t *invertedPageTableSet) MarkReferenced(pid PID, page uint64) error {
	return t.update(pid, page, t.codec.SetReferenced)
}

func (t *invertedPageTableSet) MarkModified(pid PID, page uint64) error {
	return t.update(pid, page, t.codec.SetModified)
}

func (t *invertedPageTableSet) ClearReferenced(pid PID, page uint64) error {
	return t.update(pid, page, t.codec.ClearReferenced)
}

func (t *invertedPageTableSet) Lookup(pid PID, page uint64) (EntryState, error) {
	frame, found, err := t.find(pid, page)
	if err != nil || !found {
		return EntryState{}, err
	}

	e := t.frames[frame]

	return EntryState{
		Present:    true,
		Referenced: t.codec.Referenced(e),
		Modified:   t.codec.Modified(e),
		Frame:      frame,
	}, nil
}

func (t *invertedPageTableSet) All() iter.Seq[PresentEntry] {
	return func(yield func(PresentEntry) bool) {
		for frame, e := range t.frames {
			if !t.codec.Present(e) {
				continue
			}

			entry := PresentEntry{
				PID:        t.codec.ProcessNumber(e),
				Page:       t.codec.PageNumber(e),
				Frame:      uint64(frame),
				Referenced: t.codec.Referenced(e),
				Modified:   t.codec.Modified(e),
			}

			if !yield(entry) {
				return
			}
		}
	}
}
