package vm

import (
	"fmt"
	"iter"
	"math/bits"
)

// A PresentEntry describes a page that currently occupies a frame.
type PresentEntry struct {
	PID        PID
	Page       uint64
	Frame      uint64
	Referenced bool
	Modified   bool
}

// EntryState is the decoded content of one page table entry.
type EntryState struct {
	Present    bool
	Referenced bool
	Modified   bool
	Frame      uint64
}

// A PageTableSet holds the page tables of all the processes. Pages are
// addressed by process ID and page number, both of which must be in range.
//
// A PageTableSet is not safe for concurrent use. Its owner serializes the
// accesses.
type PageTableSet interface {
	// NumProcesses returns the number of page tables.
	NumProcesses() int

	// NumPages returns the number of pages in each page table.
	NumPages() uint64

	// IsPresent tells if the page occupies a frame.
	IsPresent(pid PID, page uint64) (bool, error)

	// FrameOf returns the frame the page occupies. The page must be present.
	FrameOf(pid PID, page uint64) (uint64, error)

	// Install maps a page that is not present to the frame.
	Install(pid PID, page uint64, frame uint64) error

	// Evict unmaps a present page. It tells if the page needs to be written
	// back.
	Evict(pid PID, page uint64) (wasModified bool, err error)

	// MarkReferenced sets the referenced bit of a present page.
	MarkReferenced(pid PID, page uint64) error

	// MarkModified sets the modified bit of a present page.
	MarkModified(pid PID, page uint64) error

	// ClearReferenced clears the referenced bit of a present page.
	ClearReferenced(pid PID, page uint64) error

	// Lookup decodes the entry of a page, present or not.
	Lookup(pid PID, page uint64) (EntryState, error)

	// All visits every present page. Each call rescans the tables. Clearing
	// the referenced bit of the yielded entry while visiting is allowed.
	All() iter.Seq[PresentEntry]
}

// NewPageTableSet creates one page table of numPages entries for each of the
// numProcesses processes. The tables can map pages to numFrames frames.
func NewPageTableSet(
	numProcesses int,
	numPages uint64,
	numFrames uint64,
) PageTableSet {
	return newPageTableSet(numProcesses, numPages, numFrames, false)
}

// NewPageTableSetWithReverseIndex creates a PageTableSet like NewPageTableSet,
// but also keeps track of which page occupies each frame. All then walks the
// frames instead of every entry of every table.
func NewPageTableSetWithReverseIndex(
	numProcesses int,
	numPages uint64,
	numFrames uint64,
) PageTableSet {
	return newPageTableSet(numProcesses, numPages, numFrames, true)
}

func newPageTableSet(
	numProcesses int,
	numPages uint64,
	numFrames uint64,
	reverseIndex bool,
) *pageTableSet {
	if numProcesses < 1 {
		panic("at least one process is required")
	}

	if numFrames < 1 {
		panic("at least one frame is required")
	}

	pts := &pageTableSet{
		codec:    NewCodec(FieldBits(numFrames)),
		numPages: numPages,
		tables:   make([][]Entry, numProcesses),
	}

	for i := range pts.tables {
		pts.tables[i] = make([]Entry, numPages)
	}

	if reverseIndex {
		pts.owners = make([]frameOwner, numFrames)
	}

	return pts
}

// FieldBits returns the number of bits needed to store any value in [0, n).
func FieldBits(n uint64) uint {
	if n <= 1 {
		return 0
	}

	return uint(bits.Len64(n - 1))
}

type frameOwner struct {
	valid bool
	pid   PID
	page  uint64
}

// pageTableSet is the default implementation of a PageTableSet. Each process
// owns a flat array of entries indexed by page number.
type pageTableSet struct {
	codec    Codec
	numPages uint64
	tables   [][]Entry
	owners   []frameOwner
}

func (pts *pageTableSet) NumProcesses() int {
	return len(pts.tables)
}

func (pts *pageTableSet) NumPages() uint64 {
	return pts.numPages
}

func (pts *pageTableSet) entry(pid PID, page uint64) (*Entry, error) {
	err := checkPage(len(pts.tables), pts.numPages, pid, page)
	if err != nil {
		return nil, err
	}

	return &pts.tables[pid][page], nil
}

func (pts *pageTableSet) presentEntry(pid PID, page uint64) (*Entry, error) {
	e, err := pts.entry(pid, page)
	if err != nil {
		return nil, err
	}

	if !pts.codec.Present(*e) {
		return nil, fmt.Errorf("%w: page %d of process %d is not present",
			ErrInvariantViolation, page, pid)
	}

	return e, nil
}

func (pts *pageTableSet) IsPresent(pid PID, page uint64) (bool, error) {
	e, err := pts.entry(pid, page)
	if err != nil {
		return false, err
	}

	return pts.codec.Present(*e), nil
}

func (pts *pageTableSet) FrameOf(pid PID, page uint64) (uint64, error) {
	e, err := pts.presentEntry(pid, page)
	if err != nil {
		return 0, err
	}

	return pts.codec.FrameNumber(*e), nil
}

func (pts *pageTableSet) Install(pid PID, page uint64, frame uint64) error {
	e, err := pts.entry(pid, page)
	if err != nil {
		return err
	}

	if pts.codec.Present(*e) {
		return fmt.Errorf("%w: page %d of process %d is already present",
			ErrInvariantViolation, page, pid)
	}

	if pts.owners != nil {
		if frame >= uint64(len(pts.owners)) {
			return fmt.Errorf("%w: frame %d", ErrOutOfRange, frame)
		}

		if pts.owners[frame].valid {
			return fmt.Errorf("%w: frame %d is already used by page %d of process %d",
				ErrInvariantViolation, frame,
				pts.owners[frame].page, pts.owners[frame].pid)
		}
	}

	installed, err := pts.codec.WithFrameNumber(0, frame)
	if err != nil {
		return err
	}

	*e = pts.codec.SetPresent(installed)

	if pts.owners != nil {
		pts.owners[frame] = frameOwner{valid: true, pid: pid, page: page}
	}

	return nil
}

func (pts *pageTableSet) Evict(pid PID, page uint64) (bool, error) {
	e, err := pts.presentEntry(pid, page)
	if err != nil {
		return false, err
	}

	wasModified := pts.codec.Modified(*e)

	if pts.owners != nil {
		pts.owners[pts.codec.FrameNumber(*e)] = frameOwner{}
	}

	*e = 0

	return wasModified, nil
}

func (pts *pageTableSet) MarkReferenced(pid PID, page uint64) error {
	e, err := pts.presentEntry(pid, page)
	if err != nil {
		return err
	}

	*e = pts.codec.SetReferenced(*e)

	return nil
}

func (pts *pageTableSet) MarkModified(pid PID, page uint64) error {
	e, err := pts.presentEntry(pid, page)
	if err != nil {
		return err
	}

	*e = pts.codec.SetModified(*e)

	return nil
}

func (pts *pageTableSet) ClearReferenced(pid PID, page uint64) error {
	e, err := pts.presentEntry(pid, page)
	if err != nil {
		return err
	}

	*e = pts.codec.ClearReferenced(*e)

	return nil
}

func (pts *pageTableSet) Lookup(pid PID, page uint64) (EntryState, error) {
	e, err := pts.entry(pid, page)
	if err != nil {
		return EntryState{}, err
	}

	return EntryState{
		Present:    pts.codec.Present(*e),
		Referenced: pts.codec.Referenced(*e),
		Modified:   pts.codec.Modified(*e),
		Frame:      pts.codec.FrameNumber(*e),
	}, nil
}

func (pts *pageTableSet) All() iter.Seq[PresentEntry] {
	if pts.owners != nil {
		return pts.allByFrame
	}

	return pts.allByTable
}

func (pts *pageTableSet) allByTable(yield func(PresentEntry) bool) {
	for pid, table := range pts.tables {
		for page, e := range table {
			if !pts.codec.Present(e) {
				continue
			}

			if !yield(pts.present(PID(pid), uint64(page), e)) {
				return
			}
		}
	}
}

func (pts *pageTableSet) allByFrame(yield func(PresentEntry) bool) {
	for _, o := range pts.owners {
		if !o.valid {
			continue
		}

		e := pts.tables[o.pid][o.page]
		if !yield(pts.present(o.pid, o.page, e)) {
			return
		}
	}
}

func (pts *pageTableSet) present(pid PID, page uint64, e Entry) PresentEntry {
	return PresentEntry{
		PID:        pid,
		Page:       page,
		Frame:      pts.codec.FrameNumber(e),
		Referenced: pts.codec.Referenced(e),
		Modified:   pts.codec.Modified(e),
	}
}

func checkPage(numProcesses int, numPages uint64, pid PID, page uint64) error {
	if uint64(pid) >= uint64(numProcesses) {
		return fmt.Errorf("%w: process %d, %d processes",
			ErrOutOfRange, pid, numProcesses)
	}

	if page >= numPages {
		return fmt.Errorf("%w: page %d, %d pages", ErrOutOfRange, page, numPages)
	}

	return nil
}
