package mmu

import (
	"fmt"

	"github.com/sarchlab/vmsim/mem/vm"
)

// TableKind selects the data structure backing the page tables.
type TableKind string

// Supported page table kinds.
const (
	// PerProcessTable keeps one flat array of entries per process.
	PerProcessTable TableKind = "per-process"

	// InvertedTable keeps one entry per frame plus a hash lookup.
	InvertedTable TableKind = "inverted"
)

// MaxTableBits bounds the number of pages per process and the number of
// frames to 2^MaxTableBits.
const MaxTableBits = 24

// MaxTableEntries bounds the number of page table entries across all the
// processes.
const MaxTableEntries = 1 << 26

// Spec holds the parameters of an MMU.
type Spec struct {
	VirtualAddressBits  uint
	PhysicalAddressBits uint
	PageBits            uint
	NumProcesses        int

	// AgingBits is the width of the aging counter of each frame.
	AgingBits uint

	// RefreshInterval is the number of accesses between two aging refreshes.
	RefreshInterval uint64

	TableKind TableKind

	// ReverseIndex makes per-process tables remember which page occupies each
	// frame. Ignored by inverted tables, which are indexed by frame anyway.
	ReverseIndex bool
}

func defaults() Spec {
	return Spec{
		VirtualAddressBits:  16,
		PhysicalAddressBits: 14,
		PageBits:            12,
		NumProcesses:        1,
		AgingBits:           8,
		RefreshInterval:     3,
		TableKind:           PerProcessTable,
	}
}

func (s Spec) validate() error {
	if s.VirtualAddressBits < s.PageBits {
		return fmt.Errorf("virtual address bits (%d) must not be less than "+
			"page bits (%d)", s.VirtualAddressBits, s.PageBits)
	}

	if s.PhysicalAddressBits < s.PageBits {
		return fmt.Errorf("physical address bits (%d) must not be less than "+
			"page bits (%d)", s.PhysicalAddressBits, s.PageBits)
	}

	if s.VirtualAddressBits-s.PageBits > MaxTableBits {
		return fmt.Errorf("too many pages per process: 2^%d, at most 2^%d",
			s.VirtualAddressBits-s.PageBits, MaxTableBits)
	}

	if s.PhysicalAddressBits-s.PageBits > MaxTableBits {
		return fmt.Errorf("too many frames: 2^%d, at most 2^%d",
			s.PhysicalAddressBits-s.PageBits, MaxTableBits)
	}

	if s.VirtualAddressBits > 63 || s.PhysicalAddressBits > 63 {
		return fmt.Errorf("addresses must be narrower than 64 bits")
	}

	if s.NumProcesses < 1 {
		return fmt.Errorf("at least one process is required, got %d",
			s.NumProcesses)
	}

	if uint64(s.NumProcesses) > MaxTableEntries/s.NumPages() {
		return fmt.Errorf("too many processes: %d processes of %d pages "+
			"need more than %d entries",
			s.NumProcesses, s.NumPages(), MaxTableEntries)
	}

	if s.AgingBits < 1 || s.AgingBits > vm.MaxAgingBits {
		return fmt.Errorf("aging bits must be in [1, %d], got %d",
			vm.MaxAgingBits, s.AgingBits)
	}

	if s.RefreshInterval < 1 {
		return fmt.Errorf("refresh interval must be at least 1")
	}

	switch s.TableKind {
	case PerProcessTable, InvertedTable:
	default:
		return fmt.Errorf("unknown page table kind %q", s.TableKind)
	}

	return nil
}

// NumPages returns the number of pages in the virtual address space of each
// process.
func (s Spec) NumPages() uint64 {
	return 1 << (s.VirtualAddressBits - s.PageBits)
}

// NumFrames returns the number of frames in physical memory.
func (s Spec) NumFrames() uint64 {
	return 1 << (s.PhysicalAddressBits - s.PageBits)
}

// PageSize returns the number of bytes in a page.
func (s Spec) PageSize() uint64 {
	return 1 << s.PageBits
}
