package mmu

import (
	"fmt"

	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/sim"
)

// A Builder can build MMU components.
type Builder struct {
	spec       Spec
	pageTables vm.PageTableSet
}

// MakeBuilder creates a new builder with default parameters.
func MakeBuilder() Builder {
	return Builder{spec: defaults()}
}

// WithSpec replaces all the parameters at once.
func (b Builder) WithSpec(spec Spec) Builder {
	b.spec = spec
	return b
}

// WithAddressBits sets the width of virtual addresses, physical addresses,
// and page offsets.
func (b Builder) WithAddressBits(virtual, physical, page uint) Builder {
	b.spec.VirtualAddressBits = virtual
	b.spec.PhysicalAddressBits = physical
	b.spec.PageBits = page
	return b
}

// WithNumProcesses sets the number of processes, and hence page tables.
func (b Builder) WithNumProcesses(n int) Builder {
	b.spec.NumProcesses = n
	return b
}

// WithAgingBits sets the width of the aging counters.
func (b Builder) WithAgingBits(n uint) Builder {
	b.spec.AgingBits = n
	return b
}

// WithRefreshInterval sets how many accesses happen between two aging
// refreshes.
func (b Builder) WithRefreshInterval(n uint64) Builder {
	b.spec.RefreshInterval = n
	return b
}

// WithTableKind selects the data structure backing the page tables.
func (b Builder) WithTableKind(kind TableKind) Builder {
	b.spec.TableKind = kind
	return b
}

// WithReverseIndex enables or disables the frame to page index of per-process
// tables.
func (b Builder) WithReverseIndex(enabled bool) Builder {
	b.spec.ReverseIndex = enabled
	return b
}

// WithPageTableSet makes the MMU use the given page tables instead of creating
// its own. The tables must match the number of processes and pages of the
// spec.
func (b Builder) WithPageTableSet(pts vm.PageTableSet) Builder {
	b.pageTables = pts
	return b
}

// Spec returns the parameters the builder would use.
func (b Builder) Spec() Spec {
	return b.spec
}

// Validate reports whether Build would accept the current parameters.
func (b Builder) Validate() error {
	err := b.spec.validate()
	if err != nil {
		return err
	}

	return b.pageTableSetMustMatch()
}

// Build returns a newly created MMU. It panics if the parameters or the name
// are invalid; call Validate first to handle bad parameters gracefully.
func (b Builder) Build(name string) *Comp {
	err := b.Validate()
	if err != nil {
		panic(err)
	}

	err = sim.ValidateName(name)
	if err != nil {
		panic(err)
	}

	c := &Comp{
		name:   name,
		spec:   b.spec,
		frames: vm.NewFramePool(b.spec.NumFrames()),
		aging:  vm.NewAgingBuffer(b.spec.NumFrames(), b.spec.AgingBits),
	}

	b.createPageTableSet(c)

	return c
}

func (b Builder) createPageTableSet(c *Comp) {
	if b.pageTables != nil {
		c.pageTables = b.pageTables
		return
	}

	numProcesses := b.spec.NumProcesses
	numPages := b.spec.NumPages()
	numFrames := b.spec.NumFrames()

	switch {
	case b.spec.TableKind == InvertedTable:
		c.pageTables = vm.NewInvertedPageTableSet(
			numProcesses, numPages, numFrames)
	case b.spec.ReverseIndex:
		c.pageTables = vm.NewPageTableSetWithReverseIndex(
			numProcesses, numPages, numFrames)
	default:
		c.pageTables = vm.NewPageTableSet(numProcesses, numPages, numFrames)
	}
}

func (b Builder) pageTableSetMustMatch() error {
	if b.pageTables == nil {
		return nil
	}

	if b.pageTables.NumProcesses() != b.spec.NumProcesses ||
		b.pageTables.NumPages() != b.spec.NumPages() {
		return fmt.Errorf("page tables hold %d processes of %d pages, "+
			"the MMU expects %d processes of %d pages",
			b.pageTables.NumProcesses(), b.pageTables.NumPages(),
			b.spec.NumProcesses, b.spec.NumPages())
	}

	return nil
}
