// Package mmu provides the translation engine. It turns the virtual addresses
// of a stream of accesses into physical addresses, loading pages on faults and
// replacing the stalest page with the aging policy when memory is full.
package mmu

import (
	"fmt"
	"sync"

	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/sim"
)

// HookPosDecode marks that an access has been split into page and offset. The
// detail is a Translation holding only the decoded fields.
var HookPosDecode = &sim.HookPos{Name: "MMU Decode"}

// HookPosPageFault marks that the page of an access is not present. The
// detail is a Translation holding only the decoded fields.
var HookPosPageFault = &sim.HookPos{Name: "MMU Page Fault"}

// HookPosEvict marks that a page has been removed from its frame. The detail
// is an Eviction.
var HookPosEvict = &sim.HookPos{Name: "MMU Evict"}

// HookPosLoad marks that a page has been placed in a frame. The detail is a
// Load.
var HookPosLoad = &sim.HookPos{Name: "MMU Load"}

// HookPosTranslate marks that the physical address of an access is known. The
// detail is the Translation.
var HookPosTranslate = &sim.HookPos{Name: "MMU Translate"}

// HookPosAgingRefresh marks that the aging counters have been refreshed. The
// detail is the number of frames refreshed.
var HookPosAgingRefresh = &sim.HookPos{Name: "MMU Aging Refresh"}

// An Eviction describes a page removed from memory to make room.
type Eviction struct {
	PID       vm.PID
	Page      uint64
	Frame     uint64
	WriteBack bool
}

// A Load describes a page placed in a frame.
type Load struct {
	PID   vm.PID
	Page  uint64
	Frame uint64
}

// A Translation is the outcome of one access.
type Translation struct {
	Access vm.Access

	// Seq is the 1-based position of the access among all the accesses the
	// MMU has processed.
	Seq uint64

	Page   uint64
	Offset uint64
	Frame  uint64
	PAddr  uint64

	Fault    bool
	Eviction *Eviction

	// Refreshed tells if the aging counters are refreshed right after this
	// access.
	Refreshed bool
}

// Stats counts what happened so far.
type Stats struct {
	Accesses   uint64
	Hits       uint64
	Faults     uint64
	Evictions  uint64
	WriteBacks uint64
}

// Comp is the translation engine. It owns the page tables, the frame pool,
// and the aging buffer. All the accesses go through a single lock, so victim
// selection always sees a consistent state.
type Comp struct {
	sim.HookableBase
	sync.Mutex

	name string
	spec Spec

	pageTables vm.PageTableSet
	frames     *vm.FramePool
	aging      *vm.AgingBuffer

	numAccesses uint64
	stats       Stats
}

// Name returns the name of the MMU.
func (c *Comp) Name() string {
	return c.name
}

// Spec returns the parameters of the MMU.
func (c *Comp) Spec() Spec {
	return c.spec
}

// Stats returns the counters of the MMU.
func (c *Comp) Stats() Stats {
	c.Lock()
	defer c.Unlock()

	return c.stats
}

// Access translates the virtual address of one access, handling the page
// fault if any. Accesses that do not fit the address space fail with
// vm.ErrOutOfRange and leave the state untouched. A vm.ErrInvariantViolation
// means the MMU is broken and should not be used anymore.
func (c *Comp) Access(a vm.Access) (Translation, error) {
	c.Lock()
	defer c.Unlock()

	err := c.accessMustBeInRange(a)
	if err != nil {
		return Translation{}, err
	}

	c.numAccesses++
	t := Translation{
		Access: a,
		Seq:    c.numAccesses,
		Page:   a.VAddr >> c.spec.PageBits,
		Offset: a.VAddr & (c.spec.PageSize() - 1),
	}
	c.invokeHook(HookPosDecode, a, t)

	err = c.findFrame(&t)
	if err != nil {
		return t, err
	}

	t.PAddr = t.Frame<<c.spec.PageBits | t.Offset

	err = c.updateFlags(a, t.Page)
	if err != nil {
		return t, err
	}

	c.stats.Accesses++
	t.Refreshed = c.numAccesses%c.spec.RefreshInterval == 0
	c.invokeHook(HookPosTranslate, a, t)

	if t.Refreshed {
		err = c.refreshAging(a)
		if err != nil {
			return t, err
		}
	}

	return t, nil
}

func (c *Comp) accessMustBeInRange(a vm.Access) error {
	if uint64(a.PID) >= uint64(c.spec.NumProcesses) {
		return fmt.Errorf("%w: process %d, %d processes",
			vm.ErrOutOfRange, a.PID, c.spec.NumProcesses)
	}

	if a.VAddr>>c.spec.VirtualAddressBits != 0 {
		return fmt.Errorf("%w: address %d does not fit in %d bits",
			vm.ErrOutOfRange, a.VAddr, c.spec.VirtualAddressBits)
	}

	switch a.Op {
	case vm.Read, vm.Write:
	default:
		return fmt.Errorf("%w: unknown operation %s", vm.ErrOutOfRange, a.Op)
	}

	return nil
}

func (c *Comp) findFrame(t *Translation) error {
	a := t.Access

	present, err := c.pageTables.IsPresent(a.PID, t.Page)
	if err != nil {
		return err
	}

	if present {
		c.stats.Hits++
		t.Frame, err = c.pageTables.FrameOf(a.PID, t.Page)

		return err
	}

	c.stats.Faults++
	t.Fault = true
	c.invokeHook(HookPosPageFault, a, *t)

	frame, ok := c.frames.Allocate()
	if !ok {
		e, err := c.evictVictim(a)
		if err != nil {
			return err
		}

		t.Eviction = &e
		frame = e.Frame
	}

	err = c.pageTables.Install(a.PID, t.Page, frame)
	if err != nil {
		return err
	}

	c.aging.OnLoad(frame)
	t.Frame = frame
	c.invokeHook(HookPosLoad, a, Load{PID: a.PID, Page: t.Page, Frame: frame})

	return nil
}

// selectVictim picks the present page whose frame has the lowest aging
// counter. Ties go to the lowest frame index, whatever the process or page.
func (c *Comp) selectVictim() (vm.PresentEntry, bool) {
	var (
		victim vm.PresentEntry
		lowest uint32
		found  bool
	)

	for e := range c.pageTables.All() {
		age := c.aging.AgeOf(e.Frame)

		if !found || age < lowest || (age == lowest && e.Frame < victim.Frame) {
			victim = e
			lowest = age
			found = true
		}
	}

	return victim, found
}

func (c *Comp) evictVictim(a vm.Access) (Eviction, error) {
	victim, found := c.selectVictim()
	if !found {
		return Eviction{}, fmt.Errorf(
			"%w: no free frame and no page to replace", vm.ErrInvariantViolation)
	}

	wasModified, err := c.pageTables.Evict(victim.PID, victim.Page)
	if err != nil {
		return Eviction{}, err
	}

	c.aging.OnEvict(victim.Frame)

	e := Eviction{
		PID:       victim.PID,
		Page:      victim.Page,
		Frame:     victim.Frame,
		WriteBack: wasModified,
	}

	c.stats.Evictions++
	if e.WriteBack {
		c.stats.WriteBacks++
	}

	c.invokeHook(HookPosEvict, a, e)

	return e, nil
}

func (c *Comp) updateFlags(a vm.Access, page uint64) error {
	err := c.pageTables.MarkReferenced(a.PID, page)
	if err != nil {
		return err
	}

	if a.Op == vm.Write {
		return c.pageTables.MarkModified(a.PID, page)
	}

	return nil
}

// refreshAging folds the referenced bit of every present page into the aging
// counter of its frame, then clears the referenced bit. The modified bit is
// left alone.
func (c *Comp) refreshAging(a vm.Access) error {
	refreshed := 0

	for e := range c.pageTables.All() {
		c.aging.Refresh(e.Frame, e.Referenced)
		refreshed++

		if !e.Referenced {
			continue
		}

		err := c.pageTables.ClearReferenced(e.PID, e.Page)
		if err != nil {
			return err
		}
	}

	c.invokeHook(HookPosAgingRefresh, a, refreshed)

	return nil
}

func (c *Comp) invokeHook(pos *sim.HookPos, item, detail interface{}) {
	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    pos,
		Item:   item,
		Detail: detail,
	})
}
