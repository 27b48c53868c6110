package trace

import (
	"io"
	"sync"

	"github.com/sarchlab/vmsim/datarecording"
	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/mem/vm/mmu"
	"github.com/sarchlab/vmsim/sim"
)

const separator = "-----------------------------------------------------------"

// A logTracer is a hook that narrates the work of an MMU, one line per step.
type logTracer struct {
	sim.LogHookBase
}

// NewLogTracer creates a hook that writes a human readable log of every
// access handled by an MMU to w.
func NewLogTracer(w io.Writer) sim.LogHook {
	return &logTracer{LogHookBase: sim.NewLogHookBase(w)}
}

func (t *logTracer) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case mmu.HookPosDecode:
		tr := ctx.Detail.(mmu.Translation)
		t.Println(separator)
		t.Printf("Process: %d  Command: %s  Virtual Memory Location: %d\n",
			tr.Access.PID, tr.Access.Op, tr.Access.VAddr)
		t.Printf("  pageNum: %d  offset: %d\n", tr.Page, tr.Offset)
	case mmu.HookPosPageFault:
		t.Println(" *** Page Fault ***")
	case mmu.HookPosEvict:
		e := ctx.Detail.(mmu.Eviction)
		if e.WriteBack {
			t.Println("    Writing modified data...")
		}

		t.Printf("    Removing page %d of process %d from frame %d\n",
			e.Page, e.PID, e.Frame)
	case mmu.HookPosLoad:
		l := ctx.Detail.(mmu.Load)
		t.Printf("    Loading page %d of process %d to frame %d\n",
			l.Page, l.PID, l.Frame)
	case mmu.HookPosTranslate:
		tr := ctx.Detail.(mmu.Translation)
		t.Printf("--> Physical Location: %d\n", tr.PAddr)
	case mmu.HookPosAgingRefresh:
		t.Println(" ***Aging Buffer Update***")
	}
}

// AccessEntry is the row recorded for each translated access.
type AccessEntry struct {
	ID       string
	Location string `vmsim_data:"index"`
	Seq      uint64 `vmsim_data:"index"`
	PID      uint32 `vmsim_data:"index"`
	Op       string
	VAddr    uint64
	Page     uint64 `vmsim_data:"index"`
	Offset   uint64
	Fault    bool
	Frame    uint64
	PAddr    uint64
}

// EvictionEntry is the row recorded for each page removed from memory.
type EvictionEntry struct {
	ID        string
	AccessID  string `vmsim_data:"index"`
	PID       uint32 `vmsim_data:"index"`
	Page      uint64
	Frame     uint64
	WriteBack bool
}

// RefreshEntry is the row recorded for each refresh of the aging counters.
type RefreshEntry struct {
	ID        string
	AccessID  string `vmsim_data:"index"`
	Seq       uint64
	NumFrames int
}

// Names of the tables written by the database tracer.
const (
	AccessTable   = "vmsim_accesses"
	EvictionTable = "vmsim_evictions"
	RefreshTable  = "vmsim_refreshes"
)

type named interface {
	Name() string
}

// A dbTracer is a hook that records the work of MMUs into a database.
type dbTracer struct {
	sync.Mutex

	recorder datarecording.DataRecorder
	ids      sim.IDGenerator

	accessID map[sim.Hookable]string
	seq      map[sim.Hookable]uint64
}

// NewDBTracer creates a hook that records every access, eviction, and aging
// refresh with the data recorder. The same tracer can be attached to several
// MMUs.
func NewDBTracer(
	recorder datarecording.DataRecorder,
	ids sim.IDGenerator,
) sim.Hook {
	t := &dbTracer{
		recorder: recorder,
		ids:      ids,
		accessID: make(map[sim.Hookable]string),
		seq:      make(map[sim.Hookable]uint64),
	}

	t.recorder.CreateTable(AccessTable, AccessEntry{})
	t.recorder.CreateTable(EvictionTable, EvictionEntry{})
	t.recorder.CreateTable(RefreshTable, RefreshEntry{})

	return t
}

func (t *dbTracer) Func(ctx sim.HookCtx) {
	t.Lock()
	defer t.Unlock()

	switch ctx.Pos {
	case mmu.HookPosDecode:
		tr := ctx.Detail.(mmu.Translation)
		t.accessID[ctx.Domain] = t.ids.Generate()
		t.seq[ctx.Domain] = tr.Seq
	case mmu.HookPosEvict:
		t.recordEviction(ctx.Domain, ctx.Detail.(mmu.Eviction))
	case mmu.HookPosTranslate:
		t.recordAccess(ctx.Domain, ctx.Detail.(mmu.Translation))
	case mmu.HookPosAgingRefresh:
		t.recorder.InsertData(RefreshTable, RefreshEntry{
			ID:        t.ids.Generate(),
			AccessID:  t.accessID[ctx.Domain],
			Seq:       t.seq[ctx.Domain],
			NumFrames: ctx.Detail.(int),
		})
	}
}

func (t *dbTracer) recordEviction(domain sim.Hookable, e mmu.Eviction) {
	t.recorder.InsertData(EvictionTable, EvictionEntry{
		ID:        t.ids.Generate(),
		AccessID:  t.accessID[domain],
		PID:       uint32(e.PID),
		Page:      e.Page,
		Frame:     e.Frame,
		WriteBack: e.WriteBack,
	})
}

func (t *dbTracer) recordAccess(domain sim.Hookable, tr mmu.Translation) {
	location := ""
	if n, ok := domain.(named); ok {
		location = n.Name()
	}

	t.recorder.InsertData(AccessTable, AccessEntry{
		ID:       t.accessID[domain],
		Location: location,
		Seq:      tr.Seq,
		PID:      uint32(tr.Access.PID),
		Op:       accessOpName(tr.Access.Op),
		VAddr:    tr.Access.VAddr,
		Page:     tr.Page,
		Offset:   tr.Offset,
		Fault:    tr.Fault,
		Frame:    tr.Frame,
		PAddr:    tr.PAddr,
	})
}

func accessOpName(op vm.Op) string {
	if op == vm.Write {
		return "write"
	}

	return "read"
}
