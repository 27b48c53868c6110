// Package vm provides the data structures of demand paging: packed page table
// entries, page tables, the free frame pool, and the aging buffer.
package vm

import "fmt"

// PID stands for Process ID.
type PID uint32

// Op is the kind of a memory access.
type Op int

// The two kinds of memory accesses.
const (
	Read Op = iota
	Write
)

func (o Op) String() string {
	switch o {
	case Read:
		return "r"
	case Write:
		return "w"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// An Access is one memory reference issued by a process.
type Access struct {
	PID   PID
	Op    Op
	VAddr uint64
}
