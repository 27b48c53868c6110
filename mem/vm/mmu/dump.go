package mmu

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// Dump writes the page tables, the aging counters of the present pages, and
// the free frames of a snapshot in a human readable form. Absent pages show
// dashes in place of the meaningless fields.
func Dump(w io.Writer, s Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)

	fmt.Fprintln(tw, "Page Tables (with associated aging status):")

	for _, p := range s.Processes {
		fmt.Fprintf(tw, "\nProcess %d\n", p.PID)
		fmt.Fprintln(tw, "page#\tmod\tref\tpresent\tframe#\taging\t")

		for _, page := range p.Pages {
			if !page.Present {
				fmt.Fprintf(tw, "%d:\t-\t-\t0\t-\t-\t\n", page.Page)
				continue
			}

			fmt.Fprintf(tw, "%d:\t%d\t%d\t1\t%d\t%d\t\n",
				page.Page, bit(page.Modified), bit(page.Referenced),
				page.Frame, page.Age)
		}
	}

	fmt.Fprintf(tw, "\nFree Frames: %v\n", s.FreeFrames)
	fmt.Fprintf(tw,
		"Accesses: %d, Hits: %d, Faults: %d, Evictions: %d, Write-backs: %d\n",
		s.Stats.Accesses, s.Stats.Hits, s.Stats.Faults,
		s.Stats.Evictions, s.Stats.WriteBacks)

	return tw.Flush()
}

func bit(b bool) int {
	if b {
		return 1
	}

	return 0
}
