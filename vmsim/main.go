// vmsim replays memory access traces through a paged virtual memory with
// aging page replacement.
package main

import (
	"github.com/sarchlab/vmsim/vmsim/cmd"
	"github.com/tebeka/atexit"
)

func main() {
	cmd.Execute()
	atexit.Exit(0)
}
