package vm

import "errors"

// ErrOutOfRange is returned when a process ID, page number, frame number, or
// address does not fit the configured bit widths.
var ErrOutOfRange = errors.New("out of range")

// ErrInvariantViolation is returned when the page tables, the frame pool, and
// the aging buffer disagree with each other. It always indicates a bug.
var ErrInvariantViolation = errors.New("invariant violation")
