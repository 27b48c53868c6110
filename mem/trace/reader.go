// Package trace reads memory access traces and reports what the MMU does with
// each access.
package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sarchlab/vmsim/mem/vm"
)

// ErrMalformedHeader means the first two lines of a trace cannot be parsed.
var ErrMalformedHeader = errors.New("malformed trace header")

// ErrMalformedRecord means an access line of a trace cannot be parsed.
var ErrMalformedRecord = errors.New("malformed trace record")

// A RecordError tells which line of the trace failed.
type RecordError struct {
	Line int
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Header holds the address layout declared at the top of a trace.
type Header struct {
	VirtualAddressBits  uint
	PhysicalAddressBits uint
	PageBits            uint
	NumProcesses        int
}

// A Record is one access of a trace, with the line it comes from.
type Record struct {
	Line   int
	Access vm.Access
}

// Reader parses a trace. The header comes first: a line with the virtual
// address, physical address, and page offset widths, then a line with the
// number of processes. Each of the following lines holds one access as
// "<process> <r|w> <virtual address>".
type Reader struct {
	scanner    *bufio.Scanner
	line       int
	headerRead bool
}

// NewReader creates a Reader that parses r.
func NewReader(r io.Reader) *Reader {
	return &Reader{scanner: bufio.NewScanner(r)}
}

func (r *Reader) nextLine() (string, bool) {
	if !r.scanner.Scan() {
		return "", false
	}

	r.line++

	return r.scanner.Text(), true
}

// ReadHeader parses the header. It must be called once, before Next.
func (r *Reader) ReadHeader() (Header, error) {
	if r.headerRead {
		return Header{}, fmt.Errorf("%w: header already read", ErrMalformedHeader)
	}

	r.headerRead = true

	widths, err := r.headerFields(3)
	if err != nil {
		return Header{}, err
	}

	counts, err := r.headerFields(1)
	if err != nil {
		return Header{}, err
	}

	h := Header{
		VirtualAddressBits:  uint(widths[0]),
		PhysicalAddressBits: uint(widths[1]),
		PageBits:            uint(widths[2]),
		NumProcesses:        int(counts[0]),
	}

	err = h.validate()
	if err != nil {
		return Header{}, &RecordError{Line: r.line, Err: err}
	}

	return h, nil
}

func (r *Reader) headerFields(n int) ([]uint64, error) {
	text, ok := r.nextLine()
	if !ok {
		return nil, r.endOfHeader()
	}

	fields := strings.Fields(text)
	if len(fields) != n {
		return nil, &RecordError{
			Line: r.line,
			Err: fmt.Errorf("%w: expected %d numbers, got %q",
				ErrMalformedHeader, n, text),
		}
	}

	values := make([]uint64, n)
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, &RecordError{
				Line: r.line,
				Err:  fmt.Errorf("%w: %q is not a number", ErrMalformedHeader, f),
			}
		}

		values[i] = v
	}

	return values, nil
}

func (r *Reader) endOfHeader() error {
	err := r.scanner.Err()
	if err != nil {
		return &RecordError{
			Line: r.line + 1,
			Err:  fmt.Errorf("%w: %w", ErrMalformedHeader, err),
		}
	}

	return &RecordError{
		Line: r.line + 1,
		Err:  fmt.Errorf("%w: unexpected end of trace", ErrMalformedHeader),
	}
}

func (h Header) validate() error {
	if h.VirtualAddressBits < h.PageBits {
		return fmt.Errorf("%w: virtual address bits (%d) less than page bits (%d)",
			ErrMalformedHeader, h.VirtualAddressBits, h.PageBits)
	}

	if h.PhysicalAddressBits < h.PageBits {
		return fmt.Errorf("%w: physical address bits (%d) less than page bits (%d)",
			ErrMalformedHeader, h.PhysicalAddressBits, h.PageBits)
	}

	if h.NumProcesses < 1 {
		return fmt.Errorf("%w: at least one process is required",
			ErrMalformedHeader)
	}

	return nil
}

// Next parses the next access. It returns io.EOF after the last access. Blank
// lines are skipped.
func (r *Reader) Next() (Record, error) {
	if !r.headerRead {
		return Record{}, fmt.Errorf("%w: header not read", ErrMalformedHeader)
	}

	for {
		text, ok := r.nextLine()
		if !ok {
			err := r.scanner.Err()
			if err != nil {
				return Record{}, &RecordError{
					Line: r.line + 1,
					Err:  fmt.Errorf("%w: %w", ErrMalformedRecord, err),
				}
			}

			return Record{}, io.EOF
		}

		if strings.TrimSpace(text) == "" {
			continue
		}

		a, err := parseAccess(text)
		if err != nil {
			return Record{}, &RecordError{Line: r.line, Err: err}
		}

		return Record{Line: r.line, Access: a}, nil
	}
}

func parseAccess(text string) (vm.Access, error) {
	fields := strings.Fields(text)
	if len(fields) != 3 {
		return vm.Access{}, fmt.Errorf(
			"%w: expected \"<process> <r|w> <address>\", got %q",
			ErrMalformedRecord, text)
	}

	pid, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return vm.Access{}, fmt.Errorf("%w: bad process %q",
			ErrMalformedRecord, fields[0])
	}

	var op vm.Op

	switch fields[1] {
	case "r":
		op = vm.Read
	case "w":
		op = vm.Write
	default:
		return vm.Access{}, fmt.Errorf("%w: bad operation %q",
			ErrMalformedRecord, fields[1])
	}

	vAddr, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return vm.Access{}, fmt.Errorf("%w: bad address %q",
			ErrMalformedRecord, fields[2])
	}

	return vm.Access{PID: vm.PID(pid), Op: op, VAddr: vAddr}, nil
}
