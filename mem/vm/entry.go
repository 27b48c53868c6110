package vm

import "fmt"

// An Entry is a packed page table entry. Codecs decide where each field lives
// inside the integer. All mutators return the updated value and leave the
// argument untouched.
type Entry uint64

// flags locates the present, referenced, and modified bits, which always sit
// next to each other starting at base.
type flags struct {
	base uint
}

func (f flags) presentBit() Entry    { return 1 << f.base }
func (f flags) referencedBit() Entry { return 1 << (f.base + 1) }
func (f flags) modifiedBit() Entry   { return 1 << (f.base + 2) }

// Present tells if the page occupies a frame. When it does not, the other
// fields are meaningless.
func (f flags) Present(e Entry) bool { return e&f.presentBit() != 0 }

// Referenced tells if the page has been accessed since the last aging
// refresh.
func (f flags) Referenced(e Entry) bool { return e&f.referencedBit() != 0 }

// Modified tells if the page has been written since it was loaded.
func (f flags) Modified(e Entry) bool { return e&f.modifiedBit() != 0 }

// SetPresent returns e with the present bit set.
func (f flags) SetPresent(e Entry) Entry { return e | f.presentBit() }

// SetReferenced returns e with the referenced bit set.
func (f flags) SetReferenced(e Entry) Entry { return e | f.referencedBit() }

// SetModified returns e with the modified bit set.
func (f flags) SetModified(e Entry) Entry { return e | f.modifiedBit() }

// ClearPresent returns e with the present bit cleared.
func (f flags) ClearPresent(e Entry) Entry { return e &^ f.presentBit() }

// ClearReferenced returns e with the referenced bit cleared.
func (f flags) ClearReferenced(e Entry) Entry { return e &^ f.referencedBit() }

// ClearModified returns e with the modified bit cleared.
func (f flags) ClearModified(e Entry) Entry { return e &^ f.modifiedBit() }

// maxFieldBits keeps the three flag bits inside a uint64.
const maxFieldBits = 61

func fieldMask(width uint) uint64 {
	return 1<<width - 1
}

// A Codec reads and writes the entries of a per-process page table. From the
// least significant bit, an entry holds frameBits bits of frame number, then
// the present, referenced, and modified bits.
type Codec struct {
	flags
	frameBits uint
}

// NewCodec creates a Codec whose frame number field is frameBits wide.
func NewCodec(frameBits uint) Codec {
	if frameBits > maxFieldBits {
		panic(fmt.Sprintf("frame number field too wide: %d bits", frameBits))
	}

	return Codec{
		flags:     flags{base: frameBits},
		frameBits: frameBits,
	}
}

// FrameNumber returns the frame number field of e.
func (c Codec) FrameNumber(e Entry) uint64 {
	return uint64(e) & fieldMask(c.frameBits)
}

// WithFrameNumber replaces the frame number field of e and keeps the flags.
// Frame numbers that do not fit in the field are rejected.
func (c Codec) WithFrameNumber(e Entry, frame uint64) (Entry, error) {
	mask := fieldMask(c.frameBits)
	if frame > mask {
		return e, fmt.Errorf("%w: frame %d does not fit in %d bits",
			ErrOutOfRange, frame, c.frameBits)
	}

	return e&^Entry(mask) | Entry(frame), nil
}

// An InvertedCodec reads and writes the entries of an inverted page table,
// where each entry describes a frame. From the least significant bit, an entry
// holds the page number, the process number, then the present, referenced,
// and modified bits.
type InvertedCodec struct {
	flags
	pageNumberBits uint
	processBits    uint
}

// NewInvertedCodec creates an InvertedCodec.
func NewInvertedCodec(pageNumberBits, processBits uint) InvertedCodec {
	if pageNumberBits+processBits > maxFieldBits {
		panic(fmt.Sprintf("inverted entry too wide: %d page bits, %d process bits",
			pageNumberBits, processBits))
	}

	return InvertedCodec{
		flags:          flags{base: pageNumberBits + processBits},
		pageNumberBits: pageNumberBits,
		processBits:    processBits,
	}
}

// PageNumber returns the page number of the page held by the frame.
func (c InvertedCodec) PageNumber(e Entry) uint64 {
	return uint64(e) & fieldMask(c.pageNumberBits)
}

// ProcessNumber returns the process that owns the page held by the frame.
func (c InvertedCodec) ProcessNumber(e Entry) PID {
	return PID((uint64(e) >> c.pageNumberBits) & fieldMask(c.processBits))
}

// WithOwner replaces the page and process fields of e and keeps the flags.
func (c InvertedCodec) WithOwner(e Entry, pid PID, page uint64) (Entry, error) {
	if page > fieldMask(c.pageNumberBits) {
		return e, fmt.Errorf("%w: page %d does not fit in %d bits",
			ErrOutOfRange, page, c.pageNumberBits)
	}

	if uint64(pid) > fieldMask(c.processBits) {
		return e, fmt.Errorf("%w: process %d does not fit in %d bits",
			ErrOutOfRange, pid, c.processBits)
	}

	ownerMask := Entry(fieldMask(c.pageNumberBits + c.processBits))
	owner := Entry(uint64(pid)<<c.pageNumberBits | page)

	return e&^ownerMask | owner, nil
}
