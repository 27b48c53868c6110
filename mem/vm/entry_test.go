package vm_test

import (
	"github.com/sarchlab/vmsim/mem/vm"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Codec", func() {
	It("should round trip every frame number", func() {
		for frameBits := uint(0); frameBits <= 6; frameBits++ {
			codec := vm.NewCodec(frameBits)
			for frame := uint64(0); frame < 1<<frameBits; frame++ {
				e, err := codec.WithFrameNumber(0, frame)
				Expect(err).ToNot(HaveOccurred())
				Expect(codec.FrameNumber(e)).To(Equal(frame))
			}
		}
	})

	It("should reject frame numbers that do not fit", func() {
		codec := vm.NewCodec(3)

		e, err := codec.WithFrameNumber(vm.Entry(5), 8)

		Expect(err).To(MatchError(vm.ErrOutOfRange))
		Expect(e).To(Equal(vm.Entry(5)))
	})

	It("should place the flags above the frame number", func() {
		codec := vm.NewCodec(4)

		e := codec.SetPresent(0)
		Expect(e).To(Equal(vm.Entry(1 << 4)))

		e = codec.SetReferenced(0)
		Expect(e).To(Equal(vm.Entry(1 << 5)))

		e = codec.SetModified(0)
		Expect(e).To(Equal(vm.Entry(1 << 6)))
	})

	It("should keep the flags when replacing the frame number", func() {
		codec := vm.NewCodec(4)
		e := codec.SetModified(codec.SetPresent(0))

		e, err := codec.WithFrameNumber(e, 9)
		Expect(err).ToNot(HaveOccurred())
		e, err = codec.WithFrameNumber(e, 6)
		Expect(err).ToNot(HaveOccurred())

		Expect(codec.FrameNumber(e)).To(Equal(uint64(6)))
		Expect(codec.Present(e)).To(BeTrue())
		Expect(codec.Modified(e)).To(BeTrue())
		Expect(codec.Referenced(e)).To(BeFalse())
	})

	It("should set and clear flags idempotently and independently", func() {
		codec := vm.NewCodec(3)
		base, err := codec.WithFrameNumber(0, 5)
		Expect(err).ToNot(HaveOccurred())

		type flag struct {
			get   func(vm.Entry) bool
			set   func(vm.Entry) vm.Entry
			clear func(vm.Entry) vm.Entry
		}
		all := []flag{
			{codec.Present, codec.SetPresent, codec.ClearPresent},
			{codec.Referenced, codec.SetReferenced, codec.ClearReferenced},
			{codec.Modified, codec.SetModified, codec.ClearModified},
		}

		for i, f := range all {
			set := f.set(base)
			Expect(f.set(set)).To(Equal(set))
			Expect(f.get(set)).To(BeTrue())
			Expect(codec.FrameNumber(set)).To(Equal(uint64(5)))

			for j, other := range all {
				if i != j {
					Expect(other.get(set)).To(BeFalse())
				}
			}

			cleared := f.clear(set)
			Expect(f.clear(cleared)).To(Equal(cleared))
			Expect(cleared).To(Equal(base))
		}
	})
})

var _ = Describe("InvertedCodec", func() {
	It("should pack the owner below the flags", func() {
		codec := vm.NewInvertedCodec(3, 2)

		e, err := codec.WithOwner(0, 2, 5)
		Expect(err).ToNot(HaveOccurred())
		e = codec.SetReferenced(codec.SetPresent(e))

		Expect(codec.PageNumber(e)).To(Equal(uint64(5)))
		Expect(codec.ProcessNumber(e)).To(Equal(vm.PID(2)))
		Expect(codec.Present(e)).To(BeTrue())
		Expect(codec.Referenced(e)).To(BeTrue())
		Expect(codec.Modified(e)).To(BeFalse())
		Expect(e).To(Equal(vm.Entry(2<<3 | 5 | 1<<5 | 1<<6)))
	})

	It("should keep the flags when the owner changes", func() {
		codec := vm.NewInvertedCodec(3, 1)
		e := codec.SetModified(0)

		e, err := codec.WithOwner(e, 1, 7)
		Expect(err).ToNot(HaveOccurred())
		e, err = codec.WithOwner(e, 0, 2)
		Expect(err).ToNot(HaveOccurred())

		Expect(codec.PageNumber(e)).To(Equal(uint64(2)))
		Expect(codec.ProcessNumber(e)).To(Equal(vm.PID(0)))
		Expect(codec.Modified(e)).To(BeTrue())
	})

	It("should reject owners that do not fit", func() {
		codec := vm.NewInvertedCodec(2, 1)

		_, err := codec.WithOwner(0, 2, 0)
		Expect(err).To(MatchError(vm.ErrOutOfRange))

		_, err = codec.WithOwner(0, 0, 4)
		Expect(err).To(MatchError(vm.ErrOutOfRange))
	})
})
