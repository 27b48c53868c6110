package vm_test

import (
	"github.com/sarchlab/vmsim/mem/vm"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("AgingBuffer", func() {
	var buffer *vm.AgingBuffer

	BeforeEach(func() {
		buffer = vm.NewAgingBuffer(2, 8)
	})

	It("should have one counter per frame", func() {
		Expect(buffer.Len()).To(Equal(2))
		Expect(buffer.Bits()).To(Equal(uint(8)))
		Expect(buffer.Counters()).To(Equal([]uint32{0, 0}))
	})

	It("should load frames at the maximum age", func() {
		buffer.OnLoad(1)

		Expect(buffer.AgeOf(1)).To(Equal(uint32(255)))
		Expect(buffer.AgeOf(0)).To(Equal(uint32(0)))
	})

	It("should shift in the referenced bit", func() {
		buffer.Refresh(0, true)
		Expect(buffer.AgeOf(0)).To(Equal(uint32(0x80)))

		buffer.Refresh(0, false)
		Expect(buffer.AgeOf(0)).To(Equal(uint32(0x40)))

		buffer.Refresh(0, true)
		Expect(buffer.AgeOf(0)).To(Equal(uint32(0xa0)))
	})

	It("should decay to zero after as many idle refreshes as bits", func() {
		buffer.OnLoad(0)

		for i := 0; i < 7; i++ {
			buffer.Refresh(0, false)
			Expect(buffer.AgeOf(0)).ToNot(BeZero())
		}

		buffer.Refresh(0, false)
		Expect(buffer.AgeOf(0)).To(BeZero())
	})

	It("should clear the counter on eviction", func() {
		buffer.OnLoad(0)
		buffer.OnEvict(0)

		Expect(buffer.AgeOf(0)).To(BeZero())
	})

	It("should support narrow and wide counters", func() {
		narrow := vm.NewAgingBuffer(1, 1)
		narrow.OnLoad(0)
		Expect(narrow.AgeOf(0)).To(Equal(uint32(1)))
		narrow.Refresh(0, false)
		Expect(narrow.AgeOf(0)).To(BeZero())

		wide := vm.NewAgingBuffer(1, 32)
		wide.OnLoad(0)
		Expect(wide.AgeOf(0)).To(Equal(uint32(0xffffffff)))
		wide.Refresh(0, false)
		Expect(wide.AgeOf(0)).To(Equal(uint32(0x7fffffff)))
	})

	It("should panic on unsupported widths", func() {
		Expect(func() { vm.NewAgingBuffer(1, 0) }).To(Panic())
		Expect(func() { vm.NewAgingBuffer(1, 33) }).To(Panic())
	})
})
