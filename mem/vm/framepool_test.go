package vm_test

import (
	"github.com/sarchlab/vmsim/mem/vm"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("FramePool", func() {
	var pool *vm.FramePool

	BeforeEach(func() {
		pool = vm.NewFramePool(4)
	})

	It("should allocate lowest index first", func() {
		for i := uint64(0); i < 4; i++ {
			frame, ok := pool.Allocate()
			Expect(ok).To(BeTrue())
			Expect(frame).To(Equal(i))
		}

		_, ok := pool.Allocate()
		Expect(ok).To(BeFalse())
		Expect(pool.NumFree()).To(Equal(0))
	})

	It("should hand out released frames again in index order", func() {
		for i := 0; i < 4; i++ {
			pool.Allocate()
		}

		Expect(pool.Release(3)).To(Succeed())
		Expect(pool.Release(1)).To(Succeed())
		Expect(pool.Free()).To(Equal([]uint64{1, 3}))

		frame, ok := pool.Allocate()
		Expect(ok).To(BeTrue())
		Expect(frame).To(Equal(uint64(1)))
	})

	It("should reject releasing a free frame", func() {
		Expect(pool.Release(2)).To(MatchError(vm.ErrInvariantViolation))
	})

	It("should reject releasing an unknown frame", func() {
		Expect(pool.Release(4)).To(MatchError(vm.ErrOutOfRange))
	})
})
