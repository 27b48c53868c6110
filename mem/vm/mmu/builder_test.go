package mmu

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/vmsim/mem/vm"
)

var _ = Describe("Builder", func() {
	It("should start from the defaults", func() {
		spec := MakeBuilder().Spec()

		Expect(spec.AgingBits).To(Equal(uint(8)))
		Expect(spec.RefreshInterval).To(Equal(uint64(3)))
		Expect(spec.TableKind).To(Equal(PerProcessTable))
		Expect(MakeBuilder().Validate()).To(Succeed())
	})

	It("should derive sizes from the address bits", func() {
		spec := MakeBuilder().WithAddressBits(10, 8, 4).Spec()

		Expect(spec.NumPages()).To(Equal(uint64(64)))
		Expect(spec.NumFrames()).To(Equal(uint64(16)))
		Expect(spec.PageSize()).To(Equal(uint64(16)))
	})

	DescribeTable("should reject invalid parameters",
		func(b Builder) {
			Expect(b.Validate()).To(HaveOccurred())
			Expect(func() { b.Build("MMU") }).To(Panic())
		},
		Entry("page wider than virtual address",
			MakeBuilder().WithAddressBits(2, 4, 3)),
		Entry("page wider than physical address",
			MakeBuilder().WithAddressBits(4, 2, 3)),
		Entry("too many pages",
			MakeBuilder().WithAddressBits(40, 8, 4)),
		Entry("too many frames",
			MakeBuilder().WithAddressBits(8, 40, 4)),
		Entry("no process",
			MakeBuilder().WithNumProcesses(0)),
		Entry("too many processes for the page tables",
			MakeBuilder().
				WithAddressBits(36, 36, 12).
				WithNumProcesses(4000000000)),
		Entry("too many entries across processes",
			MakeBuilder().
				WithAddressBits(24, 12, 0).
				WithNumProcesses(5)),
		Entry("no aging bit",
			MakeBuilder().WithAgingBits(0)),
		Entry("too many aging bits",
			MakeBuilder().WithAgingBits(33)),
		Entry("no refresh interval",
			MakeBuilder().WithRefreshInterval(0)),
		Entry("unknown table kind",
			MakeBuilder().WithTableKind("hashed")),
		Entry("page tables of the wrong shape",
			MakeBuilder().
				WithAddressBits(4, 3, 2).
				WithPageTableSet(vm.NewPageTableSet(2, 4, 2))),
	)

	It("should accept page tables at the entry limit", func() {
		b := MakeBuilder().
			WithAddressBits(24, 12, 0).
			WithNumProcesses(4)

		Expect(b.Validate()).To(Succeed())
	})

	It("should use the given page tables", func() {
		pts := vm.NewPageTableSet(1, 4, 2)
		mmu := MakeBuilder().
			WithAddressBits(4, 3, 2).
			WithPageTableSet(pts).
			Build("MMU")

		_, err := mmu.Access(vm.Access{PID: 0, Op: vm.Read, VAddr: 4})
		Expect(err).ToNot(HaveOccurred())

		present, err := pts.IsPresent(0, 1)
		Expect(err).ToNot(HaveOccurred())
		Expect(present).To(BeTrue())
	})

	It("should reject names that do not follow the convention", func() {
		Expect(func() { MakeBuilder().Build("mmu_0") }).To(Panic())
	})

	It("should name the component", func() {
		mmu := MakeBuilder().Build("Proc.MMU")

		Expect(mmu.Name()).To(Equal("Proc.MMU"))
		Expect(mmu.Spec()).To(Equal(MakeBuilder().Spec()))
	})
})
