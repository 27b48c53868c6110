package mmu

import (
	"fmt"
	"iter"
	"math/rand/v2"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/sim"
	"go.uber.org/mock/gomock"
)

type hookPosMatcher struct {
	pos *sim.HookPos
}

func (m hookPosMatcher) Matches(x any) bool {
	ctx, ok := x.(sim.HookCtx)
	return ok && ctx.Pos == m.pos
}

func (m hookPosMatcher) String() string {
	return "is hook context at " + m.pos.Name
}

func atPos(pos *sim.HookPos) gomock.Matcher {
	return hookPosMatcher{pos: pos}
}

func access(pid vm.PID, op vm.Op, vAddr uint64) vm.Access {
	return vm.Access{PID: pid, Op: op, VAddr: vAddr}
}

func mustAccess(c *Comp, a vm.Access) Translation {
	t, err := c.Access(a)
	Expect(err).ToNot(HaveOccurred())
	Expect(c.CheckConsistency()).To(Succeed())

	return t
}

func pageOf(s Snapshot, pid vm.PID, page uint64) PageState {
	return s.Processes[pid].Pages[page]
}

// emptyScan hides every present page from scans.
type emptyScan struct {
	vm.PageTableSet
}

func (emptyScan) All() iter.Seq[vm.PresentEntry] {
	return func(func(vm.PresentEntry) bool) {}
}

var tableConfigs = []struct {
	name         string
	kind         TableKind
	reverseIndex bool
}{
	{"per-process tables", PerProcessTable, false},
	{"per-process tables with a reverse index", PerProcessTable, true},
	{"inverted tables", InvertedTable, false},
}

var _ = Describe("MMU", func() {
	for _, cfg := range tableConfigs {
		Context(fmt.Sprintf("with %s", cfg.name), func() {
			var builder Builder

			BeforeEach(func() {
				builder = MakeBuilder().
					WithAddressBits(4, 3, 2).
					WithTableKind(cfg.kind).
					WithReverseIndex(cfg.reverseIndex)
			})

			It("should fill free frames, then replace the lowest frame on ties", func() {
				mmu := builder.Build("MMU")

				t := mustAccess(mmu, access(0, vm.Write, 0))
				Expect(t.Fault).To(BeTrue())
				Expect(t.Frame).To(Equal(uint64(0)))
				Expect(t.PAddr).To(Equal(uint64(0)))
				Expect(t.Eviction).To(BeNil())

				t = mustAccess(mmu, access(0, vm.Read, 4))
				Expect(t.Fault).To(BeTrue())
				Expect(t.Page).To(Equal(uint64(1)))
				Expect(t.PAddr).To(Equal(uint64(4)))
				Expect(t.Refreshed).To(BeFalse())

				t = mustAccess(mmu, access(0, vm.Read, 8))
				Expect(t.Fault).To(BeTrue())
				Expect(t.Eviction).To(Equal(&Eviction{
					PID: 0, Page: 0, Frame: 0, WriteBack: true,
				}))
				Expect(t.Frame).To(Equal(uint64(0)))
				Expect(t.PAddr).To(Equal(uint64(0)))
				Expect(t.Refreshed).To(BeTrue())

				s := mmu.Snapshot()
				Expect(pageOf(s, 0, 0).Present).To(BeFalse())
				Expect(pageOf(s, 0, 1)).To(Equal(PageState{
					Page: 1, Present: true, Frame: 1, Age: 255,
				}))
				Expect(pageOf(s, 0, 2)).To(Equal(PageState{
					Page: 2, Present: true, Frame: 0, Age: 255,
				}))
				Expect(s.FreeFrames).To(BeEmpty())
				Expect(s.Stats).To(Equal(Stats{
					Accesses: 3, Faults: 3, Evictions: 1, WriteBacks: 1,
				}))
			})

			It("should keep the offset and hit present pages", func() {
				mmu := builder.Build("MMU")

				mustAccess(mmu, access(0, vm.Read, 5))
				t := mustAccess(mmu, access(0, vm.Read, 7))

				Expect(t.Fault).To(BeFalse())
				Expect(t.Page).To(Equal(uint64(1)))
				Expect(t.Offset).To(Equal(uint64(3)))
				Expect(t.PAddr).To(Equal(uint64(3)))
				Expect(mmu.Stats().Hits).To(Equal(uint64(1)))
			})

			It("should replace the page with the lowest age", func() {
				mmu := builder.WithRefreshInterval(2).Build("MMU")

				mustAccess(mmu, access(0, vm.Read, 0))
				mustAccess(mmu, access(0, vm.Read, 4))
				mustAccess(mmu, access(0, vm.Read, 4))
				mustAccess(mmu, access(0, vm.Read, 4))

				s := mmu.Snapshot()
				Expect(s.AgingBits).To(Equal(uint(8)))
				Expect(s.Aging).To(Equal([]uint32{127, 255}))

				t := mustAccess(mmu, access(0, vm.Read, 12))
				Expect(t.Eviction).To(Equal(&Eviction{PID: 0, Page: 0, Frame: 0}))
			})

			It("should break ties by frame, not by process", func() {
				mmu := builder.
					WithNumProcesses(2).
					WithRefreshInterval(100).
					Build("MMU")

				mustAccess(mmu, access(1, vm.Read, 0))
				mustAccess(mmu, access(0, vm.Read, 4))
				t := mustAccess(mmu, access(0, vm.Read, 8))

				Expect(t.Eviction).To(Equal(&Eviction{PID: 1, Page: 0, Frame: 0}))
			})

			It("should keep pages modified across refreshes", func() {
				mmu := builder.WithRefreshInterval(1).Build("MMU")

				mustAccess(mmu, access(0, vm.Write, 0))
				for i := 0; i < 5; i++ {
					mustAccess(mmu, access(0, vm.Read, 1))
				}

				page := pageOf(mmu.Snapshot(), 0, 0)
				Expect(page.Modified).To(BeTrue())
				Expect(page.Referenced).To(BeFalse())
				Expect(page.Age).To(Equal(uint32(255)))
			})

			It("should age idle pages down to zero", func() {
				mmu := builder.WithRefreshInterval(1).Build("MMU")

				mustAccess(mmu, access(0, vm.Read, 0))
				for i := 0; i < 8; i++ {
					mustAccess(mmu, access(0, vm.Read, 4))
				}

				Expect(pageOf(mmu.Snapshot(), 0, 0).Age).To(BeZero())
			})

			It("should reject accesses out of range without side effects", func() {
				mmu := builder.WithNumProcesses(2).Build("MMU")

				_, err := mmu.Access(access(2, vm.Read, 0))
				Expect(err).To(MatchError(vm.ErrOutOfRange))

				_, err = mmu.Access(access(0, vm.Read, 16))
				Expect(err).To(MatchError(vm.ErrOutOfRange))

				_, err = mmu.Access(access(0, vm.Op(7), 0))
				Expect(err).To(MatchError(vm.ErrOutOfRange))

				s := mmu.Snapshot()
				Expect(s.NumAccesses).To(BeZero())
				Expect(s.Stats).To(Equal(Stats{}))
				Expect(s.FreeFrames).To(Equal([]uint64{0, 1}))
			})
		})
	}

	It("should translate a random trace the same way with every backing", func() {
		var reference []Translation

		for _, cfg := range tableConfigs {
			mmu := MakeBuilder().
				WithAddressBits(8, 5, 2).
				WithNumProcesses(3).
				WithTableKind(cfg.kind).
				WithReverseIndex(cfg.reverseIndex).
				Build("MMU")

			rng := rand.New(rand.NewPCG(42, 7))
			translations := []Translation{}

			for i := 0; i < 500; i++ {
				op := vm.Read
				if rng.IntN(3) == 0 {
					op = vm.Write
				}

				a := access(vm.PID(rng.IntN(3)), op, rng.Uint64N(256))
				translations = append(translations, mustAccess(mmu, a))
			}

			if reference == nil {
				reference = translations
				continue
			}

			Expect(translations).To(Equal(reference), cfg.name)
		}
	})

	It("should report a missing victim as an invariant violation", func() {
		spec := MakeBuilder().WithAddressBits(4, 2, 2).Spec()
		pts := emptyScan{vm.NewPageTableSet(1, spec.NumPages(), spec.NumFrames())}
		mmu := MakeBuilder().
			WithSpec(spec).
			WithPageTableSet(pts).
			Build("MMU")

		_, err := mmu.Access(access(0, vm.Read, 0))
		Expect(err).ToNot(HaveOccurred())

		_, err = mmu.Access(access(0, vm.Read, 4))
		Expect(err).To(MatchError(vm.ErrInvariantViolation))
	})

	Context("hooks", func() {
		var (
			mockCtrl *gomock.Controller
			hook     *MockHook
			mmu      *Comp
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			hook = NewMockHook(mockCtrl)
			mmu = MakeBuilder().WithAddressBits(4, 3, 2).Build("MMU")
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should report a hit", func() {
			mustAccess(mmu, access(0, vm.Read, 0))
			mmu.AcceptHook(hook)

			gomock.InOrder(
				hook.EXPECT().Func(atPos(HookPosDecode)),
				hook.EXPECT().Func(atPos(HookPosTranslate)).
					Do(func(ctx sim.HookCtx) {
						Expect(ctx.Domain).To(BeIdenticalTo(mmu))
						Expect(ctx.Item).To(Equal(access(0, vm.Read, 1)))
						t := ctx.Detail.(Translation)
						Expect(t.Fault).To(BeFalse())
						Expect(t.PAddr).To(Equal(uint64(1)))
					}),
			)

			mustAccess(mmu, access(0, vm.Read, 1))
		})

		It("should report a fault with a replacement and a refresh", func() {
			mustAccess(mmu, access(0, vm.Write, 0))
			mustAccess(mmu, access(0, vm.Read, 4))
			mmu.AcceptHook(hook)

			gomock.InOrder(
				hook.EXPECT().Func(atPos(HookPosDecode)),
				hook.EXPECT().Func(atPos(HookPosPageFault)),
				hook.EXPECT().Func(atPos(HookPosEvict)).
					Do(func(ctx sim.HookCtx) {
						Expect(ctx.Detail).To(Equal(Eviction{
							PID: 0, Page: 0, Frame: 0, WriteBack: true,
						}))
					}),
				hook.EXPECT().Func(atPos(HookPosLoad)).
					Do(func(ctx sim.HookCtx) {
						Expect(ctx.Detail).To(Equal(Load{PID: 0, Page: 2, Frame: 0}))
					}),
				hook.EXPECT().Func(atPos(HookPosTranslate)),
				hook.EXPECT().Func(atPos(HookPosAgingRefresh)).
					Do(func(ctx sim.HookCtx) {
						Expect(ctx.Detail).To(Equal(2))
					}),
			)

			mustAccess(mmu, access(0, vm.Read, 8))
		})
	})
})
