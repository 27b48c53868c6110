package sim

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type countingHook struct {
	positions []*HookPos
}

func (h *countingHook) Func(ctx HookCtx) {
	h.positions = append(h.positions, ctx.Pos)
}

var _ = Describe("HookableBase", func() {
	var (
		hookable *HookableBase
		pos      = &HookPos{Name: "Test"}
	)

	BeforeEach(func() {
		hookable = &HookableBase{}
	})

	It("should invoke hooks in registration order", func() {
		order := []string{}
		hookable.AcceptHook(HookFunc(func(HookCtx) { order = append(order, "a") }))
		hookable.AcceptHook(HookFunc(func(HookCtx) { order = append(order, "b") }))

		hookable.InvokeHook(HookCtx{Domain: hookable, Pos: pos})

		Expect(order).To(Equal([]string{"a", "b"}))
		Expect(hookable.NumHooks()).To(Equal(2))
	})

	It("should pass the context through", func() {
		hook := &countingHook{}
		hookable.AcceptHook(hook)

		hookable.InvokeHook(HookCtx{Domain: hookable, Pos: pos})

		Expect(hook.positions).To(Equal([]*HookPos{pos}))
	})

	It("should panic on duplicated hooks", func() {
		hook := &countingHook{}
		hookable.AcceptHook(hook)

		Expect(func() { hookable.AcceptHook(hook) }).To(Panic())
	})
})

var _ = Describe("LogHookBase", func() {
	It("should write bare lines", func() {
		buf := new(bytes.Buffer)
		base := NewLogHookBase(buf)

		base.Printf("hello %d", 1)

		Expect(buf.String()).To(Equal("hello 1\n"))
	})
})

var _ = Describe("IDGenerator", func() {
	It("should count sequentially", func() {
		g := NewSequentialIDGenerator()

		Expect(g.Generate()).To(Equal("1"))
		Expect(g.Generate()).To(Equal("2"))
	})

	It("should generate unique parallel IDs", func() {
		g := NewParallelIDGenerator()

		Expect(g.Generate()).ToNot(Equal(g.Generate()))
	})
})
