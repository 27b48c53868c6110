package simulation

import (
	"context"
	"io"
	"net/http"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/vmsim/datarecording"
	"github.com/sarchlab/vmsim/mem/trace"
	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/mem/vm/mmu"
)

var _ = Describe("Simulation", func() {
	var (
		simulation *Simulation
		c          *mmu.Comp
	)

	BeforeEach(func() {
		simulation = MakeBuilder().
			WithoutMonitoring().
			WithoutRecording().
			Build()
		c = mmu.MakeBuilder().WithAddressBits(4, 3, 2).Build("MMU")
	})

	AfterEach(func() {
		Expect(simulation.Terminate()).To(Succeed())
	})

	It("should register an MMU", func() {
		simulation.RegisterMMU(c)

		Expect(simulation.GetMMUByName("MMU")).To(BeIdenticalTo(c))
		Expect(simulation.GetMMUByName("TLB")).To(BeNil())
		Expect(simulation.MMUs()).To(Equal([]*mmu.Comp{c}))
		Expect(c.NumHooks()).To(BeZero())
	})

	It("should reject MMUs with the same name", func() {
		simulation.RegisterMMU(c)

		other := mmu.MakeBuilder().Build("MMU")
		Expect(func() { simulation.RegisterMMU(other) }).To(Panic())
	})

	It("should have a unique ID", func() {
		other := MakeBuilder().WithoutMonitoring().WithoutRecording().Build()

		Expect(simulation.ID()).ToNot(BeEmpty())
		Expect(simulation.ID()).ToNot(Equal(other.ID()))
	})

	It("should reject options of disabled services", func() {
		Expect(func() {
			MakeBuilder().WithoutMonitoring().WithMonitorPort(8080).Build()
		}).To(Panic())
		Expect(func() {
			MakeBuilder().WithoutMonitoring().WithoutRecording().
				WithOutputFileName("out").Build()
		}).To(Panic())
	})

	Context("when recording", func() {
		var path string

		BeforeEach(func() {
			path = filepath.Join(GinkgoT().TempDir(), "run")
			simulation = MakeBuilder().
				WithoutMonitoring().
				WithOutputFileName(path).
				Build()
		})

		It("should record the accesses of registered MMUs", func() {
			simulation.RegisterMMU(c)
			Expect(simulation.GetDataRecorder()).ToNot(BeNil())
			Expect(c.NumHooks()).To(Equal(1))

			_, err := c.Access(vm.Access{PID: 0, Op: vm.Write, VAddr: 6})
			Expect(err).ToNot(HaveOccurred())
			Expect(simulation.GetIDGenerator().Generate()).To(Equal("2"))
			Expect(simulation.Terminate()).To(Succeed())

			reader := datarecording.NewReader(path + ".sqlite3")
			defer reader.Close()

			reader.MapTable(trace.AccessTable, trace.AccessEntry{})
			results, total, err := reader.Query(context.Background(),
				trace.AccessTable, datarecording.QueryParams{})
			Expect(err).ToNot(HaveOccurred())
			Expect(total).To(Equal(1))
			Expect(results[0].(*trace.AccessEntry).PAddr).To(Equal(uint64(2)))

			simulation = MakeBuilder().WithoutMonitoring().WithoutRecording().Build()
		})
	})

	Context("when monitoring", func() {
		It("should start a server", func() {
			simulation = MakeBuilder().WithoutRecording().Build()
			simulation.RegisterMMU(c)

			Expect(simulation.GetMonitor()).ToNot(BeNil())
			Expect(simulation.MonitorURL()).To(HavePrefix("http://localhost:"))
		})

		It("should serve the records", func() {
			simulation = MakeBuilder().
				WithOutputFileName(filepath.Join(GinkgoT().TempDir(), "run")).
				Build()
			simulation.RegisterMMU(c)

			_, err := c.Access(vm.Access{PID: 0, Op: vm.Read, VAddr: 1})
			Expect(err).ToNot(HaveOccurred())

			rsp, err := http.Get(simulation.MonitorURL() +
				"/api/records/" + trace.AccessTable)
			Expect(err).ToNot(HaveOccurred())
			defer rsp.Body.Close()

			body, err := io.ReadAll(rsp.Body)
			Expect(err).ToNot(HaveOccurred())
			Expect(rsp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring(`"total":1`))
		})
	})
})
