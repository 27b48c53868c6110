// Package simulation wires the MMUs of a run together with the services that
// observe them: the data recorder and the monitor.
package simulation

import (
	"github.com/sarchlab/vmsim/datarecording"
	"github.com/sarchlab/vmsim/mem/vm/mmu"
	"github.com/sarchlab/vmsim/monitoring"
	"github.com/sarchlab/vmsim/sim"
)

// A Simulation provides the services required to run MMUs.
type Simulation struct {
	id          string
	idGenerator sim.IDGenerator

	dataRecorder datarecording.DataRecorder
	dbTracer     sim.Hook
	monitor      *monitoring.Monitor
	monitorURL   string

	mmus         []*mmu.Comp
	mmuNameIndex map[string]int
}

// ID returns the unique ID of the simulation.
func (s *Simulation) ID() string {
	return s.id
}

// GetIDGenerator returns the generator of the IDs of the records.
func (s *Simulation) GetIDGenerator() sim.IDGenerator {
	return s.idGenerator
}

// GetDataRecorder returns the data recorder used in the simulation. It is nil
// when recording is disabled.
func (s *Simulation) GetDataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// GetMonitor returns the monitor used in the simulation. It is nil when
// monitoring is disabled.
func (s *Simulation) GetMonitor() *monitoring.Monitor {
	return s.monitor
}

// MonitorURL returns the address of the monitoring server, if any.
func (s *Simulation) MonitorURL() string {
	return s.monitorURL
}

// RegisterMMU registers an MMU with the simulation. The MMU is recorded and
// monitored if the simulation records and monitors.
func (s *Simulation) RegisterMMU(c *mmu.Comp) {
	name := c.Name()
	if _, found := s.mmuNameIndex[name]; found {
		panic("MMU " + name + " already registered")
	}

	s.mmus = append(s.mmus, c)
	s.mmuNameIndex[name] = len(s.mmus) - 1

	if s.dbTracer != nil {
		c.AcceptHook(s.dbTracer)
	}

	if s.monitor != nil {
		s.monitor.RegisterMMU(c)
	}
}

// GetMMUByName returns the MMU with the given name, or nil.
func (s *Simulation) GetMMUByName(name string) *mmu.Comp {
	i, found := s.mmuNameIndex[name]
	if !found {
		return nil
	}

	return s.mmus[i]
}

// MMUs returns all the registered MMUs.
func (s *Simulation) MMUs() []*mmu.Comp {
	return append([]*mmu.Comp(nil), s.mmus...)
}

// Terminate flushes the records and closes the database.
func (s *Simulation) Terminate() error {
	if s.dataRecorder == nil {
		return nil
	}

	return s.dataRecorder.Close()
}
