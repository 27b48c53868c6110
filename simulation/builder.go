package simulation

import (
	"github.com/rs/xid"
	"github.com/sarchlab/vmsim/datarecording"
	"github.com/sarchlab/vmsim/mem/trace"
	"github.com/sarchlab/vmsim/monitoring"
	"github.com/sarchlab/vmsim/sim"
)

// Builder can be used to build a simulation.
type Builder struct {
	monitorOn      bool
	monitorPort    int
	openBrowser    bool
	recordingOn    bool
	outputFileName string
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		monitorOn:   true,
		recordingOn: true,
	}
}

// WithoutMonitoring sets the simulation to not use monitoring.
func (b Builder) WithoutMonitoring() Builder {
	b.monitorOn = false
	return b
}

// WithMonitorPort sets the port number for the monitoring server.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorPort = port
	return b
}

// WithBrowser opens the monitoring page in a browser when the simulation
// starts.
func (b Builder) WithBrowser() Builder {
	b.openBrowser = true
	return b
}

// WithoutRecording sets the simulation to not record into a database.
func (b Builder) WithoutRecording() Builder {
	b.recordingOn = false
	return b
}

// WithOutputFileName sets the custom output file name for the data recorder.
func (b Builder) WithOutputFileName(filename string) Builder {
	b.outputFileName = filename
	return b
}

func (b Builder) parametersMustBeValid() {
	if !b.monitorOn && (b.monitorPort != 0 || b.openBrowser) {
		panic("monitor options cannot be set when monitoring is disabled")
	}

	if !b.recordingOn && b.outputFileName != "" {
		panic("output file cannot be set when recording is disabled")
	}
}

// Build builds the simulation.
func (b Builder) Build() *Simulation {
	b.parametersMustBeValid()

	s := &Simulation{
		id:           xid.New().String(),
		idGenerator:  sim.NewSequentialIDGenerator(),
		mmuNameIndex: make(map[string]int),
	}

	if b.recordingOn {
		outputPath := b.outputFileName
		if outputPath == "" {
			outputPath = "vmsim_" + s.id
		}

		s.dataRecorder = datarecording.New(outputPath)
		s.dbTracer = trace.NewDBTracer(s.dataRecorder, s.GetIDGenerator())
	}

	if b.monitorOn {
		s.monitor = monitoring.NewMonitor().
			WithPortNumber(b.monitorPort).
			WithBrowser(b.openBrowser)

		if s.dataRecorder != nil {
			s.monitor.RegisterRecorder(s.dataRecorder)
		}

		s.monitorURL = s.monitor.StartServer()
	}

	return s
}
