package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/vmsim/mem/trace"
	"github.com/sarchlab/vmsim/mem/vm/mmu"
	"github.com/sarchlab/vmsim/monitoring"
	"github.com/sarchlab/vmsim/simulation"
	"github.com/spf13/cobra"
)

// Dump modes.
const (
	dumpNone  = "none"
	dumpFinal = "final"
	dumpEvery = "every"
)

type engineOptions struct {
	agingBits       uint
	refreshInterval uint64
	table           string
	reverseIndex    bool
}

type serviceOptions struct {
	record      bool
	recordFile  string
	monitor     bool
	monitorPort int
	openBrowser bool
}

type runOptions struct {
	engineOptions
	serviceOptions

	dump   string
	quiet  bool
	verify bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run TRACE",
	Short: "Replay a trace file.",
	Long: "`run TRACE` replays the accesses of a trace file and prints what " +
		"happens to each of them. Use - to read the trace from stdin.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()

		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			in = f
		}

		return runTrace(runOpts, in, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	addEngineFlags(runCmd, &runOpts.engineOptions)
	addServiceFlags(runCmd, &runOpts.serviceOptions)

	runCmd.Flags().StringVar(&runOpts.dump, "dump", dumpFinal,
		"When to print the page tables: none, final, or every access")
	runCmd.Flags().BoolVarP(&runOpts.quiet, "quiet", "q", false,
		"Do not print the log of each access")
	runCmd.Flags().BoolVar(&runOpts.verify, "verify", false,
		"Check the consistency of frames after each access")
}

func addEngineFlags(cmd *cobra.Command, o *engineOptions) {
	cmd.Flags().UintVar(&o.agingBits, "aging-bits", 8,
		"Width of the aging counter of each frame")
	cmd.Flags().Uint64Var(&o.refreshInterval, "refresh-interval", 3,
		"Number of accesses between two aging refreshes")
	cmd.Flags().StringVar(&o.table, "table", string(mmu.PerProcessTable),
		"Page table kind: per-process or inverted")
	cmd.Flags().BoolVar(&o.reverseIndex, "reverse-index", false,
		"Index frames to pages in per-process tables")
}

func addServiceFlags(cmd *cobra.Command, o *serviceOptions) {
	cmd.Flags().BoolVar(&o.record, "record", false,
		"Record every access into a SQLite database")
	cmd.Flags().StringVar(&o.recordFile, "record-file", "",
		"Name of the database, without the .sqlite3 extension")
	cmd.Flags().BoolVar(&o.monitor, "monitor", false,
		"Serve the monitoring page")
	cmd.Flags().IntVar(&o.monitorPort, "monitor-port", 0,
		"Port of the monitoring page, random if 0")
	cmd.Flags().BoolVar(&o.openBrowser, "open-browser", false,
		"Open the monitoring page in a browser")
}

func (o engineOptions) builder(h trace.Header) mmu.Builder {
	return mmu.MakeBuilder().
		WithAddressBits(
			h.VirtualAddressBits, h.PhysicalAddressBits, h.PageBits).
		WithNumProcesses(h.NumProcesses).
		WithAgingBits(o.agingBits).
		WithRefreshInterval(o.refreshInterval).
		WithTableKind(mmu.TableKind(o.table)).
		WithReverseIndex(o.reverseIndex)
}

func (o serviceOptions) validate() error {
	if !o.monitor && (o.monitorPort != 0 || o.openBrowser) {
		return errors.New("--monitor-port and --open-browser need --monitor")
	}

	if !o.record && o.recordFile != "" {
		return errors.New("--record-file needs --record")
	}

	return nil
}

func (o serviceOptions) build() *simulation.Simulation {
	b := simulation.MakeBuilder()

	if o.monitor {
		b = b.WithMonitorPort(o.monitorPort)
		if o.openBrowser {
			b = b.WithBrowser()
		}
	} else {
		b = b.WithoutMonitoring()
	}

	if o.record {
		b = b.WithOutputFileName(o.recordFile)
	} else {
		b = b.WithoutRecording()
	}

	return b.Build()
}

func (o runOptions) validate() error {
	switch o.dump {
	case dumpNone, dumpFinal, dumpEvery:
	default:
		return fmt.Errorf("unknown dump mode %q", o.dump)
	}

	return o.serviceOptions.validate()
}

// runTrace replays a trace and writes the log and the dumps to out.
func runTrace(o runOptions, in io.Reader, out io.Writer) (err error) {
	err = o.validate()
	if err != nil {
		return err
	}

	r := trace.NewReader(in)

	h, err := r.ReadHeader()
	if err != nil {
		return err
	}

	err = headerMustFit(h)
	if err != nil {
		return err
	}

	b := o.builder(h)

	err = b.Validate()
	if err != nil {
		return err
	}

	c := b.Build("MMU")

	if !o.quiet {
		printSetup(out, c.Spec())
		c.AcceptHook(trace.NewLogTracer(out))
	}

	s := o.build()
	defer func() {
		terminateErr := s.Terminate()
		if err == nil {
			err = terminateErr
		}
	}()

	s.RegisterMMU(c)

	var bar *monitoring.ProgressBar
	if m := s.GetMonitor(); m != nil {
		bar = m.CreateProgressBar("Trace", 0)
		defer m.CompleteProgressBar(bar)
	}

	err = replay(o, r, c, bar, out)
	if err != nil {
		return err
	}

	if o.dump == dumpFinal {
		err = mmu.Dump(out, c.Snapshot())
		if err != nil {
			return err
		}
	}

	if o.monitor {
		fmt.Fprintln(os.Stderr, "Trace done, press Ctrl-C to stop monitoring.")
		waitForInterrupt()
	}

	return nil
}

// headerMustFit checks the memory a trace header describes against what an
// MMU can hold, blaming the header line at fault.
func headerMustFit(h trace.Header) error {
	b := mmu.MakeBuilder().WithAddressBits(
		h.VirtualAddressBits, h.PhysicalAddressBits, h.PageBits)

	err := b.Validate()
	if err != nil {
		return &trace.RecordError{
			Line: 1,
			Err:  fmt.Errorf("%w: %w", trace.ErrMalformedHeader, err),
		}
	}

	err = b.WithNumProcesses(h.NumProcesses).Validate()
	if err != nil {
		return &trace.RecordError{
			Line: 2,
			Err:  fmt.Errorf("%w: %w", trace.ErrMalformedHeader, err),
		}
	}

	return nil
}

func replay(
	o runOptions,
	r *trace.Reader,
	c *mmu.Comp,
	bar *monitoring.ProgressBar,
	out io.Writer,
) error {
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return err
		}

		_, err = c.Access(rec.Access)
		if err != nil {
			return &trace.RecordError{Line: rec.Line, Err: err}
		}

		if bar != nil {
			bar.IncrementFinished(1)
		}

		if o.verify {
			err = c.CheckConsistency()
			if err != nil {
				return &trace.RecordError{Line: rec.Line, Err: err}
			}
		}

		if o.dump == dumpEvery {
			err = mmu.Dump(out, c.Snapshot())
			if err != nil {
				return err
			}
		}
	}
}

func printSetup(out io.Writer, s mmu.Spec) {
	fmt.Fprintln(out, "INITIAL PAGETABLE SETUP:")
	fmt.Fprintln(out, "  Virtual Memory Size:", uint64(1)<<s.VirtualAddressBits)
	fmt.Fprintln(out, "  Physical Memory Size:", uint64(1)<<s.PhysicalAddressBits)
	fmt.Fprintln(out, "  Page Size:", s.PageSize())
	fmt.Fprintln(out, "  Number of Pages:", s.NumPages())
	fmt.Fprintln(out, "  Number of Frames:", s.NumFrames())
	fmt.Fprintln(out, "  Number of Processes:", s.NumProcesses)
	fmt.Fprintln(out, "  Aging Bits:", s.AgingBits)
	fmt.Fprintln(out, "  Refresh Interval:", s.RefreshInterval)
	fmt.Fprintln(out, "  Page Table:", s.TableKind)
}
