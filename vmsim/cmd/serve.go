package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sarchlab/vmsim/mem/trace"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	engineOptions
	serviceOptions

	header trace.Header
}

var serveOpts serveOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve an MMU that accepts accesses from the monitoring API.",
	Long: "`serve` builds an MMU and serves the monitoring page. Accesses " +
		"are posted to /api/access/MMU as " +
		`{"pid": 0, "op": "r", "vaddr": 4096}` + ".",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		url, err := serve(serveOpts)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Serving MMU at %s\n", url)
		waitForInterrupt()

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	addEngineFlags(serveCmd, &serveOpts.engineOptions)
	addServiceFlags(serveCmd, &serveOpts.serviceOptions)

	serveCmd.Flags().UintVar(&serveOpts.header.VirtualAddressBits,
		"virtual-bits", 16, "Width of virtual addresses")
	serveCmd.Flags().UintVar(&serveOpts.header.PhysicalAddressBits,
		"physical-bits", 14, "Width of physical addresses")
	serveCmd.Flags().UintVar(&serveOpts.header.PageBits,
		"page-bits", 12, "Width of page offsets")
	serveCmd.Flags().IntVar(&serveOpts.header.NumProcesses,
		"processes", 1, "Number of processes")
}

// serve starts the monitor with a freshly built MMU and returns the address of
// the monitor. The simulation lives until the program exits.
func serve(o serveOptions) (string, error) {
	o.monitor = true

	err := o.serviceOptions.validate()
	if err != nil {
		return "", err
	}

	b := o.builder(o.header)

	err = b.Validate()
	if err != nil {
		return "", err
	}

	c := b.Build("MMU")

	s := o.build()
	s.RegisterMMU(c)

	return s.MonitorURL(), nil
}

func waitForInterrupt() {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
}
