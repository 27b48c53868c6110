// Package cmd provides the command-line interface of vmsim.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tebeka/atexit"
)

// envFlags maps the environment variables that may hold flag defaults to the
// flags they set.
var envFlags = map[string]string{
	"VMSIM_AGING_BITS":       "aging-bits",
	"VMSIM_REFRESH_INTERVAL": "refresh-interval",
	"VMSIM_TABLE":            "table",
	"VMSIM_MONITOR_PORT":     "monitor-port",
	"VMSIM_RECORD":           "record",
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vmsim",
	Short: "vmsim simulates demand paging with aging page replacement.",
	Long: `vmsim simulates demand paging with aging page replacement. ` +
		`It replays memory access traces of several processes through ` +
		`per-process or inverted page tables and reports every page fault, ` +
		`eviction, and physical address.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return applyEnv(cmd.Flags())
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}
}

// applyEnv loads the .env file, if any, and uses the environment to set the
// flags that are not given on the command line.
func applyEnv(flags *pflag.FlagSet) error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	for env, name := range envFlags {
		value, found := os.LookupEnv(env)
		if !found {
			continue
		}

		flag := flags.Lookup(name)
		if flag == nil || flag.Changed {
			continue
		}

		err := flags.Set(name, value)
		if err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
	}

	return nil
}
