package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaunagostinho/seymour-life/internal/config"
)

var flags struct {
	config     string
	demo       int
	iterations int
	bpCycles   int
	listen     string
	verbose    bool
}

var Cmd = &cobra.Command{
	Use:          "seymour",
	Short:        "Drive a bench of units through BP and temperature probe life tests",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), os.Stdin, cmd.OutOrStdout())
	},
}

func init() {
	Cmd.Flags().StringVar(&flags.config, "config", config.DefaultPath, "Path to config file")
	Cmd.Flags().IntVar(&flags.demo, "demo", 0, "Run against this many simulated units instead of the serial ports")
	Cmd.Flags().IntVar(&flags.iterations, "iterations", 0, "Iterations per unit (0 uses the config, then asks)")
	Cmd.Flags().IntVar(&flags.bpCycles, "bp-cycles", 0, "BP cycles per iteration (0 uses the config)")
	Cmd.Flags().StringVar(&flags.listen, "listen", "", "Override monitor listen address (e.g. :8080)")
	Cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log progress to the console, not just errors")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := Cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
