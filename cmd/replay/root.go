package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"realtime-dashboard/internal/pricing"
	"realtime-dashboard/internal/telemetry"
)

var Version = "dev"

type replayOptions struct {
	pricingFile string
	model       string
	step        time.Duration
	logCapacity int
	format      string
}

func NewRootCmd() *cobra.Command {
	var opts replayOptions

	root := &cobra.Command{
		Use:   "replay <capture.ndjson>",
		Short: "Replay a recorded realtime event capture",
		Long: "Replay reads one realtime event per line, optionally wrapped as {\"ts\":..., \"event\":{...}}, " +
			"routes it through the session telemetry and prints totals, costs, timeline and throughput.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, args[0], opts)
		},
	}

	root.Flags().StringVar(&opts.pricingFile, "pricing", "", "YAML/JSON rate file (defaults to built-in rates)")
	root.Flags().StringVar(&opts.model, "model", "", "Model id used to resolve rates from the pricing file")
	root.Flags().DurationVar(&opts.step, "step", 100*time.Millisecond, "Clock advance for lines without a timestamp")
	root.Flags().IntVar(&opts.logCapacity, "log-capacity", telemetry.DefaultEventLogCapacity, "Raw event log capacity")
	root.Flags().StringVar(&opts.format, "format", "text", "Output format: text or json")

	root.Version = Version
	root.SetVersionTemplate(fmt.Sprintf("replay %s\n", Version))

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func runReplay(cmd *cobra.Command, path string, opts replayOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown format %q", opts.format)
	}
	book, err := pricing.NewBook(opts.pricingFile)
	if err != nil {
		return err
	}

	var in io.Reader
	if path == "-" {
		in = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	records, err := readCapture(in)
	if err != nil {
		return err
	}
	result := replay(records, book.Rates(opts.model), opts.step, opts.logCapacity)

	if opts.format == "json" {
		return writeJSONResult(cmd.OutOrStdout(), result)
	}
	return writeTextResult(cmd.OutOrStdout(), result)
}
