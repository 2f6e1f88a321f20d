package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/openbox-deals/pipeline"
)

// cliClientID is the admission identity of a local search.
const cliClientID = "cli"

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run one search and print events as JSON lines",
	Example: `  openbox search "xbox series x"
  openbox search ps5 --max-price 350 --record runs/ps5.jsonl`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().Float64("max-price", 0, "drop listings above this price")
	searchCmd.Flags().String("record", "", "also write events to this JSONL file")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	var maxPrice *float64
	if cmd.Flags().Changed("max-price") {
		v, _ := cmd.Flags().GetFloat64("max-price")
		maxPrice = &v
	}
	record, _ := cmd.Flags().GetString("record")

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	session, err := a.sup.Start(cliClientID, strings.Join(args, " "), maxPrice)
	if err != nil {
		return err
	}
	defer session.Close()

	var w pipeline.EventWriter = pipeline.NewJSONWriter(os.Stdout)
	if record != "" {
		file, err := pipeline.NewJSONFileWriter(record)
		if err != nil {
			return err
		}
		dual := pipeline.NewDualWriter(w, file)
		defer dual.Close()
		w = dual
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := session.Run(ctx, w)
	if summary != nil {
		printSummary(summary)
	}
	if err != nil && !(errors.Is(err, pipeline.ErrClientDisconnected) && errors.Is(ctx.Err(), context.Canceled)) {
		return err
	}
	return nil
}

func printSummary(s *pipeline.Summary) {
	fmt.Fprintf(os.Stderr, "\nsearch %q %s in %.1fs: %d products from %d sources (%d errors)\n",
		s.Query, s.Outcome, s.Elapsed.Seconds(), s.Products, s.Results, s.Errors)

	keys := make([]string, 0, len(s.States))
	for key := range s.States {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", key, s.States[key])
	}
}
