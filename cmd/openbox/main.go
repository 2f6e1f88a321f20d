// Package main is the entry point for the openbox CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/openbox-deals/config"
)

// cfg is loaded once before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "openbox",
	Short: "Live open-box deal aggregator",
	Long: `openbox searches several retailers' open-box, refurbished and clearance
listings at once through a browser automation backend and streams the
results as they arrive.

Run "openbox serve" for the HTTP API or "openbox search <query>" for a
one-off search printed as JSON lines.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfgFile, _ := cmd.Flags().GetString("config")
		v := config.NewViper(cfgFile)
		for key, name := range map[string]string{"verbose": "verbose", "listen_addr": "listen"} {
			if flag := cmd.Flags().Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return fmt.Errorf("bind flag %q: %w", name, err)
				}
			}
		}

		loaded, err := config.Load(v)
		if err != nil {
			return err
		}
		cfg = loaded

		logger, _ := newLogger(os.Stderr, cfg.Verbose)
		slog.SetDefault(logger)
		if used := v.ConfigFileUsed(); used != "" {
			slog.Debug("config loaded", slog.String("file", used))
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: ./openbox.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger logs to w, as text on a terminal and as JSON otherwise. Logs go
// to stderr so search output on stdout stays machine-readable.
func newLogger(w *os.File, verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(w) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
