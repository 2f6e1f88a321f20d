package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/openbox-deals/config"
)

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List the configured retailers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := config.ResolveSources(cfg)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tNAME\tSEARCH URL")
		for _, src := range sources {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", src.Key, src.Name, src.SearchURL)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(sitesCmd)
}
