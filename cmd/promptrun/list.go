package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/promptrun/promptrun/pkg/config"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the templates visible from the current directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		baseDir, err := os.Getwd()
		if err != nil {
			return err
		}

		store, err := config.Discover(baseDir)
		if err != nil {
			return err
		}

		entries, err := store.List()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\n", e.Name, e.Description)
		}

		return w.Flush()
	},
}
