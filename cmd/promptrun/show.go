package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/promptrun/promptrun/pkg/config"
)

var showCmd = &cobra.Command{
	Use:   "show <template>",
	Short: "Show a template's options and model settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir, err := os.Getwd()
		if err != nil {
			return err
		}

		store, err := config.Discover(baseDir)
		if err != nil {
			return err
		}

		tmpl, err := store.FindTemplate(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s  (%s)\n", tmpl.Name, tmpl.Path)
		if tmpl.Description != "" {
			fmt.Fprintf(out, "%s\n", tmpl.Description)
		}
		if tmpl.Model.Model != nil {
			fmt.Fprintf(out, "model: %s\n", *tmpl.Model.Model)
		}

		if len(tmpl.Options) == 0 {
			return nil
		}

		fmt.Fprintln(out, "\nOptions:")
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, name := range tmpl.OptionNames() {
			opt := tmpl.Options[name]
			attrs := string(opt.Type)
			if opt.Array {
				attrs += ", array"
			}
			if opt.Required() {
				attrs += ", required"
			}
			if opt.Default != nil {
				attrs += fmt.Sprintf(", default %v", opt.Default)
			}
			fmt.Fprintf(w, "  --%s\t%s\t%s\n", name, attrs, opt.Description)
		}

		return w.Flush()
	},
}
