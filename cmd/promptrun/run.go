package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/promptrun/promptrun/pkg/pipeline"
)

// runCmd disables cobra's flag parsing: the flag surface is not known until
// the template's option schema is loaded, so the raw tokens go to the binder.
var runCmd = &cobra.Command{
	Use:                "run <template> [flags] [template options] [extra ...]",
	Short:              "Run a template and stream the model's response",
	Args:               cobra.MinimumNArgs(1),
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) < 1 || args[0] == "-h" || args[0] == "--help" {
			return cmd.Help()
		}

		baseDir, err := os.Getwd()
		if err != nil {
			return err
		}

		r := &pipeline.Runner{
			BaseDir: baseDir,
			Output:  cmd.OutOrStdout(),
			Diag:    cmd.ErrOrStderr(),
			Stdin:   pipedStdin(),
		}

		return r.Run(cmd.Context(), args[0], args[1:])
	},
}

// pipedStdin returns stdin when text is being piped in, nil when stdin is a
// terminal.
func pipedStdin() io.Reader {
	info, err := os.Stdin.Stat()
	if err != nil {
		return nil
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		return nil
	}

	return os.Stdin
}
