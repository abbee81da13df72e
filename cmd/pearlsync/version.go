package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "pearlsync version %s\n", version)
			_, _ = fmt.Fprintf(w, "  commit: %s\n", commit)
			_, _ = fmt.Fprintf(w, "  built:  %s\n", date)
		},
	}
}
