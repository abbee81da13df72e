package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPasteCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "paste",
		Short: "Paste clipboard contents",
		Long: `Output the current clipboard contents from the pearlsync daemon.

The content is written exactly as stored, without a trailing newline.

Examples:
  # Paste to stdout
  pearlsync paste

  # Paste to file
  pearlsync paste > output.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(root)
			if err != nil {
				return err
			}

			content, err := c.Paste()
			if err != nil {
				return err
			}

			if _, err := fmt.Fprint(cmd.OutOrStdout(), content); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
			return nil
		},
	}
}
