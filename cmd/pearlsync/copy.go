package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/pearlsync/pkg/clipboard"
)

func newCopyCmd(root *rootOptions) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "copy [text]",
		Short: "Copy text to clipboard",
		Long: `Copy text to the clipboard via the pearlsync daemon.

If text is provided as an argument, it will be copied directly.
If no argument is provided, text will be read from stdin.

By default, copy operations are asynchronous (fire-and-forget).
Use --sync or PEARLSYNC_SYNC=1 to wait for confirmation from the daemon.

The daemon publishes the new content to the other devices.

Examples:
  # Copy text directly
  pearlsync copy "Hello, World!"

  # Copy command output
  ls -la | pearlsync copy

  # Copy with confirmation
  pearlsync copy --sync "Hello, World!"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var content string
			if len(args) > 0 {
				content = args[0]
			} else {
				data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), clipboard.MaxClipboardSize+1))
				if err != nil {
					return fmt.Errorf("failed to read from stdin: %w", err)
				}
				if len(data) == 0 {
					return fmt.Errorf("no content to copy")
				}
				content = string(data)
			}

			if os.Getenv("PEARLSYNC_SYNC") == "1" {
				wait = true
			}

			c, err := newClient(root)
			if err != nil {
				return err
			}
			if wait {
				return c.Copy(content)
			}
			return c.CopyAsync(content)
		},
	}

	cmd.Flags().BoolVar(&wait, "sync", false, "Wait for confirmation from daemon (default: async)")
	return cmd
}
