package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	psync "github.com/Veraticus/pearlsync/pkg/sync"
)

// previewWidth bounds the content column of the history table.
const previewWidth = 60

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync activity",
		Long: `List recently sent and received clipboard values, newest first.

The daemon keeps a bounded in-memory history; it is lost on restart.

Examples:
  pearlsync history
  pearlsync history --json | jq '.[0].content'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(root)
			if err != nil {
				return err
			}

			items, err := c.History()
			if err != nil {
				return err
			}
			if items == nil {
				items = []psync.HistoryItem{}
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), items)
			}
			printHistory(cmd.OutOrStdout(), items)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output history as JSON")
	return cmd
}

func printHistory(out io.Writer, items []psync.HistoryItem) {
	if len(items) == 0 {
		_, _ = fmt.Fprintln(out, "No sync activity yet.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "TIME\tDIRECTION\tDEVICE\tCONTENT")
	for _, item := range items {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			item.Time.Local().Format(time.DateTime),
			item.Direction,
			item.DeviceID,
			preview(item.Content, previewWidth),
		)
	}
}

// preview returns content on one line, truncated to at most width runes.
func preview(content string, width int) string {
	s := strings.Join(strings.Fields(content), " ")
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-3]) + "..."
}
