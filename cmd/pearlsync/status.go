package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/pearlsync/pkg/api"
	"github.com/Veraticus/pearlsync/pkg/client"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		Long: `Display the current status of the pearlsync daemon.

Shows information about:
- Device ID and version
- Broker connection state
- Synchronization statistics

Examples:
  # Show status in human-readable format
  pearlsync status

  # Show status as JSON
  pearlsync status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(root)
			if err != nil {
				return err
			}

			status, err := c.Status()
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), status)
			}
			printHumanStatus(cmd.OutOrStdout(), status, time.Now())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output status as JSON")
	return cmd
}

// newControlCmd builds a command that sends one body-less request.
func newControlCmd(root *rootOptions, name, short string, fn func(*client.Client) error) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			c, err := newClient(root)
			if err != nil {
				return err
			}
			return fn(c)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

// printHumanStatus prints status in a human-readable format.
func printHumanStatus(out io.Writer, status *api.StatusResponse, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintf(w, "Device ID:\t%s\n", status.DeviceID)
	_, _ = fmt.Fprintf(w, "Version:\t%s\n", status.Version)
	_, _ = fmt.Fprintf(w, "Uptime:\t%s\n", formatDuration(now.Sub(status.Uptime)))

	_, _ = fmt.Fprintf(w, "\nBroker:\n")
	_, _ = fmt.Fprintf(w, "  State:\t%s\n", status.Connection)
	if status.Broker != "" {
		_, _ = fmt.Fprintf(w, "  Address:\t%s\n", status.Broker)
	}
	if status.Topic != "" {
		_, _ = fmt.Fprintf(w, "  Topic:\t%s\n", status.Topic)
	}

	stats := status.Stats
	_, _ = fmt.Fprintf(w, "\nSynchronization:\n")
	_, _ = fmt.Fprintf(w, "  Messages Sent:\t%d\n", stats.MessagesSent)
	_, _ = fmt.Fprintf(w, "  Messages Received:\t%d\n", stats.MessagesReceived)
	_, _ = fmt.Fprintf(w, "  Local Changes:\t%d\n", stats.LocalChanges)
	_, _ = fmt.Fprintf(w, "  Remote Changes:\t%d\n", stats.RemoteChanges)
	_, _ = fmt.Fprintf(w, "  Echoes Absorbed:\t%d\n", stats.EchoesAbsorbed)
	if stats.SendErrors > 0 || stats.ReceiveErrors > 0 {
		_, _ = fmt.Fprintf(w, "  Send Errors:\t%d\n", stats.SendErrors)
		_, _ = fmt.Fprintf(w, "  Receive Errors:\t%d\n", stats.ReceiveErrors)
	}
	printAgo(w, "  Last Local Change:", stats.LastLocalChange, now)
	printAgo(w, "  Last Remote Change:", stats.LastRemoteChange, now)
	if stats.LastError != "" {
		_, _ = fmt.Fprintf(w, "  Last Error:\t%s\n", stats.LastError)
	}
}

func printAgo(w io.Writer, label, stamp string, now time.Time) {
	if stamp == "" {
		return
	}
	if t, err := time.Parse(time.RFC3339, stamp); err == nil {
		_, _ = fmt.Fprintf(w, "%s\t%s ago\n", label, formatDuration(now.Sub(t)))
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return d.Round(time.Second).String()
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh%dm", hours, minutes)
	}
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd%dh", days, hours)
}
