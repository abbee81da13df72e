package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Veraticus/pearlsync/pkg/config"
	"github.com/Veraticus/pearlsync/pkg/settings"
)

func newSettingsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage the persistent broker settings",
		Long: `Read and write the broker settings kept in the settings database.

The daemon reads these settings every time syncing starts, so a change
takes effect after "pearlsync stop" and "pearlsync start".

Keys: ` + fmt.Sprint(config.Keys()) + `

Examples:
  pearlsync settings set serverAddress broker.example.com
  pearlsync settings set port 1883
  pearlsync settings set enableSSL false
  pearlsync settings unset port
  pearlsync settings show`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Store a setting",
			Args:  cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				store, err := openSettings(root)
				if err != nil {
					return err
				}
				return store.Put(args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "unset <key>",
			Short: "Remove a stored setting so its default applies",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				store, err := openSettings(root)
				if err != nil {
					return err
				}
				return store.Delete(args[0])
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print a stored setting",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openSettings(root)
				if err != nil {
					return err
				}
				value, err := store.Get(args[0])
				if errors.Is(err, settings.ErrNotFound) {
					return fmt.Errorf("%s is not set", args[0])
				}
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
				return err
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "List all settings with their effective values",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := openSettings(root)
				if err != nil {
					return err
				}
				return showSettings(cmd.OutOrStdout(), store)
			},
		},
	)

	return cmd
}

func openSettings(root *rootOptions) (*settings.BoltStore, error) {
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	store, err := settings.NewBoltStore(cfg.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings store: %w", err)
	}
	return store, nil
}

// showSettings prints every key with its stored or default value. Secrets
// are never printed.
func showSettings(out io.Writer, store *settings.BoltStore) error {
	conn, err := store.Snapshot()
	if err != nil {
		return err
	}
	keys, err := store.Keys()
	if err != nil {
		return err
	}
	stored := make(map[string]bool, len(keys))
	for _, k := range keys {
		stored[k] = true
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tVALUE\tSOURCE")
	for _, key := range config.Keys() {
		value, err := conn.Get(key)
		if err != nil {
			return err
		}
		source := "default"
		if stored[key] {
			source = "stored"
		}
		if config.IsSensitive(key) {
			value = "[not set]"
			if stored[key] {
				value = "[hidden]"
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", key, value, source)
	}
	_, _ = fmt.Fprintf(w, "\nstore: %s\n", store.Path())
	return w.Flush()
}
