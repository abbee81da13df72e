// Package main implements the pearlsync CLI, an end-to-end encrypted
// clipboard synchronizer that relays clipboard changes between devices
// through an MQTT v5 broker.
//
// # Overview
//
// Every device runs a daemon (pearlsync run) that watches the local
// clipboard, encrypts each change with a key derived from a shared secret,
// and publishes it to a broker topic. Changes published by other devices on
// the same topic are decrypted and written to the local clipboard. The
// broker only ever sees ciphertext.
//
// # CLI Structure
//
//   - run: start the daemon
//   - copy, paste: use the daemon's clipboard from shell scripts and editors
//   - status, history: inspect the daemon
//   - sync, start, stop: publish now, or toggle syncing
//   - settings: edit the persistent broker settings
//   - version: print build information
//
// The client commands talk to the daemon over a Unix socket.
//
// # Configuration
//
// Settings come from, lowest priority first: built-in defaults, the
// persistent settings store, a YAML or TOML config file, a .env file, the
// PEARLSYNC_* environment, and flags.
//
// # Example Usage
//
//	# Store the broker settings once
//	pearlsync settings set serverAddress broker.example.com
//	pearlsync settings set secretKey "correct horse battery staple"
//
//	# Start the daemon
//	pearlsync run
//
//	# Or pass everything on the command line
//	pearlsync run --server broker.example.com --secret mysecret --topic clips
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/pearlsync/pkg/client"
	"github.com/Veraticus/pearlsync/pkg/config"
)

var (
	// Version information (set by build flags)
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	configFile string
	envFile    string
	socketPath string
	settings   string
	verbose    bool
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "pearlsync",
		Short: "Encrypted clipboard sync through an MQTT broker",
		Long: `pearlsync keeps clipboards in sync across devices.

Each device runs "pearlsync run". Clipboard changes are encrypted with a key
derived from a shared secret and relayed through an MQTT v5 broker topic.
All devices sharing the topic and secret receive each other's changes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Config file, YAML or TOML (default: $XDG_CONFIG_HOME/pearlsync/config.yaml)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Dotenv file loaded into the environment if present")
	flags.StringVar(&opts.socketPath, "socket", "", "Local API socket path (default: "+client.DefaultSocketPath()+")")
	flags.StringVar(&opts.settings, "settings", "", "Settings database path (default: $XDG_DATA_HOME/pearlsync/settings.db)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: console or json")

	root.AddCommand(
		newRunCmd(opts),
		newCopyCmd(opts),
		newPasteCmd(opts),
		newStatusCmd(opts),
		newHistoryCmd(opts),
		newControlCmd(opts, "sync", "Publish the current clipboard now", (*client.Client).Sync),
		newControlCmd(opts, "start", "Start syncing", (*client.Client).Start),
		newControlCmd(opts, "stop", "Stop syncing", (*client.Client).Stop),
		newSettingsCmd(opts),
		newVersionCmd(),
	)

	return root
}

// loadConfig assembles the configuration from the config file, the .env
// file, the environment and the persistent flags, in increasing priority.
// Command-specific flags are applied by the caller.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg := config.NewConfig()

	path, optional := opts.configFile, false
	if path == "" {
		path, optional = config.DefaultConfigPath(), true
	}
	if path != "" {
		if err := cfg.LoadFile(path, optional); err != nil {
			return nil, err
		}
	}

	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return nil, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if opts.socketPath != "" {
		cfg.SocketPath = opts.socketPath
	}
	if opts.settings != "" {
		cfg.SettingsPath = opts.settings
	}
	if opts.verbose {
		cfg.Verbose = true
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.LogFormat = opts.logFormat
	}

	if cfg.SocketPath == "" {
		cfg.SocketPath = client.DefaultSocketPath()
	}
	if cfg.SettingsPath == "" {
		cfg.SettingsPath = config.DefaultSettingsPath()
	}

	return cfg, nil
}

// newClient returns an API client for the configured socket.
func newClient(opts *rootOptions) (*client.Client, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return client.New(&client.Config{SocketPath: cfg.SocketPath}), nil
}
