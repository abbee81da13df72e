package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/pearlsync/pkg/api"
	"github.com/Veraticus/pearlsync/pkg/broker"
	"github.com/Veraticus/pearlsync/pkg/clipboard"
	"github.com/Veraticus/pearlsync/pkg/config"
	"github.com/Veraticus/pearlsync/pkg/metrics"
	"github.com/Veraticus/pearlsync/pkg/settings"
	psync "github.com/Veraticus/pearlsync/pkg/sync"
)

const shutdownTimeout = 10 * time.Second

// runOptions holds the daemon-only flags.
type runOptions struct {
	deviceID      string
	secretFile    string
	metricsListen string
	pollInterval  time.Duration
	dedupeWindow  time.Duration
	historySize   int

	paused   bool
	headless bool
	noStore  bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	o := &runOptions{}
	defaults := config.NewConfig()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pearlsync daemon",
		Long: `Run the pearlsync daemon for clipboard synchronization.

This starts a background service that:
- Monitors the local clipboard for changes
- Encrypts and publishes them to the broker topic
- Applies changes published by other devices
- Provides a local API for the copy, paste and status commands

Broker settings are read from the settings store every time syncing starts.
Flags, environment variables and config file values override stored ones.

Note: If no clipboard tool is found (wl-clipboard, xsel or xclip on Linux,
pbcopy/pbpaste on macOS), pearlsync still runs with an in-memory clipboard
driven by the copy and paste commands. This lets it work as an encrypted
pipe on headless servers.

Examples:
  # Use the stored settings
  pearlsync run

  # Connect without a settings store
  pearlsync run --no-store --server broker.example.com --secret mysecret

  # Expose Prometheus metrics
  pearlsync run --metrics-listen 127.0.0.1:9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if err := o.apply(cmd, cfg); err != nil {
				return err
			}
			if err := applyBrokerFlags(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			zl, err := buildZap(logOptions{Level: cfg.LogLevel, Format: cfg.LogFormat, Verbose: cfg.Verbose})
			if err != nil {
				return err
			}
			log := newLogger(zl)
			defer log.sync()

			log.Info("starting pearlsync daemon",
				"version", version,
				"device", cfg.DeviceID,
				"socket", cfg.SocketPath,
			)
			log.Debug("configuration", "config", cfg.String())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runDaemon(ctx, cfg, o, log)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&o.deviceID, "device-id", "", "Device identifier (default: hostname plus random suffix)")
	fs.StringVar(&o.secretFile, "secret-file", "", "Path to file containing the shared secret")
	fs.StringVar(&o.metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address")
	fs.DurationVar(&o.pollInterval, "poll-interval", defaults.PollInterval, "Clipboard polling interval")
	fs.DurationVar(&o.dedupeWindow, "dedupe-window", defaults.DedupeWindow, "Window for dropping redelivered messages (0 disables)")
	fs.IntVar(&o.historySize, "history-size", defaults.HistorySize, "Number of history entries kept")
	fs.BoolVar(&o.paused, "paused", false, "Do not start syncing until \"pearlsync start\"")
	fs.BoolVar(&o.headless, "headless", false, "Use an in-memory clipboard instead of the system clipboard")
	fs.BoolVar(&o.noStore, "no-store", false, "Ignore the settings store and use only flags, environment and config file")
	addBrokerFlags(cmd)

	return cmd
}

// apply copies the daemon flags given on the command line into cfg.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	fs := cmd.Flags()
	if fs.Changed("device-id") {
		cfg.DeviceID = o.deviceID
	}
	if fs.Changed("secret-file") {
		cfg.SecretFile = o.secretFile
	}
	if fs.Changed("metrics-listen") {
		cfg.MetricsListen = o.metricsListen
	}
	if fs.Changed("poll-interval") {
		cfg.PollInterval = o.pollInterval
	}
	if fs.Changed("dedupe-window") {
		cfg.DedupeWindow = o.dedupeWindow
	}
	if fs.Changed("history-size") {
		cfg.HistorySize = o.historySize
	}
	if cfg.MetricsListen != "" {
		if err := validateAddress(cfg.MetricsListen); err != nil {
			return fmt.Errorf("invalid metrics address %q: %w", cfg.MetricsListen, err)
		}
	}
	return nil
}

// runDaemon wires the components and blocks until ctx is cancelled or a
// component fails.
func runDaemon(ctx context.Context, cfg *config.Config, o *runOptions, log *logger) error {
	store, err := createSettingsStore(cfg, o.noStore, log)
	if err != nil {
		return err
	}

	recorder, gatherer, err := createMetrics(cfg)
	if err != nil {
		return err
	}

	log.Info("initializing clipboard")
	clip := createClipboard(cfg, o.headless, recorder, log.named("clipboard"))

	log.Info("initializing sync engine")
	engine, err := psync.NewEngine(&psync.Config{
		DeviceID:     cfg.DeviceID,
		Clipboard:    clip,
		Settings:     store,
		Dialer:       broker.NewPahoDialer(log.named("broker")),
		Logger:       log.named("sync"),
		Metrics:      recorder,
		AutoStart:    !o.paused,
		DedupeWindow: cfg.DedupeWindow,
		HistorySize:  cfg.HistorySize,
	})
	if err != nil {
		return fmt.Errorf("failed to create sync engine: %w", err)
	}

	log.Info("initializing API server", "socket", cfg.SocketPath)
	apiServer, err := api.NewServer(&api.ServerConfig{
		SocketPath: cfg.SocketPath,
		Clipboard:  clip,
		Engine:     engine,
		Settings:   store,
		Version:    version,
		Logger:     log.named("api"),
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := engine.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("sync engine: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return apiServer.Stop()
	})

	g.Go(func() error {
		logStatus(gctx, engine, log)
		return nil
	})

	if cfg.MetricsListen != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsListen,
			Handler:           metrics.Handler(gatherer),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("serving metrics", "addr", cfg.MetricsListen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info("pearlsync daemon is running",
		"device", cfg.DeviceID,
		"socket", cfg.SocketPath,
		"paused", o.paused,
	)

	err = g.Wait()
	if err != nil {
		log.Error("daemon stopped with error", "error", err)
	}

	stats := engine.Stats()
	log.Info("final statistics",
		"messages_sent", stats.MessagesSent,
		"messages_received", stats.MessagesReceived,
		"local_changes", stats.LocalChanges,
		"remote_changes", stats.RemoteChanges,
		"echoes_absorbed", stats.EchoesAbsorbed,
		"uptime", time.Since(stats.StartTime).Round(time.Second),
	)

	log.Info("pearlsync daemon stopped")
	return err
}

// createSettingsStore returns the store the engine reads on every start:
// the settings database with explicit overrides applied, or the
// configuration alone when the store is disabled.
func createSettingsStore(cfg *config.Config, noStore bool, log *logger) (settings.Store, error) {
	if noStore || cfg.SettingsPath == "" {
		log.Info("settings store disabled, using configuration only")
		return settings.NewStatic(cfg.Connection), nil
	}

	db, err := settings.NewBoltStore(cfg.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings store: %w", err)
	}
	log.Info("using settings store", "path", db.Path(), "overrides", len(cfg.Overrides))
	return settings.NewOverlay(db, cfg.Overrides), nil
}

// createMetrics returns a Prometheus recorder on a private registry when a
// metrics address is configured, and a no-op recorder otherwise.
func createMetrics(cfg *config.Config) (metrics.Recorder, prometheus.Gatherer, error) {
	if cfg.MetricsListen == "" {
		return metrics.Nop(), nil, nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec, err := metrics.NewPrometheus(reg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return rec, reg, nil
}

// createClipboard creates the appropriate clipboard implementation. A
// missing or broken system clipboard falls back to an in-memory one.
func createClipboard(cfg *config.Config, headless bool, rec metrics.Recorder, log *logger) clipboard.Clipboard {
	var clip clipboard.Clipboard
	switch {
	case headless:
		log.Info("using in-memory clipboard")
		clip = clipboard.NewNoopClipboard()
	default:
		platform, err := clipboard.NewPlatformClipboard(clipboard.WithPollInterval(cfg.PollInterval))
		if err != nil {
			log.Error("no clipboard tool found, using in-memory clipboard",
				"error", err,
				"solution", "Install wl-clipboard, xsel, or xclip for system clipboard integration",
				"note", "pearlsync will still work for network synchronization")
			clip = clipboard.NewNoopClipboard()
			break
		}
		if _, err := platform.Read(); err != nil {
			log.Error("clipboard access failed, using in-memory clipboard",
				"error", err,
				"solution", "Check clipboard tool permissions and X11/Wayland access",
				"note", "pearlsync will still work for network synchronization")
			clip = clipboard.NewNoopClipboard()
			break
		}
		clip = clipboard.NewResilientClipboard(platform, clipboard.ResilientOptions{Metrics: rec})
	}
	return clipboard.NewInstrumentedClipboard(clip, rec)
}

// logStatus logs connection state transitions until ctx is cancelled.
func logStatus(ctx context.Context, engine psync.Engine, log *logger) {
	states, cancel := engine.SubscribeStatus()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			if st.IsError() {
				log.Error("broker connection failed", "reason", st.Reason)
				continue
			}
			log.Info("broker connection", "state", st.String())
		}
	}
}
