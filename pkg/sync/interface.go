// Package sync provides the clipboard synchronization engine for pearlsync.
// It relays local clipboard changes to every other device subscribed to the
// same broker topic and applies the changes those devices publish.
//
// The engine handles:
//   - Local change detection and loopback suppression
//   - Encrypting, encoding and publishing local changes
//   - Decrypting, decoding and applying remote changes
//   - Starting and stopping the broker connection on request
//   - Exposing connection status, statistics and recent history
//
// Architecture Overview:
//
// The engine is a single goroutine (Run) that owns all mutable sync state:
// the loopback guard watermark, the derived crypto material, and the
// connection manager. Everything that can change that state arrives on one
// of its inputs and is processed to completion before the next:
//   - Local clipboard changes from the clipboard watcher
//   - Transport events from the connection manager
//   - Commands (Start, Stop, SyncNow, OnLocalChange, OnRemoteMessage)
//
// Loopback Suppression:
//
// Writing remote content to the local clipboard makes the clipboard watcher
// report a change like any other. The engine arms its loopback guard right
// before the write, so the next observed change is absorbed instead of
// published back to the topic. Redundant notifications carrying the
// timestamp already seen are dropped as duplicates. Remote content equal to
// the current clipboard content is recorded in history but neither arms the
// guard nor is written: the watchers report no change for identical
// content, so an armed guard would swallow the next genuine local change.
//
// Redelivery:
//
// The broker delivers at least once. Inbound events whose device ID and
// timestamp were already applied within DedupeWindow are dropped.
//
// Example Usage:
//
//	engine, err := sync.NewEngine(&sync.Config{
//	    DeviceID:  "laptop-1a2b3c4d",
//	    Clipboard: clip,
//	    Settings:  store,
//	    Dialer:    broker.NewPahoDialer(logger),
//	    Logger:    logger,
//	    AutoStart: true,
//	})
//	if err != nil {
//	    return err
//	}
//	go engine.Run(ctx)
//	states, cancel := engine.SubscribeStatus()
//	defer cancel()
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/Veraticus/pearlsync/pkg/broker"
	"github.com/Veraticus/pearlsync/pkg/clipboard"
	"github.com/Veraticus/pearlsync/pkg/metrics"
	"github.com/Veraticus/pearlsync/pkg/settings"
)

const (
	// DefaultHistorySize is the number of history items kept by default.
	DefaultHistorySize = 50

	// DefaultDedupeWindow is how long applied (device, timestamp) pairs are
	// remembered for redelivery filtering.
	DefaultDedupeWindow = 30 * time.Second
)

var (
	// ErrEngineStopped indicates the engine loop is not running.
	ErrEngineStopped = errors.New("sync engine stopped")

	// ErrAlreadyRunning indicates Run was called twice.
	ErrAlreadyRunning = errors.New("sync engine already running")

	// ErrNotConnected indicates a manual sync while the broker session is
	// not connected. Nothing was sent.
	ErrNotConnected = errors.New("not connected to broker")
)

// Engine synchronizes the local clipboard through a broker topic.
type Engine interface {
	// Run starts the engine main loop and blocks until ctx is cancelled.
	Run(ctx context.Context) error

	// Start re-reads the settings, derives the crypto material and begins
	// connecting. It is a no-op while connecting or connected.
	Start(ctx context.Context) error

	// Stop closes the broker session and wipes the crypto material.
	Stop(ctx context.Context) error

	// SyncNow publishes the current clipboard content immediately.
	SyncNow(ctx context.Context) error

	// OnLocalChange reports a clipboard change observed by an external
	// watcher.
	OnLocalChange(content string, timestamp int64) error

	// OnRemoteMessage hands the engine a payload received outside the
	// connection manager.
	OnRemoteMessage(payload []byte) error

	// SetClipboard writes content to the local clipboard. The clipboard
	// watcher then reports it as a local change to be published.
	SetClipboard(content string) error

	// Status returns the current connection state.
	Status() broker.State

	// SubscribeStatus returns a last-value-cached stream of connection
	// states and a function that cancels the subscription.
	SubscribeStatus() (<-chan broker.State, func())

	// Stats returns current engine statistics.
	Stats() *Stats

	// History returns recent sync activity, newest first.
	History() []HistoryItem

	// Current returns the last clipboard content observed or applied.
	Current() string

	// DeviceID returns the identifier this device publishes under.
	DeviceID() string
}

// Stats contains sync engine statistics.
type Stats struct {
	StartTime        time.Time
	LastLocalChange  time.Time
	LastRemoteChange time.Time
	LocalChanges     uint64
	Duplicates       uint64
	EchoesAbsorbed   uint64
	MessagesSent     uint64
	MessagesReceived uint64
	RemoteChanges    uint64
	Redeliveries     uint64
	SendErrors       uint64
	ReceiveErrors    uint64
	LastError        string
}

// Config holds sync engine configuration.
type Config struct {
	DeviceID  string
	Clipboard clipboard.Clipboard
	Settings  settings.Store
	Dialer    broker.Dialer
	Backoff   *broker.ExponentialBackoff
	Logger    Logger
	Metrics   metrics.Recorder

	// AutoStart starts syncing as soon as Run begins.
	AutoStart bool

	// DedupeWindow bounds redelivery filtering; zero disables it.
	DedupeWindow time.Duration

	HistorySize      int
	MaxClipboardSize int
}

// Logger interface for sync engine logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Validate checks if config is valid and applies defaults.
func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return errors.New("device ID is required")
	}
	if c.Clipboard == nil {
		return errors.New("clipboard is required")
	}
	if c.Settings == nil {
		return errors.New("settings store is required")
	}
	if c.Dialer == nil {
		return errors.New("dialer is required")
	}
	if c.DedupeWindow < 0 {
		return errors.New("dedupe window must not be negative")
	}

	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.MaxClipboardSize <= 0 {
		c.MaxClipboardSize = clipboard.MaxClipboardSize
	}
	if c.Logger == nil {
		c.Logger = &noopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Nop()
	}

	return nil
}

// noopLogger implements Logger with no operations.
type noopLogger struct{}

func (n *noopLogger) Debug(_ string, _ ...any) {}
func (n *noopLogger) Info(_ string, _ ...any)  {}
func (n *noopLogger) Error(_ string, _ ...any) {}
