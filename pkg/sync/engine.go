package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/Veraticus/pearlsync/pkg/broker"
	"github.com/Veraticus/pearlsync/pkg/clipboard"
	"github.com/Veraticus/pearlsync/pkg/config"
	"github.com/Veraticus/pearlsync/pkg/crypt"
	"github.com/Veraticus/pearlsync/pkg/metrics"
	"github.com/Veraticus/pearlsync/pkg/settings"
)

// inboxSize bounds queued commands and externally reported events.
const inboxSize = 64

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdSyncNow
	cmdLocalChange
	cmdRemoteMessage
)

// command is one request processed by the engine loop. reply is nil for
// fire-and-forget events.
type command struct {
	kind      commandKind
	content   string
	timestamp int64
	payload   []byte
	reply     chan error
}

// engine implements the Engine interface.
//
// Fields below the loop marker are owned by the Run goroutine and must not
// be touched elsewhere. Everything readable from other goroutines is either
// atomic or guarded by mu.
type engine struct {
	config    *Config
	deviceID  string
	clipboard clipboard.Clipboard
	settings  settings.Store
	manager   *broker.Manager
	logger    Logger
	metrics   metrics.Recorder
	history   *history
	now       func() time.Time

	inbox   chan command
	done    chan struct{}
	running atomic.Bool

	mu               sync.RWMutex
	current          string
	lastLocalChange  time.Time
	lastRemoteChange time.Time
	lastError        string

	stats struct {
		localChanges     atomic.Uint64
		duplicates       atomic.Uint64
		echoesAbsorbed   atomic.Uint64
		messagesSent     atomic.Uint64
		messagesReceived atomic.Uint64
		remoteChanges    atomic.Uint64
		redeliveries     atomic.Uint64
		sendErrors       atomic.Uint64
		receiveErrors    atomic.Uint64
	}
	startTime time.Time

	// loop-owned
	guard    *guard
	material *crypt.Material
	seen     *cache.Cache
}

// NewEngine creates a sync engine. The engine does nothing until Run is
// called.
func NewEngine(cfg *Config) (Engine, error) {
	return newEngine(cfg)
}

func newEngine(cfg *Config) (*engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	manager, err := broker.NewManager(&broker.Config{
		Dialer:   cfg.Dialer,
		ClientID: cfg.DeviceID,
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
		Backoff:  cfg.Backoff,
	})
	if err != nil {
		return nil, err
	}

	e := &engine{
		config:    cfg,
		deviceID:  cfg.DeviceID,
		clipboard: cfg.Clipboard,
		settings:  cfg.Settings,
		manager:   manager,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		history:   newHistory(cfg.HistorySize),
		now:       time.Now,
		inbox:     make(chan command, inboxSize),
		done:      make(chan struct{}),
		startTime: time.Now(),
		guard:     newGuard(),
	}
	if cfg.DedupeWindow > 0 {
		e.seen = cache.New(cfg.DedupeWindow, 2*cfg.DedupeWindow)
	}
	return e, nil
}

// Run processes clipboard changes, transport events and commands until ctx
// is cancelled. The broker session is closed and the crypto material wiped
// before Run returns.
func (e *engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(e.done)

	e.logger.Info("sync engine starting", "device", e.deviceID)

	// Watch before the first read so that no change falls between them.
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	clipCh := e.clipboard.Watch(watchCtx)

	if content, err := e.clipboard.Read(); err != nil {
		e.logger.Error("failed to read initial clipboard", "error", err)
	} else {
		e.setCurrent(content)
	}

	if e.config.AutoStart {
		if err := e.start(); err != nil {
			e.logger.Error("failed to start sync", "error", err)
			e.recordError(err)
		}
	}

	for {
		select {
		case change, ok := <-clipCh:
			if !ok {
				e.logger.Error("clipboard watch ended, local changes are no longer observed")
				clipCh = nil
				continue
			}
			e.onLocalChange(change.Content, change.Timestamp)

		case ev := <-e.manager.Events():
			if payload, ok := e.manager.Handle(ev); ok {
				e.onRemoteMessage(payload)
			}

		case cmd := <-e.inbox:
			e.dispatch(cmd)

		case <-ctx.Done():
			e.logger.Info("sync engine stopping", "device", e.deviceID)
			e.stop()
			e.manager.Close()
			return ctx.Err()
		}
	}
}

func (e *engine) dispatch(cmd command) {
	var err error
	switch cmd.kind {
	case cmdStart:
		err = e.start()
	case cmdStop:
		e.stop()
	case cmdSyncNow:
		err = e.syncNow()
	case cmdLocalChange:
		e.onLocalChange(cmd.content, cmd.timestamp)
	case cmdRemoteMessage:
		e.onRemoteMessage(cmd.payload)
	}
	if cmd.reply != nil {
		cmd.reply <- err
	}
}

// submit queues cmd without waiting for it to run.
func (e *engine) submit(cmd command) error {
	select {
	case <-e.done:
		return ErrEngineStopped
	default:
	}
	select {
	case e.inbox <- cmd:
		return nil
	case <-e.done:
		return ErrEngineStopped
	}
}

// call queues cmd and waits for the loop to process it.
func (e *engine) call(ctx context.Context, kind commandKind) error {
	cmd := command{kind: kind, reply: make(chan error, 1)}
	select {
	case e.inbox <- cmd:
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start implements Engine.
func (e *engine) Start(ctx context.Context) error {
	return e.call(ctx, cmdStart)
}

// Stop implements Engine.
func (e *engine) Stop(ctx context.Context) error {
	return e.call(ctx, cmdStop)
}

// SyncNow implements Engine.
func (e *engine) SyncNow(ctx context.Context) error {
	return e.call(ctx, cmdSyncNow)
}

// OnLocalChange implements Engine.
func (e *engine) OnLocalChange(content string, timestamp int64) error {
	return e.submit(command{kind: cmdLocalChange, content: content, timestamp: timestamp})
}

// OnRemoteMessage implements Engine.
func (e *engine) OnRemoteMessage(payload []byte) error {
	return e.submit(command{kind: cmdRemoteMessage, payload: payload})
}

// SetClipboard implements Engine.
func (e *engine) SetClipboard(content string) error {
	if len(content) > e.config.MaxClipboardSize {
		return fmt.Errorf("%w: %d bytes (max: %d)", clipboard.ErrContentTooLarge, len(content), e.config.MaxClipboardSize)
	}
	return e.clipboard.Write(content)
}

// Status implements Engine.
func (e *engine) Status() broker.State {
	return e.manager.State()
}

// SubscribeStatus implements Engine.
func (e *engine) SubscribeStatus() (<-chan broker.State, func()) {
	return e.manager.Subscribe()
}

// History implements Engine.
func (e *engine) History() []HistoryItem {
	return e.history.Snapshot()
}

// Current implements Engine.
func (e *engine) Current() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// DeviceID implements Engine.
func (e *engine) DeviceID() string {
	return e.deviceID
}

// Stats implements Engine.
func (e *engine) Stats() *Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return &Stats{
		StartTime:        e.startTime,
		LastLocalChange:  e.lastLocalChange,
		LastRemoteChange: e.lastRemoteChange,
		LocalChanges:     e.stats.localChanges.Load(),
		Duplicates:       e.stats.duplicates.Load(),
		EchoesAbsorbed:   e.stats.echoesAbsorbed.Load(),
		MessagesSent:     e.stats.messagesSent.Load(),
		MessagesReceived: e.stats.messagesReceived.Load(),
		RemoteChanges:    e.stats.remoteChanges.Load(),
		Redeliveries:     e.stats.redeliveries.Load(),
		SendErrors:       e.stats.sendErrors.Load(),
		ReceiveErrors:    e.stats.receiveErrors.Load(),
		LastError:        e.lastError,
	}
}

// start re-reads the settings and starts the connection manager. The new
// material replaces the old one only once the manager accepted the start.
func (e *engine) start() error {
	if !e.manager.State().CanStart() {
		e.logger.Debug("start ignored", "state", e.manager.State().String())
		return nil
	}

	conn, err := e.settings.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	if err := conn.Validate(); err != nil {
		return err
	}

	material, err := crypt.Derive(conn.Secret)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}
	if err := e.manager.Start(conn); err != nil {
		material.Wipe()
		return err
	}

	e.wipe()
	e.material = material
	e.guard = newGuard()
	return nil
}

func (e *engine) stop() {
	e.manager.Stop()
	e.wipe()
}

func (e *engine) wipe() {
	if e.material != nil {
		e.material.Wipe()
		e.material = nil
	}
}

// onLocalChange runs the loopback guard and publishes genuine changes.
func (e *engine) onLocalChange(content string, ts int64) {
	e.setCurrent(content)

	class := e.guard.Observe(ts)
	e.metrics.LocalChange(class.String())

	switch class {
	case Duplicate:
		e.stats.duplicates.Add(1)
		e.logger.Debug("duplicate clipboard notification", "timestamp", ts)
		return
	case AbsorbedEcho:
		e.stats.echoesAbsorbed.Add(1)
		e.logger.Debug("absorbed clipboard echo of remote apply", "timestamp", ts)
		return
	}

	e.stats.localChanges.Add(1)
	e.mu.Lock()
	e.lastLocalChange = e.now()
	e.mu.Unlock()

	e.publish(content, ts)
}

// syncNow publishes the current clipboard content without consulting the
// guard.
func (e *engine) syncNow() error {
	if e.manager.State().Phase != broker.Connected {
		e.metrics.PublishDropped("not_connected")
		return ErrNotConnected
	}

	content, err := e.clipboard.Read()
	if err != nil {
		return fmt.Errorf("failed to read clipboard: %w", err)
	}
	e.setCurrent(content)

	e.logger.Info("manual sync", "content_length", len(content))
	e.publish(content, e.now().UnixMilli())
	return nil
}

func (e *engine) publish(content string, ts int64) {
	if len(content) > e.config.MaxClipboardSize {
		e.logger.Error("clipboard content exceeds maximum size",
			"size", len(content),
			"limit", e.config.MaxClipboardSize,
		)
		e.stats.sendErrors.Add(1)
		e.metrics.PublishDropped("too_large")
		return
	}

	if e.material == nil {
		e.logger.Debug("not started, dropping outbound event")
		e.metrics.PublishDropped("not_connected")
		return
	}

	payload, err := Seal(e.material, NewTextEvent(e.deviceID, content, ts))
	if err != nil {
		e.logger.Error("failed to seal clipboard event", "error", err)
		e.stats.sendErrors.Add(1)
		e.recordError(err)
		return
	}

	if !e.manager.Publish(payload) {
		return
	}

	e.stats.messagesSent.Add(1)
	e.history.Push(HistoryItem{
		Time:      e.now(),
		Direction: Sent,
		DeviceID:  e.deviceID,
		Content:   content,
		Timestamp: ts,
	})
	e.logger.Debug("published clipboard change", "content_length", len(content), "timestamp", ts)
}

// onRemoteMessage decrypts, decodes and applies an inbound payload.
// Failures are logged and the message dropped; the connection state is
// never affected.
func (e *engine) onRemoteMessage(payload []byte) {
	e.stats.messagesReceived.Add(1)

	if e.material == nil {
		e.logger.Debug("not started, dropping inbound event")
		e.metrics.InboundDropped("not_started")
		return
	}

	ev, err := Open(e.material, payload)
	if err != nil {
		reason := "decode"
		if errors.Is(err, crypt.ErrDecrypt) {
			reason = "decrypt"
		}
		e.logger.Error("dropping undecodable inbound event", "reason", reason, "error", err, "size", len(payload))
		e.stats.receiveErrors.Add(1)
		e.metrics.InboundDropped(reason)
		e.recordError(err)
		return
	}

	if !ev.Kind.Known() {
		e.logger.Debug("ignoring event of unknown type", "type", string(ev.Kind), "from", ev.DeviceID)
		e.metrics.InboundDropped("unknown_type")
		return
	}
	if ev.DeviceID == e.deviceID {
		e.logger.Debug("ignoring own event", "timestamp", ev.Timestamp)
		e.metrics.InboundDropped("own_event")
		return
	}
	if len(ev.Content) > e.config.MaxClipboardSize {
		e.logger.Error("received clipboard content exceeds maximum size",
			"size", len(ev.Content),
			"limit", e.config.MaxClipboardSize,
			"from", ev.DeviceID,
		)
		e.stats.receiveErrors.Add(1)
		e.metrics.InboundDropped("too_large")
		return
	}
	if e.redelivered(ev) {
		e.logger.Debug("dropping redelivered event", "from", ev.DeviceID, "timestamp", ev.Timestamp)
		e.stats.redeliveries.Add(1)
		e.metrics.InboundDropped("redelivery")
		return
	}

	e.apply(ev)
}

// redelivered reports whether ev was already applied within the dedupe
// window, and remembers it otherwise.
func (e *engine) redelivered(ev *SyncEvent) bool {
	if e.seen == nil {
		return false
	}
	key := ev.DeviceID + "/" + strconv.FormatInt(ev.Timestamp, 10)
	if _, found := e.seen.Get(key); found {
		return true
	}
	e.seen.SetDefault(key, struct{}{})
	return false
}

// apply writes remote content to the local clipboard with the guard armed.
// Content already on the clipboard is not rewritten: the platform watchers
// report no change for it, which would leave the guard armed.
func (e *engine) apply(ev *SyncEvent) {
	item := HistoryItem{
		Time:      e.now(),
		Direction: Received,
		DeviceID:  ev.DeviceID,
		Content:   ev.Content,
		Timestamp: ev.Timestamp,
	}

	if ev.Content == e.Current() {
		e.logger.Debug("remote content already on clipboard", "from", ev.DeviceID)
		e.history.Push(item)
		return
	}

	prev := e.guard.Watermark()
	e.guard.Arm()
	if err := e.clipboard.Write(ev.Content); err != nil {
		e.guard.Restore(prev)
		e.logger.Error("failed to write clipboard", "error", err)
		e.stats.receiveErrors.Add(1)
		e.recordError(err)
		return
	}

	e.setCurrent(ev.Content)
	e.stats.remoteChanges.Add(1)
	e.metrics.RemoteApplied()
	e.mu.Lock()
	e.lastRemoteChange = e.now()
	e.mu.Unlock()
	e.history.Push(item)

	e.logger.Info("applied remote clipboard change",
		"from", ev.DeviceID,
		"content_length", len(ev.Content),
	)
}

func (e *engine) setCurrent(content string) {
	e.mu.Lock()
	e.current = content
	e.mu.Unlock()
}

func (e *engine) recordError(err error) {
	e.mu.Lock()
	e.lastError = err.Error()
	e.mu.Unlock()
}
