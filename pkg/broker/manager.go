// Package broker manages the publish/subscribe connection used to relay
// clipboard events between devices.
//
// State Machine:
//
// The Manager owns one broker session at a time and drives it through four
// states:
//
//	Disconnected --Start--> Connecting --connected+subscribed--> Connected
//	     ^                      |   ^                               |
//	     |                  dial failed  \--------lost--------------/
//	     |                      v
//	     +------Stop------- Error(reason)
//
// Start is accepted from Disconnected or Error; while Connecting or
// Connected it is a no-op. A failed first dial moves to Error and stays
// there. A session lost after it was established moves back to Connecting
// and reconnects with exponential backoff capped at two seconds; failed
// reconnect attempts keep the state at Connecting and schedule the next
// try. Stop is accepted from any state and is idempotent.
//
// Event Loop:
//
// Transport callbacks arrive on transport goroutines. The Manager never acts
// on them directly: every callback is posted as an Event on the channel
// returned by Events, and the owner's event loop passes each one back to
// Handle. Start, Stop, Publish and Handle must all be called from that one
// goroutine, which makes every state transition sequential.
//
// Each dial attempt, Start and Stop increments an epoch counter, and every
// event carries the epoch of the attempt that produced it. Handle drops
// events whose epoch is no longer current, so a connect completion or a
// message racing a Stop is logged and discarded instead of resurrecting a
// closed session.
//
// Publishing:
//
// Publish hands the payload to a per-session goroutine that sends at QoS 1
// and returns immediately. When the manager is not Connected the payload is
// dropped; there is no outbox.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/pearlsync/pkg/config"
	"github.com/Veraticus/pearlsync/pkg/metrics"
	"github.com/Veraticus/pearlsync/pkg/worker"
)

// Logger interface for connection manager logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger implements Logger with no operations.
type noopLogger struct{}

func (n *noopLogger) Debug(_ string, _ ...any) {}
func (n *noopLogger) Info(_ string, _ ...any)  {}
func (n *noopLogger) Error(_ string, _ ...any) {}

// EventKind identifies a transport event.
type EventKind int

const (
	// EventConnected reports a dialed and subscribed session.
	EventConnected EventKind = iota
	// EventConnectFailed reports a failed dial or handshake.
	EventConnectFailed
	// EventSubscribeFailed reports a session whose subscription was refused.
	EventSubscribeFailed
	// EventDisconnected reports a session lost without Stop.
	EventDisconnected
	// EventMessage carries an inbound payload.
	EventMessage
	// EventRetry fires when a reconnect delay has elapsed.
	EventRetry
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventSubscribeFailed:
		return "subscribe_failed"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	case EventRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// Event is a transport callback queued for the owner's event loop.
type Event struct {
	Kind    EventKind
	Epoch   uint64
	Err     error
	Payload []byte

	session Session
}

// Config holds connection manager configuration.
type Config struct {
	Dialer       Dialer
	ClientID     string
	Logger       Logger
	Metrics      metrics.Recorder
	Backoff      *ExponentialBackoff
	EventBuffer  int
	PublishQueue int
}

// Validate checks if config is valid and applies defaults.
func (c *Config) Validate() error {
	if c.Dialer == nil {
		return fmt.Errorf("dialer is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if c.Logger == nil {
		c.Logger = &noopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Nop()
	}
	if c.Backoff == nil {
		c.Backoff = DefaultBackoff()
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
	if c.PublishQueue <= 0 {
		c.PublishQueue = 32
	}
	return nil
}

// Manager drives the broker connection state machine.
type Manager struct {
	config  *Config
	logger  Logger
	metrics metrics.Recorder
	backoff *ExponentialBackoff

	worker worker.Worker
	events chan Event
	hub    *StateHub

	// Owned by the event loop goroutine.
	state        State
	epoch        uint64
	conn         config.Connection
	session      Session
	queue        chan []byte
	flushed      chan struct{}
	cancelDial   context.CancelFunc
	retry        *time.Timer
	reconnecting bool
	lastErr      error
	closed       bool
}

// NewManager creates a manager in the Disconnected state.
func NewManager(cfg *Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Manager{
		config:  cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		backoff: cfg.Backoff,
		events:  make(chan Event, cfg.EventBuffer),
		hub:     NewStateHub(StateDisconnected()),
		state:   StateDisconnected(),
	}, nil
}

// Events returns the channel the owner's loop must drain into Handle.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current state. It is safe to call from any goroutine.
func (m *Manager) State() State {
	return m.hub.Current()
}

// Subscribe returns a last-value-cached stream of states and a function to
// cancel the subscription. It is safe to call from any goroutine.
func (m *Manager) Subscribe() (<-chan State, func()) {
	return m.hub.Subscribe()
}

// Epoch returns the current attempt generation.
func (m *Manager) Epoch() uint64 {
	return m.epoch
}

// LastError returns the most recent transport error, if any.
func (m *Manager) LastError() error {
	return m.lastErr
}

// Start validates conn and begins connecting. The state is Connecting when
// Start returns; the outcome arrives later through Events. Start is a no-op
// while Connecting or Connected. A configuration error leaves the state
// unchanged.
func (m *Manager) Start(conn *config.Connection) error {
	if m.closed {
		return ErrClosed
	}
	if !m.state.CanStart() {
		m.logger.Debug("start ignored", "state", m.state.String())
		return nil
	}
	if err := conn.Validate(); err != nil {
		return err
	}

	m.conn = *conn
	m.lastErr = nil
	m.backoff.Reset()
	m.setState(StateConnecting())
	m.logger.Info("connecting to broker", "url", m.conn.URL(), "topic", m.conn.Topic)
	m.dial(false)
	return nil
}

// Stop tears down the session from any state and moves to Disconnected.
// Late events from the superseded session are ignored.
func (m *Manager) Stop() {
	m.epoch++

	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.session != nil {
		m.releaseSession(m.state.Phase == Connected)
	}
	m.reconnecting = false

	m.setState(StateDisconnected())
}

// Close stops the manager and waits for its goroutines to exit. The state
// stream is closed.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.Stop()
	m.closed = true
	m.worker.Halt()
	m.hub.Close()
}

// Publish queues payload for delivery at QoS 1. It reports whether the
// payload was queued; when not Connected it does nothing and returns false.
func (m *Manager) Publish(payload []byte) bool {
	if m.state.Phase != Connected || m.queue == nil {
		m.logger.Debug("not connected, dropping outbound event", "state", m.state.String())
		m.metrics.PublishDropped("not_connected")
		return false
	}

	select {
	case m.queue <- payload:
		return true
	default:
		m.logger.Error("publish queue full, dropping outbound event")
		m.metrics.PublishDropped("queue_full")
		return false
	}
}

// Handle applies a transport event. It returns the payload and true for a
// message that should be delivered to the application.
func (m *Manager) Handle(ev Event) ([]byte, bool) {
	if ev.Epoch != m.epoch {
		m.dropStale(ev)
		return nil, false
	}

	switch ev.Kind {
	case EventConnected:
		m.cancelDial = nil
		if m.state.Phase != Connecting {
			m.closeAsync(ev.session, false, nil)
			return nil, false
		}
		m.attach(ev.session)
		m.backoff.Reset()
		m.reconnecting = false
		m.setState(StateConnected())
		m.logger.Info("connected to broker", "url", m.conn.URL(), "topic", m.conn.Topic)

	case EventConnectFailed:
		m.cancelDial = nil
		m.lastErr = ev.Err
		if m.reconnecting {
			m.logger.Error("reconnect attempt failed", "error", ev.Err, "attempt", m.backoff.Attempts())
			m.scheduleRetry()
			return nil, false
		}
		m.logger.Error("failed to connect to broker", "error", ev.Err)
		m.setState(StateError(fmt.Sprintf("connect failed: %v", ev.Err)))

	case EventSubscribeFailed:
		m.cancelDial = nil
		m.lastErr = ev.Err
		m.reconnecting = false
		m.logger.Error("failed to subscribe", "topic", m.conn.Topic, "error", ev.Err)
		m.setState(StateError(fmt.Sprintf("subscribe failed: %v", ev.Err)))

	case EventDisconnected:
		if m.state.Phase != Connected {
			return nil, false
		}
		m.lastErr = ev.Err
		m.logger.Error("connection lost, reconnecting", "error", ev.Err)
		m.releaseSession(false)
		m.setState(StateConnecting())
		m.scheduleRetry()

	case EventRetry:
		m.retry = nil
		if m.state.Phase != Connecting {
			return nil, false
		}
		m.metrics.Reconnect()
		m.logger.Debug("reconnecting", "url", m.conn.URL(), "attempt", m.backoff.Attempts())
		m.dial(true)

	case EventMessage:
		// A message can overtake EventConnected: the broker delivers as soon
		// as SUBACK is sent and the session has already acknowledged it.
		// While the current attempt is in flight it belongs to that attempt.
		if m.session == nil && (m.state.Phase != Connecting || m.cancelDial == nil) {
			m.logger.Debug("dropping message received without an active session")
			m.metrics.InboundDropped("no_session")
			return nil, false
		}
		m.metrics.Received()
		return ev.Payload, true
	}

	return nil, false
}

func (m *Manager) dropStale(ev Event) {
	switch ev.Kind {
	case EventConnected:
		m.logger.Debug("closing session from superseded attempt", "event_epoch", ev.Epoch, "epoch", m.epoch)
		m.closeAsync(ev.session, false, nil)
	case EventMessage:
		m.logger.Debug("dropping message from closed session", "event_epoch", ev.Epoch, "epoch", m.epoch)
		m.metrics.InboundDropped("stale_session")
	default:
		m.logger.Debug("ignoring stale transport event", "kind", ev.Kind.String(), "event_epoch", ev.Epoch, "epoch", m.epoch)
	}
}

// dial starts one connection attempt in the background.
func (m *Manager) dial(reconnect bool) {
	m.epoch++
	epoch := m.epoch
	m.reconnecting = reconnect

	ctx, cancel := context.WithTimeout(context.Background(), DialTimeout)
	m.cancelDial = cancel

	opts := DialOptions{
		Connection: m.conn,
		ClientID:   m.config.ClientID,
		KeepAlive:  KeepAlive,
	}
	handlers := SessionHandlers{
		OnMessage: func(payload []byte) {
			m.post(Event{Kind: EventMessage, Epoch: epoch, Payload: payload})
		},
		OnDisconnect: func(err error) {
			m.post(Event{Kind: EventDisconnected, Epoch: epoch, Err: err})
		},
	}
	topic := m.conn.Topic
	dialer := m.config.Dialer

	m.worker.Go(func() {
		defer cancel()

		s, err := dialer.Dial(ctx, opts, handlers)
		if err != nil {
			m.post(Event{Kind: EventConnectFailed, Epoch: epoch, Err: err})
			return
		}

		subCtx, subCancel := context.WithTimeout(ctx, OperationTimeout)
		err = s.Subscribe(subCtx, topic)
		subCancel()
		if err != nil {
			_ = s.Close()
			m.post(Event{Kind: EventSubscribeFailed, Epoch: epoch, Err: err})
			return
		}

		if !m.post(Event{Kind: EventConnected, Epoch: epoch, session: s}) {
			_ = s.Close()
		}
	})
}

// post queues ev for the event loop. It returns false once the manager
// has been halted.
func (m *Manager) post(ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.worker.HaltCh():
		return false
	}
}

func (m *Manager) scheduleRetry() {
	delay := m.backoff.Next()
	epoch := m.epoch
	m.retry = time.AfterFunc(delay, func() {
		m.post(Event{Kind: EventRetry, Epoch: epoch})
	})
}

// attach makes s the active session and starts its publisher.
func (m *Manager) attach(s Session) {
	m.session = s
	queue := make(chan []byte, m.config.PublishQueue)
	flushed := make(chan struct{})
	m.queue = queue
	m.flushed = flushed

	topic := m.conn.Topic
	m.worker.Go(func() {
		defer close(flushed)
		for payload := range queue {
			ctx, cancel := context.WithTimeout(context.Background(), OperationTimeout)
			err := s.Publish(ctx, topic, payload)
			cancel()
			if err != nil {
				m.logger.Error("failed to publish", "error", err)
				m.metrics.PublishDropped("send_failed")
				continue
			}
			m.metrics.Published()
		}
	})
}

// releaseSession detaches the active session and closes it in the
// background once queued publishes are flushed.
func (m *Manager) releaseSession(unsubscribe bool) {
	s := m.session
	m.session = nil
	if m.queue != nil {
		close(m.queue)
		m.queue = nil
	}
	flushed := m.flushed
	m.flushed = nil
	m.closeAsync(s, unsubscribe, flushed)
}

func (m *Manager) closeAsync(s Session, unsubscribe bool, flushed <-chan struct{}) {
	if s == nil {
		return
	}
	topic := m.conn.Topic
	logger := m.logger
	m.worker.Go(func() {
		if flushed != nil {
			<-flushed
		}
		if unsubscribe {
			ctx, cancel := context.WithTimeout(context.Background(), OperationTimeout)
			if err := s.Unsubscribe(ctx, topic); err != nil {
				logger.Debug("unsubscribe failed", "error", err)
			}
			cancel()
		}
		if err := s.Close(); err != nil {
			logger.Debug("session close failed", "error", err)
		}
	})
}

func (m *Manager) setState(s State) {
	if s == m.state {
		return
	}
	prev := m.state
	m.state = s
	m.hub.Publish(s)
	m.metrics.ConnectionState(s.Phase.String())
	m.logger.Debug("connection state changed", "from", prev.String(), "to", s.String())
}
