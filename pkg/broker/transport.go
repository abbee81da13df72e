package broker

import (
	"context"
	"errors"
	"time"

	"github.com/Veraticus/pearlsync/pkg/config"
)

// Common errors
var (
	// ErrTransport wraps connect, subscribe and session failures.
	ErrTransport = errors.New("transport error")

	// ErrClosed indicates the manager has been closed.
	ErrClosed = errors.New("connection manager closed")
)

// Transport timeouts.
const (
	// DialTimeout bounds the network dial and MQTT handshake.
	DialTimeout = 15 * time.Second

	// OperationTimeout bounds subscribe, publish and unsubscribe calls.
	OperationTimeout = 10 * time.Second

	// KeepAlive is the MQTT keepalive interval.
	KeepAlive = 30 * time.Second
)

// DialOptions describes one broker session.
type DialOptions struct {
	Connection config.Connection
	ClientID   string
	KeepAlive  time.Duration
}

// SessionHandlers receive asynchronous session callbacks. They are invoked
// on transport goroutines and must not block.
type SessionHandlers struct {
	// OnMessage is called for every message delivered on the session.
	OnMessage func(payload []byte)

	// OnDisconnect is called at most once, when the session ends without
	// Close being called.
	OnDisconnect func(err error)
}

// Dialer opens broker sessions.
type Dialer interface {
	// Dial connects to the broker and completes the protocol handshake.
	// The returned session is connected but not yet subscribed.
	Dial(ctx context.Context, opts DialOptions, handlers SessionHandlers) (Session, error)
}

// Session is one connected broker session.
type Session interface {
	// Subscribe subscribes to topic at QoS 1 without local delivery.
	Subscribe(ctx context.Context, topic string) error

	// Unsubscribe removes the subscription for topic.
	Unsubscribe(ctx context.Context, topic string) error

	// Publish sends payload to topic at QoS 1, not retained.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Close ends the session. OnDisconnect is not called afterwards.
	Close() error
}
