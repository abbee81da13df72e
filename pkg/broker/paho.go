package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"
)

// PahoDialer opens MQTT v5 sessions with the Eclipse Paho client.
type PahoDialer struct {
	logger Logger
}

// NewPahoDialer returns a Dialer backed by paho.golang.
func NewPahoDialer(logger Logger) *PahoDialer {
	if logger == nil {
		logger = &noopLogger{}
	}
	return &PahoDialer{logger: logger}
}

// Dial implements Dialer. It dials TCP or TLS depending on the connection,
// then sends CONNECT with clean start and waits for CONNACK.
func (d *PahoDialer) Dial(ctx context.Context, opts DialOptions, handlers SessionHandlers) (Session, error) {
	conn := opts.Connection

	netConn, err := d.dialNet(ctx, opts)
	if err != nil {
		return nil, err
	}

	s := &pahoSession{
		handlers: handlers,
		netConn:  netConn,
		closedCh: make(chan struct{}),
		logger:   d.logger,
	}

	s.client = paho.NewClient(paho.ClientConfig{
		ClientID: opts.ClientID,
		Conn:     netConn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				if pr.Packet != nil && handlers.OnMessage != nil {
					handlers.OnMessage(pr.Packet.Payload)
				}
				return true, nil
			},
		},
		OnClientError: func(err error) {
			s.lost(fmt.Errorf("%w: client error: %w", ErrTransport, err))
		},
		OnServerDisconnect: func(dc *paho.Disconnect) {
			s.lost(fmt.Errorf("%w: server disconnected (reason %d)", ErrTransport, dc.ReasonCode))
		},
	})

	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = KeepAlive
	}

	cp := &paho.Connect{
		ClientID:   opts.ClientID,
		CleanStart: true,
		KeepAlive:  uint16(keepAlive / time.Second),
	}
	if conn.Username != "" {
		cp.Username = conn.Username
		cp.UsernameFlag = true
	}
	if conn.Password != "" {
		cp.Password = []byte(conn.Password)
		cp.PasswordFlag = true
	}

	ca, err := s.client.Connect(ctx, cp)
	if err != nil {
		_ = netConn.Close()
		return nil, fmt.Errorf("%w: connect %s: %w", ErrTransport, conn.URL(), err)
	}
	if ca.ReasonCode != 0 {
		_ = netConn.Close()
		return nil, fmt.Errorf("%w: connect %s refused (reason %d)", ErrTransport, conn.URL(), ca.ReasonCode)
	}

	go s.watch()

	d.logger.Debug("mqtt session established", "url", conn.URL(), "client_id", opts.ClientID)
	return s, nil
}

func (d *PahoDialer) dialNet(ctx context.Context, opts DialOptions) (net.Conn, error) {
	conn := opts.Connection
	netDialer := &net.Dialer{
		Timeout:   DialTimeout,
		KeepAlive: KeepAlive,
	}

	if !conn.UseTLS {
		c, err := netDialer.DialContext(ctx, "tcp", conn.Addr())
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, conn.URL(), err)
		}
		return c, nil
	}

	tlsConfig, err := TLSConfig(&conn)
	if err != nil {
		return nil, err
	}
	tlsDialer := &tls.Dialer{NetDialer: netDialer, Config: tlsConfig}
	c, err := tlsDialer.DialContext(ctx, "tcp", conn.Addr())
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, conn.URL(), err)
	}
	return c, nil
}

// pahoSession adapts a paho client to Session.
type pahoSession struct {
	client   *paho.Client
	netConn  net.Conn
	handlers SessionHandlers
	logger   Logger

	mu       sync.Mutex
	closed   bool
	notified bool
	closedCh chan struct{}
}

// watch reports a lost connection when the client stops on its own.
func (s *pahoSession) watch() {
	select {
	case <-s.client.Done():
		s.lost(fmt.Errorf("%w: connection lost", ErrTransport))
	case <-s.closedCh:
	}
}

// lost invokes OnDisconnect once, unless Close was called first.
func (s *pahoSession) lost(err error) {
	s.mu.Lock()
	if s.closed || s.notified {
		s.mu.Unlock()
		return
	}
	s.notified = true
	s.mu.Unlock()

	if s.handlers.OnDisconnect != nil {
		s.handlers.OnDisconnect(err)
	}
}

func (s *pahoSession) Subscribe(ctx context.Context, topic string) error {
	sa, err := s.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: topic, QoS: 1, NoLocal: true},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: subscribe %q: %w", ErrTransport, topic, err)
	}
	if sa != nil && len(sa.Reasons) > 0 && sa.Reasons[0] >= 0x80 {
		return fmt.Errorf("%w: subscribe %q refused (reason %d)", ErrTransport, topic, sa.Reasons[0])
	}
	return nil
}

func (s *pahoSession) Unsubscribe(ctx context.Context, topic string) error {
	if _, err := s.client.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{topic}}); err != nil {
		return fmt.Errorf("%w: unsubscribe %q: %w", ErrTransport, topic, err)
	}
	return nil
}

func (s *pahoSession) Publish(ctx context.Context, topic string, payload []byte) error {
	if _, err := s.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Retain:  false,
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("%w: publish: %w", ErrTransport, err)
	}
	return nil
}

func (s *pahoSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closedCh)
	s.mu.Unlock()

	err := s.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	if cerr := s.netConn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
		err = cerr
	}
	if err != nil {
		s.logger.Debug("mqtt session close", "error", err)
	}
	return nil
}
