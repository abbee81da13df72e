// Package metrics provides the instrumentation hooks used by the broker,
// sync and clipboard packages, and a Prometheus implementation of them.
//
// Components depend on the Recorder interface only. The daemon registers a
// Prometheus recorder and serves it over HTTP when --metrics-listen is set;
// everything else, including tests, uses Nop.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pearlsync"

// Recorder receives instrumentation events.
type Recorder interface {
	// ConnectionState records the current connection phase name.
	ConnectionState(phase string)
	// Reconnect counts an automatic reconnect attempt.
	Reconnect()

	// Published counts an event handed to the broker.
	Published()
	// PublishDropped counts an event that was not sent.
	PublishDropped(reason string)
	// Received counts an inbound broker message.
	Received()
	// InboundDropped counts an inbound message that was not applied.
	InboundDropped(reason string)
	// LocalChange counts a local clipboard change by classification.
	LocalChange(classification string)
	// RemoteApplied counts content written to the local clipboard.
	RemoteApplied()

	// ClipboardOp records a clipboard read or write.
	ClipboardOp(op string, d time.Duration, err error)
	// ClipboardSize records the size of content read or written.
	ClipboardSize(op string, size int)
	// RateLimitHit counts an operation rejected by the rate limiter.
	RateLimitHit(op string)
}

// Nop returns a Recorder that discards everything.
func Nop() Recorder {
	return nopRecorder{}
}

type nopRecorder struct{}

func (nopRecorder) ConnectionState(string)                   {}
func (nopRecorder) Reconnect()                               {}
func (nopRecorder) Published()                               {}
func (nopRecorder) PublishDropped(string)                    {}
func (nopRecorder) Received()                                {}
func (nopRecorder) InboundDropped(string)                    {}
func (nopRecorder) LocalChange(string)                       {}
func (nopRecorder) RemoteApplied()                           {}
func (nopRecorder) ClipboardOp(string, time.Duration, error) {}
func (nopRecorder) ClipboardSize(string, int)                {}
func (nopRecorder) RateLimitHit(string)                      {}

// phases lists every connection phase exported by the state gauge.
var phases = []string{"disconnected", "connecting", "connected", "error"}

// Prometheus is a Recorder backed by Prometheus collectors.
type Prometheus struct {
	state          *prometheus.GaugeVec
	reconnects     prometheus.Counter
	published      prometheus.Counter
	publishDropped *prometheus.CounterVec
	received       prometheus.Counter
	inboundDropped *prometheus.CounterVec
	localChanges   *prometheus.CounterVec
	remoteApplied  prometheus.Counter
	clipboardOps   *prometheus.CounterVec
	clipboardTime  *prometheus.HistogramVec
	clipboardBytes *prometheus.HistogramVec
	rateLimitHits  *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them on reg, or on
// the default registerer when reg is nil. Collectors that are already
// registered are reused.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &Prometheus{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current broker connection phase, 0 otherwise",
		}, []string{"phase"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Automatic broker reconnect attempts",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Clipboard events handed to the broker",
		}),
		publishDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_publish_dropped_total",
			Help:      "Clipboard events not published, by reason",
		}, []string{"reason"}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Messages received from the broker",
		}),
		inboundDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_inbound_dropped_total",
			Help:      "Received messages not applied, by reason",
		}, []string{"reason"}),
		localChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "local_changes_total",
			Help:      "Local clipboard changes, by classification",
		}, []string{"classification"}),
		remoteApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_applied_total",
			Help:      "Remote clipboard values written locally",
		}),
		clipboardOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clipboard_operations_total",
			Help:      "Clipboard operations, by operation and result",
		}, []string{"op", "result"}),
		clipboardTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clipboard_operation_duration_seconds",
			Help:      "Clipboard operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"op"}),
		clipboardBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clipboard_content_bytes",
			Help:      "Size of clipboard content read or written",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 10),
		}, []string{"op"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clipboard_rate_limited_total",
			Help:      "Clipboard operations rejected by the rate limiter",
		}, []string{"op"}),
	}

	if err := errors.Join(
		register(reg, &p.state),
		register(reg, &p.reconnects),
		register(reg, &p.published),
		register(reg, &p.publishDropped),
		register(reg, &p.received),
		register(reg, &p.inboundDropped),
		register(reg, &p.localChanges),
		register(reg, &p.remoteApplied),
		register(reg, &p.clipboardOps),
		register(reg, &p.clipboardTime),
		register(reg, &p.clipboardBytes),
		register(reg, &p.rateLimitHits),
	); err != nil {
		return nil, err
	}

	p.ConnectionState("disconnected")
	return p, nil
}

// register registers *c on reg. If an identical collector is already
// registered, *c is replaced with the existing one.
func register[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	if err := reg.Register(*c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return err
		}
		existing, ok := are.ExistingCollector.(T)
		if !ok {
			return err
		}
		*c = existing
	}
	return nil
}

// Handler serves the metrics gathered by g, or by the default gatherer
// when g is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ConnectionState implements Recorder.
func (p *Prometheus) ConnectionState(phase string) {
	for _, ph := range phases {
		v := 0.0
		if ph == phase {
			v = 1
		}
		p.state.WithLabelValues(ph).Set(v)
	}
}

// Reconnect implements Recorder.
func (p *Prometheus) Reconnect() { p.reconnects.Inc() }

// Published implements Recorder.
func (p *Prometheus) Published() { p.published.Inc() }

// PublishDropped implements Recorder.
func (p *Prometheus) PublishDropped(reason string) { p.publishDropped.WithLabelValues(reason).Inc() }

// Received implements Recorder.
func (p *Prometheus) Received() { p.received.Inc() }

// InboundDropped implements Recorder.
func (p *Prometheus) InboundDropped(reason string) { p.inboundDropped.WithLabelValues(reason).Inc() }

// LocalChange implements Recorder.
func (p *Prometheus) LocalChange(classification string) {
	p.localChanges.WithLabelValues(classification).Inc()
}

// RemoteApplied implements Recorder.
func (p *Prometheus) RemoteApplied() { p.remoteApplied.Inc() }

// ClipboardOp implements Recorder.
func (p *Prometheus) ClipboardOp(op string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.clipboardOps.WithLabelValues(op, result).Inc()
	p.clipboardTime.WithLabelValues(op).Observe(d.Seconds())
}

// ClipboardSize implements Recorder.
func (p *Prometheus) ClipboardSize(op string, size int) {
	p.clipboardBytes.WithLabelValues(op).Observe(float64(size))
}

// RateLimitHit implements Recorder.
func (p *Prometheus) RateLimitHit(op string) { p.rateLimitHits.WithLabelValues(op).Inc() }
