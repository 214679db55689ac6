// Package metrics holds the Prometheus collectors for a padclient process.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Frame kinds recorded on the frame counters.
const (
	KindText   = "text"
	KindBinary = "binary"
)

// Reasons recorded on the dropped-frame counter.
const (
	DropDecompress = "decompress"
	DropDecode     = "decode"
	DropConvert    = "convert"
	DropPanic      = "listener_panic"
)

// Collectors groups every padclient metric. A nil *Collectors is valid and
// records nothing, so components can take one unconditionally.
type Collectors struct {
	registry *prometheus.Registry

	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	bytesSent      *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec
	connState      *prometheus.GaugeVec
	echoSuppressed prometheus.Counter
	applyErrors    *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	c := &Collectors{
		registry: reg,
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "padclient",
			Name:      "frames_sent_total",
			Help:      "Frames written to the session channel by tag and frame kind.",
		}, []string{"tag", "kind"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "padclient",
			Name:      "frames_received_total",
			Help:      "Frames decoded from the session channel by tag and frame kind.",
		}, []string{"tag", "kind"}),
		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "padclient",
			Name:      "bytes_sent_total",
			Help:      "Wire bytes written by frame kind.",
		}, []string{"kind"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "padclient",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped at the dispatch boundary.",
		}, []string{"reason"}),
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "padclient",
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		echoSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "padclient",
			Name:      "editor_echo_suppressed_total",
			Help:      "Local editor events ignored while a remote change was being applied.",
		}),
		applyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "padclient",
			Name:      "apply_errors_total",
			Help:      "Inbound messages the editor or terminal failed to apply.",
		}, []string{"component"}),
	}
	reg.MustRegister(
		c.framesSent,
		c.framesReceived,
		c.bytesSent,
		c.framesDropped,
		c.connState,
		c.echoSuppressed,
		c.applyErrors,
	)
	return c
}

func (c *Collectors) FrameSent(tag, kind string, size int) {
	if c == nil {
		return
	}
	c.framesSent.WithLabelValues(tag, kind).Inc()
	c.bytesSent.WithLabelValues(kind).Add(float64(size))
}

func (c *Collectors) FrameReceived(tag, kind string) {
	if c == nil {
		return
	}
	c.framesReceived.WithLabelValues(tag, kind).Inc()
}

func (c *Collectors) FrameDropped(reason string) {
	if c == nil {
		return
	}
	c.framesDropped.WithLabelValues(reason).Inc()
}

// SetState marks state as the only active connection state.
func (c *Collectors) SetState(state string, all []string) {
	if c == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		c.connState.WithLabelValues(s).Set(v)
	}
}

func (c *Collectors) EchoSuppressed() {
	if c == nil {
		return
	}
	c.echoSuppressed.Inc()
}

func (c *Collectors) ApplyError(component string) {
	if c == nil {
		return
	}
	c.applyErrors.WithLabelValues(component).Inc()
}

// Registry exposes the underlying registry for tests and custom exporters.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collectors in the Prometheus text format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
