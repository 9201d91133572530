// Package metrics counts what the server is doing. Callers talk to the
// Sink interface so tests and metric-less deployments pay nothing.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink receives server events worth counting.
type Sink interface {
	// SetOnlineUsers mirrors the online-user count after every session
	// create and destroy.
	SetOnlineUsers(n int64)

	// IncPacketsIn counts one dispatched client packet.
	IncPacketsIn()

	// AddPacketsOut counts frames drained to a socket.
	AddPacketsOut(n int)

	// AddBroadcastBytes counts fan-out volume per stream class
	// ("main", "chat", "multiplay", "spect", "lobby").
	AddBroadcastBytes(stream string, n int)

	// IncLockTimeouts counts lease acquisitions that ran out of budget.
	IncLockTimeouts()

	// IncQueueDrops counts enqueues dropped by the queue bound.
	IncQueueDrops()
}

// StreamClass reduces a stream name to its class: everything up to the
// first slash, so "multiplay/12/playing" and "multiplay/7" count
// together.
func StreamClass(stream string) string {
	if i := strings.IndexByte(stream, '/'); i >= 0 {
		return stream[:i]
	}
	return stream
}

// Prometheus is the production sink. Each instance carries its own
// registry so tests can build as many as they like.
type Prometheus struct {
	registry *prometheus.Registry

	onlineUsers    prometheus.Gauge
	packetsIn      prometheus.Counter
	packetsOut     prometheus.Counter
	broadcastBytes *prometheus.CounterVec
	lockTimeouts   prometheus.Counter
	queueDrops     prometheus.Counter
}

// NewPrometheus builds a sink with a fresh registry.
func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Prometheus{
		registry: registry,
		onlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bancho_online_users",
			Help: "Connected sessions, bot included.",
		}),
		packetsIn: factory.NewCounter(prometheus.CounterOpts{
			Name: "bancho_packets_in_total",
			Help: "Client packets dispatched to handlers.",
		}),
		packetsOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "bancho_packets_out_total",
			Help: "Frames drained from session queues to sockets.",
		}),
		broadcastBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bancho_broadcast_bytes_total",
			Help: "Bytes fanned out to stream members.",
		}, []string{"stream"}),
		lockTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "bancho_lock_timeouts_total",
			Help: "Lease acquisitions that exhausted their retry budget.",
		}),
		queueDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "bancho_queue_drops_total",
			Help: "Enqueues dropped because a session queue was full.",
		}),
	}
}

func (p *Prometheus) SetOnlineUsers(n int64) { p.onlineUsers.Set(float64(n)) }
func (p *Prometheus) IncPacketsIn()          { p.packetsIn.Inc() }
func (p *Prometheus) AddPacketsOut(n int)    { p.packetsOut.Add(float64(n)) }
func (p *Prometheus) IncLockTimeouts()       { p.lockTimeouts.Inc() }
func (p *Prometheus) IncQueueDrops()         { p.queueDrops.Inc() }

func (p *Prometheus) AddBroadcastBytes(stream string, n int) {
	p.broadcastBytes.WithLabelValues(StreamClass(stream)).Add(float64(n))
}

// Handler serves this sink's registry, for the /metrics listener.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Noop is the sink used when metrics are disabled.
type Noop struct{}

func (Noop) SetOnlineUsers(int64)           {}
func (Noop) IncPacketsIn()                  {}
func (Noop) AddPacketsOut(int)              {}
func (Noop) AddBroadcastBytes(string, int)  {}
func (Noop) IncLockTimeouts()               {}
func (Noop) IncQueueDrops()                 {}
