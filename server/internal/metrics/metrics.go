// Package metrics keeps the hub's operational counters and exposes them in
// the Prometheus text exposition format.
package metrics

import (
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const namespace = "collabhub_"

// Registry holds the hub counters. The zero value is not usable; call New.
type Registry struct {
	connectionsTotal atomic.Int64
	rejectedTotal    atomic.Int64
	droppedTotal     atomic.Int64
	rateLimitedTotal atomic.Int64
	statsTicks       atomic.Int64

	mu         sync.Mutex
	events     map[string]float64 // inbound, by event name
	errors     map[string]float64 // error replies, by code
	broadcasts map[string]float64 // outbound fan-outs, by event name

	connections func() int
}

// New returns an empty Registry. connections reports the live session count
// and may be nil.
func New(connections func() int) *Registry {
	return &Registry{
		events:      make(map[string]float64),
		errors:      make(map[string]float64),
		broadcasts:  make(map[string]float64),
		connections: connections,
	}
}

// SetConnections replaces the live session gauge source.
func (r *Registry) SetConnections(fn func() int) {
	r.mu.Lock()
	r.connections = fn
	r.mu.Unlock()
}

func (r *Registry) ConnectionOpened()   { r.connectionsTotal.Add(1) }
func (r *Registry) ConnectionRejected() { r.rejectedTotal.Add(1) }
func (r *Registry) ClientDropped()      { r.droppedTotal.Add(1) }
func (r *Registry) RateLimited()        { r.rateLimitedTotal.Add(1) }
func (r *Registry) StatsPublished()     { r.statsTicks.Add(1) }

// Event counts one inbound event.
func (r *Registry) Event(name string) { r.inc(r.events, name) }

// Error counts one error reply.
func (r *Registry) Error(code string) { r.inc(r.errors, code) }

// Broadcast counts one fan-out.
func (r *Registry) Broadcast(event string) { r.inc(r.broadcasts, event) }

func (r *Registry) inc(m map[string]float64, key string) {
	r.mu.Lock()
	m[key]++
	r.mu.Unlock()
}

// Families snapshots every metric, sorted by name.
func (r *Registry) Families() []*dto.MetricFamily {
	r.mu.Lock()
	connFn := r.connections
	r.mu.Unlock()
	conns := 0
	if connFn != nil {
		conns = connFn()
	}

	r.mu.Lock()
	all := []*dto.MetricFamily{
		gauge("connections", "Live WebSocket sessions.", float64(conns)),
		counter("connections_total", "WebSocket sessions accepted since start.", float64(r.connectionsTotal.Load())),
		counter("connections_rejected_total", "Upgrades refused because the hub was full.", float64(r.rejectedTotal.Load())),
		counter("clients_dropped_total", "Sessions closed because their send buffer was full.", float64(r.droppedTotal.Load())),
		counter("rate_limited_total", "Inbound frames rejected by the per-connection rate limit.", float64(r.rateLimitedTotal.Load())),
		counter("stats_published_total", "Dashboard statistics broadcasts.", float64(r.statsTicks.Load())),
		labeled("events_total", "Inbound events by name.", "event", r.events),
		labeled("errors_total", "Error replies by code.", "code", r.errors),
		labeled("broadcasts_total", "Outbound fan-outs by event name.", "event", r.broadcasts),
	}
	r.mu.Unlock()

	// The text format rejects families without samples.
	fams := all[:0]
	for _, mf := range all {
		if len(mf.Metric) > 0 {
			fams = append(fams, mf)
		}
	}
	sort.Slice(fams, func(i, j int) bool { return fams[i].GetName() < fams[j].GetName() })
	return fams
}

// ServeHTTP writes the text exposition.
func (r *Registry) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	for _, mf := range r.Families() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return
		}
	}
}

func ptr[T any](v T) *T { return &v }

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   ptr(namespace + name),
		Help:   ptr(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: ptr(v)}}},
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   ptr(namespace + name),
		Help:   ptr(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: ptr(v)}}},
	}
}

// labeled builds a counter family with one series per key of m. Callers
// hold r.mu.
func labeled(name, help, label string, m map[string]float64) *dto.MetricFamily {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mf := &dto.MetricFamily{
		Name: ptr(namespace + name),
		Help: ptr(help),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, k := range keys {
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label:   []*dto.LabelPair{{Name: ptr(label), Value: ptr(k)}},
			Counter: &dto.Counter{Value: ptr(m[k])},
		})
	}
	return mf
}
