// Package metrics is a small Prometheus-compatible registry. Counters, gauges
// and histograms are grouped into families by base name; label pairs are part
// of the series name, e.g. http_requests_total{route="/api/vendors"}.
package metrics

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets are latency buckets in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Counter is a monotonically increasing counter.
type Counter struct{ val atomic.Int64 }

func (c *Counter) Inc()         { c.val.Add(1) }
func (c *Counter) Add(n int64)  { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

// Gauge can go up and down.
type Gauge struct{ val atomic.Int64 }

func (g *Gauge) Set(n int64)  { g.val.Store(n) }
func (g *Gauge) Inc()         { g.val.Add(1) }
func (g *Gauge) Dec()         { g.val.Add(-1) }
func (g *Gauge) Value() int64 { return g.val.Load() }

// Histogram counts observations into fixed upper-bound buckets.
type Histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *Histogram {
	b := slices.Clone(buckets)
	slices.Sort(b)
	return &Histogram{buckets: b, counts: make([]uint64, len(b))}
}

// Observe records v in the first bucket whose bound is >= v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	if i, _ := slices.BinarySearch(h.buckets, v); i < len(h.buckets) {
		h.counts[i]++
	}
}

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) { h.Observe(time.Since(t).Seconds()) }

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

type family struct {
	kind   kind
	help   string
	series map[string]any // full series name -> *Counter | *Gauge | *Histogram
}

// Registry holds metric families in registration order.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
	order    []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{families: make(map[string]*family)}
}

func (r *Registry) series(name, help string, k kind, newMetric func() any) any {
	r.mu.Lock()
	defer r.mu.Unlock()

	base := baseName(name)
	f, ok := r.families[base]
	if !ok {
		f = &family{kind: k, series: make(map[string]any)}
		r.families[base] = f
		r.order = append(r.order, base)
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", base, f.kind, k))
	}
	if help != "" {
		f.help = help
	}
	if m, ok := f.series[name]; ok {
		return m
	}
	m := newMetric()
	f.series[name] = m
	return m
}

// Counter returns the counter for name, creating it on first use.
func (r *Registry) Counter(name, help string) *Counter {
	return r.series(name, help, kindCounter, func() any { return &Counter{} }).(*Counter)
}

// Gauge returns the gauge for name, creating it on first use.
func (r *Registry) Gauge(name, help string) *Gauge {
	return r.series(name, help, kindGauge, func() any { return &Gauge{} }).(*Gauge)
}

// Histogram returns the histogram for name. A nil buckets uses DefaultBuckets.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	return r.series(name, help, kindHistogram, func() any { return newHistogram(buckets) }).(*Histogram)
}

// WithLabels appends label pairs to name: WithLabels("x", "k", "v") is x{k="v"}.
// An odd number of kvs returns name unchanged.
func WithLabels(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return name
	}
	pairs := make([]string, 0, len(kvs)/2)
	for i := 0; i < len(kvs); i += 2 {
		pairs = append(pairs, fmt.Sprintf("%s=%q", kvs[i], kvs[i+1]))
	}
	return name + "{" + strings.Join(pairs, ",") + "}"
}

func baseName(name string) string {
	base, _, _ := strings.Cut(name, "{")
	return base
}

// labelsOf returns the inner label text of a series name, without braces.
func labelsOf(name string) string {
	_, rest, ok := strings.Cut(name, "{")
	if !ok {
		return ""
	}
	return strings.TrimSuffix(rest, "}")
}

func joinLabels(parts ...string) string {
	parts = slices.DeleteFunc(parts, func(s string) bool { return s == "" })
	if len(parts) == 0 {
		return ""
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Render writes all families in the Prometheus text exposition format.
func (r *Registry) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	for _, base := range r.order {
		f := r.families[base]
		if f.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", base, f.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", base, f.kind)

		names := make([]string, 0, len(f.series))
		for n := range f.series {
			names = append(names, n)
		}
		slices.Sort(names)

		for _, n := range names {
			switch m := f.series[n].(type) {
			case *Counter:
				fmt.Fprintf(&b, "%s %d\n", n, m.Value())
			case *Gauge:
				fmt.Fprintf(&b, "%s %d\n", n, m.Value())
			case *Histogram:
				renderHistogram(&b, base, labelsOf(n), m)
			}
		}
	}
	return b.String()
}

func renderHistogram(b *strings.Builder, base, labels string, h *Histogram) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var cumulative uint64
	for i, bound := range h.buckets {
		cumulative += h.counts[i]
		fmt.Fprintf(b, "%s_bucket%s %d\n", base, joinLabels(labels, fmt.Sprintf("le=%q", fmt.Sprint(bound))), cumulative)
	}
	fmt.Fprintf(b, "%s_bucket%s %d\n", base, joinLabels(labels, `le="+Inf"`), h.count)
	fmt.Fprintf(b, "%s_sum%s %g\n", base, joinLabels(labels), h.sum)
	fmt.Fprintf(b, "%s_count%s %d\n", base, joinLabels(labels), h.count)
}

// Handler serves the registry in the text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Render()))
	})
}
