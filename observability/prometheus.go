package observability

import (
	"errors"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var _ MetricFactory = (*PrometheusFactory)(nil)

// DefaultNamespace prefixes every metric created by PrometheusFactory.
const DefaultNamespace = "purse"

// PrometheusFactory creates Prometheus collectors for MetricsExtension.
// Dotted metric names become underscored; counters get a _total suffix.
type PrometheusFactory struct {
	registerer prometheus.Registerer
	namespace  string

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	histograms map[string]prometheus.Histogram
}

// NewPrometheusFactory registers metrics on reg under namespace. An empty
// namespace uses DefaultNamespace.
func NewPrometheusFactory(reg prometheus.Registerer, namespace string) *PrometheusFactory {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &PrometheusFactory{
		registerer: reg,
		namespace:  namespace,
		counters:   make(map[string]prometheus.Counter),
		histograms: make(map[string]prometheus.Histogram),
	}
}

// Counter returns the counter for name, creating it on first use.
func (f *PrometheusFactory) Counter(name string) Counter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.counters[name]; ok {
		return c
	}

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: f.namespace,
		Name:      f.metricName(name) + "_total",
		Help:      "purse " + name,
	})
	c = register(f.registerer, c)
	f.counters[name] = c
	return c
}

// Histogram returns the histogram for name, creating it on first use.
func (f *PrometheusFactory) Histogram(name string) Histogram {
	f.mu.Lock()
	defer f.mu.Unlock()

	if h, ok := f.histograms[name]; ok {
		return h
	}

	buckets := prometheus.ExponentialBuckets(1, 2, 16)
	if strings.HasSuffix(name, "latency_ms") {
		buckets = prometheus.ExponentialBuckets(5, 2, 12) // 5ms to ~10s
	}

	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: f.namespace,
		Name:      f.metricName(name),
		Help:      "purse " + name,
		Buckets:   buckets,
	})
	h = register(f.registerer, h)
	f.histograms[name] = h
	return h
}

// metricName strips the namespace prefix and converts dots to underscores.
func (f *PrometheusFactory) metricName(name string) string {
	name = strings.TrimPrefix(name, f.namespace+".")
	return strings.ReplaceAll(name, ".", "_")
}

// register registers c, reusing an identical collector that is already
// registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
