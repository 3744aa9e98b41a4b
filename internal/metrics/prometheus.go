package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exposes a Collector as Prometheus metrics.
type Exporter struct {
	c *Collector

	requests  *prometheus.Desc
	endpoints *prometheus.Desc
	errors    *prometheus.Desc
	statuses  *prometheus.Desc
	bytes     *prometheus.Desc
	cacheHits *prometheus.Desc
	opened    *prometheus.Desc
	fallbacks *prometheus.Desc
	inFlight  *prometheus.Desc
	duration  *prometheus.Desc
}

// NewExporter creates an exporter for c. Metric names are prefixed with
// namespace.
func NewExporter(c *Collector, namespace string) *Exporter {
	name := func(n string) string { return prometheus.BuildFQName(namespace, "client", n) }
	return &Exporter{
		c:         c,
		requests:  prometheus.NewDesc(name("requests_total"), "Requests sent.", nil, nil),
		endpoints: prometheus.NewDesc(name("endpoint_requests_total"), "Requests sent per endpoint.", []string{"endpoint"}, nil),
		errors:    prometheus.NewDesc(name("errors_total"), "Failed requests by error kind.", []string{"kind"}, nil),
		statuses:  prometheus.NewDesc(name("responses_total"), "Responses by status code.", []string{"code"}, nil),
		bytes:     prometheus.NewDesc(name("response_bytes_total"), "Response body bytes received.", nil, nil),
		cacheHits: prometheus.NewDesc(name("cache_hits_total"), "Responses served from the response cache.", nil, nil),
		opened:    prometheus.NewDesc(name("breaker_opened_total"), "Circuit breaker openings.", nil, nil),
		fallbacks: prometheus.NewDesc(name("fallbacks_total"), "Calls answered by a fallback.", nil, nil),
		inFlight:  prometheus.NewDesc(name("requests_in_flight"), "Requests awaiting a response.", nil, nil),
		duration:  prometheus.NewDesc(name("request_duration_seconds"), "Request latency.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.requests
	ch <- e.endpoints
	ch <- e.errors
	ch <- e.statuses
	ch <- e.bytes
	ch <- e.cacheHits
	ch <- e.opened
	ch <- e.fallbacks
	ch <- e.inFlight
	ch <- e.duration
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.c.Snapshot()

	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	counter(e.requests, s.RequestsTotal)
	counter(e.bytes, s.BytesTotal)
	counter(e.cacheHits, s.CacheHits)
	counter(e.opened, s.BreakerOpened)
	counter(e.fallbacks, s.FallbacksTotal)
	for endpoint, n := range s.EndpointCounts {
		counter(e.endpoints, n, endpoint)
	}
	for kind, n := range s.ErrorCounts {
		counter(e.errors, n, kind)
	}
	for code, n := range s.StatusCodes {
		counter(e.statuses, n, strconv.Itoa(code))
	}

	ch <- prometheus.MustNewConstMetric(e.inFlight, prometheus.GaugeValue, float64(s.InFlight))

	var count uint64
	buckets := make(map[float64]uint64, len(bucketBounds))
	for i, bound := range bucketBounds {
		count += uint64(s.ResponseTimeHist[i])
		buckets[float64(bound)/1000] = count
	}
	count += uint64(s.ResponseTimeHist[len(bucketBounds)])
	ch <- prometheus.MustNewConstHistogram(e.duration, count, float64(s.ResponseTimeSumMs)/1000, buckets)
}

// Handler serves c in the Prometheus text format from a dedicated registry.
func Handler(c *Collector, namespace string) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewExporter(c, namespace))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
