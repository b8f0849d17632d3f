package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/easycab/dispatch/core/metrics"
)

// PromSink records dispatch outcomes in Prometheus metrics.
type PromSink struct {
	accepted  prometheus.Counter
	denied    *prometheus.CounterVec
	latency   prometheus.Histogram
	taxis     prometheus.Gauge
	available prometheus.Gauge
}

// NewPromSink registers dispatch metrics on the default Prometheus
// registerer. The Prometheus server is started separately.
func NewPromSink(cfg coremetrics.Config) (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	accepted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_accepted_services_total",
		Help: "Total number of accepted ride requests",
	})
	denied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_denied_requests_total",
		Help: "Total number of denied ride requests",
	}, []string{"reason"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_match_latency_seconds",
		Help:    "Time between request arrival and taxi reservation",
		Buckets: prometheus.DefBuckets,
	})
	taxis := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_registered_taxis",
		Help: "Number of registered taxis",
	})
	available := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_available_taxis",
		Help: "Number of taxis currently available for matching",
	})

	for _, c := range []prometheus.Collector{accepted, denied, latency, taxis, available} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}

	return &PromSink{accepted: accepted, denied: denied, latency: latency, taxis: taxis, available: available}, nil
}

// RecordMatch counts an accepted ride and observes its latency.
func (s *PromSink) RecordMatch(_, _ int, latency time.Duration) error {
	s.accepted.Inc()
	s.latency.Observe(latency.Seconds())
	return nil
}

// RecordDenial counts a denial by reason.
func (s *PromSink) RecordDenial(reason string) error {
	s.denied.WithLabelValues(reason).Inc()
	return nil
}

// RecordFleet sets the fleet gauges.
func (s *PromSink) RecordFleet(registered, available int) error {
	s.taxis.Set(float64(registered))
	s.available.Set(float64(available))
	return nil
}
