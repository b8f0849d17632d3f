// Package metrics defines the sink interface the dispatch core reports
// into. Implementations live under infra/metrics.
package metrics

import "time"

// Config selects and parameterizes the enabled sinks.
type Config struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    string `json:"prometheus_port"`
	InfluxEnabled     bool   `json:"influx_enabled"`
	InfluxURL         string `json:"influx_url"`
	InfluxToken       string `json:"influx_token"`
	InfluxOrg         string `json:"influx_org"`
	InfluxBucket      string `json:"influx_bucket"`
}

// Sink records dispatch outcomes and fleet gauges.
type Sink interface {
	// RecordMatch is called once per accepted ride with the time spent
	// between request arrival and reservation.
	RecordMatch(taxiID, riderID int, latency time.Duration) error
	// RecordDenial is called once per denied request with a coarse reason
	// label ("timeout", "bad_format", "shift_ended", "cap_reached").
	RecordDenial(reason string) error
	// RecordFleet reports the current registered and available taxi counts.
	RecordFleet(registered, available int) error
}

// NopSink discards all measurements.
type NopSink struct{}

func (NopSink) RecordMatch(int, int, time.Duration) error { return nil }
func (NopSink) RecordDenial(string) error                 { return nil }
func (NopSink) RecordFleet(int, int) error                { return nil }
