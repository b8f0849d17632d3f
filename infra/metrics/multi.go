package metrics

import (
	"errors"
	"time"

	coremetrics "github.com/easycab/dispatch/core/metrics"
)

// MultiSink fans measurements out to several sinks.
type MultiSink struct {
	sinks []coremetrics.Sink
}

// NewMultiSink combines the given sinks into one.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) RecordMatch(taxiID, riderID int, latency time.Duration) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.RecordMatch(taxiID, riderID, latency); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordDenial(reason string) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.RecordDenial(reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordFleet(registered, available int) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.RecordFleet(registered, available); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
