// Package ingest decodes taxi messages from the broker and applies them
// to the registry. Network callbacks only parse and enqueue; one
// dispatcher goroutine performs all mutations, preserving per-taxi
// ordering without locking inside library callback contexts.
package ingest

import (
	"context"
	"errors"

	"github.com/easycab/dispatch/core/broker"
	"github.com/easycab/dispatch/core/metrics"
	"github.com/easycab/dispatch/core/registry"
	"github.com/easycab/dispatch/infra/logger"
)

// Taxi-facing notices, kept byte-for-byte compatible with the fleet.
const (
	RegistrationRejected = "ID Taxi inactivo. No puede registrarse."
	ShiftEndedNotice     = "Jornada laboral culminada. No puede aceptar más servicios."
)

const defaultQueueSize = 256

// Ingestor consumes parsed taxi events and mutates the registry.
type Ingestor struct {
	reg      *registry.Registry
	counters *registry.Counters
	pub      broker.Publisher
	sink     metrics.Sink
	log      logger.Logger
	events   chan Event
}

// New creates an Ingestor. The publisher is used for rejection and
// shift-end notices back to the taxis.
func New(reg *registry.Registry, counters *registry.Counters, pub broker.Publisher, sink metrics.Sink, log logger.Logger) *Ingestor {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Ingestor{
		reg:      reg,
		counters: counters,
		pub:      pub,
		sink:     sink,
		log:      log,
		events:   make(chan Event, defaultQueueSize),
	}
}

// Bind subscribes the ingestor to the taxi topic filters.
func (in *Ingestor) Bind(sub broker.Subscriber) error {
	for _, filter := range []string{broker.PositionFilter, broker.CompletedFilter, broker.ShiftEndFilter} {
		if err := sub.Subscribe(filter, in.HandleMessage); err != nil {
			return err
		}
	}
	return nil
}

// HandleMessage parses one broker message and enqueues it. Malformed
// topics or payloads are logged and dropped; the ingest path never
// crashes on bad input.
func (in *Ingestor) HandleMessage(topic string, payload []byte) {
	id, kind, err := ParseTopic(topic)
	if err != nil {
		in.log.Warnf("dropping message: %v", err)
		return
	}
	ev := Event{Kind: kind, TaxiID: id}
	if kind == KindPosition {
		pos, err := ParsePosition(payload)
		if err != nil {
			in.log.Warnf("dropping message for taxi %d: %v", id, err)
			return
		}
		ev.Pos = pos
	}
	select {
	case in.events <- ev:
	default:
		in.log.Errorf("event queue full, dropping %s event for taxi %d", kind, id)
	}
}

// Run consumes the event queue until the context is cancelled.
func (in *Ingestor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-in.events:
			in.apply(ev)
		}
	}
}

func (in *Ingestor) apply(ev Event) {
	switch ev.Kind {
	case KindPosition:
		_, err := in.reg.UpsertPosition(ev.TaxiID, ev.Pos)
		if errors.Is(err, registry.ErrShiftEnded) {
			in.log.Warnf("taxi %d tried to register after ending its shift", ev.TaxiID)
			in.counters.IncDenied()
			if err := in.sink.RecordDenial("shift_ended"); err != nil {
				in.log.Errorf("metrics: %v", err)
			}
			in.publish(broker.RegistrationTopic(ev.TaxiID), RegistrationRejected)
		}
	case KindCompleted:
		out, err := in.reg.RecordCompletion(ev.TaxiID)
		switch {
		case errors.Is(err, registry.ErrServiceCapReached):
			in.log.Warnf("taxi %d reported a completion beyond its cap", ev.TaxiID)
			in.counters.IncDenied()
			if err := in.sink.RecordDenial("cap_reached"); err != nil {
				in.log.Errorf("metrics: %v", err)
			}
		case errors.Is(err, registry.ErrUnknownTaxi):
			in.log.Warnf("completion from unregistered taxi %d, ignored", ev.TaxiID)
		case err == nil && out.ShiftEnded:
			in.publish(broker.ShiftEndTopic(ev.TaxiID), ShiftEndedNotice)
		}
	case KindShiftEnd:
		in.reg.RecordShiftEnd(ev.TaxiID)
	}

	registered, available := in.reg.Stats()
	if err := in.sink.RecordFleet(registered, available); err != nil {
		in.log.Errorf("metrics: %v", err)
	}
}

func (in *Ingestor) publish(topic, msg string) {
	if in.pub == nil {
		return
	}
	if err := in.pub.Publish(topic, []byte(msg)); err != nil {
		in.log.Errorf("publish %s: %v", topic, err)
	}
}
