// Package match answers rider requests by claiming the nearest available
// taxi. Instead of polling the registry at a fixed interval, the engine
// waits on the registry's availability pulse and keeps a coarse re-check
// ticker as a bound on wait latency.
package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/easycab/dispatch/core/broker"
	"github.com/easycab/dispatch/core/metrics"
	"github.com/easycab/dispatch/core/model"
	"github.com/easycab/dispatch/core/registry"
	"github.com/easycab/dispatch/infra/logger"
	"github.com/easycab/dispatch/internal/eventbus"
)

// ErrNoTaxiAvailable is returned when no taxi could be reserved before
// the match deadline.
var ErrNoTaxiAvailable = errors.New("no taxi available")

const (
	// DefaultDeadline bounds how long a rider waits for a taxi.
	DefaultDeadline = 60 * time.Second
	// DefaultRecheck bounds the wait latency if an availability pulse is
	// missed.
	DefaultRecheck = time.Second
)

// Engine reserves taxis for riders.
type Engine struct {
	reg      *registry.Registry
	counters *registry.Counters
	pub      broker.Publisher
	bus      eventbus.EventBus
	sink     metrics.Sink
	log      logger.Logger
	deadline time.Duration
	recheck  time.Duration
}

// New creates an Engine. deadline and recheck fall back to the defaults
// when zero.
func New(reg *registry.Registry, counters *registry.Counters, pub broker.Publisher, bus eventbus.EventBus, sink metrics.Sink, log logger.Logger, deadline, recheck time.Duration) *Engine {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if recheck <= 0 {
		recheck = DefaultRecheck
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Engine{
		reg:      reg,
		counters: counters,
		pub:      pub,
		bus:      bus,
		sink:     sink,
		log:      log,
		deadline: deadline,
		recheck:  recheck,
	}
}

// Match finds and reserves the closest available taxi for the rider. It
// blocks until a taxi is claimed, the deadline elapses (denial) or the
// context is cancelled (shutdown, no denial counted).
func (e *Engine) Match(ctx context.Context, riderID int, riderPos model.Position) (int, model.Assignment, error) {
	start := time.Now()

	var pulses <-chan eventbus.Event
	if e.bus != nil {
		pulses = e.bus.Subscribe()
		defer e.bus.Unsubscribe(pulses)
	}

	deadline := time.NewTimer(e.deadline)
	defer deadline.Stop()
	ticker := time.NewTicker(e.recheck)
	defer ticker.Stop()

	for {
		if id, a, ok := e.reg.Claim(riderID, riderPos); ok {
			e.counters.IncAccepted()
			if err := e.sink.RecordMatch(id, riderID, time.Since(start)); err != nil {
				e.log.Errorf("metrics: %v", err)
			}
			e.notifyTaxi(id, riderID, riderPos)
			e.log.Infof("assigned taxi %d to user %d: from %s to %s", id, riderID, a.TaxiPos, a.RiderPos)
			return id, a, nil
		}

		select {
		case <-ctx.Done():
			return 0, model.Assignment{}, ctx.Err()
		case <-deadline.C:
			e.counters.IncDenied()
			if err := e.sink.RecordDenial("timeout"); err != nil {
				e.log.Errorf("metrics: %v", err)
			}
			e.log.Warnf("user %d: no taxi assigned within %s", riderID, e.deadline)
			return 0, model.Assignment{}, ErrNoTaxiAvailable
		case _, ok := <-pulses:
			if !ok {
				pulses = nil
			}
		case <-ticker.C:
		}
	}
}

// notifyTaxi publishes the service order on the taxi's servicio topic.
func (e *Engine) notifyTaxi(taxiID, riderID int, riderPos model.Position) {
	if e.pub == nil {
		return
	}
	payload := fmt.Sprintf("Usuario %d, %d %d", riderID, riderPos.X, riderPos.Y)
	if err := e.pub.Publish(broker.ServiceTopic(taxiID), []byte(payload)); err != nil {
		e.log.Errorf("notify taxi %d: %v", taxiID, err)
	}
}
