// Package sim contains the taxi movement simulator and the rider request
// generator used to exercise a running dispatch server.
package sim

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/easycab/dispatch/core/broker"
	"github.com/easycab/dispatch/core/model"
	"github.com/easycab/dispatch/infra/logger"
)

// TaxiConfig parameterizes one simulated taxi.
type TaxiConfig struct {
	ID     int
	Grid   model.Grid
	Start  model.Position
	Speed  int // cells moved per tick
	TickMS int
}

// SetDefaults applies sane defaults.
func (c *TaxiConfig) SetDefaults() {
	if c.Speed <= 0 {
		c.Speed = 1
	}
	if c.TickMS <= 0 {
		c.TickMS = 1000
	}
}

// Taxi simulates one taxi: it registers by reporting its position,
// accepts service orders, drives to the rider and reports completions
// until its shift ends.
type Taxi struct {
	cfg TaxiConfig
	pub broker.Publisher
	log logger.Logger

	mu        sync.Mutex
	pos       model.Position
	target    *model.Position
	completed int
	ended     bool
}

// NewTaxi creates a simulated taxi.
func NewTaxi(cfg TaxiConfig, pub broker.Publisher, log logger.Logger) *Taxi {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Taxi{cfg: cfg, pub: pub, log: log, pos: cfg.Grid.Clamp(cfg.Start)}
}

// Bind subscribes the taxi to its server-facing topics.
func (t *Taxi) Bind(sub broker.Subscriber) error {
	if err := sub.Subscribe(broker.ServiceTopic(t.cfg.ID), t.handleService); err != nil {
		return err
	}
	if err := sub.Subscribe(broker.ShiftEndTopic(t.cfg.ID), t.handleShiftEnd); err != nil {
		return err
	}
	return sub.Subscribe(broker.RegistrationTopic(t.cfg.ID), t.handleRejection)
}

// Run reports positions every tick until the shift ends or the context
// is cancelled.
func (t *Taxi) Run(ctx context.Context) error {
	t.reportPosition()
	ticker := time.NewTicker(time.Duration(t.cfg.TickMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if done := t.tick(); done {
				t.log.Infof("taxi %d: shift over after %d services", t.cfg.ID, t.completedServices())
				return nil
			}
		}
	}
}

// tick advances toward the current target, if any, and reports. It
// returns true once the shift is over.
func (t *Taxi) tick() bool {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return true
	}
	var arrived bool
	if t.target != nil {
		t.pos = stepToward(t.pos, *t.target, t.cfg.Speed)
		arrived = t.pos == *t.target
	}
	t.mu.Unlock()

	t.reportPosition()
	if arrived {
		t.completeService()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended || t.completed >= model.MaxServices
}

func (t *Taxi) reportPosition() {
	t.mu.Lock()
	pos := t.pos
	t.mu.Unlock()
	payload := fmt.Sprintf("%d %d", pos.X, pos.Y)
	if err := t.pub.Publish(broker.PositionTopic(t.cfg.ID), []byte(payload)); err != nil {
		t.log.Errorf("taxi %d: report position: %v", t.cfg.ID, err)
	}
}

func (t *Taxi) completeService() {
	t.mu.Lock()
	t.target = nil
	t.completed++
	n := t.completed
	t.mu.Unlock()
	t.log.Infof("taxi %d: service completed (%d total)", t.cfg.ID, n)
	if err := t.pub.Publish(broker.CompletedTopic(t.cfg.ID), []byte("servicio completado")); err != nil {
		t.log.Errorf("taxi %d: report completion: %v", t.cfg.ID, err)
	}
}

func (t *Taxi) handleService(_ string, payload []byte) {
	riderID, pos, err := ParseService(payload)
	if err != nil {
		t.log.Warnf("taxi %d: %v", t.cfg.ID, err)
		return
	}
	dest := t.cfg.Grid.Clamp(pos)
	t.mu.Lock()
	t.target = &dest
	t.mu.Unlock()
	t.log.Infof("taxi %d: picking up user %d at %s", t.cfg.ID, riderID, dest)
}

func (t *Taxi) handleShiftEnd(_ string, payload []byte) {
	t.log.Infof("taxi %d: %s", t.cfg.ID, payload)
	t.mu.Lock()
	t.ended = true
	t.mu.Unlock()
}

func (t *Taxi) handleRejection(_ string, payload []byte) {
	t.log.Warnf("taxi %d: registration rejected: %s", t.cfg.ID, payload)
	t.mu.Lock()
	t.ended = true
	t.mu.Unlock()
}

func (t *Taxi) completedServices() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// ParseService decodes a "Usuario {riderId}, {x} {y}" service order.
func ParseService(payload []byte) (int, model.Position, error) {
	s := strings.TrimSpace(string(payload))
	var riderID, x, y int
	if _, err := fmt.Sscanf(s, "Usuario %d, %d %d", &riderID, &x, &y); err != nil {
		return 0, model.Position{}, fmt.Errorf("invalid service order %q", s)
	}
	return riderID, model.Position{X: x, Y: y}, nil
}

// stepToward moves up to speed cells along the Manhattan path, x axis
// first.
func stepToward(from, to model.Position, speed int) model.Position {
	for i := 0; i < speed; i++ {
		switch {
		case from.X < to.X:
			from.X++
		case from.X > to.X:
			from.X--
		case from.Y < to.Y:
			from.Y++
		case from.Y > to.Y:
			from.Y--
		default:
			return from
		}
	}
	return from
}
