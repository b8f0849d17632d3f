// Package registry owns all taxi lifecycle state. Every invariant about
// registration, availability and the service cap is enforced here, behind
// one mutex, so no caller can observe a half-applied transition.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/easycab/dispatch/core/model"
	"github.com/easycab/dispatch/infra/logger"
	"github.com/easycab/dispatch/internal/eventbus"
)

// ErrShiftEnded is returned when a taxi that already completed its quota
// tries to register again. The terminal marker survives for the life of
// the process: repeating position reports never resets a service count.
var ErrShiftEnded = errors.New("taxi shift already ended")

// ErrServiceCapReached is returned when a completion is reported for a
// taxi already at the service cap.
var ErrServiceCapReached = errors.New("service cap reached")

// ErrUnknownTaxi is returned for lifecycle events about an id that never
// sent a position report.
var ErrUnknownTaxi = errors.New("unknown taxi")

// RegistrationOutcome distinguishes a first report from a routine update.
type RegistrationOutcome int

const (
	Registered RegistrationOutcome = iota
	PositionUpdated
)

// CompletionOutcome reports the effect of a service completion.
type CompletionOutcome struct {
	Completed int
	// ShiftEnded is true when this completion reached the cap. The caller
	// owes the taxi a shift-end notice on its fin_jornada topic.
	ShiftEnded bool
}

// Registry is the in-memory taxi table.
type Registry struct {
	mu    sync.Mutex
	grid  model.Grid
	taxis map[int]*model.Taxi

	bus eventbus.EventBus
	log logger.Logger
}

// New creates an empty registry for the given grid. The bus receives a
// TaxiAvailable pulse whenever a taxi becomes eligible for matching.
func New(grid model.Grid, bus eventbus.EventBus, log logger.Logger) *Registry {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Registry{grid: grid, taxis: make(map[int]*model.Taxi), bus: bus, log: log}
}

// UpsertPosition applies a position report. The first report for an id
// registers the taxi; later reports append to its history. Coordinates
// outside the grid are clamped, not rejected. An id whose shift already
// ended gets ErrShiftEnded, forever.
func (r *Registry) UpsertPosition(id int, pos model.Position) (RegistrationOutcome, error) {
	clamped := r.grid.Clamp(pos)
	if clamped != pos {
		r.log.Warnf("taxi %d reported out-of-bounds position %s, clamped to %s", id, pos, clamped)
	}

	r.mu.Lock()
	t, known := r.taxis[id]
	if known && t.ShiftEnded() {
		r.mu.Unlock()
		return 0, ErrShiftEnded
	}
	if !known {
		t = &model.Taxi{ID: id, InitialPos: clamped, Available: true}
		t.Positions = append(t.Positions, clamped)
		r.taxis[id] = t
		r.mu.Unlock()
		r.log.Infof("new taxi registered: id %d at %s", id, clamped)
		r.notifyAvailable(id)
		return Registered, nil
	}
	t.Positions = append(t.Positions, clamped)
	r.mu.Unlock()
	r.log.Debugf("taxi %d now at %s", id, clamped)
	return PositionUpdated, nil
}

// RecordCompletion marks one service as finished. Below the cap the taxi
// becomes available again and its pending assignment is cleared. At the
// cap the call is a no-op and returns ErrServiceCapReached; the caller
// counts the denial.
func (r *Registry) RecordCompletion(id int) (CompletionOutcome, error) {
	r.mu.Lock()
	t, ok := r.taxis[id]
	if !ok {
		r.mu.Unlock()
		return CompletionOutcome{}, ErrUnknownTaxi
	}
	if t.ShiftEnded() {
		r.mu.Unlock()
		return CompletionOutcome{Completed: t.Completed}, ErrServiceCapReached
	}
	t.Completed++
	t.Assigned = nil
	out := CompletionOutcome{Completed: t.Completed}
	if t.Completed >= model.MaxServices {
		t.Available = false
		out.ShiftEnded = true
	} else {
		t.Available = true
	}
	r.mu.Unlock()

	if out.ShiftEnded {
		r.log.Infof("taxi %d reached the service cap, shift ended", id)
	} else {
		r.log.Infof("taxi %d completed a service (%d total)", id, out.Completed)
		r.notifyAvailable(id)
	}
	return out, nil
}

// RecordShiftEnd forces the taxi to the service cap, idempotently. Unknown
// ids get a terminal marker so a later registration attempt is rejected.
func (r *Registry) RecordShiftEnd(id int) {
	r.mu.Lock()
	t, ok := r.taxis[id]
	if !ok {
		t = &model.Taxi{ID: id}
		r.taxis[id] = t
	}
	t.Completed = model.MaxServices
	t.Available = false
	t.Assigned = nil
	r.mu.Unlock()
	r.log.Infof("taxi %d shift ended", id)
}

// FindBestAvailable returns the available taxi closest to the rider by
// Manhattan distance. Iteration is in ascending id order, so ties go to
// the lowest id.
func (r *Registry) FindBestAvailable(riderPos model.Position) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findBestLocked(riderPos)
}

func (r *Registry) findBestLocked(riderPos model.Position) (int, bool) {
	ids := make([]int, 0, len(r.taxis))
	for id := range r.taxis {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	best, bestDist := 0, -1
	for _, id := range ids {
		t := r.taxis[id]
		if !t.Available || t.ShiftEnded() {
			continue
		}
		d := t.CurrentPos().ManhattanDistance(riderPos)
		if bestDist < 0 || d < bestDist {
			best, bestDist = id, d
		}
	}
	return best, bestDist >= 0
}

// Reserve marks the taxi unavailable and records the assignment. It must
// only be used by tests or callers already holding no expectation of
// atomicity with the search; live matching goes through Claim.
func (r *Registry) Reserve(id int, riderID int, riderPos model.Position) (model.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reserveLocked(id, riderID, riderPos)
}

func (r *Registry) reserveLocked(id int, riderID int, riderPos model.Position) (model.Assignment, error) {
	t, ok := r.taxis[id]
	if !ok {
		return model.Assignment{}, ErrUnknownTaxi
	}
	a := model.Assignment{RiderID: riderID, TaxiPos: t.CurrentPos(), RiderPos: riderPos}
	t.Available = false
	t.Assigned = &a
	t.Services = append(t.Services, a)
	return a, nil
}

// Claim atomically finds the best available taxi for the rider and
// reserves it. Two concurrent claims can never land on the same taxi.
func (r *Registry) Claim(riderID int, riderPos model.Position) (int, model.Assignment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.findBestLocked(riderPos)
	if !ok {
		return 0, model.Assignment{}, false
	}
	a, err := r.reserveLocked(id, riderID, riderPos)
	if err != nil {
		return 0, model.Assignment{}, false
	}
	return id, a, true
}

// View returns deep copies of every taxi record in ascending id order.
func (r *Registry) View() []model.Taxi {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Taxi, 0, len(r.taxis))
	for _, t := range r.taxis {
		out = append(out, copyTaxi(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns the registered and available taxi counts.
func (r *Registry) Stats() (registered, available int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.taxis {
		registered++
		if t.Available && !t.ShiftEnded() {
			available++
		}
	}
	return registered, available
}

// Replace swaps the whole table for the given records. Used by the
// standby instance when it absorbs a newer snapshot.
func (r *Registry) Replace(taxis []model.Taxi) {
	r.mu.Lock()
	r.taxis = make(map[int]*model.Taxi, len(taxis))
	anyAvailable := false
	for i := range taxis {
		t := copyTaxi(&taxis[i])
		r.taxis[t.ID] = &t
		if t.Available && !t.ShiftEnded() {
			anyAvailable = true
		}
	}
	r.mu.Unlock()
	if anyAvailable {
		r.notifyAvailable(0)
	}
}

func (r *Registry) notifyAvailable(id int) {
	if r.bus != nil {
		r.bus.Publish(eventbus.TaxiAvailable{TaxiID: id})
	}
}

func copyTaxi(t *model.Taxi) model.Taxi {
	c := *t
	c.Positions = append([]model.Position(nil), t.Positions...)
	c.Services = append([]model.Assignment(nil), t.Services...)
	if t.Assigned != nil {
		a := *t.Assigned
		c.Assigned = &a
	}
	return c
}
