package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/easycab/dispatch/core/model"
	"github.com/easycab/dispatch/internal/eventbus"
)

func newTestRegistry() *Registry {
	return New(model.Grid{N: 50, M: 50}, nil, nil)
}

func TestFirstReportRegisters(t *testing.T) {
	r := newTestRegistry()
	out, err := r.UpsertPosition(1, model.Position{X: 5, Y: 5})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if out != Registered {
		t.Fatalf("expected Registered, got %v", out)
	}
	taxis := r.View()
	if len(taxis) != 1 {
		t.Fatalf("expected 1 taxi, got %d", len(taxis))
	}
	taxi := taxis[0]
	if !taxi.Available || taxi.Completed != 0 {
		t.Fatalf("fresh taxi should be available with 0 services: %+v", taxi)
	}
	if taxi.InitialPos != (model.Position{X: 5, Y: 5}) {
		t.Fatalf("initial position not recorded: %+v", taxi)
	}
}

func TestSecondReportUpdates(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.UpsertPosition(1, model.Position{X: 5, Y: 5}); err != nil {
		t.Fatalf("register: %v", err)
	}
	out, err := r.UpsertPosition(1, model.Position{X: 6, Y: 5})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if out != PositionUpdated {
		t.Fatalf("expected PositionUpdated, got %v", out)
	}
	taxi := r.View()[0]
	if len(taxi.Positions) != 2 {
		t.Fatalf("history length %d, want 2", len(taxi.Positions))
	}
	if taxi.CurrentPos() != (model.Position{X: 6, Y: 5}) {
		t.Fatalf("current position %v", taxi.CurrentPos())
	}
}

func TestOutOfBoundsClamped(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.UpsertPosition(1, model.Position{X: 55, Y: -3}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got := r.View()[0].CurrentPos()
	if got != (model.Position{X: 50, Y: 0}) {
		t.Fatalf("expected clamp to (50, 0), got %v", got)
	}
}

func TestShiftEndIsPermanent(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.UpsertPosition(7, model.Position{X: 1, Y: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < model.MaxServices; i++ {
		if _, err := r.RecordCompletion(7); err != nil {
			t.Fatalf("completion %d: %v", i, err)
		}
	}
	if _, ok := r.FindBestAvailable(model.Position{X: 1, Y: 1}); ok {
		t.Fatalf("capped taxi must never be selectable")
	}
	_, err := r.UpsertPosition(7, model.Position{X: 2, Y: 2})
	if !errors.Is(err, ErrShiftEnded) {
		t.Fatalf("expected ErrShiftEnded, got %v", err)
	}
	// Repeating the report must not reset anything.
	_, err = r.UpsertPosition(7, model.Position{X: 3, Y: 3})
	if !errors.Is(err, ErrShiftEnded) {
		t.Fatalf("expected ErrShiftEnded on retry, got %v", err)
	}
}

func TestCompletionBeyondCapDenied(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.UpsertPosition(1, model.Position{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	var last CompletionOutcome
	for i := 0; i < model.MaxServices; i++ {
		out, err := r.RecordCompletion(1)
		if err != nil {
			t.Fatalf("completion %d: %v", i, err)
		}
		last = out
	}
	if !last.ShiftEnded {
		t.Fatalf("third completion should end the shift")
	}
	out, err := r.RecordCompletion(1)
	if !errors.Is(err, ErrServiceCapReached) {
		t.Fatalf("expected ErrServiceCapReached, got %v", err)
	}
	if out.Completed != model.MaxServices {
		t.Fatalf("counter moved past the cap: %d", out.Completed)
	}
}

func TestCompletionMakesAvailableAgain(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.UpsertPosition(1, model.Position{X: 5, Y: 5}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, ok := r.Claim(9, model.Position{X: 6, Y: 6}); !ok {
		t.Fatalf("claim failed")
	}
	if _, ok := r.FindBestAvailable(model.Position{X: 6, Y: 6}); ok {
		t.Fatalf("reserved taxi still selectable")
	}
	out, err := r.RecordCompletion(1)
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	if out.ShiftEnded {
		t.Fatalf("first completion should not end the shift")
	}
	taxi := r.View()[0]
	if !taxi.Available || taxi.Assigned != nil {
		t.Fatalf("completion must free the taxi: %+v", taxi)
	}
}

func TestFindBestPicksClosest(t *testing.T) {
	r := newTestRegistry()
	positions := map[int]model.Position{
		1: {X: 5, Y: 5},
		2: {X: 40, Y: 40},
		3: {X: 10, Y: 10},
	}
	for id, pos := range positions {
		if _, err := r.UpsertPosition(id, pos); err != nil {
			t.Fatalf("register %d: %v", id, err)
		}
	}
	id, ok := r.FindBestAvailable(model.Position{X: 6, Y: 6})
	if !ok || id != 1 {
		t.Fatalf("expected taxi 1, got %d (ok=%t)", id, ok)
	}
}

func TestFindBestTieGoesToLowestID(t *testing.T) {
	r := newTestRegistry()
	// Taxis 4 and 2 are equidistant from the rider.
	if _, err := r.UpsertPosition(4, model.Position{X: 10, Y: 0}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.UpsertPosition(2, model.Position{X: 0, Y: 10}); err != nil {
		t.Fatalf("register: %v", err)
	}
	id, ok := r.FindBestAvailable(model.Position{X: 0, Y: 0})
	if !ok || id != 2 {
		t.Fatalf("tie must go to the lowest id, got %d", id)
	}
}

func TestFindBestEmpty(t *testing.T) {
	r := newTestRegistry()
	if _, ok := r.FindBestAvailable(model.Position{}); ok {
		t.Fatalf("empty registry returned a candidate")
	}
}

func TestClaimIsExclusive(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.UpsertPosition(1, model.Position{X: 5, Y: 5}); err != nil {
		t.Fatalf("register: %v", err)
	}

	const claimers = 16
	var wg sync.WaitGroup
	wins := make(chan int, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(rider int) {
			defer wg.Done()
			if _, _, ok := r.Claim(rider, model.Position{X: rider, Y: 0}); ok {
				wins <- rider
			}
		}(i)
	}
	wg.Wait()
	close(wins)
	var winners []int
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", len(winners))
	}
}

func TestReserveRecordsAssignment(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.UpsertPosition(1, model.Position{X: 5, Y: 5}); err != nil {
		t.Fatalf("register: %v", err)
	}
	a, err := r.Reserve(1, 9, model.Position{X: 6, Y: 6})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if a.RiderID != 9 || a.TaxiPos != (model.Position{X: 5, Y: 5}) || a.RiderPos != (model.Position{X: 6, Y: 6}) {
		t.Fatalf("assignment %+v", a)
	}
	taxi := r.View()[0]
	if taxi.Available || taxi.Assigned == nil || len(taxi.Services) != 1 {
		t.Fatalf("reservation not recorded: %+v", taxi)
	}
	if _, err := r.Reserve(99, 1, model.Position{}); !errors.Is(err, ErrUnknownTaxi) {
		t.Fatalf("expected ErrUnknownTaxi, got %v", err)
	}
}

func TestRecordShiftEndIdempotent(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.UpsertPosition(3, model.Position{X: 1, Y: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}
	r.RecordShiftEnd(3)
	r.RecordShiftEnd(3)
	taxi := r.View()[0]
	if taxi.Completed != model.MaxServices || taxi.Available {
		t.Fatalf("shift end not applied: %+v", taxi)
	}
	if _, err := r.UpsertPosition(3, model.Position{X: 1, Y: 2}); !errors.Is(err, ErrShiftEnded) {
		t.Fatalf("expected ErrShiftEnded after forced shift end, got %v", err)
	}
}

func TestAvailabilityPulseOnRegistration(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	r := New(model.Grid{N: 50, M: 50}, bus, nil)
	ch := bus.Subscribe()
	if _, err := r.UpsertPosition(1, model.Position{X: 1, Y: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}
	ev := <-ch
	if _, ok := ev.(eventbus.TaxiAvailable); !ok {
		t.Fatalf("expected TaxiAvailable, got %T", ev)
	}
}

func TestReplaceSwapsState(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.UpsertPosition(1, model.Position{X: 1, Y: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}
	r.Replace([]model.Taxi{{
		ID:         9,
		InitialPos: model.Position{X: 2, Y: 2},
		Positions:  []model.Position{{X: 2, Y: 2}},
		Available:  true,
	}})
	taxis := r.View()
	if len(taxis) != 1 || taxis[0].ID != 9 {
		t.Fatalf("replace did not swap the table: %+v", taxis)
	}
}

func TestCountersMonotonic(t *testing.T) {
	c := NewCounters()
	c.IncAccepted()
	c.IncDenied()
	c.IncDenied()
	accepted, denied := c.Totals()
	if accepted != 1 || denied != 2 {
		t.Fatalf("got accepted=%d denied=%d", accepted, denied)
	}
}
