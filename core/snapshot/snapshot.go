// Package snapshot serializes the dispatch state, both as an operator
// report and as a field-keyed artifact the standby instance can reload.
package snapshot

import (
	"encoding/json"
	"time"

	"github.com/easycab/dispatch/core/model"
	"github.com/easycab/dispatch/core/registry"
)

// TaxiState is the serialized form of one taxi record.
type TaxiState struct {
	ID         int                `json:"id"`
	InitialPos model.Position     `json:"initial_pos"`
	Positions  []model.Position   `json:"positions"`
	Completed  int                `json:"completed_services"`
	Services   []model.Assignment `json:"assigned_services"`
	Available  bool               `json:"available"`
	Assigned   *model.Assignment  `json:"pending_service,omitempty"`
}

// State is a full snapshot of registry and counters. Seq increases with
// every snapshot the primary takes, so the standby can discard stale ones.
type State struct {
	Seq              int64       `json:"seq"`
	SavedAt          time.Time   `json:"saved_at"`
	Taxis            []TaxiState `json:"taxis"`
	AcceptedServices int64       `json:"accepted_services"`
	DeniedRequests   int64       `json:"denied_requests"`
}

// Capture copies the current registry and counter state.
func Capture(reg *registry.Registry, counters *registry.Counters, seq int64) State {
	taxis := reg.View()
	st := State{Seq: seq, SavedAt: time.Now().UTC(), Taxis: make([]TaxiState, 0, len(taxis))}
	for i := range taxis {
		t := &taxis[i]
		st.Taxis = append(st.Taxis, TaxiState{
			ID:         t.ID,
			InitialPos: t.InitialPos,
			Positions:  t.Positions,
			Completed:  t.Completed,
			Services:   t.Services,
			Available:  t.Available,
			Assigned:   t.Assigned,
		})
	}
	st.AcceptedServices, st.DeniedRequests = counters.Totals()
	return st
}

// Restore replaces the registry and counter contents with the snapshot.
func Restore(st State, reg *registry.Registry, counters *registry.Counters) {
	taxis := make([]model.Taxi, 0, len(st.Taxis))
	for i := range st.Taxis {
		s := &st.Taxis[i]
		taxis = append(taxis, model.Taxi{
			ID:         s.ID,
			InitialPos: s.InitialPos,
			Positions:  s.Positions,
			Completed:  s.Completed,
			Services:   s.Services,
			Available:  s.Available,
			Assigned:   s.Assigned,
		})
	}
	reg.Replace(taxis)
	counters.Set(st.AcceptedServices, st.DeniedRequests)
}

// Encode renders the snapshot as indented JSON.
func (s State) Encode() ([]byte, error) {
	return json.MarshalIndent(s, "", "    ")
}

// Decode parses a snapshot produced by Encode.
func Decode(data []byte) (State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, err
	}
	return st, nil
}
