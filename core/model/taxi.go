package model

import "fmt"

// MaxServices is the number of rides a taxi may complete before its shift
// ends. Once reached, the taxi can never be matched or re-registered.
const MaxServices = 3

// Position is a cell on the dispatch grid.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Position) String() string { return fmt.Sprintf("(%d, %d)", p.X, p.Y) }

// ManhattanDistance returns |p.X-o.X| + |p.Y-o.Y|.
func (p Position) ManhattanDistance(o Position) int {
	return abs(p.X-o.X) + abs(p.Y-o.Y)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Grid bounds positions to [0,N]x[0,M].
type Grid struct {
	N int `json:"n"`
	M int `json:"m"`
}

// Contains reports whether the position lies inside the grid.
func (g Grid) Contains(p Position) bool {
	return p.X >= 0 && p.X <= g.N && p.Y >= 0 && p.Y <= g.M
}

// Clamp forces the position inside the grid bounds. Out-of-range reports
// are adjusted, never rejected.
func (g Grid) Clamp(p Position) Position {
	if p.X < 0 {
		p.X = 0
	}
	if p.X > g.N {
		p.X = g.N
	}
	if p.Y < 0 {
		p.Y = 0
	}
	if p.Y > g.M {
		p.Y = g.M
	}
	return p
}

// Assignment records one taxi-to-rider service: where the taxi stood when
// it was reserved and where the rider is waiting.
type Assignment struct {
	RiderID  int      `json:"rider_id"`
	TaxiPos  Position `json:"taxi_pos"`
	RiderPos Position `json:"rider_pos"`
}

// Taxi is the dispatch server's view of one taxi. A record is created on
// the taxi's first position report and is never deleted.
type Taxi struct {
	ID         int
	InitialPos Position
	Positions  []Position // append-only history, Positions[len-1] is current
	Completed  int        // completed services, capped at MaxServices
	Available  bool
	Assigned   *Assignment  // pending service, nil when idle
	Services   []Assignment // every service ever reserved, for the report
}

// CurrentPos returns the last reported position.
func (t *Taxi) CurrentPos() Position {
	if len(t.Positions) == 0 {
		return t.InitialPos
	}
	return t.Positions[len(t.Positions)-1]
}

// ShiftEnded reports whether the taxi has exhausted its service quota.
func (t *Taxi) ShiftEnded() bool { return t.Completed >= MaxServices }
