package model

import "testing"

func TestManhattanDistance(t *testing.T) {
	cases := []struct {
		a, b Position
		want int
	}{
		{Position{0, 0}, Position{0, 0}, 0},
		{Position{1, 1}, Position{4, 5}, 7},
		{Position{4, 5}, Position{1, 1}, 7},
		{Position{-2, 3}, Position{2, -3}, 10},
	}
	for _, tc := range cases {
		if got := tc.a.ManhattanDistance(tc.b); got != tc.want {
			t.Fatalf("%v to %v: got %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestGridClamp(t *testing.T) {
	g := Grid{N: 50, M: 50}
	cases := []struct {
		in, want Position
	}{
		{Position{10, 10}, Position{10, 10}},
		{Position{55, -3}, Position{50, 0}},
		{Position{-1, 60}, Position{0, 50}},
		{Position{0, 50}, Position{0, 50}},
	}
	for _, tc := range cases {
		if got := g.Clamp(tc.in); got != tc.want {
			t.Fatalf("clamp %v: got %v, want %v", tc.in, got, tc.want)
		}
	}
	if !g.Contains(Position{50, 50}) || g.Contains(Position{51, 0}) {
		t.Fatalf("contains boundary check failed")
	}
}

func TestPositionString(t *testing.T) {
	if got := (Position{3, 7}).String(); got != "(3, 7)" {
		t.Fatalf("got %q", got)
	}
}

func TestCurrentPos(t *testing.T) {
	taxi := Taxi{InitialPos: Position{1, 1}}
	if taxi.CurrentPos() != (Position{1, 1}) {
		t.Fatalf("empty history should fall back to the initial position")
	}
	taxi.Positions = []Position{{1, 1}, {2, 1}}
	if taxi.CurrentPos() != (Position{2, 1}) {
		t.Fatalf("got %v", taxi.CurrentPos())
	}
}

func TestShiftEnded(t *testing.T) {
	taxi := Taxi{Completed: MaxServices - 1}
	if taxi.ShiftEnded() {
		t.Fatalf("shift ended below the cap")
	}
	taxi.Completed = MaxServices
	if !taxi.ShiftEnded() {
		t.Fatalf("shift not ended at the cap")
	}
}
