package template

import (
	"testing"
	"time"

	apperrors "github.com/wawful/spell-sustainer/internal/errors"
	"github.com/wawful/spell-sustainer/internal/game"
)

func TestConstraintsAllows(t *testing.T) {
	prev := game.Point{X: 20, Y: 0}
	c := Constraints{
		CasterPosition:   game.Point{X: 0, Y: 0},
		MaxFromCaster:    30,
		PreviousPosition: &prev,
		MaxFromPrevious:  10,
	}

	tests := []struct {
		name    string
		p       game.Point
		wantErr bool
		limit   string
	}{
		{name: "within both ranges", p: game.Point{X: 25, Y: 0}},
		{name: "at caster limit", p: game.Point{X: 30, Y: 0}},
		{name: "beyond caster range", p: game.Point{X: 20, Y: 25}, wantErr: true, limit: "caster-range"},
		{name: "moves too far from previous", p: game.Point{X: 5, Y: 0}, wantErr: true, limit: "move-range"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := c.Allows(tc.p)
			if !tc.wantErr {
				if err != nil {
					t.Fatalf("Allows(%v) = %v, want nil", tc.p, err)
				}
				return
			}
			if !apperrors.IsCode(err, apperrors.CodePlacementOutOfRange) {
				t.Fatalf("Allows(%v) = %v, want PLACEMENT_OUT_OF_RANGE", tc.p, err)
			}
			if got := apperrors.GetMetadata(err)["limit"]; got != tc.limit {
				t.Errorf("limit metadata = %q, want %q", got, tc.limit)
			}
		})
	}
}

func TestConstraintsUnbounded(t *testing.T) {
	var c Constraints
	if err := c.Allows(game.Point{X: 9999, Y: 9999}); err != nil {
		t.Fatalf("unbounded Allows = %v, want nil", err)
	}
}

func TestSessionResolvesOnce(t *testing.T) {
	m := NewManager(time.Second)

	results := make(chan Result, 2)
	m.Begin("rec-1", Constraints{MaxFromCaster: 30}, func(r Result) { results <- r })

	if !m.Pending("rec-1") {
		t.Fatal("session should be pending")
	}

	if err := m.Resolve("rec-1", game.Point{X: 10, Y: 0}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	r := <-results
	if r.TimedOut || r.Canceled {
		t.Errorf("result = %+v, want plain resolution", r)
	}
	if r.Position.X != 10 {
		t.Errorf("position = %+v", r.Position)
	}

	if m.Pending("rec-1") {
		t.Error("session still pending after resolve")
	}
	err := m.Resolve("rec-1", game.Point{X: 5, Y: 0})
	if !apperrors.IsCode(err, apperrors.CodePlacementResolved) {
		t.Errorf("second resolve = %v, want PLACEMENT_RESOLVED", err)
	}
}

func TestSessionOutOfRangeLeavesSessionOpen(t *testing.T) {
	m := NewManager(time.Second)
	m.Begin("rec-1", Constraints{MaxFromCaster: 10}, nil)

	err := m.Resolve("rec-1", game.Point{X: 50, Y: 0})
	if !apperrors.IsCode(err, apperrors.CodePlacementOutOfRange) {
		t.Fatalf("Resolve = %v, want PLACEMENT_OUT_OF_RANGE", err)
	}
	if !m.Pending("rec-1") {
		t.Error("out-of-range attempt should keep the session open")
	}
}

func TestSessionTimesOut(t *testing.T) {
	m := NewManager(30 * time.Millisecond)

	results := make(chan Result, 1)
	m.Begin("rec-1", Constraints{}, func(r Result) { results <- r })

	select {
	case r := <-results:
		if !r.TimedOut {
			t.Errorf("result = %+v, want timeout", r)
		}
	case <-time.After(time.Second):
		t.Fatal("session never timed out")
	}
	if m.Pending("rec-1") {
		t.Error("timed-out session still pending")
	}
}

func TestBeginReplacesPendingSession(t *testing.T) {
	m := NewManager(time.Second)

	first := make(chan Result, 1)
	m.Begin("rec-1", Constraints{}, func(r Result) { first <- r })
	m.Begin("rec-1", Constraints{}, nil)

	select {
	case r := <-first:
		if !r.Canceled {
			t.Errorf("first session result = %+v, want canceled", r)
		}
	case <-time.After(time.Second):
		t.Fatal("first session never canceled")
	}
	if !m.Pending("rec-1") {
		t.Error("replacement session should be pending")
	}
}
