package dedup

import (
	"testing"

	"github.com/Fluorescing/M2LE-Pipeline/internal/models"
)

// fitted builds an estimate with a fitted position, as the localization
// stage would leave it.
func fitted(column, row, slice int, x, y float64) *models.Estimate {
	e := models.NewEstimate(column, row, slice)
	e.X = x
	e.Y = y
	return e
}

// TestCloserCandidateWins verifies that the candidate whose fitted
// position is closest to its own pixel center survives a conflict
func TestCloserCandidateWins(t *testing.T) {
	d := New(64, 64)

	// both candidates claim the same emitter near (10.6, 10.5)
	a := fitted(10, 10, 0, 10.6, 10.5) // distance 0.1 from its center
	b := fitted(12, 10, 0, 10.6, 10.5) // distance 1.9 from its center

	d.FirstPass(a)
	d.FirstPass(b)

	if !d.SecondPass(a) {
		t.Error("Expected the closer candidate to survive")
	}
	if d.SecondPass(b) {
		t.Error("Expected the farther candidate to be rejected")
	}
}

// TestRetroactiveRejection verifies that an already-forwarded candidate is
// rejected when a closer one arrives later, and that the second pass
// observes the final flag
func TestRetroactiveRejection(t *testing.T) {
	d := New(64, 64)

	a := fitted(10, 10, 0, 10.9, 10.5) // distance 0.4
	b := fitted(12, 10, 0, 12.6, 10.5) // distance 0.1

	d.FirstPass(a)
	if !a.Passed() {
		t.Fatal("Expected the first candidate to be unrejected after its own pass")
	}

	d.FirstPass(b)

	if d.SecondPass(a) {
		t.Error("Expected the earlier candidate to be rejected retroactively")
	}
	if !d.SecondPass(b) {
		t.Error("Expected the later, closer candidate to survive")
	}
}

// TestGridResetPerFrame verifies that candidates at the same coordinate in
// different frames never conflict
func TestGridResetPerFrame(t *testing.T) {
	d := New(64, 64)

	a := fitted(10, 10, 0, 10.5, 10.5)
	b := fitted(10, 10, 1, 10.5, 10.5)

	d.FirstPass(a)
	d.FirstPass(b)

	if !d.SecondPass(a) || !d.SecondPass(b) {
		t.Error("Expected candidates in different frames to both survive")
	}
}

// TestDistantCandidatesCoexist verifies that candidates with disjoint
// footprints never conflict
func TestDistantCandidatesCoexist(t *testing.T) {
	d := New(64, 64)

	a := fitted(10, 10, 0, 10.5, 10.5)
	b := fitted(40, 40, 0, 40.5, 40.5)

	d.FirstPass(a)
	d.FirstPass(b)

	if !d.SecondPass(a) || !d.SecondPass(b) {
		t.Error("Expected distant candidates to both survive")
	}
}

// TestLoserFootprintCleared verifies that a displaced candidate's claims
// are removed, so a third candidate is judged against the winner only
func TestLoserFootprintCleared(t *testing.T) {
	d := New(64, 64)

	// a holds the region first, then b displaces it
	a := fitted(10, 10, 0, 11.0, 10.5) // distance 0.5
	b := fitted(11, 10, 0, 11.6, 10.5) // distance 0.1
	c := fitted(13, 10, 0, 13.7, 10.5) // distance 0.2

	d.FirstPass(a)
	d.FirstPass(b)
	d.FirstPass(c)

	if d.SecondPass(a) {
		t.Error("Expected the displaced candidate to be rejected")
	}
	if !d.SecondPass(b) {
		t.Error("Expected the displacing candidate to survive")
	}
	if d.SecondPass(c) {
		t.Error("Expected the third candidate to lose against the winner")
	}
}

// TestFootprintClipping verifies that candidates at the frame corner stamp
// without going out of bounds
func TestFootprintClipping(t *testing.T) {
	d := New(16, 16)

	a := fitted(0, 0, 0, 0.5, 0.5)
	b := fitted(15, 15, 0, 15.5, 15.5)

	d.FirstPass(a)
	d.FirstPass(b)

	if !d.SecondPass(a) || !d.SecondPass(b) {
		t.Error("Expected corner candidates to survive")
	}
}
