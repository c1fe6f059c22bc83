package models

import (
	"math"
	"testing"
)

// TestRejectionFlag verifies the reject/unreject transitions
func TestRejectionFlag(t *testing.T) {
	e := NewEstimate(10, 12, 3)

	if !e.Passed() {
		t.Error("Expected a new estimate to be unrejected")
	}

	e.Reject()
	if e.Passed() {
		t.Error("Expected Reject to set the flag")
	}

	e.Unreject()
	if !e.Passed() {
		t.Error("Expected Unreject to clear the flag")
	}
}

// TestDistanceFromCenter verifies the distance to the candidate pixel
// center and its caching
func TestDistanceFromCenter(t *testing.T) {
	e := NewEstimate(10, 10, 0)
	e.X = 10.8
	e.Y = 10.1

	want := math.Sqrt(0.3*0.3 + 0.4*0.4)
	if got := e.DistanceFromCenter(); math.Abs(got-want) > 1e-12 {
		t.Errorf("Expected distance %f, got %f", want, got)
	}

	// the cached value survives later position changes
	e.X = 99.0
	if got := e.DistanceFromCenter(); math.Abs(got-want) > 1e-12 {
		t.Errorf("Expected cached distance %f, got %f", want, got)
	}
}

// TestSetAxes verifies the axis ordering convention
func TestSetAxes(t *testing.T) {
	e := NewEstimate(0, 0, 0)
	e.SetAxes(2.5, 1.0)

	if e.MajorAxis != 2.5 || e.MinorAxis != 1.0 {
		t.Errorf("Expected axes (2.5, 1.0), got (%f, %f)", e.MajorAxis, e.MinorAxis)
	}
}
