// Package models holds the data types shared by every pipeline stage.
package models

import (
	"math"
)

// Estimate is the central record of the localization pipeline. It is born in
// the candidate detector with a discrete pixel coordinate and accumulates
// shape descriptors, the fitted sub-pixel position and the per-axis model
// parameters as it advances through the stages. Stages mutate the record in
// place; at any instant a single goroutine owns it.
//
// End of a stream is signalled by closing the channel carrying estimates,
// never by a special record.
type Estimate struct {
	// Column, Row are the discrete pixel coordinates of the candidate and,
	// together with Slice, form its identity for duplicate removal.
	Column int
	Row    int

	// Slice is the frame index in the stack (0-based).
	Slice int

	// Eccentricity, MajorAxis and MinorAxis are the second-moment shape
	// descriptors computed by the shape rejector.
	Eccentricity float64
	MajorAxis    float64
	MinorAxis    float64

	// ThirdMomentSum and ThirdMomentDiff are the rotation-invariant
	// third-moment statistics computed by the higher-moment rejector.
	ThirdMomentSum  float64
	ThirdMomentDiff float64

	// X, Y are the fitted sub-pixel positions in absolute frame
	// coordinates (pixels).
	X float64
	Y float64

	// Per-axis fitted model parameters.
	IntensityX  float64
	IntensityY  float64
	BackgroundX float64
	BackgroundY float64
	WidthX      float64
	WidthY      float64

	rejected bool

	hasDistance    bool
	centerDistance float64
}

// NewEstimate creates a candidate at the given pixel coordinate.
func NewEstimate(column, row, slice int) *Estimate {
	return &Estimate{
		Column: column,
		Row:    row,
		Slice:  slice,
	}
}

// Reject marks the estimate as rejected.
func (e *Estimate) Reject() {
	e.rejected = true
}

// Unreject clears the rejected flag. Used by rejectors running in disabled
// mode, which compute and store their statistics but let everything pass.
func (e *Estimate) Unreject() {
	e.rejected = false
}

// Passed reports whether the estimate has survived every test so far.
func (e *Estimate) Passed() bool {
	return !e.rejected
}

// SetAxes stores the major and minor axis of the fitted elliptical region.
func (e *Estimate) SetAxes(major, minor float64) {
	e.MajorAxis = major
	e.MinorAxis = minor
}

// DistanceFromCenter returns the distance from the fitted position to the
// center of the candidate pixel. The value is computed once and cached; the
// deduplicator compares it when two candidates claim the same emitter.
func (e *Estimate) DistanceFromCenter() float64 {
	if !e.hasDistance {
		dx := e.X - (float64(e.Column) + 0.5)
		dy := e.Y - (float64(e.Row) + 0.5)
		e.centerDistance = math.Sqrt(dx*dx + dy*dy)
		e.hasDistance = true
	}
	return e.centerDistance
}
