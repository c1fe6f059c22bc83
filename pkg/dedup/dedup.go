// Package dedup removes duplicate detections of the same physical emitter.
//
// Duplicate removal is a two-pass protocol per lane. The first pass tracks
// candidate footprints on a per-frame grid and resolves conflicts by
// keeping the candidate whose fitted position is closest to its window
// center; the loser's reject flag is set even if the record was already
// forwarded. The second pass, which runs only after the first pass has
// finished the whole lane, commits the outcome by filtering on the final
// value of the flag. Late rejection is therefore an explicit state
// transition observed at the second pass, not hidden aliasing.
package dedup

import (
	"github.com/Fluorescing/M2LE-Pipeline/internal/models"
)

// Deduplicator resolves spatial conflicts among the candidates of one
// lane. A lane only ever carries whole frames, so conflicts never span
// lanes.
type Deduplicator struct {
	width  int
	height int

	grid  []*models.Estimate
	slice int
}

// New creates a deduplicator for frames of the given dimensions.
func New(width, height int) *Deduplicator {
	return &Deduplicator{
		width:  width,
		height: height,
		grid:   make([]*models.Estimate, width*height),
		slice:  -1,
	}
}

// FirstPass resolves the incoming candidate against the footprint grid and
// stamps its own footprint. The candidate is always forwarded (the caller
// passes it downstream regardless of the return value); a later conflict
// may still flip its reject flag before the second pass observes it.
func (d *Deduplicator) FirstPass(e *models.Estimate) {
	// reset the grid whenever a new frame starts
	if e.Slice != d.slice {
		d.slice = e.Slice
		for i := range d.grid {
			d.grid[i] = nil
		}
	}

	// conflict with the current holder of this pixel?
	if holder := d.grid[e.Row*d.width+e.Column]; holder != nil {
		if holder.DistanceFromCenter() < e.DistanceFromCenter() {
			e.Reject()
		} else {
			holder.Reject()
			d.clearFootprint(holder)
		}
	}

	d.stampFootprint(e)
}

// SecondPass reports whether the record survived every conflict of the
// first pass. It must only run after FirstPass has seen the whole lane.
func (d *Deduplicator) SecondPass(e *models.Estimate) bool {
	return e.Passed()
}

// clearFootprint removes a losing candidate's claims from the grid.
func (d *Deduplicator) clearFootprint(e *models.Estimate) {
	left, right, top, bottom := d.footprint(e)
	for x := left; x < right; x++ {
		for y := top; y < bottom; y++ {
			if d.grid[y*d.width+x] == e {
				d.grid[y*d.width+x] = nil
			}
		}
	}
}

// stampFootprint claims the candidate's 7x7 footprint wherever the cell is
// empty or held by a farther competitor.
func (d *Deduplicator) stampFootprint(e *models.Estimate) {
	left, right, top, bottom := d.footprint(e)
	for x := left; x < right; x++ {
		for y := top; y < bottom; y++ {
			holder := d.grid[y*d.width+x]
			if holder == nil || e.DistanceFromCenter() < holder.DistanceFromCenter() {
				d.grid[y*d.width+x] = e
			}
		}
	}
}

// footprint is the 7x7 region around the candidate's discrete coordinate,
// clipped to the frame.
func (d *Deduplicator) footprint(e *models.Estimate) (left, right, top, bottom int) {
	left = max(0, e.Column-3)
	right = min(d.width, e.Column+4)
	top = max(0, e.Row-3)
	bottom = min(d.height, e.Row+4)
	return
}
