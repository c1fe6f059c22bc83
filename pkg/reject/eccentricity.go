package reject

import (
	"math"

	"github.com/Fluorescing/M2LE-Pipeline/internal/models"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/config"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/noise"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/stack"
)

// EccentricityRejector rejects candidates whose second-moment eigenvalue
// ratio is inconsistent with a single round emitter.
type EccentricityRejector struct {
	stack    *stack.Stack
	cfg      *config.Config
	scale    float64
	disabled bool
}

// NewEccentricityRejector builds the rejector for a stack.
func NewEccentricityRejector(s *stack.Stack, cfg *config.Config) *EccentricityRejector {
	return &EccentricityRejector{
		stack:    s,
		cfg:      cfg,
		scale:    s.PhotonScale(cfg.Detection.Saturation),
		disabled: cfg.Rejection.EccDisabled,
	}
}

// Check computes the shape statistics of the candidate's window, stores
// them on the estimate, and reports whether the candidate should advance.
// In disabled mode the statistics are still stored but every candidate
// passes.
func (r *EccentricityRejector) Check(e *models.Estimate) bool {
	frame := r.stack.Frame(e.Slice)
	left, right, top, bottom := noise.Window(frame, e.Column, e.Row)

	bg := noise.EstimateLocal(frame, e.Column, e.Row, r.scale)
	photons := PhotonCount(frame, left, right, top, bottom, bg, r.scale)
	threshold := eccThreshold(photons, r.cfg.Rejection.EccAcceptance*100.0)

	cx, cy := Centroid(frame, left, right, top, bottom, bg, r.scale)
	xx, yy, xy := SecondMoments(frame, cx, cy, left, right, top, bottom, bg, r.scale)
	l1, l2 := EigenValues(xx, yy, xy)

	eccentricity := math.Sqrt(1.0 - l2/l1)

	e.Eccentricity = eccentricity
	e.SetAxes(math.Sqrt(l1), math.Sqrt(l2))

	if eccentricity >= threshold {
		e.Reject()
	}

	if e.Passed() || r.disabled {
		e.Unreject()
		return true
	}
	return false
}
