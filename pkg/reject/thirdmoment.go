package reject

import (
	"math"

	"golang.org/x/exp/rand"

	"github.com/Fluorescing/M2LE-Pipeline/internal/models"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/config"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/noise"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/stack"
)

// Hermite normalization factors 1/sqrt(2^(m+n) m! n!) for the m+n=3 modes.
const (
	hermite30 = 0.14433756729740644 // m=3, n=0
	hermite21 = 0.25                // m=2, n=1
)

// mcSamples is the number of Monte-Carlo center jitters averaged per test.
const mcSamples = 5

// ThirdMomentRejector rejects fitted candidates whose third-order moment
// statistics are inconsistent with a single emitter. The moments are
// estimated by a small Monte-Carlo average over jittered window centers.
type ThirdMomentRejector struct {
	stack    *stack.Stack
	cfg      *config.Config
	scale    float64
	disabled bool
	rng      *rand.Rand
}

// NewThirdMomentRejector builds the rejector. The random source drives the
// Monte-Carlo jitter; pass a seeded source for reproducible runs.
func NewThirdMomentRejector(s *stack.Stack, cfg *config.Config, rng *rand.Rand) *ThirdMomentRejector {
	return &ThirdMomentRejector{
		stack:    s,
		cfg:      cfg,
		scale:    s.PhotonScale(cfg.Detection.Saturation),
		disabled: cfg.Rejection.ThirdDisabled,
		rng:      rng,
	}
}

// Check computes the normalized third-moment statistics of the fitted
// candidate, stores them, and reports whether the candidate should
// advance. In disabled mode the statistics are stored but every candidate
// passes.
func (r *ThirdMomentRejector) Check(e *models.Estimate) bool {
	frame := r.stack.Frame(e.Slice)
	left, right, top, bottom := noise.Window(frame, e.Column, e.Row)

	// Effective wavelength in pixel units and the mean fitted PSF width.
	effWavelength := r.cfg.MLE.Wavelength /
		(r.cfg.Detection.PixelSize * r.cfg.MLE.NumericalAperture)
	width := (e.WidthX + e.WidthY) / 2.0

	bg := noise.EstimateLocal(frame, e.Column, e.Row, r.scale)
	photons := PhotonCount(frame, left, right, top, bottom, bg, r.scale)
	threshold := thirdThreshold(photons, r.cfg.Rejection.ThirdAcceptance*100.0)

	sum, diff := r.monteCarloThirdMoments(frame, e.X, e.Y, left, right, top, bottom,
		bg, effWavelength, width)

	thirdSum := sum / thirdMomentSumScaling(photons)
	thirdDiff := diff / thirdMomentDiffScaling(photons)
	e.ThirdMomentSum = thirdSum
	e.ThirdMomentDiff = thirdDiff

	if thirdDiff*thirdDiff+thirdSum*thirdSum >= threshold {
		e.Reject()
	}

	if e.Passed() || r.disabled {
		e.Unreject()
		return true
	}
	return false
}

// monteCarloThirdMoments integrates the four m+n=3 Gauss-Hermite modes over
// the window, weighted by a Gaussian mask centered at a jittered centroid,
// and averages over mcSamples jitters. It returns the two rotation
// invariant combinations (sum, diff) of the modes.
func (r *ThirdMomentRejector) monteCarloThirdMoments(
	frame *stack.Frame,
	cx, cy float64,
	left, right, top, bottom int,
	bg, wavelength, width float64,
) (sum, diff float64) {

	alpha := math.Sqrt(8.0) * math.Pi / (wavelength * width)
	beta := math.Sqrt(8.0*math.Pi) / (wavelength * width)

	var mode30, mode21, mode12, mode03 float64

	for i := 0; i < mcSamples; i++ {

		// vary the center from which the moments are measured
		dx := (r.rng.Float64() - 0.5) / 2.0
		dy := (r.rng.Float64() - 0.5) / 2.0

		for x := left; x < right; x++ {
			for y := top; y < bottom; y++ {

				s := frame.At(x, y)/r.scale - bg

				x0 := (float64(x) + 0.5 - cx + dx) * alpha
				y0 := (float64(y) + 0.5 - cy + dy) * alpha

				mask := math.Exp(-(x0*x0 + y0*y0) / 2.0)

				mode30 += s * beta * hermite30 * (x0 * (8.0*x0*x0 - 12.0)) * mask
				mode21 += s * beta * hermite21 * (2.0 * y0) * (4.0*x0*x0 - 2.0) * mask
				mode12 += s * beta * hermite21 * (2.0 * x0) * (4.0*y0*y0 - 2.0) * mask
				mode03 += s * beta * hermite30 * (y0 * (8.0*y0*y0 - 12.0)) * mask
			}
		}
	}

	mode30 /= mcSamples
	mode21 /= mcSamples
	mode12 /= mcSamples
	mode03 /= mcSamples

	sum = (mode30+mode12)*(mode30+mode12) + (mode03+mode21)*(mode03+mode21)
	diff = (3.0*mode12-mode30)*(3.0*mode12-mode30) + (mode03-3.0*mode21)*(mode03-3.0*mode21)
	return
}
