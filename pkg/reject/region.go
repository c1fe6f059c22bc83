// Package reject tests candidate regions against single-emitter shape
// statistics: an eccentricity test on the second-moment eigenvalues and a
// Monte-Carlo third-moment test. Both share the region statistics in this
// file.
package reject

import (
	"math"

	"github.com/Fluorescing/M2LE-Pipeline/pkg/stack"
)

// PhotonCount estimates the background-subtracted photon count of the
// window, clamping each pixel contribution at zero.
func PhotonCount(frame *stack.Frame, left, right, top, bottom int, noise, scale float64) float64 {
	sum := 0.0
	for x := left; x < right; x++ {
		for y := top; y < bottom; y++ {
			sum += math.Max(frame.At(x, y)/scale-noise, 0.0)
		}
	}
	return sum
}

// Centroid estimates the background-subtracted centroid of the window. The
// pixel at (x, y) is weighted at its center (x+0.5, y+0.5).
func Centroid(frame *stack.Frame, left, right, top, bottom int, noise, scale float64) (cx, cy float64) {
	sum := 0.0
	for x := left; x < right; x++ {
		for y := top; y < bottom; y++ {
			s := math.Max(frame.At(x, y)/scale-noise, 0.0)
			cx += s * (float64(x) + 0.5)
			cy += s * (float64(y) + 0.5)
			sum += s
		}
	}
	cx /= sum
	cy /= sum
	return
}

// SecondMoments estimates the 2x2 second-moment tensor (xx, yy, xy) of the
// window about the given centroid.
func SecondMoments(frame *stack.Frame, cx, cy float64, left, right, top, bottom int, noise, scale float64) (xx, yy, xy float64) {
	sum := 0.0
	for x := left; x < right; x++ {
		for y := top; y < bottom; y++ {
			s := math.Max(frame.At(x, y)/scale-noise, 0.0)
			px := float64(x) + 0.5
			py := float64(y) + 0.5
			xx += s * px * px
			yy += s * py * py
			xy += s * px * py
			sum += s
		}
	}
	xx = xx/sum - cx*cx
	yy = yy/sum - cy*cy
	xy = xy/sum - cx*cy
	return
}

// EigenValues solves the 2x2 symmetric tensor (xx, yy, xy) analytically.
// The first value is always the larger.
func EigenValues(xx, yy, xy float64) (l1, l2 float64) {
	trace := xx + yy
	diff := xx - yy
	spread := math.Sqrt(4.0*xy*xy + diff*diff)
	l1 = (trace + spread) / 2.0
	l2 = (trace - spread) / 2.0
	return
}

// eccThreshold is the empirical eccentricity cutoff as a function of the
// region photon count and the acceptance rate in percent. The coefficients
// were calibrated offline against simulated single emitters.
func eccThreshold(photons, acc float64) float64 {
	x0h := acc - 89.952
	x0 := 61172.0/(x0h*x0h+1307.9) - 97.515
	y0 := 2.1759e-6*math.Pow(acc, 2.2837) + 0.082876
	ah := acc - 120.7
	a := 992.92/(ah*ah-35.069) + 2.9048

	return a/math.Sqrt(photons-x0) + y0
}

// thirdThreshold is the empirical third-moment cutoff, same form as
// eccThreshold but with its own calibrated coefficients.
func thirdThreshold(photons, acc float64) float64 {
	a := 5.5801 + (-2.078e+5)/((acc-147.95)*(acc-147.95)-1909.1)
	x0 := -5135.6 + acc*(423.24+acc*(-13.961+acc*(0.22529+acc*(-0.0017943+acc*5.648e-6))))
	y0 := -0.55942 + 30822.0/((acc-183.86)*(acc-183.86)-6524.8)

	return a/math.Sqrt(photons-x0) + y0
}

// thirdMomentSumScaling normalizes the third-moment sum statistic by the
// region intensity (cubic fit, calibrated offline).
func thirdMomentSumScaling(intensity float64) float64 {
	return 10.246 + (0.1697+(1.7027e-5+9.3532e-13*intensity)*intensity)*intensity
}

// thirdMomentDiffScaling normalizes the third-moment difference statistic
// by the region intensity (cubic fit, calibrated offline).
func thirdMomentDiffScaling(intensity float64) float64 {
	return 41.227 + (0.64077+(3.6687e-6+1.7874e-12*intensity)*intensity)*intensity
}
