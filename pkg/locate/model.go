package locate

import (
	"math"
)

var sqrtPi = math.Sqrt(math.Pi)

// Model holds the optical constants of the pixel-integrated Gaussian
// emission model. The expected signal at a projection position x is
//
//	bg*L + I0*L*pi*w^2*(erf(k*(a/2+x-x0)/w) - erf(k*(-a/2+x-x0)/w))/(2k^2)
//
// where k is the optical wavenumber, a the usable pixel aperture and L the
// number of pixels summed into each projection element. The point-spread
// function is integrated exactly over the pixel aperture by the error
// function; no numerical quadrature is involved.
type Model struct {
	// Wavenumber is 2*pi*NA/lambda in 1/nm.
	Wavenumber float64

	// PixelSize in nm.
	PixelSize float64

	// UsablePixel is the usable fraction of the pixel aperture (0..1).
	UsablePixel float64
}

// aperture is the usable pixel length a.
func (m *Model) aperture() float64 {
	return m.PixelSize * m.UsablePixel
}

// PartialExpected is the expected signal at position x for a unit
// intensity and zero background.
func (m *Model) PartialExpected(x float64, p *Parameters, length float64) float64 {
	x0 := p.Position
	w := p.Width
	k := m.Wavenumber
	a := m.aperture()

	return (length * math.Pi * w * w *
		(-math.Erf((k*(-a/2.0+x-x0))/w) + math.Erf((k*(a/2.0+x-x0))/w))) /
		(2.0 * k * k)
}

// PartialExpectedArray evaluates PartialExpected at every element position
// of a projection of the given size.
func (m *Model) PartialExpectedArray(size int, p *Parameters, length float64) *SignalArray {
	expected := NewSignalArray(size, m.PixelSize)
	for n := 0; n < size; n++ {
		expected.signal[n] = m.PartialExpected(expected.Position(n), p, length)
	}
	return expected
}

// FullExpected is the expected signal at position x including intensity
// and the uniform background term.
func (m *Model) FullExpected(x float64, p *Parameters, length float64) float64 {
	return p.Background*length + p.Intensity*m.PartialExpected(x, p, length)
}

// firstDerivatives fills d with the derivatives of the expected signal
// with respect to (position, intensity, background, width) at x.
func (m *Model) firstDerivatives(x float64, p *Parameters, length float64, d *[4]float64) {
	x0 := p.Position
	i0 := p.Intensity
	w := p.Width
	l := length
	k := m.Wavenumber
	a := m.aperture()

	k2 := k * k
	w2 := w * w
	y1 := a/2.0 + x - x0
	y2 := -a/2.0 + x - x0
	y1p2 := y1 * y1
	y2p2 := y2 * y2

	d[0] = (i0 * l * math.Pi * ((2*k)/(math.Exp((k2*y2p2)/w2)*sqrtPi*w) -
		(2*k)/(math.Exp((k2*y1p2)/w2)*sqrtPi*w)) * w2) / (2.0 * k2)
	d[1] = (l * math.Pi * w2 * (-math.Erf((k*y2)/w) + math.Erf((k*y1)/w))) / (2.0 * k2)
	d[2] = l
	d[3] = (i0*l*math.Pi*w2*((2*k*y2)/(math.Exp((k2*y2p2)/w2)*sqrtPi*w2)-
		(2*k*y1)/(math.Exp((k2*y1p2)/w2)*sqrtPi*w2)))/(2.0*k2) +
		(i0 * l * math.Pi * w * (-math.Erf((k*y2)/w) + math.Erf((k*y1)/w))) / k2
}

// secondDerivatives fills d with the second derivatives of the expected
// signal at x. The expressions were generated symbolically; they are not
// meant to be human readable.
func (m *Model) secondDerivatives(x float64, p *Parameters, length float64, d *[4]float64) {
	x0 := p.Position
	i0 := p.Intensity
	w := p.Width
	l := length
	k := m.Wavenumber
	a := m.aperture()

	k2 := k * k
	k3 := k2 * k
	w2 := w * w
	w3 := w2 * w
	w5 := w2 * w3
	y1 := a/2.0 + x - x0
	y2 := -a/2.0 + x - x0
	y1p2 := y1 * y1
	y1p3 := y1 * y1p2
	y2p2 := y2 * y2
	y2p3 := y2 * y2p2

	d[0] = (i0 * l * math.Pi * w2 * ((4*k3*y2)/(math.Exp((k2*y2p2)/w2)*sqrtPi*w3) -
		(4*k3*y1)/(math.Exp((k2*y1p2)/w2)*sqrtPi*w3))) / (2.0 * k2)
	d[1] = 0
	d[2] = 0
	d[3] = (i0 * l * (4*math.Pi*w*((2*k*y2)/(math.Exp((k2*y2p2)/w2)*sqrtPi*w2)-
		(2*k*y1)/(math.Exp((k2*y1p2)/w2)*sqrtPi*w2)) +
		math.Pi*w2*((-4*k*y2)/(math.Exp((k2*y2p2)/w2)*sqrtPi*w3)+
			(4*k3*y2p3)/(math.Exp((k2*y2p2)/w2)*sqrtPi*w5)+
			(4*k*y1)/(math.Exp((k2*y1p2)/w2)*sqrtPi*w3)-
			(4*k3*y1p3)/(math.Exp((k2*y1p2)/w2)*sqrtPi*w5)) +
		2*math.Pi*(-math.Erf((k*y2)/w)+math.Erf((k*y1)/w)))) / (2.0 * k2)
}

// LogLikelihood computes the Poisson log-likelihood of the projected
// signal under the current parameters, up to the constant term.
func (m *Model) LogLikelihood(signal *SignalArray, p *Parameters, length float64) float64 {
	logLikelihood := 0.0
	for n := 0; n < signal.Size(); n++ {
		expected := m.FullExpected(signal.Position(n), p, length)
		logLikelihood += signal.Get(n)*math.Log(expected) - expected
	}
	return logLikelihood
}

// NewtonRaphson computes the proposed parameter change firstL/secondL from
// the analytic log-likelihood derivatives and stores it in delta.
func (m *Model) NewtonRaphson(signal *SignalArray, p *Parameters, length float64, delta *Parameters) {
	var firstL, secondL [4]float64
	var first, second [4]float64

	for n := 0; n < signal.Size(); n++ {
		x := signal.Position(n)
		expected := m.FullExpected(x, p, length)
		m.firstDerivatives(x, p, length, &first)
		m.secondDerivatives(x, p, length, &second)

		s := signal.Get(n)
		for i := 0; i < 4; i++ {
			firstL[i] += (s/expected - 1.0) * first[i]
			secondL[i] += (s/expected-1.0)*second[i] -
				s*first[i]*first[i]/(expected*expected)
		}
	}

	delta.Position = firstL[0] / secondL[0]
	delta.Intensity = firstL[1] / secondL[1]
	delta.Background = firstL[2] / secondL[2]
	delta.Width = firstL[3] / secondL[3]
}
