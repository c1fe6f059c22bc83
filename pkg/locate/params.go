package locate

import (
	"math"
)

// fixedWidthConstant / (pixelSize * wavenumber) is the diffraction-limited
// PSF width used when the width parameter is held fixed.
const fixedWidthConstant = 2.3456387388762832235657480556918

// sqrt2 scales the second-moment axis estimate into the model's width
// units.
const sqrt2 = 1.4142135623730950488016887242097

// Parameters is the model state (position, intensity, background, width)
// for one fitting axis. Two independent instances exist per candidate.
type Parameters struct {
	Position   float64
	Intensity  float64
	Background float64
	Width      float64

	fixedWidth bool
}

// InitialParameters estimates starting values from the projected signal.
// length is the number of pixels summed into each signal element (the
// window extent along the orthogonal axis). axisWidth is the mean of the
// shape test's major and minor axis, used when the width is not fixed.
func InitialParameters(signal *SignalArray, length int, axisWidth float64, m *Model, fixWidth bool) *Parameters {
	p := &Parameters{}

	// background per pixel from the darkest projection element
	p.Background = signal.Min() / float64(length)

	// photon-weighted center above background
	p.Position = signal.WeightedCenter(p.Background * float64(length))

	if fixWidth {
		p.Width = fixedWidthConstant / (m.PixelSize * m.Wavenumber)
		p.fixedWidth = true
	} else {
		p.Width = 0.5 * (axisWidth) * sqrt2 * m.PixelSize * m.Wavenumber
	}

	// intensity from the signal range against the unit-intensity model
	unit := m.PartialExpectedArray(signal.Size(), p, float64(length))
	p.Intensity = (signal.Max() - signal.Min()) / unit.Max()

	return p
}

// Update sets p to original - delta*coefficient, holding the width when it
// is fixed.
func (p *Parameters) Update(original, delta *Parameters, coefficient float64) {
	p.Position = original.Position - delta.Position*coefficient
	p.Intensity = original.Intensity - delta.Intensity*coefficient
	p.Background = original.Background - delta.Background*coefficient
	p.fixedWidth = original.fixedWidth

	if p.fixedWidth {
		p.Width = original.Width
	} else {
		p.Width = original.Width - delta.Width*coefficient
	}
}

// Set copies the values from another parameter vector.
func (p *Parameters) Set(other *Parameters) {
	p.Position = other.Position
	p.Intensity = other.Intensity
	p.Background = other.Background
	p.Width = other.Width
	p.fixedWidth = other.fixedWidth
}

// Invalid reports whether any parameter is non-finite or a physically
// impossible negative value.
func (p *Parameters) Invalid() bool {
	return math.IsInf(p.Position, 0) || math.IsNaN(p.Position) ||
		math.IsInf(p.Intensity, 0) || math.IsNaN(p.Intensity) ||
		math.IsInf(p.Background, 0) || math.IsNaN(p.Background) ||
		math.IsInf(p.Width, 0) || math.IsNaN(p.Width) ||
		p.Intensity < 0.0 || p.Background < 0.0 || p.Width < 0.0
}

// percentDifference of a and b, relative to their mean.
func percentDifference(a, b float64) float64 {
	return math.Abs(2.0 * (a - b) / (a + b))
}
