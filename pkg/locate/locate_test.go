package locate

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/Fluorescing/M2LE-Pipeline/internal/models"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/config"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/stack"
)

// testConfig returns defaults with the saturation matched to the test
// stack's max value, so raw units equal photons.
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Detection.Saturation = 1000.0
	return cfg
}

func testModel(cfg *config.Config) *Model {
	return &Model{
		Wavenumber:  cfg.Wavenumber(),
		PixelSize:   cfg.Detection.PixelSize,
		UsablePixel: cfg.MLE.UsablePixel / 100.0,
	}
}

// diffractionWidth is the fixed PSF width in pixels for the given optics.
func diffractionWidth(m *Model) float64 {
	return fixedWidthConstant / (m.PixelSize * m.Wavenumber)
}

// emitterStack builds a single 21x21 frame whose pixel values follow the
// separable pixel-integrated Gaussian model exactly: a product of per-axis
// erf-difference profiles on a uniform background. centerX and centerY are
// in pixels.
func emitterStack(t *testing.T, m *Model, centerX, centerY, amplitude, background float64) *stack.Stack {
	t.Helper()

	w := diffractionWidth(m)
	px := &Parameters{Position: centerX * m.PixelSize, Width: w}
	py := &Parameters{Position: centerY * m.PixelSize, Width: w}
	peakX := m.PartialExpected(px.Position, px, 1.0)
	peakY := m.PartialExpected(py.Position, py, 1.0)

	frame := stack.NewFrame(21, 21)
	for y := 0; y < 21; y++ {
		for x := 0; x < 21; x++ {
			sx := m.PartialExpected((float64(x)+0.5)*m.PixelSize, px, 1.0) / peakX
			sy := m.PartialExpected((float64(y)+0.5)*m.PixelSize, py, 1.0) / peakY
			frame.Set(x, y, background+amplitude*sx*sy)
		}
	}

	s, err := stack.New([]*stack.Frame{frame}, 1000.0)
	if err != nil {
		t.Fatalf("Failed to build test stack: %v", err)
	}
	return s
}

// TestSignalArrayPositions verifies the physical element positions
func TestSignalArrayPositions(t *testing.T) {
	s := NewSignalArray(5, 110.0)

	if s.Size() != 5 {
		t.Fatalf("Expected size 5, got %d", s.Size())
	}
	for i, want := range []float64{55.0, 165.0, 275.0, 385.0, 495.0} {
		if got := s.Position(i); math.Abs(got-want) > 1e-9 {
			t.Errorf("Expected position %f at element %d, got %f", want, i, got)
		}
	}
}

// TestSignalArrayAccumulate verifies accumulation and the extrema
func TestSignalArrayAccumulate(t *testing.T) {
	s := NewSignalArray(3, 1.0)
	s.Accumulate(0, 2.0)
	s.Accumulate(1, 3.0)
	s.Accumulate(1, 4.0)
	s.Accumulate(2, 1.0)

	if got := s.Get(1); got != 7.0 {
		t.Errorf("Expected accumulated value 7, got %f", got)
	}
	if s.Min() != 1.0 || s.Max() != 7.0 {
		t.Errorf("Expected extrema (1, 7), got (%f, %f)", s.Min(), s.Max())
	}
}

// TestWeightedCenterSymmetric verifies the weighted center of a symmetric
// signal above background
func TestWeightedCenterSymmetric(t *testing.T) {
	s := NewSignalArray(5, 1.0)
	for i, v := range []float64{1.0, 3.0, 9.0, 3.0, 1.0} {
		s.Accumulate(i, v)
	}

	if got := s.WeightedCenter(1.0); math.Abs(got-2.5) > 1e-12 {
		t.Errorf("Expected weighted center 2.5, got %f", got)
	}
}

// TestInitialParameters verifies the starting values derived from the
// projected signal
func TestInitialParameters(t *testing.T) {
	cfg := testConfig()
	m := testModel(cfg)

	s := NewSignalArray(7, m.PixelSize)
	for i, v := range []float64{35.0, 42.0, 80.0, 150.0, 80.0, 42.0, 35.0} {
		s.Accumulate(i, v)
	}

	p := InitialParameters(s, 7, 0.0, m, true)

	if math.Abs(p.Background-5.0) > 1e-12 {
		t.Errorf("Expected background 5 (min/length), got %f", p.Background)
	}
	if want := diffractionWidth(m); math.Abs(p.Width-want) > 1e-12 {
		t.Errorf("Expected fixed width %f, got %f", want, p.Width)
	}
	if p.Intensity <= 0.0 {
		t.Errorf("Expected positive initial intensity, got %f", p.Intensity)
	}
	// the symmetric signal centers on the middle element
	if got := s.Position(3); math.Abs(p.Position-got) > 1e-9 {
		t.Errorf("Expected initial position %f, got %f", got, p.Position)
	}
}

// TestParametersInvalid verifies the divergence checks
func TestParametersInvalid(t *testing.T) {
	valid := &Parameters{Position: 100.0, Intensity: 10.0, Background: 1.0, Width: 1.8}
	if valid.Invalid() {
		t.Error("Expected valid parameters to pass")
	}

	cases := []Parameters{
		{Position: math.NaN(), Intensity: 10, Background: 1, Width: 1.8},
		{Position: math.Inf(1), Intensity: 10, Background: 1, Width: 1.8},
		{Position: 100, Intensity: -1, Background: 1, Width: 1.8},
		{Position: 100, Intensity: 10, Background: -0.5, Width: 1.8},
		{Position: 100, Intensity: 10, Background: 1, Width: -1.8},
	}
	for i, p := range cases {
		if !p.Invalid() {
			t.Errorf("Expected case %d to be invalid", i)
		}
	}
}

// TestFixedWidthHeld verifies that Update never moves a fixed width
func TestFixedWidthHeld(t *testing.T) {
	original := &Parameters{Position: 100, Intensity: 10, Background: 1, Width: 1.8, fixedWidth: true}
	delta := &Parameters{Position: 1, Intensity: 1, Background: 0.1, Width: 0.5}

	trial := &Parameters{}
	trial.Update(original, delta, 1.0)

	if trial.Width != 1.8 {
		t.Errorf("Expected fixed width to stay 1.8, got %f", trial.Width)
	}
	if math.Abs(trial.Position-99.0) > 1e-12 {
		t.Errorf("Expected position 99 after update, got %f", trial.Position)
	}
}

// TestNewtonRaphsonAtOptimum verifies that the proposed step vanishes when
// the signal is generated by the model itself
func TestNewtonRaphsonAtOptimum(t *testing.T) {
	cfg := testConfig()
	m := testModel(cfg)

	p := &Parameters{
		Position:   385.0,
		Intensity:  20.0,
		Background: 5.0,
		Width:      diffractionWidth(m),
	}
	length := 7.0

	signal := NewSignalArray(7, m.PixelSize)
	for n := 0; n < 7; n++ {
		signal.Accumulate(n, m.FullExpected(signal.Position(n), p, length))
	}

	delta := &Parameters{}
	m.NewtonRaphson(signal, p, length, delta)

	if math.Abs(delta.Position) > 1e-6 {
		t.Errorf("Expected vanishing position step at the optimum, got %g", delta.Position)
	}
	if math.Abs(delta.Intensity) > 1e-6 {
		t.Errorf("Expected vanishing intensity step at the optimum, got %g", delta.Intensity)
	}
	if math.Abs(delta.Background) > 1e-6 {
		t.Errorf("Expected vanishing background step at the optimum, got %g", delta.Background)
	}
}

// TestLogLikelihoodPeaksAtTruth verifies that perturbing the position away
// from the generating parameters lowers the likelihood
func TestLogLikelihoodPeaksAtTruth(t *testing.T) {
	cfg := testConfig()
	m := testModel(cfg)

	truth := &Parameters{
		Position:   385.0,
		Intensity:  20.0,
		Background: 5.0,
		Width:      diffractionWidth(m),
	}
	length := 7.0

	signal := NewSignalArray(7, m.PixelSize)
	for n := 0; n < 7; n++ {
		signal.Accumulate(n, m.FullExpected(signal.Position(n), truth, length))
	}

	best := m.LogLikelihood(signal, truth, length)

	shifted := &Parameters{}
	shifted.Set(truth)
	shifted.Position += 30.0

	if m.LogLikelihood(signal, shifted, length) >= best {
		t.Error("Expected the likelihood to peak at the generating position")
	}
}

// TestLocalizerRecoversPosition verifies a full fit on a model-consistent
// emitter off the pixel center
func TestLocalizerRecoversPosition(t *testing.T) {
	cfg := testConfig()
	m := testModel(cfg)
	s := emitterStack(t, m, 10.3, 10.7, 400.0, 5.0)

	l := NewLocalizer(s, cfg)
	e := models.NewEstimate(10, 10, 0)

	if !l.Check(e) {
		t.Fatal("Expected the fit to succeed")
	}

	if math.Abs(e.X-10.3) > 0.1 {
		t.Errorf("Expected x near 10.3 px, got %f", e.X)
	}
	if math.Abs(e.Y-10.7) > 0.1 {
		t.Errorf("Expected y near 10.7 px, got %f", e.Y)
	}
	if want := diffractionWidth(m); e.WidthX != want || e.WidthY != want {
		t.Errorf("Expected fixed widths %f, got (%f, %f)", want, e.WidthX, e.WidthY)
	}
	if e.IntensityX <= 0.0 || e.IntensityY <= 0.0 {
		t.Errorf("Expected positive intensities, got (%f, %f)", e.IntensityX, e.IntensityY)
	}
	if e.BackgroundX < 1.0 || e.BackgroundX > 20.0 {
		t.Errorf("Expected background near the generating level, got %f", e.BackgroundX)
	}
}

// TestLocalizerPoissonNoise verifies the fit on shot-noise-corrupted data:
// the recovered position must stay well inside one pixel of the truth
func TestLocalizerPoissonNoise(t *testing.T) {
	cfg := testConfig()
	m := testModel(cfg)
	s := emitterStack(t, m, 10.3, 10.7, 400.0, 5.0)

	// replace every pixel with a Poisson draw at its expected value
	src := rand.NewSource(7)
	frame := s.Frame(0)
	for y := 0; y < 21; y++ {
		for x := 0; x < 21; x++ {
			draw := distuv.Poisson{Lambda: frame.At(x, y), Src: src}
			frame.Set(x, y, draw.Rand())
		}
	}

	l := NewLocalizer(s, cfg)
	e := models.NewEstimate(10, 10, 0)

	if !l.Check(e) {
		t.Fatal("Expected the fit to succeed on noisy data")
	}
	if math.Abs(e.X-10.3) > 0.3 {
		t.Errorf("Expected x within 0.3 px of 10.3, got %f", e.X)
	}
	if math.Abs(e.Y-10.7) > 0.3 {
		t.Errorf("Expected y within 0.3 px of 10.7, got %f", e.Y)
	}
}

// TestLocalizerRejectsSmallWindow verifies that candidates whose window is
// clipped below four pixels are rejected
func TestLocalizerRejectsSmallWindow(t *testing.T) {
	cfg := testConfig()

	frame := stack.NewFrame(3, 8)
	s, err := stack.New([]*stack.Frame{frame}, 1000.0)
	if err != nil {
		t.Fatalf("Failed to build test stack: %v", err)
	}

	l := NewLocalizer(s, cfg)
	e := models.NewEstimate(1, 4, 0)

	if l.Check(e) {
		t.Fatal("Expected a clipped window to be rejected")
	}
	if e.Passed() {
		t.Error("Expected the estimate to carry the rejected flag")
	}
}
