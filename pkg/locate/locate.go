package locate

import (
	"math"

	"github.com/Fluorescing/M2LE-Pipeline/internal/models"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/config"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/noise"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/stack"
)

// Localizer fits a sub-pixel position for each surviving candidate by
// separable per-axis maximum likelihood estimation.
type Localizer struct {
	stack *stack.Stack
	cfg   *config.Config
	model *Model
	scale float64
}

// NewLocalizer builds the localizer for a stack.
func NewLocalizer(s *stack.Stack, cfg *config.Config) *Localizer {
	return &Localizer{
		stack: s,
		cfg:   cfg,
		model: &Model{
			Wavenumber:  cfg.Wavenumber(),
			PixelSize:   cfg.Detection.PixelSize,
			UsablePixel: cfg.MLE.UsablePixel / 100.0,
		},
		scale: s.PhotonScale(cfg.Detection.Saturation),
	}
}

// Check fits the candidate's window and records the result on the
// estimate. It reports false, after marking the estimate rejected, when
// the window is too small, the fit diverges, or a fitted parameter falls
// outside its accepted bounds.
func (l *Localizer) Check(e *models.Estimate) bool {
	frame := l.stack.Frame(e.Slice)
	pixelSize := l.cfg.Detection.PixelSize

	left, right, top, bottom := noise.Window(frame, e.Column, e.Row)
	width := right - left
	height := bottom - top

	// not enough pixels at the image border to constrain the fit
	if width < 4 || height < 4 {
		e.Reject()
		return false
	}

	// project the window onto the two axes
	xsignal := NewSignalArray(width, pixelSize)
	ysignal := NewSignalArray(height, pixelSize)
	for x := left; x < right; x++ {
		for y := top; y < bottom; y++ {
			s := frame.At(x, y) / l.scale
			xsignal.Accumulate(x-left, s)
			ysignal.Accumulate(y-top, s)
		}
	}

	axisWidth := e.MajorAxis + e.MinorAxis
	fixWidth := l.cfg.MLE.FixWidth

	xparam := InitialParameters(xsignal, height, axisWidth, l.model, fixWidth)
	yparam := InitialParameters(ysignal, width, axisWidth, l.model, fixWidth)

	initialNoise := (xparam.Background + yparam.Background) / 2.0

	xlikelihood := l.model.LogLikelihood(xsignal, xparam, float64(height))
	ylikelihood := l.model.LogLikelihood(ysignal, yparam, float64(width))

	delta := &Parameters{}

	// the axes converge independently
	xdone := false
	ydone := false
	for iter := 0; iter < l.cfg.MLE.MaxIterations; iter++ {
		if !xdone {
			xdone = l.iterate(xsignal, xparam, delta, &xlikelihood, float64(height), initialNoise)
		}
		if !ydone {
			ydone = l.iterate(ysignal, yparam, delta, &ylikelihood, float64(width), initialNoise)
		}
		if xdone && ydone {
			break
		}
	}

	if xparam.Invalid() || yparam.Invalid() {
		e.Reject()
		return false
	}

	// the fitted position must stay inside the window
	if xparam.Position < 0.0 || xparam.Position > pixelSize*float64(width) ||
		yparam.Position < 0.0 || yparam.Position > pixelSize*float64(height) {
		e.Reject()
		return false
	}

	if xparam.Width < l.cfg.MLE.MinWidth || xparam.Width > l.cfg.MLE.MaxWidth ||
		yparam.Width < l.cfg.MLE.MinWidth || yparam.Width > l.cfg.MLE.MaxWidth {
		e.Reject()
		return false
	}

	// record in absolute frame coordinates
	e.X = xparam.Position/pixelSize + float64(left)
	e.Y = yparam.Position/pixelSize + float64(top)
	e.IntensityX = xparam.Intensity
	e.IntensityY = yparam.Intensity
	e.BackgroundX = xparam.Background
	e.BackgroundY = yparam.Background
	e.WidthX = xparam.Width
	e.WidthY = yparam.Width

	return true
}

// iterate performs one damped Newton-Raphson step for one axis and reports
// whether the axis has converged. The proposed step is applied with a
// halving coefficient until the log-likelihood strictly improves, for at
// most ten attempts; the background is clamped into its bounds on every
// trial.
func (l *Localizer) iterate(
	signal *SignalArray,
	p *Parameters,
	delta *Parameters,
	likelihood *float64,
	length float64,
	initialNoise float64,
) bool {

	posEpsilon := l.cfg.MLE.PosEpsilon
	intEpsilon := l.cfg.MLE.IntEpsilon / 100.0
	widEpsilon := l.cfg.MLE.WidEpsilon

	minNoise := l.cfg.MLE.MinNoiseBound
	maxNoise := l.cfg.MLE.MaxNoiseMultiplier * initialNoise

	l.model.NewtonRaphson(signal, p, length, delta)

	// Newton-Raphson tends to overshoot; back off until the likelihood
	// actually improves.
	coefficient := 1.0
	trial := &Parameters{}
	for k := 0; k < 10; k++ {
		trial.Update(p, delta, coefficient)

		if trial.Background < minNoise {
			trial.Background = minNoise
		} else if trial.Background > maxNoise {
			trial.Background = maxNoise
		}

		newLikelihood := l.model.LogLikelihood(signal, trial, length)
		if newLikelihood > *likelihood {
			*likelihood = newLikelihood
			break
		}
		coefficient /= 2.0
	}

	done := false
	switch {
	case math.Abs(delta.Position) < posEpsilon:
		done = true
	case percentDifference(p.Intensity, trial.Intensity) < intEpsilon:
		done = true
	case math.Abs(delta.Width) < widEpsilon:
		done = true
	}

	if !done {
		p.Set(trial)
	}
	return done
}
