// Package locate fits sub-pixel emitter positions by maximizing the
// Poisson log-likelihood of a separable, pixel-integrated Gaussian model,
// one axis at a time.
package locate

import (
	"gonum.org/v1/gonum/floats"
)

// SignalArray is a 1-D signal projected from the candidate window by
// summing across the orthogonal axis, with the physical position of each
// element. It is built once per axis and immutable afterwards.
type SignalArray struct {
	signal   []float64
	position []float64
}

// NewSignalArray allocates a projection of the given size. interval is the
// physical pixel size; element i sits at (i+0.5)*interval.
func NewSignalArray(size int, interval float64) *SignalArray {
	s := &SignalArray{
		signal:   make([]float64, size),
		position: make([]float64, size),
	}
	position := interval / 2.0
	for i := 0; i < size; i++ {
		s.position[i] = position
		position += interval
	}
	return s
}

// Accumulate adds a sample to element i.
func (s *SignalArray) Accumulate(i int, value float64) {
	s.signal[i] += value
}

// Get returns the signal at element i.
func (s *SignalArray) Get(i int) float64 { return s.signal[i] }

// Position returns the physical position of element i.
func (s *SignalArray) Position(i int) float64 { return s.position[i] }

// Size returns the number of elements.
func (s *SignalArray) Size() int { return len(s.signal) }

// Min returns the smallest signal value.
func (s *SignalArray) Min() float64 { return floats.Min(s.signal) }

// Max returns the largest signal value.
func (s *SignalArray) Max() float64 { return floats.Max(s.signal) }

// WeightedCenter returns the photon-weighted mean position of the signal
// above the given background level (per element).
func (s *SignalArray) WeightedCenter(background float64) float64 {
	center := 0.0
	sum := 0.0
	for i := range s.signal {
		w := s.signal[i] - background
		if w < 0 {
			w = 0
		}
		center += w * s.position[i]
		sum += w
	}
	return center / sum
}
