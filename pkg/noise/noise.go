// Package noise estimates the background noise level of microscope frames.
//
// Two estimates are provided: a per-frame grid of tile medians used by the
// candidate detector, and a local window heuristic shared by the shape
// rejectors.
package noise

import (
	"sort"

	"github.com/Fluorescing/M2LE-Pipeline/pkg/stack"
)

// TileSize is the edge length of the square tiles the frame is divided
// into for the grid estimate.
const TileSize = 16

// Grid holds one noise level per 16x16 tile of a frame. It is computed once
// per frame and read-only afterwards.
type Grid struct {
	tilesX int
	tilesY int
	levels []float64
}

// NewGrid estimates the noise of every tile of the frame. Pixel intensities
// are scaled to photons, sorted, and the value at the midpoint index is the
// tile's estimate, floored at the configured lowest noise level.
func NewGrid(frame *stack.Frame, scale, floor float64) *Grid {
	w, h := frame.Width(), frame.Height()
	tilesX := (w + TileSize - 1) / TileSize
	tilesY := (h + TileSize - 1) / TileSize

	g := &Grid{
		tilesX: tilesX,
		tilesY: tilesY,
		levels: make([]float64, tilesX*tilesY),
	}

	values := make([]float64, 0, TileSize*TileSize)
	for cy := 0; cy < tilesY; cy++ {
		for cx := 0; cx < tilesX; cx++ {

			values = values[:0]
			for y := cy * TileSize; y < (cy+1)*TileSize && y < h; y++ {
				for x := cx * TileSize; x < (cx+1)*TileSize && x < w; x++ {
					values = append(values, frame.At(x, y)/scale)
				}
			}

			sort.Float64s(values)

			level := values[len(values)/2]
			if level < floor {
				level = floor
			}
			g.levels[cy*tilesX+cx] = level
		}
	}

	return g
}

// At returns the noise level of the tile enclosing pixel (x, y).
func (g *Grid) At(x, y int) float64 {
	return g.levels[(y/TileSize)*g.tilesX+x/TileSize]
}

// EstimateLocal estimates the background noise of the 7x7 window centered
// at (cx, cy), clipped to the frame bounds. The estimate is the minimum of
// all column averages and row averages of the window, in photons.
func EstimateLocal(frame *stack.Frame, cx, cy int, scale float64) float64 {
	left, right, top, bottom := Window(frame, cx, cy)

	estimate := -1.0

	for x := left; x < right; x++ {
		sum := 0.0
		for y := top; y < bottom; y++ {
			sum += frame.At(x, y) / scale
		}
		sum /= float64(bottom - top)
		if sum < estimate || estimate < 0.0 {
			estimate = sum
		}
	}

	for y := top; y < bottom; y++ {
		sum := 0.0
		for x := left; x < right; x++ {
			sum += frame.At(x, y) / scale
		}
		sum /= float64(right - left)
		if sum < estimate || estimate < 0.0 {
			estimate = sum
		}
	}

	return estimate
}

// Window returns the 7x7 region around (cx, cy) clipped to the frame
// bounds, as half-open coordinate ranges.
func Window(frame *stack.Frame, cx, cy int) (left, right, top, bottom int) {
	left = max(0, cx-3)
	right = min(frame.Width(), cx+4)
	top = max(0, cy-3)
	bottom = min(frame.Height(), cy+4)
	return
}
