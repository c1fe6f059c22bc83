// Package detect scans every frame of a stack for pixels bright enough to
// be single-molecule candidates.
package detect

import (
	"context"

	"github.com/Fluorescing/M2LE-Pipeline/internal/models"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/config"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/noise"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/stack"
)

// margin keeps candidates far enough from the border for a full window.
const margin = 3

// Detector emits candidate pixels above a noise-scaled threshold,
// partitioned into contiguous frame-index blocks, one per worker lane.
type Detector struct {
	stack *stack.Stack
	cfg   *config.Config
	lanes int
}

// New creates a detector distributing candidates over the given number of
// lanes.
func New(s *stack.Stack, cfg *config.Config, lanes int) *Detector {
	return &Detector{stack: s, cfg: cfg, lanes: lanes}
}

// Run scans the whole stack and returns one candidate list per lane.
// Frames are scanned in order, so each lane receives a contiguous block of
// frames with candidates in scan order.
func (d *Detector) Run(ctx context.Context) ([][]*models.Estimate, error) {
	lanes := make([][]*models.Estimate, d.lanes)

	scale := d.stack.PhotonScale(d.cfg.Detection.Saturation)
	cutoff := d.cfg.Detection.SNCutoff
	total := d.stack.Size()

	for slice := 0; slice < total; slice++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame := d.stack.Frame(slice)
		grid := noise.NewGrid(frame, scale, d.cfg.Detection.LowestNoise)

		lane := min(d.lanes*slice/total, d.lanes-1)

		w, h := frame.Width(), frame.Height()
		for x := margin; x < w-margin; x++ {
			for y := margin; y < h-margin; y++ {

				s := frame.At(x, y) / scale
				if s > grid.At(x, y)*cutoff {
					lanes[lane] = append(lanes[lane], models.NewEstimate(x, y, slice))
				}
			}
		}
	}

	return lanes, nil
}
