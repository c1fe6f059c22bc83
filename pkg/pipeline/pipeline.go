// Package pipeline orchestrates the five-stage localization pipeline:
// candidate detection, eccentricity rejection, maximum-likelihood
// localization, third-moment rejection and duplicate removal, followed by
// a fan-in merge of all lanes into one output stream.
//
// Work is partitioned into a fixed number of lanes. Every stage runs one
// goroutine per lane and joins them before the next stage starts, so the
// pipeline advances over the whole dataset one stage at a time. Within a
// lane the record order is preserved from stage to stage; the merged
// output interleaves lanes arbitrarily. The output channel is closed when
// the merge completes; closing is the only end-of-stream signal.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/exp/rand"

	"github.com/Fluorescing/M2LE-Pipeline/internal/models"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/config"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/dedup"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/detect"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/locate"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/reject"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/stack"
)

// Pipeline runs the full localization analysis over one stack.
type Pipeline struct {
	stack *stack.Stack
	cfg   *config.Config
	lanes int
}

// New creates a pipeline with the configured number of worker lanes.
func New(s *stack.Stack, cfg *config.Config) *Pipeline {
	return &Pipeline{
		stack: s,
		cfg:   cfg,
		lanes: cfg.Lanes(),
	}
}

// laneFunc processes one lane's records in order and returns the
// survivors for the next stage.
type laneFunc func(ctx context.Context, lane int, in []*models.Estimate) ([]*models.Estimate, error)

// Run executes the pipeline. Accepted localizations are delivered on the
// returned channel, which is closed when the run completes; the error
// channel then yields the run's final status. Cancelling the context
// aborts the run with the context's error instead of silently dropping
// lane data.
func (p *Pipeline) Run(ctx context.Context) (<-chan *models.Estimate, <-chan error) {
	out := make(chan *models.Estimate, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)
		errc <- p.run(ctx, out)
	}()

	return out, errc
}

// Collect runs the pipeline and gathers every accepted localization.
func (p *Pipeline) Collect(ctx context.Context) ([]*models.Estimate, error) {
	out, errc := p.Run(ctx)

	var results []*models.Estimate
	for e := range out {
		results = append(results, e)
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Pipeline) run(ctx context.Context, out chan<- *models.Estimate) error {
	// Stage 1: scan the stack for candidate pixels, partitioned into
	// contiguous frame blocks per lane.
	detector := detect.New(p.stack, p.cfg, p.lanes)
	lanes, err := detector.Run(ctx)
	if err != nil {
		return fmt.Errorf("candidate detection failed: %w", err)
	}

	// Stage 2: eccentricity shape test.
	ecc := reject.NewEccentricityRejector(p.stack, p.cfg)
	lanes, err = p.applyStage(ctx, lanes, checkStage(ecc.Check))
	if err != nil {
		return fmt.Errorf("eccentricity rejection failed: %w", err)
	}

	// Stage 3: maximum-likelihood localization.
	localizer := locate.NewLocalizer(p.stack, p.cfg)
	lanes, err = p.applyStage(ctx, lanes, checkStage(localizer.Check))
	if err != nil {
		return fmt.Errorf("localization failed: %w", err)
	}

	// Stage 4: third-moment shape test. Each lane gets its own seeded
	// random source so runs with a fixed seed are reproducible.
	seed := p.cfg.Rejection.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	lanes, err = p.applyStage(ctx, lanes, func(ctx context.Context, lane int, in []*models.Estimate) ([]*models.Estimate, error) {
		rng := rand.New(rand.NewSource(seed + uint64(lane)))
		third := reject.NewThirdMomentRejector(p.stack, p.cfg, rng)
		return filterLane(ctx, in, third.Check)
	})
	if err != nil {
		return fmt.Errorf("third-moment rejection failed: %w", err)
	}

	// Stage 5: duplicate removal, two passes per lane. The first pass
	// forwards every record and may reject a record retroactively; the
	// second pass runs after the first-pass barrier and commits the
	// final flag.
	dedupers := make([]*dedup.Deduplicator, p.lanes)
	lanes, err = p.applyStage(ctx, lanes, func(ctx context.Context, lane int, in []*models.Estimate) ([]*models.Estimate, error) {
		dedupers[lane] = dedup.New(p.stack.Width(), p.stack.Height())
		return filterLane(ctx, in, func(e *models.Estimate) bool {
			dedupers[lane].FirstPass(e)
			return true
		})
	})
	if err != nil {
		return fmt.Errorf("duplicate removal failed: %w", err)
	}

	lanes, err = p.applyStage(ctx, lanes, func(ctx context.Context, lane int, in []*models.Estimate) ([]*models.Estimate, error) {
		return filterLane(ctx, in, dedupers[lane].SecondPass)
	})
	if err != nil {
		return fmt.Errorf("duplicate removal failed: %w", err)
	}

	// Merge: every lane drains into the shared output stream.
	return p.merge(ctx, lanes, out)
}

// applyStage runs fn over every lane concurrently and joins all lanes
// before returning. The first lane error aborts the stage.
func (p *Pipeline) applyStage(ctx context.Context, lanes [][]*models.Estimate, fn laneFunc) ([][]*models.Estimate, error) {
	type laneResult struct {
		lane int
		out  []*models.Estimate
		err  error
	}
	results := make(chan laneResult, p.lanes)

	for lane := 0; lane < p.lanes; lane++ {
		go func(lane int) {
			out, err := fn(ctx, lane, lanes[lane])
			results <- laneResult{lane: lane, out: out, err: err}
		}(lane)
	}

	next := make([][]*models.Estimate, p.lanes)
	var firstErr error
	for i := 0; i < p.lanes; i++ {
		res := <-results
		if res.err != nil && firstErr == nil {
			firstErr = res.err
		}
		next[res.lane] = res.out
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return next, nil
}

// checkStage adapts a per-record check into a lane function.
func checkStage(check func(*models.Estimate) bool) laneFunc {
	return func(ctx context.Context, _ int, in []*models.Estimate) ([]*models.Estimate, error) {
		return filterLane(ctx, in, check)
	}
}

// filterLane applies check to every record in order, keeping those that
// pass.
func filterLane(ctx context.Context, in []*models.Estimate, check func(*models.Estimate) bool) ([]*models.Estimate, error) {
	out := make([]*models.Estimate, 0, len(in))
	for _, e := range in {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if check(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// merge fans every lane into the shared output channel, blocking as
// needed, and returns once all lanes are drained.
func (p *Pipeline) merge(ctx context.Context, lanes [][]*models.Estimate, out chan<- *models.Estimate) error {
	done := make(chan error, p.lanes)

	for lane := 0; lane < p.lanes; lane++ {
		go func(records []*models.Estimate) {
			for _, e := range records {
				select {
				case out <- e:
				case <-ctx.Done():
					done <- ctx.Err()
					return
				}
			}
			done <- nil
		}(lanes[lane])
	}

	var firstErr error
	for i := 0; i < p.lanes; i++ {
		if err := <-done; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
