package detect

import (
	"context"
	"testing"

	"github.com/Fluorescing/M2LE-Pipeline/pkg/config"
	"github.com/Fluorescing/M2LE-Pipeline/pkg/stack"
)

// testConfig returns defaults with the saturation matched to the test
// stack's max value, so raw units equal photons.
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Detection.Saturation = 100.0
	return cfg
}

// testStack builds a stack of uniform frames at the given background level.
func testStack(t *testing.T, frames, width, height int, background float64) *stack.Stack {
	t.Helper()
	fs := make([]*stack.Frame, frames)
	for i := range fs {
		f := stack.NewFrame(width, height)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				f.Set(x, y, background)
			}
		}
		fs[i] = f
	}
	s, err := stack.New(fs, 100.0)
	if err != nil {
		t.Fatalf("Failed to build test stack: %v", err)
	}
	return s
}

// TestDetectThreshold verifies that a pixel becomes a candidate exactly
// when it exceeds the tile noise times the cutoff
func TestDetectThreshold(t *testing.T) {
	cfg := testConfig()
	s := testStack(t, 1, 32, 32, 1.0)

	// background 1 photon is floored to LowestNoise=2, so the cutoff
	// sits at 2*4 = 8 photons
	s.Frame(0).Set(10, 12, 9.0)  // above
	s.Frame(0).Set(20, 20, 8.0)  // exactly at the cutoff, not above

	lanes, err := New(s, cfg, 1).Run(context.Background())
	if err != nil {
		t.Fatalf("Detection failed: %v", err)
	}

	if len(lanes[0]) != 1 {
		t.Fatalf("Expected 1 candidate, got %d", len(lanes[0]))
	}
	e := lanes[0][0]
	if e.Column != 10 || e.Row != 12 || e.Slice != 0 {
		t.Errorf("Expected candidate at (10,12) slice 0, got (%d,%d) slice %d",
			e.Column, e.Row, e.Slice)
	}
}

// TestDetectMargin verifies that bright pixels within three pixels of the
// border are never candidates
func TestDetectMargin(t *testing.T) {
	cfg := testConfig()
	s := testStack(t, 1, 32, 32, 1.0)

	s.Frame(0).Set(2, 16, 90.0)
	s.Frame(0).Set(16, 29, 90.0)
	s.Frame(0).Set(31, 31, 90.0)

	lanes, err := New(s, cfg, 1).Run(context.Background())
	if err != nil {
		t.Fatalf("Detection failed: %v", err)
	}
	if len(lanes[0]) != 0 {
		t.Errorf("Expected no candidates in the border margin, got %d", len(lanes[0]))
	}
}

// TestDetectLanePartition verifies that frames are distributed over lanes
// in contiguous blocks
func TestDetectLanePartition(t *testing.T) {
	cfg := testConfig()
	s := testStack(t, 4, 32, 32, 1.0)
	for i := 0; i < 4; i++ {
		s.Frame(i).Set(16, 16, 90.0)
	}

	lanes, err := New(s, cfg, 2).Run(context.Background())
	if err != nil {
		t.Fatalf("Detection failed: %v", err)
	}

	if len(lanes) != 2 {
		t.Fatalf("Expected 2 lanes, got %d", len(lanes))
	}
	if len(lanes[0]) != 2 || len(lanes[1]) != 2 {
		t.Fatalf("Expected 2 candidates per lane, got %d and %d",
			len(lanes[0]), len(lanes[1]))
	}
	if lanes[0][0].Slice != 0 || lanes[0][1].Slice != 1 {
		t.Errorf("Expected lane 0 to hold frames 0 and 1, got %d and %d",
			lanes[0][0].Slice, lanes[0][1].Slice)
	}
	if lanes[1][0].Slice != 2 || lanes[1][1].Slice != 3 {
		t.Errorf("Expected lane 1 to hold frames 2 and 3, got %d and %d",
			lanes[1][0].Slice, lanes[1][1].Slice)
	}
}

// TestDetectCancel verifies that a cancelled context aborts the scan
func TestDetectCancel(t *testing.T) {
	cfg := testConfig()
	s := testStack(t, 1, 32, 32, 1.0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New(s, cfg, 1).Run(ctx); err == nil {
		t.Error("Expected an error from a cancelled context")
	}
}
