// Package stack provides the read-only frame-stack accessor consumed by the
// localization pipeline, along with a loader that builds a stack from a
// directory of image files.
package stack

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"
)

// Frame is a single read-only 2D grid of raw intensity samples in digital
// units. Frames are shared by all worker lanes without mutation.
type Frame struct {
	width  int
	height int
	pix    []float64
}

// NewFrame creates an empty frame. Intended for synthetic data; loaded
// stacks build their frames from decoded images.
func NewFrame(width, height int) *Frame {
	return &Frame{
		width:  width,
		height: height,
		pix:    make([]float64, width*height),
	}
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.width }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.height }

// At returns the raw intensity at (x, y) in digital units.
func (f *Frame) At(x, y int) float64 {
	return f.pix[y*f.width+x]
}

// Set stores a raw intensity at (x, y).
func (f *Frame) Set(x, y int, v float64) {
	f.pix[y*f.width+x] = v
}

// Stack is an ordered sequence of frames with identical dimensions.
type Stack struct {
	frames   []*Frame
	width    int
	height   int
	maxValue float64
}

// New builds a stack from frames. maxValue is the largest representable
// digital value of the camera (255 for 8-bit data, 65535 for 16-bit).
func New(frames []*Frame, maxValue float64) (*Stack, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("stack requires at least one frame")
	}
	w, h := frames[0].Width(), frames[0].Height()
	for i, f := range frames {
		if f.Width() != w || f.Height() != h {
			return nil, fmt.Errorf("frame %d has dimensions %dx%d, expected %dx%d",
				i, f.Width(), f.Height(), w, h)
		}
	}
	return &Stack{frames: frames, width: w, height: h, maxValue: maxValue}, nil
}

// Size returns the number of frames in the stack.
func (s *Stack) Size() int { return len(s.frames) }

// Width returns the frame width in pixels.
func (s *Stack) Width() int { return s.width }

// Height returns the frame height in pixels.
func (s *Stack) Height() int { return s.height }

// Frame returns the frame at the given slice index.
func (s *Stack) Frame(slice int) *Frame { return s.frames[slice] }

// MaxValue returns the largest representable digital value.
func (s *Stack) MaxValue() float64 { return s.maxValue }

// PhotonScale returns the divisor that converts raw digital units to
// photons, given the configured camera saturation point.
func (s *Stack) PhotonScale(saturation float64) float64 {
	return s.maxValue / saturation
}

// LoadDirectory loads all image files from a directory as one stack. Files
// are sorted by the numeric part of their names so the frame sequence
// matches the acquisition order. TIFF frames keep their 16-bit depth; other
// formats are converted to 8-bit grayscale.
func LoadDirectory(dir string) (*Stack, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".tif", ".tiff", ".png", ".jpg", ".jpeg":
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no image files found in %s", dir)
	}

	// Sort by the number embedded in the filename to preserve frame order.
	sort.Slice(names, func(i, j int) bool {
		return extractNumber(names[i]) < extractNumber(names[j])
	})

	var frames []*Frame
	maxValue := 255.0
	for _, name := range names {
		img, err := loadImage(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load frame %s: %w", name, err)
		}

		frame, frameMax := frameFromImage(img)
		if len(frames) == 0 {
			maxValue = frameMax
		} else if frameMax != maxValue {
			return nil, fmt.Errorf("frame %s has bit depth inconsistent with the stack", name)
		}
		frames = append(frames, frame)
	}

	return New(frames, maxValue)
}

// loadImage decodes a single image file. TIFF is decoded directly so that
// 16-bit grayscale data survives; everything else goes through imaging.
func loadImage(path string) (image.Image, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".tif" || ext == ".tiff" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return tiff.Decode(f)
	}
	return imaging.Open(path)
}

// frameFromImage converts a decoded image to raw intensities and reports
// the bit-depth maximum of the source data.
func frameFromImage(img image.Image) (*Frame, float64) {
	bounds := img.Bounds()
	frame := NewFrame(bounds.Dx(), bounds.Dy())

	switch im := img.(type) {
	case *image.Gray16:
		for y := 0; y < frame.height; y++ {
			for x := 0; x < frame.width; x++ {
				i := im.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
				frame.Set(x, y, float64(uint16(im.Pix[i])<<8|uint16(im.Pix[i+1])))
			}
		}
		return frame, 65535.0

	case *image.Gray:
		for y := 0; y < frame.height; y++ {
			for x := 0; x < frame.width; x++ {
				frame.Set(x, y, float64(im.Pix[im.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)]))
			}
		}
		return frame, 255.0

	default:
		gray := imaging.Grayscale(img)
		for y := 0; y < frame.height; y++ {
			for x := 0; x < frame.width; x++ {
				// NRGBA with R==G==B after grayscale conversion.
				frame.Set(x, y, float64(gray.Pix[gray.PixOffset(x, y)]))
			}
		}
		return frame, 255.0
	}
}

// extractNumber extracts the numeric part from a filename.
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		if num, err := strconv.Atoi(numStr); err == nil {
			return num
		}
	}
	return 0
}
