// Package config provides configuration loading and management for the
// localization pipeline. It handles loading configuration from YAML files
// and provides the defaults the original analysis was calibrated with.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the pipeline configuration loaded from YAML.
type Config struct {
	// Detection parameters
	Detection struct {
		// SNCutoff is the signal-to-noise multiple a pixel must exceed to
		// become a candidate.
		SNCutoff float64 `yaml:"snCutoff"`

		// LowestNoise is the floor applied to every tile noise estimate,
		// in photons.
		LowestNoise float64 `yaml:"lowestNoise"`

		// PixelSize is the physical size of a camera pixel in nanometers.
		PixelSize float64 `yaml:"pixelSize"`

		// Saturation is the camera saturation point in digital units;
		// intensities are scaled to photons relative to it.
		Saturation float64 `yaml:"saturation"`
	} `yaml:"detection"`

	// Rejection parameters
	Rejection struct {
		// EccAcceptance is the single-molecule acceptance probability of
		// the eccentricity test (0..1).
		EccAcceptance float64 `yaml:"eccAcceptance"`

		// EccDisabled disables eccentricity-based rejection; the shape
		// statistics are still computed and stored.
		EccDisabled bool `yaml:"eccDisabled"`

		// ThirdAcceptance is the single-molecule acceptance probability of
		// the third-moment test (0..1).
		ThirdAcceptance float64 `yaml:"thirdAcceptance"`

		// ThirdDisabled disables third-moment rejection; the statistics
		// are still computed and stored.
		ThirdDisabled bool `yaml:"thirdDisabled"`

		// Seed seeds the Monte-Carlo sampling of the third-moment test.
		// Zero selects a time-based seed; any other value makes runs
		// reproducible.
		Seed uint64 `yaml:"seed"`
	} `yaml:"rejection"`

	// MLE (maximum likelihood estimator) parameters
	MLE struct {
		// FixWidth fixes the PSF width to the diffraction-limited value
		// instead of fitting it.
		FixWidth bool `yaml:"fixWidth"`

		// Wavelength is the wavelength of the emitted light in nanometers.
		Wavelength float64 `yaml:"wavelength"`

		// NumericalAperture of the objective.
		NumericalAperture float64 `yaml:"numericalAperture"`

		// UsablePixel is the usable fraction of the pixel in percent.
		UsablePixel float64 `yaml:"usablePixel"`

		// PosEpsilon ends iteration when the position update falls below
		// it, in nanometers.
		PosEpsilon float64 `yaml:"posEpsilon"`

		// IntEpsilon ends iteration when the intensity percent-change
		// falls below it, in percent.
		IntEpsilon float64 `yaml:"intEpsilon"`

		// WidEpsilon ends iteration when the width update falls below it,
		// in pixels.
		WidEpsilon float64 `yaml:"widEpsilon"`

		// MaxIterations caps the Newton-Raphson iteration count per fit.
		MaxIterations int `yaml:"maxIterations"`

		// MinNoiseBound is the lower clamp on the background parameter,
		// in photons.
		MinNoiseBound float64 `yaml:"minNoiseBound"`

		// MaxNoiseMultiplier caps the background parameter at this
		// multiple of the initial noise estimate.
		MaxNoiseMultiplier float64 `yaml:"maxNoiseMultiplier"`

		// MinWidth and MaxWidth bound the accepted PSF width, in pixels.
		MinWidth float64 `yaml:"minWidth"`
		MaxWidth float64 `yaml:"maxWidth"`
	} `yaml:"mle"`

	// Pipeline parameters
	Pipeline struct {
		// Workers is the number of parallel lanes; 0 means all CPUs.
		Workers int `yaml:"workers"`
	} `yaml:"pipeline"`
}

// DefaultConfig returns a configuration with the calibrated default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Detection.SNCutoff = 4.0
	cfg.Detection.LowestNoise = 2.0
	cfg.Detection.PixelSize = 110.0
	cfg.Detection.Saturation = 65535.0

	cfg.Rejection.EccAcceptance = 0.9
	cfg.Rejection.EccDisabled = false
	cfg.Rejection.ThirdAcceptance = 0.9
	cfg.Rejection.ThirdDisabled = false
	cfg.Rejection.Seed = 0

	cfg.MLE.FixWidth = true
	cfg.MLE.Wavelength = 550.0
	cfg.MLE.NumericalAperture = 1.0
	cfg.MLE.UsablePixel = 90.0
	cfg.MLE.PosEpsilon = 0.0001
	cfg.MLE.IntEpsilon = 0.01
	cfg.MLE.WidEpsilon = 0.0001
	cfg.MLE.MaxIterations = 50
	cfg.MLE.MinNoiseBound = 1.0
	cfg.MLE.MaxNoiseMultiplier = 2.0
	cfg.MLE.MinWidth = 1.5
	cfg.MLE.MaxWidth = 3.0

	cfg.Pipeline.Workers = runtime.NumCPU()

	return cfg
}

// Wavenumber returns the optical wavenumber 2*pi*NA/lambda in 1/nm.
func (c *Config) Wavenumber() float64 {
	return 2.0 * math.Pi * c.MLE.NumericalAperture / c.MLE.Wavelength
}

// Lanes returns the effective number of worker lanes.
func (c *Config) Lanes() int {
	if c.Pipeline.Workers > 0 {
		return c.Pipeline.Workers
	}
	return runtime.NumCPU()
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
