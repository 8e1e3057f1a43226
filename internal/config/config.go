package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FakeCoder01/fiber-characterization-system/internal/fiberr"
	"github.com/FakeCoder01/fiber-characterization-system/internal/instrument"
	"github.com/FakeCoder01/fiber-characterization-system/internal/signal"
)

// ExampleConfigPath is the annotated example shipped with the repository.
const ExampleConfigPath = "config/fiberchar.example.yaml"

// Config is the root configuration for the characterization daemon.
// Every leaf is optional; the Get* methods supply defaults for omitted keys,
// so partial files are safe.
type Config struct {
	Hardware    HardwareConfig    `json:"hardware" yaml:"hardware"`
	Acquisition AcquisitionConfig `json:"acquisition" yaml:"acquisition"`
	Sweep       SweepConfig       `json:"sweep" yaml:"sweep"`
	Alignment   AlignmentConfig   `json:"alignment" yaml:"alignment"`
	Geometry    GeometryConfig    `json:"geometry" yaml:"geometry"`
	Database    DatabaseConfig    `json:"database" yaml:"database"`
	Images      ImagesConfig      `json:"images" yaml:"images"`

	// Listen is the HTTP listen address.
	Listen *string `json:"listen,omitempty" yaml:"listen,omitempty"`
}

type HardwareConfig struct {
	Laser    DeviceConfig `json:"laser" yaml:"laser"`
	Detector DeviceConfig `json:"detector" yaml:"detector"`
}

// DeviceConfig addresses one serial instrument. Omitted framing keys mean
// 8 data bits, 1 stop bit and no parity.
type DeviceConfig struct {
	Address  *string `json:"address,omitempty" yaml:"address,omitempty"`
	BaudRate *int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`
	Parity   *string `json:"parity,omitempty" yaml:"parity,omitempty"` // none, even or odd
}

type AcquisitionConfig struct {
	Interval     *string  `json:"interval,omitempty" yaml:"interval,omitempty"` // duration string like "100ms"
	SamplingRate *float64 `json:"sampling_rate,omitempty" yaml:"sampling_rate,omitempty"`
	BufferSize   *int     `json:"buffer_size,omitempty" yaml:"buffer_size,omitempty"`
}

// SweepConfig bounds the spectral sweep in nanometres.
type SweepConfig struct {
	Start  *float64 `json:"start,omitempty" yaml:"start,omitempty"`
	Stop   *float64 `json:"stop,omitempty" yaml:"stop,omitempty"`
	Steps  *int     `json:"steps,omitempty" yaml:"steps,omitempty"`
	Settle *string  `json:"settle,omitempty" yaml:"settle,omitempty"`
}

type AlignmentConfig struct {
	Steps    *int     `json:"steps,omitempty" yaml:"steps,omitempty"`
	Variance *float64 `json:"variance,omitempty" yaml:"variance,omitempty"`
	Settle   *string  `json:"settle,omitempty" yaml:"settle,omitempty"`
}

type GeometryConfig struct {
	MinArea           *int  `json:"min_area,omitempty" yaml:"min_area,omitempty"`
	CheckPlausibility *bool `json:"check_plausibility,omitempty" yaml:"check_plausibility,omitempty"`
}

type DatabaseConfig struct {
	Path *string `json:"path,omitempty" yaml:"path,omitempty"`
}

// ImagesConfig confines API-supplied end-face image paths.
type ImagesConfig struct {
	Dir *string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// Defaults for omitted keys.
const (
	DefaultLaserAddress     = "/dev/ttyUSB0"
	DefaultDetectorAddress  = "/dev/ttyUSB1"
	DefaultBaudRate         = 9600
	DefaultInterval         = 100 * time.Millisecond
	DefaultSamplingRate     = 1000.0
	DefaultBufferSize       = 1024
	DefaultSweepStart       = 1500.0
	DefaultSweepStop        = 1600.0
	DefaultSweepSteps       = 101
	DefaultSweepSettle      = 100 * time.Millisecond
	DefaultAlignmentSteps   = 100
	DefaultAlignmentVar     = 0.1
	DefaultAlignmentSettle  = 50 * time.Millisecond
	DefaultMinArea          = 100
	DefaultDatabasePath     = "measurements.db"
	DefaultListen           = ":8050"
	maxConfigFileSize int64 = 1 * 1024 * 1024 // 1MB
)

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a .json, .yaml or .yml configuration file and validates it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must be .json, .yaml or .yml, got %q: %w", ext, fiberr.ErrInvalidConfiguration)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d): %w", fileInfo.Size(), maxConfigFileSize, fiberr.ErrInvalidConfiguration)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w: %w", cleanPath, fiberr.ErrInvalidConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set. Every error wraps
// fiberr.ErrInvalidConfiguration.
func (c *Config) Validate() error {
	for name, d := range map[string]*DeviceConfig{"laser": &c.Hardware.Laser, "detector": &c.Hardware.Detector} {
		if d.BaudRate != nil && *d.BaudRate <= 0 {
			return invalid("hardware.%s.baud_rate must be positive, got %d", name, *d.BaudRate)
		}
		if _, err := d.port(DefaultBaudRate).Mode(); err != nil {
			return fmt.Errorf("hardware.%s: %w", name, err)
		}
		if d.Address != nil && *d.Address == "" {
			return invalid("hardware.%s.address must not be empty", name)
		}
	}

	for name, s := range map[string]*string{
		"acquisition.interval": c.Acquisition.Interval,
		"sweep.settle":         c.Sweep.Settle,
		"alignment.settle":     c.Alignment.Settle,
	} {
		if s == nil || *s == "" {
			continue
		}
		d, err := time.ParseDuration(*s)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w: %w", name, *s, fiberr.ErrInvalidConfiguration, err)
		}
		if d < 0 || (d == 0 && name == "acquisition.interval") {
			return invalid("%s must be positive, got %s", name, *s)
		}
	}

	if v := c.Acquisition.SamplingRate; v != nil && !(*v > 0 && !math.IsInf(*v, 1)) {
		return invalid("acquisition.sampling_rate must be positive, got %v", *v)
	}
	if v := c.Acquisition.BufferSize; v != nil && *v <= 0 {
		return invalid("acquisition.buffer_size must be positive, got %d", *v)
	}

	start, stop := c.GetSweepStart(), c.GetSweepStop()
	if !finite(start) || !finite(stop) {
		return invalid("sweep bounds must be finite, got %v..%v", start, stop)
	}
	if start == stop {
		return invalid("sweep.start and sweep.stop must differ, both %v", start)
	}
	// every run feeds the sweep to the dispersion analysis
	if steps := c.GetSweepSteps(); steps < signal.MinDispersionSamples {
		return invalid("sweep.steps must be at least %d, got %d", signal.MinDispersionSamples, steps)
	}

	if v := c.Alignment.Steps; v != nil && *v < 0 {
		return invalid("alignment.steps must be non-negative, got %d", *v)
	}
	if v := c.Alignment.Variance; v != nil && !(*v > 0 && !math.IsInf(*v, 1)) {
		return invalid("alignment.variance must be positive, got %v", *v)
	}
	if v := c.Geometry.MinArea; v != nil && *v < 0 {
		return invalid("geometry.min_area must be non-negative, got %d", *v)
	}
	if c.Database.Path != nil && *c.Database.Path == "" {
		return invalid("database.path must not be empty")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), fiberr.ErrInvalidConfiguration)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetLaserAddress returns hardware.laser.address or the default.
func (c *Config) GetLaserAddress() string {
	if c.Hardware.Laser.Address == nil {
		return DefaultLaserAddress
	}
	return *c.Hardware.Laser.Address
}

// GetLaserBaudRate returns hardware.laser.baud_rate or the default.
func (c *Config) GetLaserBaudRate() int {
	if c.Hardware.Laser.BaudRate == nil {
		return DefaultBaudRate
	}
	return *c.Hardware.Laser.BaudRate
}

// GetLaserPort returns the serial line settings of the laser.
func (c *Config) GetLaserPort() instrument.PortOptions {
	return c.Hardware.Laser.port(DefaultBaudRate)
}

// GetDetectorPort returns the serial line settings of the detector.
func (c *Config) GetDetectorPort() instrument.PortOptions {
	return c.Hardware.Detector.port(DefaultBaudRate)
}

func (d *DeviceConfig) port(baud int) instrument.PortOptions {
	opts := instrument.PortOptions{BaudRate: baud}
	if d.BaudRate != nil {
		opts.BaudRate = *d.BaudRate
	}
	if d.DataBits != nil {
		opts.DataBits = *d.DataBits
	}
	if d.StopBits != nil {
		opts.StopBits = *d.StopBits
	}
	if d.Parity != nil {
		opts.Parity = *d.Parity
	}
	return opts
}

// GetDetectorAddress returns hardware.detector.address or the default.
func (c *Config) GetDetectorAddress() string {
	if c.Hardware.Detector.Address == nil {
		return DefaultDetectorAddress
	}
	return *c.Hardware.Detector.Address
}

// GetDetectorBaudRate returns hardware.detector.baud_rate or the default.
func (c *Config) GetDetectorBaudRate() int {
	if c.Hardware.Detector.BaudRate == nil {
		return DefaultBaudRate
	}
	return *c.Hardware.Detector.BaudRate
}

// GetInterval parses acquisition.interval.
func (c *Config) GetInterval() time.Duration {
	return durationOr(c.Acquisition.Interval, DefaultInterval)
}

func (c *Config) GetSamplingRate() float64 {
	if c.Acquisition.SamplingRate == nil {
		return DefaultSamplingRate
	}
	return *c.Acquisition.SamplingRate
}

func (c *Config) GetBufferSize() int {
	if c.Acquisition.BufferSize == nil {
		return DefaultBufferSize
	}
	return *c.Acquisition.BufferSize
}

func (c *Config) GetSweepStart() float64 {
	if c.Sweep.Start == nil {
		return DefaultSweepStart
	}
	return *c.Sweep.Start
}

func (c *Config) GetSweepStop() float64 {
	if c.Sweep.Stop == nil {
		return DefaultSweepStop
	}
	return *c.Sweep.Stop
}

func (c *Config) GetSweepSteps() int {
	if c.Sweep.Steps == nil {
		return DefaultSweepSteps
	}
	return *c.Sweep.Steps
}

// GetSweepSettle is the delay between setting a wavelength and reading power.
func (c *Config) GetSweepSettle() time.Duration {
	return durationOr(c.Sweep.Settle, DefaultSweepSettle)
}

func (c *Config) GetAlignmentSteps() int {
	if c.Alignment.Steps == nil {
		return DefaultAlignmentSteps
	}
	return *c.Alignment.Steps
}

// GetAlignmentVariance is the per-axis variance of the isotropic random walk.
func (c *Config) GetAlignmentVariance() float64 {
	if c.Alignment.Variance == nil {
		return DefaultAlignmentVar
	}
	return *c.Alignment.Variance
}

// GetAlignmentSettle is the delay after each stage move.
func (c *Config) GetAlignmentSettle() time.Duration {
	return durationOr(c.Alignment.Settle, DefaultAlignmentSettle)
}

func (c *Config) GetMinArea() int {
	if c.Geometry.MinArea == nil {
		return DefaultMinArea
	}
	return *c.Geometry.MinArea
}

// GetCheckPlausibility defaults to false.
func (c *Config) GetCheckPlausibility() bool {
	if c.Geometry.CheckPlausibility == nil {
		return false
	}
	return *c.Geometry.CheckPlausibility
}

func (c *Config) GetDatabasePath() string {
	if c.Database.Path == nil {
		return DefaultDatabasePath
	}
	return *c.Database.Path
}

// GetImageDir returns images.dir; empty means image paths are not confined.
func (c *Config) GetImageDir() string {
	if c.Images.Dir == nil {
		return ""
	}
	return *c.Images.Dir
}

func (c *Config) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return DefaultListen
	}
	return *c.Listen
}
