// Package config loads the optional YAML file shared by the server and viewer.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dj-oyu/parking-monitor/internal/occupancy"
	"github.com/dj-oyu/parking-monitor/internal/webmonitor"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Keys absent from a file keep
// their defaults.
type Config struct {
	Source        string        `yaml:"source"`         // video file, URL or device index
	SpacesPath    string        `yaml:"spaces"`         // coordinate file (.json or .pkl)
	FrameInterval time.Duration `yaml:"frame_interval"` // delay between frames
	JPEGQuality   int           `yaml:"jpeg_quality"`

	MetricsAddr string   `yaml:"metrics_addr"`
	PprofAddr   string   `yaml:"pprof_addr"`
	RecordPath  string   `yaml:"record_path"`
	MaxClients  int      `yaml:"max_webrtc_clients"`
	STUNServers []string `yaml:"stun_servers"`

	LogLevel string `yaml:"log_level"`
	LogColor bool   `yaml:"log_color"`

	Classifier occupancy.Params  `yaml:"classifier"`
	Web        webmonitor.Config `yaml:"web"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Source:        "carPark.mp4",
		SpacesPath:    "CarParkPos.json",
		FrameInterval: 33 * time.Millisecond,
		JPEGQuality:   80,
		MetricsAddr:   ":9090",
		PprofAddr:     ":6060",
		RecordPath:    "./recordings",
		MaxClients:    10,
		STUNServers:   []string{"stun:stun.l.google.com:19302"},
		LogLevel:      "info",
		LogColor:      true,
		Classifier:    occupancy.DefaultParams(),
		Web:           webmonitor.DefaultConfig(),
	}
}

// Load reads path over the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Decode(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses YAML over the defaults. Unknown keys are rejected.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values that would otherwise fail later at runtime.
func (c Config) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.SpacesPath == "" {
		return errors.New("spaces file is required")
	}
	if c.FrameInterval < 0 {
		return fmt.Errorf("frame interval must not be negative, got %v", c.FrameInterval)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be within 1-100, got %d", c.JPEGQuality)
	}
	if c.MaxClients < 0 {
		return fmt.Errorf("max webrtc clients must not be negative, got %d", c.MaxClients)
	}
	if err := c.Classifier.Validate(); err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	return nil
}
