// CLAUDE:SUMMARY Defines replaygeo config structs and parses YAML configuration files with defaults.
// Package config handles recorder and extractor configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level replaygeo configuration.
type Config struct {
	Browser   BrowserConfig   `yaml:"browser"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Extractor ExtractorConfig `yaml:"extractor"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"` // existing DevTools URL; empty launches a local Chrome
	Bin              string   `yaml:"bin"`
	Headful          bool     `yaml:"headful"`
	NoSandbox        bool     `yaml:"no_sandbox"`
	Stealth          bool     `yaml:"stealth"`
	ResourceBlocking []string `yaml:"resource_blocking"`
}

// RecorderConfig controls live capture.
type RecorderConfig struct {
	URL       string        `yaml:"url"`
	OutputDir string        `yaml:"output_dir"`
	Listen    string        `yaml:"listen"`
	Archive   string        `yaml:"archive"` // sqlite path, empty disables
	Debounce  time.Duration `yaml:"debounce"`
	MaxBuffer int           `yaml:"max_buffer"`
	Console   ConsoleConfig `yaml:"console"`
	Mirror    []SinkConfig  `yaml:"mirror"`

	Screencast ScreencastConfig `yaml:"screencast"`
}

// ScreencastConfig controls the JPEG frame capture of the recorded tab.
type ScreencastConfig struct {
	Enabled       bool `yaml:"enabled"`
	Quality       int  `yaml:"quality"`
	EveryNthFrame int  `yaml:"every_nth_frame"`
	MaxWidth      int  `yaml:"max_width"`
	MaxHeight     int  `yaml:"max_height"`
}

// ConsoleConfig holds console capture limits.
type ConsoleConfig struct {
	Levels            []string `yaml:"levels"`
	LengthThreshold   int      `yaml:"length_threshold"`
	StringLengthLimit int      `yaml:"string_length_limit"`
	NumOfKeysLimit    int      `yaml:"num_of_keys_limit"`
	DepthLimit        int      `yaml:"depth_limit"`
}

// SinkConfig defines a mirror backend for recorded events.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook
	URL  string `yaml:"url"`  // for webhook
}

// ExtractorConfig controls geometry sampling.
type ExtractorConfig struct {
	Step         time.Duration `yaml:"step"`
	SettleDelay  time.Duration `yaml:"settle_delay"`
	InitDelay    time.Duration `yaml:"init_delay"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	Viewport     Viewport      `yaml:"viewport"`
	Archive      string        `yaml:"archive"`
}

// Viewport is a browser viewport size in CSS pixels.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Recorder.OutputDir == "" {
		c.Recorder.OutputDir = "."
	}
	if c.Recorder.Listen == "" {
		c.Recorder.Listen = "127.0.0.1:8420"
	}
	if c.Recorder.Debounce <= 0 {
		c.Recorder.Debounce = 100 * time.Millisecond
	}
	if c.Recorder.MaxBuffer <= 0 {
		c.Recorder.MaxBuffer = 1000
	}
	con := &c.Recorder.Console
	if len(con.Levels) == 0 {
		con.Levels = []string{"log", "warn", "error"}
	}
	if con.LengthThreshold <= 0 {
		con.LengthThreshold = 10000
	}
	if con.StringLengthLimit <= 0 {
		con.StringLengthLimit = 1000
	}
	if con.NumOfKeysLimit <= 0 {
		con.NumOfKeysLimit = 100
	}
	if con.DepthLimit <= 0 {
		con.DepthLimit = 4
	}

	sc := &c.Recorder.Screencast
	if sc.Quality <= 0 || sc.Quality > 100 {
		sc.Quality = 80
	}
	if sc.EveryNthFrame <= 0 {
		sc.EveryNthFrame = 1
	}

	ex := &c.Extractor
	if ex.Step <= 0 {
		ex.Step = 500 * time.Millisecond
	}
	if ex.SettleDelay <= 0 {
		ex.SettleDelay = 150 * time.Millisecond
	}
	if ex.InitDelay <= 0 {
		ex.InitDelay = 500 * time.Millisecond
	}
	if ex.ReadyTimeout <= 0 {
		ex.ReadyTimeout = 10 * time.Second
	}
	if ex.Viewport.Width <= 0 {
		ex.Viewport.Width = 1280
	}
	if ex.Viewport.Height <= 0 {
		ex.Viewport.Height = 720
	}
}
