// Package config loads the kinesis runtime configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ayusman/kinesis/internal/control"
)

// DataDirName is the per-user directory holding the database, plugins and
// the detector service.
const DataDirName = ".kinesis"

// Config is the root runtime configuration. Fields omitted from a JSON
// file keep their defaults, so partial files are safe.
type Config struct {
	CameraID  int    `json:"camera_id"`
	PluginDir string `json:"plugin_dir"`
	DBPath    string `json:"db_path"`
	Addr      string `json:"addr"`
	Headless  bool   `json:"headless"`

	// VolumePlugin names the plugin that backs the volume role. When it
	// cannot be loaded an in-memory sink is used instead.
	VolumePlugin  string `json:"volume_plugin"`
	PluginTimeout string `json:"plugin_timeout"` // duration string like "2s"

	// Control law
	LowDistance  float64 `json:"low_distance"`
	HighDistance float64 `json:"high_distance"`
	Alpha        float64 `json:"alpha"`

	// Frame pacing
	MotionThreshold float64 `json:"motion_threshold"`
	IdleFPS         int     `json:"idle_fps"`
	ActiveFPS       int     `json:"active_fps"`
	CooldownPeriod  string  `json:"cooldown_period"`
}

// Default returns the configuration used when no file is given. Paths are
// rooted in the user's home directory when it can be resolved.
func Default() *Config {
	base := DataDirName
	if home, err := os.UserHomeDir(); err == nil {
		base = filepath.Join(home, DataDirName)
	}

	law := control.DefaultLaw()
	return &Config{
		CameraID:        0,
		PluginDir:       filepath.Join(base, "plugins"),
		DBPath:          filepath.Join(base, "kinesis.db"),
		Addr:            ":8080",
		VolumePlugin:    "system-control",
		PluginTimeout:   "2s",
		LowDistance:     law.Input.Low,
		HighDistance:    law.Input.High,
		Alpha:           law.Alpha,
		MotionThreshold: 0.01,
		IdleFPS:         5,
		ActiveFPS:       30,
		CooldownPeriod:  "2s",
	}
}

// Load reads a JSON config file over the defaults and validates it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 << 20
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.CameraID < 0 {
		return fmt.Errorf("camera_id must be non-negative, got %d", c.CameraID)
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if err := c.Law().Validate(); err != nil {
		return err
	}
	if c.MotionThreshold < 0 || c.MotionThreshold > 1 {
		return fmt.Errorf("motion_threshold must be between 0 and 1, got %f", c.MotionThreshold)
	}
	if c.IdleFPS <= 0 || c.ActiveFPS <= 0 {
		return fmt.Errorf("idle_fps and active_fps must be positive, got %d and %d", c.IdleFPS, c.ActiveFPS)
	}
	for name, s := range map[string]string{"plugin_timeout": c.PluginTimeout, "cooldown_period": c.CooldownPeriod} {
		if s == "" {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, s, err)
		}
	}
	return nil
}

// Law returns the control law described by the config.
func (c *Config) Law() control.Law {
	return control.Law{
		Input: control.Range{Low: c.LowDistance, High: c.HighDistance},
		Alpha: c.Alpha,
	}
}

// GetPluginTimeout returns PluginTimeout as a duration, defaulting to 2s.
func (c *Config) GetPluginTimeout() time.Duration {
	return parseDuration(c.PluginTimeout, 2*time.Second)
}

// GetCooldownPeriod returns CooldownPeriod as a duration, defaulting to 2s.
func (c *Config) GetCooldownPeriod() time.Duration {
	return parseDuration(c.CooldownPeriod, 2*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
