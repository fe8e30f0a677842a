package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Image builders
const (
	BuilderGenisoimage = "genisoimage"
	BuilderNative      = "native"
)

// Config is the full configuration for one run. It is built once at startup
// and handed to each component; nothing reads it from globals.
type Config struct {
	// Device is the absolute path of the optical drive's block device.
	Device string `yaml:"device"`

	// Media selects the burn tool: cd, dvd or bd.
	Media MediaType `yaml:"media"`

	Staging  StagingConfig  `yaml:"staging"`
	Image    ImageConfig    `yaml:"image"`
	Tools    ToolsConfig    `yaml:"tools"`
	Timing   TimingConfig   `yaml:"timing"`
	Database DatabaseConfig `yaml:"database"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`

	// ReportPath, when set, receives the JSON run report.
	ReportPath string `yaml:"report_path"`

	// History, when positive, lists that many past runs instead of burning.
	History int `yaml:"-"`
}

// StagingConfig locates the working directory and the sample content
type StagingConfig struct {
	Dir          string `yaml:"dir"`
	SampleSource string `yaml:"sample_source"`
	SampleName   string `yaml:"sample_name"`
	ManifestName string `yaml:"manifest_name"`
	ImageName    string `yaml:"image_name"`
}

// ImageConfig selects how the image is authored and checked
type ImageConfig struct {
	// Builder is "genisoimage" (external tool) or "native" (in-process).
	Builder string `yaml:"builder"`
	Tool    string `yaml:"tool"`

	// Verify re-reads the image against the manifest before burning.
	Verify bool `yaml:"verify"`
}

// ToolsConfig names the external utilities
type ToolsConfig struct {
	CD         string `yaml:"cd"`
	Growable   string `yaml:"growable"`
	Mount      string `yaml:"mount"`
	Umount     string `yaml:"umount"`
	Mountpoint string `yaml:"mountpoint"`
	Eject      string `yaml:"eject"`
}

// TimingConfig holds every wait in the workflow
type TimingConfig struct {
	SettleDelay    time.Duration `yaml:"settle_delay"`
	PollTimeout    time.Duration `yaml:"poll_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	CleanupTimeout time.Duration `yaml:"cleanup_timeout"`
}

// DatabaseConfig locates the run history and the workflow event log. An
// empty Path disables the history; StateDir is always required.
type DatabaseConfig struct {
	Path     string `yaml:"path"`
	StateDir string `yaml:"state_dir"`
}

// ArchiveConfig enables upload of run artifacts when Bucket is set
type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"`
}

// MetricsConfig enables a node_exporter textfile when Textfile is set
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// LogConfig configures the logrus root logger
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Device: DefaultDevice,
		Media:  MediaCD,
		Staging: StagingConfig{
			Dir:          DefaultStagingDir,
			SampleSource: DefaultSampleSource,
			SampleName:   DefaultSampleName,
			ManifestName: DefaultManifestName,
			ImageName:    DefaultImageName,
		},
		Image: ImageConfig{
			Builder: BuilderGenisoimage,
			Tool:    "genisoimage",
			Verify:  true,
		},
		Tools: ToolsConfig{
			CD:         "wodim",
			Growable:   "growisofs",
			Mount:      "mount",
			Umount:     "umount",
			Mountpoint: "mountpoint",
			Eject:      "eject",
		},
		Timing: TimingConfig{
			SettleDelay:    10 * time.Second,
			PollTimeout:    5 * time.Minute,
			PollInterval:   3 * time.Second,
			CommandTimeout: 30 * time.Minute,
			CleanupTimeout: 2 * time.Minute,
		},
		Database: DatabaseConfig{
			Path:     DefaultDBPath,
			StateDir: DefaultStateDir,
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
			Prefix: "optical-verify",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads a YAML file over the defaults. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration and resolves the device path. It runs
// before any external tool is invoked.
func (c *Config) Validate() error {
	media, err := ParseMediaType(string(c.Media))
	if err != nil {
		return err
	}
	c.Media = media

	if c.Device == "" {
		return errors.New("device path is empty")
	}
	c.Device = resolveDevicePath(c.Device)

	if c.Staging.Dir == "" {
		return errors.New("staging directory is empty")
	}
	if !filepath.IsAbs(c.Staging.Dir) {
		abs, err := filepath.Abs(c.Staging.Dir)
		if err != nil {
			return fmt.Errorf("failed to resolve staging directory: %w", err)
		}
		c.Staging.Dir = abs
	}
	if c.Database.StateDir == "" {
		return errors.New("state directory is empty")
	}
	if abs, err := filepath.Abs(c.Database.StateDir); err == nil {
		c.Database.StateDir = abs
	}

	if c.Staging.SampleName == "" || c.Staging.ManifestName == "" || c.Staging.ImageName == "" {
		return errors.New("sample, manifest and image names must be set")
	}

	switch c.Image.Builder {
	case BuilderGenisoimage, BuilderNative:
	default:
		return fmt.Errorf("unknown image builder %q", c.Image.Builder)
	}

	if c.Timing.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.Timing.PollInterval)
	}
	if c.Timing.PollTimeout < c.Timing.PollInterval {
		return fmt.Errorf("poll timeout %s is shorter than the interval %s", c.Timing.PollTimeout, c.Timing.PollInterval)
	}
	if c.Timing.SettleDelay < 0 {
		return fmt.Errorf("settle delay must not be negative, got %s", c.Timing.SettleDelay)
	}

	return nil
}

// resolveDevicePath follows symlinks such as /dev/cdrom to the real node.
// A path that cannot be resolved is kept as an absolute path.
func resolveDevicePath(device string) string {
	if resolved, err := filepath.EvalSymlinks(device); err == nil {
		device = resolved
	}
	if abs, err := filepath.Abs(device); err == nil {
		return abs
	}
	return device
}
