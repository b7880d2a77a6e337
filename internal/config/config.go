// Package config provides configuration management for coopcam using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/coopcam/coopcam/internal/urlutil"
	"github.com/coopcam/coopcam/pkg/duration"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultMotionFPS       = 5
	defaultMotionThreshold = 0.05
	defaultMotionCooldown  = 5 * time.Second
	defaultMotionWidth     = 64
	defaultMotionHeight    = 48
	defaultQueueSize       = 50
	defaultTaskTimeout     = 5 * time.Second

	defaultPreBuffer     = 3 * time.Second
	defaultPostMotion    = 15 * time.Second
	defaultRecCooldown   = 30 * time.Second
	defaultMaxEncodes    = 3
	defaultRetentionDays = 14
	defaultRecordingFPS  = 10

	defaultPoolSlotSize = 1 << 20 // one JPEG frame
	defaultPoolSlots    = 20

	defaultPauseDuration = 5 * time.Minute
)

// Config holds all configuration for the application.
type Config struct {
	Server              ServerConfig    `mapstructure:"server"`
	Logging             LoggingConfig   `mapstructure:"logging"`
	Sources             []SourceConfig  `mapstructure:"sources"`
	Motion              MotionConfig    `mapstructure:"motion"`
	Recording           RecordingConfig `mapstructure:"recording"`
	Database            DatabaseConfig  `mapstructure:"database"`
	StreamPausePassword string          `mapstructure:"stream_pause_password" masq:"secret"`
	PauseDuration       time.Duration   `mapstructure:"pause_duration"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// SourceConfig describes one upstream MJPEG camera.
type SourceConfig struct {
	ID        string `mapstructure:"id"`
	Name      string `mapstructure:"name"`
	URL       string `mapstructure:"url"`
	IsDefault bool   `mapstructure:"is_default"`
}

// MotionConfig holds motion detection configuration.
type MotionConfig struct {
	Enabled       bool             `mapstructure:"enabled"`
	FPS           int              `mapstructure:"fps"`
	Threshold     float64          `mapstructure:"threshold"`
	Cooldown      time.Duration    `mapstructure:"cooldown"`
	Width         int              `mapstructure:"width"`
	Height        int              `mapstructure:"height"`
	IgnoredYBands []YBand          `mapstructure:"ignored_y_bands"`
	DetectionMode string           `mapstructure:"detection_mode"` // traditional, color_filter, color_first
	Shadow        ShadowConfig     `mapstructure:"shadow"`
	Color         ColorConfig      `mapstructure:"color"`
	Regions       RegionConfig     `mapstructure:"regions"`
	ColorFirst    ColorFirstConfig `mapstructure:"color_first"`
	WorkerPool    WorkerPoolConfig `mapstructure:"worker_pool"`
}

// YBand is an inclusive range of frame rows excluded from comparison.
type YBand struct {
	Start int `mapstructure:"start"`
	End   int `mapstructure:"end"`
}

// ShadowConfig holds illumination normalization and shadow-aware comparison settings.
type ShadowConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	Intensity           float64 `mapstructure:"intensity"` // 0..1, normalization strength
	TimeBasedThresholds bool    `mapstructure:"time_based_thresholds"`
	Temporal            bool    `mapstructure:"temporal"` // temporal shadow history detector
}

// ColorConfig holds the color validation step settings.
type ColorConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MinBlobSize int  `mapstructure:"min_blob_size"`
}

// RegionConfig holds the regional voter settings.
type RegionConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	GridSize         int  `mapstructure:"grid_size"`
	MinActiveRegions int  `mapstructure:"min_active_regions"`
}

// ColorFirstConfig holds color-blob tracker settings for color_first mode.
type ColorFirstConfig struct {
	MinBlobSize      int     `mapstructure:"min_blob_size"`
	MaxMatchDistance float64 `mapstructure:"max_match_distance"`
	MinBlobMovement  float64 `mapstructure:"min_blob_movement"`
	MinBlobLifetime  int     `mapstructure:"min_blob_lifetime"`
}

// WorkerPoolConfig holds the frame-processing worker pool settings.
type WorkerPoolConfig struct {
	PoolSize     int           `mapstructure:"pool_size"` // 0 = max(1, NumCPU-1)
	MaxQueueSize int           `mapstructure:"max_queue_size"`
	TaskTimeout  time.Duration `mapstructure:"task_timeout"`
}

// RecordingConfig holds motion recording configuration.
type RecordingConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	PreBuffer     time.Duration `mapstructure:"pre_buffer"`
	PostMotion    time.Duration `mapstructure:"post_motion"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
	OutputDir     string        `mapstructure:"output_dir"`
	FPS           int           `mapstructure:"fps"`
	VideoQuality  string        `mapstructure:"video_quality"` // low, medium, high
	VideoCodec    string        `mapstructure:"video_codec"`
	VideoPreset   string        `mapstructure:"video_preset"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	RetentionDays int           `mapstructure:"retention_days"`
	FFmpegPath    string        `mapstructure:"ffmpeg_path"` // empty = find in PATH
}

// DatabaseConfig holds the motion-history database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with COOPCAM_ and use underscores
// for nesting. Example: COOPCAM_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/coopcam")
		v.AddConfigPath("$HOME/.coopcam")
	}

	v.SetEnvPrefix("COOPCAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Phone camera apps print bare host:port addresses; accept them as-is.
	for i := range cfg.Sources {
		cfg.Sources[i].URL = urlutil.Normalize(cfg.Sources[i].URL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// decodeHook extends viper's default decoding so duration fields accept
// day and week suffixes ("1d", "2w") alongside the standard Go syntax.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		func(f reflect.Type, t reflect.Type, data any) (any, error) {
			if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
				return data, nil
			}
			return duration.Parse(data.(string))
		},
		mapstructure.StringToSliceHookFunc(","),
	)
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Motion defaults
	v.SetDefault("motion.enabled", true)
	v.SetDefault("motion.fps", defaultMotionFPS)
	v.SetDefault("motion.threshold", defaultMotionThreshold)
	v.SetDefault("motion.cooldown", defaultMotionCooldown)
	v.SetDefault("motion.width", defaultMotionWidth)
	v.SetDefault("motion.height", defaultMotionHeight)
	v.SetDefault("motion.detection_mode", "traditional")
	v.SetDefault("motion.shadow.enabled", false)
	v.SetDefault("motion.shadow.intensity", 0.5)
	v.SetDefault("motion.shadow.time_based_thresholds", false)
	v.SetDefault("motion.shadow.temporal", false)
	v.SetDefault("motion.color.enabled", false)
	v.SetDefault("motion.color.min_blob_size", 4)
	v.SetDefault("motion.regions.enabled", false)
	v.SetDefault("motion.regions.grid_size", 4)
	v.SetDefault("motion.regions.min_active_regions", 2)
	v.SetDefault("motion.color_first.min_blob_size", 4)
	v.SetDefault("motion.color_first.max_match_distance", 8.0)
	v.SetDefault("motion.color_first.min_blob_movement", 1.5)
	v.SetDefault("motion.color_first.min_blob_lifetime", 2)
	v.SetDefault("motion.worker_pool.pool_size", 0)
	v.SetDefault("motion.worker_pool.max_queue_size", defaultQueueSize)
	v.SetDefault("motion.worker_pool.task_timeout", defaultTaskTimeout)

	// Recording defaults
	v.SetDefault("recording.enabled", true)
	v.SetDefault("recording.pre_buffer", defaultPreBuffer)
	v.SetDefault("recording.post_motion", defaultPostMotion)
	v.SetDefault("recording.cooldown", defaultRecCooldown)
	v.SetDefault("recording.output_dir", "./recordings")
	v.SetDefault("recording.fps", defaultRecordingFPS)
	v.SetDefault("recording.video_quality", "medium")
	v.SetDefault("recording.video_codec", "libx264")
	v.SetDefault("recording.video_preset", "veryfast")
	v.SetDefault("recording.max_concurrent", defaultMaxEncodes)
	v.SetDefault("recording.retention_days", defaultRetentionDays)
	v.SetDefault("recording.ffmpeg_path", "")

	// Database defaults
	v.SetDefault("database.path", "coopcam.db")

	// Pause defaults
	v.SetDefault("pause_duration", defaultPauseDuration)
}

// Validate checks the configuration for errors. Configuration errors are
// fatal at startup; everything else is recovered at runtime.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one stream source is required")
	}
	defaults := 0
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("sources[%d].id is required", i)
		}
		if s.ID == "default" {
			return fmt.Errorf("sources[%d].id: %q is a reserved alias", i, s.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("sources[%d].id: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
		if s.URL == "" {
			return fmt.Errorf("sources[%d].url is required", i)
		}
		if s.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		return fmt.Errorf("exactly one source must have is_default set, got %d", defaults)
	}

	validModes := map[string]bool{"traditional": true, "color_filter": true, "color_first": true}
	if !validModes[c.Motion.DetectionMode] {
		return fmt.Errorf("motion.detection_mode must be one of: traditional, color_filter, color_first")
	}
	if c.Motion.FPS < 1 {
		return fmt.Errorf("motion.fps must be at least 1")
	}
	if c.Motion.Width < 1 || c.Motion.Height < 1 {
		return fmt.Errorf("motion.width and motion.height must be positive")
	}
	for i, b := range c.Motion.IgnoredYBands {
		if b.Start < 0 || b.End < b.Start {
			return fmt.Errorf("motion.ignored_y_bands[%d]: invalid range [%d, %d]", i, b.Start, b.End)
		}
	}

	validQualities := map[string]bool{"low": true, "medium": true, "high": true}
	if !validQualities[c.Recording.VideoQuality] {
		return fmt.Errorf("recording.video_quality must be one of: low, medium, high")
	}
	if c.Recording.Enabled && c.Recording.OutputDir == "" {
		return fmt.Errorf("recording.output_dir is required when recording is enabled")
	}
	if c.Recording.MaxConcurrent < 1 {
		return fmt.Errorf("recording.max_concurrent must be at least 1")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	return nil
}

// DefaultSource returns the source flagged as default.
// Validate guarantees exactly one exists.
func (c *Config) DefaultSource() SourceConfig {
	for _, s := range c.Sources {
		if s.IsDefault {
			return s
		}
	}
	return SourceConfig{}
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
