// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Source   SourceConfig   `mapstructure:"source"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Images   ImagesConfig   `mapstructure:"images"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SourceConfig describes the contest listing page.
type SourceConfig struct {
	URL           string          `mapstructure:"url"`
	UserAgent     string          `mapstructure:"user_agent"`
	Timezone      string          `mapstructure:"timezone"`
	Headless      bool            `mapstructure:"headless"`
	RespectRobots bool            `mapstructure:"respect_robots"`
	Selectors     SelectorsConfig `mapstructure:"selectors"`
}

// SelectorsConfig holds the CSS selectors that locate contest fields.
type SelectorsConfig struct {
	Container    string `mapstructure:"container"`
	Item         string `mapstructure:"item"`
	Name         string `mapstructure:"name"`
	NameAttr     string `mapstructure:"name_attr"`
	Deadline     string `mapstructure:"deadline"`
	DeadlineAttr string `mapstructure:"deadline_attr"`
	Link         string `mapstructure:"link"`
	Graphic      string `mapstructure:"graphic"`
	GraphicAttr  string `mapstructure:"graphic_attr"`
	Entries      string `mapstructure:"entries"`
}

// RefreshConfig sets the scheduler cadence.
type RefreshConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// HTTPConfig configures outbound request timeouts and image retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	ImageRPS         float64 `mapstructure:"image_rps"`
}

// HeadlessConfig configures the headless rendering fetcher.
type HeadlessConfig struct {
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// CropConfig is a rectangle in source-image pixels. A zero width or height
// means a centered crop matching the output aspect ratio.
type CropConfig struct {
	X      int `mapstructure:"x"`
	Y      int `mapstructure:"y"`
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

// ImagesConfig controls thumbnail derivation.
type ImagesConfig struct {
	Dir           string     `mapstructure:"dir"`
	URLPrefix     string     `mapstructure:"url_prefix"`
	Width         int        `mapstructure:"width"`
	Height        int        `mapstructure:"height"`
	Crop          CropConfig `mapstructure:"crop"`
	CaptionHeight int        `mapstructure:"caption_height"`
	PaletteSize   int        `mapstructure:"palette_size"`
	OnFailure     string     `mapstructure:"on_failure"`
}

// Image failure policies.
const (
	OnFailureExclude = "exclude"
	OnFailureOmit    = "omit"
)

// StorageConfig selects where derived images are persisted.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CONTESTBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("source.url", "https://www.instructables.com/contest/")
	v.SetDefault("source.user_agent", "contestboard/1.0 (+https://github.com/JakeFAU/contestboard)")
	v.SetDefault("source.timezone", "UTC")
	v.SetDefault("source.headless", false)
	v.SetDefault("source.respect_robots", true)
	v.SetDefault("source.selectors.container", "#cur-contests")
	v.SetDefault("source.selectors.item", "div.contest-banner")
	v.SetDefault("source.selectors.name", "img")
	v.SetDefault("source.selectors.name_attr", "alt")
	v.SetDefault("source.selectors.deadline", "span.contest-meta-deadline")
	v.SetDefault("source.selectors.deadline_attr", "data-deadline")
	v.SetDefault("source.selectors.link", "a")
	v.SetDefault("source.selectors.graphic", "img")
	v.SetDefault("source.selectors.graphic_attr", "src")
	v.SetDefault("source.selectors.entries", "span.contest-meta-count")
	v.SetDefault("refresh.interval_minutes", 60)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("http.image_rps", 2.0)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("images.dir", "static/images")
	v.SetDefault("images.url_prefix", "images")
	v.SetDefault("images.width", 320)
	v.SetDefault("images.height", 240)
	v.SetDefault("images.crop.x", 0)
	v.SetDefault("images.crop.y", 0)
	v.SetDefault("images.crop.width", 0)
	v.SetDefault("images.crop.height", 0)
	v.SetDefault("images.caption_height", 40)
	v.SetDefault("images.palette_size", 256)
	v.SetDefault("images.on_failure", OnFailureExclude)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "contest-snapshots")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Source.URL) == "" {
		return fmt.Errorf("source.url is required")
	}
	if c.Source.Selectors.Container == "" || c.Source.Selectors.Item == "" {
		return fmt.Errorf("source.selectors.container and source.selectors.item are required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Refresh.IntervalMinutes <= 0 {
		return fmt.Errorf("refresh.interval_minutes must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Images.Width <= 0 || c.Images.Height <= 0 {
		return fmt.Errorf("images.width and images.height must be > 0")
	}
	if c.Images.CaptionHeight < 0 || c.Images.CaptionHeight >= c.Images.Height {
		return fmt.Errorf("images.caption_height must be in [0, images.height)")
	}
	if c.Images.PaletteSize < 2 || c.Images.PaletteSize > 256 {
		return fmt.Errorf("images.palette_size must be between 2 and 256")
	}
	if c.Images.Crop.X < 0 || c.Images.Crop.Y < 0 || c.Images.Crop.Width < 0 || c.Images.Crop.Height < 0 {
		return fmt.Errorf("images.crop values must be >= 0")
	}
	switch c.Images.OnFailure {
	case OnFailureExclude, OnFailureOmit:
	default:
		return fmt.Errorf("images.on_failure must be %q or %q", OnFailureExclude, OnFailureOmit)
	}
	switch c.Storage.Backend {
	case "local":
		if strings.TrimSpace(c.Images.Dir) == "" {
			return fmt.Errorf("images.dir is required for the local storage backend")
		}
	case "memory":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs storage backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// Location resolves source.timezone.
func (c Config) Location() (*time.Location, error) {
	name := c.Source.Timezone
	if name == "" {
		name = "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("source.timezone %q: %w", name, err)
	}
	return loc, nil
}

// RefreshInterval is the delay between the end of one build and the start of the next.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Refresh.IntervalMinutes) * time.Minute
}

// RequestTimeout bounds every outbound fetch.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
