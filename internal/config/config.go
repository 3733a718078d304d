package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyPath = errors.New("config path is empty")
	ErrNilConfig = errors.New("config is nil")
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS endpoint. file:// URLs and bare paths read local files.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// Color is copied onto every event of this source as its category colour.
	Color string `yaml:"color,omitempty" json:"color,omitempty"`
}

// SourceID returns ID, falling back to Name and then URL.
func (c ICSConfig) SourceID() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.Name != "":
		return c.Name
	default:
		return c.URL
	}
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// LayoutConfig controls the geometry of the time grid.
type LayoutConfig struct {
	PixelsPerMinute float64 `yaml:"pixels_per_minute" json:"pixels_per_minute"`
	ColumnGap       float64 `yaml:"column_gap" json:"column_gap"`
	// DayWidth is the width available to the events of one day column.
	DayWidth       float64 `yaml:"day_width" json:"day_width"`
	MinBlockHeight float64 `yaml:"min_block_height" json:"min_block_height"`
	// DayStartHour / DayEndHour bound the visible part of the day.
	DayStartHour int `yaml:"day_start_hour" json:"day_start_hour"`
	DayEndHour   int `yaml:"day_end_hour" json:"day_end_hour"`
	// Expand lets blocks widen into free neighbouring columns.
	Expand bool `yaml:"expand" json:"expand"`
}

// SnapshotConfig controls the headless browser capture.
type SnapshotConfig struct {
	// URL defaults to the week view served on Listen.
	URL            string `yaml:"url,omitempty" json:"url,omitempty"`
	Output         string `yaml:"output" json:"output"`
	Width          int    `yaml:"width" json:"width"`
	Height         int    `yaml:"height" json:"height"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used as canonical display zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays / BackfillDays bound the window events are expanded in.
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days"`
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	// ShowAllDay toggles the all-day strip in day and week views.
	ShowAllDay bool `yaml:"show_all_day" json:"show_all_day"`

	// CacheDir holds the per-feed HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	Layout   LayoutConfig   `yaml:"layout" json:"layout"`
	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot"`

	// BasicAuth, if set with both fields, protects every endpoint except
	// /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "UTC"
	defaultRefreshCron = "*/15 * * * *"
	defaultCacheDir    = "./var/ics-cache"
)

// DefaultLayout returns the grid geometry used when none is configured.
func DefaultLayout() LayoutConfig {
	return LayoutConfig{
		PixelsPerMinute: 1,
		ColumnGap:       2,
		DayWidth:        160,
		MinBlockHeight:  14,
		DayStartHour:    0,
		DayEndHour:      24,
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       defaultListen,
		Timezone:     defaultTimezone,
		WeekStart:    "monday",
		RefreshCron:  defaultRefreshCron,
		HorizonDays:  14,
		BackfillDays: 7,
		ShowAllDay:   true,
		CacheDir:     defaultCacheDir,
		LogLevel:     "info",
		LogFormat:    "console",
		ICS:          []ICSConfig{},
		Layout:       DefaultLayout(),
		Snapshot: SnapshotConfig{
			Output:         "./var/week.png",
			Width:          1304,
			Height:         984,
			TimeoutSeconds: 30,
		},
	}
}

// Normalize fills in missing or invalid values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch strings.ToLower(c.WeekStart) {
	case "monday", "sunday":
		c.WeekStart = strings.ToLower(c.WeekStart)
	default:
		// Unknown value; fall back to monday to avoid surprising layouts.
		c.WeekStart = "monday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 14
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}

	def := DefaultLayout()
	l := &c.Layout
	if l.PixelsPerMinute <= 0 {
		l.PixelsPerMinute = def.PixelsPerMinute
	}
	if l.ColumnGap < 0 {
		l.ColumnGap = 0
	}
	if l.DayWidth <= 0 {
		l.DayWidth = def.DayWidth
	}
	if l.MinBlockHeight < 0 {
		l.MinBlockHeight = 0
	}
	if l.DayStartHour < 0 || l.DayStartHour > 23 {
		l.DayStartHour = def.DayStartHour
	}
	if l.DayEndHour <= l.DayStartHour || l.DayEndHour > 24 {
		l.DayEndHour = def.DayEndHour
	}

	s := &c.Snapshot
	if s.Output == "" {
		s.Output = "./var/week.png"
	}
	if s.Width <= 0 {
		s.Width = 1304
	}
	if s.Height <= 0 {
		s.Height = 984
	}
	if s.TimeoutSeconds <= 0 {
		s.TimeoutSeconds = 30
	}
}

// Location resolves Timezone, falling back to UTC with an error when the
// name is unknown.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// FirstWeekday maps WeekStart onto a time.Weekday.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     permissions and returned.
//   - Otherwise the YAML is decoded and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory with 0700 if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return ErrEmptyPath
	}
	if cfg == nil {
		return ErrNilConfig
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".daygrid-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
