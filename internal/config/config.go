package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Event sources.
const (
	EventSourceGoogle   = "google"
	EventSourceICS      = "ics"
	EventSourceSnapshot = "snapshot"
)

// Patient sources.
const (
	PatientSourcePanel = "panel"
	PatientSourceFile  = "file"
	PatientSourceLocal = "local"
)

// Environment overrides.
const (
	EnvPanelURL   = "PANEL_APP_URL"
	EnvCronSecret = "CRON_SECRET"
)

const (
	defaultListen    = "127.0.0.1:8080"
	defaultTimezone  = "Europe/Istanbul"
	defaultSince     = "2024-01-01"
	defaultCron      = "0 7 * * *"
	defaultHospital  = "Asya"
	defaultPanelURL  = "http://localhost:3005"
	defaultSnapDir   = "./var/backups"
	defaultICSCache  = "./var/ics-cache"
	defaultLogLevel  = "info"
	defaultLogFormat = "console"
)

// ICSConfig describes a published iCal feed.
type ICSConfig struct {
	URL  string `yaml:"url" json:"url"`
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CalendarConfig selects the Google calendar and its service account.
type CalendarConfig struct {
	ID              string `yaml:"id" json:"id"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	// Since is the first day fetched, YYYY-MM-DD in the practice timezone.
	Since string `yaml:"since" json:"since"`
}

// SnapshotConfig locates local calendar backups.
type SnapshotConfig struct {
	Dir         string `yaml:"dir" json:"dir"`
	ArchiveFile string `yaml:"archive_file,omitempty" json:"archive_file,omitempty"`
}

// PatientsConfig selects where patient seeds come from.
type PatientsConfig struct {
	// Source is "panel", "file" or "local". Local builds seeds from this
	// instance's own registry.
	Source   string `yaml:"source" json:"source"`
	PanelURL string `yaml:"panel_url" json:"panel_url"`
	File     string `yaml:"file,omitempty" json:"file,omitempty"`
	// Mode is "supplement" (seeds plus calendar surgeries) or "substitute".
	// Substitute is not available with the local source.
	Mode string `yaml:"mode" json:"mode"`
}

// PeerConfig is a deployment probed by /api/system-status.
type PeerConfig struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone of the practice; calendar days, "today" and
	// the update schedule are evaluated in it.
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`

	// ICS feeds are used when EventSource is "ics".
	ICS         []ICSConfig `yaml:"ics" json:"ics"`
	ICSCacheDir string      `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	// EventSource is "google", "ics" or "snapshot". Live sources fall back
	// to the snapshot store.
	EventSource string `yaml:"event_source" json:"event_source"`

	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot"`
	Patients PatientsConfig `yaml:"patients" json:"patients"`

	DefaultHospital string `yaml:"default_hospital" json:"default_hospital"`

	// UpdateCron schedules the description updater (five-field cron).
	UpdateCron string `yaml:"update_cron" json:"update_cron"`

	StatusPeers []PeerConfig `yaml:"status_peers" json:"status_peers"`

	// CronSecret, when set, must be sent as a Bearer token to trigger the
	// updater over HTTP.
	CronSecret string `yaml:"cron_secret,omitempty" json:"-"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing values and resets unknown enum values.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		c.LogFormat = defaultLogFormat
	}

	if c.Calendar.ID == "" {
		c.Calendar.ID = "primary"
	}
	if c.Calendar.Since == "" {
		c.Calendar.Since = defaultSince
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			c.ICS[i].ID = fmt.Sprintf("ics-%d", i+1)
		}
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = defaultICSCache
	}

	switch c.EventSource {
	case EventSourceGoogle, EventSourceICS, EventSourceSnapshot:
	default:
		c.EventSource = EventSourceGoogle
	}
	if c.Snapshot.Dir == "" {
		c.Snapshot.Dir = defaultSnapDir
	}

	switch c.Patients.Source {
	case PatientSourcePanel, PatientSourceFile, PatientSourceLocal:
	default:
		c.Patients.Source = PatientSourcePanel
	}
	if c.Patients.PanelURL == "" {
		c.Patients.PanelURL = defaultPanelURL
	}
	switch c.Patients.Mode {
	case "supplement", "substitute":
	default:
		c.Patients.Mode = "supplement"
	}
	// A local source reads this instance's own registry, so it cannot seed it.
	if c.Patients.Source == PatientSourceLocal {
		c.Patients.Mode = "supplement"
	}

	if c.DefaultHospital == "" {
		c.DefaultHospital = defaultHospital
	}
	if c.UpdateCron == "" {
		c.UpdateCron = defaultCron
	}
	if c.StatusPeers == nil {
		c.StatusPeers = []PeerConfig{}
	}
}

// ApplyEnv overrides values from the environment. getenv is os.Getenv in
// production.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvPanelURL)); v != "" {
		c.Patients.PanelURL = v
	}
	if v := strings.TrimSpace(getenv(EnvCronSecret)); v != "" {
		c.CronSecret = v
	}
}

// Location loads the practice timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SinceTime returns midnight of Calendar.Since in loc.
func (c *Config) SinceTime(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, c.Calendar.Since, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: calendar.since %q: %w", c.Calendar.Since, err)
	}
	return t, nil
}

// Load loads configuration from the given YAML path. On first run the
// parent directory and a default file (0600) are created.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg atomically (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
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

	tmp, err := os.CreateTemp(dir, ".rinocal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
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
