package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no configuration file is given.
const DefaultPath = "icssync.yaml"

// Placeholder views.
const (
	ViewSnapshot = "snapshot"
	ViewRefetch  = "refetch"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// GoogleSource selects a calendar of an authorized Google account.
type GoogleSource struct {
	Account    string `yaml:"account"`
	CalendarID string `yaml:"calendar_id"`
}

// SourceConfig describes one source calendar. Exactly one of URL and Google is set.
type SourceConfig struct {
	Name   string        `yaml:"name"`
	URL    string        `yaml:"url,omitempty"`
	Google *GoogleSource `yaml:"google,omitempty"`
	// Group is stored on events of this source that carry no group of their own.
	Group string `yaml:"group,omitempty"`
}

// DestinationConfig describes the CalDAV calendar written to.
type DestinationConfig struct {
	URL        string `yaml:"url"`
	CalendarID string `yaml:"calendar_id"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
}

// PlaceholderConfig controls removal of confirmed counterparts of placeholder events.
type PlaceholderConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Marker    string        `yaml:"marker"`
	Tolerance time.Duration `yaml:"tolerance"`
	// View is the event list matched against: the per-source snapshot with
	// successful updates applied, or a fresh read of the destination.
	View string `yaml:"view"`
}

// FetchConfig controls feed downloads.
type FetchConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// Dir receives temporary downloads. Empty means the system temp dir.
	Dir string `yaml:"dir,omitempty"`
	// CachePath enables the conditional GET cache when set.
	CachePath string `yaml:"cache_path,omitempty"`
}

// GoogleConfig holds OAuth settings shared by all Google sources.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`
	TokenDir     string `yaml:"token_dir,omitempty"`
	WindowDays   int    `yaml:"window_days"`
}

// Config is the top-level application configuration.
type Config struct {
	Sources []SourceConfig `yaml:"sources"`
	// CalendarURLs is a shorthand for URL sources without a name.
	CalendarURLs []string          `yaml:"calendar_urls,omitempty"`
	Destination  DestinationConfig `yaml:"destination"`

	ServiceDelay      time.Duration `yaml:"service_delay"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	Workers           int           `yaml:"workers"`
	// Timezone is the IANA zone used for floating times and dates.
	Timezone string `yaml:"timezone"`

	Placeholders PlaceholderConfig `yaml:"placeholders"`
	Fetch        FetchConfig       `yaml:"fetch"`
	Google       GoogleConfig      `yaml:"google"`

	// StatusListen is the address of the status endpoint. Empty disables it.
	StatusListen string `yaml:"status_listen,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing/zero values with defaults. Negative values are
// left alone so Validate can reject them.
func (c *Config) Normalize() {
	for _, u := range c.CalendarURLs {
		c.Sources = append(c.Sources, SourceConfig{URL: u})
	}
	c.CalendarURLs = nil
	for i := range c.Sources {
		if c.Sources[i].Name == "" {
			c.Sources[i].Name = fmt.Sprintf("source-%d", i+1)
		}
	}

	if c.ServiceDelay == 0 {
		c.ServiceDelay = 3 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}

	if c.Placeholders.Marker == "" {
		c.Placeholders.Marker = "*"
	}
	if c.Placeholders.Tolerance == 0 {
		c.Placeholders.Tolerance = 4 * 24 * time.Hour
	}
	if c.Placeholders.View == "" {
		c.Placeholders.View = ViewSnapshot
	}

	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Google.WindowDays == 0 {
		c.Google.WindowDays = 30
	}
	if c.Google.TokenDir == "" {
		c.Google.TokenDir = "."
	}
}

// ApplyEnv overrides secrets with environment variables when they are set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	for env, dst := range map[string]*string{
		"DESTINATION_USERNAME": &c.Destination.Username,
		"DESTINATION_PASSWORD": &c.Destination.Password,
		"GOOGLE_CLIENT_ID":     &c.Google.ClientID,
		"GOOGLE_CLIENT_SECRET": &c.Google.ClientSecret,
	} {
		if v, ok := lookup(env); ok && v != "" {
			*dst = v
		}
	}
}

// Validate reports the first setting that prevents the service from running.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return invalid("the calendar urls are empty")
	}
	names := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		hasURL := strings.TrimSpace(s.URL) != ""
		switch {
		case hasURL && s.Google != nil:
			return invalid("source %q sets both url and google", s.Name)
		case !hasURL && s.Google == nil:
			return invalid("source %q has no url", s.Name)
		case s.Google != nil && (s.Google.Account == "" || s.Google.CalendarID == ""):
			return invalid("source %q needs a google account and calendar id", s.Name)
		}
		if names[s.Name] {
			return invalid("source name %q is used twice", s.Name)
		}
		names[s.Name] = true
	}

	if strings.TrimSpace(c.Destination.URL) == "" {
		return invalid("the destination calendar url is not set")
	}
	if strings.TrimSpace(c.Destination.CalendarID) == "" {
		return invalid("the destination calendar identifier is not set")
	}
	if c.ServiceDelay <= 0 {
		return invalid("the service delay is invalid")
	}
	if c.HeartbeatInterval <= 0 {
		return invalid("the heartbeat interval is invalid")
	}
	if strings.TrimSpace(c.Destination.Username) == "" {
		return invalid("the destination user name is not set")
	}
	if strings.TrimSpace(c.Destination.Password) == "" {
		return invalid("the destination password is not set")
	}

	if c.WriteTimeout <= 0 {
		return invalid("the write timeout is invalid")
	}
	if c.Fetch.Timeout <= 0 {
		return invalid("the fetch timeout is invalid")
	}
	if c.Workers < 0 {
		return invalid("the worker count is invalid")
	}
	if c.Google.WindowDays < 0 {
		return invalid("the google window is invalid")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return invalid("unknown timezone %q", c.Timezone)
	}

	p := c.Placeholders
	if p.Marker == "" {
		return invalid("the placeholder marker is empty")
	}
	if p.Tolerance <= 0 {
		return invalid("the placeholder tolerance is invalid")
	}
	if p.View != ViewSnapshot && p.View != ViewRefetch {
		return invalid("unknown placeholder view %q", p.View)
	}
	return nil
}

// Location returns the configured time zone, UTC if it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads configuration from the YAML file at path, applies environment
// overrides and fills in defaults. It does not validate.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	cfg.Normalize()

	return &cfg, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
}
