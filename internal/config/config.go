// Package config loads serpwatch settings from a YAML file, a .env file
// and SERPWATCH_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "SERPWATCH_"

// Error is a fatal configuration problem. It only ever stops a run before
// any session work starts.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fieldError(field, format string, args ...interface{}) *Error {
	return &Error{Field: field, Err: fmt.Errorf(format, args...)}
}

// Config is the full runtime configuration
type Config struct {
	TasksFile      string `yaml:"tasks_file" json:"tasks_file"`
	MaxPages       int    `yaml:"max_pages" json:"max_pages"`
	MaxRetries     int    `yaml:"max_retries" json:"max_retries"`
	OpenRetries    int    `yaml:"open_retries" json:"open_retries"`
	SessionPerTerm bool   `yaml:"session_per_term" json:"session_per_term"`
	StatusAddr     string `yaml:"status_addr" json:"status_addr"`

	Search    SearchConfig    `yaml:"search" json:"search"`
	Challenge ChallengeConfig `yaml:"challenge" json:"challenge"`
	Proxy     ProxyConfig     `yaml:"proxy" json:"proxy"`
	Backoff   BackoffConfig   `yaml:"backoff" json:"backoff"`
	Pacing    PacingConfig    `yaml:"pacing" json:"pacing"`
	Browser   BrowserConfig   `yaml:"browser" json:"browser"`
	Cycle     CycleConfig     `yaml:"cycle" json:"cycle"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// SearchConfig bounds the page walk
type SearchConfig struct {
	Profile         string        `yaml:"profile" json:"profile"`
	ResultTimeout   time.Duration `yaml:"result_timeout" json:"result_timeout"`
	PageTimeout     time.Duration `yaml:"page_timeout" json:"page_timeout"`
	WindowTimeout   time.Duration `yaml:"window_timeout" json:"window_timeout"`
	Dwell           time.Duration `yaml:"dwell" json:"dwell"`
	DwellSteps      int           `yaml:"dwell_steps" json:"dwell_steps"`
	PaginateRetries int           `yaml:"paginate_retries" json:"paginate_retries"`
}

// ChallengeConfig tunes challenge recovery
type ChallengeConfig struct {
	GracePeriod time.Duration `yaml:"grace_period" json:"grace_period"`
	Markers     []string      `yaml:"markers" json:"markers"`
	Phrases     []string      `yaml:"phrases" json:"phrases"`
	URLPatterns []string      `yaml:"url_patterns" json:"url_patterns"`
}

// ProxyConfig names the proxy sources
type ProxyConfig struct {
	File            string        `yaml:"file" json:"file"`
	APIURL          string        `yaml:"api_url" json:"api_url"`
	Required        bool          `yaml:"required" json:"required"`
	MaxFailures     uint          `yaml:"max_failures" json:"max_failures"`
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
}

// BackoffConfig shapes the wait before a session restart
type BackoffConfig struct {
	Base   time.Duration `yaml:"base" json:"base"`
	Max    time.Duration `yaml:"max" json:"max"`
	Jitter time.Duration `yaml:"jitter" json:"jitter"`
}

// PacingConfig spaces searches out
type PacingConfig struct {
	TermPauseMin    time.Duration `yaml:"term_pause_min" json:"term_pause_min"`
	TermPauseMax    time.Duration `yaml:"term_pause_max" json:"term_pause_max"`
	SearchesPerHour int           `yaml:"searches_per_hour" json:"searches_per_hour"`
	Burst           int           `yaml:"burst" json:"burst"`
}

// BrowserConfig selects the browser backend
type BrowserConfig struct {
	Backend       string        `yaml:"backend" json:"backend"`
	Headless      bool          `yaml:"headless" json:"headless"`
	Install       bool          `yaml:"install" json:"install"`
	DockerImage   string        `yaml:"docker_image" json:"docker_image"`
	LaunchTimeout time.Duration `yaml:"launch_timeout" json:"launch_timeout"`
}

// CycleConfig repeats whole runs
type CycleConfig struct {
	// RestartInterval is the pause between runs; zero runs once.
	RestartInterval time.Duration `yaml:"restart_interval" json:"restart_interval"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

const (
	BackendPlaywright = "playwright"
	BackendDocker     = "docker"
)

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		MaxPages:    5,
		MaxRetries:  3,
		OpenRetries: 2,
		Search: SearchConfig{
			Profile:         "google",
			ResultTimeout:   20 * time.Second,
			PageTimeout:     15 * time.Second,
			WindowTimeout:   10 * time.Second,
			Dwell:           5 * time.Second,
			DwellSteps:      5,
			PaginateRetries: 1,
		},
		Challenge: ChallengeConfig{
			GracePeriod: 5 * time.Second,
		},
		Proxy: ProxyConfig{
			MaxFailures:     3,
			RefreshInterval: 10 * time.Minute,
		},
		Backoff: BackoffConfig{
			Base:   20 * time.Second,
			Max:    2 * time.Minute,
			Jitter: 10 * time.Second,
		},
		Pacing: PacingConfig{
			TermPauseMin:    3 * time.Second,
			TermPauseMax:    8 * time.Second,
			SearchesPerHour: 120,
			Burst:           5,
		},
		Browser: BrowserConfig{
			Backend:       BackendPlaywright,
			Headless:      true,
			Install:       true,
			DockerImage:   "browserless/chrome:latest",
			LaunchTimeout: 60 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then .env files, then the environment.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Error{Field: "file", Err: fmt.Errorf("failed to read config file: %w", err)}
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return &Error{Field: "file", Err: fmt.Errorf("failed to parse config file: %w", err)}
	}
	return nil
}

// loadEnvFiles loads .env style files without overriding variables that are
// already set. A missing default .env is not an error.
func loadEnvFiles(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}

	if err := godotenv.Load(files...); err != nil {
		return &Error{Field: "env_file", Err: err}
	}
	return nil
}

// ApplyEnv overrides fields from SERPWATCH_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"TASKS_FILE":     &c.TasksFile,
		"STATUS_ADDR":    &c.StatusAddr,
		"SEARCH_PROFILE": &c.Search.Profile,
		"PROXY_FILE":     &c.Proxy.File,
		"PROXY_API_URL":  &c.Proxy.APIURL,
		"BROWSER":        &c.Browser.Backend,
		"DOCKER_IMAGE":   &c.Browser.DockerImage,
		"LOG_LEVEL":      &c.Log.Level,
		"LOG_FILE":       &c.Log.File,
	}
	ints := map[string]*int{
		"MAX_PAGES":         &c.MaxPages,
		"MAX_RETRIES":       &c.MaxRetries,
		"OPEN_RETRIES":      &c.OpenRetries,
		"DWELL_STEPS":       &c.Search.DwellSteps,
		"SEARCHES_PER_HOUR": &c.Pacing.SearchesPerHour,
	}
	bools := map[string]*bool{
		"SESSION_PER_TERM": &c.SessionPerTerm,
		"PROXY_REQUIRED":   &c.Proxy.Required,
		"HEADLESS":         &c.Browser.Headless,
		"BROWSER_INSTALL":  &c.Browser.Install,
	}
	durations := map[string]*time.Duration{
		"RESULT_TIMEOUT":         &c.Search.ResultTimeout,
		"PAGE_TIMEOUT":           &c.Search.PageTimeout,
		"DWELL":                  &c.Search.Dwell,
		"CHALLENGE_GRACE_PERIOD": &c.Challenge.GracePeriod,
		"PROXY_REFRESH_INTERVAL": &c.Proxy.RefreshInterval,
		"BACKOFF_BASE":           &c.Backoff.Base,
		"BACKOFF_MAX":            &c.Backoff.Max,
		"RESTART_INTERVAL":       &c.Cycle.RestartInterval,
	}

	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	for name, dst := range ints {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fieldError(EnvPrefix+name, "not an integer: %q", v)
		}
		*dst = n
	}
	for name, dst := range bools {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fieldError(EnvPrefix+name, "not a boolean: %q", v)
		}
		*dst = b
	}
	for name, dst := range durations {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fieldError(EnvPrefix+name, "not a duration: %q", v)
		}
		*dst = d
	}

	if v, ok := lookup(EnvPrefix + "MAX_FAILURES"); ok {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
		if err != nil {
			return fieldError(EnvPrefix+"MAX_FAILURES", "not a count: %q", v)
		}
		c.Proxy.MaxFailures = uint(n)
	}

	return nil
}

// Validate checks the configuration. Every failure is an *Error.
func (c *Config) Validate() error {
	var errs []error

	if c.MaxPages < 1 {
		errs = append(errs, fieldError("max_pages", "must be at least 1, got %d", c.MaxPages))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fieldError("max_retries", "cannot be negative"))
	}
	if c.OpenRetries < 1 {
		errs = append(errs, fieldError("open_retries", "must be at least 1, got %d", c.OpenRetries))
	}
	if c.Search.DwellSteps < 1 {
		errs = append(errs, fieldError("search.dwell_steps", "must be at least 1"))
	}
	if c.Search.PaginateRetries < 0 {
		errs = append(errs, fieldError("search.paginate_retries", "cannot be negative"))
	}

	for _, d := range []struct {
		field    string
		value    time.Duration
		positive bool
	}{
		{"search.result_timeout", c.Search.ResultTimeout, true},
		{"search.page_timeout", c.Search.PageTimeout, true},
		{"search.window_timeout", c.Search.WindowTimeout, true},
		{"browser.launch_timeout", c.Browser.LaunchTimeout, true},
		{"search.dwell", c.Search.Dwell, false},
		{"challenge.grace_period", c.Challenge.GracePeriod, false},
		{"backoff.base", c.Backoff.Base, false},
		{"backoff.max", c.Backoff.Max, false},
		{"backoff.jitter", c.Backoff.Jitter, false},
		{"pacing.term_pause_min", c.Pacing.TermPauseMin, false},
		{"pacing.term_pause_max", c.Pacing.TermPauseMax, false},
		{"proxy.refresh_interval", c.Proxy.RefreshInterval, false},
		{"cycle.restart_interval", c.Cycle.RestartInterval, false},
	} {
		switch {
		case d.positive && d.value <= 0:
			errs = append(errs, fieldError(d.field, "must be positive"))
		case d.value < 0:
			errs = append(errs, fieldError(d.field, "cannot be negative"))
		}
	}

	if c.Pacing.TermPauseMax < c.Pacing.TermPauseMin {
		errs = append(errs, fieldError("pacing.term_pause_max", "must not be below term_pause_min"))
	}
	if c.Backoff.Max > 0 && c.Backoff.Max < c.Backoff.Base {
		errs = append(errs, fieldError("backoff.max", "must not be below backoff.base"))
	}
	if c.Proxy.Required && c.Proxy.File == "" && c.Proxy.APIURL == "" {
		errs = append(errs, fieldError("proxy.required", "set but neither proxy.file nor proxy.api_url is configured"))
	}

	switch c.Browser.Backend {
	case BackendPlaywright, BackendDocker:
	default:
		errs = append(errs, fieldError("browser.backend", "unknown backend %q (must be %q or %q)",
			c.Browser.Backend, BackendPlaywright, BackendDocker))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fieldError("log.level", "invalid level %q (must be debug, info, warn or error)", c.Log.Level))
	}

	if len(errs) == 0 {
		return nil
	}
	return &Error{Err: errors.Join(errs...)}
}
