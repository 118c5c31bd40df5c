// Package config loads, validates, and normalises suite configuration.
//
// Values are layered: built-in defaults, then YAML files, then environment
// variable overrides. The CLI and the go test suites share the same schema.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL    = "https://bookstore.toolsqa.com"
	DefaultPassword   = "Automation@!@123"
	DefaultUserPrefix = "User"

	defaultTimeout          = 30 * time.Second
	defaultUserAgent        = "bookstore-e2e"
	defaultRateLimitRPS     = 5.0
	defaultRateLimitBurst   = 1
	defaultConcurrency      = 1
	defaultPreflightPath    = "/"
	defaultPreflightTimeout = 5 * time.Second
	defaultContractEnabled  = true
	defaultPreflightEnabled = true

	defaultConfigEnvVar = "BOOKSTORE_CONFIG"
	envBaseURL          = "BOOKSTORE_BASE_URL"
	envTimeout          = "BOOKSTORE_TIMEOUT_MS"
	envUserAgent        = "BOOKSTORE_USER_AGENT"
	envRateLimitRPS     = "BOOKSTORE_RATE_LIMIT_RPS"
	envFixtures         = "BOOKSTORE_FIXTURES"
	envPassword         = "BOOKSTORE_PASSWORD"
	envUserPrefix       = "BOOKSTORE_USER_PREFIX"
	envConcurrency      = "BOOKSTORE_CONCURRENCY"
	envContractEnabled  = "BOOKSTORE_CONTRACT_ENABLED"
	envPreflightEnabled = "BOOKSTORE_PREFLIGHT_ENABLED"
	envHistoryDSN       = "BOOKSTORE_HISTORY_DSN"
	envMetricsTextfile  = "BOOKSTORE_METRICS_TEXTFILE"
	envMetricsNamespace = "BOOKSTORE_METRICS_NAMESPACE"
	envIgnoreKeys       = "BOOKSTORE_IGNORE_KEYS"
)

// Config captures everything a suite run needs.
type Config struct {
	BaseURL   string          `yaml:"baseURL"`
	Client    ClientConfig    `yaml:"client"`
	Fixtures  FixturesConfig  `yaml:"fixtures"`
	Positive  PositiveConfig  `yaml:"positive"`
	Suite     SuiteConfig     `yaml:"suite"`
	Contract  ContractConfig  `yaml:"contract"`
	Preflight PreflightConfig `yaml:"preflight"`
	History   HistoryConfig   `yaml:"history"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ClientConfig tunes the HTTP client used against the bookstore.
type ClientConfig struct {
	Timeout   Duration        `yaml:"timeout"`
	UserAgent string          `yaml:"userAgent"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig spaces outgoing calls. RPS <= 0 disables throttling.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// FixturesConfig points at the negative-case fixture file. An empty path
// selects the fixture file compiled into the binary.
type FixturesConfig struct {
	Path string `yaml:"path"`
}

// PositiveConfig controls the credentials used by the positive scenario.
type PositiveConfig struct {
	UserPrefix string `yaml:"userPrefix"`
	Password   string `yaml:"password"`
}

// SuiteConfig controls case scheduling and comparison.
type SuiteConfig struct {
	Concurrency int `yaml:"concurrency"`
	// IgnoreKeys are stripped at any depth from expected and actual bodies
	// before comparison, e.g. userID or token values that change per run.
	IgnoreKeys []string `yaml:"ignoreKeys"`
}

// ContractConfig toggles OpenAPI response validation.
type ContractConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PreflightConfig controls the reachability probe run before the suite.
type PreflightConfig struct {
	Enabled bool     `yaml:"enabled"`
	Path    string   `yaml:"path"`
	Timeout Duration `yaml:"timeout"`
}

// HistoryConfig selects the SQLite ledger. Empty DSN disables it.
type HistoryConfig struct {
	DSN string `yaml:"dsn"`
}

// MetricsConfig selects where metrics are written after a run.
type MetricsConfig struct {
	Textfile  string `yaml:"textfile"`
	Namespace string `yaml:"namespace"`
}

// Duration is a YAML-friendly wrapper over time.Duration supporting numeric millisecond inputs.
type Duration time.Duration

// AsDuration returns the underlying time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.AsDuration().String(), nil
}

// UnmarshalYAML decodes scalar duration values from either Go duration strings or millisecond integers.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}

	txt := strings.TrimSpace(value.Value)
	if txt == "" {
		*d = Duration(0)
		return nil
	}
	if ms, err := strconv.Atoi(txt); err == nil {
		if ms < 0 {
			return fmt.Errorf("duration must be non-negative, got %d", ms)
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(txt)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", txt, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration must be non-negative, got %s", parsed)
	}
	*d = Duration(parsed)
	return nil
}

// DurationFrom constructs a Duration from a time.Duration.
func DurationFrom(d time.Duration) Duration {
	return Duration(d)
}

// Default returns baseline configuration values.
func Default() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Client: ClientConfig{
			Timeout:   DurationFrom(defaultTimeout),
			UserAgent: defaultUserAgent,
			RateLimit: RateLimitConfig{
				RPS:   defaultRateLimitRPS,
				Burst: defaultRateLimitBurst,
			},
		},
		Positive: PositiveConfig{
			UserPrefix: DefaultUserPrefix,
			Password:   DefaultPassword,
		},
		Suite: SuiteConfig{
			Concurrency: defaultConcurrency,
		},
		Contract: ContractConfig{
			Enabled: defaultContractEnabled,
		},
		Preflight: PreflightConfig{
			Enabled: defaultPreflightEnabled,
			Path:    defaultPreflightPath,
			Timeout: DurationFrom(defaultPreflightTimeout),
		},
	}
}

// Option customises the load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	paths     []string
	lookupEnv func(string) (string, bool)
}

// WithPath adds a YAML config path to attempt loading.
func WithPath(path string) Option {
	return func(o *loaderOptions) {
		if strings.TrimSpace(path) != "" {
			o.paths = append(o.paths, path)
		}
	}
}

// WithLookupEnv overrides the environment lookup function (useful for tests).
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(o *loaderOptions) {
		o.lookupEnv = fn
	}
}

// Load builds a Config from defaults, YAML files, and environment overrides (in that order).
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.lookupEnv == nil {
		options.lookupEnv = os.LookupEnv
	}
	if envPath, ok := options.lookupEnv(defaultConfigEnvVar); ok && strings.TrimSpace(envPath) != "" {
		options.paths = append([]string{strings.TrimSpace(envPath)}, options.paths...)
	}

	cfg := Default()

	for _, path := range options.paths {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config %q: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg, options.lookupEnv); err != nil {
		return cfg, err
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		val, ok := lookup(key)
		val = strings.TrimSpace(val)
		return val, ok && val != ""
	}

	if val, ok := get(envBaseURL); ok {
		cfg.BaseURL = val
	}

	if val, ok := get(envTimeout); ok {
		timeout, err := parsePositiveDurationMillis(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envTimeout, err)
		}
		cfg.Client.Timeout = DurationFrom(timeout)
	}

	if val, ok := get(envUserAgent); ok {
		cfg.Client.UserAgent = val
	}

	if val, ok := get(envRateLimitRPS); ok {
		rps, err := strconv.ParseFloat(val, 64)
		if err != nil || rps < 0 {
			return fmt.Errorf("invalid %s: %s", envRateLimitRPS, val)
		}
		cfg.Client.RateLimit.RPS = rps
	}

	if val, ok := get(envFixtures); ok {
		cfg.Fixtures.Path = val
	}

	if val, ok := get(envPassword); ok {
		cfg.Positive.Password = val
	}

	if val, ok := get(envUserPrefix); ok {
		cfg.Positive.UserPrefix = val
	}

	if val, ok := get(envConcurrency); ok {
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid %s: %s", envConcurrency, val)
		}
		cfg.Suite.Concurrency = n
	}

	if val, ok := get(envContractEnabled); ok {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envContractEnabled, err)
		}
		cfg.Contract.Enabled = enabled
	}

	if val, ok := get(envPreflightEnabled); ok {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envPreflightEnabled, err)
		}
		cfg.Preflight.Enabled = enabled
	}

	if val, ok := get(envHistoryDSN); ok {
		cfg.History.DSN = val
	}

	if val, ok := get(envMetricsTextfile); ok {
		cfg.Metrics.Textfile = val
	}

	if val, ok := get(envMetricsNamespace); ok {
		cfg.Metrics.Namespace = val
	}

	if val, ok := get(envIgnoreKeys); ok {
		cfg.Suite.IgnoreKeys = strings.Split(val, ",")
	}

	return nil
}

// normalize fills in defaults that may be missing after YAML/env overrides.
func (cfg *Config) normalize() {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Client.Timeout.AsDuration() <= 0 {
		cfg.Client.Timeout = DurationFrom(defaultTimeout)
	}
	if strings.TrimSpace(cfg.Client.UserAgent) == "" {
		cfg.Client.UserAgent = defaultUserAgent
	}
	if cfg.Client.RateLimit.RPS > 0 && cfg.Client.RateLimit.Burst <= 0 {
		cfg.Client.RateLimit.Burst = defaultRateLimitBurst
	}
	if strings.TrimSpace(cfg.Positive.UserPrefix) == "" {
		cfg.Positive.UserPrefix = DefaultUserPrefix
	}
	if cfg.Suite.Concurrency <= 0 {
		cfg.Suite.Concurrency = defaultConcurrency
	}
	cfg.Suite.IgnoreKeys = NormalizeKeys(cfg.Suite.IgnoreKeys)
	cfg.Preflight.Path = ensureLeadingSlash(strings.TrimSpace(cfg.Preflight.Path))
	if cfg.Preflight.Timeout.AsDuration() <= 0 {
		cfg.Preflight.Timeout = DurationFrom(defaultPreflightTimeout)
	}
}

// Validate performs semantic validation on the configuration.
func (cfg Config) Validate() error {
	var errs []error

	if cfg.BaseURL == "" {
		errs = append(errs, fmt.Errorf("baseURL is required"))
	} else if u, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("baseURL invalid: %w", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Errorf("baseURL must use http or https, got %q", u.Scheme))
	}
	if cfg.Client.Timeout.AsDuration() <= 0 {
		errs = append(errs, fmt.Errorf("client.timeout must be positive"))
	}
	if cfg.Client.RateLimit.RPS < 0 {
		errs = append(errs, fmt.Errorf("client.rateLimit.rps must not be negative"))
	}
	if cfg.Positive.Password == "" {
		errs = append(errs, fmt.Errorf("positive.password is required"))
	}
	if cfg.Suite.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("suite.concurrency must be positive"))
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// NormalizeKeys trims keys and drops blanks and duplicates, keeping order.
func NormalizeKeys(keys []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func parsePositiveDurationMillis(value string) (time.Duration, error) {
	ms, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if ms <= 0 {
		return 0, fmt.Errorf("value must be positive: %d", ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func ensureLeadingSlash(path string) string {
	if path == "" {
		return "/"
	}
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}
