package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// TorBox cloud signals for the usenet secondary stage
const (
	CloudSignalDownloadPresent = "download_present"
	CloudSignalFiles           = "files"
)

// Config holds application configuration
type Config struct {
	// Provider credentials. A provider is available when its token is set.
	RealDebridToken string
	AllDebridToken  string
	PremiumizeToken string
	TorBoxToken     string

	ProviderPriority []ProviderName
	Hosters          []string

	// Poller configuration
	PollInterval     time.Duration
	PollTimeout      time.Duration
	MaxPollAttempts  int
	TransientRetries int
	TransientBackoff time.Duration

	// HTTP configuration
	RequestTimeout   time.Duration
	APIRatePerSecond int
	Proxy            string
	UserAgent        string
	Parallel         int

	TorBoxCloudSignal string

	// Logging configuration
	LogLevel    string
	EnableDebug bool
	QuietMode   bool
	LogFile     string
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ProviderPriority: append([]ProviderName(nil), DefaultPriority...),
		Hosters: []string{
			"1fichier.com",
			"rapidgator.net",
			"uptobox.com",
			"turbobit.net",
			"nitroflare.com",
			"mediafire.com",
			"katfile.com",
			"ddownload.com",
			"filefactory.com",
			"uploaded.net",
			"hitfile.net",
			"dropbox.com",
			"drive.google.com",
		},

		PollInterval:     3 * time.Second,
		PollTimeout:      30 * time.Minute,
		MaxPollAttempts:  0,
		TransientRetries: 3,
		TransientBackoff: time.Second,

		RequestTimeout:   30 * time.Second,
		APIRatePerSecond: 4,
		UserAgent:        "onedl/1.0",
		Parallel:         2,

		TorBoxCloudSignal: CloudSignalDownloadPresent,

		// Logging defaults
		LogLevel:    "info",
		EnableDebug: false,
		QuietMode:   false,
		LogFile:     "", // Empty means stderr
	}
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing default file is not an error.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() {
	c.RealDebridToken = GetEnvWithDefault("REAL_DEBRID_API_TOKEN", c.RealDebridToken)
	c.AllDebridToken = GetEnvWithDefault("ALLDEBRID_API_TOKEN", c.AllDebridToken)
	c.PremiumizeToken = GetEnvWithDefault("PREMIUMIZE_API_TOKEN", c.PremiumizeToken)
	c.TorBoxToken = GetEnvWithDefault("TORBOX_API_TOKEN", c.TorBoxToken)

	if v := os.Getenv("ONEDL_POLL_INTERVAL"); v != "" {
		if d, err := parseDuration(v); err == nil && d > 0 {
			c.PollInterval = d
		}
	}

	if v := os.Getenv("ONEDL_POLL_TIMEOUT"); v != "" {
		if d, err := parseDuration(v); err == nil && d > 0 {
			c.PollTimeout = d
		}
	}

	if v := os.Getenv("ONEDL_MAX_POLLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.MaxPollAttempts = n
		}
	}

	if v := os.Getenv("ONEDL_PROVIDER_PRIORITY"); v != "" {
		if p, err := ParsePriority(v); err == nil {
			c.ProviderPriority = p
		}
	}

	if v := os.Getenv("ONEDL_HOSTERS"); v != "" {
		c.Hosters = splitList(v)
	}

	c.Proxy = GetEnvWithDefault("ONEDL_PROXY", c.Proxy)
	c.TorBoxCloudSignal = GetEnvWithDefault("ONEDL_TORBOX_CLOUD_SIGNAL", c.TorBoxCloudSignal)

	// Load logging configuration from environment
	if logLevel := os.Getenv("ONEDL_LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}

	if debug := os.Getenv("ONEDL_DEBUG"); debug != "" {
		c.EnableDebug = debug == "true" || debug == "1"
	}

	if quiet := os.Getenv("ONEDL_QUIET"); quiet != "" {
		c.QuietMode = quiet == "true" || quiet == "1"
	}

	if logFile := os.Getenv("ONEDL_LOG_FILE"); logFile != "" {
		c.LogFile = logFile
	}
}

// Token returns the credential configured for provider
func (c *Config) Token(provider ProviderName) string {
	switch provider {
	case RealDebrid:
		return c.RealDebridToken
	case AllDebrid:
		return c.AllDebridToken
	case Premiumize:
		return c.PremiumizeToken
	case TorBox:
		return c.TorBoxToken
	default:
		return ""
	}
}

// ConfiguredProviders returns providers with a credential, in priority order
func (c *Config) ConfiguredProviders() []ProviderName {
	var out []ProviderName
	for _, p := range c.ProviderPriority {
		if c.Token(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetEnvWithDefault returns environment variable value or default
func GetEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ParsePriority parses a comma separated provider list. Providers not named
// keep their default relative order after the named ones.
func ParsePriority(s string) ([]ProviderName, error) {
	seen := make(map[ProviderName]bool)
	var out []ProviderName
	for _, item := range splitList(s) {
		p, ok := ParseProviderName(strings.ToLower(item))
		if !ok {
			return nil, NewValidationErrorWithValue("provider_priority", "unknown provider", item).
				WithSuggestion("Use realdebrid, alldebrid, premiumize or torbox")
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range DefaultPriority {
		if !seen[p] {
			out = append(out, p)
		}
	}
	return out, nil
}

// ValidateConfig validates the configuration values
func (c *Config) ValidateConfig() error {
	if c.PollInterval <= 0 {
		return NewValidationErrorWithValue("poll_interval", "must be greater than zero", c.PollInterval).
			WithSuggestion("Use a duration such as 3s")
	}

	if c.PollTimeout < c.PollInterval {
		return NewValidationErrorWithValue("poll_timeout", "must not be shorter than the poll interval", c.PollTimeout).
			WithContext("poll_interval", c.PollInterval)
	}

	if c.MaxPollAttempts < 0 {
		return NewValidationErrorWithValue("max_poll_attempts", "must be >= 0", c.MaxPollAttempts)
	}

	if c.TransientRetries < 0 {
		return NewValidationErrorWithValue("transient_retries", "must be >= 0", c.TransientRetries)
	}

	if c.Parallel < 1 || c.Parallel > 16 {
		return NewValidationErrorWithValue("parallel", "must be between 1 and 16", c.Parallel)
	}

	if c.APIRatePerSecond < 1 {
		return NewValidationErrorWithValue("api_rate", "must be at least 1 request per second", c.APIRatePerSecond)
	}

	if len(c.ProviderPriority) == 0 {
		return NewValidationError("provider_priority", "cannot be empty")
	}

	switch c.TorBoxCloudSignal {
	case CloudSignalDownloadPresent, CloudSignalFiles:
	default:
		return NewValidationErrorWithValue("torbox_cloud_signal", "unknown signal", c.TorBoxCloudSignal).
			WithSuggestion("Use download_present or files")
	}

	return nil
}

// parseDuration accepts Go durations and bare seconds
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
