package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Credentials are the storefront login. Empty credentials mean the browser
// profile already holds a session.
type Credentials struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// Target points at the storefront pages the uploader drives.
type Target struct {
	LoginURL    string `yaml:"login_url"`
	ListingURL  string `yaml:"listing_url"`
	LoginMarker string `yaml:"login_marker"`
}

// Pacing bounds the delays between operations.
type Pacing struct {
	MinDelay   time.Duration `yaml:"min_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	BatchSize  int           `yaml:"batch_size"`
	BatchPause time.Duration `yaml:"batch_pause"`
	MaxPerHour int           `yaml:"max_per_hour"`
	TypingMin  time.Duration `yaml:"typing_min"`
	TypingMax  time.Duration `yaml:"typing_max"`
}

// Retry controls per-product retries.
type Retry struct {
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	BackoffMax time.Duration `yaml:"backoff_max"`
}

// Browser configures the automated browser session.
type Browser struct {
	Headless        bool          `yaml:"headless"`
	UserDataDir     string        `yaml:"user_data_dir"`
	UserAgent       string        `yaml:"user_agent"`
	LookupTimeout   time.Duration `yaml:"lookup_timeout"`
	PageLoadTimeout time.Duration `yaml:"page_load_timeout"`
}

// Files lists the paths the uploader reads and writes.
type Files struct {
	Input         string `yaml:"input"`
	Selectors     string `yaml:"selectors"`
	OutputDir     string `yaml:"output_dir"`
	ResultsFormat string `yaml:"results_format"` // csv, json, or dual
}

// Challenge configures verification-challenge detection.
type Challenge struct {
	URLMarkers []string `yaml:"url_markers"`
	Prompt     bool     `yaml:"prompt"`
}

// Defaults fill listing fields left empty in the input file.
type Defaults struct {
	Tags         []string `yaml:"tags"`
	CategoryPath string   `yaml:"category_path"`
}

// Config holds uploader configuration.
type Config struct {
	Credentials Credentials `yaml:"credentials"`
	Target      Target      `yaml:"target"`
	Pacing      Pacing      `yaml:"pacing"`
	Retry       Retry       `yaml:"retry"`
	Browser     Browser     `yaml:"browser"`
	Files       Files       `yaml:"files"`
	Challenge   Challenge   `yaml:"challenge"`
	Defaults    Defaults    `yaml:"defaults"`
	MetricsAddr string      `yaml:"metrics_addr"`
	Verbose     bool        `yaml:"verbose"`
}

// DefaultConfig returns conservative defaults for a manual-looking run.
func DefaultConfig() *Config {
	return &Config{
		Target: Target{
			LoginURL:    "https://www.etsy.com/signin",
			ListingURL:  "https://www.etsy.com/your/shops/me/listing-editor/create",
			LoginMarker: "signin",
		},
		Pacing: Pacing{
			MinDelay:   2 * time.Second,
			MaxDelay:   10 * time.Second,
			BatchSize:  10,
			BatchPause: 5 * time.Minute,
			MaxPerHour: 50,
			TypingMin:  40 * time.Millisecond,
			TypingMax:  160 * time.Millisecond,
		},
		Retry: Retry{
			MaxRetries: 3,
			Backoff:    5 * time.Second,
			BackoffMax: 30 * time.Second,
		},
		Browser: Browser{
			Headless:        false,
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			LookupTimeout:   10 * time.Second,
			PageLoadTimeout: 30 * time.Second,
		},
		Files: Files{
			Input:         "products.csv",
			Selectors:     "selectors.json",
			OutputDir:     "logs",
			ResultsFormat: "csv",
		},
		Challenge: Challenge{
			URLMarkers: []string{"captcha", "challenge", "verify"},
			Prompt:     true,
		},
		Defaults: Defaults{
			Tags: []string{
				"digital art", "AI print", "wall decor", "modern art",
				"printable art", "digital download", "wall art", "poster art",
				"home decor", "instant download", "AI art", "contemporary art",
			},
			CategoryPath: "Art & Collectibles:Prints:Digital Prints",
		},
	}
}

// Load reads a YAML (or JSON) configuration document on top of the defaults
// and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv loads a .env file when present and overrides credentials and a few
// run switches from the environment.
func (c *Config) ApplyEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	if value, ok := EnvString("UPLOADER_EMAIL"); ok {
		c.Credentials.Email = value
	}
	if value, ok := EnvString("UPLOADER_PASSWORD"); ok {
		c.Credentials.Password = value
	}
	if value, ok := EnvString("UPLOADER_INPUT"); ok {
		c.Files.Input = value
	}
	if value, ok := EnvString("UPLOADER_SELECTORS"); ok {
		c.Files.Selectors = value
	}
	if value, ok := EnvString("UPLOADER_OUTPUT_DIR"); ok {
		c.Files.OutputDir = value
	}
	if value, ok := EnvString("UPLOADER_METRICS_ADDR"); ok {
		c.MetricsAddr = value
	}
	if value, ok, err := EnvBool("UPLOADER_HEADLESS"); err != nil {
		return fmt.Errorf("invalid UPLOADER_HEADLESS: %w", err)
	} else if ok {
		c.Browser.Headless = value
	}
	if value, ok, err := EnvInt("UPLOADER_MAX_PER_HOUR"); err != nil {
		return fmt.Errorf("invalid UPLOADER_MAX_PER_HOUR: %w", err)
	} else if ok {
		c.Pacing.MaxPerHour = value
	}
	return nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"login URL":   c.Target.LoginURL,
		"listing URL": c.Target.ListingURL,
	} {
		if raw == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("%s must include a host", name)
		}
	}
	if (c.Credentials.Email == "") != (c.Credentials.Password == "") {
		return fmt.Errorf("credentials need both email and password, or neither")
	}

	if c.Pacing.MinDelay < 0 {
		return fmt.Errorf("min delay cannot be negative")
	}
	if c.Pacing.MaxDelay < c.Pacing.MinDelay {
		return fmt.Errorf("max delay (%s) cannot be below min delay (%s)", c.Pacing.MaxDelay, c.Pacing.MinDelay)
	}
	if c.Pacing.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Pacing.BatchPause < 0 {
		return fmt.Errorf("batch pause cannot be negative")
	}
	if c.Pacing.MaxPerHour < 0 {
		return fmt.Errorf("max per hour cannot be negative")
	}
	if c.Pacing.TypingMin < 0 || c.Pacing.TypingMax < c.Pacing.TypingMin {
		return fmt.Errorf("typing delay bounds are invalid")
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Retry.Backoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.Retry.BackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.Retry.BackoffMax > 0 && c.Retry.Backoff > c.Retry.BackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.Retry.Backoff, c.Retry.BackoffMax)
	}

	if c.Browser.LookupTimeout <= 0 {
		return fmt.Errorf("lookup timeout must be positive")
	}
	if c.Browser.PageLoadTimeout <= 0 {
		return fmt.Errorf("page load timeout must be positive")
	}
	if c.Browser.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	if c.Files.Input == "" {
		return fmt.Errorf("input file cannot be empty")
	}
	if c.Files.Selectors == "" {
		return fmt.Errorf("selectors file cannot be empty")
	}
	if c.Files.OutputDir == "" {
		return fmt.Errorf("output dir cannot be empty")
	}
	for _, tag := range c.Defaults.Tags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("default tags cannot contain empty entries")
		}
	}

	switch strings.ToLower(c.Files.ResultsFormat) {
	case "csv", "json", "dual":
	default:
		return fmt.Errorf("results format must be csv, json, or dual")
	}

	return nil
}
