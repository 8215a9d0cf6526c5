package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "empty login url",
			mutate: func(cfg *Config) {
				cfg.Target.LoginURL = ""
			},
			wantErr: "login URL",
		},
		{
			name: "invalid listing url format",
			mutate: func(cfg *Config) {
				cfg.Target.ListingURL = "http://"
			},
			wantErr: "listing URL",
		},
		{
			name: "half credentials",
			mutate: func(cfg *Config) {
				cfg.Credentials.Email = "shop@example.com"
			},
			wantErr: "credentials",
		},
		{
			name: "max delay below min",
			mutate: func(cfg *Config) {
				cfg.Pacing.MinDelay = 5 * time.Second
				cfg.Pacing.MaxDelay = time.Second
			},
			wantErr: "max delay",
		},
		{
			name: "zero batch size",
			mutate: func(cfg *Config) {
				cfg.Pacing.BatchSize = 0
			},
			wantErr: "batch size",
		},
		{
			name: "negative retries",
			mutate: func(cfg *Config) {
				cfg.Retry.MaxRetries = -1
			},
			wantErr: "max retries",
		},
		{
			name: "backoff above max",
			mutate: func(cfg *Config) {
				cfg.Retry.Backoff = time.Minute
				cfg.Retry.BackoffMax = time.Second
			},
			wantErr: "retry backoff",
		},
		{
			name: "zero lookup timeout",
			mutate: func(cfg *Config) {
				cfg.Browser.LookupTimeout = 0
			},
			wantErr: "lookup timeout",
		},
		{
			name: "unknown results format",
			mutate: func(cfg *Config) {
				cfg.Files.ResultsFormat = "xml"
			},
			wantErr: "results format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
credentials:
  email: shop@example.com
  password: hunter2
pacing:
  min_delay: 1s
  max_delay: 3s
  max_per_hour: 20
browser:
  headless: true
files:
  input: data/products.csv
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Credentials.Email != "shop@example.com" || cfg.Credentials.Password != "hunter2" {
		t.Fatalf("credentials = %+v", cfg.Credentials)
	}
	if cfg.Pacing.MinDelay != time.Second || cfg.Pacing.MaxDelay != 3*time.Second {
		t.Fatalf("pacing = %+v", cfg.Pacing)
	}
	if cfg.Pacing.BatchSize != DefaultConfig().Pacing.BatchSize {
		t.Fatalf("batch size default lost: %d", cfg.Pacing.BatchSize)
	}
	if !cfg.Browser.Headless || cfg.Files.Input != "data/products.csv" {
		t.Fatalf("browser/files = %+v %+v", cfg.Browser, cfg.Files)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config should validate: %v", err)
	}
}

func TestLoadJSONDocument(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.json")
	doc := `{"retry": {"max_retries": 1}, "metrics_addr": ":9090"}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Retry.MaxRetries != 1 || cfg.MetricsAddr != ":9090" {
		t.Fatalf("retry=%d metrics=%q", cfg.Retry.MaxRetries, cfg.MetricsAddr)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("UPLOADER_EMAIL", "env@example.com")
	t.Setenv("UPLOADER_PASSWORD", "secret")
	t.Setenv("UPLOADER_HEADLESS", "true")
	t.Setenv("UPLOADER_MAX_PER_HOUR", "12")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Credentials.Email != "env@example.com" || cfg.Credentials.Password != "secret" {
		t.Fatalf("credentials = %+v", cfg.Credentials)
	}
	if !cfg.Browser.Headless || cfg.Pacing.MaxPerHour != 12 {
		t.Fatalf("headless=%v max_per_hour=%d", cfg.Browser.Headless, cfg.Pacing.MaxPerHour)
	}
}

func TestApplyEnvReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("UPLOADER_EMAIL=dot@example.com\nUPLOADER_PASSWORD=pw\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("UPLOADER_EMAIL")
		os.Unsetenv("UPLOADER_PASSWORD")
	})

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Credentials.Email != "dot@example.com" {
		t.Fatalf("email = %q, want value from .env", cfg.Credentials.Email)
	}
}

func TestApplyEnvRejectsBadBool(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("UPLOADER_HEADLESS", "sometimes")
	if err := DefaultConfig().ApplyEnv(); err == nil {
		t.Fatalf("expected error for invalid UPLOADER_HEADLESS")
	}
}

func TestApplyEnvFilePaths(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("UPLOADER_INPUT", "batch.csv")
	t.Setenv("UPLOADER_SELECTORS", "shop.json")
	t.Setenv("UPLOADER_METRICS_ADDR", ":9100")

	cfg := DefaultConfig()
	cfg.Files.Input = "from-yaml.csv"
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Files.Input != "batch.csv" || cfg.Files.Selectors != "shop.json" || cfg.MetricsAddr != ":9100" {
		t.Fatalf("files=%+v metrics=%q", cfg.Files, cfg.MetricsAddr)
	}
}

func TestLoadListingDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := "defaults:\n  tags: [\"poster\", \"print\"]\n  category_path: \"Art:Posters\"\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if strings.Join(cfg.Defaults.Tags, "|") != "poster|print" || cfg.Defaults.CategoryPath != "Art:Posters" {
		t.Fatalf("defaults = %+v", cfg.Defaults)
	}

	if len(DefaultConfig().Defaults.Tags) == 0 || DefaultConfig().Defaults.CategoryPath == "" {
		t.Fatalf("built-in listing defaults are empty")
	}

	cfg.Defaults.Tags = []string{"ok", " "}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "default tags") {
		t.Fatalf("err=%v, want default tags error", err)
	}
}
