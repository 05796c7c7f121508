package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Faces.KnownThreshold <= cfg.Faces.UnknownThreshold {
		t.Errorf("known threshold %v should be stricter than unknown %v",
			cfg.Faces.KnownThreshold, cfg.Faces.UnknownThreshold)
	}
	if !cfg.Pipeline.DryRun {
		t.Error("expected dry run to default to true")
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
llm:
  backend: lmstudio
  model: qwen2-vl
  base_url: http://localhost:1234/v1
  timeout: 30s
faces:
  known_match_threshold: 0.8
  unknown_match_threshold: 0.5
  index: exact
pipeline:
  pipeline_version: "2.0"
  max_filename_length: 64
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LLM.Backend != "lmstudio" {
		t.Errorf("backend = %q, want lmstudio", cfg.LLM.Backend)
	}
	if cfg.LLM.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", cfg.LLM.Timeout)
	}
	if cfg.Faces.KnownThreshold != 0.8 {
		t.Errorf("known threshold = %v, want 0.8", cfg.Faces.KnownThreshold)
	}
	if cfg.Faces.Index != "exact" {
		t.Errorf("index = %q, want exact", cfg.Faces.Index)
	}
	if cfg.Pipeline.Version != "2.0" {
		t.Errorf("pipeline version = %q, want 2.0", cfg.Pipeline.Version)
	}
	// Untouched values keep their defaults.
	if cfg.Faces.VideoMaxFrames != 300 {
		t.Errorf("video max frames = %d, want 300", cfg.Faces.VideoMaxFrames)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MEDIA_ANNOTATOR_LLM_BACKEND", "ollama")
	t.Setenv("OLLAMA_URL", "http://ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/media")
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "7")
	t.Setenv("MEDIA_ANNOTATOR_KNOWN_THRESHOLD", "0.9")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.BaseURL != "http://ollama:11434" {
		t.Errorf("base url = %q", cfg.LLM.BaseURL)
	}
	if cfg.DatabaseURL() != "postgres://u:p@db/media" {
		t.Errorf("database url = %q", cfg.DatabaseURL())
	}
	if cfg.Database.MaxOpenConns != 7 {
		t.Errorf("max open conns = %d, want 7", cfg.Database.MaxOpenConns)
	}
	if cfg.Faces.KnownThreshold != 0.9 {
		t.Errorf("known threshold = %v, want 0.9", cfg.Faces.KnownThreshold)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "known looser than unknown",
			mutate:  func(c *Config) { c.Faces.KnownThreshold = 0.4; c.Faces.UnknownThreshold = 0.6 },
			wantErr: "KnownThreshold",
		},
		{
			name:    "threshold out of range",
			mutate:  func(c *Config) { c.Faces.UnknownThreshold = 1.5; c.Faces.KnownThreshold = 1.6 },
			wantErr: "UnknownThreshold",
		},
		{
			name:    "unsupported backend",
			mutate:  func(c *Config) { c.LLM.Backend = "claude" },
			wantErr: "Backend",
		},
		{
			name:    "lmstudio without base url",
			mutate:  func(c *Config) { c.LLM.Backend = "lmstudio"; c.LLM.BaseURL = "" },
			wantErr: "base_url",
		},
		{
			name:    "zero sample rate",
			mutate:  func(c *Config) { c.Faces.VideoSampleRate = 0 },
			wantErr: "VideoSampleRate",
		},
		{
			name:    "zero filename length",
			mutate:  func(c *Config) { c.Pipeline.MaxFilenameLength = 0 },
			wantErr: "MaxFilenameLength",
		},
		{
			name:   "equal thresholds allowed",
			mutate: func(c *Config) { c.Faces.KnownThreshold = 0.6; c.Faces.UnknownThreshold = 0.6 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected int
	}{
		{"unset", "", 25},
		{"valid", "10", 10},
		{"negative", "-3", 25},
		{"garbage", "abc", 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_ENV_INT", tt.value)
			if got := envInt("TEST_ENV_INT", 25); got != tt.expected {
				t.Errorf("envInt() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestLockPath(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"default sqlite", "", "/data/media.db.lock"},
		{"sqlite url", "sqlite:///srv/lib.db", "/srv/lib.db.lock"},
		{"postgres", "postgres://u:p@db/media", "/cache/library.lock"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Paths.DBPath = "/data/media.db"
			cfg.Paths.CacheDir = "/cache"
			cfg.Database.URL = tt.url
			if got := cfg.LockPath(); got != tt.want {
				t.Errorf("LockPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEnsureDirs(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Paths.DBPath = filepath.Join(dir, "db", "media.db")
	cfg.Paths.CacheDir = filepath.Join(dir, "cache")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")

	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs() error = %v", err)
	}
	for _, d := range []string{"db", "cache", "logs"} {
		if _, err := os.Stat(filepath.Join(dir, d)); err != nil {
			t.Errorf("expected %s to exist: %v", d, err)
		}
	}
}
