package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Debug    bool           `yaml:"debug"`
	Paths    PathsConfig    `yaml:"paths"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Faces    FaceConfig     `yaml:"faces"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Server   ServerConfig   `yaml:"server"`
}

type PathsConfig struct {
	DBPath   string `yaml:"db_path" validate:"required"`
	CacheDir string `yaml:"cache_dir" validate:"required"`
	LogDir   string `yaml:"log_dir" validate:"required"`
}

type DatabaseConfig struct {
	URL          string `yaml:"url"` // sqlite path, postgres:// or mysql:// URL; empty means Paths.DBPath
	MaxOpenConns int    `yaml:"max_open_conns" validate:"gte=1"`
	MaxIdleConns int    `yaml:"max_idle_conns" validate:"gte=0"`
}

type LLMConfig struct {
	Backend     string        `yaml:"backend" validate:"oneof=local ollama lmstudio gemini"`
	Model       string        `yaml:"model" validate:"required"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Temperature float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
}

type FaceConfig struct {
	KnownThreshold   float64 `yaml:"known_match_threshold" validate:"gte=0,lte=1,gtefield=UnknownThreshold"`
	UnknownThreshold float64 `yaml:"unknown_match_threshold" validate:"gte=0,lte=1"`
	VideoSampleRate  float64 `yaml:"video_sample_rate" validate:"gt=0"`
	VideoMinFrames   int     `yaml:"video_min_frames" validate:"gte=1"`
	VideoMaxFrames   int     `yaml:"video_max_frames" validate:"gtefield=VideoMinFrames"`
	Index            string  `yaml:"index" validate:"oneof=exact matrix"`
	DetectorURL      string  `yaml:"detector_url" validate:"required,url"`
	Dim              int     `yaml:"dim" validate:"gte=1"`
}

type PipelineConfig struct {
	Version           string `yaml:"pipeline_version" validate:"required"`
	Force             bool   `yaml:"force"`
	DryRun            bool   `yaml:"dry_run"`
	CopyMirror        bool   `yaml:"copy_mirror_structure"`
	MaxFilenameLength int    `yaml:"max_filename_length" validate:"gte=1"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// Default returns the configuration used when no file or environment
// override is present. Paths live under ~/.media_annotator.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".media_annotator")
	return &Config{
		Paths: PathsConfig{
			DBPath:   filepath.Join(base, "media_annotator.db"),
			CacheDir: filepath.Join(base, "cache"),
			LogDir:   filepath.Join(base, "logs"),
		},
		Database: DatabaseConfig{
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		LLM: LLMConfig{
			Backend:     "ollama",
			Model:       "llava",
			Temperature: 0.2,
			Timeout:     120 * time.Second,
		},
		Faces: FaceConfig{
			KnownThreshold:   0.70,
			UnknownThreshold: 0.60,
			VideoSampleRate:  0.5,
			VideoMinFrames:   10,
			VideoMaxFrames:   300,
			Index:            "matrix",
			DetectorURL:      "http://localhost:8000",
			Dim:              512,
		},
		Pipeline: PipelineConfig{
			Version:           "1.0",
			DryRun:            true,
			MaxFilenameLength: 120,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8085",
		},
	}
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// Load builds the configuration from defaults, the optional YAML file at
// path and environment overrides, in that order, and validates the result.
// A missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is user supplied on purpose
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(cfg)

	cfg.Paths.DBPath = expandHome(cfg.Paths.DBPath)
	cfg.Paths.CacheDir = expandHome(cfg.Paths.CacheDir)
	cfg.Paths.LogDir = expandHome(cfg.Paths.LogDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Debug = cfg.Debug || os.Getenv("MEDIA_ANNOTATOR_DEBUG") == "1"
	cfg.Paths.DBPath = envString("MEDIA_ANNOTATOR_DB_PATH", cfg.Paths.DBPath)
	cfg.Paths.CacheDir = envString("MEDIA_ANNOTATOR_CACHE_DIR", cfg.Paths.CacheDir)
	cfg.Paths.LogDir = envString("MEDIA_ANNOTATOR_LOG_DIR", cfg.Paths.LogDir)

	cfg.Database.URL = envString("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)

	cfg.LLM.Backend = envString("MEDIA_ANNOTATOR_LLM_BACKEND", cfg.LLM.Backend)
	cfg.LLM.Model = envString("MEDIA_ANNOTATOR_LLM_MODEL", cfg.LLM.Model)
	switch cfg.LLM.Backend {
	case "ollama":
		cfg.LLM.BaseURL = envString("OLLAMA_URL", cfg.LLM.BaseURL)
	case "lmstudio":
		cfg.LLM.BaseURL = envString("LMSTUDIO_URL", cfg.LLM.BaseURL)
	case "local":
		cfg.LLM.BaseURL = envString("LLAMACPP_URL", cfg.LLM.BaseURL)
	case "gemini":
		cfg.LLM.APIKey = envString("GEMINI_API_KEY", cfg.LLM.APIKey)
	}
	if secs := envInt("MEDIA_ANNOTATOR_LLM_TIMEOUT", 0); secs > 0 {
		cfg.LLM.Timeout = time.Duration(secs) * time.Second
	}

	cfg.Faces.KnownThreshold = envFloat("MEDIA_ANNOTATOR_KNOWN_THRESHOLD", cfg.Faces.KnownThreshold)
	cfg.Faces.UnknownThreshold = envFloat("MEDIA_ANNOTATOR_UNKNOWN_THRESHOLD", cfg.Faces.UnknownThreshold)
	cfg.Faces.DetectorURL = envString("EMBEDDING_URL", cfg.Faces.DetectorURL)
	cfg.Faces.Dim = envInt("EMBEDDING_DIM", cfg.Faces.Dim)

	cfg.Pipeline.Version = envString("MEDIA_ANNOTATOR_PIPELINE_VERSION", cfg.Pipeline.Version)
	cfg.Server.Addr = envString("MEDIA_ANNOTATOR_ADDR", cfg.Server.Addr)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

var validate = validator.New()

// Validate checks ranges and enumerations. Known-identity matching must
// never be looser than unknown-identity matching.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.LLM.Backend == "lmstudio" && c.LLM.BaseURL == "" {
		return errors.New("invalid configuration: lmstudio backend requires llm.base_url")
	}
	return nil
}

// DatabaseURL returns the store location, falling back to the sqlite file.
func (c *Config) DatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return c.Paths.DBPath
}

// LockPath is the single-writer lock file: next to the sqlite file, or in
// the cache dir when the store is a server.
func (c *Config) LockPath() string {
	if c.Database.URL == "" || !strings.Contains(c.Database.URL, "://") || strings.HasPrefix(c.Database.URL, "sqlite://") {
		return strings.TrimPrefix(c.DatabaseURL(), "sqlite://") + ".lock"
	}
	return filepath.Join(c.Paths.CacheDir, "library.lock")
}

// EnsureDirs creates the directories the pipeline writes into.
func (c *Config) EnsureDirs() error {
	dirs := []string{c.Paths.CacheDir, c.Paths.LogDir}
	if c.Database.URL == "" {
		dirs = append(dirs, filepath.Dir(c.Paths.DBPath))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return nil
}
