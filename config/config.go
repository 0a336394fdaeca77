package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"kb/internal/domain"
)

// Config holds all configuration for the knowledge base.
type Config struct {
	Chunker   ChunkerConfig   `yaml:"chunker" toml:"chunker"`
	Embedding EmbeddingConfig `yaml:"embedding" toml:"embedding"`
	Store     StoreConfig     `yaml:"store" toml:"store"`
	Retrieve  RetrieveConfig  `yaml:"retrieve" toml:"retrieve"`
	Ingest    IngestConfig    `yaml:"ingest" toml:"ingest"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ChunkerConfig holds the character window used to split documents.
type ChunkerConfig struct {
	Size    int `yaml:"size" toml:"size"`
	Overlap int `yaml:"overlap" toml:"overlap"`
}

// EmbeddingConfig holds embedding service configuration.
type EmbeddingConfig struct {
	Provider          string       `yaml:"provider" toml:"provider"` // "http", "mock"
	ServerURL         string       `yaml:"server_url" toml:"server_url"`
	EmbedTimeoutSecs  float64      `yaml:"embed_timeout_secs" toml:"embed_timeout_secs"`
	HealthTimeoutSecs float64      `yaml:"health_timeout_secs" toml:"health_timeout_secs"`
	Dimension         int          `yaml:"dimension" toml:"dimension"`
	MaxRetries        int          `yaml:"max_retries" toml:"max_retries"` // 0 disables retries
	RetryBackoffMs    int          `yaml:"retry_backoff_ms" toml:"retry_backoff_ms"`
	RequestsPerSecond float64      `yaml:"requests_per_second" toml:"requests_per_second"`
	QueryCacheSize    int          `yaml:"query_cache_size" toml:"query_cache_size"` // 0 disables the cache
	QueryCacheTTLSecs float64      `yaml:"query_cache_ttl_secs" toml:"query_cache_ttl_secs"`
	Launch            LaunchConfig `yaml:"launch" toml:"-"`
}

// LaunchConfig describes how `kb embedder launch` starts the embedding server.
type LaunchConfig struct {
	Command StringList `yaml:"command"`
	Env     EnvVars    `yaml:"env"`
	Dir     string     `yaml:"dir"`
}

// StoreConfig selects the document store.
type StoreConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // "bolt", "sqlite", "memory"
	Path   string `yaml:"path" toml:"path"`
}

// RetrieveConfig holds search defaults.
type RetrieveConfig struct {
	Limit    int      `yaml:"limit" toml:"limit"`
	MinScore *float64 `yaml:"min_score,omitempty" toml:"min_score,omitempty"` // nil = no threshold
}

// IngestConfig holds the directory walk patterns.
type IngestConfig struct {
	Includes []string `yaml:"includes" toml:"includes"`
	Excludes []string `yaml:"excludes" toml:"excludes"`
}

// ServerConfig holds the HTTP API listen address.
type ServerConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // text, json
}

// Store drivers.
const (
	DriverBolt   = "bolt"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Embedding providers.
const (
	ProviderHTTP = "http"
	ProviderMock = "mock"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Chunker: ChunkerConfig{
			Size:    500,
			Overlap: 50,
		},
		Embedding: EmbeddingConfig{
			Provider:          ProviderHTTP,
			ServerURL:         "http://127.0.0.1:8765",
			EmbedTimeoutSecs:  60,
			HealthTimeoutSecs: 5,
			Dimension:         1024,
			RetryBackoffMs:    500,
			QueryCacheSize:    256,
			QueryCacheTTLSecs: 600,
		},
		Store: StoreConfig{
			Driver: DriverBolt,
			Path:   filepath.Join(".kb", "kb.db"),
		},
		Retrieve: RetrieveConfig{
			Limit: 5,
		},
		Ingest: IngestConfig{
			Includes: []string{"**/*.txt", "**/*.md", "**/*.pdf"},
			Excludes: []string{".git/**", ".kb/**", "**/node_modules/**"},
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// EmbedTimeout returns the embed call timeout.
func (c EmbeddingConfig) EmbedTimeout() time.Duration {
	return time.Duration(c.EmbedTimeoutSecs * float64(time.Second))
}

// HealthTimeout returns the health probe timeout.
func (c EmbeddingConfig) HealthTimeout() time.Duration {
	return time.Duration(c.HealthTimeoutSecs * float64(time.Second))
}

// RetryBackoff returns the initial retry delay.
func (c EmbeddingConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// QueryCacheTTL returns how long a cached query embedding stays valid.
func (c EmbeddingConfig) QueryCacheTTL() time.Duration {
	return time.Duration(c.QueryCacheTTLSecs * float64(time.Second))
}

// Load resolves configuration from defaults, then the environment (after
// reading a .env file if present), then the file at path. The file must
// exist; use LoadFromDir to fall back to defaults when no file is present.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := loadFile(cfg, path); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for kb.yaml,
// kb.toml and .kb/config.yaml in that order).
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"kb.yaml", "kb.yml", "kb.toml", filepath.Join(".kb", "config.yaml")} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = decodeTOML(data, cfg)
	case ".yaml", ".yml", "":
		err = yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("%w: unsupported config format %q", domain.ErrInvalidConfig, filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("%w: parsing %s: %v", domain.ErrInvalidConfig, path, err)
	}
	return nil
}

// decodeTOML decodes everything except the launch table through the struct
// tags, then normalises the launch fields, whose shape varies.
func decodeTOML(data []byte, cfg *Config) error {
	if err := toml.Unmarshal(data, cfg); err != nil {
		return err
	}

	var raw struct {
		Embedding struct {
			Launch struct {
				Command any    `toml:"command"`
				Env     any    `toml:"env"`
				Dir     string `toml:"dir"`
			} `toml:"launch"`
		} `toml:"embedding"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return err
	}

	launch := raw.Embedding.Launch
	if launch.Command != nil {
		cmd, err := NormalizeStringList(launch.Command)
		if err != nil {
			return fmt.Errorf("embedding.launch.command: %w", err)
		}
		cfg.Embedding.Launch.Command = cmd
	}
	if launch.Env != nil {
		env, err := NormalizeEnvVars(launch.Env)
		if err != nil {
			return fmt.Errorf("embedding.launch.env: %w", err)
		}
		cfg.Embedding.Launch.Env = env
	}
	if launch.Dir != "" {
		cfg.Embedding.Launch.Dir = launch.Dir
	}
	return nil
}

// applyEnv overlays KB_* environment variables. A .env file in the working
// directory is read first; variables already set in the process win.
func applyEnv(cfg *Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: reading .env: %v", domain.ErrInvalidConfig, err)
	}

	strs := map[string]*string{
		"KB_EMBEDDING_PROVIDER":   &cfg.Embedding.Provider,
		"KB_EMBEDDING_SERVER_URL": &cfg.Embedding.ServerURL,
		"KB_STORE_DRIVER":         &cfg.Store.Driver,
		"KB_STORE_PATH":           &cfg.Store.Path,
		"KB_LOG_LEVEL":            &cfg.Logging.Level,
		"KB_LOG_FORMAT":           &cfg.Logging.Format,
		"KB_SERVER_ADDR":          &cfg.Server.Addr,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"KB_CHUNK_SIZE":          &cfg.Chunker.Size,
		"KB_CHUNK_OVERLAP":       &cfg.Chunker.Overlap,
		"KB_EMBEDDING_DIMENSION": &cfg.Embedding.Dimension,
		"KB_EMBED_MAX_RETRIES":   &cfg.Embedding.MaxRetries,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", domain.ErrInvalidConfig, key, v)
		}
		*dst = n
	}

	floats := map[string]*float64{
		"KB_EMBED_TIMEOUT_SECS":  &cfg.Embedding.EmbedTimeoutSecs,
		"KB_HEALTH_TIMEOUT_SECS": &cfg.Embedding.HealthTimeoutSecs,
	}
	for key, dst := range floats {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", domain.ErrInvalidConfig, key, v)
		}
		*dst = f
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Chunker.Size <= 0:
		return fmt.Errorf("%w: chunker.size must be positive, got %d", domain.ErrInvalidConfig, c.Chunker.Size)
	case c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size:
		return fmt.Errorf("%w: chunker.overlap must be in [0, %d), got %d", domain.ErrInvalidConfig, c.Chunker.Size, c.Chunker.Overlap)
	case c.Embedding.Provider != ProviderHTTP && c.Embedding.Provider != ProviderMock:
		return fmt.Errorf("%w: unknown embedding provider %q", domain.ErrInvalidConfig, c.Embedding.Provider)
	case c.Embedding.Dimension < 0:
		return fmt.Errorf("%w: embedding.dimension must not be negative", domain.ErrInvalidConfig)
	case c.Embedding.EmbedTimeoutSecs <= 0 || c.Embedding.HealthTimeoutSecs <= 0:
		return fmt.Errorf("%w: embedding timeouts must be positive", domain.ErrInvalidConfig)
	case c.Embedding.MaxRetries < 0:
		return fmt.Errorf("%w: embedding.max_retries must not be negative", domain.ErrInvalidConfig)
	case c.Embedding.QueryCacheSize < 0:
		return fmt.Errorf("%w: embedding.query_cache_size must not be negative", domain.ErrInvalidConfig)
	case c.Retrieve.Limit <= 0:
		return fmt.Errorf("%w: retrieve.limit must be positive, got %d", domain.ErrInvalidConfig, c.Retrieve.Limit)
	}

	switch c.Store.Driver {
	case DriverBolt, DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("%w: store.path is required for driver %q", domain.ErrInvalidConfig, c.Store.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("%w: unknown store driver %q", domain.ErrInvalidConfig, c.Store.Driver)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", domain.ErrInvalidConfig, c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", domain.ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// EnsureDir ensures the .kb directory exists under dir.
func EnsureDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, ".kb"), 0755)
}
