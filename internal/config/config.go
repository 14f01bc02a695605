package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml"
)

// Config carries every tunable the scout binary reads. All durations
// are stored as integer seconds so they round-trip through TOML and
// environment variables without unit parsing.
type Config struct {
	Hub    HubConfig    `toml:"hub"`
	Cache  CacheConfig  `toml:"cache"`
	Server ServerConfig `toml:"server"`
	Scan   ScanConfig   `toml:"scan"`
	Chat   ChatConfig   `toml:"chat"`
	Ollama OllamaConfig `toml:"ollama"`
	Log    LogConfig    `toml:"log"`
}

type HubConfig struct {
	// Endpoint is the catalog API root.
	Endpoint string `toml:"endpoint"`
	// Owner filters search results to one namespace.
	Owner          string `toml:"owner"`
	SearchLimit    int    `toml:"search_limit"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type CacheConfig struct {
	// Dir is the on-disk cache root. Empty means the user cache dir.
	Dir                    string `toml:"dir"`
	ModelsTTLSeconds       int    `toml:"models_ttl_seconds"`
	FilesTTLSeconds        int    `toml:"files_ttl_seconds"`
	CleanupIntervalSeconds int    `toml:"cleanup_interval_seconds"`
}

type ServerConfig struct {
	// BaseURL is where the managed inference server listens.
	BaseURL string `toml:"base_url"`
	// Binary is the server executable started on demand.
	Binary string `toml:"binary"`
	// APIKey is sent as X-API-Key when set.
	APIKey                string `toml:"api_key"`
	StartupTimeoutSeconds int    `toml:"startup_timeout_seconds"`
	HealthIntervalMillis  int    `toml:"health_interval_millis"`
}

type ScanConfig struct {
	FetchTimeoutSeconds int  `toml:"fetch_timeout_seconds"`
	Verbose             bool `toml:"verbose"`
}

type ChatConfig struct {
	MaxNewTokens int     `toml:"max_new_tokens"`
	Temperature  float64 `toml:"temperature"`
	TopP         float64 `toml:"top_p"`
	Streaming    bool    `toml:"streaming"`
}

type OllamaConfig struct {
	// ManifestDir is the local ollama model store. Empty means
	// ~/.ollama/models.
	ManifestDir string `toml:"manifest_dir"`
	DaemonURL   string `toml:"daemon_url"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

func Default() Config {
	return Config{
		Hub: HubConfig{
			Endpoint:       "https://huggingface.co",
			Owner:          "kolosal",
			SearchLimit:    50,
			TimeoutSeconds: 30,
		},
		Cache: CacheConfig{
			ModelsTTLSeconds:       3600,
			FilesTTLSeconds:        1800,
			CleanupIntervalSeconds: 300,
		},
		Server: ServerConfig{
			BaseURL:               "http://127.0.0.1:8080",
			Binary:                "quarrel",
			StartupTimeoutSeconds: 30,
			HealthIntervalMillis:  500,
		},
		Scan: ScanConfig{
			FetchTimeoutSeconds: 30,
		},
		Chat: ChatConfig{
			MaxNewTokens: 2048,
			Temperature:  0.7,
			TopP:         0.9,
			Streaming:    true,
		},
		Ollama: OllamaConfig{
			DaemonURL: "http://127.0.0.1:11434",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the effective configuration: defaults, then the TOML
// file at path (skipped silently when path is empty and no default
// file exists), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		case explicit:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "longbow-scout", "config.toml")
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SCOUT_HUB_ENDPOINT"); v != "" {
		c.Hub.Endpoint = v
	}
	if v := os.Getenv("SCOUT_HUB_OWNER"); v != "" {
		c.Hub.Owner = v
	}
	if v := os.Getenv("SCOUT_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv("SCOUT_SERVER_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("SCOUT_SERVER_BINARY"); v != "" {
		c.Server.Binary = v
	}
	if v := os.Getenv("SCOUT_SERVER_API_KEY"); v != "" {
		c.Server.APIKey = v
	}
	if v := os.Getenv("SCOUT_OLLAMA_URL"); v != "" {
		c.Ollama.DaemonURL = v
	}
	if v := os.Getenv("SCOUT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SCOUT_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

func (c *Config) Validate() error {
	if c.Hub.Endpoint == "" {
		return fmt.Errorf("invalid hub endpoint: must not be empty")
	}
	if c.Hub.SearchLimit <= 0 {
		return fmt.Errorf("invalid hub search_limit: %d (must be positive)", c.Hub.SearchLimit)
	}
	if c.Hub.TimeoutSeconds <= 0 {
		return fmt.Errorf("invalid hub timeout_seconds: %d (must be positive)", c.Hub.TimeoutSeconds)
	}
	if c.Cache.ModelsTTLSeconds <= 0 {
		return fmt.Errorf("invalid cache models_ttl_seconds: %d (must be positive)", c.Cache.ModelsTTLSeconds)
	}
	if c.Cache.FilesTTLSeconds <= 0 {
		return fmt.Errorf("invalid cache files_ttl_seconds: %d (must be positive)", c.Cache.FilesTTLSeconds)
	}
	if c.Cache.CleanupIntervalSeconds <= 0 {
		return fmt.Errorf("invalid cache cleanup_interval_seconds: %d (must be positive)", c.Cache.CleanupIntervalSeconds)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("invalid server base_url: must not be empty")
	}
	if c.Server.StartupTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid server startup_timeout_seconds: %d (must be positive)", c.Server.StartupTimeoutSeconds)
	}
	if c.Server.HealthIntervalMillis <= 0 {
		return fmt.Errorf("invalid server health_interval_millis: %d (must be positive)", c.Server.HealthIntervalMillis)
	}
	if c.Scan.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid scan fetch_timeout_seconds: %d (must be positive)", c.Scan.FetchTimeoutSeconds)
	}
	if c.Chat.MaxNewTokens <= 0 {
		return fmt.Errorf("invalid chat max_new_tokens: %d (must be positive)", c.Chat.MaxNewTokens)
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		return fmt.Errorf("invalid chat temperature: %f (must be in [0, 2])", c.Chat.Temperature)
	}
	if c.Chat.TopP <= 0 || c.Chat.TopP > 1 {
		return fmt.Errorf("invalid chat top_p: %f (must be in (0, 1])", c.Chat.TopP)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %q", c.Log.Format)
	}
	return nil
}

func (c *Config) HubTimeout() time.Duration {
	return time.Duration(c.Hub.TimeoutSeconds) * time.Second
}

func (c *Config) ModelsTTL() time.Duration {
	return time.Duration(c.Cache.ModelsTTLSeconds) * time.Second
}

func (c *Config) FilesTTL() time.Duration {
	return time.Duration(c.Cache.FilesTTLSeconds) * time.Second
}

func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Cache.CleanupIntervalSeconds) * time.Second
}

func (c *Config) StartupTimeout() time.Duration {
	return time.Duration(c.Server.StartupTimeoutSeconds) * time.Second
}

func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Server.HealthIntervalMillis) * time.Millisecond
}

func (c *Config) ScanFetchTimeout() time.Duration {
	return time.Duration(c.Scan.FetchTimeoutSeconds) * time.Second
}

// CacheDir resolves the cache root, falling back to the user cache
// directory when unset.
func (c *Config) CacheDir() (string, error) {
	if c.Cache.Dir != "" {
		return c.Cache.Dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve cache dir: %w", err)
	}
	return filepath.Join(base, "longbow-scout"), nil
}

// OllamaManifestDir resolves the local ollama model store, falling
// back to ~/.ollama/models when unset.
func (c *Config) OllamaManifestDir() (string, error) {
	if c.Ollama.ManifestDir != "" {
		return c.Ollama.ManifestDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve ollama dir: %w", err)
	}
	return filepath.Join(home, ".ollama", "models"), nil
}
