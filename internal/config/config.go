// Package config loads the engine configuration: a YAML file laid over
// built-in defaults, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/trustgate/internal/alert"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/signature"
)

// Environment variables read by Load.
const (
	EnvConfig    = "TRUSTGATE_CONFIG"
	EnvRedisAddr = "TRUSTGATE_REDIS_ADDR"
)

// Fallback provider names.
const (
	ProviderNone    = "none"
	ProviderOpenAI  = "openai"
	ProviderBedrock = "bedrock"
)

// Cache backend names.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Fallback configures the reasoning fallback.
type Fallback struct {
	Provider   string        `yaml:"provider"`
	APIURL     string        `yaml:"api_url"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	Model      string        `yaml:"model"`
	Region     string        `yaml:"region"`
	Timeout    time.Duration `yaml:"timeout"`
	RatePerMin int           `yaml:"rate_per_minute"`
	Burst      int           `yaml:"burst"`
	MaxTokens  int           `yaml:"max_tokens"`
}

// APIKey returns the key from the environment variable named by APIKeyEnv.
func (f Fallback) APIKey() string {
	if f.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(f.APIKeyEnv)
}

// Cache configures the decision cache.
type Cache struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	Prefix    string `yaml:"prefix"`
}

// Config is the whole engine configuration.
type Config struct {
	// Self is the owner identity. When empty, the public key in KeyDir is used.
	Self   string `yaml:"self"`
	KeyDir string `yaml:"key_dir"`

	// Policy is a policy file path; Preset names a built-in policy and is
	// used only when Policy is empty.
	Policy string `yaml:"policy"`
	Preset string `yaml:"preset"`

	ListsDir string `yaml:"lists_dir"`
	ClientDB string `yaml:"client_db"`
	AuditLog string `yaml:"audit_log"`

	FreshnessWindow time.Duration `yaml:"freshness_window"`
	InviteCodes     []string      `yaml:"invite_codes"`

	Fallback Fallback        `yaml:"fallback"`
	Cache    Cache           `yaml:"cache"`
	Alerts   []alert.Webhook `yaml:"alerts"`

	// path is where the config was read from, empty for defaults.
	path string
}

// Path returns the file the configuration was read from, or "".
func (c *Config) Path() string { return c.path }

// HomeDir returns ~/.trustgate, or ".trustgate" when the home directory
// cannot be determined.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".trustgate"
	}
	return filepath.Join(home, ".trustgate")
}

// Default returns the built-in configuration.
func Default() *Config {
	home := HomeDir()
	return &Config{
		KeyDir:          filepath.Join(home, "keys"),
		Preset:          "careful",
		ListsDir:        filepath.Join(home, "lists"),
		ClientDB:        filepath.Join(home, "clients.db"),
		AuditLog:        filepath.Join(home, "audit.jsonl"),
		FreshnessWindow: signature.DefaultFreshnessWindow,
		Fallback: Fallback{
			Provider:   ProviderNone,
			Timeout:    10 * time.Second,
			RatePerMin: 30,
			Burst:      5,
			MaxTokens:  300,
		},
		Cache: Cache{
			Backend: CacheMemory,
			Prefix:  "trustgate:decision:",
		},
	}
}

// Load reads the configuration at path. An empty path means
// $TRUSTGATE_CONFIG, then ~/.trustgate/config.yaml. A missing file yields
// the defaults; a malformed or invalid one is an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		path = filepath.Join(HomeDir(), "config.yaml")
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Start with defaults, YAML overwrites only specified fields
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		cfg.path = path
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if addr := os.Getenv(EnvRedisAddr); addr != "" {
		cfg.Cache.Backend = CacheRedis
		cfg.Cache.RedisAddr = addr
	}
	cfg.expand()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) expand() {
	for _, p := range []*string{&c.KeyDir, &c.Policy, &c.ListsDir, &c.ClientDB, &c.AuditLog} {
		*p = expandHome(*p)
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
		}
	}
	return p
}

// Validate checks values that would otherwise fail later and less clearly.
func (c *Config) Validate() error {
	if c.Self != "" {
		if _, err := signature.PublicKeyFromIdentity(model.ClientIdentity(c.Self)); err != nil {
			return fmt.Errorf("%w: self: %v", ErrInvalid, err)
		}
	}
	if c.Policy == "" && c.Preset == "" {
		return fmt.Errorf("%w: one of policy or preset is required", ErrInvalid)
	}
	if c.ListsDir == "" {
		return fmt.Errorf("%w: lists_dir is required", ErrInvalid)
	}
	if c.FreshnessWindow < 0 {
		return fmt.Errorf("%w: freshness_window must not be negative", ErrInvalid)
	}
	switch c.Fallback.Provider {
	case "", ProviderNone:
	case ProviderOpenAI:
		if c.Fallback.APIURL == "" || c.Fallback.Model == "" {
			return fmt.Errorf("%w: fallback provider openai needs api_url and model", ErrInvalid)
		}
	case ProviderBedrock:
		if c.Fallback.Model == "" {
			return fmt.Errorf("%w: fallback provider bedrock needs model", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown fallback provider %q", ErrInvalid, c.Fallback.Provider)
	}
	if c.Fallback.Timeout < 0 {
		return fmt.Errorf("%w: fallback timeout must not be negative", ErrInvalid)
	}
	switch c.Cache.Backend {
	case "", CacheMemory:
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("%w: cache backend redis needs redis_addr", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown cache backend %q", ErrInvalid, c.Cache.Backend)
	}
	for i, w := range c.Alerts {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("%w: alerts[%d]: %v", ErrInvalid, i, err)
		}
	}
	return nil
}
