package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// ProviderConfig selects and configures the LLM backend.
type ProviderConfig struct {
	Type    string `toml:"type"` // "anthropic", "openai", "ollama"
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
}

// ChatConfig bounds a single conversation turn.
type ChatConfig struct {
	MaxMessageChars   int `toml:"max_message_chars"`
	MaxToolIterations int `toml:"max_tool_iterations"`
	RateLimitMax      int `toml:"rate_limit_max"`
	RateLimitWindowS  int `toml:"rate_limit_window_seconds"`
}

// StoreConfig selects the conversation store backend.
type StoreConfig struct {
	Backend  string `toml:"backend"` // "memory" or "sqlite"
	Path     string `toml:"path"`    // sqlite file path
	TTLHours int    `toml:"ttl_hours"`
}

// PromptConfig locates role prompt templates.
type PromptConfig struct {
	Dir          string `toml:"dir"`
	DisableCache bool   `toml:"disable_cache"`
}

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Provider ProviderConfig `toml:"provider"`
	Chat     ChatConfig     `toml:"chat"`
	Store    StoreConfig    `toml:"store"`
	Prompts  PromptConfig   `toml:"prompts"`

	// RolesFile is the role capability table consumed by the Registry.
	RolesFile string `toml:"roles_file"`
}

var Debug = false
var DebugLog *log.Logger

func CheckDebug() bool {
	debug := os.Getenv("CONCIERGE_DEBUG")
	return debug == "true" || debug == "1"
}

// InitDebugLog enables debug logging to stderr when CONCIERGE_DEBUG is set.
func InitDebugLog() {
	if !CheckDebug() {
		return
	}

	Debug = true
	DebugLog = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	DebugLog.Printf("=== Debug logging started (CONCIERGE_DEBUG=%s) ===", os.Getenv("CONCIERGE_DEBUG"))
}

// Load reads the service configuration from path, fills in defaults for
// anything the file omits, and applies CONCIERGE_* environment overrides.
// A missing file is not an error; the defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("CONCIERGE_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if typ := os.Getenv("CONCIERGE_PROVIDER"); typ != "" {
		c.Provider.Type = typ
	}
	if url := os.Getenv("CONCIERGE_PROVIDER_URL"); url != "" {
		c.Provider.BaseURL = url
	}
	if key := os.Getenv("CONCIERGE_API_KEY"); key != "" {
		c.Provider.APIKey = key
	}
	if model := os.Getenv("CONCIERGE_MODEL"); model != "" {
		c.Provider.Model = model
	}
	if roles := os.Getenv("CONCIERGE_ROLES_FILE"); roles != "" {
		c.RolesFile = roles
	}
	if prompts := os.Getenv("CONCIERGE_PROMPTS_DIR"); prompts != "" {
		c.Prompts.Dir = prompts
	}
	if ttl := os.Getenv("CONCIERGE_STORE_TTL_HOURS"); ttl != "" {
		if n, err := strconv.Atoi(ttl); err == nil && n > 0 {
			c.Store.TTLHours = n
		}
	}
}

func (c *Config) validate() error {
	switch c.Provider.Type {
	case "anthropic", "openai", "ollama":
	default:
		return fmt.Errorf("unknown provider type: %s", c.Provider.Type)
	}

	switch c.Store.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}

	if c.Chat.MaxMessageChars <= 0 {
		return fmt.Errorf("chat.max_message_chars must be positive")
	}
	if c.Chat.RateLimitMax <= 0 || c.Chat.RateLimitWindowS <= 0 {
		return fmt.Errorf("chat rate limit settings must be positive")
	}

	return nil
}
