// Package config loads advisor settings from TOML with ADVISOR_* environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/KamdynS/advisor/credit"
	"github.com/KamdynS/advisor/frame"
	"github.com/KamdynS/advisor/llm"
	"github.com/KamdynS/advisor/session"
)

// Config is the full advisor configuration.
type Config struct {
	Backend  BackendConfig  `toml:"backend"`
	Stream   StreamConfig   `toml:"stream"`
	Credits  CreditsConfig  `toml:"credits"`
	Sessions SessionsConfig `toml:"sessions"`
	Relay    RelayConfig    `toml:"relay"`
}

// BackendConfig describes the generation endpoint the chat client streams from.
type BackendConfig struct {
	URL string `toml:"url"`
	// TokenEnv names the environment variable holding the bearer token.
	TokenEnv      string          `toml:"token_env"`
	Charset       string          `toml:"charset"`
	HeaderTimeout time.Duration   `toml:"header_timeout"`
	Retry         llm.RetryConfig `toml:"retry"`
}

// StreamConfig tunes stream consumption.
type StreamConfig struct {
	MaxPendingLines int `toml:"max_pending_lines"`
	ReadSize        int `toml:"read_size"`
}

// RedisConfig is shared by the Redis ledger and session store.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

// CreditsConfig selects and configures the authoritative ledger.
type CreditsConfig struct {
	// Ledger is "memory" or "redis".
	Ledger         string `toml:"ledger"`
	Account        string `toml:"account"`
	InitialBalance int    `toml:"initial_balance"`
	// MonthlyAllowance refills the balance each month; 0 disables refills.
	MonthlyAllowance int `toml:"monthly_allowance"`
	// FreeTrial records usage as free-trial transactions.
	FreeTrial bool           `toml:"free_trial"`
	Redis     RedisConfig    `toml:"redis"`
	Costs     map[string]int `toml:"costs"`
}

// SQSConfig configures the SQS session store.
type SQSConfig struct {
	QueueURL string `toml:"queue_url"`
	Region   string `toml:"region"`
	FIFO     bool   `toml:"fifo"`
}

// SessionsConfig selects and configures session persistence.
type SessionsConfig struct {
	// Store is "memory", "redis" or "sqs".
	Store    string        `toml:"store"`
	Debounce time.Duration `toml:"debounce"`
	Redis    RedisConfig   `toml:"redis"`
	SQS      SQSConfig     `toml:"sqs"`
}

// RelayConfig configures the reference generation backend.
type RelayConfig struct {
	// Provider is "openai" or "anthropic".
	Provider  string        `toml:"provider"`
	Model     string        `toml:"model"`
	APIKeyEnv string        `toml:"api_key_env"`
	Port      int           `toml:"port"`
	Heartbeat time.Duration `toml:"heartbeat"`
	// ResearchModel, when set, serves the web-research modes.
	ResearchModel string `toml:"research_model"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:           "http://localhost:8080/stream",
			TokenEnv:      "ADVISOR_TOKEN",
			Charset:       "utf-8",
			HeaderTimeout: 30 * time.Second,
			Retry:         llm.DefaultRetryConfig(),
		},
		Stream: StreamConfig{
			MaxPendingLines: frame.DefaultMaxPendingLines,
			ReadSize:        4096,
		},
		Credits: CreditsConfig{
			Ledger:         "memory",
			Account:        "default",
			InitialBalance: 10,
			Redis:          RedisConfig{Addr: "localhost:6379", Prefix: "advisor"},
		},
		Sessions: SessionsConfig{
			Store:    "memory",
			Debounce: session.DefaultDebounce,
			Redis:    RedisConfig{Addr: "localhost:6379", Prefix: "advisor"},
		},
		Relay: RelayConfig{
			Provider:  "openai",
			APIKeyEnv: "OPENAI_API_KEY",
			Port:      8080,
			Heartbeat: 15 * time.Second,
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies ADVISOR_* environment variables.
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("ADVISOR_BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("ADVISOR_CHARSET"); v != "" {
		c.Backend.Charset = v
	}
	if v := os.Getenv("ADVISOR_LEDGER"); v != "" {
		c.Credits.Ledger = v
	}
	if v := os.Getenv("ADVISOR_ACCOUNT"); v != "" {
		c.Credits.Account = v
	}
	if v := os.Getenv("ADVISOR_REDIS_ADDR"); v != "" {
		c.Credits.Redis.Addr = v
		c.Sessions.Redis.Addr = v
	}
	if v := os.Getenv("ADVISOR_SESSION_STORE"); v != "" {
		c.Sessions.Store = v
	}
	if v := os.Getenv("ADVISOR_SQS_QUEUE_URL"); v != "" {
		c.Sessions.SQS.QueueURL = v
	}
	if v := os.Getenv("ADVISOR_DEBOUNCE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ADVISOR_DEBOUNCE: %w", err)
		}
		c.Sessions.Debounce = d
	}
	if v := os.Getenv("ADVISOR_RELAY_PROVIDER"); v != "" {
		c.Relay.Provider = v
	}
	if v := os.Getenv("ADVISOR_RELAY_MODEL"); v != "" {
		c.Relay.Model = v
	}
	if v := os.Getenv("ADVISOR_RELAY_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ADVISOR_RELAY_PORT: %w", err)
		}
		c.Relay.Port = p
	}
	return nil
}

// ValidationError reports one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Backend.URL == "" {
		add("backend.url", "is required")
	}
	if c.Stream.MaxPendingLines < 1 {
		add("stream.max_pending_lines", "must be at least 1, got %d", c.Stream.MaxPendingLines)
	}
	switch c.Credits.Ledger {
	case "memory":
	case "redis":
		if c.Credits.Redis.Addr == "" {
			add("credits.redis.addr", "is required for the redis ledger")
		}
		if c.Credits.Account == "" {
			add("credits.account", "is required for the redis ledger")
		}
	default:
		add("credits.ledger", "invalid ledger %q, must be one of: memory, redis", c.Credits.Ledger)
	}
	if c.Credits.InitialBalance < 0 {
		add("credits.initial_balance", "must not be negative")
	}
	if c.Credits.MonthlyAllowance < 0 {
		add("credits.monthly_allowance", "must not be negative")
	}
	if _, err := c.CostTable(); err != nil {
		add("credits.costs", "%v", err)
	}
	switch c.Sessions.Store {
	case "memory":
	case "redis":
		if c.Sessions.Redis.Addr == "" {
			add("sessions.redis.addr", "is required for the redis store")
		}
	case "sqs":
		if c.Sessions.SQS.QueueURL == "" {
			add("sessions.sqs.queue_url", "is required for the sqs store")
		}
	default:
		add("sessions.store", "invalid store %q, must be one of: memory, redis, sqs", c.Sessions.Store)
	}
	switch c.Relay.Provider {
	case "openai", "anthropic":
	default:
		add("relay.provider", "invalid provider %q, must be one of: openai, anthropic", c.Relay.Provider)
	}
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		add("relay.port", "out of range: %d", c.Relay.Port)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// CostTable returns the default mode costs with configured overrides applied.
func (c *Config) CostTable() (credit.CostTable, error) {
	return credit.DefaultCosts().WithOverrides(c.Credits.Costs)
}

// Token returns the backend bearer token from the configured variable.
func (c *Config) Token() string {
	if c.Backend.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.Backend.TokenEnv)
}
