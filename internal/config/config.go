package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/medisnap/internal/common"
)

const (
	envConfigPath = "MEDISNAP_CONFIG"
	envPort       = "PORT"
	envOpenAIKey  = "OPENAI_API_KEY" // #nosec G101 - env var name, not a credential
	defaultPath   = "config.yaml"
)

// Supported LLM providers.
const (
	ProviderOpenAI  = "openai"
	ProviderAIProxy = "aiproxy"
	ProviderMock    = "mock"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	LLM      LLMConfig      `yaml:"llm"`
	Analysis AnalysisConfig `yaml:"analysis"`
	History  HistoryConfig  `yaml:"history"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr               string        `yaml:"address"`
	ReadTimeout        time.Duration `yaml:"readTimeout"`
	WriteTimeout       time.Duration `yaml:"writeTimeout"`
	IdleTimeout        time.Duration `yaml:"idleTimeout"`
	RequestTimeout     time.Duration `yaml:"requestTimeout"` // upper bound for one /analyze call
	MaxUploadSize      ByteSize      `yaml:"maxUploadSize"`
	StorageDir         string        `yaml:"storageDir"`
	DeleteUploads      bool          `yaml:"deleteUploads"` // remove stored images once analyzed
	APIKey             string        `yaml:"apiKey"`        // optional static API key header (X-API-Key)
	CORSAllowedOrigins []string      `yaml:"corsAllowedOrigins"`
	ShutdownGrace      time.Duration `yaml:"shutdownGrace"`
	LogLevel           string        `yaml:"logLevel"` // debug|info|warn|error
}

// LLMConfig selects provider and provider-specific options.
type LLMConfig struct {
	Provider     string          `yaml:"provider"`     // "openai", "aiproxy" or "mock"
	Prompt       string          `yaml:"prompt"`       // optional override of the medicine prompt
	MaxTokens    int             `yaml:"maxTokens"`    // output budget per completion
	RateLimit    float64         `yaml:"rateLimit"`    // requests per second, 0 = unlimited
	RateBurst    int             `yaml:"rateBurst"`    // burst size for the limiter
	Retries      int             `yaml:"retries"`      // extra attempts after a failed call
	RetryBackoff time.Duration   `yaml:"retryBackoff"` // initial backoff between attempts
	OpenAI       OpenAISettings  `yaml:"openai"`
	AIProxy      AIProxySettings `yaml:"aiproxy"`
	Mock         MockSettings    `yaml:"mock"`
}

// OpenAISettings config for the OpenAI Chat Completions API.
type OpenAISettings struct {
	APIKey      string        `yaml:"apiKey"`  // falls back to OPENAI_API_KEY
	BaseURL     string        `yaml:"baseUrl"` // optional, e.g. https://api.openai.com/v1
	Model       string        `yaml:"model"`   // e.g. gpt-4o
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// AIProxySettings config for an OpenAI-compatible proxy.
type AIProxySettings struct {
	BaseURL      string        `yaml:"baseUrl"` // e.g. http://localhost:8900
	APIKey       string        `yaml:"apiKey"`  // optional
	Model        string        `yaml:"model"`
	SystemPrompt string        `yaml:"systemPrompt"` // optional system message
	Temperature  float32       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
}

// MockSettings config for the mock LLM.
type MockSettings struct {
	Delay    time.Duration `yaml:"delay"`
	Response string        `yaml:"response"`
}

// AnalysisConfig tunes how model output is turned into a medicine record.
type AnalysisConfig struct {
	StrictSchema bool `yaml:"strictSchema"`
}

// HistoryConfig controls the optional SQLite audit trail.
type HistoryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"databasePath"` // defaults to storageDir/medisnap.db
}

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
	}
	parsed, err := ParseByteSize(value.Value)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
func ParseByteSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return v, nil
}

// ParseLogLevel maps debug|info|warn|error onto a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// Load reads YAML config from path, expands environment variables, applies
// environment overrides and defaults, and validates the result.
// If path is empty, it will attempt to read from env var MEDISNAP_CONFIG, then "config.yaml".
// A missing "config.yaml" is not an error; the service then runs on defaults and env.
func Load(path string) (*Config, error) {
	optional := false
	if path == "" {
		if env := os.Getenv(envConfigPath); env != "" {
			path = env
		} else {
			path = defaultPath
			optional = true
		}
	}

	var cfg Config
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
		// env-only mode
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Server.StorageDir, 0o750); err != nil {
		return nil, fmt.Errorf("ensure storageDir: %w", err)
	}
	if cfg.History.Enabled && cfg.History.DatabasePath == "" {
		cfg.History.DatabasePath = filepath.Join(cfg.Server.StorageDir, common.DatabaseName)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if port := strings.TrimSpace(os.Getenv(envPort)); port != "" {
		cfg.Server.Addr = ":" + port
	}
	if strings.TrimSpace(cfg.LLM.OpenAI.APIKey) == "" {
		cfg.LLM.OpenAI.APIKey = os.Getenv(envOpenAIKey)
	}
}

func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":" + common.DefaultPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 2 * time.Minute
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = cfg.Server.RequestTimeout + 30*time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = ByteSize(20 * 1024 * 1024) // 20 MiB default
	}
	if cfg.Server.StorageDir == "" {
		cfg.Server.StorageDir = "data"
	}
	if len(cfg.Server.CORSAllowedOrigins) == 0 {
		cfg.Server.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}

	// LLM defaults
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = ProviderOpenAI
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = common.DefaultMaxTokens
	}
	if cfg.LLM.RateLimit > 0 && cfg.LLM.RateBurst == 0 {
		cfg.LLM.RateBurst = 1
	}
	if cfg.LLM.RetryBackoff == 0 {
		cfg.LLM.RetryBackoff = 500 * time.Millisecond
	}
	if strings.TrimSpace(cfg.LLM.OpenAI.Model) == "" {
		cfg.LLM.OpenAI.Model = common.DefaultOpenAIModel
	}
	if cfg.LLM.OpenAI.Timeout == 0 {
		cfg.LLM.OpenAI.Timeout = 90 * time.Second
	}
	if cfg.LLM.Provider == ProviderAIProxy {
		if strings.TrimSpace(cfg.LLM.AIProxy.BaseURL) == "" {
			cfg.LLM.AIProxy.BaseURL = "http://localhost:8900"
		}
		if strings.TrimSpace(cfg.LLM.AIProxy.Model) == "" {
			cfg.LLM.AIProxy.Model = common.DefaultOpenAIModel
		}
	}
	if cfg.LLM.AIProxy.Timeout == 0 {
		cfg.LLM.AIProxy.Timeout = 90 * time.Second
	}
}

func validate(cfg *Config) error {
	switch cfg.LLM.Provider {
	case ProviderOpenAI:
		if strings.TrimSpace(cfg.LLM.OpenAI.APIKey) == "" {
			return fmt.Errorf("llm.openai.apiKey is required (or set %s)", envOpenAIKey)
		}
	case ProviderAIProxy, ProviderMock:
	default:
		return fmt.Errorf("unsupported llm provider %q", cfg.LLM.Provider)
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.maxTokens must not be negative")
	}
	if cfg.LLM.Retries < 0 {
		return errors.New("llm.retries must not be negative")
	}
	if cfg.LLM.RateLimit < 0 || cfg.LLM.RateBurst < 0 {
		return errors.New("llm.rateLimit and llm.rateBurst must not be negative")
	}
	if _, err := ParseLogLevel(cfg.Server.LogLevel); err != nil {
		return err
	}
	return nil
}
