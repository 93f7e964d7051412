package config

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	LLM     LLMConfig
	Auth    AuthConfig
	Log     LogConfig
	MCP     MCPConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LLMConfig struct {
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	APIKey      string
	// Mock answers every coach call with canned responses instead of
	// calling the language model.
	Mock bool
}

type AuthConfig struct {
	SigningKey string
	TokenTTL   time.Duration
}

type LogConfig struct {
	Level string
}

type MCPConfig struct {
	Enabled bool
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.moonshot.cn/v1",
			Model:       "moonshot-v1-8k",
			Temperature: 0.7,
			Timeout:     30 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: 7 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/innercompass/config.json, then applies INNERCOMPASS_*
// environment overrides, then fills secrets from
// $XDG_DATA_HOME/innercompass/secrets.json. A token signing key is generated
// and stored there on first use.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), fileSecrets{path: secretsFilePath()})
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	if cfg.Auth.SigningKey == "" {
		key, err := ensureSigningKey(secrets)
		if err != nil {
			return Config{}, err
		}
		cfg.Auth.SigningKey = key
	}

	return cfg, nil
}

// ValidateServer reports settings the server cannot start without.
func (c Config) ValidateServer() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if !c.LLM.Mock && c.LLM.APIKey == "" {
		errs = append(errs, errors.New("missing required config: language model API key. "+
			"Set it via environment variable INNERCOMPASS_LLM_API_KEY, "+
			"`innercompass config set llm.api_key <key>`, or enable llm.mock"))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("llm.timeout %s must be positive", c.LLM.Timeout))
	}
	if c.LLM.Temperature <= 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %g must be in (0, 2]", c.LLM.Temperature))
	}
	if len(c.Auth.SigningKey) < 32 {
		errs = append(errs, errors.New("auth.signing_key must be at least 32 bytes"))
	}
	return errors.Join(errs...)
}
