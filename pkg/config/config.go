// Package config loads the gateway's two-file configuration:
// config.json (business config — channel credentials, LLM provider
// selection, default persona) and system.json (engine tunables —
// rate limits, sleep hours, HTS caps). Both are parsed with jsoniter
// and hot-reloaded via WatchConfig.
package config

import (
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// Config maps directly to config.json.
type Config struct {
	// Channels holds one raw payload per channel id ("telegram",
	// "whatsapp", ...), deferred-parsed by each channel's factory.
	Channels map[string]jsoniter.RawMessage `json:"channels"`
	// LLM holds the provider selection/credentials in raw JSON,
	// deferred-parsed by pkg/llmclient.
	LLM jsoniter.RawMessage `json:"llm"`
	// DefaultSystemPrompt seeds the persona used for relationship
	// types that have no persona override configured.
	DefaultSystemPrompt string `json:"default_system_prompt"`
	// Personas maps a relationship type ("family", "friend", ...) to
	// its persona override payload.
	Personas map[string]jsoniter.RawMessage `json:"personas"`
}

// Validate ensures the mandatory top-level sections are present.
func (c *Config) Validate() error {
	if len(c.LLM) == 0 {
		return errors.New("mandatory 'llm' configuration is missing or empty")
	}
	if len(c.Channels) == 0 {
		return errors.New("at least one channel must be configured")
	}
	return nil
}

// Load reads config.json from the working directory.
func Load() (*Config, error) {
	return LoadFrom("config.json")
}

// LoadFrom reads and parses the named config file.
func LoadFrom(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.Errorf("config file %q not found, please create one", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	var cfg Config
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
