package llmclient

import (
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"relay/internal/secrets"
	"relay/pkg/config"
)

// ProviderConfig is one entry in the "llm" config array: a single
// provider/model pair, with its API key resolved from the named
// environment variable via internal/secrets.
type ProviderConfig struct {
	Provider  string `json:"provider"` // "anthropic" or "openai"
	Model     string `json:"model"`
	APIKeyEnv string `json:"apiKeyEnv"`
	BaseURL   string `json:"baseUrl,omitempty"` // openai-compatible endpoints only
}

// FromConfig builds a Client from the "llm" section of config.json: one
// atomic client per configured provider, wrapped in a FallbackClient
// with retry/failover whenever more than one is configured.
func FromConfig(rawLLM jsoniter.RawMessage, sys *config.SystemConfig) (Client, error) {
	if len(rawLLM) == 0 {
		return nil, errors.New("missing 'llm' config")
	}

	var providers []ProviderConfig
	if err := jsoniter.Unmarshal(rawLLM, &providers); err != nil {
		return nil, errors.Wrap(err, "parsing 'llm' config")
	}

	var clients []Client
	for _, p := range providers {
		apiKey := secrets.Get(p.APIKeyEnv)
		var client Client
		switch p.Provider {
		case "anthropic":
			client = NewAnthropicClient(apiKey, p.Model)
		case "openai":
			client = NewOpenAIClient(apiKey, p.BaseURL, p.Model)
		default:
			continue
		}
		clients = append(clients, NewBreakerClient(p.Provider+":"+p.Model, client))
	}

	if len(clients) == 0 {
		return nil, errors.New("no LLM clients could be initialized from config")
	}
	if len(clients) == 1 {
		return clients[0], nil
	}
	return &FallbackClient{
		Clients:    clients,
		MaxRetries: sys.MaxRetries,
		RetryDelay: time.Duration(sys.RetryDelayMs) * time.Millisecond,
	}, nil
}
