// Package secrets resolves credentials (channel tokens, LLM API keys)
// from the process environment, loading a .env file first if present,
// so committed config files never need to carry live tokens.
package secrets

import (
	"os"
	"sync"

	"github.com/joho/godotenv"
)

var loadOnce sync.Once

// Load reads .env into the process environment, if the file exists.
// Safe to call multiple times; only the first call has effect.
func Load() {
	loadOnce.Do(func() {
		_ = godotenv.Load()
	})
}

// Get returns the environment variable named key, loading .env first.
func Get(key string) string {
	Load()
	return os.Getenv(key)
}

// GetOr returns the environment variable named key, or def if unset.
func GetOr(key, def string) string {
	if v := Get(key); v != "" {
		return v
	}
	return def
}
