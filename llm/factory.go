package llm

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// NewProvider creates a new LLM provider based on configuration
func NewProvider(config Config) (Provider, error) {
	provider := strings.ToLower(config.Provider)

	switch provider {
	case "openai":
		return NewOpenAIProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "":
		// No provider configured - return nil (assist disabled)
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, ollama)", config.Provider)
	}
}

// LoadConfigFromEnv loads LLM configuration from environment variables:
// LLM_PROVIDER, LLM_MODEL, OPENAI_API_KEY, OLLAMA_BASE_URL, LLM_TIMEOUT.
func LoadConfigFromEnv() Config {
	config := DefaultConfig()
	config.Provider = strings.ToLower(os.Getenv("LLM_PROVIDER"))
	config.Model = os.Getenv("LLM_MODEL")
	config.APIKey = os.Getenv("OPENAI_API_KEY")
	config.BaseURL = os.Getenv("OLLAMA_BASE_URL")

	if timeout, err := strconv.Atoi(os.Getenv("LLM_TIMEOUT")); err == nil && timeout > 0 {
		config.Timeout = timeout
	}

	return config
}
