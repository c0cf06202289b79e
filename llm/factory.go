package llm

import "fmt"

// New builds the provider for kind: "openai", "azure", "relay", "ollama",
// "claude" or "gemini".
func New(kind string, config Config) (Provider, error) {
	switch kind {
	case "openai", "":
		return NewOpenAIProvider(config)
	case "azure":
		if config.APIVersion == "" {
			config.APIVersion = "2024-12-01-preview"
		}
		return NewOpenAIProvider(config)
	case "relay":
		return NewRelayProvider(config)
	case "ollama":
		return NewOllamaProvider(config)
	case "claude", "anthropic":
		return NewClaudeProvider(config)
	case "gemini":
		return NewGeminiProvider(config)
	default:
		return nil, fmt.Errorf("unknown provider type %q", kind)
	}
}
