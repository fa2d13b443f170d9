// Package provider implements the LLM backends behind the chat.Provider
// interface. Each implementation handles its own streaming protocol and type
// conversions; the rest of the service only sees provider-agnostic messages
// and tool calls.
package provider

import (
	"fmt"

	"concierge/chat"
	"concierge/config"
)

// ProviderType identifies the provider implementation.
type ProviderType string

const (
	ProviderTypeAnthropic ProviderType = "anthropic"
	ProviderTypeOpenAI    ProviderType = "openai"
	ProviderTypeOllama    ProviderType = "ollama"
)

// New creates a provider from service configuration.
func New(cfg config.ProviderConfig) (chat.Provider, error) {
	switch ProviderType(cfg.Type) {
	case ProviderTypeAnthropic:
		return NewAnthropicProvider(cfg.BaseURL, cfg.APIKey, cfg.Model)
	case ProviderTypeOpenAI:
		return NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cfg.Model)
	case ProviderTypeOllama:
		return NewOllamaProvider(cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}
