package llm

import (
	log "github.com/sirupsen/logrus"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// NewCompletionClient selects a backend by provider name. Unknown providers
// fall back to OpenAI.
func NewCompletionClient(provider, model string) CompletionClient {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(model)
	case ProviderMock:
		log.Info("LLM_PROVIDER=mock, completions are canned")
		return NewMockClient("")
	case ProviderOpenAI:
		return NewOpenAIClient(model)
	default:
		log.Warnf("unknown LLM provider %q, using openai", provider)
		return NewOpenAIClient(model)
	}
}
