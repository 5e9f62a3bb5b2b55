package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/eversale-agent/api/schemas"
	"github.com/xkilldash9x/eversale-agent/internal/config"
)

// NewClient builds the LLM client graph for the configured provider: one
// concrete client per tier, fronted by a router that dispatches on
// GenerationRequest.Tier.
func NewClient(cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.LLM.Provider {
	case config.ProviderGemini:
		fast, err := NewGeminiClient(cfg.LLM, cfg.LLM.FastModel, logger)
		if err != nil {
			return nil, fmt.Errorf("building fast tier client: %w", err)
		}
		powerful, err := NewGeminiClient(cfg.LLM, cfg.LLM.PowerfulModel, logger)
		if err != nil {
			return nil, fmt.Errorf("building powerful tier client: %w", err)
		}
		return NewLLMRouter(logger, fast, powerful)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: %q. Supported: [%s]", cfg.LLM.Provider, config.ProviderGemini)
	}
}
