package schemas

import "context"

// ModelTier selects a large language model by a preference for speed versus
// capability, without naming a concrete model in calling code.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // faster, cheaper, less capable
	TierPowerful ModelTier = "powerful" // slower, more capable
)

// GenerationOptions controls the text generation process.
type GenerationOptions struct {
	Temperature float64 `json:"temperature"` // lower is more deterministic
	// ForceJSONFormat asks the provider for a strict-JSON response. When the
	// provider honors it, the heuristic free-text parsers never run.
	ForceJSONFormat bool    `json:"force_json_format"`
	TopP            float64 `json:"top_p"`
	TopK            int     `json:"top_k"`
	MaxOutputTokens int     `json:"max_output_tokens"`
}

// GenerationRequest is a complete request to the LLM.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient abstracts the LLM provider. Implementations must be safe for
// concurrent use.
type LLMClient interface {
	// Generate produces a completion for the request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close releases provider resources.
	Close() error
}
