package resolver

import (
	"time"

	"github.com/xkilldash9x/eversale-agent/internal/obstruction"
)

// Strategy names recorded in attempts, results and the wisdom store.
const (
	StrategyNoneNeeded        = "none_needed"
	StrategyClickConsent      = "click_consent"
	StrategyCloseOverlay      = "close_overlay"
	StrategyEscapeKey         = "escape_key"
	StrategyCloudflareWait    = "cloudflare_wait"
	StrategyWaitRetryRefresh  = "wait_retry_refresh"
	StrategyRateLimitBackoff  = "rate_limit_backoff"
	StrategyCaptchaSolver     = "captcha_solver"
	StrategyAlternativeSource = "alternative_source"
	StrategyAIReasoning       = "ai_reasoning"
	StrategySwarmRootDomain   = "swarm_root_domain"
	StrategySwarmGoogleCache  = "swarm_google_cache"
	StrategySwarmWayback      = "swarm_wayback"
	StrategySwarmMobile       = "swarm_mobile"
	StrategyHumanIntervention = "human_intervention"
	StrategyAutoContinue      = "auto_continue_after_timeout"
)

// Attempt records one strategy execution within a single Resolve call.
// Attempts are ephemeral: they live in the Result, not in any store.
type Attempt struct {
	Strategy   string            `json:"strategy"`
	Layer      int               `json:"layer"`
	Success    bool              `json:"success"`
	DurationMS int64             `json:"duration_ms"`
	Error      string            `json:"error,omitempty"`
	ResultData map[string]string `json:"result_data,omitempty"`
}

// Result is the outcome of one Resolve call. ShouldContinue is always true:
// an unresolved obstruction degrades the job, it never kills it.
type Result struct {
	Success            bool              `json:"success"`
	ObstructionType    obstruction.Type  `json:"obstruction_type,omitempty"`
	ResolutionStrategy string            `json:"resolution_strategy"`
	LayerUsed          int               `json:"layer_used"`
	TotalTimeMS        int64             `json:"total_time_ms"`
	Attempts           []Attempt         `json:"attempts,omitempty"`
	AlternativeData    map[string]string `json:"alternative_data,omitempty"`
	Error              string            `json:"error,omitempty"`
	ShouldContinue     bool              `json:"should_continue"`
}

func win(strategy string, layer int, start time.Time, data map[string]string) Attempt {
	return Attempt{
		Strategy:   strategy,
		Layer:      layer,
		Success:    true,
		DurationMS: time.Since(start).Milliseconds(),
		ResultData: data,
	}
}

func fail(strategy string, layer int, start time.Time, msg string) Attempt {
	return Attempt{
		Strategy:   strategy,
		Layer:      layer,
		DurationMS: time.Since(start).Milliseconds(),
		Error:      msg,
	}
}

func anySuccess(attempts []Attempt) (Attempt, bool) {
	for _, a := range attempts {
		if a.Success {
			return a, true
		}
	}
	return Attempt{}, false
}
