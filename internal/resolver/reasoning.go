package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/eversale-agent/api/schemas"
	"github.com/xkilldash9x/eversale-agent/internal/llmutil"
	"github.com/xkilldash9x/eversale-agent/internal/obstruction"
)

// Layer 3: ask the model how a human would get past this page, then do that.

const maxSuggestedActions = 3

const reasoningSystemPrompt = `You are the recovery module of a browser automation agent. The agent hit a page obstruction it could not clear mechanically. Suggest up to 3 concrete actions, most promising first.

Respond with JSON only, in this exact shape:
{"actions": [{"type": "click", "selector": "<css selector>"} | {"type": "wait", "seconds": <n>} | {"type": "refresh"} | {"type": "alternative", "url": "<url with the same data>"}], "reasoning": "<one sentence>"}`

// aiAction is one step the model suggests.
type aiAction struct {
	Type     string `json:"type"`
	Selector string `json:"selector,omitempty"`
	Seconds  int    `json:"seconds,omitempty"`
	URL      string `json:"url,omitempty"`
}

type aiPlan struct {
	Actions   []aiAction `json:"actions"`
	Reasoning string     `json:"reasoning,omitempty"`
}

func (r *Resolver) runAIReasoning(ctx context.Context, sig *obstruction.Signature, pageContent, query string) []Attempt {
	if r.llm == nil {
		return nil
	}
	start := time.Now()

	userPrompt := fmt.Sprintf(
		"Obstruction: %s\nURL: %s\nMatched indicators: %s\nUser goal: %s\nPage content (truncated):\n%s",
		sig.Type,
		sig.URLPattern,
		strings.Join(sig.PageIndicators, ", "),
		query,
		truncateRunes(pageContent, 1500),
	)

	raw, err := r.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: reasoningSystemPrompt,
		UserPrompt:   userPrompt,
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			Temperature:     0.2,
			ForceJSONFormat: true,
			MaxOutputTokens: 1024,
		},
	})
	if err != nil {
		r.logger.Debug("Reasoning request failed", zap.Error(err))
		return []Attempt{fail(StrategyAIReasoning, 3, start, err.Error())}
	}

	actions := parseSuggestedActions(raw)
	if len(actions) == 0 {
		return []Attempt{fail(StrategyAIReasoning, 3, start, "model suggested no usable actions")}
	}
	r.logger.Debug("Model suggested recovery actions", zap.Int("count", len(actions)))

	var attempts []Attempt
	for _, action := range actions {
		a := r.executeSuggestedAction(ctx, sig, action)
		attempts = append(attempts, a)
		if a.Success {
			break
		}
	}
	return attempts
}

// parseSuggestedActions reads the structured plan; free-text keyword parsing
// is the fallback when the model ignored the JSON instruction.
func parseSuggestedActions(raw string) []aiAction {
	if plan, err := llmutil.ParseJSONResponse[aiPlan](raw); err == nil && len(plan.Actions) > 0 {
		return capActions(normalizeActions(plan.Actions))
	}
	return capActions(parseActionsFreeText(raw))
}

func normalizeActions(actions []aiAction) []aiAction {
	var out []aiAction
	for _, a := range actions {
		a.Type = strings.ToLower(strings.TrimSpace(a.Type))
		switch a.Type {
		case "click":
			if strings.TrimSpace(a.Selector) == "" {
				continue
			}
		case "alternative":
			if strings.TrimSpace(a.URL) == "" {
				continue
			}
		case "wait", "refresh":
		default:
			continue
		}
		out = append(out, a)
	}
	return out
}

func capActions(actions []aiAction) []aiAction {
	if len(actions) > maxSuggestedActions {
		return actions[:maxSuggestedActions]
	}
	return actions
}

var (
	waitSecondsRe    = regexp.MustCompile(`(?i)\bwait\b[^0-9]*(\d+)`)
	suggestedURLRe   = regexp.MustCompile(`https?://[^\s"'<>)\]]+`)
	quotedSelectorRe = regexp.MustCompile("[`'\"]([^`'\"]+)[`'\"]")
)

// parseActionsFreeText scavenges actions from conversational output, one per
// line at most.
func parseActionsFreeText(raw string) []aiAction {
	var actions []aiAction
	for _, line := range strings.Split(raw, "\n") {
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "click"):
			if m := quotedSelectorRe.FindStringSubmatch(line); m != nil {
				actions = append(actions, aiAction{Type: "click", Selector: m[1]})
			}
		case strings.Contains(lower, "refresh") || strings.Contains(lower, "reload"):
			actions = append(actions, aiAction{Type: "refresh"})
		case strings.Contains(lower, "wait"):
			seconds := 2
			if m := waitSecondsRe.FindStringSubmatch(line); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					seconds = n
				}
			}
			actions = append(actions, aiAction{Type: "wait", Seconds: seconds})
		case strings.Contains(lower, "alternative") || strings.Contains(lower, "instead"):
			if m := suggestedURLRe.FindString(line); m != "" {
				actions = append(actions, aiAction{Type: "alternative", URL: m})
			}
		}
	}
	return actions
}

func (r *Resolver) executeSuggestedAction(ctx context.Context, sig *obstruction.Signature, action aiAction) Attempt {
	start := time.Now()
	data := map[string]string{"action": action.Type}

	switch action.Type {
	case "click":
		data["selector"] = action.Selector
		if err := r.driver.Click(ctx, action.Selector); err != nil {
			return failWithData(StrategyAIReasoning, 3, start, err.Error(), data)
		}

	case "wait":
		seconds := action.Seconds
		if seconds <= 0 || seconds > 30 {
			seconds = 2
		}
		if err := sleepCtx(ctx, time.Duration(seconds)*time.Second); err != nil {
			return failWithData(StrategyAIReasoning, 3, start, err.Error(), data)
		}

	case "refresh":
		if err := r.driver.Reload(ctx); err != nil {
			return failWithData(StrategyAIReasoning, 3, start, err.Error(), data)
		}

	case "alternative":
		if r.fetcher == nil {
			return failWithData(StrategyAIReasoning, 3, start, "no HTTP prober available", data)
		}
		sample, err := r.fetcher.Fetch(ctx, action.URL)
		if err != nil {
			return failWithData(StrategyAIReasoning, 3, start, err.Error(), data)
		}
		if !sample.Usable() {
			return failWithData(StrategyAIReasoning, 3, start,
				fmt.Sprintf("suggested alternative returned status %d", sample.StatusCode), data)
		}
		data["url"] = sample.FinalURL
		data["title"] = sample.Title
		data["snippet"] = sample.TextSnippet
		return Attempt{
			Strategy: StrategyAIReasoning, Layer: 3, Success: true,
			DurationMS: time.Since(start).Milliseconds(), ResultData: data,
		}

	default:
		return failWithData(StrategyAIReasoning, 3, start, "unsupported action type: "+action.Type, data)
	}

	// Page-mutating actions only count if the obstruction actually cleared.
	if r.obstructionCleared(ctx, sig) {
		return Attempt{
			Strategy: StrategyAIReasoning, Layer: 3, Success: true,
			DurationMS: time.Since(start).Milliseconds(), ResultData: data,
		}
	}
	return failWithData(StrategyAIReasoning, 3, start,
		fmt.Sprintf("%s executed but the obstruction persisted", action.Type), data)
}

func failWithData(strategy string, layer int, start time.Time, msg string, data map[string]string) Attempt {
	a := fail(strategy, layer, start, msg)
	a.ResultData = data
	return a
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
