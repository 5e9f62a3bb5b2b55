// Package planner decides the next worker-loop action for a job. The
// production implementation asks the LLM for a strict-JSON decision; a
// heuristic fallback salvages usable decisions from free-text replies.
package planner

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/eversale-agent/api/schemas"
	"github.com/xkilldash9x/eversale-agent/internal/llmutil"
	"github.com/xkilldash9x/eversale-agent/internal/snapshot"
)

// Tool names the planner may emit for tool_call decisions.
const (
	ToolClick    = "click"
	ToolFill     = "fill"
	ToolPressKey = "press_key"
	ToolExtract  = "extract"
	ToolWait     = "wait"
)

// Decision is one planned step. Exactly one of the mode-specific fields
// matters per mode: Answer for final_answer, URL for dom_navigate, and
// Tool/Selector/Text for tool_call.
type Decision struct {
	Mode     schemas.StepMode  `json:"mode"`
	Tool     string            `json:"tool,omitempty"`
	Selector string            `json:"selector,omitempty"`
	// Description is what the element is for, in plain language. It feeds
	// the text strategies when the selector needs healing.
	Description string            `json:"description,omitempty"`
	Text        string            `json:"text,omitempty"`
	Key         string            `json:"key,omitempty"`
	Seconds     int               `json:"seconds,omitempty"`
	URL         string            `json:"url,omitempty"`
	Answer      string            `json:"answer,omitempty"`
	Extract     map[string]string `json:"extract,omitempty"`
	Reasoning   string            `json:"reasoning,omitempty"`
}

// Summary renders the decision as a one-line action description for step
// records and history.
func (d *Decision) Summary() string {
	switch d.Mode {
	case schemas.StepModeFinalAnswer:
		return "final_answer"
	case schemas.StepModeDOMNavigate:
		return "navigate " + d.URL
	default:
		switch d.Tool {
		case ToolClick:
			return "click " + d.Selector
		case ToolFill:
			return fmt.Sprintf("fill %s with %q", d.Selector, d.Text)
		case ToolPressKey:
			return "press " + d.Key
		case ToolExtract:
			return fmt.Sprintf("extract %d fields", len(d.Extract))
		case ToolWait:
			return fmt.Sprintf("wait %ds", d.Seconds)
		default:
			return d.Tool
		}
	}
}

// State is everything the planner sees for one decision.
type State struct {
	Task           string
	Snapshot       *snapshot.Snapshot
	Shared         *schemas.SharedState
	RecentSteps    []schemas.StepResult
	OlderStepCount int
}

// Planner produces the next decision for a running job.
type Planner interface {
	Next(ctx context.Context, state *State) (*Decision, error)
}

const systemPrompt = `You are a browser automation planner. You receive a task, the current page state, and the recent step history. Decide the single next step.

Respond with JSON only, in exactly one of these shapes:
{"mode": "tool_call", "tool": "click", "selector": "<css>", "description": "<what the element is>", "reasoning": "<why>"}
{"mode": "tool_call", "tool": "fill", "selector": "<css>", "text": "<value>", "description": "<what the field is>", "reasoning": "<why>"}
{"mode": "tool_call", "tool": "press_key", "key": "<DOM key name>", "reasoning": "<why>"}
{"mode": "tool_call", "tool": "extract", "extract": {"<field>": "<value read from the page>"}, "reasoning": "<why>"}
{"mode": "tool_call", "tool": "wait", "seconds": <n>, "reasoning": "<why>"}
{"mode": "dom_navigate", "url": "<absolute url>", "reasoning": "<why>"}
{"mode": "final_answer", "answer": "<complete answer to the task>", "reasoning": "<why>"}

Rules:
- Prefer selectors from the interactive element inventory.
- Emit final_answer as soon as the task is satisfied; do not keep browsing.
- Never repeat a step that already succeeded.`

// LLMPlanner asks the model for the next decision.
type LLMPlanner struct {
	llm    schemas.LLMClient
	logger *zap.Logger
}

func NewLLMPlanner(llm schemas.LLMClient, logger *zap.Logger) *LLMPlanner {
	return &LLMPlanner{
		llm:    llm,
		logger: logger.Named("planner"),
	}
}

// Next builds the trimmed-context prompt, queries the model, and parses the
// decision. A reply that cannot be parsed into a valid decision is an error;
// the worker records it as a failed step and asks again next iteration.
func (p *LLMPlanner) Next(ctx context.Context, state *State) (*Decision, error) {
	prompt := buildPrompt(state)

	raw, err := p.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   prompt,
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			Temperature:     0.2,
			ForceJSONFormat: true,
			MaxOutputTokens: 1024,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("planner generation: %w", err)
	}

	decision, err := ParseDecision(raw)
	if err != nil {
		p.logger.Debug("Planner reply unparseable", zap.Error(err), zap.String("raw", firstRunes(raw, 200)))
		return nil, err
	}
	return decision, nil
}

// buildPrompt assembles the planner context: task, shared state, a summary
// of older steps, the last few steps verbatim, and the current snapshot.
func buildPrompt(state *State) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Task: %s\n", state.Task)

	if state.Shared != nil {
		if len(state.Shared.ExtractedData) > 0 {
			sb.WriteString("\nData extracted so far:\n")
			for k, v := range state.Shared.ExtractedData {
				fmt.Fprintf(&sb, "- %s: %s\n", k, v)
			}
		}
		if state.Shared.LastAction != "" {
			fmt.Fprintf(&sb, "\nLast action: %s\n", state.Shared.LastAction)
		}
	}

	if state.OlderStepCount > 0 {
		fmt.Fprintf(&sb, "\n(%d earlier steps omitted)\n", state.OlderStepCount)
	}
	if len(state.RecentSteps) > 0 {
		sb.WriteString("\nRecent steps:\n")
		for _, step := range state.RecentSteps {
			status := "ok"
			if !step.Success {
				status = "FAILED: " + step.Error
			}
			fmt.Fprintf(&sb, "%d. %s -> %s\n", step.StepNumber, step.Action, status)
		}
	}

	if state.Snapshot != nil {
		sb.WriteString("\nCurrent page:\n")
		sb.WriteString(state.Snapshot.PromptBlock())
	}

	sb.WriteString("\nDecide the next step.")
	return sb.String()
}

// ParseDecision reads a model reply into a Decision, validating the mode and
// the fields that mode requires.
func ParseDecision(raw string) (*Decision, error) {
	decision, err := llmutil.ParseJSONResponse[Decision](raw)
	if err != nil {
		return nil, fmt.Errorf("parsing planner decision: %w", err)
	}

	decision.Mode = schemas.StepMode(strings.ToLower(strings.TrimSpace(string(decision.Mode))))
	decision.Tool = strings.ToLower(strings.TrimSpace(decision.Tool))

	switch decision.Mode {
	case schemas.StepModeFinalAnswer:
		if strings.TrimSpace(decision.Answer) == "" {
			return nil, fmt.Errorf("final_answer decision carries no answer")
		}
	case schemas.StepModeDOMNavigate:
		if strings.TrimSpace(decision.URL) == "" {
			return nil, fmt.Errorf("dom_navigate decision carries no url")
		}
	case schemas.StepModeToolCall:
		switch decision.Tool {
		case ToolClick:
			if strings.TrimSpace(decision.Selector) == "" {
				return nil, fmt.Errorf("click decision carries no selector")
			}
		case ToolFill:
			if strings.TrimSpace(decision.Selector) == "" {
				return nil, fmt.Errorf("fill decision carries no selector")
			}
		case ToolPressKey:
			if strings.TrimSpace(decision.Key) == "" {
				return nil, fmt.Errorf("press_key decision carries no key")
			}
		case ToolExtract:
			if len(decision.Extract) == 0 {
				return nil, fmt.Errorf("extract decision carries no data")
			}
		case ToolWait:
			if decision.Seconds <= 0 {
				decision.Seconds = 1
			}
		default:
			return nil, fmt.Errorf("unknown tool %q", decision.Tool)
		}
	default:
		return nil, fmt.Errorf("unknown decision mode %q", decision.Mode)
	}

	return decision, nil
}

func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
