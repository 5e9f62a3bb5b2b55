package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/eversale-agent/api/schemas"
	"github.com/xkilldash9x/eversale-agent/internal/snapshot"
)

type scriptedLLM struct {
	response   string
	err        error
	lastSystem string
	lastUser   string
}

func (s *scriptedLLM) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	s.lastSystem = req.SystemPrompt
	s.lastUser = req.UserPrompt
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *scriptedLLM) Close() error { return nil }

func TestParseDecision_ValidShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Decision
	}{
		{
			name: "final answer",
			raw:  `{"mode":"final_answer","answer":"The price is $10."}`,
			want: Decision{Mode: schemas.StepModeFinalAnswer, Answer: "The price is $10."},
		},
		{
			name: "navigate",
			raw:  `{"mode":"dom_navigate","url":"https://example.com/pricing"}`,
			want: Decision{Mode: schemas.StepModeDOMNavigate, URL: "https://example.com/pricing"},
		},
		{
			name: "click with fenced json",
			raw:  "```json\n{\"mode\":\"tool_call\",\"tool\":\"click\",\"selector\":\"#go\"}\n```",
			want: Decision{Mode: schemas.StepModeToolCall, Tool: ToolClick, Selector: "#go"},
		},
		{
			name: "fill",
			raw:  `{"mode":"tool_call","tool":"fill","selector":"input[name=q]","text":"anvils"}`,
			want: Decision{Mode: schemas.StepModeToolCall, Tool: ToolFill, Selector: "input[name=q]", Text: "anvils"},
		},
		{
			name: "extract",
			raw:  `{"mode":"tool_call","tool":"extract","extract":{"price":"$10"}}`,
			want: Decision{Mode: schemas.StepModeToolCall, Tool: ToolExtract, Extract: map[string]string{"price": "$10"}},
		},
		{
			name: "mode case insensitive",
			raw:  `{"mode":"Final_Answer","answer":"done"}`,
			want: Decision{Mode: schemas.StepModeFinalAnswer, Answer: "done"},
		},
		{
			name: "wait defaults to one second",
			raw:  `{"mode":"tool_call","tool":"wait"}`,
			want: Decision{Mode: schemas.StepModeToolCall, Tool: ToolWait, Seconds: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDecision(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseDecision_RejectsInvalidShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "I think we should click the button"},
		{"unknown mode", `{"mode":"daydream"}`},
		{"unknown tool", `{"mode":"tool_call","tool":"teleport"}`},
		{"final answer without answer", `{"mode":"final_answer"}`},
		{"navigate without url", `{"mode":"dom_navigate"}`},
		{"click without selector", `{"mode":"tool_call","tool":"click"}`},
		{"press_key without key", `{"mode":"tool_call","tool":"press_key"}`},
		{"extract without data", `{"mode":"tool_call","tool":"extract"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDecision(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestNext_BuildsTrimmedContextPrompt(t *testing.T) {
	llm := &scriptedLLM{response: `{"mode":"tool_call","tool":"click","selector":"#place-order"}`}
	p := NewLLMPlanner(llm, zap.NewNop())

	shared := schemas.NewSharedState()
	shared.LastAction = "fill input[name=q] with \"anvils\""
	shared.MergeExtracted(map[string]string{"company": "Acme"})

	snap := snapshot.NewCompressor(zap.NewNop()).
		Compress(`<body><button id="place-order">Place order</button></body>`, "https://shop.example.com", "Shop")

	state := &State{
		Task:           "Order an anvil",
		Snapshot:       snap,
		Shared:         shared,
		OlderStepCount: 7,
		RecentSteps: []schemas.StepResult{
			{StepNumber: 8, Action: "navigate https://shop.example.com", Success: true},
			{StepNumber: 9, Action: "click #checkout", Success: false, Error: "no visible element matches selector"},
		},
	}

	decision, err := p.Next(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, ToolClick, decision.Tool)

	// Trimmed context: task, extracted data, older-step summary, recent
	// steps with outcomes, and the page snapshot.
	assert.Contains(t, llm.lastUser, "Task: Order an anvil")
	assert.Contains(t, llm.lastUser, "company: Acme")
	assert.Contains(t, llm.lastUser, "(7 earlier steps omitted)")
	assert.Contains(t, llm.lastUser, "9. click #checkout -> FAILED")
	assert.Contains(t, llm.lastUser, "#place-order")
	assert.Contains(t, llm.lastSystem, "final_answer")
}

func TestNext_PropagatesGenerationErrors(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("rate limited")}
	p := NewLLMPlanner(llm, zap.NewNop())

	_, err := p.Next(context.Background(), &State{Task: "anything"})
	assert.Error(t, err)
}

func TestNext_UnparseableReplyIsAnError(t *testing.T) {
	llm := &scriptedLLM{response: "Sorry, I cannot decide."}
	p := NewLLMPlanner(llm, zap.NewNop())

	_, err := p.Next(context.Background(), &State{Task: "anything"})
	assert.Error(t, err)
}

func TestDecisionSummary(t *testing.T) {
	assert.Equal(t, "final_answer", (&Decision{Mode: schemas.StepModeFinalAnswer}).Summary())
	assert.Equal(t, "navigate https://x.test", (&Decision{Mode: schemas.StepModeDOMNavigate, URL: "https://x.test"}).Summary())
	assert.Equal(t, "click #go", (&Decision{Mode: schemas.StepModeToolCall, Tool: ToolClick, Selector: "#go"}).Summary())
	assert.Equal(t, `fill #q with "anvils"`, (&Decision{Mode: schemas.StepModeToolCall, Tool: ToolFill, Selector: "#q", Text: "anvils"}).Summary())
	assert.Equal(t, "press Escape", (&Decision{Mode: schemas.StepModeToolCall, Tool: ToolPressKey, Key: "Escape"}).Summary())
	assert.Equal(t, "wait 3s", (&Decision{Mode: schemas.StepModeToolCall, Tool: ToolWait, Seconds: 3}).Summary())
}
