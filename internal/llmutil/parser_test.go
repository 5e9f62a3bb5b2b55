package llmutil

import (
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decision struct {
	Mode     string            `json:"mode"`
	Selector string            `json:"selector"`
	Answer   string            `json:"answer"`
	Extract  map[string]string `json:"extract"`
}

func TestParseJSONResponse(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     decision
	}{
		{
			name:     "bare object",
			response: `{"mode":"tool_call","selector":"#login"}`,
			want:     decision{Mode: "tool_call", Selector: "#login"},
		},
		{
			name:     "fenced json",
			response: "```json\n{\"mode\":\"final_answer\",\"answer\":\"42\"}\n```",
			want:     decision{Mode: "final_answer", Answer: "42"},
		},
		{
			name:     "fence without language tag",
			response: "```\n{\"mode\":\"dom_navigate\"}\n```",
			want:     decision{Mode: "dom_navigate"},
		},
		{
			name:     "conversational wrapper",
			response: `Sure! Here is the decision you asked for: {"mode":"tool_call","selector":".btn"} Let me know if you need anything else.`,
			want:     decision{Mode: "tool_call", Selector: ".btn"},
		},
		{
			name:     "braces inside string literals",
			response: `{"mode":"tool_call","selector":"div[data-x='{a}']","answer":"nested {curly} text"}`,
			want:     decision{Mode: "tool_call", Selector: "div[data-x='{a}']", Answer: "nested {curly} text"},
		},
		{
			name:     "escaped quotes inside strings",
			response: `prefix {"mode":"tool_call","answer":"he said \"go\" now"} suffix`,
			want:     decision{Mode: "tool_call", Answer: `he said "go" now`},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseJSONResponse[decision](tc.response)
			require.NoError(t, err)
			assert.Equal(t, tc.want, *got)
		})
	}
}

func TestParseJSONResponse_Malformed(t *testing.T) {
	for _, response := range []string{
		"",
		"no json here at all",
		`{"mode": truncated`,
		"``` incomplete fence {",
	} {
		_, err := ParseJSONResponse[decision](response)
		assert.Error(t, err, "response %q should not parse", response)
	}
}

func TestExtractJSONPayload_PrefersFencedBlock(t *testing.T) {
	response := "```json\n{\"a\":1}\n```\ntrailing {\"b\":2}"
	assert.Equal(t, `{"a":1}`, ExtractJSONPayload(response))
}

func TestExtractJSONPayload_Array(t *testing.T) {
	response := `Options are: ["click", "wait", "refresh"] pick one`
	assert.Equal(t, `["click", "wait", "refresh"]`, ExtractJSONPayload(response))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))

	n := EstimateTokens("The quick brown fox jumps over the lazy dog.")
	assert.Greater(t, n, 4)
	assert.Less(t, n, 30)

	// Longer text estimates strictly higher.
	longer := EstimateTokens("The quick brown fox jumps over the lazy dog. The quick brown fox jumps over the lazy dog.")
	assert.Greater(t, longer, n)
}

// FuzzExtractJSONPayload asserts the extractor never panics and that any
// extracted payload is a substring of its input.
func FuzzExtractJSONPayload(f *testing.F) {
	f.Add([]byte(`{"mode":"tool_call"}`))
	f.Add([]byte("```json\n[1,2,3]\n```"))
	f.Add([]byte(`text "quoted { brace" more`))

	f.Fuzz(func(t *testing.T, data []byte) {
		fuzzConsumer := fuzz.NewConsumer(data)
		response, err := fuzzConsumer.GetString()
		if err != nil {
			return
		}

		payload := ExtractJSONPayload(response)
		if payload != "" && !strings.Contains(response, payload) {
			t.Errorf("payload %q is not a substring of input %q", payload, response)
		}
		// The typed parser must also stay panic-free on arbitrary input.
		_, _ = ParseJSONResponse[map[string]any](response)
	})
}
