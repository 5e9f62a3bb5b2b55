package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSuggestedActions_StructuredJSON(t *testing.T) {
	raw := `{"actions":[
		{"type":"click","selector":"#consent .accept"},
		{"type":"wait","seconds":5},
		{"type":"refresh"},
		{"type":"alternative","url":"https://mirror.example.com/data"}
	],"reasoning":"banner first"}`

	actions := parseSuggestedActions(raw)

	// Capped at three, in the model's order.
	require.Len(t, actions, 3)
	assert.Equal(t, aiAction{Type: "click", Selector: "#consent .accept"}, actions[0])
	assert.Equal(t, aiAction{Type: "wait", Seconds: 5}, actions[1])
	assert.Equal(t, aiAction{Type: "refresh"}, actions[2])
}

func TestParseSuggestedActions_FencedJSON(t *testing.T) {
	raw := "Here is my plan:\n```json\n{\"actions\":[{\"type\":\"click\",\"selector\":\".close\"}]}\n```"

	actions := parseSuggestedActions(raw)

	require.Len(t, actions, 1)
	assert.Equal(t, "click", actions[0].Type)
	assert.Equal(t, ".close", actions[0].Selector)
}

func TestParseSuggestedActions_DropsMalformedEntries(t *testing.T) {
	raw := `{"actions":[
		{"type":"click"},
		{"type":"alternative"},
		{"type":"teleport"},
		{"type":"Refresh "}
	]}`

	actions := parseSuggestedActions(raw)

	// Click without a selector, alternative without a URL and unknown types
	// are dropped; type matching tolerates case and whitespace.
	require.Len(t, actions, 1)
	assert.Equal(t, "refresh", actions[0].Type)
}

func TestParseSuggestedActions_FreeTextFallback(t *testing.T) {
	raw := `I would try the following:
1. Click the 'button.cookie-accept' element to dismiss the banner.
2. Wait 10 seconds for the challenge to expire.
3. Refresh the page afterwards.`

	actions := parseSuggestedActions(raw)

	require.Len(t, actions, 3)
	assert.Equal(t, aiAction{Type: "click", Selector: "button.cookie-accept"}, actions[0])
	assert.Equal(t, aiAction{Type: "wait", Seconds: 10}, actions[1])
	assert.Equal(t, aiAction{Type: "refresh"}, actions[2])
}

func TestParseSuggestedActions_FreeTextAlternativeURL(t *testing.T) {
	raw := "This site is hard-blocked. Try the alternative https://duckduckgo.com/html/?q=acme instead."

	actions := parseSuggestedActions(raw)

	require.Len(t, actions, 1)
	assert.Equal(t, "alternative", actions[0].Type)
	assert.Equal(t, "https://duckduckgo.com/html/?q=acme", actions[0].URL)
}

func TestParseSuggestedActions_NothingUsable(t *testing.T) {
	assert.Empty(t, parseSuggestedActions("I am not sure what to do here."))
	assert.Empty(t, parseSuggestedActions(""))
}

func TestParseSuggestedActions_WaitWithoutNumberDefaults(t *testing.T) {
	actions := parseSuggestedActions("Just wait a little while and it should clear.")

	require.Len(t, actions, 1)
	assert.Equal(t, "wait", actions[0].Type)
	assert.Equal(t, 2, actions[0].Seconds)
}
