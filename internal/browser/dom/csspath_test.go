package dom_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/eversale-agent/internal/browser/dom"
)

const testHTML = `
	<html>
	<body>
		<div id="header">
			<h1>Welcome</h1>
		</div>
		<div class="content">
			<p>P1</p><p>P2</p>
			<ul>
				<li>Item 1</li>
				<li>Item 2</li>
				<li id="special">Item 3</li>
			</ul>
		</div>
		<div class="content"><p>P3</p></div>
	</body>
	</html>
	`

// collectElements walks the parsed tree and returns element nodes in document order.
func collectElements(n *html.Node, out *[]*html.Node) {
	if n.Type == html.ElementNode {
		*out = append(*out, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectElements(c, out)
	}
}

func findByID(nodes []*html.Node, id string) *html.Node {
	for _, n := range nodes {
		if dom.AttrValue(n, "id") == id {
			return n
		}
	}
	return nil
}

func findNth(nodes []*html.Node, tag string, nth int) *html.Node {
	seen := 0
	for _, n := range nodes {
		if strings.EqualFold(n.Data, tag) {
			seen++
			if seen == nth {
				return n
			}
		}
	}
	return nil
}

func TestCSSPath(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(testHTML))
	require.NoError(t, err)

	var nodes []*html.Node
	collectElements(doc, &nodes)

	tests := []struct {
		name     string
		target   func() *html.Node
		expected string
	}{
		{
			name:     "body",
			target:   func() *html.Node { return findNth(nodes, "body", 1) },
			expected: "html:nth-of-type(1) > body:nth-of-type(1)",
		},
		{
			name:     "element with id",
			target:   func() *html.Node { return findByID(nodes, "header") },
			expected: "#header",
		},
		{
			name:     "child of id element",
			target:   func() *html.Node { return findNth(nodes, "h1", 1) },
			expected: "#header > h1:nth-of-type(1)",
		},
		{
			name:     "specific index",
			target:   func() *html.Node { return findNth(nodes, "p", 2) },
			expected: "html:nth-of-type(1) > body:nth-of-type(1) > div:nth-of-type(2) > p:nth-of-type(2)",
		},
		{
			name:     "ambiguous classes resolved by position",
			target:   func() *html.Node { return findNth(nodes, "p", 3) },
			expected: "html:nth-of-type(1) > body:nth-of-type(1) > div:nth-of-type(3) > p:nth-of-type(1)",
		},
		{
			name:     "list item",
			target:   func() *html.Node { return findNth(nodes, "li", 2) },
			expected: "html:nth-of-type(1) > body:nth-of-type(1) > div:nth-of-type(2) > ul:nth-of-type(1) > li:nth-of-type(2)",
		},
		{
			name:     "list item with id shortcut",
			target:   func() *html.Node { return findByID(nodes, "special") },
			expected: "#special",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := tt.target()
			require.NotNil(t, target, "test setup error: target node not found")
			assert.Equal(t, tt.expected, dom.CSSPath(target))
		})
	}
}

func TestCSSPath_NilNode(t *testing.T) {
	assert.Equal(t, "", dom.CSSPath(nil))
}

func TestCSSPath_AwkwardID(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(`<html><body><div id="user:42"><span>x</span></div></body></html>`))
	require.NoError(t, err)

	var nodes []*html.Node
	collectElements(doc, &nodes)

	span := findNth(nodes, "span", 1)
	require.NotNil(t, span)

	// Ids that are not simple identifiers fall back to an attribute selector.
	assert.Equal(t, `[id="user:42"] > span:nth-of-type(1)`, dom.CSSPath(span))
}
