package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// CSSPath generates a stable CSS selector for a parsed node. It anchors on
// the nearest ancestor with an id to keep paths short, and otherwise walks
// up the tree emitting tag:nth-of-type segments.
func CSSPath(node *html.Node) string {
	if node == nil {
		return ""
	}

	var path []string
	for n := node; n != nil && n.Type != html.DocumentNode; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}

		tag := strings.ToLower(n.Data)
		if tag == "" {
			continue
		}

		// An id anchors the path and ends the traversal.
		if id := AttrValue(n, "id"); id != "" {
			if isSimpleIdent(id) {
				path = append(path, "#"+id)
			} else {
				path = append(path, fmt.Sprintf(`[id="%s"]`, strings.ReplaceAll(id, `"`, `\"`)))
			}
			break
		}

		// Position among same-tag siblings, 1-based.
		index := 1
		for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if prev.Type == html.ElementNode && strings.ToLower(prev.Data) == tag {
				index++
			}
		}

		path = append(path, fmt.Sprintf("%s:nth-of-type(%d)", tag, index))
	}

	if len(path) == 0 {
		return ""
	}

	// Reverse so the path reads root (or id anchor) to node.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	return strings.Join(path, " > ")
}

// AttrValue returns the value of the named attribute, or "" when absent.
func AttrValue(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

// isSimpleIdent reports whether s is usable verbatim in a #id selector.
func isSimpleIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
