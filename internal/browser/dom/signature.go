package dom

import (
	"hash"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"

	"github.com/xkilldash9x/eversale-agent/api/schemas"
)

var hasherPool = sync.Pool{
	New: func() interface{} { return fnv.New64a() },
}

// HashString returns the FNV-1a hash of s, hex encoded.
func HashString(s string) string {
	hasher := hasherPool.Get().(hash.Hash64)
	defer func() {
		hasher.Reset()
		hasherPool.Put(hasher)
	}()

	_, _ = hasher.Write([]byte(s))
	return strconv.FormatUint(hasher.Sum64(), 16)
}

// Signature produces a stable identity hash for an element from the facts
// that survive markup churn: tag name, input type, ARIA role and placeholder.
// Regenerated ids, class hashes and text edits do not change the signature,
// so a cached selector can be checked against the element it used to match.
func Signature(facts schemas.ElementFacts) string {
	var sb strings.Builder
	sb.WriteString(strings.ToLower(facts.Tag))

	if v := normalizeAttr(facts.Type); v != "" {
		sb.WriteString(`[type="` + strings.ToLower(v) + `"]`)
	}
	if v := normalizeAttr(facts.Role); v != "" {
		sb.WriteString(`[role="` + strings.ToLower(v) + `"]`)
	}
	if v := normalizeAttr(facts.Placeholder); v != "" {
		sb.WriteString(`[placeholder="` + v + `"]`)
	}

	return HashString(sb.String())
}

func normalizeAttr(val string) string {
	val = strings.TrimSpace(val)
	if len(val) > 128 {
		val = val[:128]
	}
	return strings.ReplaceAll(val, `"`, "'")
}
