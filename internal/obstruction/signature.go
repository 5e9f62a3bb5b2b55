package obstruction

import (
	"hash"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/xkilldash9x/eversale-agent/internal/urlutil"
)

// Signature identifies one concrete obstruction occurrence: what kind it is,
// where it happened, and the evidence that triggered the classification.
type Signature struct {
	Type           Type     `json:"obstruction_type"`
	SiteDomain     string   `json:"site_domain"`
	PageIndicators []string `json:"page_indicators"` // matched patterns, in table order
	URLPattern     string   `json:"url_pattern"`     // raw URL at detection time
}

// NewSignature builds a signature for a detection at rawURL.
func NewSignature(typ Type, rawURL string, indicators []string) *Signature {
	return &Signature{
		Type:           typ,
		SiteDomain:     urlutil.SiteDomain(rawURL),
		PageIndicators: indicators,
		URLPattern:     rawURL,
	}
}

var hasherPool = sync.Pool{
	New: func() interface{} { return fnv.New64a() },
}

// Hash derives the lookup key for the learning store. It covers the type,
// the domain, and the indicator set sorted into canonical order, so two
// detections with the same evidence collapse to one key no matter which
// indicator matched first.
func (s *Signature) Hash() string {
	sorted := make([]string, len(s.PageIndicators))
	copy(sorted, s.PageIndicators)
	sort.Strings(sorted)

	var sb strings.Builder
	sb.WriteString(string(s.Type))
	sb.WriteByte(0)
	sb.WriteString(s.SiteDomain)
	for _, ind := range sorted {
		sb.WriteByte(0)
		sb.WriteString(ind)
	}

	hasher := hasherPool.Get().(hash.Hash64)
	defer func() {
		hasher.Reset()
		hasherPool.Put(hasher)
	}()

	_, _ = hasher.Write([]byte(sb.String()))
	return strconv.FormatUint(hasher.Sum64(), 16)
}
