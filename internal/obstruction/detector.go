package obstruction

import (
	"strings"

	"go.uber.org/zap"
)

// Detector classifies page content against the indicator table.
type Detector struct {
	logger *zap.Logger
}

func NewDetector(logger *zap.Logger) *Detector {
	return &Detector{logger: logger.Named("obstruction_detector")}
}

// Detect scans the page content for obstruction indicators and returns a
// signature for the highest-priority type with at least one match. A nil
// return means the page looks clean and the task can proceed.
func (d *Detector) Detect(content, rawURL string) *Signature {
	if content == "" {
		return nil
	}

	haystack := strings.ToLower(content)

	for _, entry := range indicatorTable {
		var matched []string
		for _, indicator := range entry.Indicators {
			if strings.Contains(haystack, indicator) {
				matched = append(matched, indicator)
			}
		}
		if len(matched) == 0 {
			continue
		}

		sig := NewSignature(entry.Type, rawURL, matched)
		d.logger.Debug("Obstruction detected",
			zap.String("type", string(entry.Type)),
			zap.String("domain", sig.SiteDomain),
			zap.Strings("indicators", matched),
		)
		return sig
	}

	return nil
}
