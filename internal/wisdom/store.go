package wisdom

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const patternsFile = "challenge_patterns.json"

// maxPatterns bounds the wisdom file for long-running processes. When the
// map grows past this, the least valuable patterns are evicted before the
// next persist.
const maxPatterns = 2000

// LearnedPattern accumulates what worked against one obstruction signature.
type LearnedPattern struct {
	Strategy     string    `json:"strategy"` // last strategy that succeeded
	Layer        int       `json:"layer"`    // resolver layer that succeeded (1-5)
	SuccessCount int       `json:"successes"`
	FailureCount int       `json:"failures"`
	AvgTimeMS    int64     `json:"avg_time"`
	LastSuccess  time.Time `json:"last_success,omitempty"`
}

// SuccessRate returns successes over total attempts, 0 when untried.
func (p LearnedPattern) SuccessRate() float64 {
	total := p.SuccessCount + p.FailureCount
	if total == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(total)
}

// Store is a file-backed map from obstruction signature hash to the pattern
// learned for it. Every mutation is written to disk immediately, and the map
// is capped at maxPatterns with least-valuable eviction. All disk failures
// are logged and swallowed so a broken wisdom file never takes the resolver
// down with it.
type Store struct {
	logger *zap.Logger
	path   string

	mu       sync.Mutex
	patterns map[string]*LearnedPattern
}

// NewStore opens (or lazily creates) the wisdom file under dir. A leading
// "~" in dir is expanded to the home directory.
func NewStore(dir string, logger *zap.Logger) *Store {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		logger.Debug("Failed to expand wisdom dir, using as-is", zap.String("dir", dir), zap.Error(err))
		expanded = dir
	}

	s := &Store{
		logger:   logger.Named("wisdom_store"),
		path:     filepath.Join(expanded, patternsFile),
		patterns: make(map[string]*LearnedPattern),
	}
	s.load()
	return s
}

// Get returns a copy of the pattern for the signature hash.
func (s *Store) Get(signatureHash string) (LearnedPattern, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[signatureHash]
	if !ok {
		return LearnedPattern{}, false
	}
	return *p, true
}

// RecordSuccess updates the pattern for a resolved obstruction: the winning
// strategy and layer, an incremented success count, and the running average
// duration computed as (old+new)/2 in integer milliseconds.
func (s *Store) RecordSuccess(signatureHash, strategy string, layer int, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[signatureHash]
	if !ok {
		p = &LearnedPattern{}
		s.patterns[signatureHash] = p
	}

	elapsed := duration.Milliseconds()
	if p.SuccessCount == 0 {
		p.AvgTimeMS = elapsed
	} else {
		p.AvgTimeMS = (p.AvgTimeMS + elapsed) / 2
	}

	p.Strategy = strategy
	p.Layer = layer
	p.SuccessCount++
	p.LastSuccess = time.Now().UTC()

	s.persist()
}

// RecordFailure increments the failure count, creating the pattern on first
// sight so unresolved obstructions are remembered too.
func (s *Store) RecordFailure(signatureHash, strategy string, layer int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[signatureHash]
	if !ok {
		p = &LearnedPattern{Strategy: strategy, Layer: layer}
		s.patterns[signatureHash] = p
	}
	p.FailureCount++

	s.persist()
}

// Len reports the number of learned patterns.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.patterns)
}

// load reads the wisdom file, tolerating absence and corruption.
func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Debug("Failed to read wisdom file", zap.String("path", s.path), zap.Error(err))
		}
		return
	}

	if err := json.Unmarshal(data, &s.patterns); err != nil {
		s.logger.Debug("Failed to parse wisdom file, starting fresh", zap.String("path", s.path), zap.Error(err))
		s.patterns = make(map[string]*LearnedPattern)
	}
}

// evictIfFull drops the lowest-value patterns once the map exceeds
// maxPatterns. Value is success rate first, recency second, so proven
// strategies survive over noise from unresolved obstructions. Caller holds
// the lock.
func (s *Store) evictIfFull() {
	if len(s.patterns) <= maxPatterns {
		return
	}

	type scored struct {
		hash    string
		pattern *LearnedPattern
	}
	all := make([]scored, 0, len(s.patterns))
	for hash, p := range s.patterns {
		all = append(all, scored{hash, p})
	}
	sort.Slice(all, func(i, j int) bool {
		ri, rj := all[i].pattern.SuccessRate(), all[j].pattern.SuccessRate()
		if ri != rj {
			return ri < rj
		}
		return all[i].pattern.LastSuccess.Before(all[j].pattern.LastSuccess)
	})

	evict := len(s.patterns) - maxPatterns
	for _, sc := range all[:evict] {
		delete(s.patterns, sc.hash)
	}
	s.logger.Debug("Evicted low-value wisdom patterns", zap.Int("count", evict))
}

// persist writes the full pattern map to disk. Caller holds the lock.
func (s *Store) persist() {
	s.evictIfFull()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		s.logger.Debug("Failed to create wisdom dir", zap.String("path", s.path), zap.Error(err))
		return
	}

	data, err := json.MarshalIndent(s.patterns, "", "  ")
	if err != nil {
		s.logger.Debug("Failed to marshal wisdom patterns", zap.Error(err))
		return
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		s.logger.Debug("Failed to write wisdom file", zap.String("path", s.path), zap.Error(err))
	}
}
