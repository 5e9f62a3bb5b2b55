package selector

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const selectorsFile = "selectors.json"

// CacheEntry remembers how a broken selector was healed on one domain.
type CacheEntry struct {
	WorkingSelector  string    `json:"working_selector"`
	Strategy         string    `json:"strategy"`
	PathPattern      string    `json:"path_pattern"`
	SuccessCount     int       `json:"success_count"`
	LastSuccess      time.Time `json:"last_success"`
	ElementSignature string    `json:"element_signature"`
}

// Cache is a file-backed two-level map: domain, then original-selector hash.
// Entries are never evicted; a stale entry is simply bypassed when its
// element signature no longer matches the live page. Disk failures are
// logged and swallowed.
type Cache struct {
	logger *zap.Logger
	path   string

	mu      sync.Mutex
	domains map[string]map[string]*CacheEntry
}

// NewCache opens (or lazily creates) selectors.json under dir. A leading "~"
// in dir is expanded to the home directory.
func NewCache(dir string, logger *zap.Logger) *Cache {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		logger.Debug("Failed to expand selector cache dir, using as-is", zap.String("dir", dir), zap.Error(err))
		expanded = dir
	}

	c := &Cache{
		logger:  logger.Named("selector_cache"),
		path:    filepath.Join(expanded, selectorsFile),
		domains: make(map[string]map[string]*CacheEntry),
	}
	c.load()
	return c
}

// Get returns a copy of the entry for (domain, selectorHash).
func (c *Cache) Get(domain, selectorHash string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, ok := c.domains[domain]
	if !ok {
		return CacheEntry{}, false
	}
	e, ok := entries[selectorHash]
	if !ok {
		return CacheEntry{}, false
	}
	return *e, true
}

// Put stores an entry and flushes to disk.
func (c *Cache) Put(domain, selectorHash string, entry CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, ok := c.domains[domain]
	if !ok {
		entries = make(map[string]*CacheEntry)
		c.domains[domain] = entries
	}
	stored := entry
	entries[selectorHash] = &stored

	c.persist()
}

// RecordHit bumps the success counter and timestamp for a validated hit.
func (c *Cache) RecordHit(domain, selectorHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, ok := c.domains[domain]
	if !ok {
		return
	}
	e, ok := entries[selectorHash]
	if !ok {
		return
	}

	e.SuccessCount++
	e.LastSuccess = time.Now().UTC()

	c.persist()
}

// Len reports the total number of cached entries across domains.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, entries := range c.domains {
		n += len(entries)
	}
	return n
}

func (c *Cache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Debug("Failed to read selector cache", zap.String("path", c.path), zap.Error(err))
		}
		return
	}

	if err := json.Unmarshal(data, &c.domains); err != nil {
		c.logger.Debug("Failed to parse selector cache, starting fresh", zap.String("path", c.path), zap.Error(err))
		c.domains = make(map[string]map[string]*CacheEntry)
	}
}

// persist writes the full cache to disk. Caller holds the lock.
func (c *Cache) persist() {
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		c.logger.Debug("Failed to create selector cache dir", zap.String("path", c.path), zap.Error(err))
		return
	}

	data, err := json.MarshalIndent(c.domains, "", "  ")
	if err != nil {
		c.logger.Debug("Failed to marshal selector cache", zap.Error(err))
		return
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		c.logger.Debug("Failed to write selector cache", zap.String("path", c.path), zap.Error(err))
	}
}
