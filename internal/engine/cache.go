package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/codeloom-ai/codeloom/pkg/types"
)

// cacheEntry memoizes one completed non-streaming response.
type cacheEntry struct {
	response  string
	createdAt time.Time
}

// responseCache is a time-bounded memo of prior one-shot results. Streaming
// results are never cached.
type responseCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// get returns the cached response for key if it is still within the TTL.
// Expired entries are evicted on read.
func (c *responseCache) get(key string) (string, bool) {
	if c.ttl <= 0 {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().Sub(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		return "", false
	}
	return entry.response, true
}

func (c *responseCache) put(key, response string) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{response: response, createdAt: c.now()}
}

func (c *responseCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// cacheKeyInput covers every input that affects model output. Effectively
// equal requests must hash identically.
type cacheKeyInput struct {
	Provider       string                 `json:"provider"`
	Model          string                 `json:"model"`
	Temperature    float64                `json:"temperature"`
	MaxTokens      int                    `json:"maxTokens"`
	ResponseFormat types.ResponseFormat   `json:"responseFormat"`
	Tools          []types.ToolDefinition `json:"tools"`
	Messages       []types.Message        `json:"messages"`
}

// cacheKey builds a stable hash over (provider identity, full message
// sequence, output-relevant options).
func cacheKey(providerID string, messages []types.Message, opts types.Options) string {
	input := cacheKeyInput{
		Provider:       providerID,
		Model:          opts.Model,
		Temperature:    opts.Temperature,
		MaxTokens:      opts.MaxTokens,
		ResponseFormat: opts.ResponseFormat,
		Tools:          opts.Tools,
		Messages:       messages,
	}
	data, _ := json.Marshal(input)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
