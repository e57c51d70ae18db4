package tokens

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// PerMessageOverhead is the framing cost providers add to every message
const PerMessageOverhead = 3

const cacheSize = 256

// Counter counts tokens with a fixed tokenizer. Results are memoised since
// system prompts are counted on every turn.
type Counter struct {
	tok   Tokenizer
	cache *lru.Cache[string, int]
}

// NewCounter wraps tok with a bounded memo cache
func NewCounter(tok Tokenizer) *Counter {
	// only fails on a non-positive size
	cache, _ := lru.New[string, int](cacheSize)
	return &Counter{tok: tok, cache: cache}
}

// Count returns the number of tokens in text
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if n, ok := c.cache.Get(text); ok {
		return n
	}
	n := len(c.tok.Encode(text))
	c.cache.Add(text, n)
	return n
}

// CountMessage is Count plus PerMessageOverhead
func (c *Counter) CountMessage(text string) int {
	return c.Count(text) + PerMessageOverhead
}
