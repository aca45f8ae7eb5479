// SPDX-License-Identifier: MIT
package stretch

import (
	"strconv"

	"github.com/patrickmn/go-cache"
)

// WindowCache memoizes Windows by size and fade envelopes by length. Both are
// pure functions of their key, so entries never expire. A cache is passed to
// every Stretcher and Group that should share curves.
type WindowCache struct {
	// A cleanup interval of zero keeps go-cache from starting its janitor.
	entries *cache.Cache
}

// NewWindowCache returns an empty cache.
func NewWindowCache() *WindowCache {
	return &WindowCache{entries: cache.New(cache.NoExpiration, 0)}
}

// Window returns the Window for size, building it on first use.
func (c *WindowCache) Window(size int) (*Window, error) {
	key := "window:" + strconv.Itoa(size)
	if v, ok := c.entries.Get(key); ok {
		return v.(*Window), nil
	}
	w, err := NewWindow(size)
	if err != nil {
		return nil, err
	}
	// Another goroutine may have raced us here; keep whichever landed first.
	if err := c.entries.Add(key, w, cache.NoExpiration); err != nil {
		if v, ok := c.entries.Get(key); ok {
			return v.(*Window), nil
		}
	}
	return w, nil
}

// FadeOut returns a monotonically decreasing envelope of n samples that
// starts just below one and ends at zero.
func (c *WindowCache) FadeOut(n int) []float64 {
	key := "fade:" + strconv.Itoa(n)
	if v, ok := c.entries.Get(key); ok {
		return v.([]float64)
	}
	env := make([]float64, n)
	for i := range env {
		env[i] = 1 - float64(i+1)/float64(n)
	}
	c.entries.SetDefault(key, env)
	return env
}

// Len returns the number of cached entries.
func (c *WindowCache) Len() int {
	return c.entries.ItemCount()
}
