// Package cache memoizes rendered panels in process or in Redis.
package cache

import (
	"context"
	"sync"
)

// Page is a cached panel render.
type Page struct {
	HTML string   `json:"html"`
	Tags []string `json:"tags"`
}

// RenderCache stores rendered panels by digest.
type RenderCache interface {
	Get(ctx context.Context, key string) (Page, bool, error)
	Set(ctx context.Context, key string, page Page) error
}

// MemoryRenderCache is an in-process RenderCache.
type MemoryRenderCache struct {
	mu    sync.RWMutex
	pages map[string]Page
}

func NewMemoryRenderCache() *MemoryRenderCache {
	return &MemoryRenderCache{pages: make(map[string]Page)}
}

func (c *MemoryRenderCache) Get(_ context.Context, key string) (Page, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pages[key]
	return p, ok, nil
}

func (c *MemoryRenderCache) Set(_ context.Context, key string, page Page) error {
	c.mu.Lock()
	c.pages[key] = page
	c.mu.Unlock()
	return nil
}

// Len returns the number of cached pages.
func (c *MemoryRenderCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pages)
}
