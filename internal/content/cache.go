package content

import (
	"context"
	"slices"
	"sync"
)

type cacheKey struct {
	nodeID string
	kind   Kind
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]*Payload
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[cacheKey]*Payload)}
}

func (c *MemoryCache) Get(_ context.Context, nodeID string, kind Kind) (*Payload, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[cacheKey{nodeID, kind}]
	if !ok {
		return nil, nil
	}
	return p.clone(), nil
}

func (c *MemoryCache) Put(_ context.Context, p *Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{p.NodeID, p.Kind}] = p.clone()
	return nil
}

// TieredCache reads through a fast cache to a durable one and writes to
// both.
type TieredCache struct {
	Fast    Cache
	Durable Cache
}

func (t TieredCache) Get(ctx context.Context, nodeID string, kind Kind) (*Payload, error) {
	if p, err := t.Fast.Get(ctx, nodeID, kind); err == nil && p != nil {
		return p, nil
	}
	p, err := t.Durable.Get(ctx, nodeID, kind)
	if err != nil || p == nil {
		return nil, err
	}
	_ = t.Fast.Put(ctx, p)
	return p, nil
}

func (t TieredCache) Put(ctx context.Context, p *Payload) error {
	if err := t.Fast.Put(ctx, p); err != nil {
		return err
	}
	return t.Durable.Put(ctx, p)
}

func (p *Payload) clone() *Payload {
	if p == nil {
		return nil
	}
	c := *p
	c.Items = slices.Clone(p.Items)
	for i := range c.Items {
		c.Items[i].Choices = slices.Clone(c.Items[i].Choices)
	}
	return &c
}
