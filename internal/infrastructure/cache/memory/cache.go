package memory

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is the in-process stage cache for single-node deployments where no
// redis is configured. The LRU carries one TTL for all entries; the per-call
// TTL only gates whether an entry is stored at all.
type Cache struct {
	lru *expirable.LRU[string, []byte]
}

func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool) {
	return c.lru.Get(key)
}

func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.lru.Add(key, value)
}

func (c *Cache) InvalidateTenant(_ context.Context, tenantID string) {
	prefix := tenantID + ":"
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}
