package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
)

// MemoryAnswerCache is the in-process cache used when no Redis URL is set.
// Entries expire after the TTL given at construction; the per-call ttl is
// ignored.
type MemoryAnswerCache struct {
	lru *expirable.LRU[string, domain.QueryAnswer]
}

func NewMemoryAnswerCache(size int, ttl time.Duration) *MemoryAnswerCache {
	if size <= 0 {
		size = 1024
	}
	return &MemoryAnswerCache{lru: expirable.NewLRU[string, domain.QueryAnswer](size, nil, ttl)}
}

func (c *MemoryAnswerCache) Get(_ context.Context, key string) (*domain.QueryAnswer, bool, error) {
	answer, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return &answer, true, nil
}

func (c *MemoryAnswerCache) Set(_ context.Context, key string, answer domain.QueryAnswer, _ time.Duration) error {
	c.lru.Add(key, answer)
	return nil
}
