// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ketch

import "sync"

// LeaderFactory builds the leader for a repository key on first access.
type LeaderFactory func(key string) (*Leader, error)

// LeaderCache maps repository keys to their leader instance, creating
// each lazily under a single start lock so at most one leader per
// repository exists in the process.
type LeaderCache struct {
	factory LeaderFactory

	mu      sync.Mutex
	leaders map[string]*Leader
}

// NewLeaderCache returns a cache constructing leaders with factory.
func NewLeaderCache(factory LeaderFactory) *LeaderCache {
	return &LeaderCache{
		factory: factory,
		leaders: make(map[string]*Leader),
	}
}

// Get returns the leader for key, creating it on first access.
func (c *LeaderCache) Get(key string) (*Leader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.leaders[key]; ok {
		return l, nil
	}
	l, err := c.factory(key)
	if err != nil {
		return nil, err
	}
	c.leaders[key] = l
	return l, nil
}

// Shutdown stops every cached leader and forgets it.
func (c *LeaderCache) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, l := range c.leaders {
		l.Shutdown()
		delete(c.leaders, key)
	}
}
