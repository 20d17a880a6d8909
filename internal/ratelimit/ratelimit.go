/*
Copyright 2024 Adpilot Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ratelimit provides per-key token-bucket limiters for outbound
// platform calls. Each tenant gets its own bucket so one noisy tenant cannot
// starve the others of API quota.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Registry hands out one rate.Limiter per key and prunes idle entries.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*entry
	rps      rate.Limit
	burst    int
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRegistry creates a Registry where every key is allowed rps requests per
// second with the given burst size.
func NewRegistry(rps float64, burst int) *Registry {
	return &Registry{
		limiters: make(map[string]*entry),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Wait blocks until the key's bucket grants a token or the context is
// cancelled. It is the single throttling point for outbound platform calls.
func (r *Registry) Wait(ctx context.Context, key string) error {
	return r.limiter(key).Wait(ctx)
}

// Allow reports whether the key's bucket currently has a token, without
// blocking. Used where callers prefer to defer work over queueing on a bucket.
func (r *Registry) Allow(key string) bool {
	return r.limiter(key).Allow()
}

func (r *Registry) limiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(r.rps, r.burst)}
		r.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// Cleanup removes buckets that have not been touched within maxIdle and
// returns how many were dropped.
func (r *Registry) Cleanup(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for key, e := range r.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(r.limiters, key)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup on the given interval until the context is
// cancelled.
func (r *Registry) StartCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Cleanup(maxIdle)
			}
		}
	}()
}
