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

// Package patternindex maintains the cross-tenant index of creative patterns
// that have proven themselves. When an ad scales, its pattern is marked as
// validated by that tenant; other tenants running the same pattern earn a
// confidence boost proportional to how many distinct tenants validated it.
package patternindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// validationTTL bounds how long a validation counts. Creative patterns go
// stale, so the index forgets sets that receive no new validations.
const validationTTL = 30 * 24 * time.Hour

// Index records and counts pattern validations in Redis.
type Index struct {
	client redis.UniversalClient
}

// NewIndex creates an Index backed by the given Redis client.
func NewIndex(client redis.UniversalClient) *Index {
	return &Index{client: client}
}

// PatternKey normalizes a creative pattern descriptor into a stable index key.
// Case and surrounding whitespace are ignored so "UGC Hook-3" and "ugc hook-3"
// index to the same pattern.
func PatternKey(pattern string) string {
	normalized := strings.ToLower(strings.TrimSpace(pattern))
	sum := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("adpilot:pattern:%s", hex.EncodeToString(sum[:8]))
}

// RecordValidation marks the pattern as validated by the tenant. Repeat
// validations by the same tenant are idempotent.
func (idx *Index) RecordValidation(ctx context.Context, pattern, tenantID string) error {
	key := PatternKey(pattern)
	pipe := idx.client.TxPipeline()
	pipe.SAdd(ctx, key, tenantID)
	pipe.Expire(ctx, key, validationTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// ValidatedTenants returns how many distinct tenants other than the given one
// have validated the pattern. A tenant never boosts its own ads.
func (idx *Index) ValidatedTenants(ctx context.Context, pattern, tenantID string) (int64, error) {
	key := PatternKey(pattern)
	total, err := idx.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	isMember, err := idx.client.SIsMember(ctx, key, tenantID).Result()
	if err != nil {
		return 0, err
	}
	if isMember {
		total--
	}
	return total, nil
}
