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

package adpilot

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/typesense/typesense-go/typesense/api"

	"github.com/adpilot-io/adpilot/config"
	"github.com/adpilot-io/adpilot/database"
	"github.com/adpilot-io/adpilot/internal/cache"
	"github.com/adpilot-io/adpilot/internal/patternindex"
	"github.com/adpilot-io/adpilot/internal/ratelimit"
	redis_db "github.com/adpilot-io/adpilot/internal/redis-db"
	"github.com/adpilot-io/adpilot/internal/search"
	"github.com/adpilot-io/adpilot/platform"
)

// Adpilot is the core of the optimizer. It owns the feedback ingestion queue,
// the scoring/allocation cycle, and the executor's shared collaborators.
type Adpilot struct {
	queue      *Queue
	search     *search.TypesenseClient
	redis      redis.UniversalClient
	datasource database.IDataSource
	cache      cache.Cache
	patterns   *patternindex.Index
	platform   platform.Client
	limiter    *ratelimit.Registry
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewAdpilot initializes a new Adpilot instance with the provided datasource.
// It fetches the configuration and wires up the Redis client, queue, pattern
// index, search client, platform client and per-tenant rate limiter.
func NewAdpilot(db database.IDataSource) (*Adpilot, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	appCache, err := cache.NewCache()
	if err != nil {
		return nil, err
	}

	newQueue := NewQueue(configuration)
	newSearch := search.NewTypesenseClient("adpilot-api-key", []string{configuration.TypeSense.Dns})
	platformClient := platform.NewHTTPClient(
		configuration.Platform.BaseURL,
		configuration.Platform.APIKey,
		time.Duration(configuration.Platform.TimeoutSec)*time.Second,
	)
	limiter := ratelimit.NewRegistry(configuration.Executor.PlatformRPS, configuration.Executor.PlatformBurst)

	newAdpilot := &Adpilot{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		cache:      appCache,
		search:     newSearch,
		patterns:   patternindex.NewIndex(redisClient.Client()),
		platform:   platformClient,
		limiter:    limiter,
	}
	return newAdpilot, nil
}

// Search performs a search on the specified collection using the provided query parameters.
//
// Parameters:
// - collection string: The name of the collection to search.
// - query *api.SearchCollectionParams: The search query parameters.
//
// Returns:
// - interface{}: The search results.
// - error: An error if the search operation fails.
func (a *Adpilot) Search(collection string, query *api.SearchCollectionParams) (interface{}, error) {
	return a.search.Search(context.Background(), collection, query)
}

// MultiSearch performs a multi-search operation across collections.
func (a *Adpilot) MultiSearch(searchParams *api.MultiSearchSearchesParameter) (*api.MultiSearchResult, error) {
	return a.search.MultiSearch(context.Background(), *searchParams)
}

// Datasource exposes the underlying datasource for the API layer.
func (a *Adpilot) Datasource() database.IDataSource {
	return a.datasource
}
