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
	"time"

	"go.opentelemetry.io/otel"

	"github.com/adpilot-io/adpilot/config"
	"github.com/adpilot-io/adpilot/internal/apierror"
	"github.com/adpilot-io/adpilot/internal/search"
	"github.com/adpilot-io/adpilot/model"
)

var adsTracer = otel.Tracer("Ad service")

// RegisterAd creates a new ad state. The mode tag is fixed here for the ad's
// lifetime; defaulting to pipeline when the caller does not set it.
func (a *Adpilot) RegisterAd(ctx context.Context, ad model.AdState) (model.AdState, error) {
	ctx, span := adsTracer.Start(ctx, "Registering ad")
	defer span.End()

	if ad.Mode == "" {
		ad.Mode = model.ModePipeline
	}
	if ad.Mode != model.ModePipeline && ad.Mode != model.ModeDirect {
		return model.AdState{}, apierror.NewAPIError(apierror.ErrInvalidInput, "mode must be pipeline or direct", nil)
	}

	created, err := a.datasource.CreateAdState(ctx, ad)
	if err != nil {
		return model.AdState{}, err
	}
	if err := a.queue.queueIndexData(created.AdID, search.CollectionAds, &created); err != nil {
		// Indexing is best effort, the ad is registered either way.
		span.RecordError(err)
	}
	return created, nil
}

// GetAd retrieves one ad's state.
func (a *Adpilot) GetAd(ctx context.Context, tenantID, adID string) (*model.AdState, error) {
	return a.datasource.GetAdState(ctx, tenantID, adID)
}

// GetAdScore returns the latest score and fatigue report for an ad. Reports
// cached by the optimization cycle are served directly; on a cache miss both
// are computed on demand from current state.
func (a *Adpilot) GetAdScore(ctx context.Context, tenantID, adID string) (*model.ScoreResult, *model.FatigueReport, error) {
	ctx, span := adsTracer.Start(ctx, "Getting ad score")
	defer span.End()

	var score model.ScoreResult
	var fatigueReport model.FatigueReport
	scoreErr := a.cache.Get(ctx, scoreCacheKey(tenantID, adID), &score)
	fatigueErr := a.cache.Get(ctx, fatigueCacheKey(tenantID, adID), &fatigueReport)
	if scoreErr == nil && fatigueErr == nil && !score.ComputedAt.IsZero() && !fatigueReport.ComputedAt.IsZero() {
		return &score, &fatigueReport, nil
	}

	ad, err := a.datasource.GetAdState(ctx, tenantID, adID)
	if err != nil {
		return nil, nil, err
	}

	conf, err := config.Fetch()
	if err != nil {
		return nil, nil, err
	}
	history, err := a.datasource.GetMetricHistory(ctx, tenantID, adID, impressionWindowDays)
	if err != nil {
		return nil, nil, err
	}

	freshFatigue := NewFatigueDetector(conf.Fatigue).Detect(adID, tenantID, history)
	freshScore, err := NewScoringEngine(conf.Scoring, a.patterns).Evaluate(ctx, ad, freshFatigue)
	if err != nil {
		return nil, nil, err
	}

	if err := a.cache.Set(ctx, scoreCacheKey(tenantID, adID), freshScore, scoreCacheTTL); err != nil {
		span.RecordError(err)
	}
	if err := a.cache.Set(ctx, fatigueCacheKey(tenantID, adID), freshFatigue, scoreCacheTTL); err != nil {
		span.RecordError(err)
	}
	return freshScore, freshFatigue, nil
}

// ListDeadChanges returns DEAD queue rows for human review, newest first.
func (a *Adpilot) ListDeadChanges(ctx context.Context, tenantID string, limit, offset int) ([]model.PendingChange, error) {
	if limit <= 0 {
		limit = 50
	}
	return a.datasource.GetDeadChanges(ctx, tenantID, limit, offset)
}

// RetryDeadChange manually resets a DEAD row to PENDING with a cleared retry
// budget.
func (a *Adpilot) RetryDeadChange(ctx context.Context, id string) (*model.PendingChange, error) {
	ctx, span := adsTracer.Start(ctx, "Retrying dead change")
	defer span.End()
	return a.datasource.RetryDeadChange(ctx, id)
}

// GetChange retrieves one queue row.
func (a *Adpilot) GetChange(ctx context.Context, id string) (*model.PendingChange, error) {
	return a.datasource.GetChange(ctx, id)
}

// ArchiveInactiveAds archives ads that have received no metrics for the
// given window. Archived ads drop out of every cycle but keep their history.
func (a *Adpilot) ArchiveInactiveAds(ctx context.Context, inactiveFor time.Duration) (int64, error) {
	ctx, span := adsTracer.Start(ctx, "Archiving inactive ads")
	defer span.End()
	return a.datasource.ArchiveInactiveAdStates(ctx, inactiveFor)
}
