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
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/adpilot-io/adpilot/config"
	"github.com/adpilot-io/adpilot/database"
	"github.com/adpilot-io/adpilot/internal/lock"
	"github.com/adpilot-io/adpilot/internal/search"
	"github.com/adpilot-io/adpilot/model"
)

var cycleTracer = otel.Tracer("Optimization cycle")

const (
	cycleLockKey  = "adpilot:optimization-cycle"
	scoreCacheTTL = time.Hour
)

// Optimizer runs the periodic evaluation cycle: fatigue detection, scoring,
// budget allocation and decision enqueueing for every tenant. It is
// read-mostly with respect to ad state; its only writes are pending changes,
// cached reports and pattern validations.
type Optimizer struct {
	adpilot   *Adpilot
	scoring   *ScoringEngine
	fatigue   *FatigueDetector
	allocator *BanditAllocator
	conf      *config.Configuration
}

// NewOptimizer wires the scoring, fatigue and allocation engines together.
func NewOptimizer(a *Adpilot, conf *config.Configuration) *Optimizer {
	return &Optimizer{
		adpilot:   a,
		scoring:   NewScoringEngine(conf.Scoring, a.patterns),
		fatigue:   NewFatigueDetector(conf.Fatigue),
		allocator: NewBanditAllocator(conf.Allocator),
		conf:      conf,
	}
}

// Start runs optimization cycles on the configured interval until the
// context is cancelled.
func (o *Optimizer) Start(ctx context.Context) {
	interval := time.Duration(o.conf.Allocator.CycleIntervalSec) * time.Second
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := o.RunCycle(ctx); err != nil {
					logrus.Errorf("optimization cycle failed: %v", err)
				}
			}
		}
	}()
}

// RunCycle evaluates every tenant once. A Redis lock keeps concurrent
// processes from running overlapping cycles; losing the lock race is not an
// error, the holder will do the work.
func (o *Optimizer) RunCycle(ctx context.Context) error {
	ctx, span := cycleTracer.Start(ctx, "Running optimization cycle")
	defer span.End()

	locker := lock.NewLocker(o.adpilot.redis, cycleLockKey, database.GenerateUUIDWithSuffix("cycle"))
	if err := locker.Lock(ctx, time.Duration(o.conf.Allocator.CycleIntervalSec)*time.Second); err != nil {
		logrus.Info("optimization cycle already running elsewhere, skipping")
		return nil
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			logrus.Errorf("failed to release cycle lock: %v", err)
		}
	}()

	tenants, err := o.adpilot.datasource.GetActiveTenants(ctx)
	if err != nil {
		return err
	}
	for _, tenant := range tenants {
		if err := o.evaluateTenant(ctx, tenant); err != nil {
			// One tenant's failure must not starve the rest of the cycle.
			logrus.Errorf("cycle: tenant %s failed: %v", tenant, err)
		}
	}
	return nil
}

// evaluateTenant scores every active ad of one tenant, allocates the tenant's
// budget pool and enqueues the resulting changes.
func (o *Optimizer) evaluateTenant(ctx context.Context, tenantID string) error {
	ads, err := o.adpilot.datasource.GetActiveAdStates(ctx, tenantID)
	if err != nil {
		return err
	}
	if len(ads) == 0 {
		return nil
	}

	verdicts := make(map[string]string, len(ads))
	for i := range ads {
		ad := &ads[i]
		score, fatigueReport, err := o.evaluateAd(ctx, ad)
		if err != nil {
			// Per-ad isolation: log and treat as HOLD for this cycle.
			logrus.Errorf("cycle: evaluating ad %s/%s failed: %v", tenantID, ad.AdID, err)
			verdicts[ad.AdID] = model.VerdictHold
			continue
		}
		verdicts[ad.AdID] = score.Verdict

		if score.Verdict == model.VerdictKill {
			if err := o.enqueueChange(ctx, ad, model.ChangeKill, nil, score); err != nil {
				logrus.Errorf("cycle: enqueueing kill for ad %s failed: %v", ad.AdID, err)
			}
		}
		if score.Verdict == model.VerdictScale && ad.ROAS() >= o.conf.Scoring.BoostROASThreshold && ad.CampaignName != "" {
			// A scaling ad with proven ROAS validates its pattern for other
			// tenants.
			if err := o.adpilot.patterns.RecordValidation(ctx, ad.CampaignName, tenantID); err != nil {
				logrus.Errorf("cycle: recording pattern validation failed: %v", err)
			}
		}
		o.cacheReports(ctx, ad, score, fatigueReport)
		o.notifyFatigue(ad, fatigueReport)
	}

	totalBudget := decimal.NewFromFloat(o.conf.Allocator.DailyBudget)
	allocations, err := o.allocator.Allocate(ctx, ads, verdicts, totalBudget)
	if err != nil {
		return err
	}

	adsByID := make(map[string]*model.AdState, len(ads))
	for i := range ads {
		adsByID[ads[i].AdID] = &ads[i]
	}
	for _, allocation := range allocations {
		ad := adsByID[allocation.AdID]
		if ad == nil || verdicts[ad.AdID] == model.VerdictKill || verdicts[ad.AdID] == model.VerdictHold {
			continue
		}
		budget := allocation.Budget
		if err := o.enqueueChange(ctx, ad, model.ChangeSetBudget, &budget, nil); err != nil {
			logrus.Errorf("cycle: enqueueing budget for ad %s failed: %v", ad.AdID, err)
		}
	}
	return nil
}

// evaluateAd runs the fatigue detector and scoring engine for one ad.
func (o *Optimizer) evaluateAd(ctx context.Context, ad *model.AdState) (*model.ScoreResult, *model.FatigueReport, error) {
	history, err := o.adpilot.datasource.GetMetricHistory(ctx, ad.TenantID, ad.AdID, impressionWindowDays)
	if err != nil {
		return nil, nil, err
	}
	fatigueReport := o.fatigue.Detect(ad.AdID, ad.TenantID, history)
	score, err := o.scoring.Evaluate(ctx, ad, fatigueReport)
	if err != nil {
		return nil, nil, err
	}
	return score, fatigueReport, nil
}

// enqueueChange inserts a pending change with scheduling jitter. The random
// delay keeps the outbound traffic pattern from being perfectly periodic.
func (o *Optimizer) enqueueChange(ctx context.Context, ad *model.AdState, changeType string, target *decimal.Decimal, score *model.ScoreResult) error {
	jitter := o.conf.Executor.JitterMinSeconds
	if spread := o.conf.Executor.JitterMaxSeconds - o.conf.Executor.JitterMinSeconds; spread > 0 {
		jitter += rand.Intn(spread + 1)
	}

	change := &model.PendingChange{
		ID:                database.GenerateUUIDWithSuffix("chg"),
		TenantID:          ad.TenantID,
		AdEntityID:        ad.AdID,
		ChangeType:        changeType,
		TargetValue:       target,
		EarliestExecuteAt: time.Now().Add(time.Duration(jitter) * time.Second),
		JitterSeconds:     jitter,
		Status:            model.ChangeStatusPending,
	}
	if score != nil {
		change.Confidence = score.Confidence
		if len(score.Reasons) > 0 {
			change.Reason = score.Reasons[len(score.Reasons)-1]
		}
	}
	return o.adpilot.datasource.EnqueueChange(ctx, change)
}

// cacheReports stores the latest score and fatigue report for the read API.
func (o *Optimizer) cacheReports(ctx context.Context, ad *model.AdState, score *model.ScoreResult, fatigueReport *model.FatigueReport) {
	if err := o.adpilot.cache.Set(ctx, scoreCacheKey(ad.TenantID, ad.AdID), score, scoreCacheTTL); err != nil {
		logrus.Errorf("cycle: caching score for ad %s failed: %v", ad.AdID, err)
	}
	if err := o.adpilot.cache.Set(ctx, fatigueCacheKey(ad.TenantID, ad.AdID), fatigueReport, scoreCacheTTL); err != nil {
		logrus.Errorf("cycle: caching fatigue report for ad %s failed: %v", ad.AdID, err)
	}
	if err := o.adpilot.queue.queueIndexData(ad.AdID, search.CollectionAds, ad); err != nil {
		logrus.Errorf("cycle: queueing ad %s for indexing failed: %v", ad.AdID, err)
	}
}

// notifyFatigue emits a webhook when an ad crosses into a severe fatigue
// state.
func (o *Optimizer) notifyFatigue(ad *model.AdState, report *model.FatigueReport) {
	if report == nil {
		return
	}
	if report.Status == model.FatigueSaturated || report.Status == model.FatigueAudienceExhausted {
		if err := SendWebhook(NewWebhook{Event: EventFatigueDetected, Payload: report}); err != nil {
			logrus.Errorf("failed to send %s webhook for ad %s: %v", EventFatigueDetected, ad.AdID, err)
		}
	}
}

func scoreCacheKey(tenantID, adID string) string {
	return fmt.Sprintf("adpilot:score:%s:%s", tenantID, adID)
}

func fatigueCacheKey(tenantID, adID string) string {
	return fmt.Sprintf("adpilot:fatigue:%s:%s", tenantID, adID)
}
