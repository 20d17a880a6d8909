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
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/texttheater/golang-levenshtein/levenshtein"
	"go.opentelemetry.io/otel"

	"github.com/adpilot-io/adpilot/internal/apierror"
	"github.com/adpilot-io/adpilot/model"
)

var feedbackTracer = otel.Tracer("Feedback ingestion")

// campaignMatchMaxDistance bounds the fuzzy campaign-name fallback. CRM
// events sometimes carry slightly mangled campaign names; anything further
// than this many edits away is not a match.
const campaignMatchMaxDistance = 3

// RecordAttribution enqueues a CRM attribution event for asynchronous
// ingestion. This is the inbound API entry point.
func (a *Adpilot) RecordAttribution(ctx context.Context, event *model.AttributionEvent) error {
	return a.queue.EnqueueAttributionEvent(ctx, event)
}

// IngestMetricSync enqueues a platform counter snapshot for asynchronous
// ingestion.
func (a *Adpilot) IngestMetricSync(ctx context.Context, sync *model.MetricSync) error {
	return a.queue.EnqueueMetricSync(ctx, sync)
}

// ProcessAttributionEvent applies one CRM attribution event to the ad state.
// It is idempotent per event id: replays are recorded as duplicates and
// dropped without touching any counter.
func (a *Adpilot) ProcessAttributionEvent(ctx context.Context, event *model.AttributionEvent) error {
	ctx, span := feedbackTracer.Start(ctx, "Processing attribution event")
	defer span.End()

	fresh, err := a.datasource.RecordAttributionEvent(ctx, event)
	if err != nil {
		return err
	}
	if !fresh {
		logrus.Infof("attribution event %s already applied, dropping duplicate", event.EventID)
		return nil
	}

	adID := event.AdID
	if _, err := a.datasource.GetAdState(ctx, event.TenantID, adID); err != nil {
		if !isAPIErrorCode(err, apierror.ErrNotFound) {
			return err
		}
		// Unknown ad id: fall back to fuzzy-matching the campaign name
		// against the tenant's active ads.
		matched, matchErr := a.matchCampaign(ctx, event.TenantID, event.CampaignName)
		if matchErr != nil {
			return matchErr
		}
		if matched == "" {
			// Data error: log and drop, never fail the pipeline.
			logrus.Warnf("attribution event %s references unknown ad %s and no campaign match, dropping", event.EventID, event.AdID)
			return nil
		}
		logrus.Infof("attribution event %s matched campaign %q to ad %s", event.EventID, event.CampaignName, matched)
		adID = matched
	}

	return a.datasource.ApplyAttribution(ctx, event.TenantID, adID, event.AttributedValue)
}

// ProcessMetricSync applies one platform counter snapshot. The ad state is
// created on the first snapshot; stale snapshots (as_of not newer than the
// last applied one) are dropped.
func (a *Adpilot) ProcessMetricSync(ctx context.Context, sync *model.MetricSync) error {
	ctx, span := feedbackTracer.Start(ctx, "Processing metric sync")
	defer span.End()

	if _, err := a.datasource.GetAdState(ctx, sync.TenantID, sync.AdID); err != nil {
		if !isAPIErrorCode(err, apierror.ErrNotFound) {
			return err
		}
		// First signal for this creative: register it in pipeline mode.
		// Direct-revenue ads are registered explicitly through the API.
		newAd := model.AdState{
			AdID:     sync.AdID,
			TenantID: sync.TenantID,
			Mode:     model.ModePipeline,
		}
		if _, err := a.datasource.CreateAdState(ctx, newAd); err != nil {
			if !isAPIErrorCode(err, apierror.ErrConflict) {
				return err
			}
			// Lost a create race, the row exists now.
		}
	}

	applied, err := a.datasource.ApplyMetricSync(ctx, sync)
	if err != nil {
		return err
	}
	if !applied {
		logrus.Infof("metric sync for ad %s as of %s is stale, dropping", sync.AdID, sync.AsOf.Format(time.RFC3339))
		return nil
	}

	// The day row keeps the end-of-day cumulative counters; within a day,
	// later snapshots only ever raise them.
	day := model.MetricDay{
		AdID:        sync.AdID,
		TenantID:    sync.TenantID,
		Day:         sync.AsOf.UTC().Truncate(24 * time.Hour),
		Impressions: sync.Impressions,
		Clicks:      sync.Clicks,
		Spend:       sync.Spend,
		Frequency:   sync.Frequency,
		CPM:         sync.CPM,
	}
	return a.datasource.UpsertMetricDay(ctx, day)
}

// isAPIErrorCode reports whether err is an APIError carrying the given code.
func isAPIErrorCode(err error, code apierror.ErrorCode) bool {
	var apiErr apierror.APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// matchCampaign finds the tenant's active ad whose campaign name is closest
// to the given name within the edit-distance bound. Returns the empty string
// when nothing is close enough.
func (a *Adpilot) matchCampaign(ctx context.Context, tenantID, campaignName string) (string, error) {
	if campaignName == "" {
		return "", nil
	}
	ads, err := a.datasource.GetActiveAdStates(ctx, tenantID)
	if err != nil {
		return "", err
	}

	bestAd := ""
	bestDistance := campaignMatchMaxDistance + 1
	for _, ad := range ads {
		if ad.CampaignName == "" {
			continue
		}
		distance := levenshtein.DistanceForStrings([]rune(campaignName), []rune(ad.CampaignName), levenshtein.DefaultOptions)
		if distance < bestDistance {
			bestDistance = distance
			bestAd = ad.AdID
		}
	}
	return bestAd, nil
}

// ProcessAttributionTask is the asynq handler for queued attribution events.
func (a *Adpilot) ProcessAttributionTask(ctx context.Context, task *asynq.Task) error {
	var event model.AttributionEvent
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		logrus.Errorf("error unmarshaling attribution task payload: %v", err)
		return err
	}
	return a.ProcessAttributionEvent(ctx, &event)
}

// ProcessMetricSyncTask is the asynq handler for queued metric snapshots.
func (a *Adpilot) ProcessMetricSyncTask(ctx context.Context, task *asynq.Task) error {
	var sync model.MetricSync
	if err := json.Unmarshal(task.Payload(), &sync); err != nil {
		logrus.Errorf("error unmarshaling metric sync task payload: %v", err)
		return err
	}
	return a.ProcessMetricSync(ctx, &sync)
}

// ProcessIndexTask is the asynq handler for search index updates.
func (a *Adpilot) ProcessIndexTask(ctx context.Context, task *asynq.Task) error {
	var payload struct {
		Collection string                 `json:"collection"`
		Payload    map[string]interface{} `json:"payload"`
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.Errorf("error unmarshaling index task payload: %v", err)
		return err
	}
	return a.search.HandleNotification(ctx, payload.Collection, payload.Payload)
}
