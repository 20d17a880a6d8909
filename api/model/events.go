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
package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/adpilot-io/adpilot/model"
)

// RecordAttribution is the request body for one CRM attribution event.
type RecordAttribution struct {
	EventID         string          `json:"event_id"`
	AdID            string          `json:"ad_id"`
	TenantID        string          `json:"tenant_id"`
	CampaignName    string          `json:"campaign_name"`
	StageFrom       string          `json:"stage_from"`
	StageTo         string          `json:"stage_to"`
	AttributedValue decimal.Decimal `json:"attributed_value"`
	Timestamp       time.Time       `json:"timestamp"`
}

// ToAttributionEvent converts the request into the core event model.
func (r *RecordAttribution) ToAttributionEvent() *model.AttributionEvent {
	timestamp := r.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	return &model.AttributionEvent{
		EventID:         r.EventID,
		AdID:            r.AdID,
		TenantID:        r.TenantID,
		CampaignName:    r.CampaignName,
		StageFrom:       r.StageFrom,
		StageTo:         r.StageTo,
		AttributedValue: r.AttributedValue,
		Timestamp:       timestamp,
	}
}

// IngestMetricSync is the request body for one platform counter snapshot.
type IngestMetricSync struct {
	AdID        string          `json:"ad_id"`
	TenantID    string          `json:"tenant_id"`
	Impressions int64           `json:"impressions"`
	Clicks      int64           `json:"clicks"`
	Spend       decimal.Decimal `json:"spend"`
	Frequency   float64         `json:"frequency"`
	CPM         float64         `json:"cpm"`
	AsOf        time.Time       `json:"as_of"`
}

// ToMetricSync converts the request into the core snapshot model.
func (r *IngestMetricSync) ToMetricSync() *model.MetricSync {
	asOf := r.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	return &model.MetricSync{
		AdID:        r.AdID,
		TenantID:    r.TenantID,
		Impressions: r.Impressions,
		Clicks:      r.Clicks,
		Spend:       r.Spend,
		Frequency:   r.Frequency,
		CPM:         r.CPM,
		AsOf:        asOf,
	}
}

// RecoverClaims is the request body for the manual stale-claim reset.
type RecoverClaims struct {
	ThresholdSeconds int `json:"threshold_seconds"`
}
