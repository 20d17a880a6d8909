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
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// AdMode selects the revenue formula used when scoring an ad.
// It is set once at ad creation and never changes.
type AdMode string

const (
	// ModePipeline attributes synthetic revenue from CRM pipeline stage changes.
	ModePipeline AdMode = "pipeline"
	// ModeDirect uses direct transaction revenue (e.g. e-commerce checkout).
	ModeDirect AdMode = "direct"
)

// AdState holds the accumulated performance state of one ad creative for one
// tenant. Counters are monotonically non-decreasing within a reporting window;
// ads are archived after inactivity, never deleted.
type AdState struct {
	ID            int64                  `json:"-"`
	AdID          string                 `json:"ad_id"`
	TenantID      string                 `json:"tenant_id"`
	CampaignName  string                 `json:"campaign_name,omitempty"`
	Mode          AdMode                 `json:"mode"`
	Impressions   int64                  `json:"impressions"`
	Clicks        int64                  `json:"clicks"`
	Conversions   int64                  `json:"conversions"`
	Spend         decimal.Decimal        `json:"spend"`
	PipelineValue decimal.Decimal        `json:"pipeline_value"`
	CashRevenue   decimal.Decimal        `json:"cash_revenue"`
	Frequency     float64                `json:"frequency"`
	CPM           float64                `json:"cpm"`
	FirstSpendAt  *time.Time             `json:"first_spend_at,omitempty"`
	LastMetricAt  time.Time              `json:"last_metric_at"`
	Archived      bool                   `json:"archived"`
	CreatedAt     time.Time              `json:"created_at"`
	MetaData      map[string]interface{} `json:"meta_data,omitempty"`
}

// AgeHours returns hours since the ad's first recorded spend. Ads that have
// never spent have age zero, which keeps them inside the ignorance zone.
func (a *AdState) AgeHours(now time.Time) float64 {
	if a.FirstSpendAt == nil || a.FirstSpendAt.After(now) {
		return 0
	}
	return now.Sub(*a.FirstSpendAt).Hours()
}

// CTR returns clicks over impressions, zero when no impressions exist.
func (a *AdState) CTR() float64 {
	if a.Impressions == 0 {
		return 0
	}
	return float64(a.Clicks) / float64(a.Impressions)
}

// AttributedRevenue dispatches on the ad's mode tag: pipeline ads are valued
// by CRM-attributed pipeline value, direct ads by cash revenue.
func (a *AdState) AttributedRevenue() decimal.Decimal {
	if a.Mode == ModeDirect {
		return a.CashRevenue
	}
	return a.PipelineValue
}

// ROAS returns attributed revenue over spend, zero before any spend.
func (a *AdState) ROAS() float64 {
	if a.Spend.IsZero() {
		return 0
	}
	roas, _ := a.AttributedRevenue().Div(a.Spend).Float64()
	return roas
}

func (a *AdState) ToJSON() ([]byte, error) {
	return json.Marshal(a)
}

// MetricDay is one day of an ad's metric history, used by the fatigue
// detector's trailing-window rules.
type MetricDay struct {
	AdID        string          `json:"ad_id"`
	TenantID    string          `json:"tenant_id"`
	Day         time.Time       `json:"day"`
	Impressions int64           `json:"impressions"`
	Clicks      int64           `json:"clicks"`
	Spend       decimal.Decimal `json:"spend"`
	Frequency   float64         `json:"frequency"`
	CPM         float64         `json:"cpm"`
}

// CTR returns the day's click-through rate.
func (m MetricDay) CTR() float64 {
	if m.Impressions == 0 {
		return 0
	}
	return float64(m.Clicks) / float64(m.Impressions)
}
