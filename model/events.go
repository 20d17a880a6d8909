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

// AttributionEvent is emitted by the CRM attribution collaborator when a
// pipeline stage change is converted into synthetic revenue. Delivery is
// at-least-once; ingestion dedupes on EventID.
type AttributionEvent struct {
	EventID         string          `json:"event_id"`
	AdID            string          `json:"ad_id"`
	TenantID        string          `json:"tenant_id"`
	CampaignName    string          `json:"campaign_name,omitempty"`
	StageFrom       string          `json:"stage_from"`
	StageTo         string          `json:"stage_to"`
	AttributedValue decimal.Decimal `json:"attributed_value"`
	Timestamp       time.Time       `json:"timestamp"`
}

func (e *AttributionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// MetricSync is a platform-side counter snapshot. Counters are cumulative;
// ingestion drops snapshots whose AsOf is not newer than the last applied one.
type MetricSync struct {
	AdID        string          `json:"ad_id"`
	TenantID    string          `json:"tenant_id"`
	Impressions int64           `json:"impressions"`
	Clicks      int64           `json:"clicks"`
	Spend       decimal.Decimal `json:"spend"`
	Frequency   float64         `json:"frequency"`
	CPM         float64         `json:"cpm"`
	AsOf        time.Time       `json:"as_of"`
}

func (m *MetricSync) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
