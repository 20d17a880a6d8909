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

import "time"

// Fatigue statuses, ordered roughly by severity.
const (
	FatigueInsufficientData  = "INSUFFICIENT_DATA"
	FatigueHealthy           = "HEALTHY"
	FatigueFatiguing         = "FATIGUING"
	FatigueSaturated         = "SATURATED"
	FatigueAudienceExhausted = "AUDIENCE_EXHAUSTED"
)

// Recommendations attached to a fatigue report.
const (
	RecommendContinue        = "CONTINUE"
	RecommendRefreshCreative = "REFRESH_CREATIVE"
)

// FatigueSignal records one trend rule's outcome with its magnitude, e.g. a
// 0.23 CTR decline over the trailing window.
type FatigueSignal struct {
	Rule      string  `json:"rule"`
	Fired     bool    `json:"fired"`
	Magnitude float64 `json:"magnitude"`
}

// FatigueReport classifies an ad's performance trend. Ephemeral, recomputed
// each evaluation cycle from the ad's metric-day history.
type FatigueReport struct {
	AdID              string          `json:"ad_id"`
	TenantID          string          `json:"tenant_id"`
	Status            string          `json:"status"`
	Confidence        float64         `json:"confidence"`
	DaysUntilCritical *float64        `json:"days_until_critical,omitempty"`
	Recommendation    string          `json:"recommendation"`
	Signals           []FatigueSignal `json:"signals,omitempty"`
	ComputedAt        time.Time       `json:"computed_at"`
}

// Healthy reports whether no fatigue rule fired.
func (r *FatigueReport) Healthy() bool {
	return r.Status == FatigueHealthy
}
