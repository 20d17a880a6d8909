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

// Verdicts emitted by the scoring engine for a single evaluation cycle.
const (
	VerdictHold     = "HOLD"
	VerdictScale    = "SCALE"
	VerdictMaintain = "MAINTAIN"
	VerdictKill     = "KILL"
)

// ScoreResult is the scoring engine's output for one ad. It is ephemeral:
// computed per cycle, cached for the read API, and audit-logged, but never
// the source of truth for anything.
type ScoreResult struct {
	AdID         string    `json:"ad_id"`
	TenantID     string    `json:"tenant_id"`
	BlendedScore float64   `json:"blended_score"`
	CTRScore     float64   `json:"ctr_score"`
	ROASScore    float64   `json:"roas_score"`
	CTRWeight    float64   `json:"ctr_weight"`
	Boost        float64   `json:"boost,omitempty"`
	Verdict      string    `json:"verdict"`
	Confidence   float64   `json:"confidence"`
	Reasons      []string  `json:"reasons"`
	ComputedAt   time.Time `json:"computed_at"`
}
