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

// Change lifecycle statuses. DEAD is terminal and only ever reached after the
// configured retry budget is exhausted or a permanent platform error occurs.
const (
	ChangeStatusPending   = "PENDING"
	ChangeStatusClaimed   = "CLAIMED"
	ChangeStatusExecuting = "EXECUTING"
	ChangeStatusCompleted = "COMPLETED"
	ChangeStatusFailed    = "FAILED"
	ChangeStatusDead      = "DEAD"
)

// Change types applied against the external ad platform.
const (
	ChangeSetBudget = "SET_BUDGET"
	ChangePause     = "PAUSE"
	ChangeResume    = "RESUME"
	ChangeKill      = "KILL"
)

// PendingChange is a durable decision queue row. Once claimed, it is mutated
// exclusively by the worker holding the claim.
type PendingChange struct {
	ID                string           `json:"id"`
	TenantID          string           `json:"tenant_id"`
	AdEntityID        string           `json:"ad_entity_id"`
	ChangeType        string           `json:"change_type"`
	TargetValue       *decimal.Decimal `json:"target_value,omitempty"`
	Confidence        float64          `json:"confidence"`
	Reason            string           `json:"reason,omitempty"`
	EarliestExecuteAt time.Time        `json:"earliest_execute_at"`
	JitterSeconds     int              `json:"jitter_seconds"`
	Status            string           `json:"status"`
	ClaimedBy         string           `json:"claimed_by,omitempty"`
	ClaimedAt         *time.Time       `json:"claimed_at,omitempty"`
	ExecutedAt        *time.Time       `json:"executed_at,omitempty"`
	ErrorCount        int              `json:"error_count"`
	LastError         string           `json:"last_error,omitempty"`
	PlatformRef       string           `json:"platform_ref,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// IsTerminal reports whether the change can no longer transition.
func (c *PendingChange) IsTerminal() bool {
	return c.Status == ChangeStatusCompleted || c.Status == ChangeStatusDead
}

// RequiresTarget reports whether the change type carries a numeric payload.
func (c *PendingChange) RequiresTarget() bool {
	return c.ChangeType == ChangeSetBudget
}

func (c *PendingChange) ToJSON() ([]byte, error) {
	return json.Marshal(c)
}
