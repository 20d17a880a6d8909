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

package database

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adpilot-io/adpilot/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	adState          // Interface for ad state operations
	pendingChange    // Interface for the decision queue and its claim protocol
	attributionEvent // Interface for attribution-event dedup
}

// adState defines methods for handling ad performance state.
type adState interface {
	CreateAdState(ctx context.Context, ad model.AdState) (model.AdState, error)                                  // Registers a new ad creative
	GetAdState(ctx context.Context, tenantID, adID string) (*model.AdState, error)                               // Retrieves one ad's state
	GetActiveAdStates(ctx context.Context, tenantID string) ([]model.AdState, error)                             // Retrieves all non-archived ads of a tenant
	GetActiveTenants(ctx context.Context) ([]string, error)                                                      // Lists tenants with at least one active ad
	ApplyMetricSync(ctx context.Context, sync *model.MetricSync) (bool, error)                                   // Applies a platform counter snapshot, false when stale
	ApplyAttribution(ctx context.Context, tenantID, adID string, value decimal.Decimal) error                    // Adds attributed revenue per the ad's mode
	UpsertMetricDay(ctx context.Context, day model.MetricDay) error                                              // Records/updates a daily metric snapshot
	GetMetricHistory(ctx context.Context, tenantID, adID string, days int) ([]model.MetricDay, error)            // Trailing daily history, oldest first
	ArchiveInactiveAdStates(ctx context.Context, inactiveFor time.Duration) (int64, error)                       // Archives ads without recent metrics
}

// pendingChange defines the decision queue operations. ClaimNextChange is the
// single mutual-exclusion primitive of the system.
type pendingChange interface {
	EnqueueChange(ctx context.Context, change *model.PendingChange) error                                 // Inserts a new pending change
	ClaimNextChange(ctx context.Context, workerID string) (*model.PendingChange, error)                   // Atomically claims one due row, nil when none
	MarkChangeExecuting(ctx context.Context, id, workerID string) error                                   // CLAIMED -> EXECUTING, guarded by claim ownership
	CompleteChange(ctx context.Context, id, platformRef string) error                                     // EXECUTING -> COMPLETED
	FailChange(ctx context.Context, id, errMsg string, retryAt time.Time) error                           // -> FAILED with incremented error_count
	MarkChangeDead(ctx context.Context, id, errMsg string) error                                          // -> DEAD (terminal)
	ReleaseChange(ctx context.Context, id, workerID string) error                                         // CLAIMED -> PENDING without penalty
	ResetStaleClaims(ctx context.Context, claimTimeout time.Duration) (int64, error)                      // Watchdog: stuck CLAIMED/EXECUTING -> PENDING
	GetChange(ctx context.Context, id string) (*model.PendingChange, error)                               // Retrieves one change row
	GetDeadChanges(ctx context.Context, tenantID string, limit, offset int) ([]model.PendingChange, error) // DEAD rows for human review
	RetryDeadChange(ctx context.Context, id string) (*model.PendingChange, error)                         // Manual DEAD -> PENDING reset
}

// attributionEvent defines the idempotence ledger for CRM events.
type attributionEvent interface {
	RecordAttributionEvent(ctx context.Context, event *model.AttributionEvent) (bool, error) // Returns false on duplicate event_id
}
