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
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/adpilot-io/adpilot/internal/apierror"
	"github.com/adpilot-io/adpilot/model"
)

const pendingChangeColumns = `id, tenant_id, ad_entity_id, change_type, target_value, confidence, reason,
	earliest_execute_at, jitter_seconds, status, claimed_by, claimed_at, executed_at, error_count, last_error, platform_ref, created_at`

// EnqueueChange inserts a new pending change into the decision queue.
func (d Datasource) EnqueueChange(ctx context.Context, change *model.PendingChange) error {
	ctx, span := otel.Tracer("Decision queue").Start(ctx, "Enqueueing pending change")
	defer span.End()

	if change.ID == "" {
		change.ID = GenerateUUIDWithSuffix("chg")
	}
	if change.Status == "" {
		change.Status = model.ChangeStatusPending
	}
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now()
	}
	if change.EarliestExecuteAt.IsZero() {
		change.EarliestExecuteAt = change.CreatedAt
	}

	var target interface{}
	if change.TargetValue != nil {
		target = change.TargetValue.String()
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO adpilot.pending_changes
			(id, tenant_id, ad_entity_id, change_type, target_value, confidence, reason, earliest_execute_at, jitter_seconds, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, change.ID, change.TenantID, change.AdEntityID, change.ChangeType, target, change.Confidence,
		change.Reason, change.EarliestExecuteAt, change.JitterSeconds, change.Status, change.CreatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to enqueue pending change", err)
	}
	return nil
}

// ClaimNextChange atomically claims one due row for the given worker. It uses
// SELECT FOR UPDATE SKIP LOCKED so concurrent workers never receive the same
// row, and a NOT EXISTS guard so changes for one ad are always claimed in
// enqueue order. Returns nil when no row is due.
func (d Datasource) ClaimNextChange(ctx context.Context, workerID string) (*model.PendingChange, error) {
	ctx, span := otel.Tracer("Decision queue").Start(ctx, "Claiming pending change")
	defer span.End()

	query := fmt.Sprintf(`
		UPDATE adpilot.pending_changes
		SET status = $2, claimed_by = $1, claimed_at = NOW()
		WHERE id = (
			SELECT pc.id FROM adpilot.pending_changes pc
			WHERE pc.status IN ($3, $4)
			  AND pc.earliest_execute_at <= NOW()
			  AND NOT EXISTS (
				SELECT 1 FROM adpilot.pending_changes prior
				WHERE prior.tenant_id = pc.tenant_id
				  AND prior.ad_entity_id = pc.ad_entity_id
				  AND prior.created_at < pc.created_at
				  AND prior.status NOT IN ($5, $6)
			  )
			ORDER BY pc.created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s
	`, pendingChangeColumns)

	row := d.Conn.QueryRowContext(ctx, query, workerID,
		model.ChangeStatusClaimed, model.ChangeStatusPending, model.ChangeStatusFailed,
		model.ChangeStatusCompleted, model.ChangeStatusDead)

	change, err := scanPendingChange(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim pending change", err)
	}
	return change, nil
}

// MarkChangeExecuting transitions a claimed row to EXECUTING. The claimed_by
// guard makes any ownership violation visible: zero affected rows means the
// claim protocol was broken somewhere and is surfaced as a conflict.
func (d Datasource) MarkChangeExecuting(ctx context.Context, id, workerID string) error {
	ctx, span := otel.Tracer("Decision queue").Start(ctx, "Marking change as executing")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE adpilot.pending_changes
		SET status = $3
		WHERE id = $1 AND claimed_by = $2 AND status = $4
	`, id, workerID, model.ChangeStatusExecuting, model.ChangeStatusClaimed)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark change as executing", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read executing transition result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Change %s is not claimed by worker %s", id, workerID), nil)
	}
	return nil
}

// CompleteChange transitions an executing row to COMPLETED.
func (d Datasource) CompleteChange(ctx context.Context, id, platformRef string) error {
	ctx, span := otel.Tracer("Decision queue").Start(ctx, "Completing change")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		UPDATE adpilot.pending_changes
		SET status = $2, executed_at = NOW(), platform_ref = $3
		WHERE id = $1
	`, id, model.ChangeStatusCompleted, platformRef)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to complete change", err)
	}
	return nil
}

// FailChange records a transient failure: increments error_count, releases
// the claim and schedules the retry.
func (d Datasource) FailChange(ctx context.Context, id, errMsg string, retryAt time.Time) error {
	ctx, span := otel.Tracer("Decision queue").Start(ctx, "Failing change")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		UPDATE adpilot.pending_changes
		SET status = $2, error_count = error_count + 1, last_error = $3,
			earliest_execute_at = $4, claimed_by = NULL, claimed_at = NULL
		WHERE id = $1
	`, id, model.ChangeStatusFailed, errMsg, retryAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fail change", err)
	}
	return nil
}

// MarkChangeDead moves a row to its terminal DEAD state, either after the
// retry budget is exhausted or immediately on a permanent platform error.
func (d Datasource) MarkChangeDead(ctx context.Context, id, errMsg string) error {
	ctx, span := otel.Tracer("Decision queue").Start(ctx, "Marking change as dead")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		UPDATE adpilot.pending_changes
		SET status = $2, error_count = error_count + 1, last_error = $3,
			claimed_by = NULL, claimed_at = NULL
		WHERE id = $1
	`, id, model.ChangeStatusDead, errMsg)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark change as dead", err)
	}
	return nil
}

// ReleaseChange returns a claimed row to PENDING without penalty, used on
// graceful worker shutdown.
func (d Datasource) ReleaseChange(ctx context.Context, id, workerID string) error {
	ctx, span := otel.Tracer("Decision queue").Start(ctx, "Releasing claimed change")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		UPDATE adpilot.pending_changes
		SET status = $3, claimed_by = NULL, claimed_at = NULL
		WHERE id = $1 AND claimed_by = $2
	`, id, workerID, model.ChangeStatusPending)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to release change", err)
	}
	return nil
}

// ResetStaleClaims returns rows stuck in CLAIMED or EXECUTING past the claim
// timeout back to PENDING, making crashed workers' rows reclaimable.
func (d Datasource) ResetStaleClaims(ctx context.Context, claimTimeout time.Duration) (int64, error) {
	ctx, span := otel.Tracer("Decision queue").Start(ctx, "Resetting stale claims")
	defer span.End()

	cutoff := time.Now().Add(-claimTimeout)
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE adpilot.pending_changes
		SET status = $1, claimed_by = NULL, claimed_at = NULL
		WHERE status IN ($2, $3) AND claimed_at < $4
	`, model.ChangeStatusPending, model.ChangeStatusClaimed, model.ChangeStatusExecuting, cutoff)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reset stale claims", err)
	}
	return result.RowsAffected()
}

// GetChange retrieves one change row by ID.
func (d Datasource) GetChange(ctx context.Context, id string) (*model.PendingChange, error) {
	ctx, span := otel.Tracer("Decision queue").Start(ctx, "Getting change from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM adpilot.pending_changes WHERE id = $1
	`, pendingChangeColumns), id)

	change, err := scanPendingChange(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Change %s not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan change", err)
	}
	return change, nil
}

// GetDeadChanges lists DEAD rows for human review, newest first. An empty
// tenantID lists across all tenants.
func (d Datasource) GetDeadChanges(ctx context.Context, tenantID string, limit, offset int) ([]model.PendingChange, error) {
	ctx, span := otel.Tracer("Decision queue").Start(ctx, "Getting dead changes from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM adpilot.pending_changes
		WHERE status = $1 AND ($2 = '' OR tenant_id = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, pendingChangeColumns), model.ChangeStatusDead, tenantID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve dead changes", err)
	}
	defer func() { _ = rows.Close() }()

	var changes []model.PendingChange
	for rows.Next() {
		change, err := scanPendingChange(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan dead change", err)
		}
		changes = append(changes, *change)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over dead changes", err)
	}
	return changes, nil
}

// RetryDeadChange manually resets a DEAD row to PENDING with a fresh retry
// budget. Only DEAD rows are eligible.
func (d Datasource) RetryDeadChange(ctx context.Context, id string) (*model.PendingChange, error) {
	ctx, span := otel.Tracer("Decision queue").Start(ctx, "Retrying dead change")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE adpilot.pending_changes
		SET status = $2, error_count = 0, last_error = NULL, earliest_execute_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING %s
	`, pendingChangeColumns), id, model.ChangeStatusPending, model.ChangeStatusDead)

	change, err := scanPendingChange(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Change %s is not dead or does not exist", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retry dead change", err)
	}
	return change, nil
}

func scanPendingChange(row rowScanner) (*model.PendingChange, error) {
	var change model.PendingChange
	var targetValue, claimedBy, lastError, platformRef sql.NullString
	var claimedAt, executedAt sql.NullTime

	err := row.Scan(
		&change.ID,
		&change.TenantID,
		&change.AdEntityID,
		&change.ChangeType,
		&targetValue,
		&change.Confidence,
		&change.Reason,
		&change.EarliestExecuteAt,
		&change.JitterSeconds,
		&change.Status,
		&claimedBy,
		&claimedAt,
		&executedAt,
		&change.ErrorCount,
		&lastError,
		&platformRef,
		&change.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if targetValue.Valid {
		v, err := decimal.NewFromString(targetValue.String)
		if err != nil {
			return nil, err
		}
		change.TargetValue = &v
	}
	change.ClaimedBy = claimedBy.String
	change.LastError = lastError.String
	change.PlatformRef = platformRef.String
	if claimedAt.Valid {
		change.ClaimedAt = &claimedAt.Time
	}
	if executedAt.Valid {
		change.ExecutedAt = &executedAt.Time
	}
	return &change, nil
}
