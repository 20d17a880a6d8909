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

	"go.opentelemetry.io/otel"

	"github.com/adpilot-io/adpilot/internal/apierror"
	"github.com/adpilot-io/adpilot/model"
)

// RecordAttributionEvent inserts an attribution event into the dedup ledger.
// The unique event_id constraint absorbs duplicate deliveries: the method
// returns false when the event was already recorded, and the caller must not
// apply its value again.
func (d Datasource) RecordAttributionEvent(ctx context.Context, event *model.AttributionEvent) (bool, error) {
	ctx, span := otel.Tracer("Feedback").Start(ctx, "Recording attribution event")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		INSERT INTO adpilot.attribution_events (event_id, ad_id, tenant_id, stage_from, stage_to, attributed_value, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`, event.EventID, event.AdID, event.TenantID, event.StageFrom, event.StageTo, event.AttributedValue.String(), event.Timestamp)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record attribution event", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read attribution event result", err)
	}
	return affected > 0, nil
}
