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
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/adpilot-io/adpilot/internal/apierror"
	"github.com/adpilot-io/adpilot/model"
)

// CreateAdState registers a new ad creative. The mode tag is fixed here and
// never updated afterwards.
func (d Datasource) CreateAdState(ctx context.Context, ad model.AdState) (model.AdState, error) {
	ctx, span := otel.Tracer("Ad state").Start(ctx, "Saving ad state to db")
	defer span.End()

	metaDataJSON, err := json.Marshal(ad.MetaData)
	if err != nil {
		return model.AdState{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	if ad.AdID == "" {
		ad.AdID = GenerateUUIDWithSuffix("ad")
	}
	if ad.Mode == "" {
		ad.Mode = model.ModePipeline
	}
	ad.CreatedAt = time.Now()

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO adpilot.ad_states (ad_id, tenant_id, campaign_name, mode, meta_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ad.AdID, ad.TenantID, ad.CampaignName, ad.Mode, metaDataJSON, ad.CreatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code == "23505" {
			return model.AdState{}, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Ad %s already exists for tenant %s", ad.AdID, ad.TenantID), err)
		}
		return model.AdState{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create ad state", err)
	}

	return ad, nil
}

// GetAdState retrieves one ad's state by its tenant-scoped identity.
func (d Datasource) GetAdState(ctx context.Context, tenantID, adID string) (*model.AdState, error) {
	ctx, span := otel.Tracer("Ad state").Start(ctx, "Getting ad state from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, ad_id, tenant_id, COALESCE(campaign_name, ''), mode, impressions, clicks, conversions,
			spend, pipeline_value, cash_revenue, frequency, cpm, first_spend_at, last_metric_at, archived, meta_data, created_at
		FROM adpilot.ad_states
		WHERE tenant_id = $1 AND ad_id = $2
	`, tenantID, adID)

	ad, err := scanAdState(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Ad %s not found for tenant %s", adID, tenantID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan ad state", err)
	}
	return ad, nil
}

// GetActiveAdStates retrieves all non-archived ads of a tenant, oldest first.
func (d Datasource) GetActiveAdStates(ctx context.Context, tenantID string) ([]model.AdState, error) {
	ctx, span := otel.Tracer("Ad state").Start(ctx, "Getting active ad states from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, ad_id, tenant_id, COALESCE(campaign_name, ''), mode, impressions, clicks, conversions,
			spend, pipeline_value, cash_revenue, frequency, cpm, first_spend_at, last_metric_at, archived, meta_data, created_at
		FROM adpilot.ad_states
		WHERE tenant_id = $1 AND archived = FALSE
		ORDER BY created_at ASC
	`, tenantID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ad states", err)
	}
	defer func() { _ = rows.Close() }()

	var ads []model.AdState
	for rows.Next() {
		ad, err := scanAdState(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan ad state", err)
		}
		ads = append(ads, *ad)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over ad states", err)
	}
	return ads, nil
}

// GetActiveTenants lists tenants with at least one non-archived ad.
func (d Datasource) GetActiveTenants(ctx context.Context) ([]string, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT DISTINCT tenant_id FROM adpilot.ad_states WHERE archived = FALSE
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve tenants", err)
	}
	defer func() { _ = rows.Close() }()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan tenant", err)
		}
		tenants = append(tenants, t)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over tenants", err)
	}
	return tenants, nil
}

// ApplyMetricSync applies a platform counter snapshot. Counters only move
// forward: a snapshot whose as_of is not newer than the last applied one is
// dropped, and GREATEST guards each counter against regressions within a
// window. Returns false when the snapshot was stale.
func (d Datasource) ApplyMetricSync(ctx context.Context, sync *model.MetricSync) (bool, error) {
	ctx, span := otel.Tracer("Ad state").Start(ctx, "Applying metric sync to db")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE adpilot.ad_states
		SET impressions = GREATEST(impressions, $3),
			clicks = GREATEST(clicks, $4),
			spend = GREATEST(spend, $5),
			frequency = $6,
			cpm = $7,
			first_spend_at = CASE WHEN first_spend_at IS NULL AND $5 > 0 THEN $8 ELSE first_spend_at END,
			last_metric_at = $8
		WHERE tenant_id = $1 AND ad_id = $2 AND last_metric_at < $8
	`, sync.TenantID, sync.AdID, sync.Impressions, sync.Clicks, sync.Spend.String(), sync.Frequency, sync.CPM, sync.AsOf)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to apply metric sync", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read metric sync result", err)
	}
	return affected > 0, nil
}

// ApplyAttribution adds attributed revenue to the field selected by the ad's
// mode tag and counts a conversion.
func (d Datasource) ApplyAttribution(ctx context.Context, tenantID, adID string, value decimal.Decimal) error {
	ctx, span := otel.Tracer("Ad state").Start(ctx, "Applying attribution to db")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE adpilot.ad_states
		SET pipeline_value = CASE WHEN mode = 'pipeline' THEN pipeline_value + $3 ELSE pipeline_value END,
			cash_revenue = CASE WHEN mode = 'direct' THEN cash_revenue + $3 ELSE cash_revenue END,
			conversions = conversions + 1
		WHERE tenant_id = $1 AND ad_id = $2
	`, tenantID, adID, value.String())
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to apply attribution", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read attribution result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Ad %s not found for tenant %s", adID, tenantID), nil)
	}
	return nil
}

// UpsertMetricDay records or updates one day of an ad's metric history.
func (d Datasource) UpsertMetricDay(ctx context.Context, day model.MetricDay) error {
	ctx, span := otel.Tracer("Ad state").Start(ctx, "Upserting metric day to db")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO adpilot.ad_metric_days (ad_id, tenant_id, day, impressions, clicks, spend, frequency, cpm)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, ad_id, day) DO UPDATE SET
			impressions = GREATEST(adpilot.ad_metric_days.impressions, EXCLUDED.impressions),
			clicks = GREATEST(adpilot.ad_metric_days.clicks, EXCLUDED.clicks),
			spend = GREATEST(adpilot.ad_metric_days.spend, EXCLUDED.spend),
			frequency = EXCLUDED.frequency,
			cpm = EXCLUDED.cpm
	`, day.AdID, day.TenantID, day.Day, day.Impressions, day.Clicks, day.Spend.String(), day.Frequency, day.CPM)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to upsert metric day", err)
	}
	return nil
}

// GetMetricHistory returns the trailing daily history for an ad, oldest first.
func (d Datasource) GetMetricHistory(ctx context.Context, tenantID, adID string, days int) ([]model.MetricDay, error) {
	ctx, span := otel.Tracer("Ad state").Start(ctx, "Getting metric history from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT ad_id, tenant_id, day, impressions, clicks, spend, frequency, cpm
		FROM adpilot.ad_metric_days
		WHERE tenant_id = $1 AND ad_id = $2 AND day >= CURRENT_DATE - $3::int
		ORDER BY day ASC
	`, tenantID, adID, days)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve metric history", err)
	}
	defer func() { _ = rows.Close() }()

	var history []model.MetricDay
	for rows.Next() {
		var m model.MetricDay
		var spend string
		if err := rows.Scan(&m.AdID, &m.TenantID, &m.Day, &m.Impressions, &m.Clicks, &spend, &m.Frequency, &m.CPM); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan metric day", err)
		}
		m.Spend, err = decimal.NewFromString(spend)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to parse metric day spend", err)
		}
		history = append(history, m)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over metric history", err)
	}
	return history, nil
}

// ArchiveInactiveAdStates archives ads that have not reported metrics for the
// given duration. Archived ads are excluded from evaluation but never deleted.
func (d Datasource) ArchiveInactiveAdStates(ctx context.Context, inactiveFor time.Duration) (int64, error) {
	ctx, span := otel.Tracer("Ad state").Start(ctx, "Archiving inactive ad states")
	defer span.End()

	cutoff := time.Now().Add(-inactiveFor)
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE adpilot.ad_states
		SET archived = TRUE
		WHERE archived = FALSE AND last_metric_at < $1
	`, cutoff)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to archive inactive ads", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAdState(row rowScanner) (*model.AdState, error) {
	var ad model.AdState
	var spend, pipelineValue, cashRevenue string
	var firstSpendAt sql.NullTime
	var metaDataJSON []byte

	err := row.Scan(
		&ad.ID,
		&ad.AdID,
		&ad.TenantID,
		&ad.CampaignName,
		&ad.Mode,
		&ad.Impressions,
		&ad.Clicks,
		&ad.Conversions,
		&spend,
		&pipelineValue,
		&cashRevenue,
		&ad.Frequency,
		&ad.CPM,
		&firstSpendAt,
		&ad.LastMetricAt,
		&ad.Archived,
		&metaDataJSON,
		&ad.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if ad.Spend, err = decimal.NewFromString(spend); err != nil {
		return nil, err
	}
	if ad.PipelineValue, err = decimal.NewFromString(pipelineValue); err != nil {
		return nil, err
	}
	if ad.CashRevenue, err = decimal.NewFromString(cashRevenue); err != nil {
		return nil, err
	}
	if firstSpendAt.Valid {
		ad.FirstSpendAt = &firstSpendAt.Time
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &ad.MetaData); err != nil {
			return nil, err
		}
	}
	return &ad, nil
}
