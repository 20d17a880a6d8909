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

package adpilot

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/adpilot-io/adpilot/model"
)

func testAttributionEvent() *model.AttributionEvent {
	return &model.AttributionEvent{
		EventID:         "evt_123",
		AdID:            "ad_1",
		TenantID:        "tenant_1",
		CampaignName:    "Summer Sale",
		StageFrom:       "mql",
		StageTo:         "sql",
		AttributedValue: decimal.NewFromInt(150),
		Timestamp:       time.Now(),
	}
}

func TestProcessAttributionEventAppliesValueOnce(t *testing.T) {
	adpilot, mock := newTestAdpilot(t)
	event := testAttributionEvent()

	// First delivery: recorded, ad found, value applied.
	mock.ExpectExec("INSERT INTO adpilot.attribution_events").
		WithArgs(event.EventID, event.AdID, event.TenantID, event.StageFrom, event.StageTo, event.AttributedValue.String(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FROM adpilot.ad_states WHERE tenant_id = \\$1 AND ad_id = \\$2").
		WithArgs(event.TenantID, event.AdID).
		WillReturnRows(adStateRow(sqlmock.NewRows(adStateColumns()), testAdState("tenant_1", "ad_1")))
	mock.ExpectExec("UPDATE adpilot.ad_states").
		WithArgs(event.TenantID, event.AdID, event.AttributedValue.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, adpilot.ProcessAttributionEvent(context.Background(), event))

	// Redelivery of the same event id: the dedup ledger absorbs it and no
	// counter is touched.
	mock.ExpectExec("INSERT INTO adpilot.attribution_events").
		WithArgs(event.EventID, event.AdID, event.TenantID, event.StageFrom, event.StageTo, event.AttributedValue.String(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, adpilot.ProcessAttributionEvent(context.Background(), event))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestProcessAttributionEventFallsBackToCampaignMatch(t *testing.T) {
	adpilot, mock := newTestAdpilot(t)
	event := testAttributionEvent()
	event.AdID = "ad_unknown"
	event.CampaignName = "Sumer Sale" // one edit away from "Summer Sale"

	mock.ExpectExec("INSERT INTO adpilot.attribution_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FROM adpilot.ad_states WHERE tenant_id = \\$1 AND ad_id = \\$2").
		WithArgs(event.TenantID, event.AdID).
		WillReturnError(sql.ErrNoRows)

	summer := testAdState("tenant_1", "ad_summer")
	summer.CampaignName = "Summer Sale"
	winter := testAdState("tenant_1", "ad_winter")
	winter.CampaignName = "Winter Promo"
	rows := adStateRow(sqlmock.NewRows(adStateColumns()), summer)
	rows = adStateRow(rows, winter)
	mock.ExpectQuery("FROM adpilot.ad_states WHERE tenant_id = \\$1 AND archived = FALSE").
		WithArgs(event.TenantID).
		WillReturnRows(rows)

	// The value lands on the fuzzy-matched ad.
	mock.ExpectExec("UPDATE adpilot.ad_states").
		WithArgs(event.TenantID, "ad_summer", event.AttributedValue.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, adpilot.ProcessAttributionEvent(context.Background(), event))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestProcessAttributionEventDropsUnmatchable(t *testing.T) {
	adpilot, mock := newTestAdpilot(t)
	event := testAttributionEvent()
	event.AdID = "ad_unknown"
	event.CampaignName = "Completely Different Name"

	mock.ExpectExec("INSERT INTO adpilot.attribution_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FROM adpilot.ad_states WHERE tenant_id = \\$1 AND ad_id = \\$2").
		WillReturnError(sql.ErrNoRows)

	summer := testAdState("tenant_1", "ad_summer")
	summer.CampaignName = "Summer Sale"
	mock.ExpectQuery("FROM adpilot.ad_states WHERE tenant_id = \\$1 AND archived = FALSE").
		WillReturnRows(adStateRow(sqlmock.NewRows(adStateColumns()), summer))

	// Nothing within edit distance: the event is dropped, not an error.
	assert.NoError(t, adpilot.ProcessAttributionEvent(context.Background(), event))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestProcessMetricSyncCreatesAdOnFirstSnapshot(t *testing.T) {
	adpilot, mock := newTestAdpilot(t)
	sync := &model.MetricSync{
		AdID:        "ad_new",
		TenantID:    "tenant_1",
		Impressions: 5000,
		Clicks:      120,
		Spend:       decimal.NewFromInt(42),
		Frequency:   1.4,
		CPM:         8.4,
		AsOf:        time.Now(),
	}

	mock.ExpectQuery("FROM adpilot.ad_states WHERE tenant_id = \\$1 AND ad_id = \\$2").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO adpilot.ad_states").
		WithArgs("ad_new", "tenant_1", "", string(model.ModePipeline), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE adpilot.ad_states").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO adpilot.ad_metric_days").
		WillReturnResult(sqlmock.NewResult(1, 1))

	assert.NoError(t, adpilot.ProcessMetricSync(context.Background(), sync))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestProcessMetricSyncDropsStaleSnapshot(t *testing.T) {
	adpilot, mock := newTestAdpilot(t)
	sync := &model.MetricSync{
		AdID:     "ad_1",
		TenantID: "tenant_1",
		Spend:    decimal.NewFromInt(42),
		AsOf:     time.Now().Add(-2 * time.Hour),
	}

	mock.ExpectQuery("FROM adpilot.ad_states WHERE tenant_id = \\$1 AND ad_id = \\$2").
		WillReturnRows(adStateRow(sqlmock.NewRows(adStateColumns()), testAdState("tenant_1", "ad_1")))

	// as_of predates last_metric_at: zero rows updated, no day row written.
	mock.ExpectExec("UPDATE adpilot.ad_states").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, adpilot.ProcessMetricSync(context.Background(), sync))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestRecordAttributionEnqueues(t *testing.T) {
	adpilot, _ := newTestAdpilot(t)

	err := adpilot.RecordAttribution(context.Background(), testAttributionEvent())
	assert.NoError(t, err)
}

func TestIngestMetricSyncEnqueues(t *testing.T) {
	adpilot, _ := newTestAdpilot(t)

	sync := &model.MetricSync{
		AdID:     "ad_1",
		TenantID: "tenant_1",
		Spend:    decimal.NewFromInt(10),
		AsOf:     time.Now(),
	}
	assert.NoError(t, adpilot.IngestMetricSync(context.Background(), sync))
}
