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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"

	"github.com/adpilot-io/adpilot/config"
	"github.com/adpilot-io/adpilot/database"
	"github.com/adpilot-io/adpilot/internal/cache"
	"github.com/adpilot-io/adpilot/model"
)

// newTestDataSource builds a datasource over sqlmock with a miniredis-backed
// cache. The miniredis address is stored in the mock configuration so every
// collaborator that dials Redis lands on the test instance.
func newTestDataSource(t *testing.T) (database.IDataSource, sqlmock.Sqlmock) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	t.Cleanup(mr.Close)

	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
	})

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	newCache, err := cache.NewCache()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when creating the cache", err)
	}
	return &database.Datasource{Conn: db, Cache: newCache}, mock
}

// newTestAdpilot wires a full core over the mocked datasource.
func newTestAdpilot(t *testing.T) (*Adpilot, sqlmock.Sqlmock) {
	t.Helper()

	datasource, mock := newTestDataSource(t)
	a, err := NewAdpilot(datasource)
	if err != nil {
		t.Fatalf("Error creating Adpilot instance: %s", err)
	}
	return a, mock
}

// adStateColumns mirrors the column list of the ad_states SELECTs.
func adStateColumns() []string {
	return []string{
		"id", "ad_id", "tenant_id", "campaign_name", "mode", "impressions", "clicks", "conversions",
		"spend", "pipeline_value", "cash_revenue", "frequency", "cpm", "first_spend_at", "last_metric_at", "archived", "meta_data", "created_at",
	}
}

// adStateRow renders an ad into sqlmock row values in column order.
func adStateRow(rows *sqlmock.Rows, ad model.AdState) *sqlmock.Rows {
	var firstSpendAt interface{}
	if ad.FirstSpendAt != nil {
		firstSpendAt = *ad.FirstSpendAt
	}
	return rows.AddRow(
		ad.ID, ad.AdID, ad.TenantID, ad.CampaignName, string(ad.Mode), ad.Impressions, ad.Clicks, ad.Conversions,
		ad.Spend.String(), ad.PipelineValue.String(), ad.CashRevenue.String(), ad.Frequency, ad.CPM,
		firstSpendAt, ad.LastMetricAt, ad.Archived, []byte(nil), ad.CreatedAt,
	)
}

// testAdState returns a baseline ad with sane zero-value counters.
func testAdState(tenantID, adID string) model.AdState {
	return model.AdState{
		ID:            1,
		AdID:          adID,
		TenantID:      tenantID,
		Mode:          model.ModePipeline,
		Spend:         decimal.Zero,
		PipelineValue: decimal.Zero,
		CashRevenue:   decimal.Zero,
		LastMetricAt:  time.Now().Add(-time.Hour),
		CreatedAt:     time.Now().Add(-48 * time.Hour),
	}
}
