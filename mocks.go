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
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/wacul/ptr"

	"github.com/adpilot-io/adpilot/model"
)

// GenerateMockAdState returns a randomized ad state for sandbox tenants and
// demos. The counters are internally consistent: clicks never exceed
// impressions and conversions never exceed clicks.
func GenerateMockAdState(tenantID string) *model.AdState {
	impressions := int64(gofakeit.Number(1000, 500000))
	clicks := int64(gofakeit.Number(10, int(impressions/20)))
	conversions := int64(gofakeit.Number(0, int(clicks/5+1)))
	firstSpend := gofakeit.DateRange(time.Now().AddDate(0, 0, -30), time.Now().AddDate(0, 0, -1))

	mode := model.ModePipeline
	if gofakeit.Bool() {
		mode = model.ModeDirect
	}

	ad := &model.AdState{
		AdID:         gofakeit.UUID(),
		TenantID:     tenantID,
		CampaignName: gofakeit.ProductName(),
		Mode:         mode,
		Impressions:  impressions,
		Clicks:       clicks,
		Conversions:  conversions,
		Spend:        decimal.NewFromFloat(gofakeit.Float64Range(50, 5000)).Round(2),
		Frequency:    gofakeit.Float64Range(1, 4),
		CPM:          gofakeit.Float64Range(2, 40),
		FirstSpendAt: ptr.Time(firstSpend),
		LastMetricAt: time.Now(),
		CreatedAt:    firstSpend,
		MetaData:     map[string]interface{}{"sandbox": true},
	}
	revenue := decimal.NewFromFloat(gofakeit.Float64Range(0, 15000)).Round(2)
	if mode == model.ModePipeline {
		ad.PipelineValue = revenue
	} else {
		ad.CashRevenue = revenue
	}
	return ad
}

// GenerateMockMetricSync returns a randomized counter snapshot for the given
// ad, strictly ahead of the ad's current counters.
func GenerateMockMetricSync(ad *model.AdState) *model.MetricSync {
	return &model.MetricSync{
		AdID:        ad.AdID,
		TenantID:    ad.TenantID,
		Impressions: ad.Impressions + int64(gofakeit.Number(100, 10000)),
		Clicks:      ad.Clicks + int64(gofakeit.Number(1, 200)),
		Spend:       ad.Spend.Add(decimal.NewFromFloat(gofakeit.Float64Range(5, 200)).Round(2)),
		Frequency:   ad.Frequency + gofakeit.Float64Range(0, 0.3),
		CPM:         ad.CPM * gofakeit.Float64Range(0.9, 1.2),
		AsOf:        time.Now(),
	}
}
