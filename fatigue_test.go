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

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/adpilot-io/adpilot/config"
	"github.com/adpilot-io/adpilot/model"
)

func testFatigueConfig() config.FatigueConfig {
	return config.FatigueConfig{
		MinHistoryDays:       3,
		CTRDeclineThreshold:  0.20,
		FrequencySaturation:  3.5,
		CPMIncreaseThreshold: 0.50,
		ImpressionGrowthMin:  0.10,
	}
}

// metricDay builds one history day. daysAgo counts back from today.
func metricDay(daysAgo int, impressions, clicks int64, frequency, cpm float64) model.MetricDay {
	return model.MetricDay{
		AdID:        "ad_test",
		TenantID:    "tenant_1",
		Day:         time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -daysAgo),
		Impressions: impressions,
		Clicks:      clicks,
		Spend:       decimal.NewFromInt(100),
		Frequency:   frequency,
		CPM:         cpm,
	}
}

func TestDetectInsufficientHistory(t *testing.T) {
	detector := NewFatigueDetector(testFatigueConfig())

	report := detector.Detect("ad_test", "tenant_1", []model.MetricDay{
		metricDay(1, 10000, 300, 2.0, 10),
		metricDay(0, 10000, 310, 2.0, 10),
	})

	assert.Equal(t, model.FatigueInsufficientData, report.Status)
	assert.Equal(t, model.RecommendContinue, report.Recommendation)
	assert.Empty(t, report.Signals)
}

func TestDetectCTRDecline(t *testing.T) {
	detector := NewFatigueDetector(testFatigueConfig())

	// CTR slides 3.0% -> 2.7% -> 2.3%, a 23% drop over the window.
	history := []model.MetricDay{
		metricDay(2, 10000, 300, 2.0, 10),
		metricDay(1, 10000, 270, 2.0, 10),
		metricDay(0, 10000, 230, 2.0, 10),
	}
	report := detector.Detect("ad_test", "tenant_1", history)

	assert.Equal(t, model.FatigueFatiguing, report.Status)
	assert.Equal(t, model.RecommendRefreshCreative, report.Recommendation)
	assert.NotNil(t, report.DaysUntilCritical)
	assert.GreaterOrEqual(t, *report.DaysUntilCritical, 0.0)

	for _, signal := range report.Signals {
		if signal.Rule == RuleCTRDecline {
			assert.True(t, signal.Fired)
			assert.InDelta(t, 0.233, signal.Magnitude, 0.005)
		}
	}
}

func TestDetectFlatSeriesIsHealthy(t *testing.T) {
	detector := NewFatigueDetector(testFatigueConfig())

	history := []model.MetricDay{
		metricDay(2, 10000, 300, 2.0, 10),
		metricDay(1, 10200, 305, 2.1, 10.2),
		metricDay(0, 10100, 302, 2.0, 10.1),
	}
	report := detector.Detect("ad_test", "tenant_1", history)

	assert.Equal(t, model.FatigueHealthy, report.Status)
	assert.Equal(t, model.RecommendContinue, report.Recommendation)
	assert.Nil(t, report.DaysUntilCritical)
	assert.True(t, report.Healthy())
}

func TestDetectSaturated(t *testing.T) {
	detector := NewFatigueDetector(testFatigueConfig())

	// Frequency past saturation while CTR collapses: the audience has seen
	// this creative too often.
	history := []model.MetricDay{
		metricDay(2, 10000, 300, 3.6, 10),
		metricDay(1, 10000, 260, 3.7, 10),
		metricDay(0, 10000, 220, 3.8, 10),
	}
	report := detector.Detect("ad_test", "tenant_1", history)

	assert.Equal(t, model.FatigueSaturated, report.Status)
	assert.Equal(t, model.RecommendRefreshCreative, report.Recommendation)
}

func TestDetectAudienceExhausted(t *testing.T) {
	detector := NewFatigueDetector(testFatigueConfig())

	// A full week of stalled reach at high frequency, CTR steady.
	var history []model.MetricDay
	for daysAgo := 6; daysAgo >= 0; daysAgo-- {
		history = append(history, metricDay(daysAgo, 10000, 300, 3.8, 10))
	}
	report := detector.Detect("ad_test", "tenant_1", history)

	assert.Equal(t, model.FatigueAudienceExhausted, report.Status)
	assert.InDelta(t, 1.0, report.Confidence, 0.001)
}

func TestImpressionPlateauNeedsFullWindow(t *testing.T) {
	detector := NewFatigueDetector(testFatigueConfig())

	// Five days of identical impressions would look like a plateau, but the
	// rule needs a full seven-day window; only frequency fires here.
	var history []model.MetricDay
	for daysAgo := 4; daysAgo >= 0; daysAgo-- {
		history = append(history, metricDay(daysAgo, 10000, 300, 3.8, 10))
	}
	report := detector.Detect("ad_test", "tenant_1", history)

	assert.Equal(t, model.FatigueFatiguing, report.Status)
	for _, signal := range report.Signals {
		if signal.Rule == RuleImpressionPlateau {
			assert.False(t, signal.Fired)
		}
	}
}

func TestDetectCPMIncrease(t *testing.T) {
	detector := NewFatigueDetector(testFatigueConfig())

	// CPM up 60% over three days with everything else flat.
	history := []model.MetricDay{
		metricDay(2, 10000, 300, 2.0, 10),
		metricDay(1, 10500, 315, 2.0, 13),
		metricDay(0, 11000, 330, 2.0, 16),
	}
	report := detector.Detect("ad_test", "tenant_1", history)

	assert.Equal(t, model.FatigueFatiguing, report.Status)
	for _, signal := range report.Signals {
		if signal.Rule == RuleCPMIncrease {
			assert.True(t, signal.Fired)
			assert.InDelta(t, 0.6, signal.Magnitude, 0.001)
		}
	}
}
