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
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/adpilot-io/adpilot/config"
	"github.com/adpilot-io/adpilot/model"
)

func testScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		IgnoranceZoneHours: 24,
		IgnoranceZoneSpend: 20,
		KillThreshold:      0.3,
		ScaleThreshold:     0.7,
		CTRWeightFloor:     0.2,
		MaturityHours:      168,
		BaselineCTR:        0.02,
		TargetROAS:         3.0,
		BoostCap:           1.2,
		BoostMinTenants:    3,
	}
}

// scoredAd builds an ad of the given age and counters.
func scoredAd(age time.Duration, impressions, clicks int64, spend, pipelineValue float64) *model.AdState {
	firstSpend := time.Now().Add(-age)
	return &model.AdState{
		AdID:          "ad_test",
		TenantID:      "tenant_1",
		Mode:          model.ModePipeline,
		Impressions:   impressions,
		Clicks:        clicks,
		Spend:         decimal.NewFromFloat(spend),
		PipelineValue: decimal.NewFromFloat(pipelineValue),
		CashRevenue:   decimal.Zero,
		FirstSpendAt:  &firstSpend,
	}
}

func healthyReport() *model.FatigueReport {
	return &model.FatigueReport{Status: model.FatigueHealthy, ComputedAt: time.Now()}
}

func TestEvaluateHoldsInsideIgnoranceZone(t *testing.T) {
	engine := NewScoringEngine(testScoringConfig(), nil)

	// Excellent metrics, but the ad is five hours old.
	young := scoredAd(5*time.Hour, 100000, 5000, 500, 2000)
	result, err := engine.Evaluate(context.Background(), young, healthyReport())
	assert.NoError(t, err)
	assert.Equal(t, model.VerdictHold, result.Verdict)

	// Old enough, but it has barely spent.
	cheap := scoredAd(100*time.Hour, 100000, 5000, 5, 2000)
	result, err = engine.Evaluate(context.Background(), cheap, healthyReport())
	assert.NoError(t, err)
	assert.Equal(t, model.VerdictHold, result.Verdict)
}

func TestEvaluateBlendsCTRAndROAS(t *testing.T) {
	engine := NewScoringEngine(testScoringConfig(), nil)

	// CTR 3.2% against a 2% baseline scores 0.8; ROAS 0.9 against a 3.0
	// target scores 0.3. At 120 hours the blend must sit strictly between.
	ad := scoredAd(120*time.Hour, 100000, 3200, 500, 450)
	result, err := engine.Evaluate(context.Background(), ad, healthyReport())
	assert.NoError(t, err)

	assert.InDelta(t, 0.8, result.CTRScore, 0.001)
	assert.InDelta(t, 0.3, result.ROASScore, 0.001)
	assert.Greater(t, result.BlendedScore, 0.3)
	assert.Less(t, result.BlendedScore, 0.8)
	assert.Equal(t, model.VerdictMaintain, result.Verdict)
	assert.NotEmpty(t, result.Reasons)
}

func TestCTRWeightDecaysMonotonically(t *testing.T) {
	conf := testScoringConfig()
	engine := NewScoringEngine(conf, nil)

	previous := engine.ctrWeight(0)
	assert.Greater(t, previous, 0.95, "a brand-new ad should be scored almost entirely on CTR")

	for age := 12.0; age <= 2*conf.MaturityHours; age += 12 {
		w := engine.ctrWeight(age)
		assert.LessOrEqual(t, w, previous, "weight must never increase with age")
		assert.GreaterOrEqual(t, w, conf.CTRWeightFloor)
		previous = w
	}
	assert.InDelta(t, conf.CTRWeightFloor, engine.ctrWeight(2*conf.MaturityHours), 0.01,
		"well past maturity the weight should sit at the floor")
}

func TestLowScoreAloneDoesNotKill(t *testing.T) {
	engine := NewScoringEngine(testScoringConfig(), nil)

	// CTR 0.5% and zero attributed revenue: blended score well below the
	// kill threshold.
	ad := scoredAd(200*time.Hour, 100000, 500, 500, 0)

	result, err := engine.Evaluate(context.Background(), ad, healthyReport())
	assert.NoError(t, err)
	assert.Less(t, result.BlendedScore, 0.3)
	assert.NotEqual(t, model.VerdictKill, result.Verdict, "a healthy ad is never killed on score alone")

	fatigued := &model.FatigueReport{Status: model.FatigueFatiguing}
	result, err = engine.Evaluate(context.Background(), ad, fatigued)
	assert.NoError(t, err)
	assert.Equal(t, model.VerdictKill, result.Verdict)
}

func TestInsufficientFatigueDataBlocksKill(t *testing.T) {
	engine := NewScoringEngine(testScoringConfig(), nil)
	ad := scoredAd(200*time.Hour, 100000, 500, 500, 0)

	noData := &model.FatigueReport{Status: model.FatigueInsufficientData}
	result, err := engine.Evaluate(context.Background(), ad, noData)
	assert.NoError(t, err)
	assert.NotEqual(t, model.VerdictKill, result.Verdict)

	result, err = engine.Evaluate(context.Background(), ad, nil)
	assert.NoError(t, err)
	assert.NotEqual(t, model.VerdictKill, result.Verdict)
}

func TestScaleRequiresAudienceRoom(t *testing.T) {
	engine := NewScoringEngine(testScoringConfig(), nil)

	// CTR 5% and ROAS 3.6 saturate both components.
	ad := scoredAd(120*time.Hour, 100000, 5000, 500, 1800)

	result, err := engine.Evaluate(context.Background(), ad, healthyReport())
	assert.NoError(t, err)
	assert.Equal(t, model.VerdictScale, result.Verdict)

	saturated := &model.FatigueReport{Status: model.FatigueSaturated}
	result, err = engine.Evaluate(context.Background(), ad, saturated)
	assert.NoError(t, err)
	assert.Equal(t, model.VerdictMaintain, result.Verdict, "an exhausted audience cannot absorb more budget")
}

type stubPatternIndex struct {
	validated int64
}

func (s *stubPatternIndex) ValidatedTenants(_ context.Context, _, _ string) (int64, error) {
	return s.validated, nil
}

func TestCrossTenantBoost(t *testing.T) {
	ad := scoredAd(120*time.Hour, 100000, 3200, 500, 450)
	ad.CampaignName = "UGC Testimonial Q3"

	// Four other tenants validated the pattern: 1 + 4*0.05 hits the cap.
	engine := NewScoringEngine(testScoringConfig(), &stubPatternIndex{validated: 4})
	boosted, err := engine.Evaluate(context.Background(), ad, healthyReport())
	assert.NoError(t, err)
	assert.InDelta(t, 1.2, boosted.Boost, 0.001)

	// Below the minimum tenant count no boost applies.
	engine = NewScoringEngine(testScoringConfig(), &stubPatternIndex{validated: 2})
	plain, err := engine.Evaluate(context.Background(), ad, healthyReport())
	assert.NoError(t, err)
	assert.InDelta(t, 1.0, plain.Boost, 0.001)
	assert.Greater(t, boosted.BlendedScore, plain.BlendedScore)
}

func TestConfidenceGrowsWithAgeAndSpend(t *testing.T) {
	engine := NewScoringEngine(testScoringConfig(), nil)

	young, err := engine.Evaluate(context.Background(), scoredAd(30*time.Hour, 10000, 300, 30, 50), healthyReport())
	assert.NoError(t, err)
	mature, err := engine.Evaluate(context.Background(), scoredAd(300*time.Hour, 100000, 3000, 500, 500), healthyReport())
	assert.NoError(t, err)

	assert.Greater(t, mature.Confidence, young.Confidence)
	assert.LessOrEqual(t, mature.Confidence, 1.0)
}
