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
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/adpilot-io/adpilot/config"
	"github.com/adpilot-io/adpilot/model"
)

var scoringTracer = otel.Tracer("Scoring engine")

// PatternIndex is the read-only cross-tenant validation index consulted for
// the score boost. The scoring engine never writes to it.
type PatternIndex interface {
	ValidatedTenants(ctx context.Context, pattern, tenantID string) (int64, error)
}

// ScoringEngine turns an ad's accumulated state plus its fatigue report into
// a blended score and a verdict. Evaluate is pure apart from the optional
// pattern index read.
type ScoringEngine struct {
	conf     config.ScoringConfig
	patterns PatternIndex
}

// NewScoringEngine creates a scoring engine. patterns may be nil, in which
// case no cross-tenant boost is ever applied.
func NewScoringEngine(conf config.ScoringConfig, patterns PatternIndex) *ScoringEngine {
	return &ScoringEngine{conf: conf, patterns: patterns}
}

// Evaluate computes the blended score and verdict for one ad.
//
// The CTR contribution dominates while the ad is young and decays toward the
// configured floor as attributed revenue becomes statistically meaningful.
// Inside the ignorance zone the verdict is always HOLD: an ad is never killed
// before it has had time and spend enough to produce real evidence.
func (s *ScoringEngine) Evaluate(ctx context.Context, ad *model.AdState, fatigue *model.FatigueReport) (*model.ScoreResult, error) {
	ctx, span := scoringTracer.Start(ctx, "Evaluating ad")
	defer span.End()

	now := time.Now()
	ageHours := ad.AgeHours(now)
	spend, _ := ad.Spend.Float64()

	ctrScore := s.ctrScore(ad.CTR())
	roasScore := s.roasScore(ad.ROAS())
	weight := s.ctrWeight(ageHours)
	blended := weight*ctrScore + (1-weight)*roasScore

	result := &model.ScoreResult{
		AdID:       ad.AdID,
		TenantID:   ad.TenantID,
		CTRScore:   ctrScore,
		ROASScore:  roasScore,
		CTRWeight:  weight,
		Boost:      1.0,
		Confidence: s.confidence(ageHours, spend),
		ComputedAt: now,
	}
	result.Reasons = append(result.Reasons,
		fmt.Sprintf("ctr_score=%.3f weight=%.3f", ctrScore, weight),
		fmt.Sprintf("roas_score=%.3f mode=%s", roasScore, ad.Mode),
	)

	// Cross-tenant boost: a creative pattern proven across enough other
	// tenants earns a bounded multiplier.
	if s.patterns != nil && ad.CampaignName != "" {
		validated, err := s.patterns.ValidatedTenants(ctx, ad.CampaignName, ad.TenantID)
		if err == nil && validated >= int64(s.conf.BoostMinTenants) {
			boost := math.Min(s.conf.BoostCap, 1+0.05*float64(validated))
			blended *= boost
			result.Boost = boost
			result.Reasons = append(result.Reasons,
				fmt.Sprintf("cross_tenant_boost=%.2f validated_tenants=%d", boost, validated))
		}
	}

	result.BlendedScore = clamp01(blended)

	// Ignorance zone: too young or too little spend means HOLD, always.
	if ageHours < s.conf.IgnoranceZoneHours || spend < s.conf.IgnoranceZoneSpend {
		result.Verdict = model.VerdictHold
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("ignorance_zone age_hours=%.1f spend=%.2f", ageHours, spend))
		return result, nil
	}

	result.Verdict = s.verdict(result.BlendedScore, fatigue)
	return result, nil
}

// ctrScore normalizes raw CTR against the tenant baseline. An ad performing
// at exactly baseline scores 0.5; twice baseline or better saturates at 1.
func (s *ScoringEngine) ctrScore(ctr float64) float64 {
	if s.conf.BaselineCTR <= 0 {
		return 0
	}
	return clamp01(ctr / (2 * s.conf.BaselineCTR))
}

// roasScore normalizes attributed ROAS against the target. Hitting the target
// scores 1.
func (s *ScoringEngine) roasScore(roas float64) float64 {
	if s.conf.TargetROAS <= 0 {
		return 0
	}
	return clamp01(roas / s.conf.TargetROAS)
}

// ctrWeight is the logistic decay of the CTR contribution over ad age. It is
// 1 at age zero, crosses the midpoint of its range at half the maturity
// horizon, and is within a couple percent of the floor at maturity. Monotonic
// and bounded in [floor, 1].
func (s *ScoringEngine) ctrWeight(ageHours float64) float64 {
	floor := s.conf.CTRWeightFloor
	maturity := s.conf.MaturityHours
	if maturity <= 0 {
		return floor
	}
	midpoint := maturity / 2
	steepness := midpoint / 4
	w := floor + (1-floor)/(1+math.Exp((ageHours-midpoint)/steepness))
	if w > 1 {
		w = 1
	}
	if w < floor {
		w = floor
	}
	return w
}

// confidence grows with both age and spend, each contributing half.
func (s *ScoringEngine) confidence(ageHours, spend float64) float64 {
	ageTerm := math.Min(1, ageHours/s.conf.MaturityHours)
	spendTerm := math.Min(1, spend/(10*s.conf.IgnoranceZoneSpend))
	return clamp01(0.5*ageTerm + 0.5*spendTerm)
}

// verdict resolves the score against the thresholds and the fatigue status.
// A low score alone does not kill a healthy ad; a high score does not scale
// an ad whose audience is already exhausted.
func (s *ScoringEngine) verdict(blended float64, fatigue *model.FatigueReport) string {
	fatigueStatus := model.FatigueInsufficientData
	if fatigue != nil {
		fatigueStatus = fatigue.Status
	}

	if blended < s.conf.KillThreshold && fatigueStatus != model.FatigueHealthy && fatigueStatus != model.FatigueInsufficientData {
		return model.VerdictKill
	}
	if blended > s.conf.ScaleThreshold &&
		(fatigueStatus == model.FatigueHealthy || fatigueStatus == model.FatigueFatiguing || fatigueStatus == model.FatigueInsufficientData) {
		return model.VerdictScale
	}
	return model.VerdictMaintain
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
