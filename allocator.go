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
	"sort"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/adpilot-io/adpilot/config"
	"github.com/adpilot-io/adpilot/model"
)

var allocatorTracer = otel.Tracer("Bandit allocator")

// BanditAllocator splits a budget pool across ads by Thompson sampling. Each
// ad carries a Beta posterior over its conversion quality; budget follows the
// estimated probability of each ad being the best arm.
//
// Posteriors are derived from the ads' cumulative counters on every cycle, so
// each new ingested event shifts the next allocation. There is no separate
// training step.
type BanditAllocator struct {
	conf config.AllocatorConfig
}

// NewBanditAllocator creates an allocator with the given configuration.
func NewBanditAllocator(conf config.AllocatorConfig) *BanditAllocator {
	return &BanditAllocator{conf: conf}
}

// Allocation is the allocator's output for one ad.
type Allocation struct {
	AdID           string          `json:"ad_id"`
	Budget         decimal.Decimal `json:"budget"`
	WinProbability float64         `json:"win_probability"`
}

// Allocate distributes totalBudget across the given ads. Ads with verdict
// KILL get zero budget; every other ad keeps at least an exploration floor.
// The returned budgets always sum to exactly totalBudget.
func (b *BanditAllocator) Allocate(ctx context.Context, ads []model.AdState, verdicts map[string]string, totalBudget decimal.Decimal) ([]Allocation, error) {
	_, span := allocatorTracer.Start(ctx, "Allocating budget pool")
	defer span.End()

	eligible := make([]model.AdState, 0, len(ads))
	allocations := make([]Allocation, 0, len(ads))
	for _, ad := range ads {
		if verdicts[ad.AdID] == model.VerdictKill {
			allocations = append(allocations, Allocation{AdID: ad.AdID, Budget: decimal.Zero})
			continue
		}
		eligible = append(eligible, ad)
	}
	if len(eligible) == 0 {
		return allocations, nil
	}

	winProbs := b.winProbabilities(eligible)

	// Exploration floor: an equal slice of the configured fraction goes to
	// every surviving non-HOLD ad before the sampled split claims the rest.
	floorShare := b.conf.ExplorationFloor / float64(len(eligible))
	total, _ := totalBudget.Float64()
	floors := make([]float64, len(eligible))
	floorSum := 0.0
	for i, ad := range eligible {
		if verdicts[ad.AdID] != model.VerdictHold {
			floors[i] = floorShare * total
			floorSum += floors[i]
		}
	}

	remaining := total - floorSum
	budgets := make([]float64, len(eligible))
	for i := range eligible {
		budgets[i] = floors[i] + remaining*winProbs[i]
	}

	// Convert to decimal and push any rounding residue onto the largest
	// allocation so the column sums exactly to the pool.
	allocated := decimal.Zero
	largest := 0
	for i := range eligible {
		if budgets[i] > budgets[largest] {
			largest = i
		}
	}
	results := make([]Allocation, len(eligible))
	for i, ad := range eligible {
		amount := decimal.NewFromFloat(budgets[i]).Round(4)
		results[i] = Allocation{AdID: ad.AdID, Budget: amount, WinProbability: winProbs[i]}
		allocated = allocated.Add(amount)
	}
	results[largest].Budget = results[largest].Budget.Add(totalBudget.Sub(allocated))

	allocations = append(allocations, results...)
	sort.Slice(allocations, func(i, j int) bool { return allocations[i].AdID < allocations[j].AdID })
	return allocations, nil
}

// winProbabilities estimates, for each ad, the probability that a draw from
// its posterior beats every other ad's draw.
func (b *BanditAllocator) winProbabilities(ads []model.AdState) []float64 {
	posteriors := make([]distuv.Beta, len(ads))
	for i := range ads {
		posteriors[i] = b.posterior(&ads[i])
	}

	wins := make([]int, len(ads))
	samples := b.conf.SampleCount
	for s := 0; s < samples; s++ {
		best := 0
		bestDraw := -1.0
		for i := range posteriors {
			draw := posteriors[i].Rand()
			if draw > bestDraw {
				bestDraw = draw
				best = i
			}
		}
		wins[best]++
	}

	probs := make([]float64, len(ads))
	for i := range wins {
		probs[i] = float64(wins[i]) / float64(samples)
	}
	return probs
}

// posterior builds the ad's Beta posterior. Successes come from conversions,
// or from attributed revenue converted into pseudo-conversions at the
// configured unit value when explicit conversions are absent. Failures are
// the clicks that produced nothing.
func (b *BanditAllocator) posterior(ad *model.AdState) distuv.Beta {
	successes := float64(ad.Conversions)
	if successes == 0 {
		revenue, _ := ad.AttributedRevenue().Float64()
		successes = revenue / b.conf.AttributionUnitValue
	}
	failures := float64(ad.Clicks) - successes
	if failures < 0 {
		failures = 0
	}
	// Beta(1,1) prior keeps brand-new ads uniform.
	return distuv.Beta{Alpha: 1 + successes, Beta: 1 + failures}
}
