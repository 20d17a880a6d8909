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
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/adpilot-io/adpilot/config"
	"github.com/adpilot-io/adpilot/model"
)

// Fatigue rule names, reported in FatigueReport signals.
const (
	RuleCTRDecline        = "ctr_decline"
	RuleFrequency         = "frequency_saturation"
	RuleCPMIncrease       = "cpm_increase"
	RuleImpressionPlateau = "impression_plateau"
)

const (
	ctrWindowDays        = 3
	impressionWindowDays = 7
)

// FatigueDetector classifies an ad's performance trend from its daily metric
// history. Four independent rules each contribute a boolean signal with a
// magnitude; the status is resolved from which combination fired.
type FatigueDetector struct {
	conf config.FatigueConfig
}

// NewFatigueDetector creates a detector with the given thresholds.
func NewFatigueDetector(conf config.FatigueConfig) *FatigueDetector {
	return &FatigueDetector{conf: conf}
}

// Detect evaluates the trend rules over the ad's history, oldest day first.
// Histories shorter than the configured minimum produce INSUFFICIENT_DATA
// rather than an error.
func (f *FatigueDetector) Detect(adID, tenantID string, history []model.MetricDay) *model.FatigueReport {
	report := &model.FatigueReport{
		AdID:       adID,
		TenantID:   tenantID,
		ComputedAt: time.Now(),
	}

	if len(history) < f.conf.MinHistoryDays {
		report.Status = model.FatigueInsufficientData
		report.Recommendation = model.RecommendContinue
		return report
	}

	ctrDecline := f.ctrDeclineSignal(history)
	frequency := f.frequencySignal(history)
	cpmIncrease := f.cpmIncreaseSignal(history)
	plateau := f.impressionPlateauSignal(history)
	report.Signals = []model.FatigueSignal{ctrDecline, frequency, cpmIncrease, plateau}

	report.Status = f.resolveStatus(ctrDecline, frequency, cpmIncrease, plateau)
	report.Confidence = math.Min(1, float64(len(history))/float64(impressionWindowDays))

	if report.Status != model.FatigueHealthy && report.Status != model.FatigueInsufficientData {
		report.Recommendation = model.RecommendRefreshCreative
		report.DaysUntilCritical = f.daysUntilCritical(history)
	} else {
		report.Recommendation = model.RecommendContinue
	}
	return report
}

// ctrDeclineSignal fires when CTR fell by at least the configured fraction
// over the trailing window.
func (f *FatigueDetector) ctrDeclineSignal(history []model.MetricDay) model.FatigueSignal {
	signal := model.FatigueSignal{Rule: RuleCTRDecline}
	window := trailing(history, ctrWindowDays)
	first := window[0].CTR()
	last := window[len(window)-1].CTR()
	if first <= 0 {
		return signal
	}
	decline := (first - last) / first
	signal.Magnitude = decline
	signal.Fired = decline >= f.conf.CTRDeclineThreshold
	return signal
}

// frequencySignal fires when the latest day's frequency reaches saturation.
func (f *FatigueDetector) frequencySignal(history []model.MetricDay) model.FatigueSignal {
	latest := history[len(history)-1]
	return model.FatigueSignal{
		Rule:      RuleFrequency,
		Magnitude: latest.Frequency,
		Fired:     latest.Frequency >= f.conf.FrequencySaturation,
	}
}

// cpmIncreaseSignal fires when CPM rose by at least the configured fraction
// over the trailing window.
func (f *FatigueDetector) cpmIncreaseSignal(history []model.MetricDay) model.FatigueSignal {
	signal := model.FatigueSignal{Rule: RuleCPMIncrease}
	window := trailing(history, ctrWindowDays)
	first := window[0].CPM
	last := window[len(window)-1].CPM
	if first <= 0 {
		return signal
	}
	increase := (last - first) / first
	signal.Magnitude = increase
	signal.Fired = increase >= f.conf.CPMIncreaseThreshold
	return signal
}

// impressionPlateauSignal fires when impression growth over the trailing
// seven days fell below the configured minimum, meaning reach has stalled.
// It never fires on histories shorter than the window.
func (f *FatigueDetector) impressionPlateauSignal(history []model.MetricDay) model.FatigueSignal {
	signal := model.FatigueSignal{Rule: RuleImpressionPlateau}
	if len(history) < impressionWindowDays {
		return signal
	}
	window := trailing(history, impressionWindowDays)
	first := window[0].Impressions
	last := window[len(window)-1].Impressions
	if first <= 0 {
		return signal
	}
	growth := float64(last-first) / float64(first)
	signal.Magnitude = growth
	signal.Fired = growth < f.conf.ImpressionGrowthMin
	return signal
}

// resolveStatus maps the fired rules to a status. The compound states take
// precedence over the generic FATIGUING bucket.
func (f *FatigueDetector) resolveStatus(ctrDecline, frequency, cpmIncrease, plateau model.FatigueSignal) string {
	if plateau.Fired && frequency.Fired {
		return model.FatigueAudienceExhausted
	}
	if frequency.Fired && ctrDecline.Fired {
		return model.FatigueSaturated
	}
	fired := 0
	for _, sig := range []model.FatigueSignal{ctrDecline, frequency, cpmIncrease, plateau} {
		if sig.Fired {
			fired++
		}
	}
	if fired == 0 {
		return model.FatigueHealthy
	}
	return model.FatigueFatiguing
}

// daysUntilCritical extrapolates the CTR trend linearly to half of the
// window-start CTR. Returns nil when CTR is flat or improving.
func (f *FatigueDetector) daysUntilCritical(history []model.MetricDay) *float64 {
	window := trailing(history, impressionWindowDays)
	if len(window) < 2 {
		return nil
	}

	xs := make([]float64, len(window))
	ys := make([]float64, len(window))
	for i, day := range window {
		xs[i] = float64(i)
		ys[i] = day.CTR()
	}
	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	if slope >= 0 {
		return nil
	}

	current := intercept + slope*float64(len(window)-1)
	criticalFloor := ys[0] / 2
	if current <= criticalFloor {
		zero := 0.0
		return &zero
	}
	days := (current - criticalFloor) / -slope
	return &days
}

// trailing returns the last n days of history, or all of it when shorter.
func trailing(history []model.MetricDay, n int) []model.MetricDay {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
