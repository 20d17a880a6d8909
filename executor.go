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
	"math/rand"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/adpilot-io/adpilot/config"
	"github.com/adpilot-io/adpilot/database"
	"github.com/adpilot-io/adpilot/internal/notification"
	"github.com/adpilot-io/adpilot/internal/ratelimit"
	"github.com/adpilot-io/adpilot/internal/search"
	"github.com/adpilot-io/adpilot/model"
	"github.com/adpilot-io/adpilot/platform"
)

var executorTracer = otel.Tracer("Safe executor")

// Executor is the pool of workers that drain the decision queue and apply
// claimed changes to the external platform. Each worker loops
// claim -> execute -> complete/fail; the claim protocol guarantees a row is
// held by at most one worker at any instant.
type Executor struct {
	datasource database.IDataSource
	platform   platform.Client
	limiter    *ratelimit.Registry
	queue      *Queue
	conf       config.ExecutorConfig
	workerBase string
}

// NewExecutor creates an executor bound to the core's collaborators.
func NewExecutor(a *Adpilot, conf config.ExecutorConfig) *Executor {
	hostname, _ := os.Hostname()
	return &Executor{
		datasource: a.datasource,
		platform:   a.platform,
		limiter:    a.limiter,
		queue:      a.queue,
		conf:       conf,
		workerBase: fmt.Sprintf("%s-%d", hostname, os.Getpid()),
	}
}

// Start launches the worker pool. Workers run until the context is
// cancelled.
func (e *Executor) Start(ctx context.Context) {
	for i := 0; i < e.conf.MaxWorkers; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", e.workerBase, i)
		go e.runWorker(ctx, workerID)
	}
	logrus.Infof("executor started with %d workers", e.conf.MaxWorkers)
}

// runWorker is one worker's claim loop. An empty claim backs off for the
// poll interval; a claimed row is processed immediately.
func (e *Executor) runWorker(ctx context.Context, workerID string) {
	pollInterval := time.Duration(e.conf.PollIntervalMs) * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		change, err := e.datasource.ClaimNextChange(ctx, workerID)
		if err != nil {
			logrus.Errorf("worker %s: claim failed: %v", workerID, err)
			time.Sleep(pollInterval)
			continue
		}
		if change == nil {
			time.Sleep(pollInterval)
			continue
		}

		e.process(ctx, workerID, change)
	}
}

// process executes one claimed change end to end. Failures are localized to
// this row: the worker loop never sees an error from here.
func (e *Executor) process(ctx context.Context, workerID string, change *model.PendingChange) {
	ctx, span := executorTracer.Start(ctx, fmt.Sprintf("Executing %s", change.ChangeType))
	defer span.End()

	// Throttle before touching the platform. Waiting leaves the row CLAIMED,
	// which is exactly what we want while the tenant's bucket refills.
	if err := e.limiter.Wait(ctx, change.TenantID); err != nil {
		if releaseErr := e.datasource.ReleaseChange(ctx, change.ID, workerID); releaseErr != nil {
			logrus.Errorf("worker %s: release of %s failed: %v", workerID, change.ID, releaseErr)
		}
		return
	}

	if err := e.datasource.MarkChangeExecuting(ctx, change.ID, workerID); err != nil {
		// Losing the ownership guard means another worker holds this row.
		// That breaks the claim invariant and must never happen.
		criticalErr := fmt.Errorf("CRITICAL: double-claim detected on change %s by worker %s: %w", change.ID, workerID, err)
		logrus.Error(criticalErr)
		notification.NotifyError(criticalErr)
		return
	}

	ref, err := e.applyToPlatform(ctx, change)
	if err != nil {
		e.handleFailure(ctx, change, err)
		return
	}

	if err := e.datasource.CompleteChange(ctx, change.ID, ref); err != nil {
		logrus.Errorf("worker %s: completing change %s failed: %v", workerID, change.ID, err)
		return
	}
	logrus.Infof("worker %s: applied %s to ad %s (ref %s)", workerID, change.ChangeType, change.AdEntityID, ref)

	if change.ChangeType == model.ChangeKill {
		if err := SendWebhook(NewWebhook{Event: EventAdKilled, Payload: change}); err != nil {
			logrus.Errorf("failed to send %s webhook: %v", EventAdKilled, err)
		}
	}
}

// applyToPlatform dispatches the change to the platform client, fuzzing the
// budget first so the applied values never expose an exact allocation
// signature.
func (e *Executor) applyToPlatform(ctx context.Context, change *model.PendingChange) (string, error) {
	switch change.ChangeType {
	case model.ChangeSetBudget:
		if change.TargetValue == nil {
			return "", &platform.APIError{StatusCode: 400, Message: "SET_BUDGET without target value"}
		}
		fuzzed := e.fuzzBudget(*change.TargetValue)
		return e.platform.SetBudget(ctx, change.TenantID, change.AdEntityID, fuzzed)
	case model.ChangePause:
		return e.platform.PauseAd(ctx, change.TenantID, change.AdEntityID)
	case model.ChangeResume:
		return e.platform.ResumeAd(ctx, change.TenantID, change.AdEntityID)
	case model.ChangeKill:
		return e.platform.KillAd(ctx, change.TenantID, change.AdEntityID)
	default:
		return "", &platform.APIError{StatusCode: 400, Message: fmt.Sprintf("unknown change type %s", change.ChangeType)}
	}
}

// fuzzBudget perturbs the requested value by a bounded random percentage.
// With the default 3% fuzz a $100 request always lands in [$97, $103].
func (e *Executor) fuzzBudget(target decimal.Decimal) decimal.Decimal {
	offset := (rand.Float64()*2 - 1) * e.conf.FuzzPercent
	factor := decimal.NewFromFloat(1 + offset)
	return target.Mul(factor).Round(4)
}

// handleFailure routes a platform error: permanent errors go straight to
// DEAD, transient ones are retried with exponential backoff until the retry
// budget runs out.
func (e *Executor) handleFailure(ctx context.Context, change *model.PendingChange, execErr error) {
	if !platform.IsTransient(execErr) {
		e.markDead(ctx, change, execErr)
		return
	}

	// error_count increments on every failed attempt; the row dies on the
	// attempt after the last allowed retry.
	if change.ErrorCount+1 > e.conf.MaxRetries {
		e.markDead(ctx, change, execErr)
		return
	}

	retryAt := time.Now().Add(e.backoffDelay(change.ErrorCount))
	if err := e.datasource.FailChange(ctx, change.ID, execErr.Error(), retryAt); err != nil {
		logrus.Errorf("failing change %s failed: %v", change.ID, err)
		return
	}
	logrus.Warnf("change %s failed (attempt %d), retrying at %s: %v", change.ID, change.ErrorCount+1, retryAt.Format(time.RFC3339), execErr)
}

// markDead transitions the row to its terminal state and surfaces it for
// human review via webhook, search index and the error notification channel.
func (e *Executor) markDead(ctx context.Context, change *model.PendingChange, execErr error) {
	if err := e.datasource.MarkChangeDead(ctx, change.ID, execErr.Error()); err != nil {
		logrus.Errorf("marking change %s dead failed: %v", change.ID, err)
		return
	}
	logrus.Errorf("change %s is DEAD after %d errors: %v", change.ID, change.ErrorCount+1, execErr)

	notification.NotifyError(fmt.Errorf("change %s (%s on ad %s) is dead: %w", change.ID, change.ChangeType, change.AdEntityID, execErr))
	if err := SendWebhook(NewWebhook{Event: EventChangeDead, Payload: change}); err != nil {
		logrus.Errorf("failed to send %s webhook: %v", EventChangeDead, err)
	}
	if e.queue == nil {
		return
	}
	if dead, err := e.datasource.GetChange(ctx, change.ID); err == nil {
		if err := e.queue.queueIndexData(dead.ID, search.CollectionDeadChanges, dead); err != nil {
			logrus.Errorf("failed to queue dead change for indexing: %v", err)
		}
	}
}

// backoffDelay computes the delay before retry number errorCount+1. The
// exponential curve with bounded randomization keeps successive gaps strictly
// increasing while still spreading retries apart.
func (e *Executor) backoffDelay(errorCount int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(e.conf.BackoffInitialSec * float64(time.Second))
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	bo.MaxInterval = 24 * time.Hour
	bo.MaxElapsedTime = 0
	// NewExponentialBackOff seeds its current interval before the fields
	// above are set; Reset re-seeds it from the configured initial interval.
	bo.Reset()

	delay := bo.NextBackOff()
	for i := 0; i < errorCount; i++ {
		delay = bo.NextBackOff()
	}
	return delay
}
