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
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/adpilot-io/adpilot/config"
)

// ClaimRecoveryProcessor is the watchdog for the decision queue. A worker
// that crashes mid-execution leaves its row CLAIMED or EXECUTING forever;
// this processor periodically resets rows whose claims outlived the claim
// timeout back to PENDING so the pool can pick them up again.
type ClaimRecoveryProcessor struct {
	adpilot      *Adpilot
	pollInterval time.Duration
	claimTimeout time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	mu           sync.Mutex
}

// NewClaimRecoveryProcessor creates the watchdog with intervals derived from
// the executor configuration.
func NewClaimRecoveryProcessor(a *Adpilot) *ClaimRecoveryProcessor {
	claimTimeout := 5 * time.Minute
	cfg, err := config.Fetch()
	if err == nil && cfg.Executor.ClaimTimeoutSec > 0 {
		claimTimeout = time.Duration(cfg.Executor.ClaimTimeoutSec) * time.Second
	}

	pollInterval := claimTimeout / 2
	if pollInterval < time.Second {
		pollInterval = time.Second
	}

	return &ClaimRecoveryProcessor{
		adpilot:      a,
		pollInterval: pollInterval,
		claimTimeout: claimTimeout,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the watchdog loop. Starting an already-running processor is
// a no-op.
func (p *ClaimRecoveryProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("Claim recovery watchdog started")
}

// Stop signals the watchdog to exit and waits for it.
func (p *ClaimRecoveryProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Claim recovery watchdog stopped")
}

// IsRunning reports whether the watchdog loop is active.
func (p *ClaimRecoveryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ClaimRecoveryProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Claim recovery watchdog context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("Claim recovery watchdog stop signal received")
			return
		case <-ticker.C:
			p.recoverWithThreshold(ctx, p.claimTimeout)
		}
	}
}

// RecoverStaleClaims triggers an immediate reset of stale claims using the
// provided threshold. This is exposed for the manual trigger API endpoint.
func (a *Adpilot) RecoverStaleClaims(ctx context.Context, threshold time.Duration) (int64, error) {
	if threshold < time.Minute {
		threshold = time.Minute
	}
	return a.datasource.ResetStaleClaims(ctx, threshold)
}

func (p *ClaimRecoveryProcessor) recoverWithThreshold(ctx context.Context, threshold time.Duration) {
	reset, err := p.adpilot.datasource.ResetStaleClaims(ctx, threshold)
	if err != nil {
		logrus.Errorf("watchdog: resetting stale claims failed: %v", err)
		return
	}
	if reset > 0 {
		logrus.Warnf("watchdog: reset %d stale claims back to PENDING", reset)
	}
}
