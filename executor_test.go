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
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/adpilot-io/adpilot/config"
	"github.com/adpilot-io/adpilot/database"
	"github.com/adpilot-io/adpilot/internal/ratelimit"
	"github.com/adpilot-io/adpilot/model"
	"github.com/adpilot-io/adpilot/platform"
)

// fakeChangeStore is an in-memory decision queue implementing the claim
// protocol with a single mutex standing in for row locks. Methods the
// executor does not touch fall through to the embedded nil interface.
type fakeChangeStore struct {
	database.IDataSource
	mu     sync.Mutex
	rows   map[string]*model.PendingChange
	order  []string
	claims map[string]int
	dead   map[string]string
	failed map[string]time.Time
}

func newFakeChangeStore() *fakeChangeStore {
	return &fakeChangeStore{
		rows:   make(map[string]*model.PendingChange),
		claims: make(map[string]int),
		dead:   make(map[string]string),
		failed: make(map[string]time.Time),
	}
}

func (f *fakeChangeStore) add(change *model.PendingChange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[change.ID] = change
	f.order = append(f.order, change.ID)
}

func (f *fakeChangeStore) ClaimNextChange(_ context.Context, workerID string) (*model.PendingChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	for _, id := range f.order {
		row := f.rows[id]
		if row.Status != model.ChangeStatusPending && row.Status != model.ChangeStatusFailed {
			continue
		}
		if row.EarliestExecuteAt.After(now) {
			continue
		}
		if f.earlierActiveChangeExists(row) {
			continue
		}
		row.Status = model.ChangeStatusClaimed
		row.ClaimedBy = workerID
		claimedAt := now
		row.ClaimedAt = &claimedAt
		f.claims[id]++
		copied := *row
		return &copied, nil
	}
	return nil, nil
}

// earlierActiveChangeExists mirrors the per-ad FIFO guard of the SQL claim.
func (f *fakeChangeStore) earlierActiveChangeExists(candidate *model.PendingChange) bool {
	for _, id := range f.order {
		if id == candidate.ID {
			return false
		}
		other := f.rows[id]
		if other.AdEntityID == candidate.AdEntityID && !other.IsTerminal() {
			return true
		}
	}
	return false
}

func (f *fakeChangeStore) MarkChangeExecuting(_ context.Context, id, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.Status != model.ChangeStatusClaimed || row.ClaimedBy != workerID {
		return fmt.Errorf("change %s is not claimed by %s", id, workerID)
	}
	row.Status = model.ChangeStatusExecuting
	return nil
}

func (f *fakeChangeStore) CompleteChange(_ context.Context, id, platformRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[id]
	row.Status = model.ChangeStatusCompleted
	row.PlatformRef = platformRef
	return nil
}

func (f *fakeChangeStore) FailChange(_ context.Context, id, errMsg string, retryAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[id]
	row.Status = model.ChangeStatusFailed
	row.ErrorCount++
	row.LastError = errMsg
	row.EarliestExecuteAt = retryAt
	f.failed[id] = retryAt
	return nil
}

func (f *fakeChangeStore) MarkChangeDead(_ context.Context, id, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[id]
	row.Status = model.ChangeStatusDead
	row.ErrorCount++
	row.LastError = errMsg
	f.dead[id] = errMsg
	return nil
}

func (f *fakeChangeStore) ReleaseChange(_ context.Context, id, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[id]
	if row.ClaimedBy == workerID {
		row.Status = model.ChangeStatusPending
		row.ClaimedBy = ""
	}
	return nil
}

func (f *fakeChangeStore) GetChange(_ context.Context, id string) (*model.PendingChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *f.rows[id]
	return &copied, nil
}

func (f *fakeChangeStore) claimCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claims[id]
}

func (f *fakeChangeStore) pendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, row := range f.rows {
		if !row.IsTerminal() {
			count++
		}
	}
	return count
}

// fakePlatform records every mutation and returns a configurable error.
type fakePlatform struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{calls: make(map[string]int)}
}

func (p *fakePlatform) record(adID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.calls[adID]++
	return "platform_ref_" + adID, nil
}

func (p *fakePlatform) SetBudget(_ context.Context, _, adID string, _ decimal.Decimal) (string, error) {
	return p.record(adID)
}
func (p *fakePlatform) PauseAd(_ context.Context, _, adID string) (string, error) {
	return p.record(adID)
}
func (p *fakePlatform) ResumeAd(_ context.Context, _, adID string) (string, error) {
	return p.record(adID)
}
func (p *fakePlatform) KillAd(_ context.Context, _, adID string) (string, error) {
	return p.record(adID)
}

func (p *fakePlatform) callCount(adID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[adID]
}

func testExecutorConfig() config.ExecutorConfig {
	return config.ExecutorConfig{
		MaxWorkers:        8,
		PollIntervalMs:    5,
		ClaimTimeoutSec:   300,
		MaxRetries:        5,
		FuzzPercent:       0.03,
		BackoffInitialSec: 30,
	}
}

func newTestExecutor(store *fakeChangeStore, client *fakePlatform) *Executor {
	return &Executor{
		datasource: store,
		platform:   client,
		limiter:    ratelimit.NewRegistry(1000, 1000),
		conf:       testExecutorConfig(),
		workerBase: "test",
	}
}

func TestFuzzBudgetStaysWithinBounds(t *testing.T) {
	e := newTestExecutor(newFakeChangeStore(), newFakePlatform())

	target := decimal.NewFromInt(100)
	for i := 0; i < 500; i++ {
		fuzzed, _ := e.fuzzBudget(target).Float64()
		assert.GreaterOrEqual(t, fuzzed, 97.0)
		assert.LessOrEqual(t, fuzzed, 103.0)
	}
}

func TestBackoffDelaysStrictlyIncrease(t *testing.T) {
	e := newTestExecutor(newFakeChangeStore(), newFakePlatform())

	previous := time.Duration(0)
	for errorCount := 0; errorCount <= 5; errorCount++ {
		delay := e.backoffDelay(errorCount)
		assert.Greater(t, delay, previous, "retry gap after %d errors must exceed the previous gap", errorCount)
		previous = delay
	}

	first := e.backoffDelay(0)
	assert.GreaterOrEqual(t, first, 24*time.Second)
	assert.LessOrEqual(t, first, 36*time.Second)
}

func TestWorkerPoolExecutesEachChangeExactlyOnce(t *testing.T) {
	config.MockConfig(&config.Configuration{})
	store := newFakeChangeStore()
	client := newFakePlatform()
	e := newTestExecutor(store, client)

	const changeCount = 40
	for i := 0; i < changeCount; i++ {
		target := decimal.NewFromInt(int64(100 + i))
		store.add(&model.PendingChange{
			ID:                fmt.Sprintf("chg_%03d", i),
			TenantID:          "tenant_1",
			AdEntityID:        fmt.Sprintf("ad_%03d", i),
			ChangeType:        model.ChangeSetBudget,
			TargetValue:       &target,
			Status:            model.ChangeStatusPending,
			EarliestExecuteAt: time.Now().Add(-time.Second),
			CreatedAt:         time.Now(),
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for store.pendingCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	assert.Zero(t, store.pendingCount(), "all changes should drain")
	for i := 0; i < changeCount; i++ {
		id := fmt.Sprintf("chg_%03d", i)
		adID := fmt.Sprintf("ad_%03d", i)
		assert.Equal(t, 1, store.claimCount(id), "change %s must be claimed exactly once", id)
		assert.Equal(t, 1, client.callCount(adID), "ad %s must be mutated exactly once", adID)

		row, _ := store.GetChange(context.Background(), id)
		assert.Equal(t, model.ChangeStatusCompleted, row.Status)
		assert.NotEmpty(t, row.PlatformRef)
	}
}

func TestTransientFailureSchedulesRetry(t *testing.T) {
	config.MockConfig(&config.Configuration{})
	store := newFakeChangeStore()
	e := newTestExecutor(store, newFakePlatform())

	change := &model.PendingChange{
		ID:         "chg_retry",
		TenantID:   "tenant_1",
		AdEntityID: "ad_1",
		ChangeType: model.ChangePause,
		Status:     model.ChangeStatusExecuting,
		ErrorCount: 0,
	}
	store.add(change)

	e.handleFailure(context.Background(), change, &platform.APIError{StatusCode: 503, Message: "upstream sad"})

	row, _ := store.GetChange(context.Background(), "chg_retry")
	assert.Equal(t, model.ChangeStatusFailed, row.Status)
	assert.Equal(t, 1, row.ErrorCount)
	assert.True(t, row.EarliestExecuteAt.After(time.Now().Add(20*time.Second)),
		"the first retry must be pushed out by at least the initial backoff")
	assert.Empty(t, store.dead)
}

func TestRetryBudgetExhaustionGoesDead(t *testing.T) {
	config.MockConfig(&config.Configuration{})
	store := newFakeChangeStore()
	e := newTestExecutor(store, newFakePlatform())

	// error_count equals max_retries: the next failed attempt is the last.
	change := &model.PendingChange{
		ID:         "chg_dead",
		TenantID:   "tenant_1",
		AdEntityID: "ad_1",
		ChangeType: model.ChangePause,
		Status:     model.ChangeStatusExecuting,
		ErrorCount: e.conf.MaxRetries,
	}
	store.add(change)

	e.handleFailure(context.Background(), change, &platform.APIError{StatusCode: 503, Message: "still sad"})

	row, _ := store.GetChange(context.Background(), "chg_dead")
	assert.Equal(t, model.ChangeStatusDead, row.Status)
	assert.Equal(t, e.conf.MaxRetries+1, row.ErrorCount)
}

func TestPermanentErrorGoesStraightToDead(t *testing.T) {
	config.MockConfig(&config.Configuration{})
	store := newFakeChangeStore()
	e := newTestExecutor(store, newFakePlatform())

	change := &model.PendingChange{
		ID:         "chg_forbidden",
		TenantID:   "tenant_1",
		AdEntityID: "ad_1",
		ChangeType: model.ChangeKill,
		Status:     model.ChangeStatusExecuting,
		ErrorCount: 0,
	}
	store.add(change)

	e.handleFailure(context.Background(), change, &platform.APIError{StatusCode: 403, Message: "forbidden"})

	row, _ := store.GetChange(context.Background(), "chg_forbidden")
	assert.Equal(t, model.ChangeStatusDead, row.Status)
	assert.Empty(t, store.failed, "permanent errors never enter the retry loop")
}

func TestLostOwnershipAbortsExecution(t *testing.T) {
	config.MockConfig(&config.Configuration{})
	store := newFakeChangeStore()
	client := newFakePlatform()
	e := newTestExecutor(store, client)

	change := &model.PendingChange{
		ID:         "chg_stolen",
		TenantID:   "tenant_1",
		AdEntityID: "ad_1",
		ChangeType: model.ChangePause,
		Status:     model.ChangeStatusClaimed,
		ClaimedBy:  "someone-else",
	}
	store.add(change)

	e.process(context.Background(), "test-worker-0", change)

	assert.Zero(t, client.callCount("ad_1"), "the platform must never be touched without claim ownership")
}

func TestPerAdOrderingHoldsBackLaterChanges(t *testing.T) {
	store := newFakeChangeStore()

	first := &model.PendingChange{
		ID: "chg_first", AdEntityID: "ad_1", TenantID: "tenant_1",
		ChangeType: model.ChangePause, Status: model.ChangeStatusPending,
		EarliestExecuteAt: time.Now().Add(-time.Minute),
	}
	second := &model.PendingChange{
		ID: "chg_second", AdEntityID: "ad_1", TenantID: "tenant_1",
		ChangeType: model.ChangeResume, Status: model.ChangeStatusPending,
		EarliestExecuteAt: time.Now().Add(-time.Minute),
	}
	store.add(first)
	store.add(second)

	claimed, err := store.ClaimNextChange(context.Background(), "worker-a")
	assert.NoError(t, err)
	assert.Equal(t, "chg_first", claimed.ID)

	// While the first change is in flight, the second stays untouchable.
	blocked, err := store.ClaimNextChange(context.Background(), "worker-b")
	assert.NoError(t, err)
	assert.Nil(t, blocked)

	assert.NoError(t, store.CompleteChange(context.Background(), "chg_first", "ref"))
	next, err := store.ClaimNextChange(context.Background(), "worker-b")
	assert.NoError(t, err)
	assert.Equal(t, "chg_second", next.ID)
}
