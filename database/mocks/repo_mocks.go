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
package mocks

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/adpilot-io/adpilot/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Ad state methods

func (m *MockDataSource) CreateAdState(ctx context.Context, ad model.AdState) (model.AdState, error) {
	args := m.Called(ctx, ad)
	return args.Get(0).(model.AdState), args.Error(1)
}

func (m *MockDataSource) GetAdState(ctx context.Context, tenantID, adID string) (*model.AdState, error) {
	args := m.Called(ctx, tenantID, adID)
	return args.Get(0).(*model.AdState), args.Error(1)
}

func (m *MockDataSource) GetActiveAdStates(ctx context.Context, tenantID string) ([]model.AdState, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).([]model.AdState), args.Error(1)
}

func (m *MockDataSource) GetActiveTenants(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDataSource) ApplyMetricSync(ctx context.Context, sync *model.MetricSync) (bool, error) {
	args := m.Called(ctx, sync)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) ApplyAttribution(ctx context.Context, tenantID, adID string, value decimal.Decimal) error {
	args := m.Called(ctx, tenantID, adID, value)
	return args.Error(0)
}

func (m *MockDataSource) UpsertMetricDay(ctx context.Context, day model.MetricDay) error {
	args := m.Called(ctx, day)
	return args.Error(0)
}

func (m *MockDataSource) GetMetricHistory(ctx context.Context, tenantID, adID string, days int) ([]model.MetricDay, error) {
	args := m.Called(ctx, tenantID, adID, days)
	return args.Get(0).([]model.MetricDay), args.Error(1)
}

func (m *MockDataSource) ArchiveInactiveAdStates(ctx context.Context, inactiveFor time.Duration) (int64, error) {
	args := m.Called(ctx, inactiveFor)
	return args.Get(0).(int64), args.Error(1)
}

// Decision queue methods

func (m *MockDataSource) EnqueueChange(ctx context.Context, change *model.PendingChange) error {
	args := m.Called(ctx, change)
	return args.Error(0)
}

func (m *MockDataSource) ClaimNextChange(ctx context.Context, workerID string) (*model.PendingChange, error) {
	args := m.Called(ctx, workerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PendingChange), args.Error(1)
}

func (m *MockDataSource) MarkChangeExecuting(ctx context.Context, id, workerID string) error {
	args := m.Called(ctx, id, workerID)
	return args.Error(0)
}

func (m *MockDataSource) CompleteChange(ctx context.Context, id, platformRef string) error {
	args := m.Called(ctx, id, platformRef)
	return args.Error(0)
}

func (m *MockDataSource) FailChange(ctx context.Context, id, errMsg string, retryAt time.Time) error {
	args := m.Called(ctx, id, errMsg, retryAt)
	return args.Error(0)
}

func (m *MockDataSource) MarkChangeDead(ctx context.Context, id, errMsg string) error {
	args := m.Called(ctx, id, errMsg)
	return args.Error(0)
}

func (m *MockDataSource) ReleaseChange(ctx context.Context, id, workerID string) error {
	args := m.Called(ctx, id, workerID)
	return args.Error(0)
}

func (m *MockDataSource) ResetStaleClaims(ctx context.Context, claimTimeout time.Duration) (int64, error) {
	args := m.Called(ctx, claimTimeout)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) GetChange(ctx context.Context, id string) (*model.PendingChange, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PendingChange), args.Error(1)
}

func (m *MockDataSource) GetDeadChanges(ctx context.Context, tenantID string, limit, offset int) ([]model.PendingChange, error) {
	args := m.Called(ctx, tenantID, limit, offset)
	return args.Get(0).([]model.PendingChange), args.Error(1)
}

func (m *MockDataSource) RetryDeadChange(ctx context.Context, id string) (*model.PendingChange, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PendingChange), args.Error(1)
}

// Attribution event methods

func (m *MockDataSource) RecordAttributionEvent(ctx context.Context, event *model.AttributionEvent) (bool, error) {
	args := m.Called(ctx, event)
	return args.Bool(0), args.Error(1)
}
