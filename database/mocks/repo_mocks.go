/*
Copyright 2024 Blnk Finance Authors.

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

	"github.com/blnkfinance/courier/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface.
// RunInTransaction and RunInNewTransaction call fn with the given context
// unless the expectation returns an error.
type MockDataSource struct {
	mock.Mock
}

// Transaction methods

func (m *MockDataSource) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(ctx)
}

func (m *MockDataSource) RunInNewTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(ctx)
}

// Outbox methods

func (m *MockDataSource) InsertOutboxEntry(ctx context.Context, entry model.OutboxEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockDataSource) GetOutboxEntry(ctx context.Context, id string) (*model.OutboxEntry, error) {
	args := m.Called(ctx, id)
	entry, _ := args.Get(0).(*model.OutboxEntry)
	return entry, args.Error(1)
}

func (m *MockDataSource) GetNewOutboxEntries(ctx context.Context, limit int) ([]model.OutboxEntry, error) {
	args := m.Called(ctx, limit)
	entries, _ := args.Get(0).([]model.OutboxEntry)
	return entries, args.Error(1)
}

func (m *MockDataSource) ListOutboxEntries(ctx context.Context, filter model.OutboxFilter) ([]model.OutboxEntry, error) {
	args := m.Called(ctx, filter)
	entries, _ := args.Get(0).([]model.OutboxEntry)
	return entries, args.Error(1)
}

func (m *MockDataSource) MarkOutboxEntry(ctx context.Context, entry *model.OutboxEntry, status model.OutboxStatus, processedAt time.Time) error {
	args := m.Called(ctx, entry, status, processedAt)
	return args.Error(0)
}

func (m *MockDataSource) DeletePublishedOutboxEntries(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

// Inbox methods

func (m *MockDataSource) InboxEntryExists(ctx context.Context, messageID string) (bool, error) {
	args := m.Called(ctx, messageID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) InsertInboxEntry(ctx context.Context, entry model.InboxEntry) (bool, error) {
	args := m.Called(ctx, entry)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) DeleteInboxEntries(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

// Saga methods

func (m *MockDataSource) CreateSaga(ctx context.Context, saga model.Saga) error {
	args := m.Called(ctx, saga)
	return args.Error(0)
}

func (m *MockDataSource) GetSagaByOrderID(ctx context.Context, orderID string) (*model.Saga, error) {
	args := m.Called(ctx, orderID)
	saga, _ := args.Get(0).(*model.Saga)
	return saga, args.Error(1)
}

func (m *MockDataSource) UpdateSaga(ctx context.Context, saga *model.Saga) error {
	args := m.Called(ctx, saga)
	return args.Error(0)
}

func (m *MockDataSource) MarkStaleSagasAsFailed(ctx context.Context, cutoff, now time.Time, message string) (int64, error) {
	args := m.Called(ctx, cutoff, now, message)
	return args.Get(0).(int64), args.Error(1)
}

// Scheduler lock methods

func (m *MockDataSource) TryAcquireLock(ctx context.Context, name, owner string, lockedAt, lockUntil time.Time) (bool, error) {
	args := m.Called(ctx, name, owner, lockedAt, lockUntil)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) ReleaseLock(ctx context.Context, name, owner string, lockedAt, unlockAt time.Time) error {
	args := m.Called(ctx, name, owner, lockedAt, unlockAt)
	return args.Error(0)
}
