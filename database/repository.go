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

package database

import (
	"context"
	"time"

	"github.com/blnkfinance/courier/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	transactor    // Transaction boundaries
	outbox        // Outbox journal
	inbox         // Processed message ledger
	saga          // Order saga state
	schedulerLock // Cluster-wide job locks
}

// transactor runs units of work inside database transactions.
type transactor interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error    // Joins the context transaction or starts one
	RunInNewTransaction(ctx context.Context, fn func(ctx context.Context) error) error // Always starts an independent transaction
}

// outbox defines methods for handling outbox entries.
type outbox interface {
	InsertOutboxEntry(ctx context.Context, entry model.OutboxEntry) error                                                  // Inserts a new entry
	GetOutboxEntry(ctx context.Context, id string) (*model.OutboxEntry, error)                                             // Retrieves an entry by ID
	GetNewOutboxEntries(ctx context.Context, limit int) ([]model.OutboxEntry, error)                                       // Oldest NEW entries first
	ListOutboxEntries(ctx context.Context, filter model.OutboxFilter) ([]model.OutboxEntry, error)                         // Lists entries by status
	MarkOutboxEntry(ctx context.Context, entry *model.OutboxEntry, status model.OutboxStatus, processedAt time.Time) error // Moves a NEW entry to a terminal status
	DeletePublishedOutboxEntries(ctx context.Context, before time.Time) (int64, error)                                     // Deletes old PUBLISHED entries
}

// inbox defines methods for handling inbox entries.
type inbox interface {
	InboxEntryExists(ctx context.Context, messageID string) (bool, error)       // Checks whether a message was handled
	InsertInboxEntry(ctx context.Context, entry model.InboxEntry) (bool, error) // Records a message, false when it already exists
	DeleteInboxEntries(ctx context.Context, before time.Time) (int64, error)    // Deletes entries processed before the cutoff
}

// saga defines methods for handling order sagas.
type saga interface {
	CreateSaga(ctx context.Context, saga model.Saga) error                                            // Creates a saga row
	GetSagaByOrderID(ctx context.Context, orderID string) (*model.Saga, error)                        // Retrieves the saga for an order
	UpdateSaga(ctx context.Context, saga *model.Saga) error                                           // Version-checked update
	MarkStaleSagasAsFailed(ctx context.Context, cutoff, now time.Time, message string) (int64, error) // Fails sagas idle since before cutoff
}

// schedulerLock defines methods for the job lock table.
type schedulerLock interface {
	TryAcquireLock(ctx context.Context, name, owner string, lockedAt, lockUntil time.Time) (bool, error) // Takes the lock if it is free or expired
	ReleaseLock(ctx context.Context, name, owner string, lockedAt, unlockAt time.Time) error             // Shortens the lock to unlockAt
}
