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

package courier

import (
	"context"
	"embed"
	"time"

	"github.com/blnkfinance/courier/config"
	"github.com/blnkfinance/courier/database"
	"github.com/blnkfinance/courier/internal/apierror"
	"github.com/blnkfinance/courier/model"
	"github.com/sirupsen/logrus"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

const (
	defaultDispatchInterval = 2 * time.Second
	defaultBatchSize        = 50
	defaultRetention        = 7 * 24 * time.Hour
	defaultOutboxCleanup    = "0 2 * * *"
	defaultInboxCleanup     = "0 3 * * *"
	defaultSagaTimeout      = 10 * time.Minute
	defaultReaperInterval   = 5 * time.Minute
)

// Courier wires the outbox, inbox and order saga around one datasource.
type Courier struct {
	datasource    database.IDataSource
	publishers    *PublisherRegistry
	outbox        *OutboxWriter
	dispatcher    *OutboxDispatcher
	outboxSweeper *OutboxSweeper
	inbox         *InboxService
	inboxSweeper  *InboxSweeper
	saga          *SagaDispatcher
	reaper        *SagaTimeoutReaper
	settings      settings
}

// settings holds the job tunables after falling back to defaults for any
// value the configuration leaves unset.
type settings struct {
	dispatchInterval time.Duration
	batchSize        int
	outboxRetention  time.Duration
	outboxCleanup    string
	inboxRetention   time.Duration
	inboxCleanup     string
	sagaTimeout      time.Duration
	reaperInterval   time.Duration
}

func settingsFrom(cnf *config.Configuration) settings {
	s := settings{
		dispatchInterval: cnf.Outbox.DispatchInterval(),
		batchSize:        cnf.Outbox.BatchSize,
		outboxRetention:  cnf.Outbox.Retention(),
		outboxCleanup:    cnf.Outbox.CleanupCron,
		inboxRetention:   cnf.Inbox.Retention(),
		inboxCleanup:     cnf.Inbox.CleanupCron,
		sagaTimeout:      cnf.Saga.Timeout(),
		reaperInterval:   cnf.Saga.ReaperInterval(),
	}
	if s.dispatchInterval <= 0 {
		s.dispatchInterval = defaultDispatchInterval
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.outboxRetention <= 0 {
		s.outboxRetention = defaultRetention
	}
	if s.outboxCleanup == "" {
		s.outboxCleanup = defaultOutboxCleanup
	}
	if s.inboxRetention <= 0 {
		s.inboxRetention = defaultRetention
	}
	if s.inboxCleanup == "" {
		s.inboxCleanup = defaultInboxCleanup
	}
	if s.sagaTimeout <= 0 {
		s.sagaTimeout = defaultSagaTimeout
	}
	if s.reaperInterval <= 0 {
		s.reaperInterval = defaultReaperInterval
	}
	return s
}

// NewCourier initializes a new instance of Courier with the provided datasource.
// Publishers for outbound message types are registered afterwards through
// Publishers().Register.
func NewCourier(db database.IDataSource) (*Courier, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	s := settingsFrom(cnf)

	publishers := NewPublisherRegistry()
	outbox := NewOutboxWriter(db)
	inbox := NewInboxService(db)

	return &Courier{
		datasource:    db,
		publishers:    publishers,
		outbox:        outbox,
		dispatcher:    NewOutboxDispatcher(db, publishers, s.batchSize),
		outboxSweeper: NewOutboxSweeper(db, s.outboxRetention),
		inbox:         inbox,
		inboxSweeper:  NewInboxSweeper(db, s.inboxRetention),
		saga:          NewSagaDispatcher(db, outbox),
		reaper:        NewSagaTimeoutReaper(db, s.sagaTimeout),
		settings:      s,
	}, nil
}

func (c *Courier) Datasource() database.IDataSource { return c.datasource }

func (c *Courier) Publishers() *PublisherRegistry { return c.publishers }

func (c *Courier) Outbox() *OutboxWriter { return c.outbox }

func (c *Courier) Dispatcher() *OutboxDispatcher { return c.dispatcher }

func (c *Courier) Inbox() *InboxService { return c.inbox }

func (c *Courier) Saga() *SagaDispatcher { return c.saga }

func (c *Courier) Reaper() *SagaTimeoutReaper { return c.reaper }

// StartOrderSaga opens the order saga for a newly placed order. It joins the
// transaction carried by ctx, so an order service that persists the order in
// the same transaction commits both together.
func (c *Courier) StartOrderSaga(ctx context.Context, order model.Order) error {
	if order.ID == "" || order.CustomerID == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "order id and customer id are required", nil)
	}
	return c.datasource.RunInTransaction(ctx, func(txCtx context.Context) error {
		return c.saga.Publish(txCtx, OrderCreated{Order: order})
	})
}

// GetOutboxEntry retrieves an outbox entry by ID.
func (c *Courier) GetOutboxEntry(ctx context.Context, id string) (*model.OutboxEntry, error) {
	return c.datasource.GetOutboxEntry(ctx, id)
}

// ListOutboxEntries lists outbox entries, newest first.
func (c *Courier) ListOutboxEntries(ctx context.Context, filter model.OutboxFilter) ([]model.OutboxEntry, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "unknown outbox status "+string(filter.Status), nil)
	}
	return c.datasource.ListOutboxEntries(ctx, filter)
}

// ResubmitOutboxEntry queues a copy of a FAILED entry as a new NEW entry. The
// FAILED entry itself is left untouched.
func (c *Courier) ResubmitOutboxEntry(ctx context.Context, id string) (*model.OutboxEntry, error) {
	var resubmitted model.OutboxEntry
	err := c.datasource.RunInTransaction(ctx, func(txCtx context.Context) error {
		failed, err := c.datasource.GetOutboxEntry(txCtx, id)
		if err != nil {
			return err
		}
		if failed.Status != model.OutboxStatusFailed {
			return apierror.NewAPIError(apierror.ErrBadRequest, "only FAILED outbox entries can be resubmitted", nil)
		}

		resubmitted, err = c.outbox.Append(txCtx, failed.MessageType, failed.MessageKey, failed.Payload)
		return err
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"entry_id": id, "resubmitted_as": resubmitted.ID}).Info("outbox entry resubmitted")
	return &resubmitted, nil
}

// GetSaga retrieves the saga driving an order.
func (c *Courier) GetSaga(ctx context.Context, orderID string) (*model.Saga, error) {
	return c.datasource.GetSagaByOrderID(ctx, orderID)
}

// ReapSagas runs one timeout pass outside the schedule.
func (c *Courier) ReapSagas(ctx context.Context) (int64, error) {
	return c.reaper.Reap(ctx)
}
