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
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/blnkfinance/courier/model"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxWriterAppend_RequiresTransaction(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	writer := NewOutboxWriter(datasource)
	_, err = writer.Append(context.Background(), model.PaymentCommandMessageType, "order-1", map[string]string{"a": "b"})

	assert.ErrorIs(t, err, ErrNoTransaction)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxWriterAppend_InsideTransaction(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	orderID := gofakeit.UUID()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO courier.outbox_entries").
		WithArgs(sqlmock.AnyArg(), model.PaymentCommandMessageType, orderID, model.OutboxStatusNew, payloadWithType("CREATE_PAYMENT"), sqlmock.AnyArg(), int64(0)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	writer := NewOutboxWriter(datasource)
	var entry model.OutboxEntry
	err = datasource.RunInTransaction(context.Background(), func(ctx context.Context) error {
		var appendErr error
		entry, appendErr = writer.Append(ctx, model.PaymentCommandMessageType, orderID, model.PaymentCommand{
			ID:   gofakeit.UUID(),
			Type: model.PaymentCommandCreate,
		})
		return appendErr
	})

	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusNew, entry.Status)
	assert.Nil(t, entry.ProcessedAt)
	assert.Contains(t, entry.ID, "obx_")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxWriterAppend_RollsBackWithCaller(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO courier.outbox_entries").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	writer := NewOutboxWriter(datasource)
	businessErr := errors.New("order rejected")
	err = datasource.RunInTransaction(context.Background(), func(ctx context.Context) error {
		if _, err := writer.Append(ctx, "OrderEvent", "order-1", json.RawMessage(`{"ok":true}`)); err != nil {
			return err
		}
		return businessErr
	})

	assert.ErrorIs(t, err, businessErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxWriterAppend_RejectsInvalidRawPayload(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()

	writer := NewOutboxWriter(datasource)
	err = datasource.RunInTransaction(context.Background(), func(ctx context.Context) error {
		_, err := writer.Append(ctx, "OrderEvent", "order-1", []byte("not json"))
		return err
	})

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newOutboxRows(now time.Time, ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows(outboxRowColumns)
	for i, id := range ids {
		rows.AddRow(id, model.PaymentCommandMessageType, "order-"+id, "NEW", []byte(`{"type":"CREATE_PAYMENT"}`), now.Add(time.Duration(i)*time.Second), nil, int64(0))
	}
	return rows
}

func TestOutboxDispatcher_PublishesInCreationOrder(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM courier.outbox_entries WHERE status = \\$1 ORDER BY created_at ASC LIMIT \\$2").
		WithArgs(model.OutboxStatusNew, 50).
		WillReturnRows(newOutboxRows(now, "obx_1", "obx_2", "obx_3"))
	for _, id := range []string{"obx_1", "obx_2", "obx_3"} {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE courier.outbox_entries").
			WithArgs(model.OutboxStatusPublished, now, id, int64(0), model.OutboxStatusNew).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	var delivered []string
	publisher := PublisherFunc(func(ctx context.Context, entry model.OutboxEntry) error {
		delivered = append(delivered, entry.ID)
		return nil
	})

	dispatcher := NewOutboxDispatcher(datasource, publisher, 0)
	dispatcher.now = fixedClock(now)

	published, failed, err := dispatcher.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, published)
	assert.Equal(t, 0, failed)
	assert.Equal(t, []string{"obx_1", "obx_2", "obx_3"}, delivered)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxDispatcher_FailureIsIsolated(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM courier.outbox_entries").
		WithArgs(model.OutboxStatusNew, 10).
		WillReturnRows(newOutboxRows(now, "obx_a", "obx_b"))

	// obx_a: delivery fails, the delivery transaction rolls back and a new
	// one records FAILED.
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE courier.outbox_entries").
		WithArgs(model.OutboxStatusFailed, now, "obx_a", int64(0), model.OutboxStatusNew).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// obx_b: delivered.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE courier.outbox_entries").
		WithArgs(model.OutboxStatusPublished, now, "obx_b", int64(0), model.OutboxStatusNew).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := map[string]int{}
	publisher := PublisherFunc(func(ctx context.Context, entry model.OutboxEntry) error {
		calls[entry.ID]++
		if entry.ID == "obx_a" {
			return errors.New("broker unreachable")
		}
		return nil
	})

	dispatcher := NewOutboxDispatcher(datasource, publisher, 10)
	dispatcher.now = fixedClock(now)

	published, failed, err := dispatcher.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, published)
	assert.Equal(t, 1, failed)
	assert.Equal(t, map[string]int{"obx_a": 1, "obx_b": 1}, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxDispatcher_UnregisteredMessageTypeFails(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM courier.outbox_entries").
		WillReturnRows(newOutboxRows(now, "obx_1"))
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE courier.outbox_entries").
		WithArgs(model.OutboxStatusFailed, now, "obx_1", int64(0), model.OutboxStatusNew).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	dispatcher := NewOutboxDispatcher(datasource, NewPublisherRegistry(), 50)
	dispatcher.now = fixedClock(now)

	published, failed, err := dispatcher.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, published)
	assert.Equal(t, 1, failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxDispatcher_ConcurrentlyProcessedEntryIsSkipped(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM courier.outbox_entries").
		WillReturnRows(newOutboxRows(now, "obx_1"))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE courier.outbox_entries").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	publisher := PublisherFunc(func(ctx context.Context, entry model.OutboxEntry) error { return nil })
	dispatcher := NewOutboxDispatcher(datasource, publisher, 50)

	published, failed, err := dispatcher.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, published)
	assert.Equal(t, 0, failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxDispatcher_ReadFailure(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM courier.outbox_entries").
		WillReturnError(errors.New("connection reset"))

	dispatcher := NewOutboxDispatcher(datasource, NewPublisherRegistry(), 50)
	_, _, err = dispatcher.Dispatch(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublisherRegistry_RoutesByMessageType(t *testing.T) {
	registry := NewPublisherRegistry()

	var mu sync.Mutex
	routed := map[string]string{}
	record := func(name string) Publisher {
		return PublisherFunc(func(ctx context.Context, entry model.OutboxEntry) error {
			mu.Lock()
			defer mu.Unlock()
			routed[entry.ID] = name
			return nil
		})
	}
	registry.Register(model.PaymentCommandMessageType, record("payments"))
	registry.Register(model.RestaurantOrderCommandMessageType, record("restaurants"))

	require.NoError(t, registry.Publish(context.Background(), model.OutboxEntry{ID: "1", MessageType: model.PaymentCommandMessageType}))
	require.NoError(t, registry.Publish(context.Background(), model.OutboxEntry{ID: "2", MessageType: model.RestaurantOrderCommandMessageType}))

	err := registry.Publish(context.Background(), model.OutboxEntry{ID: "3", MessageType: "Unknown"})
	assert.ErrorIs(t, err, ErrPublisherNotRegistered)
	assert.Equal(t, map[string]string{"1": "payments", "2": "restaurants"}, routed)
}
