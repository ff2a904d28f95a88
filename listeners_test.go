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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/blnkfinance/courier/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectSagaWithSnapshot(t *testing.T, mock sqlmock.Sqlmock, order model.Order, status model.SagaStatus, version int64) {
	snapshot, err := json.Marshal(order)
	require.NoError(t, err)
	now := time.Now().UTC().Add(-time.Minute)
	mock.ExpectQuery("SELECT (.+) FROM courier.sagas WHERE order_id = \\$1").
		WithArgs(order.ID).
		WillReturnRows(sqlmock.NewRows(sagaRowColumns).
			AddRow("sga_"+order.ID, order.ID, order.CustomerID, string(status), nil, snapshot, now, now, version))
}

func TestPaymentEventListener_CompletedPaysOrder(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	order := testOrder()
	mock.ExpectBegin()
	expectSagaWithSnapshot(t, mock, order, model.SagaStatusProcessing, 0)
	expectSagaWithSnapshot(t, mock, order, model.SagaStatusProcessing, 0)
	mock.ExpectExec("UPDATE courier.sagas").
		WithArgs(model.SagaStatusProcessing, nil, sqlmock.AnyArg(), "sga_"+order.ID, int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO courier.outbox_entries").
		WithArgs(sqlmock.AnyArg(), model.RestaurantOrderCommandMessageType, order.ID, model.OutboxStatusNew, jsonPayload{check: func(doc map[string]interface{}) bool {
			approve, ok := doc["approve_order"].(map[string]interface{})
			return ok && approve["restaurant_id"] == order.RestaurantID && approve["price"] == order.Price.String()
		}}, sqlmock.AnyArg(), int64(0)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	listener := NewPaymentEventListener(datasource, newTestSagaDispatcher(datasource))
	err = datasource.RunInTransaction(context.Background(), func(ctx context.Context) error {
		return listener.Handle(ctx, model.PaymentEvent{ID: "pay-evt-1", Type: model.PaymentCompleted, OrderID: order.ID})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentEventListener_FailedCancelsOrder(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	order := testOrder()
	mock.ExpectBegin()
	expectSagaWithSnapshot(t, mock, order, model.SagaStatusCompensating, 2)
	expectSagaWithSnapshot(t, mock, order, model.SagaStatusCompensating, 2)
	mock.ExpectExec("UPDATE courier.sagas").
		WithArgs(model.SagaStatusCompensated, "insufficient funds, card expired", sqlmock.AnyArg(), "sga_"+order.ID, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	listener := NewPaymentEventListener(datasource, newTestSagaDispatcher(datasource))
	err = datasource.RunInTransaction(context.Background(), func(ctx context.Context) error {
		return listener.Handle(ctx, model.PaymentEvent{
			ID:              "pay-evt-2",
			Type:            model.PaymentFailed,
			OrderID:         order.ID,
			FailureMessages: []string{"insufficient funds", "card expired"},
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentEventListener_UnknownTypeIsSkipped(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	listener := NewPaymentEventListener(datasource, newTestSagaDispatcher(datasource))
	err = listener.Handle(context.Background(), model.PaymentEvent{Type: "PAYMENT_REFUNDED", OrderID: "order-1"})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestaurantEventListener_RejectedStartsCompensation(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	order := testOrder()
	mock.ExpectBegin()
	expectSagaWithSnapshot(t, mock, order, model.SagaStatusProcessing, 1)
	expectSagaWithSnapshot(t, mock, order, model.SagaStatusProcessing, 1)
	mock.ExpectExec("UPDATE courier.sagas").
		WithArgs(model.SagaStatusCompensating, "product unavailable", sqlmock.AnyArg(), "sga_"+order.ID, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO courier.outbox_entries").
		WithArgs(sqlmock.AnyArg(), model.PaymentCommandMessageType, order.ID, model.OutboxStatusNew, payloadWithType("CANCEL_PAYMENT"), sqlmock.AnyArg(), int64(0)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	listener := NewRestaurantEventListener(datasource, newTestSagaDispatcher(datasource))
	err = datasource.RunInTransaction(context.Background(), func(ctx context.Context) error {
		return listener.Handle(ctx, model.RestaurantOrderEvent{
			Type:            model.RestaurantOrderRejected,
			OrderID:         order.ID,
			FailureMessages: []string{"product unavailable"},
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderConsumers_PaymentEventsAreDeduplicated(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	c, err := NewCourier(datasource)
	require.NoError(t, err)
	payments, _ := c.OrderConsumers()

	mock.ExpectBegin()
	expectInboxCheck(mock, "pay-evt-1", true)
	mock.ExpectCommit()

	batch := MessageBatch{
		Payloads:   [][]byte{[]byte(`{"message_id":"pay-evt-1","type":"PAYMENT_COMPLETED","order_id":"order-1"}`)},
		Keys:       []string{"order-1"},
		Partitions: []int{0},
		Offsets:    []int64{5},
	}
	require.NoError(t, payments.HandleBatch(context.Background(), batch))
	assert.NoError(t, mock.ExpectationsWereMet())
}
