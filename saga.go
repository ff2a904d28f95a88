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
	"fmt"
	"time"

	"github.com/blnkfinance/courier/database"
	"github.com/blnkfinance/courier/internal/apierror"
	"github.com/blnkfinance/courier/model"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrSagaNotFound     = errors.New("courier: saga not found")
	ErrUnsupportedEvent = errors.New("courier: unsupported saga event")
	ErrStaleSaga        = errors.New("courier: saga was modified concurrently")
)

// Saga event kinds, as carried on the wire.
const (
	KindOrderCreated         = "OrderCreated"
	KindOrderPaid            = "OrderPaid"
	KindOrderApproved        = "OrderApproved"
	KindOrderCancelInitiated = "OrderCancelInitiated"
	KindOrderCanceled        = "OrderCanceled"
)

// SagaEvent is one of OrderCreated, OrderPaid, OrderApproved,
// OrderCancelInitiated or OrderCanceled.
type SagaEvent interface {
	Kind() string
	OrderID() string
	isSagaEvent()
}

type OrderCreated struct {
	Order model.Order `json:"order"`
}

type OrderPaid struct {
	Order model.Order `json:"order"`
}

type OrderApproved struct {
	Order model.Order `json:"order"`
}

type OrderCancelInitiated struct {
	Order model.Order `json:"order"`
}

type OrderCanceled struct {
	Order model.Order `json:"order"`
}

func (OrderCreated) Kind() string         { return KindOrderCreated }
func (OrderPaid) Kind() string            { return KindOrderPaid }
func (OrderApproved) Kind() string        { return KindOrderApproved }
func (OrderCancelInitiated) Kind() string { return KindOrderCancelInitiated }
func (OrderCanceled) Kind() string        { return KindOrderCanceled }

func (e OrderCreated) OrderID() string         { return e.Order.ID }
func (e OrderPaid) OrderID() string            { return e.Order.ID }
func (e OrderApproved) OrderID() string        { return e.Order.ID }
func (e OrderCancelInitiated) OrderID() string { return e.Order.ID }
func (e OrderCanceled) OrderID() string        { return e.Order.ID }

func (OrderCreated) isSagaEvent()         {}
func (OrderPaid) isSagaEvent()            {}
func (OrderApproved) isSagaEvent()        {}
func (OrderCancelInitiated) isSagaEvent() {}
func (OrderCanceled) isSagaEvent()        {}

// DecodeSagaEvent decodes a wire event of the given kind.
func DecodeSagaEvent(kind string, raw []byte) (SagaEvent, error) {
	var (
		event SagaEvent
		err   error
	)
	switch kind {
	case KindOrderCreated:
		var e OrderCreated
		err = json.Unmarshal(raw, &e)
		event = e
	case KindOrderPaid:
		var e OrderPaid
		err = json.Unmarshal(raw, &e)
		event = e
	case KindOrderApproved:
		var e OrderApproved
		err = json.Unmarshal(raw, &e)
		event = e
	case KindOrderCancelInitiated:
		var e OrderCancelInitiated
		err = json.Unmarshal(raw, &e)
		event = e
	case KindOrderCanceled:
		var e OrderCanceled
		err = json.Unmarshal(raw, &e)
		event = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, kind)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("failed to decode %s event", kind), err)
	}
	return event, nil
}

// SagaDispatcher drives the order saga. Every transition runs in the caller's
// transaction and records the next command through the outbox, so the saga
// state and the command it implies commit together.
type SagaDispatcher struct {
	datasource database.IDataSource
	outbox     *OutboxWriter
	now        func() time.Time
}

func NewSagaDispatcher(datasource database.IDataSource, outbox *OutboxWriter) *SagaDispatcher {
	return &SagaDispatcher{datasource: datasource, outbox: outbox, now: func() time.Time { return time.Now().UTC() }}
}

// Publish applies event to the saga of its order.
func (d *SagaDispatcher) Publish(ctx context.Context, event SagaEvent) error {
	if !database.HasTransaction(ctx) {
		return ErrNoTransaction
	}
	if event == nil {
		return fmt.Errorf("%w: nil event", ErrUnsupportedEvent)
	}

	ctx, span := otel.Tracer("courier.saga").Start(ctx, "Publish")
	defer span.End()
	span.SetAttributes(attribute.String("saga.event", event.Kind()), attribute.String("saga.order_id", event.OrderID()))

	var err error
	switch e := event.(type) {
	case OrderCreated:
		err = d.onCreated(ctx, e)
	case OrderPaid:
		err = d.onPaid(ctx, e)
	case OrderApproved:
		err = d.onApproved(ctx, e)
	case OrderCancelInitiated:
		err = d.onCancelInitiated(ctx, e)
	case OrderCanceled:
		err = d.onCanceled(ctx, e)
	default:
		err = fmt.Errorf("%w: %T", ErrUnsupportedEvent, event)
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (d *SagaDispatcher) onCreated(ctx context.Context, e OrderCreated) error {
	saga := model.NewOrderSaga(e.Order)
	if err := d.datasource.CreateSaga(ctx, saga); err != nil {
		return err
	}

	cmd := model.PaymentCommand{
		ID:   uuid.NewString(),
		Type: model.PaymentCommandCreate,
		CreatePayment: &model.CreatePayment{
			CustomerID: e.Order.CustomerID,
			OrderID:    e.Order.ID,
			Price:      e.Order.Price,
			CreatedAt:  d.now(),
		},
	}
	if _, err := d.outbox.Append(ctx, model.PaymentCommandMessageType, e.Order.ID, cmd); err != nil {
		return err
	}

	logSaga(&saga).Info("order saga started")
	return nil
}

func (d *SagaDispatcher) onPaid(ctx context.Context, e OrderPaid) error {
	saga, err := d.load(ctx, e.Order.ID)
	if err != nil || saga == nil {
		return err
	}

	saga.Transition(model.SagaStatusProcessing, nil)
	if err := d.save(ctx, saga); err != nil {
		return err
	}

	products := make([]model.Product, 0, len(e.Order.Basket))
	for _, item := range e.Order.Basket {
		products = append(products, model.Product{ID: item.ProductID, Quantity: item.Quantity})
	}
	cmd := model.RestaurantOrderCommand{
		ID:   uuid.NewString(),
		Type: model.RestaurantCommandApproveOrder,
		ApproveOrder: &model.ApproveOrder{
			RestaurantID: e.Order.RestaurantID,
			OrderID:      e.Order.ID,
			Products:     products,
			Price:        e.Order.Price,
			CreatedAt:    d.now(),
		},
	}
	if _, err := d.outbox.Append(ctx, model.RestaurantOrderCommandMessageType, e.Order.ID, cmd); err != nil {
		return err
	}

	logSaga(saga).Info("order paid, restaurant approval requested")
	return nil
}

func (d *SagaDispatcher) onApproved(ctx context.Context, e OrderApproved) error {
	saga, err := d.load(ctx, e.Order.ID)
	if err != nil || saga == nil {
		return err
	}

	saga.Transition(model.SagaStatusSucceeded, nil)
	if err := d.save(ctx, saga); err != nil {
		return err
	}

	logSaga(saga).Info("order saga succeeded")
	return nil
}

func (d *SagaDispatcher) onCancelInitiated(ctx context.Context, e OrderCancelInitiated) error {
	saga, err := d.load(ctx, e.Order.ID)
	if err != nil || saga == nil {
		return err
	}

	message := model.MergeErrorMessages(saga.ErrorText(), model.JoinFailureMessages(e.Order.FailureMessages))
	saga.Transition(model.SagaStatusCompensating, ptr.String(message))
	if err := d.save(ctx, saga); err != nil {
		return err
	}

	cmd := model.PaymentCommand{
		ID:   uuid.NewString(),
		Type: model.PaymentCommandCancel,
		CancelPayment: &model.CancelPayment{
			OrderID:    e.Order.ID,
			CustomerID: e.Order.CustomerID,
			CreatedAt:  d.now(),
		},
	}
	if _, err := d.outbox.Append(ctx, model.PaymentCommandMessageType, e.Order.ID, cmd); err != nil {
		return err
	}

	logSaga(saga).Warn("order saga compensating")
	return nil
}

func (d *SagaDispatcher) onCanceled(ctx context.Context, e OrderCanceled) error {
	saga, err := d.load(ctx, e.Order.ID)
	if err != nil || saga == nil {
		return err
	}

	message := model.MergeErrorMessages(saga.ErrorText(), model.JoinFailureMessages(e.Order.FailureMessages))
	var errorMessage *string
	if message != "" {
		errorMessage = ptr.String(message)
	}
	saga.Transition(model.SagaStatusCompensated, errorMessage)
	if err := d.save(ctx, saga); err != nil {
		return err
	}

	logSaga(saga).Warn("order saga compensated")
	return nil
}

// load fetches the saga of orderID. A missing saga is an error. A saga that
// already reached a terminal status yields (nil, nil) and the event is
// dropped.
func (d *SagaDispatcher) load(ctx context.Context, orderID string) (*model.Saga, error) {
	saga, err := d.datasource.GetSagaByOrderID(ctx, orderID)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			return nil, fmt.Errorf("%w: order %s", ErrSagaNotFound, orderID)
		}
		return nil, err
	}
	if saga.Status.IsTerminal() {
		logSaga(saga).Warn("event for finished saga ignored")
		return nil, nil
	}
	return saga, nil
}

func (d *SagaDispatcher) save(ctx context.Context, saga *model.Saga) error {
	if err := d.datasource.UpdateSaga(ctx, saga); err != nil {
		if apierror.HasCode(err, apierror.ErrConflict) {
			return fmt.Errorf("%w: order %s: %w", ErrStaleSaga, saga.OrderID, err)
		}
		return err
	}
	return nil
}

func logSaga(saga *model.Saga) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"saga_id":  saga.ID,
		"order_id": saga.OrderID,
		"status":   saga.Status,
	})
}
