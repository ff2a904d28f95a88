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
	"fmt"

	"github.com/blnkfinance/courier/database"
	"github.com/blnkfinance/courier/internal/apierror"
	"github.com/blnkfinance/courier/model"
	"github.com/sirupsen/logrus"
)

// PaymentEventListener turns payment service events into saga events. It is
// meant to run behind an IdempotentHandler.
type PaymentEventListener struct {
	datasource database.IDataSource
	saga       *SagaDispatcher
}

func NewPaymentEventListener(datasource database.IDataSource, saga *SagaDispatcher) *PaymentEventListener {
	return &PaymentEventListener{datasource: datasource, saga: saga}
}

func (l *PaymentEventListener) Handle(ctx context.Context, event model.PaymentEvent) error {
	switch event.Type {
	case model.PaymentCompleted:
		order, err := orderSnapshot(ctx, l.datasource, event.OrderID)
		if err != nil {
			return err
		}
		return l.saga.Publish(ctx, OrderPaid{Order: order})
	case model.PaymentCancelled:
		order, err := orderSnapshot(ctx, l.datasource, event.OrderID)
		if err != nil {
			return err
		}
		return l.saga.Publish(ctx, OrderCanceled{Order: order})
	case model.PaymentFailed:
		order, err := orderSnapshot(ctx, l.datasource, event.OrderID)
		if err != nil {
			return err
		}
		order.FailureMessages = event.FailureMessages
		return l.saga.Publish(ctx, OrderCanceled{Order: order})
	default:
		logrus.WithFields(logrus.Fields{"order_id": event.OrderID, "type": event.Type}).Warn("unknown payment event type, skipping")
		return nil
	}
}

// RestaurantEventListener turns restaurant service events into saga events.
// It is meant to run behind a PlainHandler.
type RestaurantEventListener struct {
	datasource database.IDataSource
	saga       *SagaDispatcher
}

func NewRestaurantEventListener(datasource database.IDataSource, saga *SagaDispatcher) *RestaurantEventListener {
	return &RestaurantEventListener{datasource: datasource, saga: saga}
}

func (l *RestaurantEventListener) Handle(ctx context.Context, event model.RestaurantOrderEvent) error {
	switch event.Type {
	case model.RestaurantOrderApproved:
		order, err := orderSnapshot(ctx, l.datasource, event.OrderID)
		if err != nil {
			return err
		}
		return l.saga.Publish(ctx, OrderApproved{Order: order})
	case model.RestaurantOrderRejected:
		order, err := orderSnapshot(ctx, l.datasource, event.OrderID)
		if err != nil {
			return err
		}
		order.FailureMessages = event.FailureMessages
		return l.saga.Publish(ctx, OrderCancelInitiated{Order: order})
	default:
		logrus.WithFields(logrus.Fields{"order_id": event.OrderID, "type": event.Type}).Warn("unknown restaurant event type, skipping")
		return nil
	}
}

// orderSnapshot rebuilds the order from the snapshot stored on its saga.
func orderSnapshot(ctx context.Context, datasource database.IDataSource, orderID string) (model.Order, error) {
	saga, err := datasource.GetSagaByOrderID(ctx, orderID)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			return model.Order{}, fmt.Errorf("%w: order %s", ErrSagaNotFound, orderID)
		}
		return model.Order{}, err
	}
	if saga.Order == nil {
		return model.Order{ID: saga.OrderID, CustomerID: saga.CustomerID}, nil
	}
	return *saga.Order, nil
}

// OrderConsumers returns the batch handlers for the payment and restaurant
// event streams.
func (c *Courier) OrderConsumers() (payments BatchHandler, restaurants BatchHandler) {
	paymentListener := NewPaymentEventListener(c.datasource, c.saga)
	restaurantListener := NewRestaurantEventListener(c.datasource, c.saga)
	payments = NewIdempotentHandler("paymentEvent", c.datasource, c.inbox, paymentListener.Handle)
	restaurants = NewPlainHandler("restaurantEvent", c.datasource, restaurantListener.Handle)
	return payments, restaurants
}
