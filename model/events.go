package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentEventType string

const (
	PaymentCompleted PaymentEventType = "PAYMENT_COMPLETED"
	PaymentCancelled PaymentEventType = "PAYMENT_CANCELLED"
	PaymentFailed    PaymentEventType = "PAYMENT_FAILED"
)

// PaymentEvent is published by the payment service.
type PaymentEvent struct {
	ID              string           `json:"message_id"`
	Type            PaymentEventType `json:"type"`
	PaymentID       string           `json:"payment_id"`
	OrderID         string           `json:"order_id"`
	CustomerID      string           `json:"customer_id"`
	Price           decimal.Decimal  `json:"price"`
	FailureMessages []string         `json:"failure_messages,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

func (e PaymentEvent) MessageID() string { return e.ID }

type RestaurantOrderEventType string

const (
	RestaurantOrderApproved RestaurantOrderEventType = "ORDER_APPROVED"
	RestaurantOrderRejected RestaurantOrderEventType = "ORDER_REJECTED"
)

// RestaurantOrderEvent is published by the restaurant service. It carries no
// message id of its own.
type RestaurantOrderEvent struct {
	Type            RestaurantOrderEventType `json:"type"`
	RestaurantID    string                   `json:"restaurant_id"`
	OrderID         string                   `json:"order_id"`
	FailureMessages []string                 `json:"failure_messages,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
}
