package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outbox message types for the commands the order saga emits.
const (
	PaymentCommandMessageType         = "PaymentCommand"
	RestaurantOrderCommandMessageType = "RestaurantOrderCommand"
)

type PaymentCommandType string

const (
	PaymentCommandCreate PaymentCommandType = "CREATE_PAYMENT"
	PaymentCommandCancel PaymentCommandType = "CANCEL_PAYMENT"
)

type CreatePayment struct {
	CustomerID string          `json:"customer_id"`
	OrderID    string          `json:"order_id"`
	Price      decimal.Decimal `json:"price"`
	CreatedAt  time.Time       `json:"created_at"`
}

type CancelPayment struct {
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type PaymentCommand struct {
	ID            string             `json:"message_id"`
	Type          PaymentCommandType `json:"type"`
	CreatePayment *CreatePayment     `json:"create_payment,omitempty"`
	CancelPayment *CancelPayment     `json:"cancel_payment,omitempty"`
}

func (c PaymentCommand) MessageID() string { return c.ID }

type RestaurantCommandType string

const RestaurantCommandApproveOrder RestaurantCommandType = "APPROVE_ORDER"

type Product struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

type ApproveOrder struct {
	RestaurantID string          `json:"restaurant_id"`
	OrderID      string          `json:"order_id"`
	Products     []Product       `json:"products"`
	Price        decimal.Decimal `json:"price"`
	CreatedAt    time.Time       `json:"created_at"`
}

type RestaurantOrderCommand struct {
	ID           string                `json:"message_id"`
	Type         RestaurantCommandType `json:"type"`
	ApproveOrder *ApproveOrder         `json:"approve_order,omitempty"`
}

func (c RestaurantOrderCommand) MessageID() string { return c.ID }
