package model

import "github.com/shopspring/decimal"

type BasketItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Order is the snapshot of an order carried by saga events. The order
// aggregate itself is owned by the surrounding service.
type Order struct {
	ID              string          `json:"id"`
	CustomerID      string          `json:"customer_id"`
	RestaurantID    string          `json:"restaurant_id"`
	Price           decimal.Decimal `json:"price"`
	Basket          []BasketItem    `json:"basket"`
	FailureMessages []string        `json:"failure_messages,omitempty"`
}
