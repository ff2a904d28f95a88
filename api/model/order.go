package model

import (
	"github.com/blnkfinance/courier/model"
	"github.com/shopspring/decimal"
)

type CreateOrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CreateOrder struct {
	OrderID      string            `json:"order_id"`
	CustomerID   string            `json:"customer_id"`
	RestaurantID string            `json:"restaurant_id"`
	Price        decimal.Decimal   `json:"price"`
	Items        []CreateOrderItem `json:"items"`
}

func (o CreateOrder) ToOrder() model.Order {
	basket := make([]model.BasketItem, 0, len(o.Items))
	for _, item := range o.Items {
		basket = append(basket, model.BasketItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return model.Order{
		ID:           o.OrderID,
		CustomerID:   o.CustomerID,
		RestaurantID: o.RestaurantID,
		Price:        o.Price,
		Basket:       basket,
	}
}
