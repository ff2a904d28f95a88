package model

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/blnkfinance/courier/model"
)

func (q *ListOutboxQuery) ValidateListOutboxQuery() error {
	return validation.ValidateStruct(q,
		validation.Field(&q.Status, validation.In(
			string(model.OutboxStatusNew),
			string(model.OutboxStatusPublished),
			string(model.OutboxStatusFailed),
		)),
		validation.Field(&q.Limit, validation.Min(0), validation.Max(500)),
		validation.Field(&q.Offset, validation.Min(0)),
	)
}

func positivePrice(value interface{}) error {
	price, ok := value.(decimal.Decimal)
	if !ok {
		return errors.New("invalid price type")
	}
	if !price.IsPositive() {
		return errors.New("must be greater than zero")
	}
	return nil
}

func (i CreateOrderItem) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.ProductID, validation.Required),
		validation.Field(&i.Quantity, validation.Required, validation.Min(1)),
	)
}

func (o *CreateOrder) ValidateCreateOrder() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.OrderID, validation.Required),
		validation.Field(&o.CustomerID, validation.Required),
		validation.Field(&o.RestaurantID, validation.Required),
		validation.Field(&o.Price, validation.By(positivePrice)),
		validation.Field(&o.Items, validation.Required),
	)
}
