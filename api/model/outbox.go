package model

import "github.com/blnkfinance/courier/model"

type ListOutboxQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

func (q ListOutboxQuery) ToOutboxFilter() model.OutboxFilter {
	return model.OutboxFilter{
		Status: model.OutboxStatus(q.Status),
		Limit:  q.Limit,
		Offset: q.Offset,
	}
}

type ReapSagasResponse struct {
	Failed int64 `json:"failed"`
}
