package model

import "time"

type SagaStatus string

const (
	SagaStatusProcessing   SagaStatus = "PROCESSING"
	SagaStatusCompensating SagaStatus = "COMPENSATING"
	SagaStatusCompensated  SagaStatus = "COMPENSATED"
	SagaStatusSucceeded    SagaStatus = "SUCCEEDED"
	SagaStatusFailed       SagaStatus = "FAILED"
)

// SagaTimeoutMessage is recorded on sagas failed by the timeout reaper.
const SagaTimeoutMessage = "Saga timeout after 10 minutes"

func (s SagaStatus) IsTerminal() bool {
	switch s {
	case SagaStatusCompensated, SagaStatusSucceeded, SagaStatusFailed:
		return true
	}
	return false
}

type Saga struct {
	ID           string     `json:"id"`
	OrderID      string     `json:"order_id"`
	CustomerID   string     `json:"customer_id"`
	Status       SagaStatus `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	Order        *Order     `json:"order,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Version      int64      `json:"version"`
}

// NewSaga starts a PROCESSING saga for an order.
func NewSaga(orderID, customerID string) Saga {
	now := time.Now().UTC()
	return Saga{
		ID:         GenerateUUIDWithSuffix("sga"),
		OrderID:    orderID,
		CustomerID: customerID,
		Status:     SagaStatusProcessing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NewOrderSaga starts a saga that keeps a snapshot of the order it drives.
// Later steps build their commands from the snapshot.
func NewOrderSaga(order Order) Saga {
	saga := NewSaga(order.ID, order.CustomerID)
	snapshot := order
	snapshot.FailureMessages = nil
	saga.Order = &snapshot
	return saga
}

// ErrorText returns the error message or an empty string.
func (s *Saga) ErrorText() string {
	if s.ErrorMessage == nil {
		return ""
	}
	return *s.ErrorMessage
}

// Transition moves the saga to status and refreshes updatedAt. The new
// timestamp never goes backwards relative to the stored one.
func (s *Saga) Transition(status SagaStatus, errorMessage *string) {
	now := time.Now().UTC()
	if !now.After(s.UpdatedAt) {
		now = s.UpdatedAt.Add(time.Microsecond)
	}
	s.Status = status
	if errorMessage != nil {
		s.ErrorMessage = errorMessage
	}
	s.UpdatedAt = now
}
