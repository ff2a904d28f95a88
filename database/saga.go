package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blnkfinance/courier/internal/apierror"
	"github.com/blnkfinance/courier/model"
	"github.com/lib/pq"
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel"
)

func (d Datasource) CreateSaga(ctx context.Context, saga model.Saga) error {
	ctx, span := otel.Tracer("courier.database").Start(ctx, "CreateSaga")
	defer span.End()

	var snapshot interface{}
	if saga.Order != nil {
		raw, err := json.Marshal(saga.Order)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInvalidInput, "Failed to encode order snapshot", err)
		}
		snapshot = raw
	}

	_, err := d.exec(ctx).ExecContext(ctx, `
		INSERT INTO courier.sagas (id, order_id, customer_id, status, error_message, order_snapshot, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, saga.ID, saga.OrderID, saga.CustomerID, saga.Status, saga.ErrorMessage, snapshot, saga.CreatedAt, saga.UpdatedAt, saga.Version)
	if err != nil {
		span.RecordError(err)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Saga for order %s already exists", saga.OrderID), err)
			default:
				return apierror.NewAPIError(apierror.ErrInternalServer, "Database error occurred", err)
			}
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create saga", err)
	}
	return nil
}

func (d Datasource) GetSagaByOrderID(ctx context.Context, orderID string) (*model.Saga, error) {
	ctx, span := otel.Tracer("courier.database").Start(ctx, "GetSagaByOrderID")
	defer span.End()

	var (
		saga         model.Saga
		errorMessage sql.NullString
		snapshot     []byte
	)
	err := d.exec(ctx).QueryRowContext(ctx, `
		SELECT id, order_id, customer_id, status, error_message, order_snapshot, created_at, updated_at, version
		FROM courier.sagas
		WHERE order_id = $1
	`, orderID).Scan(&saga.ID, &saga.OrderID, &saga.CustomerID, &saga.Status, &errorMessage, &snapshot, &saga.CreatedAt, &saga.UpdatedAt, &saga.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Saga for order '%s' not found", orderID), err)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve saga", err)
	}
	if errorMessage.Valid {
		saga.ErrorMessage = ptr.String(errorMessage.String)
	}
	if len(snapshot) > 0 {
		var order model.Order
		if err := json.Unmarshal(snapshot, &order); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to decode order snapshot", err)
		}
		saga.Order = &order
	}
	return &saga, nil
}

// UpdateSaga writes the saga's status, error message and updatedAt when the
// stored version still matches saga.Version. On success the version is bumped.
func (d Datasource) UpdateSaga(ctx context.Context, saga *model.Saga) error {
	ctx, span := otel.Tracer("courier.database").Start(ctx, "UpdateSaga")
	defer span.End()

	result, err := d.exec(ctx).ExecContext(ctx, `
		UPDATE courier.sagas
		SET status = $1, error_message = $2, updated_at = $3, version = version + 1
		WHERE id = $4 AND version = $5
	`, saga.Status, saga.ErrorMessage, saga.UpdatedAt, saga.ID, saga.Version)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update saga", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("saga %s was modified concurrently", saga.ID), nil)
	}

	saga.Version++
	return nil
}

// MarkStaleSagasAsFailed fails every PROCESSING or COMPENSATING saga whose
// updatedAt is older than cutoff, in a single statement.
func (d Datasource) MarkStaleSagasAsFailed(ctx context.Context, cutoff, now time.Time, message string) (int64, error) {
	ctx, span := otel.Tracer("courier.database").Start(ctx, "MarkStaleSagasAsFailed")
	defer span.End()

	result, err := d.exec(ctx).ExecContext(ctx, `
		UPDATE courier.sagas
		SET status = $1, error_message = $2, updated_at = $3, version = version + 1
		WHERE status IN ($4, $5) AND updated_at < $6
	`, model.SagaStatusFailed, message, now, model.SagaStatusProcessing, model.SagaStatusCompensating, cutoff)
	if err != nil {
		span.RecordError(err)
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark stale sagas as failed", err)
	}
	return result.RowsAffected()
}
