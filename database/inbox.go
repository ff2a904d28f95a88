package database

import (
	"context"
	"errors"
	"time"

	"github.com/blnkfinance/courier/internal/apierror"
	"github.com/blnkfinance/courier/model"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
)

func (d Datasource) InboxEntryExists(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := d.exec(ctx).QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM courier.inbox_entries WHERE message_id = $1)
	`, messageID).Scan(&exists)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check inbox entry", err)
	}
	return exists, nil
}

// InsertInboxEntry records a processed message. It returns false when a row
// for the message already exists, including one committed by a concurrent
// transaction while this insert was waiting on it.
func (d Datasource) InsertInboxEntry(ctx context.Context, entry model.InboxEntry) (bool, error) {
	ctx, span := otel.Tracer("courier.database").Start(ctx, "InsertInboxEntry")
	defer span.End()

	result, err := d.exec(ctx).ExecContext(ctx, `
		INSERT INTO courier.inbox_entries (message_id, processed_at)
		VALUES ($1, $2)
		ON CONFLICT (message_id) DO NOTHING
	`, entry.MessageID, entry.ProcessedAt)
	if err != nil {
		span.RecordError(err)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return false, nil
		}
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to insert inbox entry", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	return affected == 1, nil
}

func (d Datasource) DeleteInboxEntries(ctx context.Context, before time.Time) (int64, error) {
	result, err := d.exec(ctx).ExecContext(ctx, `
		DELETE FROM courier.inbox_entries
		WHERE processed_at < $1
	`, before)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete inbox entries", err)
	}
	return result.RowsAffected()
}
