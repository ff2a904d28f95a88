package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/blnkfinance/courier/internal/apierror"
	"github.com/blnkfinance/courier/model"
	"github.com/lib/pq"
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel"
)

const outboxColumns = `id, message_type, message_key, status, payload, created_at, processed_at, version`

func (d Datasource) InsertOutboxEntry(ctx context.Context, entry model.OutboxEntry) error {
	ctx, span := otel.Tracer("courier.database").Start(ctx, "InsertOutboxEntry")
	defer span.End()

	_, err := d.exec(ctx).ExecContext(ctx, `
		INSERT INTO courier.outbox_entries (id, message_type, message_key, status, payload, created_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.MessageType, entry.MessageKey, entry.Status, []byte(entry.Payload), entry.CreatedAt, entry.Version)
	if err != nil {
		span.RecordError(err)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, "Outbox entry with this ID already exists", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to insert outbox entry", err)
	}
	return nil
}

func (d Datasource) GetOutboxEntry(ctx context.Context, id string) (*model.OutboxEntry, error) {
	row := d.exec(ctx).QueryRowContext(ctx, `
		SELECT `+outboxColumns+`
		FROM courier.outbox_entries
		WHERE id = $1
	`, id)

	entry, err := scanOutboxEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Outbox entry with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve outbox entry", err)
	}
	return entry, nil
}

// GetNewOutboxEntries returns up to limit NEW entries, oldest first.
func (d Datasource) GetNewOutboxEntries(ctx context.Context, limit int) ([]model.OutboxEntry, error) {
	ctx, span := otel.Tracer("courier.database").Start(ctx, "GetNewOutboxEntries")
	defer span.End()

	rows, err := d.exec(ctx).QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM courier.outbox_entries
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, model.OutboxStatusNew, limit)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve new outbox entries", err)
	}
	return collectOutboxEntries(rows)
}

func (d Datasource) ListOutboxEntries(ctx context.Context, filter model.OutboxFilter) ([]model.OutboxEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	var (
		rows *sql.Rows
		err  error
	)
	if filter.Status == "" {
		rows, err = d.exec(ctx).QueryContext(ctx, `
			SELECT `+outboxColumns+`
			FROM courier.outbox_entries
			ORDER BY created_at DESC
			LIMIT $1 OFFSET $2
		`, filter.Limit, filter.Offset)
	} else {
		rows, err = d.exec(ctx).QueryContext(ctx, `
			SELECT `+outboxColumns+`
			FROM courier.outbox_entries
			WHERE status = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3
		`, filter.Status, filter.Limit, filter.Offset)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list outbox entries", err)
	}
	return collectOutboxEntries(rows)
}

// MarkOutboxEntry moves a NEW entry to status. The update is guarded by the
// entry version, so an entry that was already moved by someone else yields a
// conflict instead of being overwritten.
func (d Datasource) MarkOutboxEntry(ctx context.Context, entry *model.OutboxEntry, status model.OutboxStatus, processedAt time.Time) error {
	ctx, span := otel.Tracer("courier.database").Start(ctx, "MarkOutboxEntry")
	defer span.End()

	if !status.IsTerminal() {
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("cannot move outbox entry to status %s", status), nil)
	}

	result, err := d.exec(ctx).ExecContext(ctx, `
		UPDATE courier.outbox_entries
		SET status = $1, processed_at = $2, version = version + 1
		WHERE id = $3 AND version = $4 AND status = $5
	`, status, processedAt, entry.ID, entry.Version, model.OutboxStatusNew)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update outbox entry", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("outbox entry %s was modified concurrently or is no longer NEW", entry.ID), nil)
	}

	entry.Status = status
	entry.ProcessedAt = ptr.Time(processedAt)
	entry.Version++
	return nil
}

// DeletePublishedOutboxEntries removes PUBLISHED entries processed before the cutoff.
func (d Datasource) DeletePublishedOutboxEntries(ctx context.Context, before time.Time) (int64, error) {
	result, err := d.exec(ctx).ExecContext(ctx, `
		DELETE FROM courier.outbox_entries
		WHERE status = $1 AND processed_at < $2
	`, model.OutboxStatusPublished, before)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete published outbox entries", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOutboxEntry(row rowScanner) (*model.OutboxEntry, error) {
	var (
		entry       model.OutboxEntry
		payload     []byte
		processedAt sql.NullTime
	)
	err := row.Scan(&entry.ID, &entry.MessageType, &entry.MessageKey, &entry.Status, &payload, &entry.CreatedAt, &processedAt, &entry.Version)
	if err != nil {
		return nil, err
	}
	entry.Payload = payload
	if processedAt.Valid {
		entry.ProcessedAt = ptr.Time(processedAt.Time)
	}
	return &entry, nil
}

func collectOutboxEntries(rows *sql.Rows) ([]model.OutboxEntry, error) {
	defer rows.Close()

	entries := []model.OutboxEntry{}
	for rows.Next() {
		entry, err := scanOutboxEntry(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan outbox entry", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating outbox entries", err)
	}
	return entries, nil
}
