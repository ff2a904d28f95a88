/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package courier

import (
	"context"
	"fmt"
	"time"

	"github.com/blnkfinance/courier/database"
	"github.com/blnkfinance/courier/internal/apierror"
	"github.com/blnkfinance/courier/internal/notification"
	"github.com/blnkfinance/courier/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// OutboxDispatcher delivers NEW outbox entries and records the outcome.
type OutboxDispatcher struct {
	datasource database.IDataSource
	publisher  Publisher
	batchSize  int
	now        func() time.Time
}

func NewOutboxDispatcher(datasource database.IDataSource, publisher Publisher, batchSize int) *OutboxDispatcher {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &OutboxDispatcher{
		datasource: datasource,
		publisher:  publisher,
		batchSize:  batchSize,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch runs one cycle over the oldest NEW entries. Each entry is
// delivered and marked PUBLISHED in its own transaction. An entry whose
// delivery fails is marked FAILED in a separate transaction and the cycle
// moves on to the next one. The returned error is set only when the batch
// could not be read.
func (d *OutboxDispatcher) Dispatch(ctx context.Context) (published, failed int, err error) {
	ctx, span := otel.Tracer("courier.outbox").Start(ctx, "Dispatch")
	defer span.End()

	entries, err := d.datasource.GetNewOutboxEntries(ctx, d.batchSize)
	if err != nil {
		span.RecordError(err)
		return 0, 0, err
	}
	span.SetAttributes(attribute.Int("outbox.batch_size", len(entries)))

	for _, entry := range entries {
		deliverErr := d.deliver(ctx, entry)
		if deliverErr == nil {
			published++
			continue
		}

		if apierror.HasCode(deliverErr, apierror.ErrConflict) {
			logrus.WithField("entry_id", entry.ID).Warn("outbox entry already processed elsewhere, skipping")
			continue
		}

		logrus.WithFields(logrus.Fields{
			"entry_id":     entry.ID,
			"message_type": entry.MessageType,
			"message_key":  entry.MessageKey,
		}).Errorf("outbox delivery failed: %v", deliverErr)

		if markErr := d.markFailed(ctx, entry); markErr != nil {
			logrus.WithField("entry_id", entry.ID).Errorf("failed to mark outbox entry as FAILED: %v", markErr)
			continue
		}
		failed++
		notification.NotifyError(fmt.Errorf("outbox entry %s (%s) marked FAILED: %w", entry.ID, entry.MessageType, deliverErr))
	}

	if published > 0 || failed > 0 {
		logrus.Infof("outbox dispatch cycle: %d published, %d failed", published, failed)
	}
	return published, failed, nil
}

func (d *OutboxDispatcher) deliver(ctx context.Context, entry model.OutboxEntry) error {
	return d.datasource.RunInNewTransaction(ctx, func(txCtx context.Context) error {
		if err := d.publisher.Publish(txCtx, entry); err != nil {
			return err
		}
		return d.datasource.MarkOutboxEntry(txCtx, &entry, model.OutboxStatusPublished, d.now())
	})
}

// markFailed records the failure in a fresh transaction so that it survives
// the rollback of the delivery transaction.
func (d *OutboxDispatcher) markFailed(ctx context.Context, entry model.OutboxEntry) error {
	return d.datasource.RunInNewTransaction(ctx, func(txCtx context.Context) error {
		return d.datasource.MarkOutboxEntry(txCtx, &entry, model.OutboxStatusFailed, d.now())
	})
}
