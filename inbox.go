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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blnkfinance/courier/database"
	"github.com/blnkfinance/courier/internal/apierror"
	"github.com/blnkfinance/courier/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

// ErrInvalidBatch is returned for a batch whose slices are not index aligned.
var ErrInvalidBatch = errors.New("courier: payloads, keys, partitions and offsets must have the same length")

// InboxService applies inbound messages at most once, keyed by message id.
type InboxService struct {
	datasource database.IDataSource
	now        func() time.Time
}

func NewInboxService(datasource database.IDataSource) *InboxService {
	return &InboxService{datasource: datasource, now: func() time.Time { return time.Now().UTC() }}
}

// ProcessIfNotExists runs fn unless messageID was already recorded. The
// record is inserted before fn runs and both share one transaction, so a
// failing fn leaves no record behind. When a concurrent delivery of the same
// message wins the insert, fn is skipped. processed reports whether fn ran.
func (s *InboxService) ProcessIfNotExists(ctx context.Context, messageID string, fn func(ctx context.Context) error) (processed bool, err error) {
	if messageID == "" {
		return false, apierror.NewAPIError(apierror.ErrInvalidInput, "message id is required", nil)
	}

	ctx, span := otel.Tracer("courier.inbox").Start(ctx, "ProcessIfNotExists")
	defer span.End()

	err = s.datasource.RunInTransaction(ctx, func(txCtx context.Context) error {
		exists, err := s.datasource.InboxEntryExists(txCtx, messageID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		inserted, err := s.datasource.InsertInboxEntry(txCtx, model.InboxEntry{MessageID: messageID, ProcessedAt: s.now()})
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		if err := fn(txCtx); err != nil {
			return err
		}
		processed = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	if !processed {
		logrus.WithField("message_id", messageID).Debug("duplicate message skipped")
	}
	return processed, nil
}

// MessageBatch is a broker delivery. The four slices are index aligned.
type MessageBatch struct {
	Payloads   [][]byte
	Keys       []string
	Partitions []int
	Offsets    []int64
}

func (b MessageBatch) Len() int { return len(b.Payloads) }

func (b MessageBatch) Validate() error {
	n := len(b.Payloads)
	if len(b.Keys) != n || len(b.Partitions) != n || len(b.Offsets) != n {
		return fmt.Errorf("%w: %d payloads, %d keys, %d partitions, %d offsets",
			ErrInvalidBatch, n, len(b.Keys), len(b.Partitions), len(b.Offsets))
	}
	return nil
}

func (b MessageBatch) fallbackID(i int) string {
	return fmt.Sprintf("%s-%d-%d", b.Keys[i], b.Partitions[i], b.Offsets[i])
}

// Identifiable is implemented by messages that carry their own id.
type Identifiable interface {
	MessageID() string
}

// MessageIDFor returns the id a message is deduplicated by: its own id when
// it has a non-empty one, otherwise key-partition-offset.
func MessageIDFor(msg any, batch MessageBatch, i int) string {
	if m, ok := msg.(Identifiable); ok {
		if id := m.MessageID(); id != "" {
			return id
		}
	}
	return batch.fallbackID(i)
}

// BatchHandler consumes broker batches.
type BatchHandler interface {
	HandleBatch(ctx context.Context, batch MessageBatch) error
}

// IdempotentHandler decodes each message of a batch into T and applies it
// through the inbox, one transaction per message.
type IdempotentHandler[T any] struct {
	name       string
	datasource database.IDataSource
	inbox      *InboxService
	handle     func(ctx context.Context, msg T) error
}

func NewIdempotentHandler[T any](name string, datasource database.IDataSource, inbox *InboxService, handle func(ctx context.Context, msg T) error) *IdempotentHandler[T] {
	return &IdempotentHandler[T]{name: name, datasource: datasource, inbox: inbox, handle: handle}
}

// HandleBatch processes every message independently. Failures are collected
// and returned together after the whole batch was attempted; messages that
// succeeded stay committed. Payloads that cannot be decoded are logged and
// skipped.
func (h *IdempotentHandler[T]) HandleBatch(ctx context.Context, batch MessageBatch) error {
	if err := batch.Validate(); err != nil {
		return err
	}

	var errs []error
	for i, payload := range batch.Payloads {
		var msg T
		if err := json.Unmarshal(payload, &msg); err != nil {
			logBatchMessage(h.name, batch, i).Errorf("dropping undecodable message: %v", err)
			continue
		}

		messageID := MessageIDFor(&msg, batch, i)
		err := h.datasource.RunInNewTransaction(ctx, func(txCtx context.Context) error {
			_, err := h.inbox.ProcessIfNotExists(txCtx, messageID, func(ctx context.Context) error {
				return h.handle(ctx, msg)
			})
			return err
		})
		if err != nil {
			logBatchMessage(h.name, batch, i).WithField("message_id", messageID).Errorf("message handling failed: %v", err)
			errs = append(errs, fmt.Errorf("%s message %s: %w", h.name, messageID, err))
		}
	}
	return errors.Join(errs...)
}

// PlainHandler decodes each message of a batch into T and applies it in its
// own transaction without deduplication.
type PlainHandler[T any] struct {
	name       string
	datasource database.IDataSource
	handle     func(ctx context.Context, msg T) error
}

func NewPlainHandler[T any](name string, datasource database.IDataSource, handle func(ctx context.Context, msg T) error) *PlainHandler[T] {
	return &PlainHandler[T]{name: name, datasource: datasource, handle: handle}
}

func (h *PlainHandler[T]) HandleBatch(ctx context.Context, batch MessageBatch) error {
	if err := batch.Validate(); err != nil {
		return err
	}

	var errs []error
	for i, payload := range batch.Payloads {
		var msg T
		if err := json.Unmarshal(payload, &msg); err != nil {
			logBatchMessage(h.name, batch, i).Errorf("dropping undecodable message: %v", err)
			continue
		}

		err := h.datasource.RunInNewTransaction(ctx, func(txCtx context.Context) error {
			return h.handle(txCtx, msg)
		})
		if err != nil {
			logBatchMessage(h.name, batch, i).Errorf("message handling failed: %v", err)
			errs = append(errs, fmt.Errorf("%s message at offset %d: %w", h.name, batch.Offsets[i], err))
		}
	}
	return errors.Join(errs...)
}

func logBatchMessage(handler string, batch MessageBatch, i int) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"handler":   handler,
		"key":       batch.Keys[i],
		"partition": batch.Partitions[i],
		"offset":    batch.Offsets[i],
	})
}
