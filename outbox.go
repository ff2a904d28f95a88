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

	"github.com/blnkfinance/courier/database"
	"github.com/blnkfinance/courier/internal/apierror"
	"github.com/blnkfinance/courier/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

// ErrNoTransaction is returned by operations that must run inside the
// caller's transaction when ctx carries none.
var ErrNoTransaction = errors.New("courier: operation requires an active transaction")

// OutboxWriter journals outbound messages in the caller's transaction. The
// message is delivered later by the OutboxDispatcher, never synchronously.
type OutboxWriter struct {
	datasource database.IDataSource
}

func NewOutboxWriter(datasource database.IDataSource) *OutboxWriter {
	return &OutboxWriter{datasource: datasource}
}

// Append inserts a NEW outbox entry. Payloads that are already encoded
// (json.RawMessage or []byte) are stored as is; anything else is JSON encoded.
func (w *OutboxWriter) Append(ctx context.Context, messageType, messageKey string, payload any) (model.OutboxEntry, error) {
	if !database.HasTransaction(ctx) {
		return model.OutboxEntry{}, ErrNoTransaction
	}
	if messageType == "" {
		return model.OutboxEntry{}, apierror.NewAPIError(apierror.ErrInvalidInput, "message type is required", nil)
	}

	ctx, span := otel.Tracer("courier.outbox").Start(ctx, "Append")
	defer span.End()

	raw, err := encodePayload(payload)
	if err != nil {
		span.RecordError(err)
		return model.OutboxEntry{}, apierror.NewAPIError(apierror.ErrInvalidInput, "failed to encode outbox payload", err)
	}

	entry := model.NewOutboxEntry(messageType, messageKey, raw)
	if err := w.datasource.InsertOutboxEntry(ctx, entry); err != nil {
		span.RecordError(err)
		return model.OutboxEntry{}, err
	}

	logrus.WithFields(logrus.Fields{
		"entry_id":     entry.ID,
		"message_type": messageType,
		"message_key":  messageKey,
	}).Debug("outbox entry appended")
	return entry, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, errors.New("payload is not valid JSON")
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, errors.New("payload is not valid JSON")
		}
		return json.RawMessage(p), nil
	default:
		return json.Marshal(payload)
	}
}
