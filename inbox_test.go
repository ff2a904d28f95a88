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
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectInboxCheck(mock sqlmock.Sqlmock, messageID string, exists bool) {
	mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM courier.inbox_entries WHERE message_id = \\$1\\)").
		WithArgs(messageID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(exists))
}

func expectInboxInsert(mock sqlmock.Sqlmock, messageID string, inserted bool) {
	affected := int64(0)
	if inserted {
		affected = 1
	}
	mock.ExpectExec("INSERT INTO courier.inbox_entries").
		WithArgs(messageID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, affected))
}

func TestProcessIfNotExists_RunsCallbackOnce(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	mock.ExpectBegin()
	expectInboxCheck(mock, "msg-1", false)
	expectInboxInsert(mock, "msg-1", true)
	mock.ExpectCommit()

	mock.ExpectBegin()
	expectInboxCheck(mock, "msg-1", true)
	mock.ExpectCommit()

	inbox := NewInboxService(datasource)
	calls := 0
	callback := func(ctx context.Context) error {
		calls++
		return nil
	}

	processed, err := inbox.ProcessIfNotExists(context.Background(), "msg-1", callback)
	require.NoError(t, err)
	assert.True(t, processed)

	processed, err = inbox.ProcessIfNotExists(context.Background(), "msg-1", callback)
	require.NoError(t, err)
	assert.False(t, processed)

	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessIfNotExists_LostInsertRaceSkipsCallback(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	mock.ExpectBegin()
	expectInboxCheck(mock, "msg-2", false)
	expectInboxInsert(mock, "msg-2", false)
	mock.ExpectCommit()

	inbox := NewInboxService(datasource)
	processed, err := inbox.ProcessIfNotExists(context.Background(), "msg-2", func(ctx context.Context) error {
		t.Fatal("callback must not run for a message recorded by a concurrent delivery")
		return nil
	})

	require.NoError(t, err)
	assert.False(t, processed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessIfNotExists_CallbackFailureRollsBack(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	mock.ExpectBegin()
	expectInboxCheck(mock, "msg-3", false)
	expectInboxInsert(mock, "msg-3", true)
	mock.ExpectRollback()

	inbox := NewInboxService(datasource)
	callbackErr := errors.New("saga not found")
	processed, err := inbox.ProcessIfNotExists(context.Background(), "msg-3", func(ctx context.Context) error {
		return callbackErr
	})

	assert.ErrorIs(t, err, callbackErr)
	assert.False(t, processed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessIfNotExists_DistinctIDs(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	ids := []string{"msg-a", "msg-b", "msg-c"}
	for _, id := range ids {
		mock.ExpectBegin()
		expectInboxCheck(mock, id, false)
		expectInboxInsert(mock, id, true)
		mock.ExpectCommit()
	}

	inbox := NewInboxService(datasource)
	calls := map[string]int{}
	for _, id := range ids {
		id := id
		processed, err := inbox.ProcessIfNotExists(context.Background(), id, func(ctx context.Context) error {
			calls[id]++
			return nil
		})
		require.NoError(t, err)
		assert.True(t, processed)
	}

	assert.Equal(t, map[string]int{"msg-a": 1, "msg-b": 1, "msg-c": 1}, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessIfNotExists_RequiresMessageID(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	_, err = NewInboxService(datasource).ProcessIfNotExists(context.Background(), "", func(ctx context.Context) error { return nil })
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type testMessage struct {
	ID    string `json:"message_id"`
	Value string `json:"value"`
}

func (m testMessage) MessageID() string { return m.ID }

func TestMessageIDFor(t *testing.T) {
	batch := MessageBatch{
		Payloads:   [][]byte{nil, nil},
		Keys:       []string{"order-1", "order-2"},
		Partitions: []int{0, 3},
		Offsets:    []int64{7, 42},
	}

	assert.Equal(t, "evt-1", MessageIDFor(&testMessage{ID: "evt-1"}, batch, 0))
	assert.Equal(t, "order-2-3-42", MessageIDFor(&testMessage{}, batch, 1))
	assert.Equal(t, "order-1-0-7", MessageIDFor(&struct{ Value string }{}, batch, 0))
}

func TestMessageBatchValidate(t *testing.T) {
	batch := MessageBatch{
		Payloads:   [][]byte{[]byte(`{}`), []byte(`{}`)},
		Keys:       []string{"k"},
		Partitions: []int{0, 0},
		Offsets:    []int64{1, 2},
	}
	assert.ErrorIs(t, batch.Validate(), ErrInvalidBatch)

	batch.Keys = append(batch.Keys, "k2")
	assert.NoError(t, batch.Validate())
}

func TestIdempotentHandler_ProcessesEachMessageIndependently(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	batch := MessageBatch{
		Payloads: [][]byte{
			[]byte(`{"message_id":"evt-1","value":"first"}`),
			[]byte(`{"value":"second"}`),
			[]byte(`{"message_id":"evt-3","value":"boom"}`),
			[]byte(`not json`),
			[]byte(`{"message_id":"evt-5","value":"last"}`),
		},
		Keys:       []string{"order-1", "order-2", "order-3", "order-4", "order-5"},
		Partitions: []int{0, 1, 0, 0, 2},
		Offsets:    []int64{10, 11, 12, 13, 14},
	}

	mock.ExpectBegin()
	expectInboxCheck(mock, "evt-1", false)
	expectInboxInsert(mock, "evt-1", true)
	mock.ExpectCommit()

	mock.ExpectBegin()
	expectInboxCheck(mock, "order-2-1-11", false)
	expectInboxInsert(mock, "order-2-1-11", true)
	mock.ExpectCommit()

	mock.ExpectBegin()
	expectInboxCheck(mock, "evt-3", false)
	expectInboxInsert(mock, "evt-3", true)
	mock.ExpectRollback()

	mock.ExpectBegin()
	expectInboxCheck(mock, "evt-5", true)
	mock.ExpectCommit()

	var handled []string
	handler := NewIdempotentHandler("testEvent", datasource, NewInboxService(datasource), func(ctx context.Context, msg testMessage) error {
		if msg.Value == "boom" {
			return errors.New("handler failed")
		}
		handled = append(handled, msg.Value)
		return nil
	})

	err = handler.HandleBatch(context.Background(), batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evt-3")
	assert.Equal(t, []string{"first", "second"}, handled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotentHandler_RejectsMisalignedBatch(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	handler := NewIdempotentHandler("testEvent", datasource, NewInboxService(datasource), func(ctx context.Context, msg testMessage) error {
		return nil
	})
	err = handler.HandleBatch(context.Background(), MessageBatch{Payloads: [][]byte{[]byte(`{}`)}})
	assert.ErrorIs(t, err, ErrInvalidBatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlainHandler_OneTransactionPerMessage(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	batch := MessageBatch{
		Payloads:   [][]byte{[]byte(`{"value":"a"}`), []byte(`{"value":"fail"}`), []byte(`{"value":"a"}`)},
		Keys:       []string{"order-1", "order-1", "order-1"},
		Partitions: []int{0, 0, 0},
		Offsets:    []int64{1, 2, 3},
	}

	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	handler := NewPlainHandler("testEvent", datasource, func(ctx context.Context, msg testMessage) error {
		calls++
		if msg.Value == "fail" {
			return errors.New("projection failed")
		}
		return nil
	})

	err = handler.HandleBatch(context.Background(), batch)
	require.Error(t, err)
	assert.Equal(t, 3, calls, "duplicates are not filtered on the plain path")
	assert.NoError(t, mock.ExpectationsWereMet())
}
