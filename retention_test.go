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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/blnkfinance/courier/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxSweeper_DeletesOnlyOldPublishedEntries(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	now := time.Date(2024, 5, 10, 2, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM courier.outbox_entries WHERE status = \\$1 AND processed_at < \\$2").
		WithArgs(model.OutboxStatusPublished, now.Add(-7*24*time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 4))

	sweeper := NewOutboxSweeper(datasource, 0)
	sweeper.now = fixedClock(now)

	deleted, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInboxSweeper_UsesRetentionWindow(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)

	now := time.Date(2024, 5, 10, 3, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM courier.inbox_entries WHERE processed_at < \\$1").
		WithArgs(now.Add(-3 * 24 * time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 12))

	sweeper := NewInboxSweeper(datasource, 3*24*time.Hour)
	sweeper.now = fixedClock(now)

	deleted, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
