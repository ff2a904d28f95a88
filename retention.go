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
	"time"

	"github.com/blnkfinance/courier/database"
	"github.com/sirupsen/logrus"
)

// OutboxSweeper deletes PUBLISHED outbox entries older than the retention
// window. NEW and FAILED entries are never removed.
type OutboxSweeper struct {
	datasource database.IDataSource
	retention  time.Duration
	now        func() time.Time
}

func NewOutboxSweeper(datasource database.IDataSource, retention time.Duration) *OutboxSweeper {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &OutboxSweeper{datasource: datasource, retention: retention, now: func() time.Time { return time.Now().UTC() }}
}

func (s *OutboxSweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.datasource.DeletePublishedOutboxEntries(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	logrus.Infof("outbox cleanup removed %d published entries processed before %s", deleted, cutoff.Format(time.RFC3339))
	return deleted, nil
}

// InboxSweeper deletes inbox entries older than the retention window.
type InboxSweeper struct {
	datasource database.IDataSource
	retention  time.Duration
	now        func() time.Time
}

func NewInboxSweeper(datasource database.IDataSource, retention time.Duration) *InboxSweeper {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &InboxSweeper{datasource: datasource, retention: retention, now: func() time.Time { return time.Now().UTC() }}
}

func (s *InboxSweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.datasource.DeleteInboxEntries(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	logrus.Infof("inbox cleanup removed %d entries processed before %s", deleted, cutoff.Format(time.RFC3339))
	return deleted, nil
}
