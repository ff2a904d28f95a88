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
	redlock "github.com/blnkfinance/courier/internal/lock"
	"github.com/redis/go-redis/v9"
)

// Locker is a cluster-wide named lock. A lock not released within atMost is
// considered abandoned. Release keeps the lock until at least atLeast after
// it was taken. acquired is false when another holder has the lock; callers
// skip their run instead of waiting.
type Locker interface {
	TryAcquire(ctx context.Context, name string, atMost, atLeast time.Duration) (release func(ctx context.Context) error, acquired bool, err error)
}

// PostgresLocker keeps locks in the scheduler_locks table.
type PostgresLocker struct {
	datasource database.IDataSource
	owner      string
	now        func() time.Time
}

func NewPostgresLocker(datasource database.IDataSource, owner string) *PostgresLocker {
	return &PostgresLocker{datasource: datasource, owner: owner, now: func() time.Time { return time.Now().UTC() }}
}

func (l *PostgresLocker) TryAcquire(ctx context.Context, name string, atMost, atLeast time.Duration) (func(ctx context.Context) error, bool, error) {
	// postgres keeps microseconds; lockedAt must match the stored value on release.
	lockedAt := l.now().Truncate(time.Microsecond)
	acquired, err := l.datasource.TryAcquireLock(ctx, name, l.owner, lockedAt, lockedAt.Add(atMost))
	if err != nil || !acquired {
		return nil, false, err
	}

	release := func(ctx context.Context) error {
		unlockAt := l.now()
		if minHold := lockedAt.Add(atLeast); unlockAt.Before(minHold) {
			unlockAt = minHold
		}
		return l.datasource.ReleaseLock(ctx, name, l.owner, lockedAt, unlockAt)
	}
	return release, true, nil
}

// NewRedisLocker returns a Locker backed by redis SET NX PX.
func NewRedisLocker(client redis.UniversalClient, owner string) Locker {
	return redlock.NewLocker(client, owner)
}
