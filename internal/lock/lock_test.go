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

package redlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisLocker(t *testing.T, owner string) (*Locker, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, owner), mr
}

func TestTryAcquire_SecondReplicaSkips(t *testing.T) {
	nodeA, mr := newMiniredisLocker(t, "node-a")
	nodeB := NewLocker(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "node-b")
	ctx := context.Background()

	release, acquired, err := nodeA.TryAcquire(ctx, "outboxPublisher", 30*time.Second, 0)
	require.NoError(t, err)
	require.True(t, acquired)

	_, acquired, err = nodeB.TryAcquire(ctx, "outboxPublisher", 30*time.Second, 0)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists(keyPrefix+"outboxPublisher"))

	_, acquired, err = nodeB.TryAcquire(ctx, "outboxPublisher", 30*time.Second, 0)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestTryAcquire_ExpiresAfterMaxHold(t *testing.T) {
	nodeA, mr := newMiniredisLocker(t, "node-a")
	ctx := context.Background()

	_, acquired, err := nodeA.TryAcquire(ctx, "sagaTimeoutCheck", 5*time.Minute, 0)
	require.NoError(t, err)
	require.True(t, acquired)

	mr.FastForward(5*time.Minute + time.Second)

	_, acquired, err = nodeA.TryAcquire(ctx, "sagaTimeoutCheck", 5*time.Minute, 0)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRelease_KeepsMinimumHold(t *testing.T) {
	nodeA, mr := newMiniredisLocker(t, "node-a")
	ctx := context.Background()

	release, acquired, err := nodeA.TryAcquire(ctx, "outboxPublisher", 30*time.Second, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, release(ctx))
	assert.True(t, mr.Exists(keyPrefix+"outboxPublisher"))
	ttl := mr.TTL(keyPrefix + "outboxPublisher")
	assert.Greater(t, ttl, 30*time.Second)
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestTryAcquire_RedisError(t *testing.T) {
	locker, mr := newMiniredisLocker(t, "node-a")
	mr.SetError("connection refused")

	release, acquired, err := locker.TryAcquire(context.Background(), "outboxCleanup", 10*time.Minute, 0)
	assert.EqualError(t, err, "connection refused")
	assert.False(t, acquired)
	assert.Nil(t, release)
}

func TestLease_Unlock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lease := &Lease{client: db, key: "test-key", value: "test-value"}

	mock.ExpectEval(unlockScript, []string{"test-key"}, "test-value").SetVal(int64(1))
	assert.NoError(t, lease.Unlock(context.Background()))

	mock.ExpectEval(unlockScript, []string{"test-key"}, "test-value").SetVal(int64(0))
	err := lease.Unlock(context.Background())
	assert.EqualError(t, err, "unlock failed, either lock expired or you're not the lock holder for key test-key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLease_Extend(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lease := &Lease{client: db, key: "test-key", value: "test-value"}

	mock.ExpectEval(extendScript, []string{"test-key"}, "test-value", "5000").SetVal(int64(1))
	assert.NoError(t, lease.Extend(context.Background(), 5*time.Second))

	mock.ExpectEval(extendScript, []string{"test-key"}, "test-value", "5000").SetVal(int64(0))
	err := lease.Extend(context.Background(), 5*time.Second)
	assert.EqualError(t, err, "lock extension failed for key test-key, either lock expired or you're not the holder")
	assert.NoError(t, mock.ExpectationsWereMet())
}
