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
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "courier:lock:"

const (
	unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

// Locker hands out named cluster-wide locks stored in redis.
type Locker struct {
	client redis.UniversalClient
	owner  string
}

func NewLocker(client redis.UniversalClient, owner string) *Locker {
	return &Locker{
		client: client,
		owner:  owner,
	}
}

// Lease is a lock held by this process. Its value is unique per acquisition so
// a lease can only release or extend the key it set itself.
type Lease struct {
	client     redis.UniversalClient
	key        string
	value      string
	acquiredAt time.Time
	atLeast    time.Duration
}

// Acquire sets the lock key for atMost if nobody holds it. A nil lease and nil
// error mean the lock is held elsewhere.
func (l *Locker) Acquire(ctx context.Context, name string, atMost, atLeast time.Duration) (*Lease, error) {
	key := keyPrefix + name
	value := fmt.Sprintf("%s:%s", l.owner, uuid.NewString())

	success, err := l.client.SetNX(ctx, key, value, atMost).Result()
	if err != nil {
		return nil, err
	}
	if !success {
		return nil, nil
	}
	return &Lease{client: l.client, key: key, value: value, acquiredAt: time.Now(), atLeast: atLeast}, nil
}

// TryAcquire is Acquire shaped for the job scheduler.
func (l *Locker) TryAcquire(ctx context.Context, name string, atMost, atLeast time.Duration) (func(context.Context) error, bool, error) {
	lease, err := l.Acquire(ctx, name, atMost, atLeast)
	if err != nil || lease == nil {
		return nil, false, err
	}
	return lease.Release, true, nil
}

// Release drops the lock. When the lease is younger than its minimum hold the
// key is kept alive for the remainder instead, so another replica cannot run
// the same job again right away.
func (l *Lease) Release(ctx context.Context) error {
	remaining := l.atLeast - time.Since(l.acquiredAt)
	if remaining >= time.Millisecond {
		return l.Extend(ctx, remaining)
	}
	return l.Unlock(ctx)
}

func (l *Lease) Unlock(ctx context.Context) error {
	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("unlock failed, either lock expired or you're not the lock holder for key %s", l.key)
	}
	return nil
}

func (l *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.value, fmt.Sprintf("%d", ttl.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("lock extension failed for key %s, either lock expired or you're not the holder", l.key)
	}
	return nil
}
