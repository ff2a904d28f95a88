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
	"fmt"
	"sync"

	"github.com/blnkfinance/courier/model"
	"github.com/sirupsen/logrus"
)

// ErrPublisherNotRegistered is returned when no publisher handles an entry's message type.
var ErrPublisherNotRegistered = errors.New("courier: no publisher registered for message type")

// Publisher delivers one outbox entry to the broker.
type Publisher interface {
	Publish(ctx context.Context, entry model.OutboxEntry) error
}

// PublisherFunc adapts a plain function to Publisher.
type PublisherFunc func(ctx context.Context, entry model.OutboxEntry) error

func (f PublisherFunc) Publish(ctx context.Context, entry model.OutboxEntry) error {
	return f(ctx, entry)
}

// PublisherRegistry routes outbox entries to the publisher registered for
// their message type. It is itself a Publisher.
type PublisherRegistry struct {
	mu         sync.RWMutex
	publishers map[string]Publisher
}

func NewPublisherRegistry() *PublisherRegistry {
	return &PublisherRegistry{publishers: make(map[string]Publisher)}
}

// Register binds messageType to p, replacing any earlier binding.
func (r *PublisherRegistry) Register(messageType string, p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishers[messageType] = p
}

func (r *PublisherRegistry) lookup(messageType string) (Publisher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.publishers[messageType]
	return p, ok
}

func (r *PublisherRegistry) Publish(ctx context.Context, entry model.OutboxEntry) error {
	p, ok := r.lookup(entry.MessageType)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"entry_id":     entry.ID,
			"message_type": entry.MessageType,
		}).Warn("no publisher registered for outbox message type")
		return fmt.Errorf("%w: %s", ErrPublisherNotRegistered, entry.MessageType)
	}
	return p.Publish(ctx, entry)
}
