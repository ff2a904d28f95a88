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

package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/blnkfinance/courier"
	"github.com/blnkfinance/courier/config"
	redis_db "github.com/blnkfinance/courier/internal/redis-db"
	"github.com/blnkfinance/courier/model"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Task types the asynq consumer serves.
const (
	TaskPaymentEvent    = "payment_event"
	TaskRestaurantEvent = "restaurant_event"
)

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// RedisConnOpt converts parsed redis options into asynq connection options.
func RedisConnOpt(opts *redis.Options) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:      opts.Addr,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}
}

func redisConnOptFromConfig(cnf *config.Configuration) (asynq.RedisClientOpt, error) {
	opts, err := redis_db.ParseRedisURL(cnf.Redis.Dns, cnf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("parsing redis url: %w", err)
	}
	return RedisConnOpt(opts), nil
}

// AsynqPublisher enqueues outbox entries as asynq tasks. The task id is the
// outbox entry id, so a redelivered entry is enqueued at most once.
type AsynqPublisher struct {
	client taskEnqueuer
	queue  string
}

func NewAsynqPublisher(cnf *config.Configuration) (*AsynqPublisher, error) {
	opt, err := redisConnOptFromConfig(cnf)
	if err != nil {
		return nil, err
	}
	return &AsynqPublisher{client: asynq.NewClient(opt), queue: cnf.Queue.CommandQueue}, nil
}

// MessageTypes lists the command types routed to the asynq queue.
func (p *AsynqPublisher) MessageTypes() []string {
	return []string{model.PaymentCommandMessageType, model.RestaurantOrderCommandMessageType}
}

func (p *AsynqPublisher) Publish(ctx context.Context, entry model.OutboxEntry) error {
	task := asynq.NewTask(entry.MessageType, entry.Payload)
	info, err := p.client.EnqueueContext(ctx, task, asynq.Queue(p.queue), asynq.TaskID(entry.ID))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			logrus.Infof("outbox entry %s already enqueued", entry.ID)
			return nil
		}
		return fmt.Errorf("enqueueing outbox entry %s: %w", entry.ID, err)
	}
	logrus.Debugf("outbox entry %s enqueued on %s", info.ID, info.Queue)
	return nil
}

func (p *AsynqPublisher) Close() error {
	return p.client.Close()
}

// TaskHandler adapts a batch handler to asynq. Each task becomes a batch of one
// keyed by its task id.
func TaskHandler(handler courier.BatchHandler) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		id, _ := asynq.GetTaskID(ctx)
		batch := courier.MessageBatch{
			Payloads:   [][]byte{t.Payload()},
			Keys:       []string{id},
			Partitions: []int{0},
			Offsets:    []int64{0},
		}
		return handler.HandleBatch(ctx, batch)
	}
}

// AsynqConsumer serves inbound event tasks from the configured event queue.
type AsynqConsumer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewAsynqConsumer(cnf *config.Configuration, handlers map[string]courier.BatchHandler) (*AsynqConsumer, error) {
	opt, err := redisConnOptFromConfig(cnf)
	if err != nil {
		return nil, err
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: cnf.Queue.Concurrency,
		Queues:      map[string]int{cnf.Queue.EventQueue: 1},
	})

	return &AsynqConsumer{server: srv, mux: NewTaskMux(handlers)}, nil
}

// NewTaskMux registers one asynq handler per task type.
func NewTaskMux(handlers map[string]courier.BatchHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for taskType, h := range handlers {
		mux.Handle(taskType, TaskHandler(h))
	}
	return mux
}

func (c *AsynqConsumer) Start() error {
	return c.server.Start(c.mux)
}

func (c *AsynqConsumer) Shutdown() {
	c.server.Shutdown()
}
