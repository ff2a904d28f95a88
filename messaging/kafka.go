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
	"time"

	"github.com/blnkfinance/courier"
	"github.com/blnkfinance/courier/config"
	"github.com/blnkfinance/courier/internal/notification"
	"github.com/blnkfinance/courier/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const (
	HeaderMessageType = "message_type"
	HeaderOutboxID    = "outbox_id"

	defaultBatchRetries = 3
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes outbox entries to the topic mapped to their message type.
type KafkaPublisher struct {
	writer kafkaWriter
	topics map[string]string
}

func NewKafkaPublisher(cnf config.KafkaConfig) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cnf.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaPublisher(w, cnf.Topics)
}

func newKafkaPublisher(w kafkaWriter, topics config.KafkaTopics) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		topics: map[string]string{
			model.PaymentCommandMessageType:         topics.PaymentCommand,
			model.RestaurantOrderCommandMessageType: topics.RestaurantCommand,
		},
	}
}

// MessageTypes lists the message types this publisher has a topic for.
func (p *KafkaPublisher) MessageTypes() []string {
	types := make([]string, 0, len(p.topics))
	for t := range p.topics {
		types = append(types, t)
	}
	return types
}

func (p *KafkaPublisher) Publish(ctx context.Context, entry model.OutboxEntry) error {
	topic, ok := p.topics[entry.MessageType]
	if !ok || topic == "" {
		logrus.WithFields(logrus.Fields{
			"entry_id":     entry.ID,
			"message_type": entry.MessageType,
		}).Warn("no kafka topic for outbox message type")
		return errors.Errorf("no kafka topic for message type %s", entry.MessageType)
	}

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(entry.MessageKey),
		Value: entry.Payload,
		Headers: []kafka.Header{
			{Key: HeaderMessageType, Value: []byte(entry.MessageType)},
			{Key: HeaderOutboxID, Value: []byte(entry.ID)},
		},
	})
	if err != nil {
		return errors.Wrapf(err, "writing outbox entry %s to %s", entry.ID, topic)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads one topic in batches and hands each batch to a
// courier.BatchHandler. Offsets are committed once the batch has been
// handled, or once its retries are exhausted.
type KafkaConsumer struct {
	topic      string
	reader     kafkaReader
	handler    courier.BatchHandler
	batchSize  int
	maxWait    time.Duration
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

func NewKafkaConsumer(cnf config.KafkaConfig, topic string, handler courier.BatchHandler) *KafkaConsumer {
	maxWait := time.Duration(cnf.MaxWaitMs) * time.Millisecond
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cnf.Brokers,
		GroupID:  cnf.GroupID,
		Topic:    topic,
		MinBytes: cnf.MinBytes,
		MaxBytes: cnf.MaxBytes,
		MaxWait:  maxWait,
	})
	return newKafkaConsumer(topic, r, handler, cnf.BatchSize, maxWait)
}

func newKafkaConsumer(topic string, r kafkaReader, handler courier.BatchHandler, batchSize int, maxWait time.Duration) *KafkaConsumer {
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxWait <= 0 {
		maxWait = 500 * time.Millisecond
	}
	return &KafkaConsumer{
		topic:      topic,
		reader:     r,
		handler:    handler,
		batchSize:  batchSize,
		maxWait:    maxWait,
		maxRetries: defaultBatchRetries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// Run consumes until ctx is cancelled. A cancelled context is a clean stop.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	logrus.Infof("kafka consumer started on topic %s", c.topic)
	for {
		if err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				logrus.Infof("kafka consumer on topic %s stopped", c.topic)
				return nil
			}
			return err
		}
	}
}

// poll fetches, handles and commits one batch.
func (c *KafkaConsumer) poll(ctx context.Context) error {
	msgs, err := c.fetchBatch(ctx)
	if err != nil {
		return errors.Wrapf(err, "fetching from %s", c.topic)
	}

	if err := c.handle(ctx, toBatch(msgs)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logrus.WithFields(logrus.Fields{
			"topic":    c.topic,
			"messages": len(msgs),
		}).Errorf("kafka batch failed after retries, skipping: %v", err)
		notification.NotifyError(errors.Wrapf(err, "kafka batch on %s skipped", c.topic))
	}

	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		return errors.Wrapf(err, "committing offsets on %s", c.topic)
	}
	return nil
}

func (c *KafkaConsumer) handle(ctx context.Context, batch courier.MessageBatch) error {
	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	return backoff.RetryNotify(func() error {
		return c.handler.HandleBatch(ctx, batch)
	}, b, func(err error, next time.Duration) {
		logrus.Warnf("kafka batch on %s failed, retrying in %s: %v", c.topic, next, err)
	})
}

// fetchBatch blocks for the first message, then keeps reading until the batch
// is full or the broker has nothing more within maxWait.
func (c *KafkaConsumer) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	msgs := []kafka.Message{first}

	for len(msgs) < c.batchSize {
		fetchCtx, cancel := context.WithTimeout(ctx, c.maxWait)
		m, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			break
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

func toBatch(msgs []kafka.Message) courier.MessageBatch {
	batch := courier.MessageBatch{
		Payloads:   make([][]byte, len(msgs)),
		Keys:       make([]string, len(msgs)),
		Partitions: make([]int, len(msgs)),
		Offsets:    make([]int64, len(msgs)),
	}
	for i, m := range msgs {
		batch.Payloads[i] = m.Value
		batch.Keys[i] = string(m.Key)
		batch.Partitions[i] = m.Partition
		batch.Offsets[i] = m.Offset
	}
	return batch
}
