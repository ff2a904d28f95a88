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

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/blnkfinance/courier"
	"github.com/blnkfinance/courier/config"
	redis_db "github.com/blnkfinance/courier/internal/redis-db"
	"github.com/blnkfinance/courier/messaging"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// brokerPublisher is an outbox publisher bound to one broker.
type brokerPublisher interface {
	courier.Publisher
	MessageTypes() []string
	Close() error
}

// registerPublishers binds every outbound command type to the configured broker.
func registerPublishers(c *courier.Courier, conf *config.Configuration) (func() error, error) {
	var p brokerPublisher
	switch conf.Broker.Provider {
	case config.BrokerAsynq:
		ap, err := messaging.NewAsynqPublisher(conf)
		if err != nil {
			return nil, err
		}
		p = ap
	default:
		p = messaging.NewKafkaPublisher(conf.Kafka)
	}

	for _, messageType := range p.MessageTypes() {
		c.Publishers().Register(messageType, p)
	}
	return p.Close, nil
}

func newLocker(c *courier.Courier, conf *config.Configuration) (courier.Locker, func() error, error) {
	if conf.Scheduling.LockProvider == config.LockProviderRedis {
		client, err := redis_db.NewRedisClient([]string{conf.Redis.Dns}, conf.Redis.SkipTLSVerify)
		if err != nil {
			return nil, nil, fmt.Errorf("error connecting to redis: %v", err)
		}
		return courier.NewRedisLocker(client.Client(), conf.Scheduling.InstanceName), client.Close, nil
	}
	return courier.NewPostgresLocker(c.Datasource(), conf.Scheduling.InstanceName), func() error { return nil }, nil
}

func startScheduler(ctx context.Context, c *courier.Courier, conf *config.Configuration) (*courier.Scheduler, func() error, error) {
	locker, closeLocker, err := newLocker(c, conf)
	if err != nil {
		return nil, nil, err
	}

	scheduler := courier.NewScheduler(locker)
	for _, job := range c.Jobs() {
		if err := scheduler.Register(job); err != nil {
			_ = closeLocker()
			return nil, nil, err
		}
	}
	scheduler.Start(ctx)
	return scheduler, closeLocker, nil
}

// runKafkaConsumers consumes both event topics until ctx is cancelled or one
// consumer fails.
func runKafkaConsumers(ctx context.Context, conf *config.Configuration, payments, restaurants courier.BatchHandler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	consumers := []*messaging.KafkaConsumer{
		messaging.NewKafkaConsumer(conf.Kafka, conf.Kafka.Topics.PaymentEvent, payments),
		messaging.NewKafkaConsumer(conf.Kafka, conf.Kafka.Topics.RestaurantEvent, restaurants),
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, consumer := range consumers {
		wg.Add(1)
		go func(k *messaging.KafkaConsumer) {
			defer wg.Done()
			defer k.Close()
			if err := k.Run(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				cancel()
			}
		}(consumer)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func runAsynqConsumer(ctx context.Context, conf *config.Configuration, payments, restaurants courier.BatchHandler) error {
	consumer, err := messaging.NewAsynqConsumer(conf, map[string]courier.BatchHandler{
		messaging.TaskPaymentEvent:    payments,
		messaging.TaskRestaurantEvent: restaurants,
	})
	if err != nil {
		return err
	}

	go serveQueueMonitor(conf)

	if err := consumer.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	consumer.Shutdown()
	return nil
}

// serveQueueMonitor exposes asynqmon for the asynq broker.
func serveQueueMonitor(conf *config.Configuration) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		logrus.Errorf("queue monitor disabled: %v", err)
		return
	}
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: messaging.RedisConnOpt(redisOption),
	})

	monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
	log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
	if err := http.ListenAndServe(monitoringAddr, h); err != nil {
		logrus.Errorf("could not start asynqmon server: %v", err)
	}
}

// workerCommands defines the "workers" command. It runs the recurring jobs when
// scheduling is enabled and the inbound consumers for the configured broker.
func workerCommands(c *courierInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start courier workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			conf := c.cnf

			shutdown, err := initializeObservability(ctx, conf, "COURIER_WORKERS")
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			closePublisher, err := registerPublishers(c.courier, conf)
			if err != nil {
				log.Fatal(err)
			}
			defer closePublisher()

			if conf.Scheduling.Enabled {
				scheduler, closeLocker, err := startScheduler(ctx, c.courier, conf)
				if err != nil {
					log.Fatal(err)
				}
				defer closeLocker()
				defer scheduler.Stop()
			} else {
				logrus.Info("scheduling disabled, running consumers only")
			}

			payments, restaurants := c.courier.OrderConsumers()
			if conf.Broker.Provider == config.BrokerAsynq {
				err = runAsynqConsumer(ctx, conf, payments, restaurants)
			} else {
				err = runKafkaConsumers(ctx, conf, payments, restaurants)
			}
			if err != nil {
				logrus.Errorf("consumers stopped: %v", err)
			}
		},
	}

	return cmd
}
