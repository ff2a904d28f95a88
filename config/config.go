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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5005"

	BrokerKafka = "kafka"
	BrokerAsynq = "asynq"

	LockProviderPostgres = "postgres"
	LockProviderRedis    = "redis"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"COURIER_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"COURIER_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"COURIER_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"COURIER_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"COURIER_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"COURIER_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns          string `json:"dns" envconfig:"COURIER_DATA_SOURCE_DNS"`
	MaxOpenConns int    `json:"max_open_conns" envconfig:"COURIER_DATA_SOURCE_MAX_OPEN_CONNS"`
	MaxIdleConns int    `json:"max_idle_conns" envconfig:"COURIER_DATA_SOURCE_MAX_IDLE_CONNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"COURIER_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"COURIER_REDIS_SKIP_TLS_VERIFY"`
}

type BrokerConfig struct {
	Provider string `json:"provider" envconfig:"COURIER_BROKER_PROVIDER"`
}

type KafkaTopics struct {
	PaymentCommand    string `json:"payment_command" envconfig:"COURIER_KAFKA_TOPIC_PAYMENT_COMMAND"`
	RestaurantCommand string `json:"restaurant_command" envconfig:"COURIER_KAFKA_TOPIC_RESTAURANT_COMMAND"`
	PaymentEvent      string `json:"payment_event" envconfig:"COURIER_KAFKA_TOPIC_PAYMENT_EVENT"`
	RestaurantEvent   string `json:"restaurant_event" envconfig:"COURIER_KAFKA_TOPIC_RESTAURANT_EVENT"`
}

type KafkaConfig struct {
	Brokers   []string    `json:"brokers" envconfig:"COURIER_KAFKA_BROKERS"`
	GroupID   string      `json:"group_id" envconfig:"COURIER_KAFKA_GROUP_ID"`
	Topics    KafkaTopics `json:"topics"`
	MinBytes  int         `json:"min_bytes" envconfig:"COURIER_KAFKA_MIN_BYTES"`
	MaxBytes  int         `json:"max_bytes" envconfig:"COURIER_KAFKA_MAX_BYTES"`
	MaxWaitMs int         `json:"max_wait_ms" envconfig:"COURIER_KAFKA_MAX_WAIT_MS"`
	BatchSize int         `json:"batch_size" envconfig:"COURIER_KAFKA_BATCH_SIZE"`
}

type QueueConfig struct {
	CommandQueue   string `json:"command_queue" envconfig:"COURIER_QUEUE_COMMAND_QUEUE"`
	EventQueue     string `json:"event_queue" envconfig:"COURIER_QUEUE_EVENT_QUEUE"`
	Concurrency    int    `json:"concurrency" envconfig:"COURIER_QUEUE_CONCURRENCY"`
	MonitoringPort string `json:"monitoring_port" envconfig:"COURIER_QUEUE_MONITORING_PORT"`
}

type OutboxConfig struct {
	DispatchIntervalMs int    `json:"dispatch_interval_ms" envconfig:"COURIER_OUTBOX_DISPATCH_INTERVAL_MS"`
	BatchSize          int    `json:"batch_size" envconfig:"COURIER_OUTBOX_BATCH_SIZE"`
	RetentionDays      int    `json:"retention_days" envconfig:"COURIER_OUTBOX_RETENTION_DAYS"`
	CleanupCron        string `json:"cleanup_cron" envconfig:"COURIER_OUTBOX_CLEANUP_CRON"`
}

type InboxConfig struct {
	RetentionDays int    `json:"retention_days" envconfig:"COURIER_INBOX_RETENTION_DAYS"`
	CleanupCron   string `json:"cleanup_cron" envconfig:"COURIER_INBOX_CLEANUP_CRON"`
}

type SagaConfig struct {
	TimeoutMinutes        int `json:"timeout_minutes" envconfig:"COURIER_SAGA_TIMEOUT_MINUTES"`
	ReaperIntervalMinutes int `json:"reaper_interval_minutes" envconfig:"COURIER_SAGA_REAPER_INTERVAL_MINUTES"`
}

type SchedulingConfig struct {
	Enabled      bool   `json:"enabled" envconfig:"COURIER_SCHEDULING_ENABLED"`
	LockProvider string `json:"lock_provider" envconfig:"COURIER_SCHEDULING_LOCK_PROVIDER"`
	InstanceName string `json:"instance_name" envconfig:"COURIER_SCHEDULING_INSTANCE_NAME"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"COURIER_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"COURIER_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"COURIER_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"COURIER_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"COURIER_PROJECT_NAME"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Broker          BrokerConfig     `json:"broker"`
	Kafka           KafkaConfig      `json:"kafka"`
	Queue           QueueConfig      `json:"queue"`
	Outbox          OutboxConfig     `json:"outbox"`
	Inbox           InboxConfig      `json:"inbox"`
	Saga            SagaConfig       `json:"saga"`
	Scheduling      SchedulingConfig `json:"scheduling"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"COURIER_ENABLE_TELEMETRY"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("courier", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called courier.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Courier"
	}

	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.Broker.Provider = strings.ToLower(strings.TrimSpace(cnf.Broker.Provider))
	cnf.Scheduling.LockProvider = strings.ToLower(strings.TrimSpace(cnf.Scheduling.LockProvider))

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Broker.Provider == "" {
		cnf.Broker.Provider = BrokerKafka
	}
	switch cnf.Broker.Provider {
	case BrokerKafka:
		if len(cnf.Kafka.Brokers) == 0 {
			return errors.New("kafka brokers are required when broker provider is kafka")
		}
	case BrokerAsynq:
		if cnf.Redis.Dns == "" {
			return errors.New("redis DNS is required when broker provider is asynq")
		}
	default:
		return errors.New("unknown broker provider " + cnf.Broker.Provider)
	}

	if cnf.Scheduling.LockProvider == "" {
		cnf.Scheduling.LockProvider = LockProviderPostgres
	}
	switch cnf.Scheduling.LockProvider {
	case LockProviderPostgres:
	case LockProviderRedis:
		if cnf.Redis.Dns == "" {
			return errors.New("redis DNS is required when lock provider is redis")
		}
	default:
		return errors.New("unknown lock provider " + cnf.Scheduling.LockProvider)
	}

	if cnf.Scheduling.InstanceName == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "courier"
		}
		cnf.Scheduling.InstanceName = host
	}

	cnf.setKafkaDefaults()
	cnf.setQueueDefaults()
	cnf.setJobDefaults()
	cnf.setRateLimitDefaults()

	return nil
}

func (cnf *Configuration) setKafkaDefaults() {
	if cnf.Kafka.GroupID == "" {
		cnf.Kafka.GroupID = "order-service"
	}
	if cnf.Kafka.Topics.PaymentCommand == "" {
		cnf.Kafka.Topics.PaymentCommand = "payment-command"
	}
	if cnf.Kafka.Topics.RestaurantCommand == "" {
		cnf.Kafka.Topics.RestaurantCommand = "restaurant-order-command"
	}
	if cnf.Kafka.Topics.PaymentEvent == "" {
		cnf.Kafka.Topics.PaymentEvent = "payment-event"
	}
	if cnf.Kafka.Topics.RestaurantEvent == "" {
		cnf.Kafka.Topics.RestaurantEvent = "restaurant-order-event"
	}
	if cnf.Kafka.MinBytes == 0 {
		cnf.Kafka.MinBytes = 1
	}
	if cnf.Kafka.MaxBytes == 0 {
		cnf.Kafka.MaxBytes = 10e6
	}
	if cnf.Kafka.MaxWaitMs == 0 {
		cnf.Kafka.MaxWaitMs = 500
	}
	if cnf.Kafka.BatchSize == 0 {
		cnf.Kafka.BatchSize = 100
	}
}

func (cnf *Configuration) setQueueDefaults() {
	if cnf.Queue.CommandQueue == "" {
		cnf.Queue.CommandQueue = "courier_commands"
	}
	if cnf.Queue.EventQueue == "" {
		cnf.Queue.EventQueue = "courier_events"
	}
	if cnf.Queue.Concurrency == 0 {
		cnf.Queue.Concurrency = 5
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5004"
	}
}

func (cnf *Configuration) setJobDefaults() {
	if cnf.Outbox.DispatchIntervalMs <= 0 {
		cnf.Outbox.DispatchIntervalMs = 2000
	}
	if cnf.Outbox.BatchSize <= 0 {
		cnf.Outbox.BatchSize = 50
	}
	if cnf.Outbox.RetentionDays <= 0 {
		cnf.Outbox.RetentionDays = 7
	}
	if cnf.Outbox.CleanupCron == "" {
		cnf.Outbox.CleanupCron = "0 2 * * *"
	}
	if cnf.Inbox.RetentionDays <= 0 {
		cnf.Inbox.RetentionDays = 7
	}
	if cnf.Inbox.CleanupCron == "" {
		cnf.Inbox.CleanupCron = "0 3 * * *"
	}
	if cnf.Saga.TimeoutMinutes <= 0 {
		cnf.Saga.TimeoutMinutes = 10
	}
	if cnf.Saga.ReaperIntervalMinutes <= 0 {
		cnf.Saga.ReaperIntervalMinutes = 5
	}
}

func (cnf *Configuration) setRateLimitDefaults() {
	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}
}

// DispatchInterval returns the outbox polling interval.
func (o OutboxConfig) DispatchInterval() time.Duration {
	return time.Duration(o.DispatchIntervalMs) * time.Millisecond
}

// Retention returns how long published outbox entries are kept.
func (o OutboxConfig) Retention() time.Duration {
	return time.Duration(o.RetentionDays) * 24 * time.Hour
}

// Retention returns how long inbox entries are kept.
func (i InboxConfig) Retention() time.Duration {
	return time.Duration(i.RetentionDays) * 24 * time.Hour
}

// Timeout returns the age after which a non-terminal saga is failed.
func (s SagaConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMinutes) * time.Minute
}

// ReaperInterval returns how often the saga timeout reaper runs.
func (s SagaConfig) ReaperInterval() time.Duration {
	return time.Duration(s.ReaperIntervalMinutes) * time.Minute
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
