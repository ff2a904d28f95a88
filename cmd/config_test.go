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
	"testing"

	"github.com/blnkfinance/courier/config"
	"github.com/stretchr/testify/assert"
)

func TestRedactConfig(t *testing.T) {
	cfg := config.Configuration{
		ProjectName: "Courier",
		Server:      config.ServerConfig{SecretKey: "master-key", Port: "5005"},
		DataSource:  config.DataSourceConfig{Dns: "postgres://user:pw@db:5432/courier"},
		Notification: config.Notification{
			Slack: config.SlackWebhook{WebhookUrl: "https://hooks.slack.com/services/x"},
		},
	}

	got := redactConfig(cfg)

	assert.Equal(t, redacted, got.Server.SecretKey)
	assert.Equal(t, redacted, got.DataSource.Dns)
	assert.Equal(t, redacted, got.Notification.Slack.WebhookUrl)
	assert.Empty(t, got.Redis.Dns)
	assert.Equal(t, "5005", got.Server.Port)
	assert.Equal(t, "master-key", cfg.Server.SecretKey)
}

func TestNewCLI_RegistersCommands(t *testing.T) {
	cli := NewCLI()

	names := make([]string, 0)
	for _, c := range cli.cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"start", "workers", "migrate", "config"})

	flag := cli.cmd.PersistentFlags().Lookup("config")
	if assert.NotNil(t, flag) {
		assert.Equal(t, "./courier.json", flag.DefValue)
	}
}
