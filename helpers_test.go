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
	"database/sql/driver"
	"encoding/json"
	"log"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/blnkfinance/courier/config"
	"github.com/blnkfinance/courier/database"
)

var (
	outboxRowColumns = []string{"id", "message_type", "message_key", "status", "payload", "created_at", "processed_at", "version"}
	sagaRowColumns   = []string{"id", "order_id", "customer_id", "status", "error_message", "order_snapshot", "created_at", "updated_at", "version"}
)

func newTestDataSource() (database.IDataSource, sqlmock.Sqlmock, error) {
	config.MockConfig(&config.Configuration{})
	db, mock, err := sqlmock.New()
	if err != nil {
		log.Printf("an error '%s' was not expected when opening a stub database Connection", err)
		return nil, nil, err
	}
	return &database.Datasource{Conn: db}, mock, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// jsonPayload matches a JSON encoded statement argument against check.
type jsonPayload struct {
	check func(doc map[string]interface{}) bool
}

func (p jsonPayload) Match(v driver.Value) bool {
	raw, ok := v.([]byte)
	if !ok {
		return false
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false
	}
	return p.check(doc)
}

func payloadWithType(commandType string) jsonPayload {
	return jsonPayload{check: func(doc map[string]interface{}) bool {
		return doc["type"] == commandType && doc["message_id"] != ""
	}}
}
