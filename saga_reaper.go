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
	"fmt"
	"time"

	"github.com/blnkfinance/courier/database"
	"github.com/blnkfinance/courier/internal/notification"
	"github.com/blnkfinance/courier/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

// SagaTimeoutReaper fails sagas that stayed PROCESSING or COMPENSATING for
// longer than the timeout. It is the only writer of the FAILED status.
type SagaTimeoutReaper struct {
	datasource database.IDataSource
	timeout    time.Duration
	now        func() time.Time
}

func NewSagaTimeoutReaper(datasource database.IDataSource, timeout time.Duration) *SagaTimeoutReaper {
	if timeout <= 0 {
		timeout = defaultSagaTimeout
	}
	return &SagaTimeoutReaper{datasource: datasource, timeout: timeout, now: func() time.Time { return time.Now().UTC() }}
}

// Reap runs one bulk pass and returns the number of sagas it failed.
func (r *SagaTimeoutReaper) Reap(ctx context.Context) (int64, error) {
	ctx, span := otel.Tracer("courier.saga").Start(ctx, "Reap")
	defer span.End()

	now := r.now()
	cutoff := now.Add(-r.timeout)

	var failed int64
	err := r.datasource.RunInTransaction(ctx, func(txCtx context.Context) error {
		n, err := r.datasource.MarkStaleSagasAsFailed(txCtx, cutoff, now, model.SagaTimeoutMessage)
		failed = n
		return err
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	if failed > 0 {
		logrus.Warnf("marked %d timed out sagas as FAILED", failed)
		notification.NotifyError(fmt.Errorf("%d order sagas timed out and were marked FAILED", failed))
	}
	return failed, nil
}
