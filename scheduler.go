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
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is a recurring task guarded by a cluster-wide lock named after it.
type Job struct {
	Name           string
	Spec           string
	LockAtMostFor  time.Duration
	LockAtLeastFor time.Duration
	Run            func(ctx context.Context) error
}

// Scheduler runs registered jobs on their cron specs. A run whose lock is
// held by another replica is skipped, as is a run that would overlap the
// previous run of the same job on this replica.
type Scheduler struct {
	cron    *cron.Cron
	locker  Locker
	jobs    []Job
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mu      sync.Mutex
}

func NewScheduler(locker Locker) *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		locker: locker,
		ctx:    context.Background(),
	}
}

// Register adds a job. It must be called before Start.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job name and run function are required")
	}
	if job.LockAtMostFor <= 0 {
		return fmt.Errorf("job %s: lock max hold must be positive", job.Name)
	}

	if _, err := s.cron.AddFunc(job.Spec, func() { s.runJob(job) }); err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", job.Name, job.Spec, err)
	}

	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	logrus.Infof("Scheduler started with %d jobs", len(s.jobs))
}

// Stop stops scheduling new runs and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	done := s.cron.Stop()
	cancel()
	<-done.Done()
	logrus.Info("Scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) runJob(job Job) {
	ctx := s.runContext()
	log := logrus.WithField("job", job.Name)

	release, acquired, err := s.locker.TryAcquire(ctx, job.Name, job.LockAtMostFor, job.LockAtLeastFor)
	if err != nil {
		log.Errorf("failed to acquire job lock: %v", err)
		return
	}
	if !acquired {
		log.Debug("job lock held elsewhere, skipping run")
		return
	}
	defer func() {
		// released on a fresh context so that a cancelled run still frees the lock
		if err := release(context.Background()); err != nil {
			log.Errorf("failed to release job lock: %v", err)
		}
	}()

	if err := job.Run(ctx); err != nil {
		log.Errorf("job run failed: %v", err)
	}
}

// Jobs returns the outbox, inbox and saga maintenance jobs with their lock
// settings.
func (c *Courier) Jobs() []Job {
	return []Job{
		{
			Name:           "outboxPublisher",
			Spec:           fmt.Sprintf("@every %s", c.settings.dispatchInterval),
			LockAtMostFor:  30 * time.Second,
			LockAtLeastFor: time.Second,
			Run: func(ctx context.Context) error {
				_, _, err := c.dispatcher.Dispatch(ctx)
				return err
			},
		},
		{
			Name:          "outboxCleanup",
			Spec:          c.settings.outboxCleanup,
			LockAtMostFor: 10 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := c.outboxSweeper.Sweep(ctx)
				return err
			},
		},
		{
			Name:          "inboxCleanup",
			Spec:          c.settings.inboxCleanup,
			LockAtMostFor: 10 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := c.inboxSweeper.Sweep(ctx)
				return err
			},
		},
		{
			Name:          "sagaTimeoutCheck",
			Spec:          fmt.Sprintf("@every %s", c.settings.reaperInterval),
			LockAtMostFor: 5 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := c.reaper.Reap(ctx)
				return err
			},
		},
	}
}

// cronLogger routes cron's own logging to logrus.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logrus.WithFields(fieldsOf(keysAndValues)).Debug(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logrus.WithFields(fieldsOf(keysAndValues)).WithError(err).Error(msg)
}

func fieldsOf(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
