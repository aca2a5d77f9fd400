// Package scheduler runs periodic maintenance jobs inside the API process.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"edu-data-console/internal/logger"
)

const TagEmbeddingBackfill = "embedding-backfill"

// Scheduler wraps a UTC gocron scheduler whose tags are unique.
type Scheduler struct {
	scheduler *gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()

	return &Scheduler{
		scheduler: s,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop halts the scheduler and cancels the context of running jobs.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	s.cancel()
}

// Every registers job under tag. Each run gets a context bounded by timeout
// and cancelled on Stop; errors are logged.
func (s *Scheduler) Every(tag string, interval, timeout time.Duration, job func(ctx context.Context) error) error {
	_, err := s.scheduler.Every(interval).Tag(tag).SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()

		start := time.Now()
		if err := job(ctx); err != nil {
			logger.Error("scheduled job failed", "tag", tag, "error", err)
			return
		}
		logger.Debug("scheduled job finished", "tag", tag, "duration_ms", time.Since(start).Milliseconds())
	})
	return err
}

func (s *Scheduler) Remove(tag string) error {
	return s.scheduler.RemoveByTag(tag)
}

// Tags lists the registered job tags.
func (s *Scheduler) Tags() []string {
	var tags []string
	for _, j := range s.scheduler.Jobs() {
		tags = append(tags, j.Tags()...)
	}
	return tags
}
