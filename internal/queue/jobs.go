package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"edu-data-console/internal/importer"
)

var ErrJobNotFound = errors.New("import job not found")

type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is the status document polled by GET /admin/mongo/import/jobs/:id.
type Job struct {
	ID        string           `json:"job_id"`
	Status    JobStatus        `json:"status"`
	ObjectKey string           `json:"object_key"`
	Actor     string           `json:"actor,omitempty"`
	Error     string           `json:"error,omitempty"`
	Report    *importer.Report `json:"report,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type JobStore interface {
	Save(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
}

// RedisJobStore keeps job documents as JSON strings with a TTL.
type RedisJobStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisJobStore(rdb redis.Cmdable, ttl time.Duration) *RedisJobStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisJobStore{rdb: rdb, ttl: ttl}
}

func JobKey(id string) string { return "import:job:" + id }

func (s *RedisJobStore) Save(ctx context.Context, job *Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, JobKey(job.ID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (*Job, error) {
	raw, err := s.rdb.Get(ctx, JobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}
