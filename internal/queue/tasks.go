package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskImportWorkbook    = "import:xlsx"
	TaskEmbeddingBackfill = "embedding:backfill"
)

type ImportPayload struct {
	JobID     string `json:"job_id"`
	ObjectKey string `json:"object_key"`
	Category  string `json:"category"`
	Sync      bool   `json:"sync"`
	Actor     string `json:"actor"`
}

type BackfillPayload struct {
	Limit int `json:"limit"`
}

// ObjectKeyFor is where an async upload is parked until the worker picks it up.
func ObjectKeyFor(jobID string) string {
	return "imports/" + jobID + ".xlsx"
}

// Task creators
func NewImportTask(p ImportPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskImportWorkbook,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
		asynq.Queue("critical"),
	), nil
}

func NewBackfillTask(limit int) (*asynq.Task, error) {
	payload, err := json.Marshal(BackfillPayload{Limit: limit})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskEmbeddingBackfill,
		payload,
		asynq.MaxRetry(2),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("low"),
		asynq.Unique(10*time.Minute),
	), nil
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EnqueueImport records the job as queued and hands it to the worker.
func EnqueueImport(ctx context.Context, client Enqueuer, jobs JobStore, p ImportPayload) (*Job, error) {
	task, err := NewImportTask(p)
	if err != nil {
		return nil, fmt.Errorf("build import task: %w", err)
	}

	now := time.Now().UTC()
	job := &Job{
		ID:        p.JobID,
		Status:    JobQueued,
		ObjectKey: p.ObjectKey,
		Actor:     p.Actor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := jobs.Save(ctx, job); err != nil {
		return nil, err
	}
	if _, err := client.EnqueueContext(ctx, task, asynq.TaskID(p.JobID)); err != nil {
		job.Status = JobFailed
		job.Error = err.Error()
		job.UpdatedAt = time.Now().UTC()
		_ = jobs.Save(ctx, job)
		return nil, fmt.Errorf("enqueue import: %w", err)
	}
	return job, nil
}
