package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"

	"edu-data-console/internal/importer"
	"edu-data-console/internal/logger"
)

// Runner is satisfied by *importer.Engine.
type Runner interface {
	Run(ctx context.Context, rows []importer.Row, opts importer.Options) (*importer.Report, error)
}

// ObjectReader fetches the parked upload.
type ObjectReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Backfiller fills missing keyword embeddings, returning how many were written.
type Backfiller interface {
	Run(ctx context.Context, limit int) (int, error)
}

// Task handlers
type TaskProcessor struct {
	engine   Runner
	objects  ObjectReader
	jobs     JobStore
	backfill Backfiller
}

func NewTaskProcessor(engine Runner, objects ObjectReader, jobs JobStore, backfill Backfiller) *TaskProcessor {
	return &TaskProcessor{
		engine:   engine,
		objects:  objects,
		jobs:     jobs,
		backfill: backfill,
	}
}

// Register wires the handlers into an asynq mux.
func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskImportWorkbook, p.ProcessImport)
	if p.backfill != nil {
		mux.HandleFunc(TaskEmbeddingBackfill, p.ProcessBackfill)
	}
}

func (p *TaskProcessor) ProcessImport(ctx context.Context, t *asynq.Task) error {
	var payload ImportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	log := logger.With("task", TaskImportWorkbook, "job_id", payload.JobID, "actor", payload.Actor)
	log.Info("processing import job", "object_key", payload.ObjectKey)

	job, err := p.jobs.Get(ctx, payload.JobID)
	if err != nil {
		now := time.Now().UTC()
		job = &Job{ID: payload.JobID, ObjectKey: payload.ObjectKey, Actor: payload.Actor, CreatedAt: now}
	}
	p.update(ctx, job, JobRunning, nil, "")

	body, err := p.objects.Get(ctx, payload.ObjectKey)
	if err != nil {
		p.update(ctx, job, JobFailed, nil, err.Error())
		return fmt.Errorf("fetch %s: %w", payload.ObjectKey, err)
	}
	rows, err := importer.ParseWorkbook(body)
	body.Close()
	if err != nil {
		p.update(ctx, job, JobFailed, nil, err.Error())
		return fmt.Errorf("parse workbook: %v: %w", err, asynq.SkipRetry)
	}

	report, err := p.engine.Run(ctx, rows, importer.Options{
		Sync:     payload.Sync,
		Category: payload.Category,
		Actor:    payload.Actor,
	})
	if err != nil {
		p.update(ctx, job, JobFailed, report, err.Error())
		if errors.Is(err, importer.ErrDocumentStoreUnavailable) {
			return err
		}
		return fmt.Errorf("import: %v: %w", err, asynq.SkipRetry)
	}

	p.update(ctx, job, JobDone, report, "")
	log.Info("import job finished", "processed", report.Processed, "errors", len(report.Errors))
	return nil
}

func (p *TaskProcessor) update(ctx context.Context, job *Job, status JobStatus, report *importer.Report, msg string) {
	job.Status = status
	job.Error = msg
	if report != nil {
		job.Report = report
	}
	job.UpdatedAt = time.Now().UTC()
	if err := p.jobs.Save(ctx, job); err != nil {
		logger.Error("failed to save import job status", "job_id", job.ID, "status", string(status), "error", err)
	}
}

func (p *TaskProcessor) ProcessBackfill(ctx context.Context, t *asynq.Task) error {
	var payload BackfillPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}
	n, err := p.backfill.Run(ctx, payload.Limit)
	if err != nil {
		return err
	}
	logger.Info("embedding backfill task finished", "written", n)
	return nil
}
