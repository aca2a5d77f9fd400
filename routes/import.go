package routes

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"edu-data-console/internal/importer"
	"edu-data-console/internal/logger"
	"edu-data-console/internal/queue"
	"edu-data-console/middleware"
	"edu-data-console/utils"
)

const (
	importTimeout = 10 * time.Minute
	xlsxMIME      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func importOptions(c *gin.Context) importer.Options {
	return importer.Options{
		Sync:     utils.QueryBool(c, "sync", true),
		Category: c.DefaultQuery("category", "document"),
		Actor:    middleware.GetActor(c),
	}
}

// runImport executes rows synchronously and writes the report. A document
// store outage mid-batch answers 503 with the partial report attached.
func runImport(c *gin.Context, runner ImportRunner, rows []importer.Row) {
	ctx, cancel := utils.WithCustomTimeout(c.Request.Context(), importTimeout)
	defer cancel()

	report, err := runner.Run(ctx, rows, importOptions(c))
	if err != nil {
		if errors.Is(err, importer.ErrDocumentStoreUnavailable) && report != nil {
			logger.Error("import aborted", "error", err, "processed", report.Processed)
			utils.RespondWithUnavailable(c, "Document store became unavailable during import", gin.H{"report": report})
			_ = c.Error(err)
			return
		}
		respondError(c, "run import", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ImportWorkbook accepts an XLSX upload. With async=true the file is parked
// in the object store and a job is queued; the caller polls the job.
func ImportWorkbook(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		fh, err := c.FormFile("file")
		if utils.IsBodyTooLarge(err) {
			utils.RespondWithTooLarge(c, c.GetInt64(utils.BodyLimitKey), -1)
			return
		}
		if err != nil {
			utils.RespondWithUnprocessable(c, "file is required", gin.H{"error": err.Error()})
			return
		}
		f, err := fh.Open()
		if err != nil {
			utils.RespondWithBadRequest(c, "Failed to read uploaded file", gin.H{"error": err.Error()})
			return
		}
		defer f.Close()

		content, err := io.ReadAll(f)
		if err != nil {
			utils.RespondWithBadRequest(c, "Failed to read uploaded file", gin.H{"error": err.Error()})
			return
		}
		if len(content) == 0 {
			utils.RespondWithUnprocessable(c, "Empty file", nil)
			return
		}

		if utils.QueryBool(c, "async", false) {
			enqueueWorkbook(c, d, content)
			return
		}

		rows, err := importer.ParseWorkbook(bytes.NewReader(content))
		if err != nil {
			respondError(c, "parse workbook", err)
			return
		}
		runImport(c, d.Importer, rows)
	}
}

func enqueueWorkbook(c *gin.Context, d Deps, content []byte) {
	if d.Queue == nil || d.Jobs == nil || d.Objects == nil {
		utils.RespondWithUnavailable(c, "Async import needs the job queue and the object store", nil)
		return
	}
	// reject unreadable files now rather than in the worker
	if _, err := importer.ParseWorkbook(bytes.NewReader(content)); err != nil {
		respondError(c, "parse workbook", err)
		return
	}

	ctx, cancel := utils.WithLongTimeout(c.Request.Context())
	defer cancel()

	jobID := uuid.NewString()
	key := queue.ObjectKeyFor(jobID)
	if err := d.Objects.Put(ctx, key, bytes.NewReader(content), int64(len(content)), xlsxMIME); err != nil {
		respondError(c, "store import file", err)
		return
	}

	opts := importOptions(c)
	job, err := queue.EnqueueImport(ctx, d.Queue, d.Jobs, queue.ImportPayload{
		JobID:     jobID,
		ObjectKey: key,
		Category:  opts.Category,
		Sync:      opts.Sync,
		Actor:     opts.Actor,
	})
	if err != nil {
		respondError(c, "enqueue import", err)
		return
	}
	logger.Info("import queued", "job_id", jobID, "object_key", key, "actor", opts.Actor)
	c.JSON(http.StatusAccepted, job)
}

// ImportJSON accepts the same entities as a JSON body.
func ImportJSON(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			utils.RespondWithBadRequest(c, "Failed to read body", gin.H{"error": err.Error()})
			return
		}
		rows, err := importer.ParseJSON(body)
		if err != nil {
			respondError(c, "parse import payload", err)
			return
		}
		runImport(c, d.Importer, rows)
	}
}

func GetImportJob(jobs queue.JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.Param("id"))
		ctx, cancel := utils.WithShortTimeout(c.Request.Context())
		defer cancel()

		job, err := jobs.Get(ctx, id)
		if err != nil {
			respondError(c, "get import job", err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}
