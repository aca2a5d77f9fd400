package routes

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"edu-data-console/internal/docstore"
	"edu-data-console/internal/graph"
	"edu-data-console/internal/importer"
	"edu-data-console/internal/objectstore"
	"edu-data-console/internal/queue"
	"edu-data-console/internal/relational"
	"edu-data-console/models"
	"edu-data-console/services"
)

var errFake = errors.New("boom")

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type fakeObjects struct {
	err      error
	put      map[string][]byte
	lastPath string
}

func (f *fakeObjects) Bucket() string        { return "edu" }
func (f *fakeObjects) URL(key string) string { return "http://minio:9000/edu/" + key }
func (f *fakeObjects) List(_ context.Context, p string) (*objectstore.Listing, error) {
	f.lastPath = p
	if f.err != nil {
		return nil, f.err
	}
	return &objectstore.Listing{Bucket: "edu", Path: p, Folders: []objectstore.Folder{}, Files: []objectstore.File{}}, nil
}
func (f *fakeObjects) CreateFolder(_ context.Context, p string) (string, error) {
	return p + "/", f.err
}
func (f *fakeObjects) RenameFolder(context.Context, string, string) (int, error) { return 3, f.err }
func (f *fakeObjects) RenameObject(_ context.Context, key, newName string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "docs/" + newName, nil
}
func (f *fakeObjects) UploadFiles(_ context.Context, p string, files []objectstore.Upload) (*objectstore.UploadResult, error) {
	res := &objectstore.UploadResult{Bucket: "edu", Path: p, Uploaded: []objectstore.UploadedFile{}, Failed: []objectstore.FailedFile{}}
	for _, u := range files {
		res.Uploaded = append(res.Uploaded, objectstore.UploadedFile{Filename: u.Filename, ObjectKey: p + "/" + u.Filename})
	}
	res.UploadedCount = len(res.Uploaded)
	return res, f.err
}
func (f *fakeObjects) InsertItem(_ context.Context, p, name string, _ *objectstore.Upload) (string, error) {
	return p + "/" + name, f.err
}
func (f *fakeObjects) DeleteFolder(context.Context, string) error { return f.err }
func (f *fakeObjects) DeleteObject(_ context.Context, key string) (string, error) {
	return key, f.err
}
func (f *fakeObjects) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	if f.err != nil {
		return f.err
	}
	b, _ := io.ReadAll(body)
	if f.put == nil {
		f.put = map[string][]byte{}
	}
	f.put[key] = b
	return nil
}

func (f *fakeObjects) Exists(_ context.Context, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return key != "missing.pdf", nil
}
func (f *fakeObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return f.URL(key) + "?X-Amz-Signature=sig", f.err
}

type fakeDocs struct {
	err       error
	lastActor string
	lastBody  map[string]any
}

func (f *fakeDocs) ListCollections(context.Context) ([]string, error) {
	return []string{"chunks", "classes"}, f.err
}
func (f *fakeDocs) CreateCollection(_ context.Context, name string) (string, error) {
	return name, f.err
}
func (f *fakeDocs) DropCollection(_ context.Context, name string) (string, error) {
	return name, f.err
}
func (f *fakeDocs) RenameCollection(context.Context, string, string) error { return f.err }
func (f *fakeDocs) ListDocuments(_ context.Context, col string, limit, offset int64) (*docstore.DocumentPage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &docstore.DocumentPage{Collection: col, Limit: limit, Offset: offset, Documents: []map[string]any{}}, nil
}
func (f *fakeDocs) CreateDocument(_ context.Context, _ string, body map[string]any, actor string) (string, error) {
	f.lastBody, f.lastActor = body, actor
	return "65f000000000000000000001", f.err
}
func (f *fakeDocs) UpdateDocument(_ context.Context, _ string, _ string, body map[string]any, actor string) (docstore.UpdateResult, error) {
	f.lastBody, f.lastActor = body, actor
	return docstore.UpdateResult{Matched: 1, Modified: 1}, f.err
}
func (f *fakeDocs) DeleteDocument(context.Context, string, string) (int64, error) { return 1, f.err }

type fakeRunner struct {
	report *importer.Report
	err    error
	rows   []importer.Row
	opts   importer.Options
}

func (f *fakeRunner) Run(_ context.Context, rows []importer.Row, opts importer.Options) (*importer.Report, error) {
	f.rows, f.opts = rows, opts
	if f.report == nil {
		f.report = importer.NewReport()
		f.report.Processed = len(rows)
	}
	return f.report, f.err
}

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*queue.Job
}

func (m *memJobs) Save(_ context.Context, job *queue.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jobs == nil {
		m.jobs = map[string]*queue.Job{}
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobs) Get(_ context.Context, id string) (*queue.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	return job, nil
}

type fakeEnqueuer struct{ tasks []*asynq.Task }

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Queue: "critical"}, nil
}

type fakeRelational struct{ err error }

func (f fakeRelational) Tables(context.Context) ([]string, error) { return []string{"chunk", "class"}, f.err }
func (f fakeRelational) Columns(string) ([]string, error)        { return []string{"chunk_id"}, f.err }
func (f fakeRelational) Rows(_ context.Context, table string, limit, offset int) (*relational.RowPage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &relational.RowPage{TableName: table, Limit: limit, Offset: offset, Rows: []map[string]any{}}, nil
}
func (f fakeRelational) Row(context.Context, string, string) (map[string]any, error) {
	return map[string]any{"chunk_id": "C1"}, f.err
}
func (f fakeRelational) Login(_ context.Context, u, _ string) (*models.LoginResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.LoginResponse{UserID: "1", Username: u, Role: "admin"}, nil
}

type fakeGraph struct {
	err       error
	lastLimit int
}

func (f *fakeGraph) Labels(context.Context) ([]graph.LabelCount, error) {
	return []graph.LabelCount{{ID: "Class", Name: "Class", Count: 2}}, f.err
}
func (f *fakeGraph) Nodes(_ context.Context, label string, limit, _ int) (*graph.NodePage, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return &graph.NodePage{Label: label, Nodes: []graph.NodeSummary{}}, nil
}
func (f *fakeGraph) Node(_ context.Context, id string) (*graph.NodeDetail, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &graph.NodeDetail{ID: id, Label: "Chunk"}, nil
}

type fakeAudit struct {
	mu         sync.Mutex
	events     []*models.AuditEvent
	lastFilter models.AuditFilter
	lastPage   [2]int
}

func (f *fakeAudit) LogAsync(e *models.AuditEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}
func (f *fakeAudit) QueryAuditLogs(_ context.Context, filter models.AuditFilter, page, size int) ([]models.AuditEvent, int64, error) {
	f.lastFilter, f.lastPage = filter, [2]int{page, size}
	return []models.AuditEvent{}, 41, nil
}
func (f *fakeAudit) VerifyChain(_ context.Context, actor string) (*models.ChainReport, error) {
	return &models.ChainReport{Actor: actor, Valid: true, Events: 3}, nil
}

type fakeLibrary struct {
	err       error
	chunk     *models.Chunk
	lastUser  string
	lastQuery services.ChunkQuery
	saved     map[string]bool
}

func (f *fakeLibrary) page() (*services.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &services.Page{Total: 0, Items: []any{}}, nil
}
func (f *fakeLibrary) Classes(context.Context, string) (*services.Page, error) { return f.page() }
func (f *fakeLibrary) Subjects(context.Context, string, string) (*services.Page, error) {
	return f.page()
}
func (f *fakeLibrary) Topics(context.Context, string, string) (*services.Page, error) {
	return f.page()
}
func (f *fakeLibrary) Lessons(context.Context, string, string) (*services.Page, error) {
	return f.page()
}
func (f *fakeLibrary) Chunks(_ context.Context, q services.ChunkQuery) (*services.Page, error) {
	f.lastQuery = q
	return f.page()
}
func (f *fakeLibrary) ActiveChunk(context.Context, string, string) (*models.Chunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.chunk == nil {
		return nil, services.ErrChunkNotFound
	}
	return f.chunk, nil
}
func (f *fakeLibrary) Chunk(_ context.Context, chunkID, _ string, username string) (*services.ChunkDetail, error) {
	f.lastUser = username
	if f.err != nil {
		return nil, f.err
	}
	return &services.ChunkDetail{ChunkView: services.ChunkView{ChunkID: chunkID}}, nil
}
func (f *fakeLibrary) ToggleSave(_ context.Context, username, chunkID, _ string) (bool, error) {
	f.lastUser = username
	if f.err != nil {
		return false, f.err
	}
	if f.saved == nil {
		f.saved = map[string]bool{}
	}
	f.saved[chunkID] = !f.saved[chunkID]
	return f.saved[chunkID], nil
}
func (f *fakeLibrary) Saved(_ context.Context, username, _ string, _, _ int) (*services.Page, error) {
	f.lastUser = username
	return f.page()
}

type fakeSearch struct {
	last services.SearchQuery
	err  error
}

func (f *fakeSearch) Search(_ context.Context, q services.SearchQuery) (*services.SearchResult, error) {
	f.last = q
	if f.err != nil {
		return nil, f.err
	}
	return &services.SearchResult{Items: []services.ChunkView{}}, nil
}

type fakePreview struct{ err error }

func (f fakePreview) ViewURL(_ context.Context, _ string, url string) (*services.ViewResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &services.ViewResult{ViewURL: url, OriginalURL: url, Ext: "pdf"}, nil
}
func (f fakePreview) Text(_ context.Context, chunkID, _ string, _ int) (*services.TextResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &services.TextResult{ChunkID: chunkID, Pages: 1, Text: []string{"hello"}}, nil
}
