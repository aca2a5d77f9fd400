package routes

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"edu-data-console/internal/docstore"
	"edu-data-console/internal/graph"
	"edu-data-console/internal/importer"
	"edu-data-console/internal/objectstore"
	"edu-data-console/internal/queue"
	"edu-data-console/internal/relational"
	"edu-data-console/middleware"
	"edu-data-console/models"
	"edu-data-console/services"
)

// ObjectStore is satisfied by *objectstore.Service.
type ObjectStore interface {
	Bucket() string
	URL(key string) string
	List(ctx context.Context, p string) (*objectstore.Listing, error)
	CreateFolder(ctx context.Context, p string) (string, error)
	RenameFolder(ctx context.Context, oldPath, newPath string) (int, error)
	RenameObject(ctx context.Context, objectKey, newName string) (string, error)
	UploadFiles(ctx context.Context, p string, files []objectstore.Upload) (*objectstore.UploadResult, error)
	InsertItem(ctx context.Context, p, name string, file *objectstore.Upload) (string, error)
	DeleteFolder(ctx context.Context, p string) error
	DeleteObject(ctx context.Context, objectKey string) (string, error)
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// DocumentAdmin is satisfied by *docstore.Store.
type DocumentAdmin interface {
	ListCollections(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, name string) (string, error)
	DropCollection(ctx context.Context, name string) (string, error)
	RenameCollection(ctx context.Context, from, to string) error
	ListDocuments(ctx context.Context, collection string, limit, offset int64) (*docstore.DocumentPage, error)
	CreateDocument(ctx context.Context, collection string, body map[string]any, actor string) (string, error)
	UpdateDocument(ctx context.Context, collection, id string, body map[string]any, actor string) (docstore.UpdateResult, error)
	DeleteDocument(ctx context.Context, collection, id string) (int64, error)
}

// ImportRunner is satisfied by *importer.Engine.
type ImportRunner interface {
	Run(ctx context.Context, rows []importer.Row, opts importer.Options) (*importer.Report, error)
}

// RelationalBrowser is satisfied by *relational.Store.
type RelationalBrowser interface {
	Tables(ctx context.Context) ([]string, error)
	Columns(table string) ([]string, error)
	Rows(ctx context.Context, table string, limit, offset int) (*relational.RowPage, error)
	Row(ctx context.Context, table, pk string) (map[string]any, error)
	Login(ctx context.Context, username, password string) (*models.LoginResponse, error)
}

// GraphBrowser is satisfied by *graph.Client.
type GraphBrowser interface {
	Labels(ctx context.Context) ([]graph.LabelCount, error)
	Nodes(ctx context.Context, label string, limit, skip int) (*graph.NodePage, error)
	Node(ctx context.Context, elementID string) (*graph.NodeDetail, error)
}

// AuditStore is satisfied by *models.AuditLogger.
type AuditStore interface {
	middleware.AuditSink
	QueryAuditLogs(ctx context.Context, f models.AuditFilter, page, pageSize int) ([]models.AuditEvent, int64, error)
	VerifyChain(ctx context.Context, actor string) (*models.ChainReport, error)
}

// Library is satisfied by *services.LibraryService.
type Library interface {
	Classes(ctx context.Context, category string) (*services.Page, error)
	Subjects(ctx context.Context, classID, category string) (*services.Page, error)
	Topics(ctx context.Context, subjectID, category string) (*services.Page, error)
	Lessons(ctx context.Context, topicID, category string) (*services.Page, error)
	Chunks(ctx context.Context, q services.ChunkQuery) (*services.Page, error)
	ActiveChunk(ctx context.Context, chunkID, category string) (*models.Chunk, error)
	Chunk(ctx context.Context, chunkID, category, username string) (*services.ChunkDetail, error)
	ToggleSave(ctx context.Context, username, chunkID, category string) (bool, error)
	Saved(ctx context.Context, username, category string, limit, offset int) (*services.Page, error)
}

type Searcher interface {
	Search(ctx context.Context, q services.SearchQuery) (*services.SearchResult, error)
}

type Previewer interface {
	ViewURL(ctx context.Context, chunkID, chunkURL string) (*services.ViewResult, error)
	Text(ctx context.Context, chunkID, chunkURL string, maxPages int) (*services.TextResult, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps carries everything the handlers need. Optional stores are nil when the
// server runs without them; their routes answer 503.
type Deps struct {
	Objects    ObjectStore
	Docs       DocumentAdmin
	Importer   ImportRunner
	Queue      queue.Enqueuer
	Jobs       queue.JobStore
	Relational RelationalBrowser
	Graph      GraphBrowser
	Audit      AuditStore
	Library    Library
	Search     Searcher
	Preview    Previewer
	Health     map[string]Pinger
}

// Setup registers every route group on router.
func Setup(router *gin.Engine, d Deps) {
	SetupHealthRoutes(router, d.Health)

	admin := router.Group("/admin")
	admin.Use(middleware.ActorMiddleware(middleware.SystemActor))
	admin.Use(middleware.EnrichTrace())
	if d.Audit != nil {
		admin.Use(middleware.AuditMiddleware(d.Audit))
	}
	SetupMinioRoutes(admin.Group("/minio"), d.Objects)
	SetupMongoRoutes(admin.Group("/mongo"), d)
	SetupPostgreRoutes(admin.Group("/postgre"), d.Relational)
	SetupNeoRoutes(admin.Group("/neo"), d.Graph)
	if d.Audit != nil {
		SetupAuditRoutes(admin.Group("/audit"), d.Audit)
	}

	user := router.Group("/user")
	user.Use(middleware.ActorMiddleware(middleware.DefaultUser))
	user.Use(middleware.EnrichTrace())
	SetupUserDocsRoutes(user.Group("/docs"), d)
}
