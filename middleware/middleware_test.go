package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edu-data-console/internal/logger"
	"edu-data-console/models"
	"edu-data-console/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memAudit struct {
	mu     sync.Mutex
	events []*models.AuditEvent
}

func (m *memAudit) LogAsync(e *models.AuditEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func TestRequestIDMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, w.Body.String())

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "given-id")
	r.ServeHTTP(w, req)
	assert.Equal(t, "given-id", w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("a", 200))
	r.ServeHTTP(w, req)
	assert.Len(t, w.Body.String(), 36)
}

func TestRequestIDReachesRequestContext(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, logger.RequestID(c.Request.Context())) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, " abc ")
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Body.String())
}

func TestActorMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(ActorMiddleware(DefaultUser))
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, GetActor(c)) })

	cases := []struct {
		headers map[string]string
		want    string
	}{
		{nil, "user"},
		{map[string]string{ActorHeader: "ops"}, "ops"},
		{map[string]string{ActorHeader: "ops", UserHeader: "alice"}, "alice"},
		{map[string]string{UserHeader: "  "}, "user"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		for k, v := range tc.headers {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Body.String())
	}
}

func TestGetActorWithoutMiddleware(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, SystemActor, GetActor(c))
}

func TestAuditMiddlewareRecordsMutations(t *testing.T) {
	sink := &memAudit{}
	r := gin.New()
	r.Use(RequestIDMiddleware(), ActorMiddleware(SystemActor), AuditMiddleware(sink))
	r.POST("/admin/mongo/documents/:collection", func(c *gin.Context) {
		var body map[string]any
		require.NoError(t, c.ShouldBindJSON(&body))
		assert.Equal(t, "alice", body["username"], "body still readable by the handler")
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})
	r.DELETE("/admin/minio/files", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/admin/mongo/collections", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/admin/mongo/documents/user",
		strings.NewReader(`{"username":"alice","password":"s3cret","profile":{"api_key":"x","city":"HN"}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(UserHeader, "admin1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/admin/minio/files?object_key=L10/a.pdf", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/admin/mongo/collections", nil))

	require.Len(t, sink.events, 2)
	created := sink.events[0]
	assert.Equal(t, "admin1", created.Actor)
	assert.Equal(t, "CREATE", created.Action)
	assert.Equal(t, "mongo", created.Resource)
	assert.Equal(t, "user", created.ResourceID)
	assert.Equal(t, http.StatusCreated, created.Status)
	assert.True(t, created.Success)
	assert.NotEmpty(t, created.RequestID)
	assert.Equal(t, "[REDACTED]", created.Changes["password"])
	assert.Equal(t, "alice", created.Changes["username"])
	assert.Equal(t, map[string]any{"api_key": "[REDACTED]", "city": "HN"}, created.Changes["profile"])

	deleted := sink.events[1]
	assert.Equal(t, SystemActor, deleted.Actor)
	assert.Equal(t, "DELETE", deleted.Action)
	assert.Equal(t, "minio", deleted.Resource)
	assert.Equal(t, "L10/a.pdf", deleted.ResourceID)
	assert.False(t, deleted.Success)
	assert.Equal(t, "Not Found", deleted.ErrorMessage)
	assert.Nil(t, deleted.Changes)
}

func TestAuditResourceForImport(t *testing.T) {
	sink := &memAudit{}
	r := gin.New()
	r.Use(AuditMiddleware(sink))
	r.POST("/admin/mongo/import/xlsx", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/admin/mongo/import/xlsx", strings.NewReader("--x"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	r.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, sink.events, 1)
	assert.Equal(t, "import", sink.events[0].Resource)
	assert.Nil(t, sink.events[0].Changes, "multipart bodies are not captured")
}

func TestExtractChangesNonJSON(t *testing.T) {
	got := extractChangesFromBody([]byte("plain text"), "UPDATE")
	assert.Equal(t, map[string]any{"raw_body": "plain text"}, got)
	assert.Nil(t, extractChangesFromBody(nil, "CREATE"))
}

func TestRequestSizeLimit(t *testing.T) {
	r := gin.New()
	r.Use(RequestSizeLimit(8))
	handler := func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); utils.IsBodyTooLarge(err) {
			utils.RespondWithTooLarge(c, c.GetInt64(utils.BodyLimitKey), -1)
			return
		}
		c.Status(http.StatusOK)
	}
	r.POST("/x", handler)
	r.GET("/x", handler)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "request_too_large")
	assert.Contains(t, w.Body.String(), `"received":10`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("012")))
	assert.Equal(t, http.StatusOK, w.Code)

	// Chunked bodies are only caught while reading.
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("0123456789"))
	req.ContentLength = -1
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), `"max_size":8`)
	assert.NotContains(t, w.Body.String(), "received")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestSizeLimitDisabled(t *testing.T) {
	r := gin.New()
	r.Use(RequestSizeLimit(0))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(strings.Repeat("x", 1024))))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSConfig(t *testing.T) {
	cfg, ok := corsConfig([]string{" http://localhost:3000/", "", "http://localhost:3000", "https://console.example.edu"})
	require.True(t, ok)
	assert.Equal(t, []string{"http://localhost:3000", "https://console.example.edu"}, cfg.AllowOrigins)
	assert.True(t, cfg.AllowCredentials)
	assert.NotContains(t, cfg.AllowMethods, "PATCH")
	assert.Contains(t, cfg.AllowHeaders, ActorHeader)
	assert.Contains(t, cfg.ExposeHeaders, "X-RateLimit-Reset")

	cfg, ok = corsConfig([]string{"*", "http://localhost:3000"})
	require.True(t, ok)
	assert.True(t, cfg.AllowAllOrigins)
	assert.Empty(t, cfg.AllowOrigins)
	assert.False(t, cfg.AllowCredentials)

	_, ok = corsConfig([]string{" ", ""})
	assert.False(t, ok)
}

func TestCORSMiddlewareWithOrigins(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddlewareWithOrigins([]string{"http://localhost:5173"}))
	r.PUT("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodPut, "/x", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Without origins the policy is same-origin only.
	r = gin.New()
	r.Use(CORSMiddlewareWithOrigins(nil))
	r.PUT("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	req = httptest.NewRequest(http.MethodPut, "/x", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

type memRequests struct {
	paths    []string
	statuses []string
}

func (m *memRequests) RecordRequest(_, path, status string, _ float64) {
	m.paths = append(m.paths, path)
	m.statuses = append(m.statuses, status)
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	rec := &memRequests{}
	r := gin.New()
	r.Use(MetricsMiddleware(rec))
	r.GET("/user/docs/:chunkID", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/user/docs/C1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, []string{"/user/docs/:chunkID", "unmatched"}, rec.paths)
	assert.Equal(t, []string{"error", "error"}, rec.statuses)
}

func TestRateLimitWithoutRedisPassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(RateLimitMiddleware(nil, 1, 60))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
