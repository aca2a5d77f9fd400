package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"edu-data-console/models"
)

const maxAuditBody = 1 << 20

var sensitiveFields = []string{"password", "token", "secret", "api_key", "access_key", "private_key"}

// AuditSink is satisfied by *models.AuditLogger.
type AuditSink interface {
	LogAsync(event *models.AuditEvent)
}

// AuditMiddleware records every mutating admin request in the audit log.
// Reads are not audited.
func AuditMiddleware(auditor AuditSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		start := time.Now()

		// Capture request body for audit (skip multipart and cap size)
		var bodyBytes []byte
		if c.Request.Body != nil {
			ct := c.Request.Header.Get("Content-Type")
			if !strings.HasPrefix(ct, "multipart/") {
				bodyBytes, _ = io.ReadAll(io.LimitReader(c.Request.Body, maxAuditBody))
				c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(bodyBytes), c.Request.Body))
			}
		}

		requestID := GetRequestID(c)
		if requestID == "" {
			requestID = uuid.NewString()
			c.Set(requestIDKey, requestID)
		}

		c.Next()

		auditor.LogAsync(createAuditEvent(c, bodyBytes, start, requestID))
	}
}

func createAuditEvent(c *gin.Context, bodyBytes []byte, start time.Time, requestID string) *models.AuditEvent {
	status := c.Writer.Status()
	event := &models.AuditEvent{
		Timestamp: start.UTC(),
		Actor:     GetActor(c),
		Action:    mapHTTPMethodToAction(c.Request.Method),
		Method:    c.Request.Method,
		Path:      c.Request.URL.Path,
		Status:    status,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		RequestID: requestID,
		Success:   status < 400,
	}
	event.Resource, event.ResourceID = extractResource(c)

	if !event.Success {
		if len(c.Errors) > 0 {
			event.ErrorMessage = c.Errors.Last().Error()
		} else {
			event.ErrorMessage = http.StatusText(status)
		}
	}
	event.Changes = extractChangesFromBody(bodyBytes, event.Action)
	return event
}

func mapHTTPMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "CREATE"
	case http.MethodPut, http.MethodPatch:
		return "UPDATE"
	case http.MethodDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// extractResource names the admin area from the route and the target from
// path parameters or the path/object_key query.
func extractResource(c *gin.Context) (string, string) {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	parts := strings.Split(strings.Trim(route, "/"), "/")

	resource := "unknown"
	if len(parts) >= 2 && parts[0] == "admin" {
		resource = parts[1]
		if resource == "mongo" && len(parts) >= 3 && parts[2] == "import" {
			resource = "import"
		}
	} else if len(parts) >= 1 && parts[0] != "" {
		resource = parts[0]
	}

	var ids []string
	for _, p := range c.Params {
		if p.Value != "" {
			ids = append(ids, p.Value)
		}
	}
	if len(ids) == 0 {
		for _, q := range []string{"object_key", "path"} {
			if v := c.Query(q); v != "" {
				ids = append(ids, v)
				break
			}
		}
	}
	return resource, strings.Join(ids, "/")
}

// extractChangesFromBody keeps the JSON body with sensitive fields redacted.
func extractChangesFromBody(bodyBytes []byte, action string) map[string]any {
	if len(bodyBytes) == 0 || action == "DELETE" {
		return nil
	}

	var body map[string]any
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		raw := string(bodyBytes)
		if len(raw) > 2048 {
			raw = raw[:2048]
		}
		return map[string]any{"raw_body": raw}
	}
	return redact(body)
}

func redact(body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		switch {
		case isSensitive(k):
			out[k] = "[REDACTED]"
		default:
			if nested, ok := v.(map[string]any); ok {
				out[k] = redact(nested)
			} else {
				out[k] = v
			}
		}
	}
	return out
}

func isSensitive(field string) bool {
	lower := strings.ToLower(field)
	for _, s := range sensitiveFields {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
