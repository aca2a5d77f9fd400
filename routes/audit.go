package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"edu-data-console/models"
	"edu-data-console/utils"
)

// SetupAuditRoutes registers the audit log browser under /admin/audit.
func SetupAuditRoutes(group *gin.RouterGroup, auditor AuditStore) {
	group.GET("/logs", QueryAuditLogs(auditor))
	group.GET("/verify", VerifyAuditChain(auditor))
}

func parseTime(c *gin.Context, name string) (time.Time, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		utils.RespondWithBadRequest(c, name+" must be RFC3339", gin.H{"value": raw})
		return time.Time{}, false
	}
	return t, true
}

// QueryAuditLogs queries audit logs with filters
func QueryAuditLogs(auditor AuditStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, ok := queryInt(c, "page", 1)
		if !ok {
			return
		}
		pageSize, ok := queryInt(c, "page_size", 20)
		if !ok {
			return
		}
		if page < 1 {
			page = 1
		}
		if pageSize < 1 || pageSize > 100 {
			pageSize = 20
		}

		from, ok := parseTime(c, "start_time")
		if !ok {
			return
		}
		to, ok := parseTime(c, "end_time")
		if !ok {
			return
		}
		filter := models.AuditFilter{
			Actor:    c.Query("actor"),
			Action:   strings.ToUpper(c.Query("action")),
			Resource: c.Query("resource"),
			From:     from,
			To:       to,
		}

		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		events, total, err := auditor.QueryAuditLogs(ctx, filter, page, pageSize)
		if err != nil {
			utils.RespondWithError(c, http.StatusInternalServerError, "query_failed", "Failed to query audit logs", nil)
			return
		}

		totalPages := (total + int64(pageSize) - 1) / int64(pageSize)
		c.JSON(http.StatusOK, gin.H{
			"events": events,
			"pagination": gin.H{
				"page":        page,
				"page_size":   pageSize,
				"total":       total,
				"total_pages": totalPages,
			},
		})
	}
}

// VerifyAuditChain recomputes the hash chain of one actor.
func VerifyAuditChain(auditor AuditStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.Query("actor"))
		if actor == "" {
			utils.RespondWithUnprocessable(c, "actor is required", nil)
			return
		}
		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		report, err := auditor.VerifyChain(ctx, actor)
		if err != nil {
			utils.RespondWithError(c, http.StatusInternalServerError, "verification_failed", "Failed to verify audit chain", nil)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}
