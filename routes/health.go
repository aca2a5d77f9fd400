package routes

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"edu-data-console/utils"
)

// SetupHealthRoutes registers GET / and GET /health. Health pings every
// configured store; an unreachable one turns the answer into 503.
func SetupHealthRoutes(router *gin.Engine, checks map[string]Pinger) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "edu-data-console", "status": "ok"})
	})

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := utils.WithCustomTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		names := make([]string, 0, len(checks))
		for name := range checks {
			names = append(names, name)
		}
		sort.Strings(names)

		stores := gin.H{}
		healthy := true
		for _, name := range names {
			if err := checks[name].Ping(ctx); err != nil {
				stores[name] = gin.H{"status": "down", "error": err.Error()}
				healthy = false
				continue
			}
			stores[name] = gin.H{"status": "up"}
		}

		status, code := "healthy", http.StatusOK
		if !healthy {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "stores": stores, "timestamp": time.Now().UTC()})
	})
}
