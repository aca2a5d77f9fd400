package middleware

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Methods the admin console and the user library actually route.
var corsMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}

// corsConfig builds the policy for the configured origins. Entries are
// trimmed and stripped of a trailing slash; "*" opens every origin but then
// drops credentials, which browsers refuse to combine with a wildcard.
func corsConfig(allowedOrigins []string) (cors.Config, bool) {
	cfg := cors.Config{
		AllowMethods:  corsMethods,
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", UserHeader, ActorHeader, RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:        12 * time.Hour,
	}

	seen := map[string]bool{}
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch {
		case o == "":
		case o == "*":
			cfg.AllowAllOrigins = true
		case !seen[o]:
			seen[o] = true
			cfg.AllowOrigins = append(cfg.AllowOrigins, o)
		}
	}
	if cfg.AllowAllOrigins {
		cfg.AllowOrigins = nil
		return cfg, true
	}
	cfg.AllowCredentials = true
	return cfg, len(cfg.AllowOrigins) > 0
}

// CORSMiddlewareWithOrigins allows the configured browser origins. With no
// usable origin the server answers same-origin requests only.
func CORSMiddlewareWithOrigins(allowedOrigins []string) gin.HandlerFunc {
	cfg, ok := corsConfig(allowedOrigins)
	if !ok {
		return func(c *gin.Context) { c.Next() }
	}
	return cors.New(cfg)
}
