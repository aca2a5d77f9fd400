package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ActorHeader     = "X-Actor"
	UserHeader      = "X-User"
	actorContextKey = "actor"

	// Fallback actors when a request names nobody.
	SystemActor = "system"
	DefaultUser = "user"
)

// ActorMiddleware records who is acting: X-User, then X-Actor, then fallback.
// There is no authentication; the header is trusted as given.
func ActorMiddleware(fallback string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(UserHeader))
		if actor == "" {
			actor = strings.TrimSpace(c.GetHeader(ActorHeader))
		}
		if actor == "" {
			actor = fallback
		}
		c.Set(actorContextKey, actor)
		c.Next()
	}
}

// GetActor returns the actor set by ActorMiddleware, or "system".
func GetActor(c *gin.Context) string {
	if v, ok := c.Get(actorContextKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return SystemActor
}
