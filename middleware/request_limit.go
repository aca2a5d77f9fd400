package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"edu-data-console/utils"
)

// RequestSizeLimit caps request bodies at maxSize bytes. A declared length
// over the cap is refused before the handler runs; a chunked body is cut off
// while the handler reads it, and the handler answers through
// utils.RespondWithTooLarge. A non-positive cap disables the check.
func RequestSizeLimit(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxSize <= 0 || !carriesBody(c.Request.Method) {
			c.Next()
			return
		}
		if n := c.Request.ContentLength; n > maxSize {
			utils.RespondWithTooLarge(c, maxSize, n)
			c.Abort()
			return
		}
		c.Set(utils.BodyLimitKey, maxSize)
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

func carriesBody(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}
