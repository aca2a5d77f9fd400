package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	ErrorCode string      `json:"error_code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// RespondWithError writes the error envelope, tagged with the request ID
// when RequestIDMiddleware ran.
func RespondWithError(c *gin.Context, statusCode int, errorCode, message string, details interface{}) {
	c.JSON(statusCode, ErrorResponse{
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
		RequestID: c.GetString("request_id"),
	})
}

// RespondWithBadRequest sends a 400 Bad Request error
func RespondWithBadRequest(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusBadRequest, "bad_request", message, details)
}

// RespondWithUnauthorized sends a 401 Unauthorized error
func RespondWithUnauthorized(c *gin.Context, message string) {
	RespondWithError(c, http.StatusUnauthorized, "unauthorized", message, nil)
}

// RespondWithForbidden sends a 403 Forbidden error
func RespondWithForbidden(c *gin.Context, message string) {
	RespondWithError(c, http.StatusForbidden, "forbidden", message, nil)
}

// RespondWithNotFound sends a 404 Not Found error
func RespondWithNotFound(c *gin.Context, message string) {
	RespondWithError(c, http.StatusNotFound, "not_found", message, nil)
}

// RespondWithConflict sends a 409 Conflict error
func RespondWithConflict(c *gin.Context, message string) {
	RespondWithError(c, http.StatusConflict, "conflict", message, nil)
}

// RespondWithUnprocessable sends a 422 for input that parsed but is unusable
func RespondWithUnprocessable(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusUnprocessableEntity, "unprocessable_entity", message, details)
}

// RespondWithUnavailable sends a 503 when a backing store is down or not configured
func RespondWithUnavailable(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusServiceUnavailable, "service_unavailable", message, details)
}

// RespondWithInternalError sends a 500 Internal Server Error
func RespondWithInternalError(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusInternalServerError, "internal_error", message, details)
}

// BodyLimitKey is the context key under which the body size cap is stored.
const BodyLimitKey = "body_limit"

// RespondWithTooLarge sends a 413 naming the body cap. received is the
// declared length, or -1 when the overflow was found while reading.
func RespondWithTooLarge(c *gin.Context, limit, received int64) {
	details := gin.H{"max_size": limit, "max_size_mb": limit / (1024 * 1024)}
	if received >= 0 {
		details["received"] = received
	}
	RespondWithError(c, http.StatusRequestEntityTooLarge, "request_too_large", "Request body exceeds maximum size", details)
}

// IsBodyTooLarge reports whether err comes from reading past the body cap.
func IsBodyTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge)
}
