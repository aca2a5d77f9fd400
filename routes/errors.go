package routes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"edu-data-console/internal/docstore"
	"edu-data-console/internal/graph"
	"edu-data-console/internal/importer"
	"edu-data-console/internal/logger"
	"edu-data-console/internal/objectstore"
	"edu-data-console/internal/queue"
	"edu-data-console/internal/relational"
	"edu-data-console/services"
	"edu-data-console/utils"
)

type unavailable interface {
	Unavailable() bool
}

var (
	notFoundErrors = []error{
		docstore.ErrNotFound,
		relational.ErrRowNotFound,
		relational.ErrTableNotAllowed,
		graph.ErrLabelNotAllowed,
		graph.ErrNodeNotFound,
		objectstore.ErrNotFound,
		services.ErrChunkNotFound,
		queue.ErrJobNotFound,
	}
	conflictErrors = []error{
		docstore.ErrCollectionExists,
		docstore.ErrConflict,
		objectstore.ErrExists,
	}
	unprocessableErrors = []error{
		docstore.ErrInvalid,
		relational.ErrMissingCredentials,
		importer.ErrEmptyWorkbook,
		importer.ErrUnreadableWorkbook,
		importer.ErrInvalidPayload,
	}
	badRequestErrors = []error{
		relational.ErrInvalidKey,
		relational.ErrUnknownColumn,
		relational.ErrInvalidPage,
		graph.ErrInvalidPage,
		graph.ErrRelationNotAllowed,
		objectstore.ErrInvalidPath,
		services.ErrInvalidPage,
		services.ErrNoURL,
		services.ErrForeignBucket,
		services.ErrNotConvertible,
	}
)

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// respondError maps a store or service error onto the API's status codes.
func respondError(c *gin.Context, op string, err error) {
	var u unavailable
	switch {
	case errors.As(err, &u) && u.Unavailable(), errors.Is(err, importer.ErrDocumentStoreUnavailable):
		logger.FromContext(c.Request.Context()).Warn("backing store unavailable", "op", op, "error", err)
		utils.RespondWithUnavailable(c, "Backing store is unavailable", gin.H{"op": op})
	case errors.Is(err, relational.ErrBadCredentials):
		utils.RespondWithUnauthorized(c, err.Error())
	case errors.Is(err, relational.ErrInactive):
		utils.RespondWithForbidden(c, err.Error())
	case isAny(err, notFoundErrors):
		utils.RespondWithNotFound(c, err.Error())
	case isAny(err, conflictErrors):
		utils.RespondWithConflict(c, err.Error())
	case isAny(err, unprocessableErrors):
		utils.RespondWithUnprocessable(c, err.Error(), nil)
	case isAny(err, badRequestErrors):
		utils.RespondWithBadRequest(c, err.Error(), nil)
	default:
		logger.FromContext(c.Request.Context()).Error("request failed", "op", op, "error", err)
		utils.RespondWithInternalError(c, "Failed to "+op, gin.H{"error": err.Error()})
	}
	_ = c.Error(err)
}

// notConfigured answers 503 for a store the server was started without.
func notConfigured(store string) gin.HandlerFunc {
	return func(c *gin.Context) {
		utils.RespondWithError(c, http.StatusServiceUnavailable, "service_unavailable",
			store+" is not configured", nil)
	}
}

func queryInt(c *gin.Context, name string, def int) (int, bool) {
	n, err := utils.QueryInt(c, name, def)
	if err != nil {
		utils.RespondWithBadRequest(c, err.Error(), nil)
		return 0, false
	}
	return n, true
}
