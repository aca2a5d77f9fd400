package routes

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"edu-data-console/internal/docstore"
	"edu-data-console/middleware"
	"edu-data-console/utils"
)

// SetupMongoRoutes registers collection and document administration plus the
// metadata import under /admin/mongo.
func SetupMongoRoutes(group *gin.RouterGroup, d Deps) {
	group.GET("/collections", ListCollections(d.Docs))
	group.POST("/collections/:name", CreateCollection(d.Docs))
	group.DELETE("/collections/:name", DropCollection(d.Docs))
	group.PUT("/collections/:name/rename", RenameCollection(d.Docs))

	group.GET("/documents", ListDocuments(d.Docs))
	group.POST("/documents/:collection", CreateDocument(d.Docs))
	group.PUT("/documents/:collection/:id", UpdateDocument(d.Docs))
	group.DELETE("/documents/:collection/:id", DeleteDocument(d.Docs))

	importGroup := group.Group("/import")
	importGroup.POST("/xlsx", ImportWorkbook(d))
	importGroup.POST("/json", ImportJSON(d))
	if d.Jobs != nil {
		importGroup.GET("/jobs/:id", GetImportJob(d.Jobs))
	} else {
		importGroup.GET("/jobs/:id", notConfigured("job queue"))
	}
}

func ListCollections(docs DocumentAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		names, err := docs.ListCollections(ctx)
		if err != nil {
			respondError(c, "list collections", err)
			return
		}
		c.JSON(http.StatusOK, names)
	}
}

func CreateCollection(docs DocumentAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		name, err := docs.CreateCollection(ctx, c.Param("name"))
		if err != nil {
			respondError(c, "create collection", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"created": true, "collection": name})
	}
}

func DropCollection(docs DocumentAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		name, err := docs.DropCollection(ctx, c.Param("name"))
		if err != nil {
			respondError(c, "drop collection", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true, "collection": name})
	}
}

func RenameCollection(docs DocumentAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		from, err := docstore.ValidateCollectionName(c.Param("name"))
		if err != nil {
			respondError(c, "rename collection", err)
			return
		}
		to, err := docstore.ValidateCollectionName(c.Query("new_name"))
		if err != nil {
			respondError(c, "rename collection", err)
			return
		}
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		if err := docs.RenameCollection(ctx, from, to); err != nil {
			respondError(c, "rename collection", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"renamed": true, "from": from, "to": to})
	}
}

func ListDocuments(docs DocumentAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := queryInt(c, "limit", 50)
		if !ok {
			return
		}
		offset, ok := queryInt(c, "offset", 0)
		if !ok {
			return
		}
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		page, err := docs.ListDocuments(ctx, c.Query("collection_name"), int64(limit), int64(offset))
		if err != nil {
			respondError(c, "list documents", err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func bindDocument(c *gin.Context) (map[string]any, bool) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondWithUnprocessable(c, "Body must be a JSON object", gin.H{"error": err.Error()})
		return nil, false
	}
	if body == nil {
		body = map[string]any{}
	}
	return body, true
}

func CreateDocument(docs DocumentAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, ok := bindDocument(c)
		if !ok {
			return
		}
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		id, err := docs.CreateDocument(ctx, c.Param("collection"), body, middleware.GetActor(c))
		if err != nil {
			respondError(c, "create document", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"inserted": true, "_id": id})
	}
}

func UpdateDocument(docs DocumentAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, ok := bindDocument(c)
		if !ok {
			return
		}
		id := strings.TrimSpace(c.Param("id"))
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		res, err := docs.UpdateDocument(ctx, c.Param("collection"), id, body, middleware.GetActor(c))
		if err != nil {
			respondError(c, "update document", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated": true, "matched": res.Matched, "modified": res.Modified, "_id": id})
	}
}

func DeleteDocument(docs DocumentAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.Param("id"))
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		n, err := docs.DeleteDocument(ctx, c.Param("collection"), id)
		if err != nil {
			respondError(c, "delete document", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true, "deleted_count": n, "_id": id})
	}
}
