package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"edu-data-console/internal/relational"
	"edu-data-console/middleware"
	"edu-data-console/services"
	"edu-data-console/utils"
)

const previewTimeout = 3 * time.Minute

// SetupUserDocsRoutes registers the end-user library under /user/docs.
func SetupUserDocsRoutes(group *gin.RouterGroup, d Deps) {
	group.GET("/classes", ListClasses(d.Library))
	group.GET("/subjects", ListSubjects(d.Library))
	group.GET("/topics", ListTopics(d.Library))
	group.GET("/lessons", ListLessons(d.Library))
	group.GET("/chunks", ListChunks(d.Library))
	group.GET("/saved/list", ListSaved(d.Library))
	if d.Search != nil {
		group.GET("/search", SearchDocs(d.Search))
	} else {
		group.GET("/search", notConfigured("search index"))
	}

	group.GET("/:chunkID", GetChunk(d.Library))
	group.POST("/:chunkID/save", ToggleSave(d.Library))
	if d.Preview != nil {
		group.GET("/:chunkID/view", ViewChunk(d.Library, d.Preview))
		group.GET("/:chunkID/text", ChunkText(d.Library, d.Preview))
	} else {
		group.GET("/:chunkID/view", notConfigured("object store"))
		group.GET("/:chunkID/text", notConfigured("object store"))
	}
}

func category(c *gin.Context) string {
	return c.DefaultQuery("category", "document")
}

func ListClasses(lib Library) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		page, err := lib.Classes(ctx, category(c))
		if err != nil {
			respondError(c, "list classes", err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func ListSubjects(lib Library) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		page, err := lib.Subjects(ctx, c.Query("classID"), category(c))
		if err != nil {
			respondError(c, "list subjects", err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func ListTopics(lib Library) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		page, err := lib.Topics(ctx, c.Query("subjectID"), category(c))
		if err != nil {
			respondError(c, "list topics", err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func ListLessons(lib Library) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		page, err := lib.Lessons(ctx, c.Query("topicID"), category(c))
		if err != nil {
			respondError(c, "list lessons", err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func ListChunks(lib Library) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := queryInt(c, "limit", services.DefaultChunkLimit)
		if !ok {
			return
		}
		offset, ok := queryInt(c, "offset", 0)
		if !ok {
			return
		}
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		page, err := lib.Chunks(ctx, services.ChunkQuery{
			LessonID: c.Query("lessonID"),
			Category: category(c),
			Username: middleware.GetActor(c),
			Limit:    limit,
			Offset:   offset,
			Sort:     c.DefaultQuery("sort", "name"),
		})
		if err != nil {
			respondError(c, "list chunks", err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

// SearchDocs ranks chunks by keyword similarity, optionally restricted to
// one branch of the hierarchy.
func SearchDocs(search Searcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := queryInt(c, "limit", services.DefaultSearchLimit)
		if !ok {
			return
		}
		offset, ok := queryInt(c, "offset", 0)
		if !ok {
			return
		}
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		res, err := search.Search(ctx, services.SearchQuery{
			Q:        c.Query("q"),
			Category: category(c),
			Username: middleware.GetActor(c),
			Filter: relational.ChunkFilter{
				ClassID:   c.Query("classID"),
				SubjectID: c.Query("subjectID"),
				TopicID:   c.Query("topicID"),
				LessonID:  c.Query("lessonID"),
			},
			Limit:  limit,
			Offset: offset,
			Debug:  utils.QueryBool(c, "debug", false),
		})
		if err != nil {
			respondError(c, "search", err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func ListSaved(lib Library) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := queryInt(c, "limit", services.DefaultChunkLimit)
		if !ok {
			return
		}
		offset, ok := queryInt(c, "offset", 0)
		if !ok {
			return
		}
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		page, err := lib.Saved(ctx, middleware.GetActor(c), category(c), limit, offset)
		if err != nil {
			respondError(c, "list saved", err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func GetChunk(lib Library) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		detail, err := lib.Chunk(ctx, c.Param("chunkID"), category(c), middleware.GetActor(c))
		if err != nil {
			respondError(c, "get chunk", err)
			return
		}
		c.JSON(http.StatusOK, detail)
	}
}

func ToggleSave(lib Library) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		saved, err := lib.ToggleSave(ctx, middleware.GetActor(c), c.Param("chunkID"), category(c))
		if err != nil {
			respondError(c, "toggle save", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"saved": saved})
	}
}

// ViewChunk returns a browser-displayable URL. Office documents are
// converted on first view, so the timeout is generous.
func ViewChunk(lib Library, preview Previewer) gin.HandlerFunc {
	return func(c *gin.Context) {
		chunkID := c.Param("chunkID")
		ctx, cancel := utils.WithCustomTimeout(c.Request.Context(), previewTimeout)
		defer cancel()

		chunk, err := lib.ActiveChunk(ctx, chunkID, category(c))
		if err != nil {
			respondError(c, "view chunk", err)
			return
		}
		if strings.TrimSpace(chunk.ChunkURL) == "" {
			utils.RespondWithBadRequest(c, "Chunk has no URL", nil)
			return
		}
		res, err := preview.ViewURL(ctx, chunkID, chunk.ChunkURL)
		if err != nil {
			respondError(c, "view chunk", err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func ChunkText(lib Library, preview Previewer) gin.HandlerFunc {
	return func(c *gin.Context) {
		maxPages, ok := queryInt(c, "max_pages", 0)
		if !ok {
			return
		}
		chunkID := c.Param("chunkID")
		ctx, cancel := utils.WithCustomTimeout(c.Request.Context(), previewTimeout)
		defer cancel()

		chunk, err := lib.ActiveChunk(ctx, chunkID, category(c))
		if err != nil {
			respondError(c, "chunk text", err)
			return
		}
		res, err := preview.Text(ctx, chunkID, chunk.ChunkURL, maxPages)
		if err != nil {
			respondError(c, "chunk text", err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
