package routes

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"edu-data-console/utils"
)

// SetupNeoRoutes registers the read-only graph browser under /admin/neo.
func SetupNeoRoutes(group *gin.RouterGroup, g GraphBrowser) {
	if g == nil {
		group.Any("/*any", notConfigured("graph store"))
		return
	}
	group.GET("/labels", ListLabels(g))
	group.GET("/nodes", ListNodes(g))
	group.GET("/nodes/:id", GetNode(g))
}

func ListLabels(g GraphBrowser) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		labels, err := g.Labels(ctx)
		if err != nil {
			respondError(c, "list labels", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"labels": labels})
	}
}

func ListNodes(g GraphBrowser) gin.HandlerFunc {
	return func(c *gin.Context) {
		label := strings.TrimSpace(c.Query("label"))
		if label == "" {
			utils.RespondWithUnprocessable(c, "label is required", nil)
			return
		}
		limit, ok := queryInt(c, "limit", 200)
		if !ok {
			return
		}
		skip, ok := queryInt(c, "skip", 0)
		if !ok {
			return
		}
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		page, err := g.Nodes(ctx, label, limit, skip)
		if err != nil {
			respondError(c, "list nodes", err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func GetNode(g GraphBrowser) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		node, err := g.Node(ctx, c.Param("id"))
		if err != nil {
			respondError(c, "get node", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"node": node})
	}
}
