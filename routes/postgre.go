package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"edu-data-console/models"
	"edu-data-console/utils"
)

// SetupPostgreRoutes registers login and the read-only table browser under
// /admin/postgre.
func SetupPostgreRoutes(group *gin.RouterGroup, rel RelationalBrowser) {
	if rel == nil {
		group.Any("/*any", notConfigured("relational store"))
		return
	}
	group.POST("/login", Login(rel))
	group.GET("/tables", ListTables(rel))
	group.GET("/tables/:table/columns", ListColumns(rel))
	group.GET("/tables/:table/rows", ListRows(rel))
	group.GET("/tables/:table/rows/:pk", GetRow(rel))
}

// Login checks credentials against the mirrored user table. Blank fields are
// a 422, wrong credentials 401 and a disabled account 403.
func Login(rel RelationalBrowser) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithUnprocessable(c, "username/password is required", gin.H{"error": err.Error()})
			return
		}
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		resp, err := rel.Login(ctx, req.Username, req.Password)
		if err != nil {
			respondError(c, "login", err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func ListTables(rel RelationalBrowser) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		tables, err := rel.Tables(ctx)
		if err != nil {
			respondError(c, "list tables", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tables": tables})
	}
}

func ListColumns(rel RelationalBrowser) gin.HandlerFunc {
	return func(c *gin.Context) {
		table := c.Param("table")
		cols, err := rel.Columns(table)
		if err != nil {
			respondError(c, "list columns", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"table_name": table, "columns": cols})
	}
}

func ListRows(rel RelationalBrowser) gin.HandlerFunc {
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

		page, err := rel.Rows(ctx, c.Param("table"), limit, offset)
		if err != nil {
			respondError(c, "list rows", err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func GetRow(rel RelationalBrowser) gin.HandlerFunc {
	return func(c *gin.Context) {
		table := c.Param("table")
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		row, err := rel.Row(ctx, table, c.Param("pk"))
		if err != nil {
			respondError(c, "get row", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"table_name": table, "row": row})
	}
}
