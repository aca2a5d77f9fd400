package routes

import (
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"edu-data-console/internal/objectstore"
	"edu-data-console/utils"
)

type createFolderRequest struct {
	FullPath string `json:"full_path" binding:"required"`
}

type renameFolderRequest struct {
	OldPath string `json:"old_path" binding:"required"`
	NewPath string `json:"new_path" binding:"required"`
}

type renameObjectRequest struct {
	ObjectKey string `json:"object_key" binding:"required"`
	NewName   string `json:"new_name" binding:"required"`
}

// SetupMinioRoutes registers the object store browser under /admin/minio.
func SetupMinioRoutes(group *gin.RouterGroup, objects ObjectStore) {
	if objects == nil {
		group.Any("/*any", notConfigured("object store"))
		return
	}
	group.GET("/list", ListObjects(objects))
	group.POST("/folders", CreateFolder(objects))
	group.PUT("/folders", RenameFolder(objects))
	group.PUT("/objects", RenameObject(objects))
	group.POST("/files", UploadFiles(objects))
	group.POST("/objects", InsertObject(objects))
	group.DELETE("/folders", DeleteFolder(objects))
	group.DELETE("/files", DeleteFile(objects))
	group.GET("/download", DownloadLink(objects))
}

const downloadTTL = time.Hour

func ListObjects(objects ObjectStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		listing, err := objects.List(ctx, c.Query("path"))
		if err != nil {
			respondError(c, "list objects", err)
			return
		}
		c.JSON(http.StatusOK, listing)
	}
}

func CreateFolder(objects ObjectStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createFolderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithUnprocessable(c, "full_path is required", gin.H{"error": err.Error()})
			return
		}
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		marker, err := objects.CreateFolder(ctx, req.FullPath)
		if err != nil {
			respondError(c, "create folder", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "created",
			"bucket": objects.Bucket(),
			"folder": gin.H{"fullPath": strings.TrimSuffix(marker, "/"), "marker": marker},
		})
	}
}

func RenameFolder(objects ObjectStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req renameFolderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithUnprocessable(c, "old_path and new_path are required", gin.H{"error": err.Error()})
			return
		}
		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		copied, err := objects.RenameFolder(ctx, req.OldPath, req.NewPath)
		if err != nil {
			respondError(c, "rename folder", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":         "renamed",
			"bucket":         objects.Bucket(),
			"old_path":       strings.Trim(req.OldPath, "/"),
			"new_path":       strings.Trim(req.NewPath, "/"),
			"copied_objects": copied,
		})
	}
}

func RenameObject(objects ObjectStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req renameObjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithUnprocessable(c, "object_key and new_name are required", gin.H{"error": err.Error()})
			return
		}
		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		newKey, err := objects.RenameObject(ctx, req.ObjectKey, req.NewName)
		if err != nil {
			respondError(c, "rename object", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":         "renamed",
			"bucket":         objects.Bucket(),
			"old_object_key": req.ObjectKey,
			"new_object_key": newKey,
			"url":            objects.URL(newKey),
		})
	}
}

func openUpload(fh *multipart.FileHeader) (objectstore.Upload, multipart.File, error) {
	f, err := fh.Open()
	if err != nil {
		return objectstore.Upload{}, nil, err
	}
	ct := fh.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	return objectstore.Upload{Filename: fh.Filename, ContentType: ct, Size: fh.Size, Body: f}, f, nil
}

func UploadFiles(objects ObjectStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if utils.IsBodyTooLarge(err) {
			utils.RespondWithTooLarge(c, c.GetInt64(utils.BodyLimitKey), -1)
			return
		}
		if err != nil {
			utils.RespondWithBadRequest(c, "Expected a multipart form", gin.H{"error": err.Error()})
			return
		}
		path := strings.TrimSpace(c.PostForm("path"))
		if path == "" {
			utils.RespondWithUnprocessable(c, "path is required", nil)
			return
		}
		headers := form.File["files"]
		if len(headers) == 0 {
			utils.RespondWithUnprocessable(c, "files are required", nil)
			return
		}

		uploads := make([]objectstore.Upload, 0, len(headers))
		for _, fh := range headers {
			u, f, err := openUpload(fh)
			if err != nil {
				utils.RespondWithBadRequest(c, "Failed to read uploaded file", gin.H{"filename": fh.Filename, "error": err.Error()})
				return
			}
			defer f.Close()
			uploads = append(uploads, u)
		}

		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		res, err := objects.UploadFiles(ctx, path, uploads)
		if err != nil {
			respondError(c, "upload files", err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func InsertObject(objects ObjectStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := strings.TrimSpace(c.PostForm("path"))
		if path == "" {
			utils.RespondWithUnprocessable(c, "path is required", nil)
			return
		}

		var upload *objectstore.Upload
		if fh, err := c.FormFile("file"); err == nil {
			u, f, err := openUpload(fh)
			if err != nil {
				utils.RespondWithBadRequest(c, "Failed to read uploaded file", gin.H{"error": err.Error()})
				return
			}
			defer f.Close()
			upload = &u
		}

		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		key, err := objects.InsertItem(ctx, path, c.PostForm("name"), upload)
		if err != nil {
			respondError(c, "insert object", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":     "inserted",
			"bucket":     objects.Bucket(),
			"path":       strings.Trim(path, "/"),
			"object_key": key,
			"url":        objects.URL(key),
			"meta_json":  c.PostForm("meta_json"),
		})
	}
}

func DeleteFolder(objects ObjectStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := strings.TrimSpace(c.Query("path"))
		if path == "" {
			utils.RespondWithUnprocessable(c, "path is required", nil)
			return
		}
		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		if err := objects.DeleteFolder(ctx, path); err != nil {
			respondError(c, "delete folder", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "bucket": objects.Bucket(), "path": strings.Trim(path, "/")})
	}
}

func DeleteFile(objects ObjectStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.Query("object_key"))
		if key == "" {
			utils.RespondWithUnprocessable(c, "object_key is required", nil)
			return
		}
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		deleted, err := objects.DeleteObject(ctx, key)
		if err != nil {
			respondError(c, "delete file", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "bucket": objects.Bucket(), "object_key": deleted})
	}
}

// DownloadLink answers a presigned GET URL for one object.
func DownloadLink(objects ObjectStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := objectstore.CleanPath(c.Query("object_key"))
		if err != nil {
			respondError(c, "presign object", err)
			return
		}
		if key == "" {
			utils.RespondWithUnprocessable(c, "object_key is required", nil)
			return
		}
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		ok, err := objects.Exists(ctx, key)
		if err != nil {
			respondError(c, "presign object", err)
			return
		}
		if !ok {
			utils.RespondWithNotFound(c, "Object not found")
			return
		}
		link, err := objects.PresignGet(ctx, key, downloadTTL)
		if err != nil {
			respondError(c, "presign object", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"object_key": key,
			"url":        link,
			"expires_in": int(downloadTTL.Seconds()),
		})
	}
}
