package routes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"material-indexing-platform/internal/extraction"
	"material-indexing-platform/internal/logger"
	"material-indexing-platform/internal/storage"
	"material-indexing-platform/middleware"
	"material-indexing-platform/models"
	"material-indexing-platform/services"
	"material-indexing-platform/utils"
)

// MaterialService is the part of services.IndexingService the handlers use
type MaterialService interface {
	RegisterMaterial(ctx context.Context, in services.RegisterMaterialInput) (*models.Material, error)
	ListMaterials(ctx context.Context, orgID primitive.ObjectID, page, limit int) ([]models.Material, int64, error)
	SearchMaterials(ctx context.Context, query string, filters services.SearchFilters) ([]models.Material, error)
	GetMaterial(ctx context.Context, materialID string, orgID primitive.ObjectID) (*models.Material, error)
	MaterialChunks(ctx context.Context, material *models.Material) []models.IndexedChunk
	TriggerReprocess(ctx context.Context, materialID string, orgID primitive.ObjectID) error
	DeleteMaterial(ctx context.Context, materialID string, orgID primitive.ObjectID) error
}

// SweepEnqueuer queues a batch reprocess of failed and pending materials
type SweepEnqueuer interface {
	EnqueueSweep(ctx context.Context) error
}

// MaterialDeps are the collaborators of the material endpoints
type MaterialDeps struct {
	Service       MaterialService
	Objects       storage.ObjectStore
	Sweeper       SweepEnqueuer
	MaxBodySize   int64
	MaxUploadSize int64
}

// presignTTL is how long download links stay valid
const presignTTL = 15 * time.Minute

func SetupMaterialRoutes(router *gin.Engine, deps MaterialDeps, mw ...gin.HandlerFunc) {
	if deps.MaxBodySize <= 0 {
		deps.MaxBodySize = 1 << 20
	}
	if deps.MaxUploadSize <= 0 {
		deps.MaxUploadSize = 50 << 20
	}

	api := router.Group("/api/materials")
	api.Use(mw...)
	api.Use(middleware.RequireOrganization())

	small := middleware.RequestSizeLimit(deps.MaxBodySize)

	api.POST("", handleRegisterMaterial(deps))
	api.GET("", handleListMaterials(deps.Service))
	api.GET("/search", handleSearchMaterials(deps.Service))
	api.POST("/reprocess-failed", small, handleReprocessFailed(deps.Sweeper))
	api.GET("/:id", handleGetMaterial(deps.Service))
	api.GET("/:id/chunks", handleGetChunks(deps.Service))
	api.GET("/:id/download", handleDownloadURL(deps.Service, deps.Objects))
	api.POST("/:id/reprocess", small, handleReprocessMaterial(deps.Service))
	api.DELETE("/:id", handleDeleteMaterial(deps.Service))
}

// respondServiceError maps service errors onto HTTP responses
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidMaterial):
		utils.RespondWithBadRequest(c, err.Error(), nil)
	case errors.Is(err, services.ErrMaterialNotFound):
		utils.RespondWithNotFound(c, "Material not found")
	case errors.Is(err, services.ErrNotOwner):
		utils.RespondWithForbidden(c, "Material belongs to another organization")
	case errors.Is(err, services.ErrInvalidTransition):
		utils.RespondWithConflict(c, "Material cannot be reprocessed right now", gin.H{"reason": err.Error()})
	case errors.Is(err, storage.ErrCircuitOpen):
		utils.RespondWithUnavailable(c, "Object storage is unavailable")
	default:
		logger.Error("Material request failed", "path", c.FullPath(), "error", err, "request_id", middleware.GetRequestID(c))
		utils.RespondWithInternalError(c, "Internal server error", nil)
	}
}

func organization(c *gin.Context) primitive.ObjectID {
	org, _ := middleware.OrganizationID(c)
	return org
}

type registerMaterialRequest struct {
	Title       string     `json:"title" form:"title"`
	Description string     `json:"description" form:"description"`
	Category    string     `json:"category" form:"category"`
	Tags        []string   `json:"tags" form:"tags"`
	Author      string     `json:"author" form:"author"`
	PublishedAt *time.Time `json:"published_at" form:"published_at" time_format:"2006-01-02"`
	FileName    string     `json:"file_name" form:"-"`
	FileURL     string     `json:"file_url" form:"-"`
	FileSize    int64      `json:"file_size" form:"-"`
	FileType    string     `json:"file_type" form:"-"`
	ContentType string     `json:"content_type" form:"-"`
	IsPublic    bool       `json:"is_public" form:"is_public"`
}

func (r registerMaterialRequest) input(c *gin.Context) services.RegisterMaterialInput {
	return services.RegisterMaterialInput{
		Title:          r.Title,
		Description:    r.Description,
		Category:       models.Category(r.Category),
		Tags:           splitList(r.Tags),
		Author:         r.Author,
		PublishedAt:    r.PublishedAt,
		FileName:       r.FileName,
		FileURL:        r.FileURL,
		FileSize:       r.FileSize,
		FileType:       r.FileType,
		ContentType:    r.ContentType,
		UploadedBy:     middleware.UserID(c),
		OrganizationID: organization(c),
		IsPublic:       r.IsPublic,
	}
}

// handleRegisterMaterial accepts either JSON metadata for a file already in
// object storage, or a multipart upload with the file under "file"
func handleRegisterMaterial(deps MaterialDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.ContentType(), "multipart/") {
			uploadMaterial(c, deps)
			return
		}

		if c.Request.ContentLength > deps.MaxBodySize {
			utils.RespondWithError(c, http.StatusRequestEntityTooLarge, "request_too_large", "Request body exceeds maximum size", nil)
			return
		}
		var req registerMaterialRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body", gin.H{"error": err.Error()})
			return
		}

		material, err := deps.Service.RegisterMaterial(c.Request.Context(), req.input(c))
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, material)
	}
}

func uploadMaterial(c *gin.Context, deps MaterialDeps) {
	if deps.Objects == nil {
		utils.RespondWithUnavailable(c, "Uploads are not configured")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, deps.MaxUploadSize)

	var req registerMaterialRequest
	if err := c.ShouldBind(&req); err != nil {
		utils.RespondWithBadRequest(c, "Invalid form data", gin.H{"error": err.Error()})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		utils.RespondWithBadRequest(c, "No file provided", gin.H{"field": "file"})
		return
	}
	if header.Size > deps.MaxUploadSize {
		utils.RespondWithError(c, http.StatusRequestEntityTooLarge, "file_too_large", "File size exceeds maximum limit",
			gin.H{"max_size": deps.MaxUploadSize})
		return
	}

	base := filepath.Base(strings.ReplaceAll(header.Filename, `\`, "/"))
	ext := extraction.NormalizeExtension(filepath.Ext(base))
	if _, ok := extraction.KindFor(ext); !ok {
		utils.RespondWithBadRequest(c, fmt.Sprintf("%s: %s", extraction.ErrUnsupportedType, ext),
			gin.H{"supported": extraction.SupportedExtensions()})
		return
	}

	file, err := header.Open()
	if err != nil {
		utils.RespondWithBadRequest(c, "Cannot read uploaded file", nil)
		return
	}
	defer file.Close()

	org := organization(c)
	fileName := uuid.NewString()[:8] + "-" + base
	key := org.Hex() + "/" + fileName
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = storage.ContentTypeForKey(key)
	}

	ctx := c.Request.Context()
	if err := deps.Objects.Upload(ctx, key, file, contentType); err != nil {
		respondServiceError(c, fmt.Errorf("failed to store upload: %w", err))
		return
	}

	if req.Title == "" {
		req.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	req.FileName = fileName
	req.FileSize = header.Size
	req.FileType = ext
	req.ContentType = contentType

	material, err := deps.Service.RegisterMaterial(ctx, req.input(c))
	if err != nil {
		// Clean up the stored file if the record could not be created
		cleanupCtx, cancel := utils.Detached(ctx, utils.DefaultTimeout)
		defer cancel()
		if delErr := deps.Objects.Delete(cleanupCtx, key); delErr != nil {
			logger.Warn("Failed to remove orphaned upload", "key", key, "error", delErr)
		}
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, material)
}

func handleListMaterials(svc MaterialService) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, limit := 1, 20
		if p, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil && p > 0 {
			page = p
		}
		if l, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil && l > 0 && l <= 100 {
			limit = l
		}

		materials, total, err := svc.ListMaterials(c.Request.Context(), organization(c), page, limit)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"materials": materials,
			"total":     total,
			"page":      page,
			"limit":     limit,
		})
	}
}

// splitList accepts both repeated params and comma separated values
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func handleSearchMaterials(svc MaterialService) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := organization(c)
		filters := services.SearchFilters{
			Tags:      splitList(c.QueryArray("tags")),
			VisibleTo: &orgID,
		}

		for _, raw := range splitList(c.QueryArray("category")) {
			category := models.Category(raw)
			if !category.Valid() {
				utils.RespondWithBadRequest(c, "Unknown category", gin.H{"category": raw})
				return
			}
			filters.Categories = append(filters.Categories, category)
		}

		if raw := c.Query("organization_id"); raw != "" {
			id, err := primitive.ObjectIDFromHex(raw)
			if err != nil {
				utils.RespondWithBadRequest(c, "Invalid organization_id", nil)
				return
			}
			filters.OrganizationID = &id
		}

		query := strings.TrimSpace(c.Query("q"))
		results, err := svc.SearchMaterials(c.Request.Context(), query, filters)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"query":   query,
			"results": results,
			"count":   len(results),
		})
	}
}

func handleGetMaterial(svc MaterialService) gin.HandlerFunc {
	return func(c *gin.Context) {
		material, err := svc.GetMaterial(c.Request.Context(), c.Param("id"), organization(c))
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, material)
	}
}

func handleGetChunks(svc MaterialService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		material, err := svc.GetMaterial(ctx, c.Param("id"), organization(c))
		if err != nil {
			respondServiceError(c, err)
			return
		}

		chunks := svc.MaterialChunks(ctx, material)
		c.JSON(http.StatusOK, gin.H{
			"material_id":       material.ID.Hex(),
			"processing_status": material.ProcessingStatus,
			"chunks":            chunks,
			"total_chunks":      len(chunks),
		})
	}
}

func handleDownloadURL(svc MaterialService, objects storage.ObjectStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if objects == nil {
			utils.RespondWithUnavailable(c, "Object storage is not configured")
			return
		}
		ctx := c.Request.Context()
		material, err := svc.GetMaterial(ctx, c.Param("id"), organization(c))
		if err != nil {
			respondServiceError(c, err)
			return
		}

		url, err := objects.Presign(ctx, material.ObjectKey(), presignTTL)
		if errors.Is(err, storage.ErrObjectNotFound) {
			utils.RespondWithNotFound(c, "Stored file not found")
			return
		}
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"url":        url,
			"expires_in": int(presignTTL.Seconds()),
		})
	}
}

func handleReprocessMaterial(svc MaterialService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := svc.TriggerReprocess(c.Request.Context(), id, organization(c)); err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"material_id":       id,
			"processing_status": models.StatusPending,
		})
	}
}

func handleReprocessFailed(sweeper SweepEnqueuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sweeper == nil {
			utils.RespondWithUnavailable(c, "Task queue is not configured")
			return
		}
		if err := sweeper.EnqueueSweep(c.Request.Context()); err != nil {
			logger.Error("Failed to queue reprocess sweep", "error", err)
			utils.RespondWithUnavailable(c, "Task queue is unavailable")
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message": "Reprocessing of failed and pending materials queued"})
	}
}

func handleDeleteMaterial(svc MaterialService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.DeleteMaterial(c.Request.Context(), c.Param("id"), organization(c)); err != nil {
			respondServiceError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
