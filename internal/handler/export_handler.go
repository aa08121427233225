package handler

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opencourse/lms-api/internal/models"
	"github.com/opencourse/lms-api/internal/service"
	appErrors "github.com/opencourse/lms-api/pkg/errors"
	"github.com/opencourse/lms-api/pkg/response"
)

// ExportHandler exposes weight report export endpoints.
type ExportHandler struct {
	exports *service.ExportService
}

// NewExportHandler constructs ExportHandler.
func NewExportHandler(exports *service.ExportService) *ExportHandler {
	return &ExportHandler{exports: exports}
}

type createExportRequest struct {
	CourseID        string `json:"course_id" binding:"required"`
	Format          string `json:"format" binding:"required"`
	IncludeChildren bool   `json:"include_children"`
}

// Create godoc
// @Summary Queue a weight report export
// @Description Generates a CSV or PDF weight breakdown in the background. Poll the job for a download link.
// @Tags Exports
// @Accept json
// @Produce json
// @Param payload body handler.createExportRequest true "Export payload"
// @Success 202 {object} response.Envelope
// @Router /exports [post]
func (h *ExportHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req createExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	params := models.ReportJobParams{
		Format:          models.ReportFormat(strings.ToLower(req.Format)),
		IncludeChildren: req.IncludeChildren,
	}
	job, err := h.exports.CreateJob(c.Request.Context(), req.CourseID, params, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, job, nil)
}

// Get godoc
// @Summary Poll an export job
// @Tags Exports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /exports/{id} [get]
func (h *ExportHandler) Get(c *gin.Context) {
	job, err := h.exports.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// Download godoc
// @Summary Download an exported report
// @Description Serves the file referenced by a signed download token.
// @Tags Exports
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /exports/download [get]
func (h *ExportHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if strings.TrimSpace(token) == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}

	file, relPath, err := h.exports.OpenDownload(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	filename := filepath.Base(relPath)
	mimeType := "application/octet-stream"
	switch filepath.Ext(filename) {
	case ".csv":
		mimeType = "text/csv"
	case ".pdf":
		mimeType = "application/pdf"
	}

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat export file"))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), mimeType, file, nil)
}
