package handler

import (
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/skillbridge/tpm-api/internal/models"
	"github.com/skillbridge/tpm-api/internal/service"
	appErrors "github.com/skillbridge/tpm-api/pkg/errors"
	"github.com/skillbridge/tpm-api/pkg/response"
)

// ReportHandler exposes the master audit log and export endpoints.
type ReportHandler struct {
	reports *service.ReportService
}

// NewReportHandler constructs handler.
func NewReportHandler(reports *service.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// MasterLog godoc
// @Summary Master audit log
// @Tags Reports
// @Produce json
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Param action query string false "Action filter"
// @Param userId query string false "User filter"
// @Param resource query string false "Resource filter"
// @Param dateFrom query string false "Start date (YYYY-MM-DD)"
// @Param dateTo query string false "End date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /reports/master-log [get]
func (h *ReportHandler) MasterLog(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.MasterLogFilter{
		Action:   c.Query("action"),
		UserID:   c.Query("userId"),
		Resource: c.Query("resource"),
		DateFrom: queryDate(c, "dateFrom"),
		DateTo:   queryDate(c, "dateTo"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "pageSize", 50),
	}

	page, err := h.reports.MasterLog(c.Request.Context(), scope, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, page, nil)
}

// RequestExport godoc
// @Summary Request an attendance export
// @Description Enqueues an asynchronous CSV or PDF export for a program
// @Tags Reports
// @Accept json
// @Produce json
// @Param id path string true "Program ID"
// @Param payload body map[string]string true "Export format (csv or pdf)"
// @Success 202 {object} response.Envelope
// @Router /programs/{id}/export [post]
func (h *ReportHandler) RequestExport(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var payload struct {
		Format string `json:"format" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "format required"))
		return
	}

	job, err := h.reports.RequestExport(c.Request.Context(), scope, c.Param("id"), payload.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, job, nil)
}

// JobStatus godoc
// @Summary Export job status
// @Tags Reports
// @Produce json
// @Param jobId path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /reports/exports/{jobId} [get]
func (h *ReportHandler) JobStatus(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	job, err := h.reports.JobStatus(c.Request.Context(), scope, c.Param("jobId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// Download godoc
// @Summary Download a completed export
// @Description Streams the export file named by a signed token
// @Tags Reports
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /reports/download/{token} [get]
func (h *ReportHandler) Download(c *gin.Context) {
	filePath, err := h.reports.ResolveDownload(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}

	file, err := h.reports.OpenExport(filePath)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	contentType := "text/csv"
	if strings.HasSuffix(filePath, ".pdf") {
		contentType = "application/pdf"
	}
	c.Header("Content-Disposition", `attachment; filename="`+path.Base(filePath)+`"`)
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, file)
}
