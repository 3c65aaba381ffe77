package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skillbridge/tpm-api/internal/dto"
	"github.com/skillbridge/tpm-api/internal/middleware"
	"github.com/skillbridge/tpm-api/internal/models"
	appErrors "github.com/skillbridge/tpm-api/pkg/errors"
	"github.com/skillbridge/tpm-api/pkg/response"
)

type summaryService interface {
	ProgramSummary(ctx context.Context, scope models.Scope, programID string, from, to *time.Time) (*dto.ProgramSummaryResponse, bool, error)
	StudentDetail(ctx context.Context, scope models.Scope, programID, traineeID string) (*dto.StudentDetailResponse, error)
}

// SummaryHandler exposes attendance summary endpoints.
type SummaryHandler struct {
	service summaryService
}

// NewSummaryHandler constructs handler.
func NewSummaryHandler(service summaryService) *SummaryHandler {
	return &SummaryHandler{service: service}
}

// ProgramSummary godoc
// @Summary Program attendance summary
// @Description Per-trainee attendance rates and the program-level rollup
// @Tags Summaries
// @Produce json
// @Param id path string true "Program ID"
// @Param dateFrom query string false "Range start (YYYY-MM-DD)"
// @Param dateTo query string false "Range end (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /programs/{id}/summary [get]
func (h *SummaryHandler) ProgramSummary(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	scope, ok := scopeFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	start := time.Now()
	summary, cacheHit, err := h.service.ProgramSummary(c.Request.Context(), scope, c.Param("id"), queryDate(c, "dateFrom"), queryDate(c, "dateTo"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	response.JSON(c, http.StatusOK, summary, nil, meta)
}

// StudentDetail godoc
// @Summary Trainee attendance detail
// @Description Stat cards plus the month-bucketed attendance calendar
// @Tags Summaries
// @Produce json
// @Param id path string true "Program ID"
// @Param traineeId path string true "Trainee ID"
// @Success 200 {object} response.Envelope
// @Router /programs/{id}/trainees/{traineeId}/detail [get]
func (h *SummaryHandler) StudentDetail(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	scope, ok := scopeFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	detail, err := h.service.StudentDetail(c.Request.Context(), scope, c.Param("id"), c.Param("traineeId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}
