package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skillbridge/tpm-api/internal/models"
	"github.com/skillbridge/tpm-api/internal/service"
	appErrors "github.com/skillbridge/tpm-api/pkg/errors"
	"github.com/skillbridge/tpm-api/pkg/response"
)

// ProgramHandler exposes training program endpoints.
type ProgramHandler struct {
	programs *service.ProgramService
}

// NewProgramHandler constructs handler.
func NewProgramHandler(programs *service.ProgramService) *ProgramHandler {
	return &ProgramHandler{programs: programs}
}

// Create godoc
// @Summary Create training program
// @Tags Programs
// @Accept json
// @Produce json
// @Param payload body service.CreateProgramRequest true "Program payload"
// @Success 201 {object} response.Envelope
// @Router /programs [post]
func (h *ProgramHandler) Create(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateProgramRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid program payload"))
		return
	}

	program, err := h.programs.Create(c.Request.Context(), scope, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, program)
}

// Update godoc
// @Summary Update training program
// @Tags Programs
// @Accept json
// @Produce json
// @Param id path string true "Program ID"
// @Param payload body service.UpdateProgramRequest true "Program payload"
// @Success 200 {object} response.Envelope
// @Router /programs/{id} [patch]
func (h *ProgramHandler) Update(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.UpdateProgramRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid program payload"))
		return
	}

	program, err := h.programs.Update(c.Request.Context(), scope, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, program, nil)
}

// List godoc
// @Summary List visible programs
// @Tags Programs
// @Produce json
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Param status query string false "Program status"
// @Param search query string false "Name search"
// @Success 200 {object} response.Envelope
// @Router /programs [get]
func (h *ProgramHandler) List(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.ProgramFilter{
		Search:    c.Query("search"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "pageSize", 20),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}
	if raw := c.Query("status"); raw != "" {
		status := models.ProgramStatus(raw)
		filter.Status = &status
	}

	programs, pagination, err := h.programs.List(c.Request.Context(), scope, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, programs, pagination)
}

// Get godoc
// @Summary Get program by ID
// @Tags Programs
// @Produce json
// @Param id path string true "Program ID"
// @Success 200 {object} response.Envelope
// @Router /programs/{id} [get]
func (h *ProgramHandler) Get(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	program, err := h.programs.Get(c.Request.Context(), scope, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, program, nil)
}

// Enroll godoc
// @Summary Enroll a trainee
// @Tags Programs
// @Accept json
// @Produce json
// @Param id path string true "Program ID"
// @Param payload body map[string]string true "Trainee ID"
// @Success 204 {object} response.Envelope
// @Router /programs/{id}/trainees [post]
func (h *ProgramHandler) Enroll(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var payload struct {
		TraineeID string `json:"trainee_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "trainee_id required"))
		return
	}

	if err := h.programs.Enroll(c.Request.Context(), scope, c.Param("id"), payload.TraineeID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Assign godoc
// @Summary Assign a facilitator
// @Tags Programs
// @Accept json
// @Produce json
// @Param id path string true "Program ID"
// @Param payload body map[string]string true "Facilitator ID"
// @Success 204 {object} response.Envelope
// @Router /programs/{id}/facilitators [post]
func (h *ProgramHandler) Assign(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var payload struct {
		FacilitatorID string `json:"facilitator_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "facilitator_id required"))
		return
	}

	if err := h.programs.Assign(c.Request.Context(), scope, c.Param("id"), payload.FacilitatorID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
