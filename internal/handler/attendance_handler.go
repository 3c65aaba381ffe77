package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skillbridge/tpm-api/internal/models"
	"github.com/skillbridge/tpm-api/internal/service"
	appErrors "github.com/skillbridge/tpm-api/pkg/errors"
	"github.com/skillbridge/tpm-api/pkg/response"
)

// AttendanceHandler exposes check-in and attendance record endpoints.
type AttendanceHandler struct {
	attendance *service.AttendanceService
}

// NewAttendanceHandler constructs handler.
func NewAttendanceHandler(attendance *service.AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance}
}

// CheckInQR godoc
// @Summary Check in with a session QR token
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body map[string]string true "Signed check-in token"
// @Success 200 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Router /attendance/check-in/qr [post]
func (h *AttendanceHandler) CheckInQR(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var payload struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "token required"))
		return
	}

	result, err := h.attendance.CheckInQR(c.Request.Context(), scope, payload.Token)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// CheckInGeolocation godoc
// @Summary Check in with device coordinates
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body service.GeolocationReading true "Device location"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /attendance/check-in/geo/{id} [post]
func (h *AttendanceHandler) CheckInGeolocation(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var reading service.GeolocationReading
	if err := c.ShouldBindJSON(&reading); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid location payload"))
		return
	}

	result, err := h.attendance.CheckInGeolocation(c.Request.Context(), scope, c.Param("id"), reading)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// MarkManual godoc
// @Summary Manually mark attendance
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body service.ManualMarkRequest true "Mark payload"
// @Success 200 {object} response.Envelope
// @Router /attendance/mark [post]
func (h *AttendanceHandler) MarkManual(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.ManualMarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid mark payload"))
		return
	}

	record, err := h.attendance.MarkManual(c.Request.Context(), scope, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Excuse godoc
// @Summary Excuse a trainee from a session
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body map[string]string true "Trainee and optional notes"
// @Success 200 {object} response.Envelope
// @Router /attendance/sessions/{id}/excuse [post]
func (h *AttendanceHandler) Excuse(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var payload struct {
		TraineeID string  `json:"trainee_id" binding:"required"`
		Notes     *string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "trainee_id required"))
		return
	}

	record, err := h.attendance.Excuse(c.Request.Context(), scope, c.Param("id"), payload.TraineeID, payload.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// List godoc
// @Summary List attendance records
// @Tags Attendance
// @Produce json
// @Param programId query string false "Program ID"
// @Param sessionId query string false "Session ID"
// @Param traineeId query string false "Trainee ID"
// @Param status query string false "Attendance status"
// @Param dateFrom query string false "Start date (YYYY-MM-DD)"
// @Param dateTo query string false "End date (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /attendance [get]
func (h *AttendanceHandler) List(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.AttendanceFilter{
		ProgramID: c.Query("programId"),
		SessionID: c.Query("sessionId"),
		TraineeID: c.Query("traineeId"),
		DateFrom:  queryDate(c, "dateFrom"),
		DateTo:    queryDate(c, "dateTo"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "pageSize", 20),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}
	if raw := c.Query("status"); raw != "" {
		status := models.AttendanceStatus(raw)
		filter.Status = &status
	}

	records, pagination, err := h.attendance.List(c.Request.Context(), scope, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}
