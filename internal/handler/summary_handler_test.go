package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/skillbridge/tpm-api/internal/dto"
	"github.com/skillbridge/tpm-api/internal/middleware"
	"github.com/skillbridge/tpm-api/internal/models"
	appErrors "github.com/skillbridge/tpm-api/pkg/errors"
)

type fakeSummarySrv struct {
	summaryResp *dto.ProgramSummaryResponse
	summaryErr  error
	summaryHit  bool
	detailResp  *dto.StudentDetailResponse
	detailErr   error
	lastSummary struct {
		programID string
		from      *time.Time
		to        *time.Time
	}
	lastDetail struct {
		programID string
		traineeID string
	}
}

func (f *fakeSummarySrv) ProgramSummary(_ context.Context, _ models.Scope, programID string, from, to *time.Time) (*dto.ProgramSummaryResponse, bool, error) {
	f.lastSummary.programID = programID
	f.lastSummary.from = from
	f.lastSummary.to = to
	return f.summaryResp, f.summaryHit, f.summaryErr
}

func (f *fakeSummarySrv) StudentDetail(_ context.Context, _ models.Scope, programID, traineeID string) (*dto.StudentDetailResponse, error) {
	f.lastDetail.programID = programID
	f.lastDetail.traineeID = traineeID
	return f.detailResp, f.detailErr
}

func TestSummaryHandlerRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewSummaryHandler(&fakeSummarySrv{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/programs/prog-1/summary", nil)

	handler.ProgramSummary(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSummaryHandlerProgramSummarySuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewSummaryHandler(&fakeSummarySrv{
		summaryResp: &dto.ProgramSummaryResponse{ProgramID: "prog-1"},
		summaryHit:  true,
	})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/programs/prog-1/summary", nil)
	c.Params = gin.Params{{Key: "id", Value: "prog-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "mgr-1", Role: models.RoleProgramManager})

	handler.ProgramSummary(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope responseEnvelope
	_ = json.Unmarshal(rec.Body.Bytes(), &envelope)
	assert.Equal(t, true, envelope.Meta["cache_hit"])
	assert.Equal(t, "prog-1", envelope.Data["program_id"])
}

func TestSummaryHandlerParsesDateRange(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service := &fakeSummarySrv{
		summaryResp: &dto.ProgramSummaryResponse{ProgramID: "prog-1"},
	}
	handler := NewSummaryHandler(service)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/programs/prog-1/summary?dateFrom=2025-01-01&dateTo=2025-01-31", nil)
	c.Params = gin.Params{{Key: "id", Value: "prog-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "mgr-1", Role: models.RoleProgramManager})

	handler.ProgramSummary(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "prog-1", service.lastSummary.programID)
	if assert.NotNil(t, service.lastSummary.from) {
		assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *service.lastSummary.from)
	}
	if assert.NotNil(t, service.lastSummary.to) {
		assert.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), *service.lastSummary.to)
	}
}

func TestSummaryHandlerForbiddenPassthrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewSummaryHandler(&fakeSummarySrv{
		summaryErr: appErrors.ErrForbidden,
	})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/programs/prog-1/summary", nil)
	c.Params = gin.Params{{Key: "id", Value: "prog-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "t1", Role: models.RoleTrainee})

	handler.ProgramSummary(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSummaryHandlerStudentDetail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service := &fakeSummarySrv{
		detailResp: &dto.StudentDetailResponse{ProgramID: "prog-1", TraineeID: "t1"},
	}
	handler := NewSummaryHandler(service)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/programs/prog-1/trainees/t1/detail", nil)
	c.Params = gin.Params{{Key: "id", Value: "prog-1"}, {Key: "traineeId", Value: "t1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "t1", Role: models.RoleTrainee})

	handler.StudentDetail(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "prog-1", service.lastDetail.programID)
	assert.Equal(t, "t1", service.lastDetail.traineeID)
}

type responseEnvelope struct {
	Data map[string]interface{} `json:"data"`
	Meta map[string]interface{} `json:"meta"`
}
