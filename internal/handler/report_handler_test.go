package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillbridge/tpm-api/internal/middleware"
	"github.com/skillbridge/tpm-api/internal/models"
	"github.com/skillbridge/tpm-api/internal/service"
	"github.com/skillbridge/tpm-api/pkg/storage"
)

type stubMasterLogRepo struct {
	entries []models.MasterLogEntry
	total   int
}

func (s *stubMasterLogRepo) MasterLog(ctx context.Context, filter models.MasterLogFilter) ([]models.MasterLogEntry, int, error) {
	return s.entries, s.total, nil
}

func newReportHandlerUnderTest(repo *stubMasterLogRepo) *ReportHandler {
	svc := service.NewReportService(service.ReportServiceParams{
		AuditRepo: repo,
		Signer:    storage.NewTokenSigner("test-secret", time.Hour),
	})
	return NewReportHandler(svc)
}

func TestReportHandlerMasterLog(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newReportHandlerUnderTest(&stubMasterLogRepo{
		entries: []models.MasterLogEntry{{AuditLog: models.AuditLog{ID: "a1", Action: models.AuditActionLogin}}},
		total:   1,
	})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/reports/master-log?page=1&pageSize=50", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Role: models.RoleSuperAdmin})

	handler.MasterLog(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope responseEnvelope
	_ = json.Unmarshal(rec.Body.Bytes(), &envelope)
	assert.Equal(t, float64(1), envelope.Data["totalDocs"])
	assert.Equal(t, false, envelope.Data["hasNextPage"])
}

func TestReportHandlerMasterLogForbidden(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newReportHandlerUnderTest(&stubMasterLogRepo{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/reports/master-log", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "t1", Role: models.RoleTrainee})

	handler.MasterLog(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReportHandlerRequestExportValidatesFormat(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newReportHandlerUnderTest(&stubMasterLogRepo{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/programs/prog-1/export", strings.NewReader(`{"format":"xlsx"}`))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: "prog-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "mgr-1", Role: models.RoleProgramManager})

	handler.RequestExport(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportHandlerDownloadRejectsBadToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newReportHandlerUnderTest(&stubMasterLogRepo{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/reports/download/bogus", nil)
	c.Params = gin.Params{{Key: "token", Value: "bogus"}}

	handler.Download(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
