package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillbridge/tpm-api/internal/dto"
	"github.com/skillbridge/tpm-api/internal/models"
	appErrors "github.com/skillbridge/tpm-api/pkg/errors"
	"github.com/skillbridge/tpm-api/pkg/storage"
)

type fakeMasterLogRepo struct {
	entries []models.MasterLogEntry
	total   int
	filter  models.MasterLogFilter
}

func (f *fakeMasterLogRepo) MasterLog(ctx context.Context, filter models.MasterLogFilter) ([]models.MasterLogEntry, int, error) {
	f.filter = filter
	return f.entries, f.total, nil
}

func newTestReportService(repo masterLogRepository) *ReportService {
	return NewReportService(ReportServiceParams{
		AuditRepo: repo,
		Signer:    storage.NewTokenSigner("test-secret", time.Hour),
		Config:    ReportServiceConfig{DownloadBase: "https://tpm.example.com/api/v1/reports/download"},
	})
}

func TestMasterLogPagination(t *testing.T) {
	repo := &fakeMasterLogRepo{
		entries: []models.MasterLogEntry{{AuditLog: models.AuditLog{ID: "a1", Action: models.AuditActionLogin}}},
		total:   101,
	}
	svc := newTestReportService(repo)

	scope := models.Scope{UserID: "admin", Role: models.RoleSuperAdmin}
	page, err := svc.MasterLog(context.Background(), scope, models.MasterLogFilter{Page: 2, PageSize: 50})
	require.NoError(t, err)

	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 101, page.TotalDocs)
	assert.True(t, page.HasNextPage)
	assert.True(t, page.HasPrevPage)
	require.Len(t, page.Docs, 1)
}

func TestMasterLogFirstAndLastPageFlags(t *testing.T) {
	repo := &fakeMasterLogRepo{total: 20}
	svc := newTestReportService(repo)
	scope := models.Scope{UserID: "admin", Role: models.RoleITSupport}

	first, err := svc.MasterLog(context.Background(), scope, models.MasterLogFilter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.True(t, first.HasNextPage)
	assert.False(t, first.HasPrevPage)

	last, err := svc.MasterLog(context.Background(), scope, models.MasterLogFilter{Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.False(t, last.HasNextPage)
	assert.True(t, last.HasPrevPage)
}

func TestMasterLogEmpty(t *testing.T) {
	repo := &fakeMasterLogRepo{}
	svc := newTestReportService(repo)
	scope := models.Scope{UserID: "admin", Role: models.RoleSuperAdmin}

	page, err := svc.MasterLog(context.Background(), scope, models.MasterLogFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.TotalPages)
	assert.Equal(t, 0, page.TotalDocs)
	assert.False(t, page.HasNextPage)
	assert.False(t, page.HasPrevPage)
}

func TestMasterLogForbiddenForManagers(t *testing.T) {
	svc := newTestReportService(&fakeMasterLogRepo{})
	scope := models.Scope{UserID: "mgr-1", Role: models.RoleProgramManager}

	_, err := svc.MasterLog(context.Background(), scope, models.MasterLogFilter{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestRequestExportRejectsUnknownFormat(t *testing.T) {
	svc := newTestReportService(&fakeMasterLogRepo{})
	scope := models.Scope{UserID: "mgr-1", Role: models.RoleProgramManager}

	_, err := svc.RequestExport(context.Background(), scope, "prog-1", "xlsx")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func fixtureSummaryResponse() *dto.ProgramSummaryResponse {
	return &dto.ProgramSummaryResponse{
		ProgramID:   "prog-1",
		ProgramName: "Cloud Engineering Cohort 4",
		Students: []models.StudentSummary{
			{TraineeID: "t1", TraineeName: "Ada Lovelace", Present: 9, Late: 1, Absent: 1, TotalSessions: 10, AttendanceRate: 90},
			{TraineeID: "t2", TraineeName: "Grace Hopper", Present: 5, Excused: 5, TotalSessions: 10, AttendanceRate: 100},
		},
	}
}

func TestBuildSummaryDataset(t *testing.T) {
	summary := fixtureSummaryResponse()
	dataset := buildSummaryDataset(summary)

	require.Len(t, dataset.Rows, 2)
	assert.Equal(t, "Ada Lovelace", dataset.Rows[0]["Trainee"])
	assert.Equal(t, "9", dataset.Rows[0]["Present"])
	assert.Equal(t, "90%", dataset.Rows[0]["Attendance Rate"])
	assert.Contains(t, dataset.Headers, "Excused")
}
