package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skillbridge/tpm-api/internal/dto"
	"github.com/skillbridge/tpm-api/internal/models"
	appErrors "github.com/skillbridge/tpm-api/pkg/errors"
	"github.com/skillbridge/tpm-api/pkg/export"
	"github.com/skillbridge/tpm-api/pkg/jobs"
	"github.com/skillbridge/tpm-api/pkg/storage"
)

type masterLogRepository interface {
	MasterLog(ctx context.Context, filter models.MasterLogFilter) ([]models.MasterLogEntry, int, error)
}

type summaryProvider interface {
	ProgramSummary(ctx context.Context, scope models.Scope, programID string, from, to *time.Time) (*dto.ProgramSummaryResponse, bool, error)
}

// Export job states.
const (
	ExportStatusPending   = "pending"
	ExportStatusRunning   = "running"
	ExportStatusCompleted = "completed"
	ExportStatusFailed    = "failed"
)

type exportJob struct {
	ID          string
	ProgramID   string
	Format      string
	Scope       models.Scope
	Status      string
	FilePath    string
	Error       string
	RequestedAt time.Time
	CompletedAt *time.Time
}

// ReportServiceConfig tunes export behaviour.
type ReportServiceConfig struct {
	SignedURLTTL time.Duration
	DownloadBase string
}

// ReportService serves the master audit log and asynchronous attendance
// exports rendered to CSV or PDF.
type ReportService struct {
	auditRepo masterLogRepository
	summaries summaryProvider
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	store     *storage.LocalStorage
	signer    *storage.TokenSigner
	audit     auditWriter
	queue     *jobs.Queue
	logger    *zap.Logger
	now       func() time.Time
	cfg       ReportServiceConfig

	mu      sync.RWMutex
	jobsMap map[string]*exportJob
}

// ReportServiceParams groups constructor dependencies.
type ReportServiceParams struct {
	AuditRepo masterLogRepository
	Summaries summaryProvider
	Store     *storage.LocalStorage
	Signer    *storage.TokenSigner
	Audit     auditWriter
	Logger    *zap.Logger
	Config    ReportServiceConfig
	Queue     jobs.QueueConfig
}

// NewReportService constructs a ReportService and its worker queue. Call
// Start before enqueueing exports.
func NewReportService(params ReportServiceParams) *ReportService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := params.Config
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 24 * time.Hour
	}
	s := &ReportService{
		auditRepo: params.AuditRepo,
		summaries: params.Summaries,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		store:     params.Store,
		signer:    params.Signer,
		audit:     params.Audit,
		logger:    logger,
		now:       time.Now,
		cfg:       cfg,
		jobsMap:   map[string]*exportJob{},
	}
	queueCfg := params.Queue
	queueCfg.Logger = logger
	s.queue = jobs.NewQueue("report-exports", s.processExport, queueCfg)
	return s
}

// Start launches the export workers.
func (s *ReportService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the export workers.
func (s *ReportService) Stop() {
	s.queue.Stop()
}

// MasterLog returns the filtered, paginated audit trail. Only administrators
// and IT support may read it.
func (s *ReportService) MasterLog(ctx context.Context, scope models.Scope, filter models.MasterLogFilter) (*models.MasterLogPage, error) {
	if scope.Role != models.RoleSuperAdmin && scope.Role != models.RoleITSupport {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot read the master log")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	filter.Page = page
	filter.PageSize = size

	entries, total, err := s.auditRepo.MasterLog(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load master log")
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + size - 1) / size
	}
	return &models.MasterLogPage{
		Docs:        entries,
		Page:        page,
		TotalPages:  totalPages,
		HasNextPage: page < totalPages,
		HasPrevPage: page > 1 && total > 0,
		TotalDocs:   total,
	}, nil
}

// RequestExport enqueues an attendance export for a program.
func (s *ReportService) RequestExport(ctx context.Context, scope models.Scope, programID, format string) (*dto.ExportJobResponse, error) {
	format = strings.ToLower(format)
	if format != "csv" && format != "pdf" {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	switch scope.Role {
	case models.RoleSuperAdmin, models.RoleProgramManager, models.RoleFacilitator:
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot export reports")
	}

	job := &exportJob{
		ID:          uuid.NewString(),
		ProgramID:   programID,
		Format:      format,
		Scope:       scope,
		Status:      ExportStatusPending,
		RequestedAt: s.now().UTC(),
	}
	s.mu.Lock()
	s.jobsMap[job.ID] = job
	s.mu.Unlock()

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "program-export", Payload: job.ID}); err != nil {
		s.mu.Lock()
		delete(s.jobsMap, job.ID)
		s.mu.Unlock()
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export")
	}

	s.writeAudit(ctx, scope, job.ID, []byte(fmt.Sprintf(`{"program_id":%q,"format":%q}`, programID, format)))
	return s.jobResponse(job), nil
}

// JobStatus returns the current state of an export job.
func (s *ReportService) JobStatus(ctx context.Context, scope models.Scope, jobID string) (*dto.ExportJobResponse, error) {
	s.mu.RLock()
	job, ok := s.jobsMap[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	if scope.Role != models.RoleSuperAdmin && job.Scope.UserID != scope.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export job belongs to another user")
	}
	return s.jobResponse(job), nil
}

// ResolveDownload validates a signed download token and returns the stored
// file path.
func (s *ReportService) ResolveDownload(token string) (string, error) {
	jobID, encodedPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "download link is invalid or expired")
	}
	s.mu.RLock()
	job, ok := s.jobsMap[jobID]
	s.mu.RUnlock()
	if !ok || job.Status != ExportStatusCompleted || job.FilePath != encodedPath {
		return "", appErrors.Clone(appErrors.ErrNotFound, "export file not found")
	}
	return job.FilePath, nil
}

// OpenExport returns a file handle for a stored export.
func (s *ReportService) OpenExport(path string) (ReadSeekCloser, error) {
	file, err := s.store.Open(path)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export file not found")
	}
	return file, nil
}

// ReadSeekCloser is what download handlers need to stream a stored file.
type ReadSeekCloser interface {
	Read(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Close() error
}

// CleanupExpired removes export files older than the signed URL TTL.
func (s *ReportService) CleanupExpired() {
	deleted, err := s.store.CleanupOlderThan(s.cfg.SignedURLTTL)
	if err != nil {
		s.logger.Warn("export cleanup failed", zap.Error(err))
		return
	}
	if len(deleted) > 0 {
		s.logger.Info("cleaned up expired exports", zap.Int("count", len(deleted)))
	}
}

func (s *ReportService) processExport(ctx context.Context, queued jobs.Job) error {
	jobID, _ := queued.Payload.(string)
	s.mu.Lock()
	job, ok := s.jobsMap[jobID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	job.Status = ExportStatusRunning
	s.mu.Unlock()

	summary, _, err := s.summaries.ProgramSummary(ctx, job.Scope, job.ProgramID, nil, nil)
	if err != nil {
		s.failJob(job, err)
		return err
	}

	dataset := buildSummaryDataset(summary)
	var payload []byte
	switch job.Format {
	case "pdf":
		payload, err = s.pdf.Render(dataset, fmt.Sprintf("Attendance Report - %s", summary.ProgramName))
	default:
		payload, err = s.csv.Render(dataset)
	}
	if err != nil {
		s.failJob(job, err)
		return err
	}

	filename := fmt.Sprintf("%s/%s.%s", job.ProgramID, job.ID, job.Format)
	stored, err := s.store.Save(filename, payload)
	if err != nil {
		s.failJob(job, err)
		return err
	}

	now := s.now().UTC()
	s.mu.Lock()
	job.Status = ExportStatusCompleted
	job.FilePath = stored
	job.CompletedAt = &now
	s.mu.Unlock()

	s.logger.Info("export completed", zap.String("job_id", job.ID), zap.String("format", job.Format))
	return nil
}

func (s *ReportService) failJob(job *exportJob, err error) {
	now := s.now().UTC()
	s.mu.Lock()
	job.Status = ExportStatusFailed
	job.Error = err.Error()
	job.CompletedAt = &now
	s.mu.Unlock()
	s.logger.Error("export failed", zap.String("job_id", job.ID), zap.Error(err))
}

func (s *ReportService) jobResponse(job *exportJob) *dto.ExportJobResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	response := &dto.ExportJobResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Format:      job.Format,
		RequestedAt: job.RequestedAt,
		CompletedAt: job.CompletedAt,
		Error:       job.Error,
	}
	if job.Status == ExportStatusCompleted && job.FilePath != "" {
		if token, expiresAt, err := s.signer.Generate(job.ID, job.FilePath); err == nil {
			response.DownloadURL = fmt.Sprintf("%s/%s", strings.TrimRight(s.cfg.DownloadBase, "/"), token)
			response.ExpiresAt = &expiresAt
		}
	}
	return response
}

func (s *ReportService) writeAudit(ctx context.Context, scope models.Scope, resourceID string, newValues []byte) {
	if s.audit == nil {
		return
	}
	userID := scope.UserID
	if err := s.audit.Create(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionReportExport,
		Resource:   "report",
		ResourceID: &resourceID,
		NewValues:  newValues,
	}); err != nil {
		s.logger.Warn("failed to record export audit log", zap.Error(err))
	}
}

func buildSummaryDataset(summary *dto.ProgramSummaryResponse) export.Dataset {
	headers := []string{"Trainee", "Present", "Late", "Absent", "Excused", "Sessions", "Attendance Rate"}
	rows := make([]map[string]string, 0, len(summary.Students))
	for _, student := range summary.Students {
		rows = append(rows, map[string]string{
			"Trainee":         student.TraineeName,
			"Present":         fmt.Sprintf("%d", student.Present),
			"Late":            fmt.Sprintf("%d", student.Late),
			"Absent":          fmt.Sprintf("%d", student.Absent),
			"Excused":         fmt.Sprintf("%d", student.Excused),
			"Sessions":        fmt.Sprintf("%d", student.TotalSessions),
			"Attendance Rate": fmt.Sprintf("%.0f%%", student.AttendanceRate),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}
