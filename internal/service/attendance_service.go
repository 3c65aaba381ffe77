package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/skillbridge/tpm-api/internal/dto"
	"github.com/skillbridge/tpm-api/internal/models"
	appErrors "github.com/skillbridge/tpm-api/pkg/errors"
	"github.com/skillbridge/tpm-api/pkg/storage"
)

type attendanceRepository interface {
	FindBySessionAndTrainee(ctx context.Context, sessionID, traineeID string) (*models.AttendanceRecord, error)
	Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error)
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecordDetail, int, error)
}

type enrollmentChecker interface {
	IsTraineeEnrolled(ctx context.Context, programID, traineeID string) (bool, error)
}

// ManualMarkRequest records attendance on behalf of a trainee.
type ManualMarkRequest struct {
	SessionID string                  `json:"session_id" validate:"required"`
	TraineeID string                  `json:"trainee_id" validate:"required"`
	Status    models.AttendanceStatus `json:"status" validate:"required"`
	Notes     *string                 `json:"notes"`
}

// AttendanceServiceConfig tunes check-in behaviour.
type AttendanceServiceConfig struct {
	GeofenceRadiusMeters float64
	LateThreshold        time.Duration
}

// AttendanceService owns trainee check-ins and facilitator corrections.
type AttendanceService struct {
	records     attendanceRepository
	sessions    sessionRepository
	enrollments enrollmentChecker
	audit       auditWriter
	signer      *storage.TokenSigner
	cache       *CacheService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
	cfg         AttendanceServiceConfig
}

// AttendanceServiceParams groups constructor dependencies.
type AttendanceServiceParams struct {
	Records     attendanceRepository
	Sessions    sessionRepository
	Enrollments enrollmentChecker
	Audit       auditWriter
	Signer      *storage.TokenSigner
	Cache       *CacheService
	Metrics     *MetricsService
	Validator   *validator.Validate
	Logger      *zap.Logger
	Config      AttendanceServiceConfig
}

// NewAttendanceService constructs an AttendanceService with sane defaults.
func NewAttendanceService(params AttendanceServiceParams) *AttendanceService {
	cfg := params.Config
	if cfg.GeofenceRadiusMeters <= 0 {
		cfg.GeofenceRadiusMeters = 150
	}
	if cfg.LateThreshold <= 0 {
		cfg.LateThreshold = 15 * time.Minute
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	return &AttendanceService{
		records:     params.Records,
		sessions:    params.Sessions,
		enrollments: params.Enrollments,
		audit:       params.Audit,
		signer:      params.Signer,
		cache:       params.Cache,
		metrics:     params.Metrics,
		validator:   validate,
		logger:      logger,
		now:         time.Now,
		cfg:         cfg,
	}
}

// CheckInQR records a trainee check-in for an online session using the signed
// token embedded in the session's QR code and access link.
func (s *AttendanceService) CheckInQR(ctx context.Context, scope models.Scope, token string) (*dto.CheckInResponse, error) {
	if scope.Role != models.RoleTrainee {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only trainees can check in")
	}
	if token == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "check-in token is required")
	}

	sessionID, subject, _, err := s.signer.Parse(token, false)
	if err != nil {
		s.recordCheckIn(models.AttendanceMethodQRCode, "rejected")
		return nil, appErrors.Clone(appErrors.ErrQRExpired, "")
	}
	if subject != "check-in" {
		s.recordCheckIn(models.AttendanceMethodQRCode, "rejected")
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token is not a check-in token")
	}

	session, err := s.loadActiveSession(ctx, sessionID)
	if err != nil {
		s.recordCheckIn(models.AttendanceMethodQRCode, "rejected")
		return nil, err
	}
	if session.Type != models.SessionTypeOnline {
		s.recordCheckIn(models.AttendanceMethodQRCode, "rejected")
		return nil, appErrors.Clone(appErrors.ErrValidation, "session does not accept QR check-ins")
	}
	if session.QRToken == nil || *session.QRToken != token {
		s.recordCheckIn(models.AttendanceMethodQRCode, "rejected")
		return nil, appErrors.Clone(appErrors.ErrQRExpired, "attendance code has been rotated")
	}
	if session.QRExpiresAt != nil && s.now().UTC().After(*session.QRExpiresAt) {
		s.recordCheckIn(models.AttendanceMethodQRCode, "expired")
		return nil, appErrors.Clone(appErrors.ErrQRExpired, "")
	}

	return s.recordTraineeCheckIn(ctx, scope, session, models.AttendanceMethodQRCode, nil, nil)
}

// CheckInGeolocation records a trainee check-in for a physical session,
// validating the reported coordinates against the session anchor.
func (s *AttendanceService) CheckInGeolocation(ctx context.Context, scope models.Scope, sessionID string, reading GeolocationReading) (*dto.CheckInResponse, error) {
	if scope.Role != models.RoleTrainee {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only trainees can check in")
	}

	session, err := s.loadActiveSession(ctx, sessionID)
	if err != nil {
		s.recordCheckIn(models.AttendanceMethodGeolocation, "rejected")
		return nil, err
	}
	if session.Type != models.SessionTypePhysical {
		s.recordCheckIn(models.AttendanceMethodGeolocation, "rejected")
		return nil, appErrors.Clone(appErrors.ErrValidation, "session does not accept geolocation check-ins")
	}

	if reading.FailureKind != "" {
		s.recordCheckIn(models.AttendanceMethodGeolocation, "location_failed")
		return nil, locationFailureError(reading.FailureKind)
	}
	if reading.Latitude == nil || reading.Longitude == nil {
		s.recordCheckIn(models.AttendanceMethodGeolocation, "location_failed")
		return nil, appErrors.Clone(appErrors.ErrLocationUnavailable, "")
	}
	if session.AnchorLatitude == nil || session.AnchorLongitude == nil {
		return nil, appErrors.Clone(appErrors.ErrSessionState, "session has no anchored location")
	}

	distance := haversineMeters(*session.AnchorLatitude, *session.AnchorLongitude, *reading.Latitude, *reading.Longitude)
	if distance > s.cfg.GeofenceRadiusMeters {
		s.recordCheckIn(models.AttendanceMethodGeolocation, "outside_geofence")
		return nil, appErrors.Clone(appErrors.ErrOutsideGeofence, fmt.Sprintf("reported location is %.0fm from the session, limit is %.0fm", distance, s.cfg.GeofenceRadiusMeters))
	}

	return s.recordTraineeCheckIn(ctx, scope, session, models.AttendanceMethodGeolocation, reading.Latitude, reading.Longitude)
}

// MarkManual lets a facilitator record or correct a trainee's attendance.
func (s *AttendanceService) MarkManual(ctx context.Context, scope models.Scope, req ManualMarkRequest) (*models.AttendanceRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid manual mark payload")
	}
	if !req.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown attendance status %q", req.Status))
	}

	session, err := s.sessions.FindByID(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	switch scope.Role {
	case models.RoleFacilitator:
		if session.FacilitatorID != scope.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "session belongs to another facilitator")
		}
	case models.RoleSuperAdmin, models.RoleProgramManager:
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot mark attendance")
	}

	if session.Status != models.SessionStatusActive && session.Status != models.SessionStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrSessionState, "attendance can only be marked for active or completed sessions")
	}

	enrolled, err := s.enrollments.IsTraineeEnrolled(ctx, session.ProgramID, req.TraineeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrValidation, "trainee is not enrolled in this program")
	}

	now := s.now().UTC()
	markedBy := scope.UserID
	record := &models.AttendanceRecord{
		SessionID: session.ID,
		TraineeID: req.TraineeID,
		Status:    req.Status,
		Method:    models.AttendanceMethodManual,
		MarkedBy:  &markedBy,
		Notes:     req.Notes,
	}
	if req.Status.CountsAsAttended() {
		record.CheckedAt = &now
	}

	stored, err := s.records.Upsert(ctx, record)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attendance record")
	}

	s.recordCheckIn(models.AttendanceMethodManual, "accepted")
	s.invalidateSummaries(ctx, session.ProgramID)
	s.writeAudit(ctx, scope, models.AuditActionAttendanceMark, stored.ID, []byte(fmt.Sprintf(`{"trainee_id":%q,"status":%q}`, req.TraineeID, req.Status)))
	return stored, nil
}

// Excuse marks a trainee as excused for a session.
func (s *AttendanceService) Excuse(ctx context.Context, scope models.Scope, sessionID, traineeID string, notes *string) (*models.AttendanceRecord, error) {
	return s.MarkManual(ctx, scope, ManualMarkRequest{
		SessionID: sessionID,
		TraineeID: traineeID,
		Status:    models.AttendanceStatusExcused,
		Notes:     notes,
	})
}

// List returns attendance records visible to the caller.
func (s *AttendanceService) List(ctx context.Context, scope models.Scope, filter models.AttendanceFilter) ([]models.AttendanceRecordDetail, *models.Pagination, error) {
	switch scope.Role {
	case models.RoleTrainee:
		filter.TraineeID = scope.UserID
	case models.RoleFacilitator, models.RoleSuperAdmin, models.RoleProgramManager, models.RoleITSupport:
	default:
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot list attendance")
	}

	rows, total, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance records")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	return rows, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *AttendanceService) recordTraineeCheckIn(ctx context.Context, scope models.Scope, session *models.ClassSession, method models.AttendanceMethod, lat, lon *float64) (*dto.CheckInResponse, error) {
	enrolled, err := s.enrollments.IsTraineeEnrolled(ctx, session.ProgramID, scope.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		s.recordCheckIn(method, "rejected")
		return nil, appErrors.Clone(appErrors.ErrForbidden, "trainee is not enrolled in this program")
	}

	if existing, err := s.records.FindBySessionAndTrainee(ctx, session.ID, scope.UserID); err == nil && existing != nil {
		s.recordCheckIn(method, "duplicate")
		return nil, appErrors.Clone(appErrors.ErrConflict, "attendance already recorded for this session")
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing record")
	}

	now := s.now().UTC()
	status := models.AttendanceStatusPresent
	if session.StartedAt != nil && now.Sub(*session.StartedAt) > s.cfg.LateThreshold {
		status = models.AttendanceStatusLate
	}

	record := &models.AttendanceRecord{
		SessionID: session.ID,
		TraineeID: scope.UserID,
		Status:    status,
		Method:    method,
		CheckedAt: &now,
		Latitude:  lat,
		Longitude: lon,
	}
	stored, err := s.records.Upsert(ctx, record)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attendance record")
	}

	s.recordCheckIn(method, "accepted")
	s.invalidateSummaries(ctx, session.ProgramID)
	s.writeAudit(ctx, scope, models.AuditActionAttendanceCheckIn, stored.ID, []byte(fmt.Sprintf(`{"session_id":%q,"method":%q,"status":%q}`, session.ID, method, status)))

	return &dto.CheckInResponse{
		RecordID:  stored.ID,
		SessionID: session.ID,
		Status:    stored.Status,
		Method:    stored.Method,
		CheckedAt: now,
	}, nil
}

func (s *AttendanceService) loadActiveSession(ctx context.Context, sessionID string) (*models.ClassSession, error) {
	if sessionID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "sessionId is required")
	}
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if session.Status != models.SessionStatusActive {
		return nil, appErrors.Clone(appErrors.ErrSessionState, "session is not accepting check-ins")
	}
	return session, nil
}

func (s *AttendanceService) recordCheckIn(method models.AttendanceMethod, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordCheckIn(method, outcome)
	}
}

func (s *AttendanceService) invalidateSummaries(ctx context.Context, programID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, fmt.Sprintf("summary:%s*", programID)); err != nil {
		s.logger.Warn("summary cache invalidation failed", zap.String("program_id", programID), zap.Error(err))
	}
}

func (s *AttendanceService) writeAudit(ctx context.Context, scope models.Scope, action, resourceID string, newValues []byte) {
	if s.audit == nil {
		return
	}
	userID := scope.UserID
	if err := s.audit.Create(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "attendance",
		ResourceID: &resourceID,
		NewValues:  newValues,
	}); err != nil {
		s.logger.Warn("failed to record attendance audit log", zap.String("action", action), zap.Error(err))
	}
}

const earthRadiusMeters = 6371000

// haversineMeters computes the great-circle distance between two coordinates.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}
