package service

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/skillbridge/tpm-api/internal/dto"
	"github.com/skillbridge/tpm-api/internal/models"
	appErrors "github.com/skillbridge/tpm-api/pkg/errors"
	"github.com/skillbridge/tpm-api/pkg/storage"
)

type sessionRepository interface {
	FindByID(ctx context.Context, id string) (*models.ClassSession, error)
	Create(ctx context.Context, session *models.ClassSession) error
	UpdateStatus(ctx context.Context, session *models.ClassSession, from models.SessionStatus) error
	List(ctx context.Context, filter models.SessionFilter) ([]models.SessionWithCounts, int, error)
}

type sessionProgramRepository interface {
	FindByID(ctx context.Context, id string) (*models.Program, error)
	IsFacilitatorAssigned(ctx context.Context, programID, facilitatorID string) (bool, error)
}

type absenteeMarker interface {
	MarkAbsentees(ctx context.Context, sessionID, programID string) (int, error)
}

// GeolocationReading carries the facilitator device's location attempt. When
// the device could not produce coordinates, FailureKind names why.
type GeolocationReading struct {
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	FailureKind string   `json:"failure_kind,omitempty"`
}

// Geolocation failure kinds reported by clients.
const (
	LocationFailurePermissionDenied = "permission_denied"
	LocationFailureUnavailable      = "unavailable"
	LocationFailureTimeout          = "timeout"
)

// CreateSessionRequest is the payload for scheduling a session.
type CreateSessionRequest struct {
	ProgramID   string             `json:"program_id" validate:"required"`
	Title       string             `json:"title" validate:"required"`
	Type        models.SessionType `json:"type" validate:"required"`
	ScheduledAt time.Time          `json:"scheduled_at" validate:"required"`
}

// SessionServiceConfig tunes session lifecycle behaviour. The check-in token
// TTL lives on the signer itself.
type SessionServiceConfig struct {
	AccessLinkBaseURL string
	QRImageSize       int
}

// SessionService owns the class session lifecycle: scheduling, activation
// with QR or geolocation anchoring, completion and cancellation.
type SessionService struct {
	sessions   sessionRepository
	programs   sessionProgramRepository
	attendance absenteeMarker
	audit      auditWriter
	signer     *storage.TokenSigner
	cache      *CacheService
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
	cfg        SessionServiceConfig
}

// SessionServiceParams groups constructor dependencies.
type SessionServiceParams struct {
	Sessions   sessionRepository
	Programs   sessionProgramRepository
	Attendance absenteeMarker
	Audit      auditWriter
	Signer     *storage.TokenSigner
	Cache      *CacheService
	Metrics    *MetricsService
	Validator  *validator.Validate
	Logger     *zap.Logger
	Config     SessionServiceConfig
}

// NewSessionService constructs a SessionService with sane defaults.
func NewSessionService(params SessionServiceParams) *SessionService {
	cfg := params.Config
	if cfg.QRImageSize <= 0 {
		cfg.QRImageSize = 256
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	return &SessionService{
		sessions:   params.Sessions,
		programs:   params.Programs,
		attendance: params.Attendance,
		audit:      params.Audit,
		signer:     params.Signer,
		cache:      params.Cache,
		metrics:    params.Metrics,
		validator:  validate,
		logger:     logger,
		now:        time.Now,
		cfg:        cfg,
	}
}

// Create schedules a new session for a program.
func (s *SessionService) Create(ctx context.Context, scope models.Scope, req CreateSessionRequest) (*models.ClassSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if !req.Type.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown session type %q", req.Type))
	}

	program, err := s.programs.FindByID(ctx, req.ProgramID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "program not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
	}

	facilitatorID := scope.UserID
	switch scope.Role {
	case models.RoleFacilitator:
		assigned, err := s.programs.IsFacilitatorAssigned(ctx, program.ID, scope.UserID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check assignment")
		}
		if !assigned {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "facilitator is not assigned to this program")
		}
	case models.RoleSuperAdmin, models.RoleProgramManager:
		if scope.Role == models.RoleProgramManager && program.ManagerID != scope.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "program belongs to another manager")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot schedule sessions")
	}

	session := &models.ClassSession{
		ProgramID:     program.ID,
		FacilitatorID: facilitatorID,
		Title:         req.Title,
		Type:          req.Type,
		Status:        models.SessionStatusScheduled,
		ScheduledAt:   req.ScheduledAt.UTC(),
	}
	if err := session.Validate(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}

	s.writeAudit(ctx, scope, models.AuditActionSessionCreate, session.ID, []byte(fmt.Sprintf(`{"program_id":%q,"type":%q}`, session.ProgramID, session.Type)))
	return session, nil
}

// StartOnline activates an online session: a signed check-in token is minted,
// rendered as a QR image, and exposed through a shareable access link.
func (s *SessionService) StartOnline(ctx context.Context, scope models.Scope, sessionID string) (*dto.SessionActivationResponse, error) {
	session, err := s.loadOwnedSession(ctx, scope, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Type != models.SessionTypeOnline {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session is not an online session")
	}
	if !session.Status.CanTransitionTo(models.SessionStatusActive) {
		return nil, appErrors.Clone(appErrors.ErrSessionState, fmt.Sprintf("cannot start a %s session", session.Status))
	}

	token, expiresAt, err := s.signer.Generate(session.ID, "check-in")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mint check-in token")
	}
	accessLink := fmt.Sprintf("%s/check-in/%s", s.cfg.AccessLinkBaseURL, token)

	png, err := qrcode.Encode(accessLink, qrcode.Medium, s.cfg.QRImageSize)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render QR code")
	}

	now := s.now().UTC()
	prev := session.Status
	session.Status = models.SessionStatusActive
	session.StartedAt = &now
	session.QRToken = &token
	session.AccessLink = &accessLink
	session.QRExpiresAt = &expiresAt

	if err := s.transition(ctx, session, prev); err != nil {
		return nil, err
	}

	s.invalidateSummaries(ctx, session.ProgramID)
	s.writeAudit(ctx, scope, models.AuditActionSessionStart, session.ID, []byte(`{"mode":"online"}`))

	return &dto.SessionActivationResponse{
		SessionID:   session.ID,
		Status:      session.Status,
		StartedAt:   now,
		QRCodeImage: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		AccessLink:  accessLink,
		QRExpiresAt: &expiresAt,
	}, nil
}

// StartPhysical activates an in-person session by anchoring the facilitator's
// coordinates. When the device could not produce a location the session stays
// scheduled and the failure kind maps to a distinct error.
func (s *SessionService) StartPhysical(ctx context.Context, scope models.Scope, sessionID string, reading GeolocationReading) (*dto.SessionActivationResponse, error) {
	session, err := s.loadOwnedSession(ctx, scope, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Type != models.SessionTypePhysical {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session is not a physical session")
	}
	if !session.Status.CanTransitionTo(models.SessionStatusActive) {
		return nil, appErrors.Clone(appErrors.ErrSessionState, fmt.Sprintf("cannot start a %s session", session.Status))
	}

	if reading.FailureKind != "" {
		return nil, locationFailureError(reading.FailureKind)
	}
	if reading.Latitude == nil || reading.Longitude == nil {
		return nil, appErrors.Clone(appErrors.ErrLocationUnavailable, "")
	}

	now := s.now().UTC()
	prev := session.Status
	session.Status = models.SessionStatusActive
	session.StartedAt = &now
	session.AnchorLatitude = reading.Latitude
	session.AnchorLongitude = reading.Longitude

	if err := s.transition(ctx, session, prev); err != nil {
		return nil, err
	}

	s.invalidateSummaries(ctx, session.ProgramID)
	s.writeAudit(ctx, scope, models.AuditActionSessionStart, session.ID, []byte(`{"mode":"physical"}`))

	return &dto.SessionActivationResponse{
		SessionID:       session.ID,
		Status:          session.Status,
		StartedAt:       now,
		AnchorLatitude:  session.AnchorLatitude,
		AnchorLongitude: session.AnchorLongitude,
	}, nil
}

// Complete closes an active session. Enrolled trainees without a record are
// marked absent so aggregation sees a full roster.
func (s *SessionService) Complete(ctx context.Context, scope models.Scope, sessionID string) (*models.ClassSession, error) {
	session, err := s.loadOwnedSession(ctx, scope, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Status.CanTransitionTo(models.SessionStatusCompleted) {
		return nil, appErrors.Clone(appErrors.ErrSessionState, fmt.Sprintf("cannot complete a %s session", session.Status))
	}

	now := s.now().UTC()
	prev := session.Status
	session.Status = models.SessionStatusCompleted
	session.EndedAt = &now
	session.QRToken = nil
	session.QRExpiresAt = nil

	if err := s.transition(ctx, session, prev); err != nil {
		return nil, err
	}

	if s.attendance != nil {
		marked, err := s.attendance.MarkAbsentees(ctx, session.ID, session.ProgramID)
		if err != nil {
			s.logger.Error("failed to mark absentees on completion", zap.String("session_id", session.ID), zap.Error(err))
		} else if marked > 0 {
			s.logger.Info("marked absentees", zap.String("session_id", session.ID), zap.Int("count", marked))
		}
	}

	s.invalidateSummaries(ctx, session.ProgramID)
	s.writeAudit(ctx, scope, models.AuditActionSessionComplete, session.ID, nil)
	return session, nil
}

// Cancel cancels a scheduled or active session.
func (s *SessionService) Cancel(ctx context.Context, scope models.Scope, sessionID string) (*models.ClassSession, error) {
	session, err := s.loadOwnedSession(ctx, scope, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Status.CanTransitionTo(models.SessionStatusCancelled) {
		return nil, appErrors.Clone(appErrors.ErrSessionState, fmt.Sprintf("cannot cancel a %s session", session.Status))
	}

	now := s.now().UTC()
	prev := session.Status
	session.Status = models.SessionStatusCancelled
	session.EndedAt = &now
	session.QRToken = nil
	session.QRExpiresAt = nil

	if err := s.transition(ctx, session, prev); err != nil {
		return nil, err
	}

	s.invalidateSummaries(ctx, session.ProgramID)
	s.writeAudit(ctx, scope, models.AuditActionSessionCancel, session.ID, nil)
	return session, nil
}

// List returns sessions visible to the caller. Facilitators only see their
// own sessions; trainees are rejected here and use the calendar view instead.
func (s *SessionService) List(ctx context.Context, scope models.Scope, filter models.SessionFilter) ([]models.SessionWithCounts, *models.Pagination, error) {
	switch scope.Role {
	case models.RoleFacilitator:
		filter.FacilitatorID = scope.UserID
	case models.RoleSuperAdmin, models.RoleProgramManager, models.RoleITSupport:
	default:
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot list sessions")
	}

	rows, total, err := s.sessions.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
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

// Get returns a single session the caller may see.
func (s *SessionService) Get(ctx context.Context, scope models.Scope, sessionID string) (*models.ClassSession, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if scope.Role == models.RoleFacilitator && session.FacilitatorID != scope.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "session belongs to another facilitator")
	}
	return session, nil
}

func (s *SessionService) loadOwnedSession(ctx context.Context, scope models.Scope, sessionID string) (*models.ClassSession, error) {
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

	switch scope.Role {
	case models.RoleFacilitator:
		if session.FacilitatorID != scope.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "session belongs to another facilitator")
		}
	case models.RoleSuperAdmin:
	case models.RoleProgramManager:
		program, err := s.programs.FindByID(ctx, session.ProgramID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
		}
		if program.ManagerID != scope.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "program belongs to another manager")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot manage sessions")
	}
	return session, nil
}

func (s *SessionService) transition(ctx context.Context, session *models.ClassSession, from models.SessionStatus) error {
	if err := s.sessions.UpdateStatus(ctx, session, from); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrSessionState, "session state changed concurrently")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update session")
	}
	return nil
}

func (s *SessionService) invalidateSummaries(ctx context.Context, programID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, fmt.Sprintf("summary:%s*", programID)); err != nil {
		s.logger.Warn("summary cache invalidation failed", zap.String("program_id", programID), zap.Error(err))
	}
}

func (s *SessionService) writeAudit(ctx context.Context, scope models.Scope, action, resourceID string, newValues []byte) {
	if s.audit == nil {
		return
	}
	userID := scope.UserID
	if err := s.audit.Create(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "session",
		ResourceID: &resourceID,
		NewValues:  newValues,
	}); err != nil {
		s.logger.Warn("failed to record session audit log", zap.String("action", action), zap.Error(err))
	}
}

func locationFailureError(kind string) error {
	switch kind {
	case LocationFailurePermissionDenied:
		return appErrors.Clone(appErrors.ErrLocationPermissionDenied, "")
	case LocationFailureUnavailable:
		return appErrors.Clone(appErrors.ErrLocationUnavailable, "")
	case LocationFailureTimeout:
		return appErrors.Clone(appErrors.ErrLocationTimeout, "")
	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown location failure kind %q", kind))
	}
}
