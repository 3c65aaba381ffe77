package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/skillbridge/tpm-api/internal/models"
	appErrors "github.com/skillbridge/tpm-api/pkg/errors"
)

type programRepository interface {
	FindByID(ctx context.Context, id string) (*models.Program, error)
	List(ctx context.Context, filter models.ProgramFilter) ([]models.Program, int, error)
	Create(ctx context.Context, program *models.Program) error
	Update(ctx context.Context, program *models.Program) error
	EnrollTrainee(ctx context.Context, enrollment *models.ProgramEnrollment) error
	AssignFacilitator(ctx context.Context, assignment *models.ProgramAssignment) error
	IsFacilitatorAssigned(ctx context.Context, programID, facilitatorID string) (bool, error)
	IsTraineeEnrolled(ctx context.Context, programID, traineeID string) (bool, error)
}

type programUserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// CreateProgramRequest is the payload for creating a training program.
type CreateProgramRequest struct {
	Name        string     `json:"name" validate:"required"`
	Description *string    `json:"description"`
	StartDate   time.Time  `json:"start_date" validate:"required"`
	EndDate     *time.Time `json:"end_date"`
}

// UpdateProgramRequest is the payload for updating a program.
type UpdateProgramRequest struct {
	Name        *string               `json:"name"`
	Description *string               `json:"description"`
	Status      *models.ProgramStatus `json:"status"`
	StartDate   *time.Time            `json:"start_date"`
	EndDate     *time.Time            `json:"end_date"`
}

// ProgramService owns training program management and role-scoped listings.
type ProgramService struct {
	programs  programRepository
	users     programUserLookup
	audit     auditWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewProgramService constructs a ProgramService.
func NewProgramService(programs programRepository, users programUserLookup, audit auditWriter, validate *validator.Validate, logger *zap.Logger) *ProgramService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ProgramService{programs: programs, users: users, audit: audit, validator: validate, logger: logger}
}

// Create registers a new program owned by the calling manager.
func (s *ProgramService) Create(ctx context.Context, scope models.Scope, req CreateProgramRequest) (*models.Program, error) {
	if scope.Role != models.RoleSuperAdmin && scope.Role != models.RoleProgramManager {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot create programs")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid program payload")
	}

	program := &models.Program{
		Name:        req.Name,
		Description: req.Description,
		ManagerID:   scope.UserID,
		Status:      models.ProgramStatusDraft,
		StartDate:   req.StartDate.UTC(),
		EndDate:     req.EndDate,
	}
	if err := s.programs.Create(ctx, program); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create program")
	}

	s.writeAudit(ctx, scope, models.AuditActionProgramCreate, program.ID, []byte(fmt.Sprintf(`{"name":%q}`, program.Name)))
	return program, nil
}

// Update applies mutable fields to a program the caller manages.
func (s *ProgramService) Update(ctx context.Context, scope models.Scope, programID string, req UpdateProgramRequest) (*models.Program, error) {
	program, err := s.loadManagedProgram(ctx, scope, programID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		program.Name = *req.Name
	}
	if req.Description != nil {
		program.Description = req.Description
	}
	if req.Status != nil {
		program.Status = *req.Status
	}
	if req.StartDate != nil {
		program.StartDate = req.StartDate.UTC()
	}
	if req.EndDate != nil {
		program.EndDate = req.EndDate
	}

	if err := s.programs.Update(ctx, program); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update program")
	}

	s.writeAudit(ctx, scope, models.AuditActionProgramUpdate, program.ID, nil)
	return program, nil
}

// List returns programs visible to the caller. Managers see their own
// programs, facilitators their assignments, trainees their enrollments.
func (s *ProgramService) List(ctx context.Context, scope models.Scope, filter models.ProgramFilter) ([]models.Program, *models.Pagination, error) {
	switch scope.Role {
	case models.RoleSuperAdmin, models.RoleITSupport:
	case models.RoleProgramManager:
		filter.ManagerID = scope.UserID
	case models.RoleFacilitator:
		filter.FacilitatorID = scope.UserID
	case models.RoleTrainee:
		filter.TraineeID = scope.UserID
	default:
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot list programs")
	}

	rows, total, err := s.programs.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list programs")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return rows, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single program the caller may see.
func (s *ProgramService) Get(ctx context.Context, scope models.Scope, programID string) (*models.Program, error) {
	program, err := s.programs.FindByID(ctx, programID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "program not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
	}

	switch scope.Role {
	case models.RoleSuperAdmin, models.RoleITSupport:
		return program, nil
	case models.RoleProgramManager:
		if program.ManagerID != scope.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "program belongs to another manager")
		}
		return program, nil
	case models.RoleFacilitator:
		assigned, err := s.programs.IsFacilitatorAssigned(ctx, programID, scope.UserID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check assignment")
		}
		if !assigned {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "facilitator is not assigned to this program")
		}
		return program, nil
	case models.RoleTrainee:
		enrolled, err := s.programs.IsTraineeEnrolled(ctx, programID, scope.UserID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
		}
		if !enrolled {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "trainee is not enrolled in this program")
		}
		return program, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot view programs")
	}
}

// Enroll adds a trainee to a program the caller manages.
func (s *ProgramService) Enroll(ctx context.Context, scope models.Scope, programID, traineeID string) error {
	program, err := s.loadManagedProgram(ctx, scope, programID)
	if err != nil {
		return err
	}

	trainee, err := s.users.FindByID(ctx, traineeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "trainee not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load trainee")
	}
	if trainee.Role != models.RoleTrainee {
		return appErrors.Clone(appErrors.ErrValidation, "user is not a trainee")
	}

	if err := s.programs.EnrollTrainee(ctx, &models.ProgramEnrollment{ProgramID: program.ID, TraineeID: trainee.ID}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll trainee")
	}
	return nil
}

// Assign adds a facilitator to a program the caller manages.
func (s *ProgramService) Assign(ctx context.Context, scope models.Scope, programID, facilitatorID string) error {
	program, err := s.loadManagedProgram(ctx, scope, programID)
	if err != nil {
		return err
	}

	facilitator, err := s.users.FindByID(ctx, facilitatorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "facilitator not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load facilitator")
	}
	if facilitator.Role != models.RoleFacilitator {
		return appErrors.Clone(appErrors.ErrValidation, "user is not a facilitator")
	}

	if err := s.programs.AssignFacilitator(ctx, &models.ProgramAssignment{ProgramID: program.ID, FacilitatorID: facilitator.ID}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign facilitator")
	}
	return nil
}

func (s *ProgramService) loadManagedProgram(ctx context.Context, scope models.Scope, programID string) (*models.Program, error) {
	if programID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "programId is required")
	}
	program, err := s.programs.FindByID(ctx, programID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "program not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
	}
	switch scope.Role {
	case models.RoleSuperAdmin:
	case models.RoleProgramManager:
		if program.ManagerID != scope.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "program belongs to another manager")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot manage programs")
	}
	return program, nil
}

func (s *ProgramService) writeAudit(ctx context.Context, scope models.Scope, action, resourceID string, newValues []byte) {
	if s.audit == nil {
		return
	}
	userID := scope.UserID
	if err := s.audit.Create(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "program",
		ResourceID: &resourceID,
		NewValues:  newValues,
	}); err != nil {
		s.logger.Warn("failed to record program audit log", zap.String("action", action), zap.Error(err))
	}
}
