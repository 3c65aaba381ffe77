package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/skillbridge/tpm-api/internal/models"
)

// ProgramRepository handles persistence for training programs and their
// enrollments/assignments.
type ProgramRepository struct {
	db *sqlx.DB
}

// NewProgramRepository constructs the repository.
func NewProgramRepository(db *sqlx.DB) *ProgramRepository {
	return &ProgramRepository{db: db}
}

// FindByID returns a program by identifier.
func (r *ProgramRepository) FindByID(ctx context.Context, id string) (*models.Program, error) {
	const query = `SELECT id, name, description, manager_id, status, start_date, end_date, created_at, updated_at FROM programs WHERE id = $1 LIMIT 1`
	var program models.Program
	if err := r.db.GetContext(ctx, &program, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find program by id: %w", err)
	}
	return &program, nil
}

// List returns programs matching the filter with a total count. Role scoping
// happens through the ManagerID/FacilitatorID/TraineeID fields.
func (r *ProgramRepository) List(ctx context.Context, filter models.ProgramFilter) ([]models.Program, int, error) {
	base := `FROM programs p`
	where := []string{"1=1"}
	args := []interface{}{}

	if filter.ManagerID != "" {
		where = append(where, fmt.Sprintf("p.manager_id = $%d", len(args)+1))
		args = append(args, filter.ManagerID)
	}
	if filter.FacilitatorID != "" {
		where = append(where, fmt.Sprintf("EXISTS (SELECT 1 FROM program_assignments pa WHERE pa.program_id = p.id AND pa.facilitator_id = $%d)", len(args)+1))
		args = append(args, filter.FacilitatorID)
	}
	if filter.TraineeID != "" {
		where = append(where, fmt.Sprintf("EXISTS (SELECT 1 FROM program_enrollments pe WHERE pe.program_id = p.id AND pe.trainee_id = $%d AND pe.dropped_at IS NULL)", len(args)+1))
		args = append(args, filter.TraineeID)
	}
	if filter.Status != nil {
		where = append(where, fmt.Sprintf("p.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("LOWER(p.name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	whereClause := strings.Join(where, " AND ")

	sortBy := filter.SortBy
	allowedSort := map[string]string{
		"name":       "p.name",
		"start_date": "p.start_date",
		"created_at": "p.created_at",
	}
	sortColumn, ok := allowedSort[sortBy]
	if !ok {
		sortColumn = "p.start_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT p.id, p.name, p.description, p.manager_id, p.status, p.start_date, p.end_date, p.created_at, p.updated_at
        %s WHERE %s
        ORDER BY %s %s
        LIMIT %d OFFSET %d`, base, whereClause, sortColumn, order, size, offset)

	var rows []models.Program
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list programs: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count programs: %w", err)
	}
	return rows, total, nil
}

// Create inserts a new program.
func (r *ProgramRepository) Create(ctx context.Context, program *models.Program) error {
	if program.ID == "" {
		program.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if program.CreatedAt.IsZero() {
		program.CreatedAt = now
	}
	program.UpdatedAt = now
	if program.Status == "" {
		program.Status = models.ProgramStatusDraft
	}

	const query = `INSERT INTO programs (id, name, description, manager_id, status, start_date, end_date, created_at, updated_at) VALUES (:id, :name, :description, :manager_id, :status, :start_date, :end_date, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, program); err != nil {
		return fmt.Errorf("create program: %w", err)
	}
	return nil
}

// Update updates mutable fields of a program.
func (r *ProgramRepository) Update(ctx context.Context, program *models.Program) error {
	program.UpdatedAt = time.Now().UTC()
	const query = `UPDATE programs SET name = :name, description = :description, status = :status, start_date = :start_date, end_date = :end_date, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, program); err != nil {
		return fmt.Errorf("update program: %w", err)
	}
	return nil
}

// EnrollTrainee adds a trainee to a program.
func (r *ProgramRepository) EnrollTrainee(ctx context.Context, enrollment *models.ProgramEnrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	const query = `INSERT INTO program_enrollments (id, program_id, trainee_id, enrolled_at) VALUES (:id, :program_id, :trainee_id, :enrolled_at) ON CONFLICT (program_id, trainee_id) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("enroll trainee: %w", err)
	}
	return nil
}

// AssignFacilitator adds a facilitator to a program.
func (r *ProgramRepository) AssignFacilitator(ctx context.Context, assignment *models.ProgramAssignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	if assignment.AssignedAt.IsZero() {
		assignment.AssignedAt = time.Now().UTC()
	}
	const query = `INSERT INTO program_assignments (id, program_id, facilitator_id, assigned_at) VALUES (:id, :program_id, :facilitator_id, :assigned_at) ON CONFLICT (program_id, facilitator_id) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("assign facilitator: %w", err)
	}
	return nil
}

// ListEnrolledTrainees returns the active trainees of a program.
func (r *ProgramRepository) ListEnrolledTrainees(ctx context.Context, programID string) ([]models.User, error) {
	const query = `SELECT u.id, u.email, u.password_hash, u.full_name, u.role, u.active, u.last_login, u.created_at, u.updated_at
FROM program_enrollments pe
JOIN users u ON u.id = pe.trainee_id
WHERE pe.program_id = $1 AND pe.dropped_at IS NULL
ORDER BY u.full_name ASC`
	var rows []models.User
	if err := r.db.SelectContext(ctx, &rows, query, programID); err != nil {
		return nil, fmt.Errorf("list enrolled trainees: %w", err)
	}
	return rows, nil
}

// IsTraineeEnrolled reports whether the trainee is actively enrolled.
func (r *ProgramRepository) IsTraineeEnrolled(ctx context.Context, programID, traineeID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM program_enrollments WHERE program_id = $1 AND trainee_id = $2 AND dropped_at IS NULL)`
	var enrolled bool
	if err := r.db.GetContext(ctx, &enrolled, query, programID, traineeID); err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return enrolled, nil
}

// IsFacilitatorAssigned reports whether the facilitator is assigned to the program.
func (r *ProgramRepository) IsFacilitatorAssigned(ctx context.Context, programID, facilitatorID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM program_assignments WHERE program_id = $1 AND facilitator_id = $2)`
	var assigned bool
	if err := r.db.GetContext(ctx, &assigned, query, programID, facilitatorID); err != nil {
		return false, fmt.Errorf("check assignment: %w", err)
	}
	return assigned, nil
}

// CountEnrolled returns the number of active trainees in a program.
func (r *ProgramRepository) CountEnrolled(ctx context.Context, programID string) (int, error) {
	const query = `SELECT COUNT(*) FROM program_enrollments WHERE program_id = $1 AND dropped_at IS NULL`
	var count int
	if err := r.db.GetContext(ctx, &count, query, programID); err != nil {
		return 0, fmt.Errorf("count enrolled trainees: %w", err)
	}
	return count, nil
}
