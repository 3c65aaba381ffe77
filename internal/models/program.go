package models

import "time"

// ProgramStatus tracks a training program lifecycle.
type ProgramStatus string

const (
	ProgramStatusDraft     ProgramStatus = "draft"
	ProgramStatusActive    ProgramStatus = "active"
	ProgramStatusCompleted ProgramStatus = "completed"
	ProgramStatusArchived  ProgramStatus = "archived"
)

// Program represents a training program with enrolled trainees and assigned
// facilitators.
type Program struct {
	ID          string        `db:"id" json:"id"`
	Name        string        `db:"name" json:"name"`
	Description *string       `db:"description" json:"description,omitempty"`
	ManagerID   string        `db:"manager_id" json:"manager_id"`
	Status      ProgramStatus `db:"status" json:"status"`
	StartDate   time.Time     `db:"start_date" json:"start_date"`
	EndDate     *time.Time    `db:"end_date" json:"end_date,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// ProgramEnrollment links a trainee to a program.
type ProgramEnrollment struct {
	ID         string     `db:"id" json:"id"`
	ProgramID  string     `db:"program_id" json:"program_id"`
	TraineeID  string     `db:"trainee_id" json:"trainee_id"`
	EnrolledAt time.Time  `db:"enrolled_at" json:"enrolled_at"`
	DroppedAt  *time.Time `db:"dropped_at" json:"dropped_at,omitempty"`
}

// ProgramAssignment links a facilitator to a program.
type ProgramAssignment struct {
	ID            string    `db:"id" json:"id"`
	ProgramID     string    `db:"program_id" json:"program_id"`
	FacilitatorID string    `db:"facilitator_id" json:"facilitator_id"`
	AssignedAt    time.Time `db:"assigned_at" json:"assigned_at"`
}

// ProgramFilter scopes program listing queries.
type ProgramFilter struct {
	ManagerID     string
	FacilitatorID string
	TraineeID     string
	Status        *ProgramStatus
	Search        string
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}
