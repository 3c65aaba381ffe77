package dto

import (
	"time"

	"github.com/skillbridge/tpm-api/internal/models"
)

// ProgramSummaryResponse is the program-level attendance rollup shown on the
// manager dashboard.
type ProgramSummaryResponse struct {
	ProgramID   string                        `json:"program_id"`
	ProgramName string                        `json:"program_name"`
	Stats       models.ProgramAttendanceStats `json:"stats"`
	Students    []models.StudentSummary       `json:"students"`
	GeneratedAt time.Time                     `json:"generated_at"`
}

// StatCard is a single headline figure on the student detail view.
type StatCard struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// CalendarEntry is one session in the student detail calendar. CheckInTime is
// the formatted clock time or "N/A" when the trainee never checked in.
type CalendarEntry struct {
	SessionID    string                  `json:"session_id"`
	SessionTitle string                  `json:"session_title"`
	Date         string                  `json:"date"`
	Status       models.AttendanceStatus `json:"status"`
	Method       models.AttendanceMethod `json:"method,omitempty"`
	CheckInTime  string                  `json:"check_in_time"`
	Notes        *string                 `json:"notes,omitempty"`
}

// CalendarMonth buckets calendar entries by month for rendering.
type CalendarMonth struct {
	Month   string          `json:"month"`
	Entries []CalendarEntry `json:"entries"`
}

// StudentDetailResponse is the per-trainee drill-down with stat cards and a
// month-bucketed attendance calendar.
type StudentDetailResponse struct {
	ProgramID   string                `json:"program_id"`
	TraineeID   string                `json:"trainee_id"`
	TraineeName string                `json:"trainee_name"`
	Summary     models.StudentSummary `json:"summary"`
	StatCards   []StatCard            `json:"stat_cards"`
	Calendar    []CalendarMonth       `json:"calendar"`
	GeneratedAt time.Time             `json:"generated_at"`
}
