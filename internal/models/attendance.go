package models

import "time"

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "PRESENT"
	AttendanceStatusAbsent  AttendanceStatus = "ABSENT"
	AttendanceStatusExcused AttendanceStatus = "EXCUSED"
	AttendanceStatusLate    AttendanceStatus = "LATE"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusExcused, AttendanceStatusLate:
		return true
	default:
		return false
	}
}

// CountsAsAttended reports whether the status counts toward the attendance
// rate numerator. Late arrivals still attended.
func (s AttendanceStatus) CountsAsAttended() bool {
	return s == AttendanceStatusPresent || s == AttendanceStatusLate
}

// AttendanceMethod records how a check-in was captured.
type AttendanceMethod string

const (
	AttendanceMethodQRCode      AttendanceMethod = "qr_code"
	AttendanceMethodGeolocation AttendanceMethod = "geolocation"
	AttendanceMethodManual      AttendanceMethod = "manual"
)

// Valid returns true when the method is a supported value.
func (m AttendanceMethod) Valid() bool {
	switch m {
	case AttendanceMethodQRCode, AttendanceMethodGeolocation, AttendanceMethodManual:
		return true
	default:
		return false
	}
}

// AttendanceRecord represents a single trainee/session attendance row.
type AttendanceRecord struct {
	ID        string           `db:"id" json:"id"`
	SessionID string           `db:"session_id" json:"session_id"`
	TraineeID string           `db:"trainee_id" json:"trainee_id"`
	Status    AttendanceStatus `db:"status" json:"status"`
	Method    AttendanceMethod `db:"method" json:"method"`
	CheckedAt *time.Time       `db:"checked_at" json:"checked_at,omitempty"`
	Latitude  *float64         `db:"latitude" json:"latitude,omitempty"`
	Longitude *float64         `db:"longitude" json:"longitude,omitempty"`
	MarkedBy  *string          `db:"marked_by" json:"marked_by,omitempty"`
	Notes     *string          `db:"notes" json:"notes,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceRecordDetail extends a record with trainee and session metadata.
type AttendanceRecordDetail struct {
	AttendanceRecord
	TraineeName  string    `db:"trainee_name" json:"trainee_name"`
	SessionTitle string    `db:"session_title" json:"session_title"`
	SessionDate  time.Time `db:"session_date" json:"session_date"`
	ProgramID    string    `db:"program_id" json:"program_id"`
}

// AttendanceFilter scopes record listing queries.
type AttendanceFilter struct {
	ProgramID string
	SessionID string
	TraineeID string
	Status    *AttendanceStatus
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// StatusCounts groups per-status tallies for one trainee within a program.
type StatusCounts struct {
	Present int `db:"present" json:"present"`
	Absent  int `db:"absent" json:"absent"`
	Excused int `db:"excused" json:"excused"`
	Late    int `db:"late" json:"late"`
}

// StudentSummary is the per-trainee attendance rollup for a program.
type StudentSummary struct {
	TraineeID      string  `json:"trainee_id"`
	TraineeName    string  `json:"trainee_name"`
	Present        int     `json:"present"`
	Absent         int     `json:"absent"`
	Excused        int     `json:"excused"`
	Late           int     `json:"late"`
	TotalSessions  int     `json:"total_sessions"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// ProgramAttendanceStats is the program-wide attendance rollup.
type ProgramAttendanceStats struct {
	ProgramID      string  `json:"program_id"`
	TotalStudents  int     `json:"total_students"`
	TotalSessions  int     `json:"total_sessions"`
	TotalPresent   int     `json:"total_present"`
	TotalAbsent    int     `json:"total_absent"`
	TotalExcused   int     `json:"total_excused"`
	TotalLate      int     `json:"total_late"`
	AttendanceRate float64 `json:"attendance_rate"`
}
