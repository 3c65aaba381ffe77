package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin             = "LOGIN"
	AuditActionLogout            = "LOGOUT"
	AuditActionUserCreate        = "USER_CREATE"
	AuditActionUserUpdate        = "USER_UPDATE"
	AuditActionUserDelete        = "USER_DELETE"
	AuditActionPasswordChange    = "PASSWORD_CHANGE"
	AuditActionProgramCreate     = "PROGRAM_CREATE"
	AuditActionProgramUpdate     = "PROGRAM_UPDATE"
	AuditActionProgramEnroll     = "PROGRAM_ENROLL"
	AuditActionProgramAssign     = "PROGRAM_ASSIGN"
	AuditActionSessionCreate     = "SESSION_CREATE"
	AuditActionSessionStart      = "SESSION_START"
	AuditActionSessionComplete   = "SESSION_COMPLETE"
	AuditActionSessionCancel     = "SESSION_CANCEL"
	AuditActionAttendanceCheckIn = "ATTENDANCE_CHECK_IN"
	AuditActionAttendanceMark    = "ATTENDANCE_MARK"
	AuditActionReportExport      = "REPORT_EXPORT"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// MasterLogFilter scopes master log queries from the admin console.
type MasterLogFilter struct {
	Action    string
	UserID    string
	Resource  string
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
}

// MasterLogEntry joins the audit row with the acting user's display data.
type MasterLogEntry struct {
	AuditLog
	UserName *string   `db:"user_name" json:"user_name,omitempty"`
	UserRole *UserRole `db:"user_role" json:"user_role,omitempty"`
}

// MasterLogPage is the paginated envelope for the master log endpoint.
type MasterLogPage struct {
	Docs        []MasterLogEntry `json:"docs"`
	Page        int              `json:"page"`
	TotalPages  int              `json:"totalPages"`
	HasNextPage bool             `json:"hasNextPage"`
	HasPrevPage bool             `json:"hasPrevPage"`
	TotalDocs   int              `json:"totalDocs"`
}
