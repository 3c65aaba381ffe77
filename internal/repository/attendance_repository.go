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

// AttendanceRepository handles persistence for attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// FindBySessionAndTrainee returns the record for a trainee in a session.
func (r *AttendanceRepository) FindBySessionAndTrainee(ctx context.Context, sessionID, traineeID string) (*models.AttendanceRecord, error) {
	const query = `SELECT id, session_id, trainee_id, status, method, checked_at, latitude, longitude, marked_by, notes, created_at, updated_at FROM attendance_records WHERE session_id = $1 AND trainee_id = $2 LIMIT 1`
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, sessionID, traineeID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find attendance record: %w", err)
	}
	return &record, nil
}

// Upsert inserts or updates the attendance record for a trainee/session pair.
func (r *AttendanceRepository) Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	const query = `INSERT INTO attendance_records (id, session_id, trainee_id, status, method, checked_at, latitude, longitude, marked_by, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (session_id, trainee_id)
DO UPDATE SET status = EXCLUDED.status, method = EXCLUDED.method, checked_at = EXCLUDED.checked_at, latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude, marked_by = EXCLUDED.marked_by, notes = EXCLUDED.notes, updated_at = EXCLUDED.updated_at
RETURNING id, session_id, trainee_id, status, method, checked_at, latitude, longitude, marked_by, notes, created_at, updated_at`
	var stored models.AttendanceRecord
	if err := r.db.GetContext(ctx, &stored, query, record.ID, record.SessionID, record.TraineeID, record.Status, record.Method, record.CheckedAt, record.Latitude, record.Longitude, record.MarkedBy, record.Notes, record.CreatedAt, record.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert attendance record: %w", err)
	}
	return &stored, nil
}

// List returns detailed records matching the provided filter.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecordDetail, int, error) {
	base := `FROM attendance_records ar
JOIN class_sessions cs ON cs.id = ar.session_id
JOIN users u ON u.id = ar.trainee_id`
	where := []string{"1=1"}
	args := []interface{}{}

	if filter.ProgramID != "" {
		where = append(where, fmt.Sprintf("cs.program_id = $%d", len(args)+1))
		args = append(args, filter.ProgramID)
	}
	if filter.SessionID != "" {
		where = append(where, fmt.Sprintf("ar.session_id = $%d", len(args)+1))
		args = append(args, filter.SessionID)
	}
	if filter.TraineeID != "" {
		where = append(where, fmt.Sprintf("ar.trainee_id = $%d", len(args)+1))
		args = append(args, filter.TraineeID)
	}
	if filter.Status != nil && filter.Status.Valid() {
		where = append(where, fmt.Sprintf("ar.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("cs.scheduled_at >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("cs.scheduled_at <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	whereClause := strings.Join(where, " AND ")

	sortBy := filter.SortBy
	allowedSort := map[string]string{
		"checked_at":   "ar.checked_at",
		"status":       "ar.status",
		"scheduled_at": "cs.scheduled_at",
	}
	sortColumn, ok := allowedSort[sortBy]
	if !ok {
		sortColumn = "cs.scheduled_at"
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
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT ar.id, ar.session_id, ar.trainee_id, ar.status, ar.method, ar.checked_at, ar.latitude, ar.longitude, ar.marked_by, ar.notes, ar.created_at, ar.updated_at,
        u.full_name AS trainee_name, cs.title AS session_title, cs.scheduled_at AS session_date, cs.program_id
        %s WHERE %s
        ORDER BY %s %s
        LIMIT %d OFFSET %d`, base, whereClause, sortColumn, order, size, offset)

	var rows []models.AttendanceRecordDetail
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance records: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance records: %w", err)
	}
	return rows, total, nil
}

// CountsByTrainee groups per-status tallies for every trainee of a program
// across its held sessions. Trainees with no records yet are still returned,
// so the date predicates live on the session join rather than the WHERE
// clause. Non-nil from/to bound the tallies to sessions scheduled inside the
// window.
func (r *AttendanceRepository) CountsByTrainee(ctx context.Context, programID string, from, to *time.Time) (map[string]models.StatusCounts, error) {
	sessionJoin := `LEFT JOIN class_sessions cs ON cs.program_id = pe.program_id AND cs.status IN ('active', 'completed')`
	args := []interface{}{programID}
	if from != nil {
		args = append(args, *from)
		sessionJoin += fmt.Sprintf(" AND cs.scheduled_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		sessionJoin += fmt.Sprintf(" AND cs.scheduled_at <= $%d", len(args))
	}
	query := fmt.Sprintf(`SELECT pe.trainee_id, ar.status, COUNT(ar.id) AS cnt
FROM program_enrollments pe
%s
LEFT JOIN attendance_records ar ON ar.session_id = cs.id AND ar.trainee_id = pe.trainee_id
WHERE pe.program_id = $1 AND pe.dropped_at IS NULL
GROUP BY pe.trainee_id, ar.status`, sessionJoin)
	rows := []struct {
		TraineeID string  `db:"trainee_id"`
		Status    *string `db:"status"`
		Count     int     `db:"cnt"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("attendance counts by trainee: %w", err)
	}
	counts := make(map[string]models.StatusCounts, len(rows))
	for _, row := range rows {
		c := counts[row.TraineeID]
		if row.Status != nil {
			switch models.AttendanceStatus(*row.Status) {
			case models.AttendanceStatusPresent:
				c.Present += row.Count
			case models.AttendanceStatusAbsent:
				c.Absent += row.Count
			case models.AttendanceStatusExcused:
				c.Excused += row.Count
			case models.AttendanceStatusLate:
				c.Late += row.Count
			}
		}
		counts[row.TraineeID] = c
	}
	return counts, nil
}

// TraineeHistory returns the per-session attendance history of a trainee in a
// program, ordered by session date.
func (r *AttendanceRepository) TraineeHistory(ctx context.Context, programID, traineeID string) ([]models.AttendanceRecordDetail, error) {
	const query = `SELECT ar.id, ar.session_id, ar.trainee_id, ar.status, ar.method, ar.checked_at, ar.latitude, ar.longitude, ar.marked_by, ar.notes, ar.created_at, ar.updated_at,
u.full_name AS trainee_name, cs.title AS session_title, cs.scheduled_at AS session_date, cs.program_id
FROM attendance_records ar
JOIN class_sessions cs ON cs.id = ar.session_id
JOIN users u ON u.id = ar.trainee_id
WHERE cs.program_id = $1 AND ar.trainee_id = $2
ORDER BY cs.scheduled_at ASC`
	var rows []models.AttendanceRecordDetail
	if err := r.db.SelectContext(ctx, &rows, query, programID, traineeID); err != nil {
		return nil, fmt.Errorf("trainee attendance history: %w", err)
	}
	return rows, nil
}

// MarkAbsentees inserts ABSENT records for every enrolled trainee without a
// record in the given session. Called when a session completes.
func (r *AttendanceRepository) MarkAbsentees(ctx context.Context, sessionID, programID string) (int, error) {
	now := time.Now().UTC()
	const query = `INSERT INTO attendance_records (id, session_id, trainee_id, status, method, created_at, updated_at)
SELECT gen_random_uuid(), $1, pe.trainee_id, 'ABSENT', 'manual', $3, $3
FROM program_enrollments pe
WHERE pe.program_id = $2 AND pe.dropped_at IS NULL
  AND NOT EXISTS (SELECT 1 FROM attendance_records ar WHERE ar.session_id = $1 AND ar.trainee_id = pe.trainee_id)`
	result, err := r.db.ExecContext(ctx, query, sessionID, programID, now)
	if err != nil {
		return 0, fmt.Errorf("mark absentees: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark absentees: %w", err)
	}
	return int(affected), nil
}
