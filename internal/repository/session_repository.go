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

// SessionRepository handles persistence for class sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, program_id, facilitator_id, title, type, status, scheduled_at, started_at, ended_at, qr_token, access_link, qr_expires_at, anchor_latitude, anchor_longitude, created_at, updated_at`

// FindByID returns a session by identifier.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.ClassSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM class_sessions WHERE id = $1 LIMIT 1`, sessionColumns)
	var session models.ClassSession
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find session by id: %w", err)
	}
	return &session, nil
}

// Create inserts a new scheduled session.
func (r *SessionRepository) Create(ctx context.Context, session *models.ClassSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	if session.Status == "" {
		session.Status = models.SessionStatusScheduled
	}

	const query = `INSERT INTO class_sessions (id, program_id, facilitator_id, title, type, status, scheduled_at, started_at, ended_at, qr_token, access_link, qr_expires_at, anchor_latitude, anchor_longitude, created_at, updated_at)
VALUES (:id, :program_id, :facilitator_id, :title, :type, :status, :scheduled_at, :started_at, :ended_at, :qr_token, :access_link, :qr_expires_at, :anchor_latitude, :anchor_longitude, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// UpdateStatus transitions a session row, persisting lifecycle metadata in the
// same statement so concurrent activations cannot race past the state check.
func (r *SessionRepository) UpdateStatus(ctx context.Context, session *models.ClassSession, from models.SessionStatus) error {
	session.UpdatedAt = time.Now().UTC()
	const query = `UPDATE class_sessions
SET status = :status, started_at = :started_at, ended_at = :ended_at, qr_token = :qr_token, access_link = :access_link, qr_expires_at = :qr_expires_at, anchor_latitude = :anchor_latitude, anchor_longitude = :anchor_longitude, updated_at = :updated_at
WHERE id = :id AND status = :prev_status`
	params := map[string]interface{}{
		"id":               session.ID,
		"status":           session.Status,
		"started_at":       session.StartedAt,
		"ended_at":         session.EndedAt,
		"qr_token":         session.QRToken,
		"access_link":      session.AccessLink,
		"qr_expires_at":    session.QRExpiresAt,
		"anchor_latitude":  session.AnchorLatitude,
		"anchor_longitude": session.AnchorLongitude,
		"updated_at":       session.UpdatedAt,
		"prev_status":      from,
	}
	result, err := r.db.NamedExecContext(ctx, query, params)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns sessions matching the filter with per-session attendance counts.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.SessionWithCounts, int, error) {
	base := `FROM class_sessions cs`
	where := []string{"1=1"}
	args := []interface{}{}

	if filter.ProgramID != "" {
		where = append(where, fmt.Sprintf("cs.program_id = $%d", len(args)+1))
		args = append(args, filter.ProgramID)
	}
	if filter.FacilitatorID != "" {
		where = append(where, fmt.Sprintf("cs.facilitator_id = $%d", len(args)+1))
		args = append(args, filter.FacilitatorID)
	}
	if filter.Status != nil && filter.Status.Valid() {
		where = append(where, fmt.Sprintf("cs.status = $%d", len(args)+1))
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
		"scheduled_at": "cs.scheduled_at",
		"status":       "cs.status",
		"created_at":   "cs.created_at",
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

	query := fmt.Sprintf(`SELECT cs.id, cs.program_id, cs.facilitator_id, cs.title, cs.type, cs.status, cs.scheduled_at, cs.started_at, cs.ended_at, cs.qr_token, cs.access_link, cs.qr_expires_at, cs.anchor_latitude, cs.anchor_longitude, cs.created_at, cs.updated_at,
        COALESCE((SELECT COUNT(*) FROM attendance_records ar WHERE ar.session_id = cs.id AND ar.status IN ('PRESENT', 'LATE')), 0) AS total_present,
        COALESCE((SELECT COUNT(*) FROM attendance_records ar WHERE ar.session_id = cs.id AND ar.status = 'ABSENT'), 0) AS total_absent
        %s WHERE %s
        ORDER BY %s %s
        LIMIT %d OFFSET %d`, base, whereClause, sortColumn, order, size, offset)

	var rows []models.SessionWithCounts
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	return rows, total, nil
}

// CountHeldSessions returns the number of sessions a program has actually
// held, meaning active or completed. Cancelled and still-scheduled sessions do
// not count toward attendance denominators. Non-nil from/to bound the count to
// sessions scheduled inside the window.
func (r *SessionRepository) CountHeldSessions(ctx context.Context, programID string, from, to *time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM class_sessions WHERE program_id = $1 AND status IN ('active', 'completed')`
	args := []interface{}{programID}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND scheduled_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND scheduled_at <= $%d", len(args))
	}
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count held sessions: %w", err)
	}
	return count, nil
}

// ListHeldSessions returns held sessions for a program ordered by schedule,
// used when building calendar detail views.
func (r *SessionRepository) ListHeldSessions(ctx context.Context, programID string) ([]models.ClassSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM class_sessions WHERE program_id = $1 AND status IN ('active', 'completed') ORDER BY scheduled_at ASC`, sessionColumns)
	var rows []models.ClassSession
	if err := r.db.SelectContext(ctx, &rows, query, programID); err != nil {
		return nil, fmt.Errorf("list held sessions: %w", err)
	}
	return rows, nil
}
