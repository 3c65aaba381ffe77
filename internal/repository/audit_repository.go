package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/skillbridge/tpm-api/internal/models"
)

// AuditRepository handles persistence for the audit trail and the master log
// view built on top of it.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create stores an audit log entry.
func (r *AuditRepository) Create(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at) VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// MasterLog returns audit entries joined with actor metadata, newest first.
func (r *AuditRepository) MasterLog(ctx context.Context, filter models.MasterLogFilter) ([]models.MasterLogEntry, int, error) {
	base := `FROM audit_logs al
LEFT JOIN users u ON u.id = al.user_id`
	where := []string{"1=1"}
	args := []interface{}{}

	if filter.Action != "" {
		where = append(where, fmt.Sprintf("al.action = $%d", len(args)+1))
		args = append(args, filter.Action)
	}
	if filter.UserID != "" {
		where = append(where, fmt.Sprintf("al.user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.Resource != "" {
		where = append(where, fmt.Sprintf("al.resource = $%d", len(args)+1))
		args = append(args, filter.Resource)
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("al.created_at >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("al.created_at <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT al.id, al.user_id, al.action, al.resource, al.resource_id, al.old_values, al.new_values, al.ip_address, al.user_agent, al.created_at,
        u.full_name AS user_name, u.role AS user_role
        %s WHERE %s
        ORDER BY al.created_at DESC
        LIMIT %d OFFSET %d`, base, whereClause, size, offset)

	var rows []models.MasterLogEntry
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("master log: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count master log: %w", err)
	}
	return rows, total, nil
}
