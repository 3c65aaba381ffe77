package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillbridge/tpm-api/internal/models"
)

func TestAttendanceCountsByTrainee(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	rows := sqlmock.NewRows([]string{"trainee_id", "status", "cnt"}).
		AddRow("t1", "PRESENT", 8).
		AddRow("t1", "LATE", 1).
		AddRow("t1", "ABSENT", 1).
		AddRow("t2", nil, 0)
	mock.ExpectQuery("SELECT pe.trainee_id, ar.status, COUNT").
		WithArgs("prog-1").
		WillReturnRows(rows)

	counts, err := repo.CountsByTrainee(context.Background(), "prog-1", nil, nil)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, 8, counts["t1"].Present)
	assert.Equal(t, 1, counts["t1"].Late)
	assert.Equal(t, 1, counts["t1"].Absent)
	assert.Equal(t, models.StatusCounts{}, counts["t2"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceCountsByTraineeBoundedRange(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"trainee_id", "status", "cnt"}).
		AddRow("t1", "PRESENT", 3)
	mock.ExpectQuery(regexp.QuoteMeta("cs.scheduled_at >= $2 AND cs.scheduled_at <= $3")).
		WithArgs("prog-1", from, to).
		WillReturnRows(rows)

	counts, err := repo.CountsByTrainee(context.Background(), "prog-1", &from, &to)
	require.NoError(t, err)
	assert.Equal(t, 3, counts["t1"].Present)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceUpsert(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	now := time.Now()
	checked := now
	returned := sqlmock.NewRows([]string{"id", "session_id", "trainee_id", "status", "method", "checked_at", "latitude", "longitude", "marked_by", "notes", "created_at", "updated_at"}).
		AddRow("rec-1", "sess-1", "t1", "PRESENT", "qr_code", checked, nil, nil, nil, nil, now, now)
	mock.ExpectQuery("INSERT INTO attendance_records").
		WillReturnRows(returned)

	stored, err := repo.Upsert(context.Background(), &models.AttendanceRecord{
		SessionID: "sess-1",
		TraineeID: "t1",
		Status:    models.AttendanceStatusPresent,
		Method:    models.AttendanceMethodQRCode,
		CheckedAt: &checked,
	})
	require.NoError(t, err)
	assert.Equal(t, "rec-1", stored.ID)
	assert.Equal(t, models.AttendanceStatusPresent, stored.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAbsentees(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectExec("INSERT INTO attendance_records").
		WillReturnResult(sqlmock.NewResult(0, 3))

	marked, err := repo.MarkAbsentees(context.Background(), "sess-1", "prog-1")
	require.NoError(t, err)
	assert.Equal(t, 3, marked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountHeldSessions(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	rows := sqlmock.NewRows([]string{"count"}).AddRow(10)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM class_sessions WHERE program_id = $1 AND status IN ('active', 'completed')")).
		WithArgs("prog-1").
		WillReturnRows(rows)

	total, err := repo.CountHeldSessions(context.Background(), "prog-1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountHeldSessionsBoundedRange(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"count"}).AddRow(4)
	mock.ExpectQuery(regexp.QuoteMeta("AND scheduled_at >= $2 AND scheduled_at <= $3")).
		WithArgs("prog-1", from, to).
		WillReturnRows(rows)

	total, err := repo.CountHeldSessions(context.Background(), "prog-1", &from, &to)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListHeldSessionsOrdersBySchedule(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	rows := sqlmock.NewRows([]string{"id", "program_id", "facilitator_id", "title", "type", "status", "scheduled_at", "started_at", "ended_at", "qr_token", "access_link", "qr_expires_at", "anchor_latitude", "anchor_longitude", "created_at", "updated_at"}).
		AddRow("s1", "prog-1", "f1", "Kickoff", "online", "completed", time.Now(), nil, nil, nil, nil, nil, nil, nil, time.Now(), time.Now())
	mock.ExpectQuery("FROM class_sessions WHERE program_id = .+ ORDER BY scheduled_at ASC").
		WithArgs("prog-1").
		WillReturnRows(rows)

	sessions, err := repo.ListHeldSessions(context.Background(), "prog-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
