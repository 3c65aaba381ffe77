package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skillbridge/tpm-api/internal/models"
	appErrors "github.com/skillbridge/tpm-api/pkg/errors"
)

type snapshotProgramRepository interface {
	FindByID(ctx context.Context, id string) (*models.Program, error)
	ListEnrolledTrainees(ctx context.Context, programID string) ([]models.User, error)
}

type snapshotSessionRepository interface {
	CountHeldSessions(ctx context.Context, programID string, from, to *time.Time) (int, error)
	ListHeldSessions(ctx context.Context, programID string) ([]models.ClassSession, error)
}

type snapshotAttendanceRepository interface {
	CountsByTrainee(ctx context.Context, programID string, from, to *time.Time) (map[string]models.StatusCounts, error)
	TraineeHistory(ctx context.Context, programID, traineeID string) ([]models.AttendanceRecordDetail, error)
}

// LiveSummarySource builds snapshots from the database.
type LiveSummarySource struct {
	programs   snapshotProgramRepository
	sessions   snapshotSessionRepository
	attendance snapshotAttendanceRepository
}

// NewLiveSummarySource constructs the live data source.
func NewLiveSummarySource(programs snapshotProgramRepository, sessions snapshotSessionRepository, attendance snapshotAttendanceRepository) *LiveSummarySource {
	return &LiveSummarySource{programs: programs, sessions: sessions, attendance: attendance}
}

// ProgramSnapshot assembles the aggregation inputs for a program. A non-nil
// from/to bounds both the held-session count and the status tallies to
// sessions scheduled inside the window.
func (s *LiveSummarySource) ProgramSnapshot(ctx context.Context, programID string, from, to *time.Time) (*ProgramSnapshot, error) {
	program, err := s.programs.FindByID(ctx, programID)
	if err != nil {
		return nil, err
	}
	trainees, err := s.programs.ListEnrolledTrainees(ctx, programID)
	if err != nil {
		return nil, fmt.Errorf("snapshot trainees: %w", err)
	}
	totalSessions, err := s.sessions.CountHeldSessions(ctx, programID, from, to)
	if err != nil {
		return nil, fmt.Errorf("snapshot session count: %w", err)
	}
	counts, err := s.attendance.CountsByTrainee(ctx, programID, from, to)
	if err != nil {
		return nil, fmt.Errorf("snapshot attendance counts: %w", err)
	}
	return &ProgramSnapshot{
		Program:       *program,
		Trainees:      trainees,
		TotalSessions: totalSessions,
		Counts:        counts,
	}, nil
}

// TraineeHistory returns the per-session records for a trainee, padded with
// the program's held sessions so the calendar covers every class.
func (s *LiveSummarySource) TraineeHistory(ctx context.Context, programID, traineeID string) ([]models.AttendanceRecordDetail, error) {
	history, err := s.attendance.TraineeHistory(ctx, programID, traineeID)
	if err != nil {
		return nil, err
	}
	held, err := s.sessions.ListHeldSessions(ctx, programID)
	if err != nil {
		return nil, fmt.Errorf("history held sessions: %w", err)
	}
	return mergeHeldSessions(history, held, traineeID), nil
}

// mergeHeldSessions fills calendar gaps: completed sessions the trainee has no
// record for surface as absences. Active sessions without a record are
// skipped, the class is still running.
func mergeHeldSessions(history []models.AttendanceRecordDetail, held []models.ClassSession, traineeID string) []models.AttendanceRecordDetail {
	recorded := make(map[string]struct{}, len(history))
	for _, record := range history {
		recorded[record.SessionID] = struct{}{}
	}
	merged := append([]models.AttendanceRecordDetail{}, history...)
	for _, session := range held {
		if _, ok := recorded[session.ID]; ok {
			continue
		}
		if session.Status != models.SessionStatusCompleted {
			continue
		}
		merged = append(merged, models.AttendanceRecordDetail{
			AttendanceRecord: models.AttendanceRecord{
				SessionID: session.ID,
				TraineeID: traineeID,
				Status:    models.AttendanceStatusAbsent,
				Method:    models.AttendanceMethodManual,
			},
			SessionTitle: session.Title,
			SessionDate:  session.ScheduledAt,
			ProgramID:    session.ProgramID,
		})
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].SessionDate.Before(merged[j].SessionDate)
	})
	return merged
}

// FixtureSummarySource serves canned snapshots. Used by demo environments and
// sandbox tenants where no live attendance data exists.
type FixtureSummarySource struct {
	mu        sync.RWMutex
	snapshots map[string]*ProgramSnapshot
	histories map[string][]models.AttendanceRecordDetail
}

// NewFixtureSummarySource constructs an empty fixture source.
func NewFixtureSummarySource() *FixtureSummarySource {
	return &FixtureSummarySource{
		snapshots: make(map[string]*ProgramSnapshot),
		histories: make(map[string][]models.AttendanceRecordDetail),
	}
}

// LoadSnapshot registers a canned snapshot for a program.
func (s *FixtureSummarySource) LoadSnapshot(snapshot *ProgramSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.Program.ID] = snapshot
}

// LoadHistory registers canned history rows for a program/trainee pair.
func (s *FixtureSummarySource) LoadHistory(programID, traineeID string, history []models.AttendanceRecordDetail) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[programID+"/"+traineeID] = history
}

// ProgramSnapshot returns the canned snapshot for a program. Fixture
// snapshots are range-agnostic, the window arguments are ignored.
func (s *FixtureSummarySource) ProgramSnapshot(ctx context.Context, programID string, from, to *time.Time) (*ProgramSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.snapshots[programID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "program fixture not found")
	}
	return snapshot, nil
}

// TraineeHistory returns canned history rows.
func (s *FixtureSummarySource) TraineeHistory(ctx context.Context, programID, traineeID string) ([]models.AttendanceRecordDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.histories[programID+"/"+traineeID], nil
}
