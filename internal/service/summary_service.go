package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/skillbridge/tpm-api/internal/dto"
	"github.com/skillbridge/tpm-api/internal/models"
	appErrors "github.com/skillbridge/tpm-api/pkg/errors"
)

// ProgramSnapshot is everything the aggregators need about one program at a
// point in time. All attendance math happens on snapshots so the arithmetic
// lives in exactly one place regardless of where the data came from.
type ProgramSnapshot struct {
	Program       models.Program
	Trainees      []models.User
	TotalSessions int
	Counts        map[string]models.StatusCounts
}

// SummaryDataSource produces program snapshots. The live implementation reads
// the database; the fixture implementation serves canned data for demos.
type SummaryDataSource interface {
	ProgramSnapshot(ctx context.Context, programID string, from, to *time.Time) (*ProgramSnapshot, error)
	TraineeHistory(ctx context.Context, programID, traineeID string) ([]models.AttendanceRecordDetail, error)
}

// BuildStudentSummary computes a trainee's attendance rollup from raw status
// counts. Present covers every attended session, late check-ins included;
// Late is the subset that arrived after the threshold. Excused sessions are
// removed from the denominator. A zero denominator yields a zero rate.
func BuildStudentSummary(traineeID, traineeName string, counts models.StatusCounts, totalSessions int) models.StudentSummary {
	summary := models.StudentSummary{
		TraineeID:     traineeID,
		TraineeName:   traineeName,
		Present:       counts.Present + counts.Late,
		Absent:        counts.Absent,
		Excused:       counts.Excused,
		Late:          counts.Late,
		TotalSessions: totalSessions,
	}
	denominator := totalSessions - counts.Excused
	if denominator > 0 {
		summary.AttendanceRate = math.Round(float64(summary.Present) / float64(denominator) * 100)
	}
	return summary
}

// AggregateProgram rolls trainee summaries up into program-wide stats. The
// possible-attendance pool is students times held sessions, reduced by every
// excused record.
func AggregateProgram(programID string, students []models.StudentSummary, totalSessions int) models.ProgramAttendanceStats {
	stats := models.ProgramAttendanceStats{
		ProgramID:     programID,
		TotalStudents: len(students),
		TotalSessions: totalSessions,
	}
	for _, student := range students {
		stats.TotalPresent += student.Present
		stats.TotalAbsent += student.Absent
		stats.TotalExcused += student.Excused
		stats.TotalLate += student.Late
	}
	possible := len(students) * totalSessions
	denominator := possible - stats.TotalExcused
	if denominator > 0 {
		stats.AttendanceRate = math.Round(float64(stats.TotalPresent) / float64(denominator) * 100)
	}
	return stats
}

// SummaryServiceConfig tunes summary behaviour.
type SummaryServiceConfig struct {
	CacheTTL time.Duration
}

// SummaryService composes attendance rollups for manager dashboards and
// trainee detail views.
type SummaryService struct {
	source   SummaryDataSource
	programs sessionProgramRepository
	cache    *CacheService
	logger   *zap.Logger
	now      func() time.Time
	cfg      SummaryServiceConfig
}

// NewSummaryService constructs a SummaryService.
func NewSummaryService(source SummaryDataSource, programs sessionProgramRepository, cache *CacheService, logger *zap.Logger, cfg SummaryServiceConfig) *SummaryService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryService{
		source:   source,
		programs: programs,
		cache:    cache,
		logger:   logger,
		now:      time.Now,
		cfg:      cfg,
	}
}

// ProgramSummary returns the program-level rollup, optionally bounded to
// sessions scheduled inside [from, to]. The second return value reports
// whether the payload came from cache.
func (s *SummaryService) ProgramSummary(ctx context.Context, scope models.Scope, programID string, from, to *time.Time) (*dto.ProgramSummaryResponse, bool, error) {
	if programID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "programId is required")
	}
	if err := s.authorizeProgramView(ctx, scope, programID); err != nil {
		return nil, false, err
	}

	cacheKey := fmt.Sprintf("summary:%s:program:%s", programID, rangeKey(from, to))
	if s.cache != nil {
		var cached dto.ProgramSummaryResponse
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}

	snapshot, err := s.loadSnapshot(ctx, programID, from, to)
	if err != nil {
		return nil, false, err
	}

	students := make([]models.StudentSummary, 0, len(snapshot.Trainees))
	for _, trainee := range snapshot.Trainees {
		counts := snapshot.Counts[trainee.ID]
		students = append(students, BuildStudentSummary(trainee.ID, trainee.FullName, counts, snapshot.TotalSessions))
	}
	sort.Slice(students, func(i, j int) bool {
		return students[i].TraineeName < students[j].TraineeName
	})

	response := &dto.ProgramSummaryResponse{
		ProgramID:   snapshot.Program.ID,
		ProgramName: snapshot.Program.Name,
		Stats:       AggregateProgram(snapshot.Program.ID, students, snapshot.TotalSessions),
		Students:    students,
		GeneratedAt: s.now().UTC(),
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, response, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("summary cache write failed", zap.String("key", cacheKey), zap.Error(err))
		}
	}
	return response, false, nil
}

// StudentDetail returns the per-trainee drill-down with stat cards and a
// month-bucketed calendar of every held session.
func (s *SummaryService) StudentDetail(ctx context.Context, scope models.Scope, programID, traineeID string) (*dto.StudentDetailResponse, error) {
	if programID == "" || traineeID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "programId and traineeId are required")
	}
	if scope.Role == models.RoleTrainee && scope.UserID != traineeID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "trainees can only view their own attendance")
	}
	if scope.Role != models.RoleTrainee {
		if err := s.authorizeProgramView(ctx, scope, programID); err != nil {
			return nil, err
		}
	}

	snapshot, err := s.loadSnapshot(ctx, programID, nil, nil)
	if err != nil {
		return nil, err
	}

	var trainee *models.User
	for i := range snapshot.Trainees {
		if snapshot.Trainees[i].ID == traineeID {
			trainee = &snapshot.Trainees[i]
			break
		}
	}
	if trainee == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "trainee is not enrolled in this program")
	}

	summary := BuildStudentSummary(trainee.ID, trainee.FullName, snapshot.Counts[trainee.ID], snapshot.TotalSessions)

	history, err := s.source.TraineeHistory(ctx, programID, traineeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance history")
	}

	return &dto.StudentDetailResponse{
		ProgramID:   programID,
		TraineeID:   trainee.ID,
		TraineeName: trainee.FullName,
		Summary:     summary,
		StatCards:   buildStatCards(summary),
		Calendar:    buildCalendar(history),
		GeneratedAt: s.now().UTC(),
	}, nil
}

func (s *SummaryService) loadSnapshot(ctx context.Context, programID string, from, to *time.Time) (*ProgramSnapshot, error) {
	snapshot, err := s.source.ProgramSnapshot(ctx, programID, from, to)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "program not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program snapshot")
	}
	return snapshot, nil
}

func (s *SummaryService) authorizeProgramView(ctx context.Context, scope models.Scope, programID string) error {
	switch scope.Role {
	case models.RoleSuperAdmin, models.RoleITSupport:
		return nil
	case models.RoleProgramManager:
		program, err := s.programs.FindByID(ctx, programID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "program not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
		}
		if program.ManagerID != scope.UserID {
			return appErrors.Clone(appErrors.ErrForbidden, "program belongs to another manager")
		}
		return nil
	case models.RoleFacilitator:
		assigned, err := s.programs.IsFacilitatorAssigned(ctx, programID, scope.UserID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check assignment")
		}
		if !assigned {
			return appErrors.Clone(appErrors.ErrForbidden, "facilitator is not assigned to this program")
		}
		return nil
	default:
		return appErrors.Clone(appErrors.ErrForbidden, "role cannot view program summaries")
	}
}

func buildStatCards(summary models.StudentSummary) []dto.StatCard {
	return []dto.StatCard{
		{Label: "Attendance Rate", Value: fmt.Sprintf("%.0f%%", summary.AttendanceRate)},
		{Label: "Present", Value: fmt.Sprintf("%d", summary.Present)},
		{Label: "Late", Value: fmt.Sprintf("%d", summary.Late)},
		{Label: "Absent", Value: fmt.Sprintf("%d", summary.Absent)},
		{Label: "Excused", Value: fmt.Sprintf("%d", summary.Excused)},
		{Label: "Sessions Held", Value: fmt.Sprintf("%d", summary.TotalSessions)},
	}
}

func buildCalendar(history []models.AttendanceRecordDetail) []dto.CalendarMonth {
	months := make([]dto.CalendarMonth, 0)
	index := map[string]int{}
	for _, record := range history {
		entry := dto.CalendarEntry{
			SessionID:    record.SessionID,
			SessionTitle: record.SessionTitle,
			Date:         record.SessionDate.Format("2006-01-02"),
			Status:       record.Status,
			Method:       record.Method,
			CheckInTime:  formatCheckIn(record.CheckedAt),
			Notes:        record.Notes,
		}
		monthKey := record.SessionDate.Format("January 2006")
		pos, ok := index[monthKey]
		if !ok {
			months = append(months, dto.CalendarMonth{Month: monthKey})
			pos = len(months) - 1
			index[monthKey] = pos
		}
		months[pos].Entries = append(months[pos].Entries, entry)
	}
	return months
}

// rangeKey folds the optional date window into cache keys so bounded and
// all-time summaries never collide.
func rangeKey(from, to *time.Time) string {
	format := func(t *time.Time) string {
		if t == nil {
			return "all"
		}
		return t.Format("20060102")
	}
	return format(from) + "-" + format(to)
}

// formatCheckIn renders the check-in clock time, or "N/A" when the trainee
// never checked in (absent or excused records).
func formatCheckIn(checkedAt *time.Time) string {
	if checkedAt == nil {
		return "N/A"
	}
	return checkedAt.Format("15:04")
}
