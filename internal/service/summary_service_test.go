package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillbridge/tpm-api/internal/models"
)

func TestBuildStudentSummaryRate(t *testing.T) {
	counts := models.StatusCounts{Present: 8, Late: 1, Absent: 1}
	summary := BuildStudentSummary("t1", "Ada", counts, 10)

	// Late check-ins count as present; Late is the subset.
	assert.Equal(t, 9, summary.Present)
	assert.Equal(t, 1, summary.Late)
	assert.Equal(t, 1, summary.Absent)
	assert.Equal(t, float64(90), summary.AttendanceRate)
}

func TestBuildStudentSummaryExcusedReducesDenominator(t *testing.T) {
	counts := models.StatusCounts{Present: 5, Excused: 5}
	summary := BuildStudentSummary("t1", "Ada", counts, 10)

	assert.Equal(t, float64(100), summary.AttendanceRate)
}

func TestBuildStudentSummaryZeroDenominator(t *testing.T) {
	counts := models.StatusCounts{Excused: 10}
	summary := BuildStudentSummary("t1", "Ada", counts, 10)

	assert.Equal(t, float64(0), summary.AttendanceRate)

	empty := BuildStudentSummary("t2", "Grace", models.StatusCounts{}, 0)
	assert.Equal(t, float64(0), empty.AttendanceRate)
	assert.Equal(t, 0, empty.TotalSessions)
}

func TestAggregateProgram(t *testing.T) {
	students := []models.StudentSummary{
		{TraineeID: "t1", Present: 5},
		{TraineeID: "t2", Present: 5, Late: 1},
		{TraineeID: "t3", Present: 4, Absent: 1},
	}
	stats := AggregateProgram("prog-1", students, 5)

	assert.Equal(t, 3, stats.TotalStudents)
	assert.Equal(t, 5, stats.TotalSessions)
	assert.Equal(t, 14, stats.TotalPresent)
	assert.Equal(t, 1, stats.TotalAbsent)
	assert.Equal(t, 1, stats.TotalLate)
	// 14 attended out of 15 possible rounds to 93.
	assert.Equal(t, float64(93), stats.AttendanceRate)
}

func TestAggregateProgramExcusedReducesPool(t *testing.T) {
	students := []models.StudentSummary{
		{TraineeID: "t1", Present: 4, Excused: 1},
		{TraineeID: "t2", Present: 5},
	}
	stats := AggregateProgram("prog-1", students, 5)

	// Pool is 2x5=10 minus 1 excused; 9 attended of 9.
	assert.Equal(t, float64(100), stats.AttendanceRate)
}

func TestAggregateProgramEmpty(t *testing.T) {
	stats := AggregateProgram("prog-1", nil, 0)

	assert.Equal(t, 0, stats.TotalStudents)
	assert.Equal(t, 0, stats.TotalPresent)
	assert.Equal(t, float64(0), stats.AttendanceRate)
}

func TestAggregateProgramIdempotent(t *testing.T) {
	students := []models.StudentSummary{
		{TraineeID: "t1", Present: 5},
		{TraineeID: "t2", Present: 5, Late: 1},
	}
	first := AggregateProgram("prog-1", students, 5)
	second := AggregateProgram("prog-1", students, 5)

	assert.Equal(t, first, second)
	assert.Equal(t, 5, students[0].Present)
}

func TestProgramTotalsMatchStudentSums(t *testing.T) {
	students := []models.StudentSummary{
		BuildStudentSummary("t1", "Ada", models.StatusCounts{Present: 8, Late: 1, Absent: 1}, 10),
		BuildStudentSummary("t2", "Grace", models.StatusCounts{Present: 5, Excused: 5}, 10),
	}
	stats := AggregateProgram("prog-1", students, 10)

	sum := 0
	for _, student := range students {
		sum += student.Present
	}
	assert.Equal(t, 9, students[0].Present)
	assert.Equal(t, sum, stats.TotalPresent)
}

func TestBuildStudentSummaryRateMonotonicInPresent(t *testing.T) {
	prev := float64(-1)
	for present := 0; present <= 10; present++ {
		counts := models.StatusCounts{Present: present, Absent: 10 - present}
		summary := BuildStudentSummary("t1", "Ada", counts, 10)
		assert.GreaterOrEqual(t, summary.AttendanceRate, prev)
		prev = summary.AttendanceRate
	}
}

func fixtureSnapshot() *ProgramSnapshot {
	return &ProgramSnapshot{
		Program: models.Program{ID: "prog-1", Name: "Cloud Foundations", ManagerID: "mgr-1"},
		Trainees: []models.User{
			{ID: "t1", FullName: "Ada Lovelace"},
			{ID: "t2", FullName: "Grace Hopper"},
		},
		TotalSessions: 10,
		Counts: map[string]models.StatusCounts{
			"t1": {Present: 8, Late: 1, Absent: 1},
			"t2": {Present: 5, Excused: 5},
		},
	}
}

type fixtureProgramRepo struct {
	program  *models.Program
	assigned bool
}

func (f *fixtureProgramRepo) FindByID(ctx context.Context, id string) (*models.Program, error) {
	return f.program, nil
}

func (f *fixtureProgramRepo) IsFacilitatorAssigned(ctx context.Context, programID, facilitatorID string) (bool, error) {
	return f.assigned, nil
}

func TestProgramSummaryFromFixtureSource(t *testing.T) {
	source := NewFixtureSummarySource()
	source.LoadSnapshot(fixtureSnapshot())
	programs := &fixtureProgramRepo{program: &models.Program{ID: "prog-1", ManagerID: "mgr-1"}}
	svc := NewSummaryService(source, programs, nil, nil, SummaryServiceConfig{})

	scope := models.Scope{UserID: "mgr-1", Role: models.RoleProgramManager}
	response, cached, err := svc.ProgramSummary(context.Background(), scope, "prog-1", nil, nil)
	require.NoError(t, err)
	assert.False(t, cached)
	require.Len(t, response.Students, 2)

	// Sorted by name: Ada then Grace.
	assert.Equal(t, 9, response.Students[0].Present)
	assert.Equal(t, float64(90), response.Students[0].AttendanceRate)
	assert.Equal(t, float64(100), response.Students[1].AttendanceRate)

	// Pool: 2x10=20 minus 5 excused = 15; attended 9+5=14 -> 93.
	assert.Equal(t, 14, response.Stats.TotalPresent)
	assert.Equal(t, float64(93), response.Stats.AttendanceRate)
	assert.Equal(t, 2, response.Stats.TotalStudents)
	assert.Equal(t, 5, response.Stats.TotalExcused)
}

func TestProgramSummaryForbiddenForOtherManager(t *testing.T) {
	source := NewFixtureSummarySource()
	source.LoadSnapshot(fixtureSnapshot())
	programs := &fixtureProgramRepo{program: &models.Program{ID: "prog-1", ManagerID: "mgr-1"}}
	svc := NewSummaryService(source, programs, nil, nil, SummaryServiceConfig{})

	scope := models.Scope{UserID: "mgr-2", Role: models.RoleProgramManager}
	_, _, err := svc.ProgramSummary(context.Background(), scope, "prog-1", nil, nil)
	require.Error(t, err)
}

func TestProgramSummaryForbiddenForTrainee(t *testing.T) {
	source := NewFixtureSummarySource()
	source.LoadSnapshot(fixtureSnapshot())
	programs := &fixtureProgramRepo{program: &models.Program{ID: "prog-1", ManagerID: "mgr-1"}}
	svc := NewSummaryService(source, programs, nil, nil, SummaryServiceConfig{})

	scope := models.Scope{UserID: "t1", Role: models.RoleTrainee}
	_, _, err := svc.ProgramSummary(context.Background(), scope, "prog-1", nil, nil)
	require.Error(t, err)
}

type captureSnapshotSource struct {
	snapshot *ProgramSnapshot
	from     *time.Time
	to       *time.Time
}

func (c *captureSnapshotSource) ProgramSnapshot(ctx context.Context, programID string, from, to *time.Time) (*ProgramSnapshot, error) {
	c.from, c.to = from, to
	return c.snapshot, nil
}

func (c *captureSnapshotSource) TraineeHistory(ctx context.Context, programID, traineeID string) ([]models.AttendanceRecordDetail, error) {
	return nil, nil
}

func TestProgramSummaryBoundedRangeReachesSource(t *testing.T) {
	source := &captureSnapshotSource{snapshot: fixtureSnapshot()}
	programs := &fixtureProgramRepo{program: &models.Program{ID: "prog-1", ManagerID: "mgr-1"}}
	svc := NewSummaryService(source, programs, nil, nil, SummaryServiceConfig{})

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	scope := models.Scope{UserID: "mgr-1", Role: models.RoleProgramManager}
	_, _, err := svc.ProgramSummary(context.Background(), scope, "prog-1", &from, &to)
	require.NoError(t, err)

	require.NotNil(t, source.from)
	require.NotNil(t, source.to)
	assert.Equal(t, from, *source.from)
	assert.Equal(t, to, *source.to)
}

func TestRangeKeySeparatesWindows(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "all-all", rangeKey(nil, nil))
	assert.Equal(t, "20250101-20250131", rangeKey(&from, &to))
	assert.NotEqual(t, rangeKey(nil, nil), rangeKey(&from, nil))
}

func TestMergeHeldSessionsFillsAbsences(t *testing.T) {
	checked := time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)
	history := []models.AttendanceRecordDetail{
		{
			AttendanceRecord: models.AttendanceRecord{
				SessionID: "s1",
				TraineeID: "t1",
				Status:    models.AttendanceStatusPresent,
				Method:    models.AttendanceMethodQRCode,
				CheckedAt: &checked,
			},
			SessionTitle: "Kickoff",
			SessionDate:  time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		},
	}
	held := []models.ClassSession{
		{ID: "s1", Title: "Kickoff", Status: models.SessionStatusCompleted, ScheduledAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)},
		{ID: "s2", Title: "Networking Basics", Status: models.SessionStatusCompleted, ScheduledAt: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)},
		{ID: "s3", Title: "In Progress", Status: models.SessionStatusActive, ScheduledAt: time.Date(2025, 3, 17, 9, 0, 0, 0, time.UTC)},
	}

	merged := mergeHeldSessions(history, held, "t1")

	// s2 backfills as absent, s3 is still running and stays out.
	require.Len(t, merged, 2)
	assert.Equal(t, "s2", merged[0].SessionID)
	assert.Equal(t, models.AttendanceStatusAbsent, merged[0].Status)
	assert.Nil(t, merged[0].CheckedAt)
	assert.Equal(t, "s1", merged[1].SessionID)
}

func TestStudentDetailCalendarShowsNAForMissingCheckIn(t *testing.T) {
	source := NewFixtureSummarySource()
	source.LoadSnapshot(fixtureSnapshot())
	checked := time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)
	source.LoadHistory("prog-1", "t1", []models.AttendanceRecordDetail{
		{
			AttendanceRecord: models.AttendanceRecord{
				SessionID: "s1",
				TraineeID: "t1",
				Status:    models.AttendanceStatusPresent,
				Method:    models.AttendanceMethodQRCode,
				CheckedAt: &checked,
			},
			SessionTitle: "Kickoff",
			SessionDate:  time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		},
		{
			AttendanceRecord: models.AttendanceRecord{
				SessionID: "s2",
				TraineeID: "t1",
				Status:    models.AttendanceStatusAbsent,
				Method:    models.AttendanceMethodManual,
			},
			SessionTitle: "Networking Basics",
			SessionDate:  time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC),
		},
	})
	programs := &fixtureProgramRepo{program: &models.Program{ID: "prog-1", ManagerID: "mgr-1"}}
	svc := NewSummaryService(source, programs, nil, nil, SummaryServiceConfig{})

	scope := models.Scope{UserID: "t1", Role: models.RoleTrainee}
	detail, err := svc.StudentDetail(context.Background(), scope, "prog-1", "t1")
	require.NoError(t, err)

	require.Len(t, detail.Calendar, 2)
	assert.Equal(t, "March 2025", detail.Calendar[0].Month)
	assert.Equal(t, "09:05", detail.Calendar[0].Entries[0].CheckInTime)
	assert.Equal(t, "April 2025", detail.Calendar[1].Month)
	assert.Equal(t, "N/A", detail.Calendar[1].Entries[0].CheckInTime)

	assert.Equal(t, "90%", detail.StatCards[0].Value)
}

func TestStudentDetailTraineeCannotViewOthers(t *testing.T) {
	source := NewFixtureSummarySource()
	source.LoadSnapshot(fixtureSnapshot())
	programs := &fixtureProgramRepo{program: &models.Program{ID: "prog-1", ManagerID: "mgr-1"}}
	svc := NewSummaryService(source, programs, nil, nil, SummaryServiceConfig{})

	scope := models.Scope{UserID: "t2", Role: models.RoleTrainee}
	_, err := svc.StudentDetail(context.Background(), scope, "prog-1", "t1")
	require.Error(t, err)
}
