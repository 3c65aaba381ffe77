package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillbridge/tpm-api/internal/models"
	appErrors "github.com/skillbridge/tpm-api/pkg/errors"
	"github.com/skillbridge/tpm-api/pkg/storage"
)

type fakeSessionRepo struct {
	sessions    map[string]*models.ClassSession
	updateErr   error
	updateCalls int
}

func newFakeSessionRepo(sessions ...*models.ClassSession) *fakeSessionRepo {
	repo := &fakeSessionRepo{sessions: map[string]*models.ClassSession{}}
	for _, session := range sessions {
		repo.sessions[session.ID] = session
	}
	return repo
}

func (f *fakeSessionRepo) FindByID(ctx context.Context, id string) (*models.ClassSession, error) {
	session, ok := f.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *session
	return &copied, nil
}

func (f *fakeSessionRepo) Create(ctx context.Context, session *models.ClassSession) error {
	if session.ID == "" {
		session.ID = "generated"
	}
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeSessionRepo) UpdateStatus(ctx context.Context, session *models.ClassSession, from models.SessionStatus) error {
	f.updateCalls++
	if f.updateErr != nil {
		return f.updateErr
	}
	stored, ok := f.sessions[session.ID]
	if !ok || stored.Status != from {
		return sql.ErrNoRows
	}
	copied := *session
	f.sessions[session.ID] = &copied
	return nil
}

func (f *fakeSessionRepo) List(ctx context.Context, filter models.SessionFilter) ([]models.SessionWithCounts, int, error) {
	rows := make([]models.SessionWithCounts, 0)
	for _, session := range f.sessions {
		if filter.FacilitatorID != "" && session.FacilitatorID != filter.FacilitatorID {
			continue
		}
		rows = append(rows, models.SessionWithCounts{ClassSession: *session})
	}
	return rows, len(rows), nil
}

type fakeAbsenteeMarker struct {
	marked int
}

func (f *fakeAbsenteeMarker) MarkAbsentees(ctx context.Context, sessionID, programID string) (int, error) {
	f.marked++
	return 2, nil
}

func newTestSessionService(repo *fakeSessionRepo, programs sessionProgramRepository, marker absenteeMarker) *SessionService {
	return NewSessionService(SessionServiceParams{
		Sessions:   repo,
		Programs:   programs,
		Attendance: marker,
		Signer:     storage.NewTokenSigner("test-secret", 5*time.Minute),
		Config:     SessionServiceConfig{AccessLinkBaseURL: "https://tpm.example.com"},
	})
}

func scheduledSession(id string, sessionType models.SessionType) *models.ClassSession {
	return &models.ClassSession{
		ID:            id,
		ProgramID:     "prog-1",
		FacilitatorID: "fac-1",
		Title:         "Session",
		Type:          sessionType,
		Status:        models.SessionStatusScheduled,
		ScheduledAt:   time.Now().UTC(),
	}
}

func TestStartOnlineIssuesQRAndLink(t *testing.T) {
	repo := newFakeSessionRepo(scheduledSession("s1", models.SessionTypeOnline))
	svc := newTestSessionService(repo, &fixtureProgramRepo{assigned: true}, nil)

	scope := models.Scope{UserID: "fac-1", Role: models.RoleFacilitator}
	response, err := svc.StartOnline(context.Background(), scope, "s1")
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusActive, response.Status)
	assert.True(t, strings.HasPrefix(response.QRCodeImage, "data:image/png;base64,"))
	assert.Contains(t, response.AccessLink, "https://tpm.example.com/check-in/")
	require.NotNil(t, response.QRExpiresAt)

	stored := repo.sessions["s1"]
	assert.Equal(t, models.SessionStatusActive, stored.Status)
	require.NotNil(t, stored.QRToken)
}

func TestStartPhysicalAnchorsCoordinates(t *testing.T) {
	repo := newFakeSessionRepo(scheduledSession("s1", models.SessionTypePhysical))
	svc := newTestSessionService(repo, &fixtureProgramRepo{assigned: true}, nil)

	lat, lon := -1.2921, 36.8219
	scope := models.Scope{UserID: "fac-1", Role: models.RoleFacilitator}
	response, err := svc.StartPhysical(context.Background(), scope, "s1", GeolocationReading{Latitude: &lat, Longitude: &lon})
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusActive, response.Status)
	require.NotNil(t, response.AnchorLatitude)
	assert.Equal(t, lat, *response.AnchorLatitude)
}

func TestStartPhysicalPermissionDeniedKeepsSessionScheduled(t *testing.T) {
	repo := newFakeSessionRepo(scheduledSession("s1", models.SessionTypePhysical))
	svc := newTestSessionService(repo, &fixtureProgramRepo{assigned: true}, nil)

	scope := models.Scope{UserID: "fac-1", Role: models.RoleFacilitator}
	_, err := svc.StartPhysical(context.Background(), scope, "s1", GeolocationReading{FailureKind: LocationFailurePermissionDenied})
	require.Error(t, err)

	assert.Contains(t, err.Error(), "denied")
	assert.Equal(t, models.SessionStatusScheduled, repo.sessions["s1"].Status)
	assert.Zero(t, repo.updateCalls)
}

func TestStartPhysicalLocationFailureKinds(t *testing.T) {
	cases := []struct {
		kind string
		want *appErrors.Error
	}{
		{LocationFailurePermissionDenied, appErrors.ErrLocationPermissionDenied},
		{LocationFailureUnavailable, appErrors.ErrLocationUnavailable},
		{LocationFailureTimeout, appErrors.ErrLocationTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			repo := newFakeSessionRepo(scheduledSession("s1", models.SessionTypePhysical))
			svc := newTestSessionService(repo, &fixtureProgramRepo{assigned: true}, nil)

			scope := models.Scope{UserID: "fac-1", Role: models.RoleFacilitator}
			_, err := svc.StartPhysical(context.Background(), scope, "s1", GeolocationReading{FailureKind: tc.kind})
			require.Error(t, err)
			assert.Equal(t, tc.want.Code, appErrors.FromError(err).Code)
			assert.Equal(t, models.SessionStatusScheduled, repo.sessions["s1"].Status)
		})
	}
}

func TestCompleteMarksAbsentees(t *testing.T) {
	session := scheduledSession("s1", models.SessionTypeOnline)
	session.Status = models.SessionStatusActive
	repo := newFakeSessionRepo(session)
	marker := &fakeAbsenteeMarker{}
	svc := newTestSessionService(repo, &fixtureProgramRepo{assigned: true}, marker)

	scope := models.Scope{UserID: "fac-1", Role: models.RoleFacilitator}
	completed, err := svc.Complete(context.Background(), scope, "s1")
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusCompleted, completed.Status)
	assert.Nil(t, completed.QRToken)
	assert.Equal(t, 1, marker.marked)
}

func TestLifecycleRejectsInvalidTransitions(t *testing.T) {
	scope := models.Scope{UserID: "fac-1", Role: models.RoleFacilitator}

	repo := newFakeSessionRepo(scheduledSession("s1", models.SessionTypeOnline))
	svc := newTestSessionService(repo, &fixtureProgramRepo{assigned: true}, nil)
	_, err := svc.Complete(context.Background(), scope, "s1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSessionState.Code, appErrors.FromError(err).Code)

	done := scheduledSession("s2", models.SessionTypeOnline)
	done.Status = models.SessionStatusCompleted
	repo = newFakeSessionRepo(done)
	svc = newTestSessionService(repo, &fixtureProgramRepo{assigned: true}, nil)
	_, err = svc.Cancel(context.Background(), scope, "s2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSessionState.Code, appErrors.FromError(err).Code)
}

func TestConcurrentTransitionSurfacesStateConflict(t *testing.T) {
	repo := newFakeSessionRepo(scheduledSession("s1", models.SessionTypeOnline))
	repo.updateErr = sql.ErrNoRows
	svc := newTestSessionService(repo, &fixtureProgramRepo{assigned: true}, nil)

	scope := models.Scope{UserID: "fac-1", Role: models.RoleFacilitator}
	_, err := svc.StartOnline(context.Background(), scope, "s1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSessionState.Code, appErrors.FromError(err).Code)
}

func TestStartOnlineForbiddenForOtherFacilitator(t *testing.T) {
	repo := newFakeSessionRepo(scheduledSession("s1", models.SessionTypeOnline))
	svc := newTestSessionService(repo, &fixtureProgramRepo{assigned: true}, nil)

	scope := models.Scope{UserID: "fac-2", Role: models.RoleFacilitator}
	_, err := svc.StartOnline(context.Background(), scope, "s1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestListScopesFacilitatorSessions(t *testing.T) {
	mine := scheduledSession("s1", models.SessionTypeOnline)
	other := scheduledSession("s2", models.SessionTypeOnline)
	other.FacilitatorID = "fac-2"
	repo := newFakeSessionRepo(mine, other)
	svc := newTestSessionService(repo, &fixtureProgramRepo{assigned: true}, nil)

	scope := models.Scope{UserID: "fac-1", Role: models.RoleFacilitator}
	rows, pagination, err := svc.List(context.Background(), scope, models.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "s1", rows[0].ID)
	assert.Equal(t, 1, pagination.TotalCount)
}
