package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillbridge/tpm-api/internal/models"
	appErrors "github.com/skillbridge/tpm-api/pkg/errors"
	"github.com/skillbridge/tpm-api/pkg/storage"
)

type fakeAttendanceRepo struct {
	records map[string]*models.AttendanceRecord
}

func newFakeAttendanceRepo() *fakeAttendanceRepo {
	return &fakeAttendanceRepo{records: map[string]*models.AttendanceRecord{}}
}

func (f *fakeAttendanceRepo) key(sessionID, traineeID string) string {
	return sessionID + "/" + traineeID
}

func (f *fakeAttendanceRepo) FindBySessionAndTrainee(ctx context.Context, sessionID, traineeID string) (*models.AttendanceRecord, error) {
	record, ok := f.records[f.key(sessionID, traineeID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return record, nil
}

func (f *fakeAttendanceRepo) Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	if record.ID == "" {
		record.ID = "rec-" + record.TraineeID
	}
	f.records[f.key(record.SessionID, record.TraineeID)] = record
	return record, nil
}

func (f *fakeAttendanceRepo) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecordDetail, int, error) {
	rows := make([]models.AttendanceRecordDetail, 0)
	for _, record := range f.records {
		if filter.TraineeID != "" && record.TraineeID != filter.TraineeID {
			continue
		}
		rows = append(rows, models.AttendanceRecordDetail{AttendanceRecord: *record})
	}
	return rows, len(rows), nil
}

type fakeEnrollments struct {
	enrolled bool
}

func (f *fakeEnrollments) IsTraineeEnrolled(ctx context.Context, programID, traineeID string) (bool, error) {
	return f.enrolled, nil
}

func newTestAttendanceService(sessions *fakeSessionRepo, records *fakeAttendanceRepo, enrolled bool, signer *storage.TokenSigner) *AttendanceService {
	return NewAttendanceService(AttendanceServiceParams{
		Records:     records,
		Sessions:    sessions,
		Enrollments: &fakeEnrollments{enrolled: enrolled},
		Signer:      signer,
		Config: AttendanceServiceConfig{
			GeofenceRadiusMeters: 150,
			LateThreshold:        15 * time.Minute,
		},
	})
}

func activeOnlineSession(signer *storage.TokenSigner, startedAgo time.Duration) (*models.ClassSession, string) {
	token, expiresAt, _ := signer.Generate("s1", "check-in")
	started := time.Now().UTC().Add(-startedAgo)
	return &models.ClassSession{
		ID:            "s1",
		ProgramID:     "prog-1",
		FacilitatorID: "fac-1",
		Type:          models.SessionTypeOnline,
		Status:        models.SessionStatusActive,
		StartedAt:     &started,
		QRToken:       &token,
		QRExpiresAt:   &expiresAt,
	}, token
}

func activePhysicalSession(lat, lon float64) *models.ClassSession {
	started := time.Now().UTC()
	return &models.ClassSession{
		ID:              "s1",
		ProgramID:       "prog-1",
		FacilitatorID:   "fac-1",
		Type:            models.SessionTypePhysical,
		Status:          models.SessionStatusActive,
		StartedAt:       &started,
		AnchorLatitude:  &lat,
		AnchorLongitude: &lon,
	}
}

func TestCheckInQRMarksPresent(t *testing.T) {
	signer := storage.NewTokenSigner("test-secret", 5*time.Minute)
	session, token := activeOnlineSession(signer, time.Minute)
	sessions := newFakeSessionRepo(session)
	svc := newTestAttendanceService(sessions, newFakeAttendanceRepo(), true, signer)

	scope := models.Scope{UserID: "t1", Role: models.RoleTrainee}
	response, err := svc.CheckInQR(context.Background(), scope, token)
	require.NoError(t, err)

	assert.Equal(t, models.AttendanceStatusPresent, response.Status)
	assert.Equal(t, models.AttendanceMethodQRCode, response.Method)
}

func TestCheckInQRMarksLateAfterThreshold(t *testing.T) {
	signer := storage.NewTokenSigner("test-secret", time.Hour)
	session, token := activeOnlineSession(signer, 30*time.Minute)
	sessions := newFakeSessionRepo(session)
	svc := newTestAttendanceService(sessions, newFakeAttendanceRepo(), true, signer)

	scope := models.Scope{UserID: "t1", Role: models.RoleTrainee}
	response, err := svc.CheckInQR(context.Background(), scope, token)
	require.NoError(t, err)

	assert.Equal(t, models.AttendanceStatusLate, response.Status)
}

func TestCheckInQRRejectsDuplicate(t *testing.T) {
	signer := storage.NewTokenSigner("test-secret", 5*time.Minute)
	session, token := activeOnlineSession(signer, time.Minute)
	sessions := newFakeSessionRepo(session)
	records := newFakeAttendanceRepo()
	svc := newTestAttendanceService(sessions, records, true, signer)

	scope := models.Scope{UserID: "t1", Role: models.RoleTrainee}
	_, err := svc.CheckInQR(context.Background(), scope, token)
	require.NoError(t, err)

	_, err = svc.CheckInQR(context.Background(), scope, token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestCheckInQRRejectsTamperedToken(t *testing.T) {
	signer := storage.NewTokenSigner("test-secret", 5*time.Minute)
	session, token := activeOnlineSession(signer, time.Minute)
	sessions := newFakeSessionRepo(session)
	svc := newTestAttendanceService(sessions, newFakeAttendanceRepo(), true, signer)

	scope := models.Scope{UserID: "t1", Role: models.RoleTrainee}
	_, err := svc.CheckInQR(context.Background(), scope, token+"x")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrQRExpired.Code, appErrors.FromError(err).Code)
}

func TestCheckInQRRejectsUnenrolledTrainee(t *testing.T) {
	signer := storage.NewTokenSigner("test-secret", 5*time.Minute)
	session, token := activeOnlineSession(signer, time.Minute)
	sessions := newFakeSessionRepo(session)
	svc := newTestAttendanceService(sessions, newFakeAttendanceRepo(), false, signer)

	scope := models.Scope{UserID: "t1", Role: models.RoleTrainee}
	_, err := svc.CheckInQR(context.Background(), scope, token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestCheckInGeolocationWithinRadius(t *testing.T) {
	signer := storage.NewTokenSigner("test-secret", 5*time.Minute)
	sessions := newFakeSessionRepo(activePhysicalSession(-1.2921, 36.8219))
	svc := newTestAttendanceService(sessions, newFakeAttendanceRepo(), true, signer)

	// ~50m north of the anchor.
	lat, lon := -1.29165, 36.8219
	scope := models.Scope{UserID: "t1", Role: models.RoleTrainee}
	response, err := svc.CheckInGeolocation(context.Background(), scope, "s1", GeolocationReading{Latitude: &lat, Longitude: &lon})
	require.NoError(t, err)

	assert.Equal(t, models.AttendanceStatusPresent, response.Status)
	assert.Equal(t, models.AttendanceMethodGeolocation, response.Method)
}

func TestCheckInGeolocationOutsideRadius(t *testing.T) {
	signer := storage.NewTokenSigner("test-secret", 5*time.Minute)
	sessions := newFakeSessionRepo(activePhysicalSession(-1.2921, 36.8219))
	svc := newTestAttendanceService(sessions, newFakeAttendanceRepo(), true, signer)

	// ~2km away.
	lat, lon := -1.31, 36.8219
	scope := models.Scope{UserID: "t1", Role: models.RoleTrainee}
	_, err := svc.CheckInGeolocation(context.Background(), scope, "s1", GeolocationReading{Latitude: &lat, Longitude: &lon})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrOutsideGeofence.Code, appErrors.FromError(err).Code)
}

func TestCheckInGeolocationLocationFailure(t *testing.T) {
	signer := storage.NewTokenSigner("test-secret", 5*time.Minute)
	sessions := newFakeSessionRepo(activePhysicalSession(-1.2921, 36.8219))
	svc := newTestAttendanceService(sessions, newFakeAttendanceRepo(), true, signer)

	scope := models.Scope{UserID: "t1", Role: models.RoleTrainee}
	_, err := svc.CheckInGeolocation(context.Background(), scope, "s1", GeolocationReading{FailureKind: LocationFailureTimeout})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrLocationTimeout.Code, appErrors.FromError(err).Code)
}

func TestManualMarkByFacilitator(t *testing.T) {
	signer := storage.NewTokenSigner("test-secret", 5*time.Minute)
	session := activePhysicalSession(-1.2921, 36.8219)
	sessions := newFakeSessionRepo(session)
	svc := newTestAttendanceService(sessions, newFakeAttendanceRepo(), true, signer)

	scope := models.Scope{UserID: "fac-1", Role: models.RoleFacilitator}
	record, err := svc.MarkManual(context.Background(), scope, ManualMarkRequest{
		SessionID: "s1",
		TraineeID: "t1",
		Status:    models.AttendanceStatusExcused,
	})
	require.NoError(t, err)

	assert.Equal(t, models.AttendanceStatusExcused, record.Status)
	assert.Equal(t, models.AttendanceMethodManual, record.Method)
	require.NotNil(t, record.MarkedBy)
	assert.Equal(t, "fac-1", *record.MarkedBy)
	assert.Nil(t, record.CheckedAt)
}

func TestManualMarkRejectedForOtherFacilitator(t *testing.T) {
	signer := storage.NewTokenSigner("test-secret", 5*time.Minute)
	sessions := newFakeSessionRepo(activePhysicalSession(-1.2921, 36.8219))
	svc := newTestAttendanceService(sessions, newFakeAttendanceRepo(), true, signer)

	scope := models.Scope{UserID: "fac-2", Role: models.RoleFacilitator}
	_, err := svc.MarkManual(context.Background(), scope, ManualMarkRequest{
		SessionID: "s1",
		TraineeID: "t1",
		Status:    models.AttendanceStatusPresent,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestHaversineDistance(t *testing.T) {
	// Nairobi CBD to a point roughly 1.11km north.
	distance := haversineMeters(-1.2921, 36.8219, -1.2821, 36.8219)
	assert.InDelta(t, 1112, distance, 20)

	assert.InDelta(t, 0, haversineMeters(-1.2921, 36.8219, -1.2921, 36.8219), 0.001)
}
