package dto

import (
	"time"

	"github.com/skillbridge/tpm-api/internal/models"
)

// SessionActivationResponse is returned when a facilitator starts a session.
// Online sessions carry the QR image and shareable link; physical sessions
// echo the anchored coordinates instead.
type SessionActivationResponse struct {
	SessionID       string               `json:"session_id"`
	Status          models.SessionStatus `json:"status"`
	StartedAt       time.Time            `json:"started_at"`
	QRCodeImage     string               `json:"qr_code_image,omitempty"`
	AccessLink      string               `json:"access_link,omitempty"`
	QRExpiresAt     *time.Time           `json:"qr_expires_at,omitempty"`
	AnchorLatitude  *float64             `json:"anchor_latitude,omitempty"`
	AnchorLongitude *float64             `json:"anchor_longitude,omitempty"`
}

// SessionListResponse wraps facilitator session listings with counts.
type SessionListResponse struct {
	Sessions []models.SessionWithCounts `json:"sessions"`
}

// CheckInResponse is returned after a successful trainee check-in.
type CheckInResponse struct {
	RecordID  string                  `json:"record_id"`
	SessionID string                  `json:"session_id"`
	Status    models.AttendanceStatus `json:"status"`
	Method    models.AttendanceMethod `json:"method"`
	CheckedAt time.Time               `json:"checked_at"`
}
