package models

import (
	"fmt"
	"time"
)

// SessionType distinguishes in-person sessions from online ones.
type SessionType string

const (
	SessionTypePhysical SessionType = "physical"
	SessionTypeOnline   SessionType = "online"
)

// Valid reports whether the session type is supported.
func (t SessionType) Valid() bool {
	return t == SessionTypePhysical || t == SessionTypeOnline
}

// SessionStatus tracks the class session lifecycle.
type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Valid reports whether the status is one of the lifecycle states.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusScheduled, SessionStatusActive, SessionStatusCompleted, SessionStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo enforces the lifecycle: scheduled -> active -> completed,
// with cancellation allowed from scheduled or active.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionStatusScheduled:
		return next == SessionStatusActive || next == SessionStatusCancelled
	case SessionStatusActive:
		return next == SessionStatusCompleted || next == SessionStatusCancelled
	default:
		return false
	}
}

// ClassSession represents a single meeting of a program.
type ClassSession struct {
	ID            string        `db:"id" json:"id"`
	ProgramID     string        `db:"program_id" json:"program_id"`
	FacilitatorID string        `db:"facilitator_id" json:"facilitator_id"`
	Title         string        `db:"title" json:"title"`
	Type          SessionType   `db:"type" json:"type"`
	Status        SessionStatus `db:"status" json:"status"`
	ScheduledAt   time.Time     `db:"scheduled_at" json:"scheduled_at"`
	StartedAt     *time.Time    `db:"started_at" json:"started_at,omitempty"`
	EndedAt       *time.Time    `db:"ended_at" json:"ended_at,omitempty"`

	// Online sessions: the one-time check-in token and shareable link.
	QRToken     *string    `db:"qr_token" json:"-"`
	AccessLink  *string    `db:"access_link" json:"access_link,omitempty"`
	QRExpiresAt *time.Time `db:"qr_expires_at" json:"qr_expires_at,omitempty"`

	// Physical sessions: anchor coordinates captured at activation.
	AnchorLatitude  *float64 `db:"anchor_latitude" json:"anchor_latitude,omitempty"`
	AnchorLongitude *float64 `db:"anchor_longitude" json:"anchor_longitude,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Validate performs structural checks independent of persistence state.
func (s ClassSession) Validate() error {
	if s.ProgramID == "" {
		return fmt.Errorf("program_id is required")
	}
	if s.FacilitatorID == "" {
		return fmt.Errorf("facilitator_id is required")
	}
	if !s.Type.Valid() {
		return fmt.Errorf("unknown session type %q", s.Type)
	}
	if s.ScheduledAt.IsZero() {
		return fmt.Errorf("scheduled_at is required")
	}
	return nil
}

// SessionWithCounts adds headline attendance counts to a session row.
type SessionWithCounts struct {
	ClassSession
	TotalPresent int `db:"total_present" json:"total_present"`
	TotalAbsent  int `db:"total_absent" json:"total_absent"`
}

// SessionFilter scopes session listing queries.
type SessionFilter struct {
	ProgramID     string
	FacilitatorID string
	Status        *SessionStatus
	DateFrom      *time.Time
	DateTo        *time.Time
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}
