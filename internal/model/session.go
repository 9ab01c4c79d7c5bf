// Package model defines domain types for screening sessions, biomarker readings and sync.
package model

import "time"

// SessionStatus is the lifecycle state of a screening session.
// It only moves forward: in_progress -> completed -> synced.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusSynced     SessionStatus = "synced"
)

// Valid reports whether s is one of the known statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusInProgress, StatusCompleted, StatusSynced:
		return true
	}
	return false
}

// Session is one screening attempt as stored on the device.
// ChildName is identifying and must never leave the device; see SessionPayload.
type Session struct {
	ID          string
	UserID      string
	ChildName   string
	AgeMonths   int
	Language    string
	Gender      string
	CreatedAt   int64  // epoch ms
	CompletedAt *int64 // epoch ms, set once by completion
	Status      SessionStatus
	Synced      bool
}

// NewSession holds the caller-supplied fields for creating a session.
type NewSession struct {
	ID        string
	UserID    string
	ChildName string
	AgeMonths int
	Language  string
	Gender    string
}

// Created returns CreatedAt as a time.Time.
func (s Session) Created() time.Time {
	return time.UnixMilli(s.CreatedAt)
}

// Completed returns CompletedAt as a time.Time, or the zero time if unset.
func (s Session) Completed() time.Time {
	if s.CompletedAt == nil {
		return time.Time{}
	}
	return time.UnixMilli(*s.CompletedAt)
}
