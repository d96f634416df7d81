package models

import (
	"time"

	"github.com/google/uuid"
)

// SignupStatus is the check-in lifecycle of a signup.
type SignupStatus string

const (
	SignupNotIssued   SignupStatus = "not_issued"
	SignupTokenIssued SignupStatus = "token_issued"
	SignupCheckedIn   SignupStatus = "checked_in"
)

// Signup is one participant's registration for an event or pub crawl.
type Signup struct {
	ID               int64      `json:"id"`
	EventID          int64      `json:"event_id"`
	UserID           *uuid.UUID `json:"user_id,omitempty"`
	ParticipantName  string     `json:"participant_name"`
	ParticipantEmail string     `json:"participant_email"`
	ParticipantPhone string     `json:"participant_phone,omitempty"`
	QRToken          *string    `json:"qr_token,omitempty"`
	QRImageKey       *string    `json:"-"`
	CheckedIn        bool       `json:"checked_in"`
	CheckedInAt      *time.Time `json:"checked_in_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Status derives the lifecycle state from the persisted fields.
func (s *Signup) Status() SignupStatus {
	switch {
	case s.CheckedIn:
		return SignupCheckedIn
	case s.QRToken != nil && *s.QRToken != "":
		return SignupTokenIssued
	default:
		return SignupNotIssued
	}
}

// SignupSummary is the identifying subset shown to door staff after a scan.
type SignupSummary struct {
	ID               int64      `json:"id"`
	EventID          int64      `json:"event_id"`
	ParticipantName  string     `json:"participant_name"`
	ParticipantEmail string     `json:"participant_email"`
	CheckedInAt      *time.Time `json:"checked_in_at,omitempty"`
}

// Summary converts Signup to SignupSummary.
func (s *Signup) Summary() SignupSummary {
	return SignupSummary{
		ID:               s.ID,
		EventID:          s.EventID,
		ParticipantName:  s.ParticipantName,
		ParticipantEmail: s.ParticipantEmail,
		CheckedInAt:      s.CheckedInAt,
	}
}
