package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind distinguishes regular activities from pub crawls.
type EventKind string

const (
	EventKindActivity EventKind = "activity"
	EventKindPubCrawl EventKind = "pub_crawl"
)

// Event is an activity or pub crawl that signups belong to. Read-only for the attendance flow.
type Event struct {
	ID          int64      `json:"id"`
	Kind        EventKind  `json:"kind"`
	Name        string     `json:"name"`
	StartsAt    *time.Time `json:"starts_at,omitempty"`
	OrganizerID *uuid.UUID `json:"organizer_id,omitempty"`
	CommitteeID *int64     `json:"committee_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
