package model

import (
	"time"

	"github.com/google/uuid"
)

// ProctorEventKind names a proctoring transition worth recording.
type ProctorEventKind string

const (
	ProctorStarted            ProctorEventKind = "started"
	ProctorFullscreenLost     ProctorEventKind = "fullscreen_lost"
	ProctorFullscreenRegained ProctorEventKind = "fullscreen_regained"
	ProctorForfeited          ProctorEventKind = "forfeited"
	ProctorTimeUp             ProctorEventKind = "time_up"
	ProctorCodeSubmitted      ProctorEventKind = "code_submitted"
	ProctorVivaSubmitted      ProctorEventKind = "viva_submitted"
)

// Violation reports whether the kind counts against the student.
func (k ProctorEventKind) Violation() bool {
	return k == ProctorFullscreenLost || k == ProctorForfeited
}

// ProctorEvent is one row of proctor_events, also the monitor wire format.
type ProctorEvent struct {
	SubmissionID uuid.UUID        `json:"submission_id"`
	StudentID    int              `json:"student_id"`
	StudentName  string           `json:"student_name,omitempty"`
	Kind         ProctorEventKind `json:"kind"`
	Remaining    int              `json:"remaining_seconds"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

// Checkpoint is a persisted countdown position.
type Checkpoint struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	Remaining    int       `json:"remaining"`
}

// Draft is autosaved code for an in-progress attempt.
type Draft struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	Code         string    `json:"code"`
	Language     string    `json:"language"`
	SavedAt      time.Time `json:"saved_at"`
}
