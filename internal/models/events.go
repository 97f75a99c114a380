package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is the envelope every room subscriber receives.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

const (
	EventStudentJoined        = "student_joined"
	EventStudentStatusChanged = "student_status_changed"
	EventSubmissionReceived   = "submission_received"
	EventFeedbackGenerated    = "feedback_generated"
	EventGenerationFailed     = "generation_failed"
	EventFeedbackReleased     = "feedback_released"
	EventFeedbackUpdated      = "feedback_updated"
	EventNextStepSelected     = "next_step_selected"
	EventStudentRemoved       = "student_removed"
	EventSessionPersisted     = "session_persisted"
)

type StudentJoinedEvent struct {
	SessionID     uuid.UUID `json:"session_id"`
	StudentID     uuid.UUID `json:"student_id"`
	DisplayName   string    `json:"display_name"`
	TotalStudents int       `json:"total_students"`
}

type StatusChangedEvent struct {
	SessionID uuid.UUID     `json:"session_id"`
	StudentID uuid.UUID     `json:"student_id"`
	Status    StudentStatus `json:"status"`
}

type SubmissionReceivedEvent struct {
	SessionID     uuid.UUID `json:"session_id"`
	StudentID     uuid.UUID `json:"student_id"`
	RevisionCount int       `json:"revision_count"`
	IsRevision    bool      `json:"is_revision"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

type FeedbackGeneratedEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	StudentID uuid.UUID `json:"student_id"`
}

type GenerationFailedEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	StudentID uuid.UUID `json:"student_id"`
	Reason    string    `json:"reason"`
}

type FeedbackReleasedEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	StudentID uuid.UUID `json:"student_id"`
	Feedback  *Feedback `json:"feedback"`
}

type FeedbackUpdatedEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	StudentID uuid.UUID `json:"student_id"`
}

type NextStepSelectedEvent struct {
	SessionID  uuid.UUID `json:"session_id"`
	StudentID  uuid.UUID `json:"student_id"`
	NextStepID uuid.UUID `json:"next_step_id"`
}

type StudentRemovedEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	StudentID uuid.UUID `json:"student_id"`
}

type SessionPersistedEvent struct {
	SessionID   uuid.UUID `json:"session_id"`
	Students    int       `json:"students"`
	Submissions int       `json:"submissions"`
}
