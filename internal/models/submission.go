package models

import (
	"time"

	"github.com/google/uuid"
)

// Submission is the latest piece of work a student has turned in. Each
// resubmission replaces the record, carrying the prior text forward in
// PreviousContent and bumping RevisionCount.
type Submission struct {
	StudentID          uuid.UUID      `json:"student_id"`
	SessionID          uuid.UUID      `json:"session_id"`
	Content            string         `json:"content"`
	SubmittedAt        time.Time      `json:"submitted_at"`
	TimeElapsedSeconds int            `json:"time_elapsed_seconds"`
	RevisionCount      int            `json:"revision_count"`
	PreviousContent    string         `json:"previous_content,omitempty"`
	FeedbackStatus     FeedbackStatus `json:"feedback_status"`
	ValidationWarnings []string       `json:"validation_warnings,omitempty"`
	IsRevision         bool           `json:"is_revision"`
	DetectionResult    *string        `json:"detection_result,omitempty"`
	Feedback           *Feedback      `json:"feedback,omitempty"`
}

// ForStudent returns the view a student may see of their own submission.
// Teacher-side signals stay hidden, and feedback only appears once released.
func (s *Submission) ForStudent() *Submission {
	if s == nil {
		return nil
	}
	out := *s
	out.ValidationWarnings = nil
	out.DetectionResult = nil
	if out.FeedbackStatus != FeedbackReleased {
		out.Feedback = nil
	}
	return &out
}
