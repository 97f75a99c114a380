package models

// StudentStatus tracks a participant through the live feedback workflow.
type StudentStatus string

const (
	StatusActive           StudentStatus = "active"
	StatusReadyForFeedback StudentStatus = "ready_for_feedback"
	StatusGenerating       StudentStatus = "generating"
	StatusSubmitted        StudentStatus = "submitted"
	StatusFeedbackReady    StudentStatus = "feedback_ready"
	StatusCompleted        StudentStatus = "completed"
	// StatusRevising is set by clients while a student reworks a draft. The
	// backend accepts it as a submit predecessor but never assigns it.
	StatusRevising StudentStatus = "revising"
	StatusRemoved  StudentStatus = "removed"
)

var validStatuses = map[StudentStatus]bool{
	StatusActive:           true,
	StatusReadyForFeedback: true,
	StatusGenerating:       true,
	StatusSubmitted:        true,
	StatusFeedbackReady:    true,
	StatusCompleted:        true,
	StatusRevising:         true,
	StatusRemoved:          true,
}

var submitFrom = map[StudentStatus]bool{
	StatusActive:           true,
	StatusReadyForFeedback: true,
	StatusFeedbackReady:    true,
	StatusRevising:         true,
}

func (s StudentStatus) Valid() bool {
	return validStatuses[s]
}

// CanSubmit reports whether a student in this status may submit work.
// Submitting while generation or teacher review is in flight is illegal.
func (s StudentStatus) CanSubmit() bool {
	return submitFrom[s]
}

// CanStartGeneration reports whether feedback generation may begin.
func (s StudentStatus) CanStartGeneration() bool {
	return s == StatusReadyForFeedback
}

// CanApprove reports whether the teacher may release this student's feedback.
func (s StudentStatus) CanApprove() bool {
	return s == StatusSubmitted
}

// Terminal reports whether the status admits no further transitions.
func (s StudentStatus) Terminal() bool {
	return s == StatusRemoved
}

// FeedbackStatus tracks a submission's feedback through its lifecycle.
// A fresh submission always re-enters pending.
type FeedbackStatus string

const (
	FeedbackPending   FeedbackStatus = "pending"
	FeedbackGenerated FeedbackStatus = "generated"
	FeedbackReleased  FeedbackStatus = "released"
)
