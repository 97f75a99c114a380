package models

import (
	"time"

	"github.com/google/uuid"
)

// Student is one participant in a live session. Identity lasts for the
// session only; the display name is whatever the student typed at join.
type Student struct {
	ID                 uuid.UUID     `json:"id"`
	SessionID          uuid.UUID     `json:"session_id"`
	DisplayName        string        `json:"display_name"`
	JoinedAt           time.Time     `json:"joined_at"`
	Status             StudentStatus `json:"status"`
	SelectedNextStepID *uuid.UUID    `json:"selected_next_step_id,omitempty"`
}

type SubmitRequest struct {
	Content string `json:"content" validate:"required,max=20000"`
	// Nil means the client did not report a timer; the server falls back to
	// wall time since join.
	TimeElapsedSeconds *int `json:"time_elapsed_seconds" validate:"omitempty,gte=0"`
}

type SelectNextStepRequest struct {
	NextStepID string `json:"next_step_id" validate:"required,uuid4"`
}
