package models

import (
	"time"

	"github.com/google/uuid"
)

// Task is the writing activity a session runs against. Tasks are owned by
// the platform service; this backend only reads them.
type Task struct {
	ID                       uuid.UUID `json:"id"`
	TeacherID                uuid.UUID `json:"teacher_id"`
	Title                    string    `json:"title"`
	Prompt                   string    `json:"prompt"`
	SuccessCriteria          []string  `json:"success_criteria"`
	UseUniversalExpectations bool      `json:"use_universal_expectations"`
	CreatedAt                time.Time `json:"created_at"`
}

// UniversalExpectations is the fixed rubric used when a task opts out of
// bespoke success criteria.
var UniversalExpectations = []string{
	"The response directly addresses the prompt",
	"Ideas are developed with specific details or evidence",
	"The writing is organized in a logical order",
	"Word choice is precise and appropriate for the audience",
	"Sentences are complete and readable",
}

// Criteria resolves the rubric feedback generation should grade against.
func (t *Task) Criteria() []string {
	if t.UseUniversalExpectations || len(t.SuccessCriteria) == 0 {
		return UniversalExpectations
	}
	return t.SuccessCriteria
}

// Teacher is the platform-owned account record. Read-only here; credential
// management lives in the platform service.
type Teacher struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Plan     string    `json:"plan"`
}
