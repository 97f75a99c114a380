package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is the live roster record for one classroom activity. It lives in
// the expiring store while the session runs; the durable copy only exists
// after the teacher archives it. Counters only ever increase.
type Session struct {
	ID                 uuid.UUID `json:"id"`
	TaskID             uuid.UUID `json:"task_id"`
	TeacherID          uuid.UUID `json:"teacher_id"`
	IsLive             bool      `json:"is_live"`
	StartedAt          time.Time `json:"started_at"`
	DataExpiresAt      time.Time `json:"data_expires_at"`
	DataPersisted      bool      `json:"data_persisted"`
	TotalStudents      int       `json:"total_students"`
	Submissions        int       `json:"submissions"`
	FeedbacksGenerated int       `json:"feedbacks_generated"`
	FeedbackSent       int       `json:"feedback_sent"`
}

type JoinRequest struct {
	TaskID      string `json:"task_id" validate:"required,uuid4"`
	DisplayName string `json:"display_name" validate:"required,min=1,max=60"`
}

type JoinResponse struct {
	Token      string        `json:"token"`
	SessionID  uuid.UUID     `json:"session_id"`
	StudentID  uuid.UUID     `json:"student_id"`
	TaskTitle  string        `json:"task_title"`
	TaskPrompt string        `json:"task_prompt"`
	Status     StudentStatus `json:"status"`
}

// StudentState pairs a roster entry with the student's latest submission,
// if any. It is the unit of both pull endpoints.
type StudentState struct {
	Student    *Student    `json:"student"`
	Submission *Submission `json:"submission,omitempty"`
}

// SessionState is the teacher's full pull view of a live session.
type SessionState struct {
	Session  *Session        `json:"session"`
	Students []*StudentState `json:"students"`
}

// SessionSnapshot is the unit handed to the durable store when a session is
// archived. It is read out of the live store in full before any row is
// written.
type SessionSnapshot struct {
	Session     *Session
	Students    []*Student
	Submissions []*Submission
}

// PersistResult reports what an archive request did. AlreadyPersisted marks
// the informational no-op case, not a failure.
type PersistResult struct {
	SessionID        uuid.UUID `json:"session_id"`
	AlreadyPersisted bool      `json:"already_persisted"`
	Students         int       `json:"students"`
	Submissions      int       `json:"submissions"`
}
