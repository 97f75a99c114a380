package models

import (
	"time"

	"github.com/google/uuid"
)

// TeacherQuota is the monthly generation allowance counter. Used resets to
// zero lazily the first time it is checked in a new calendar month.
type TeacherQuota struct {
	TeacherID uuid.UUID `json:"teacher_id"`
	Used      int       `json:"used"`
	ResetAt   time.Time `json:"reset_at"`
}

type QuotaStatus struct {
	Allowed   bool `json:"allowed"`
	Used      int  `json:"used"`
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"`
}

// UsageAudit is the append-only record written for every quota consumption.
type UsageAudit struct {
	ID        uuid.UUID `json:"id"`
	TeacherID uuid.UUID `json:"teacher_id"`
	TaskID    uuid.UUID `json:"task_id"`
	SessionID uuid.UUID `json:"session_id"`
	Operation string    `json:"operation"`
	Count     int       `json:"count"`
	Model     string    `json:"model"`
	Warnings  []string  `json:"warnings,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
