package models

import "github.com/google/uuid"

// Revision alignment verdicts. There is no "misaligned" verdict; when the
// detector cannot tell, it reports uncertain.
const (
	AlignmentAligned   = "aligned"
	AlignmentUncertain = "uncertain"
)

// Feedback is one generated review of a submission. Every element carries a
// stable ID from the moment of generation so durable upserts and next-step
// selection survive regeneration and retries.
type Feedback struct {
	ID              uuid.UUID      `json:"id"`
	Goal            string         `json:"goal"`
	MasteryAchieved bool           `json:"mastery_achieved"`
	Strengths       []FeedbackItem `json:"strengths"`
	GrowthAreas     []FeedbackItem `json:"growth_areas"`
	NextSteps       []NextStep     `json:"next_steps"`
}

type FeedbackItem struct {
	ID             uuid.UUID `json:"id"`
	Category       string    `json:"category"`
	Text           string    `json:"text"`
	Evidence       []string  `json:"evidence,omitempty"`
	CriterionIndex *int      `json:"criterion_index,omitempty"`
}

type NextStep struct {
	ID               uuid.UUID `json:"id"`
	ActionVerb       string    `json:"action_verb"`
	Target           string    `json:"target"`
	SuccessIndicator string    `json:"success_indicator"`
	CTALabel         string    `json:"cta_label"`
	ActionType       string    `json:"action_type"`
}

// FindNextStep looks a step up by ID.
func (f *Feedback) FindNextStep(id uuid.UUID) (NextStep, bool) {
	if f == nil {
		return NextStep{}, false
	}
	for _, step := range f.NextSteps {
		if step.ID == id {
			return step, true
		}
	}
	return NextStep{}, false
}

// UpdateFeedbackRequest carries the teacher's shallow edits. Nil sections
// are left untouched; provided sections replace their counterpart wholesale.
type UpdateFeedbackRequest struct {
	Goal            *string        `json:"goal,omitempty" validate:"omitempty,max=500"`
	MasteryAchieved *bool          `json:"mastery_achieved,omitempty"`
	Strengths       []FeedbackItem `json:"strengths,omitempty"`
	GrowthAreas     []FeedbackItem `json:"growth_areas,omitempty"`
	NextSteps       []NextStep     `json:"next_steps,omitempty"`
}

type GenerateBatchRequest struct {
	StudentIDs []string `json:"student_ids" validate:"omitempty,dive,uuid4"`
}

// BatchResult is the always-200 breakdown of a generation batch.
type BatchResult struct {
	Generated int         `json:"generated"`
	Failed    int         `json:"failed"`
	Items     []BatchItem `json:"items"`
}

type BatchItem struct {
	StudentID   uuid.UUID `json:"student_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Status      string    `json:"status"`
	Code        string    `json:"code,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

const (
	BatchStatusGenerated = "generated"
	BatchStatusFailed    = "failed"
)

// Per-item failure codes inside a batch breakdown.
const (
	BatchCodeStudentNotFound  = "student_not_found"
	BatchCodeInvalidStatus    = "invalid_status"
	BatchCodeNoSubmission     = "no_submission"
	BatchCodeGenerationFailed = "generation_failed"
	BatchCodeStoreWriteFailed = "store_write_failed"
)
