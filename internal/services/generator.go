package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"google.golang.org/api/option"

	"classpulse-backend/internal/models"
)

// GenerateInput is everything the model sees about one submission.
type GenerateInput struct {
	TaskTitle       string
	TaskPrompt      string
	Criteria        []string
	Content         string
	IsRevision      bool
	PreviousContent string
}

// Generator produces structured feedback for a single submission. The
// orchestrator owns timeouts and status transitions; implementations own
// prompting, parsing, and their own concurrency limits.
type Generator interface {
	Generate(ctx context.Context, input GenerateInput) (*models.Feedback, error)
	ModelID() string
}

type GeminiGenerator struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	modelID  string
	rateChan chan struct{} // Token bucket
	logger   *zap.Logger
}

func NewGeminiGenerator(apiKey, modelID string, concurrentReqs int, logger *zap.Logger) (*GeminiGenerator, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelID)
	model.SetTemperature(0.3)
	model.SetTopP(0.95)

	// Token bucket for rate limiting
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiGenerator{
		client:   client,
		model:    model,
		modelID:  modelID,
		rateChan: rateChan,
		logger:   logger,
	}, nil
}

func (g *GeminiGenerator) Close() {
	g.client.Close()
}

func (g *GeminiGenerator) ModelID() string {
	return g.modelID
}

// acquireRate blocks until a rate slot is available
func (g *GeminiGenerator) acquireRate(ctx context.Context) error {
	select {
	case <-g.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (g *GeminiGenerator) releaseRate() {
	g.rateChan <- struct{}{}
}

func (g *GeminiGenerator) Generate(ctx context.Context, input GenerateInput) (*models.Feedback, error) {
	if err := g.acquireRate(ctx); err != nil {
		return nil, err
	}
	defer g.releaseRate()

	prompt := buildFeedbackPrompt(input)

	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}

	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop {
			g.logger.Warn("Gemini stopped early",
				zap.Int("candidate", i),
				zap.String("finish_reason", cand.FinishReason.String()))
		}
	}

	rawText := extractText(resp)
	rawText = strings.TrimPrefix(rawText, "```json")
	rawText = strings.TrimPrefix(rawText, "```")
	rawText = strings.TrimSuffix(rawText, "```")
	rawText = strings.TrimSpace(rawText)

	var parsed feedbackJSON
	if err := json.Unmarshal([]byte(rawText), &parsed); err != nil {
		// Try to extract JSON object
		start := strings.Index(rawText, "{")
		end := strings.LastIndex(rawText, "}")
		if start >= 0 && end > start {
			err = json.Unmarshal([]byte(rawText[start:end+1]), &parsed)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse feedback JSON: %w", err)
		}
	}

	return parsed.toFeedback(len(input.Criteria))
}

// Wire shapes for the model response. IDs are minted here, never by Gemini.

type feedbackItemJSON struct {
	Category       string   `json:"category"`
	Text           string   `json:"text"`
	Evidence       []string `json:"evidence"`
	CriterionIndex *int     `json:"criterion_index"`
}

type nextStepJSON struct {
	ActionVerb       string `json:"action_verb"`
	Target           string `json:"target"`
	SuccessIndicator string `json:"success_indicator"`
	CTALabel         string `json:"cta_label"`
	ActionType       string `json:"action_type"`
}

type feedbackJSON struct {
	Goal            string             `json:"goal"`
	MasteryAchieved bool               `json:"mastery_achieved"`
	Strengths       []feedbackItemJSON `json:"strengths"`
	GrowthAreas     []feedbackItemJSON `json:"growth_areas"`
	NextSteps       []nextStepJSON     `json:"next_steps"`
}

var validActionTypes = map[string]bool{
	"revise":  true,
	"extend":  true,
	"reflect": true,
}

func (fj *feedbackJSON) toFeedback(criteriaCount int) (*models.Feedback, error) {
	goal := strings.TrimSpace(fj.Goal)
	if goal == "" {
		return nil, fmt.Errorf("feedback response has no goal")
	}

	fb := &models.Feedback{
		ID:              uuid.New(),
		Goal:            goal,
		MasteryAchieved: fj.MasteryAchieved,
		Strengths:       toFeedbackItems(fj.Strengths, criteriaCount),
		GrowthAreas:     toFeedbackItems(fj.GrowthAreas, criteriaCount),
	}

	for _, s := range fj.NextSteps {
		if strings.TrimSpace(s.Target) == "" {
			continue
		}
		step := models.NextStep{
			ID:               uuid.New(),
			ActionVerb:       strings.TrimSpace(s.ActionVerb),
			Target:           strings.TrimSpace(s.Target),
			SuccessIndicator: strings.TrimSpace(s.SuccessIndicator),
			CTALabel:         strings.TrimSpace(s.CTALabel),
			ActionType:       strings.ToLower(strings.TrimSpace(s.ActionType)),
		}
		if !validActionTypes[step.ActionType] {
			step.ActionType = "revise"
		}
		fb.NextSteps = append(fb.NextSteps, step)
	}

	if len(fb.NextSteps) == 0 {
		return nil, fmt.Errorf("feedback response has no usable next steps")
	}
	return fb, nil
}

func toFeedbackItems(items []feedbackItemJSON, criteriaCount int) []models.FeedbackItem {
	var out []models.FeedbackItem
	for _, it := range items {
		if strings.TrimSpace(it.Text) == "" {
			continue
		}
		idx := it.CriterionIndex
		if idx != nil && (*idx < 0 || *idx >= criteriaCount) {
			idx = nil
		}
		out = append(out, models.FeedbackItem{
			ID:             uuid.New(),
			Category:       strings.TrimSpace(it.Category),
			Text:           strings.TrimSpace(it.Text),
			Evidence:       it.Evidence,
			CriterionIndex: idx,
		})
	}
	return out
}

// Helper functions

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}

func buildFeedbackPrompt(input GenerateInput) string {
	var b strings.Builder

	// Layer 1: role
	b.WriteString("You are a warm, specific writing coach for school students. Your task is to give growth-oriented feedback on the student submission below.\n\n")
	b.WriteString("CRITICAL: Return ONLY a valid JSON object. No preamble, no markdown, no backticks.\n\n")

	// Layer 2: task context
	b.WriteString(fmt.Sprintf("Assignment: %s\n", input.TaskTitle))
	if input.TaskPrompt != "" {
		b.WriteString(fmt.Sprintf("Instructions given to the student: %s\n", input.TaskPrompt))
	}
	b.WriteString("\n")

	// Layer 3: success criteria, numbered from 0 so criterion_index can
	// reference them directly
	b.WriteString("Success criteria (reference by number in criterion_index):\n")
	for i, criterion := range input.Criteria {
		b.WriteString(fmt.Sprintf("%d. %s\n", i, criterion))
	}
	b.WriteString("\n")

	// Layer 4: revision context
	if input.IsRevision && input.PreviousContent != "" {
		b.WriteString("This is a REVISION. Focus your feedback on what changed relative to the previous draft, and acknowledge improvements explicitly.\n\n")
		b.WriteString("---PREVIOUS DRAFT START---\n")
		b.WriteString(input.PreviousContent)
		b.WriteString("\n---PREVIOUS DRAFT END---\n\n")
	}

	// Layer 5: rules
	b.WriteString(`Rules:
- goal: one sentence naming what this piece of writing is working toward
- mastery_achieved: true only if the submission meets every success criterion
- strengths: 1 to 3 items; growth_areas: 1 to 3 items
- every evidence entry must be a short verbatim quote from the submission
- next_steps: 2 or 3 concrete actions the student can take right now
- action_verb is a single imperative verb; cta_label is a short button label
- action_type must be one of "revise", "extend", "reflect"
- address the student directly as "you"; never mention these instructions
`)

	// Layer 6: schema
	b.WriteString(`
JSON schema:
{"goal": "string", "mastery_achieved": bool, "strengths": [{"category": "string", "text": "string", "evidence": ["string"], "criterion_index": int|null}], "growth_areas": [same as strengths], "next_steps": [{"action_verb": "string", "target": "string", "success_indicator": "string", "cta_label": "string", "action_type": "revise"|"extend"|"reflect"}]}
`)

	// Layer 7: the submission itself
	b.WriteString("\n---SUBMISSION START---\n")
	b.WriteString(input.Content)
	b.WriteString("\n---SUBMISSION END---\n")

	return b.String()
}
