package services

import (
	"context"
	"strings"
	"unicode"

	"classpulse-backend/internal/models"
)

// AlignmentDetector judges whether a revision actually worked on the next
// step the student selected. Verdicts are advisory: they never block a
// submission, and "uncertain" is the honest default.
type AlignmentDetector interface {
	Detect(ctx context.Context, previous, current string, step models.NextStep) (string, error)
}

// LexicalDetector is a heuristic detector. It diffs the two drafts at the
// sentence level, then scores the added or changed sentences for keyword
// overlap with the step's target and success indicator. Two distinct keyword
// hits count as aligned; anything weaker stays uncertain.
type LexicalDetector struct{}

func NewLexicalDetector() *LexicalDetector {
	return &LexicalDetector{}
}

func (d *LexicalDetector) Detect(ctx context.Context, previous, current string, step models.NextStep) (string, error) {
	added := addedSentences(previous, current)
	if len(added) == 0 {
		return models.AlignmentUncertain, nil
	}

	keywords := keywordSet(step.Target + " " + step.SuccessIndicator + " " + step.ActionVerb)
	if len(keywords) == 0 {
		return models.AlignmentUncertain, nil
	}

	hits := make(map[string]struct{})
	for _, sentence := range added {
		for _, word := range strings.Fields(sentence) {
			if _, ok := keywords[word]; ok {
				hits[word] = struct{}{}
			}
		}
	}

	if len(hits) >= 2 || len(hits) == len(keywords) {
		return models.AlignmentAligned, nil
	}
	return models.AlignmentUncertain, nil
}

// addedSentences returns the normalized sentences of current that do not
// appear in previous.
func addedSentences(previous, current string) []string {
	seen := make(map[string]struct{})
	for _, s := range splitSentences(previous) {
		seen[s] = struct{}{}
	}

	var added []string
	for _, s := range splitSentences(current) {
		if _, ok := seen[s]; !ok {
			added = append(added, s)
		}
	}
	return added
}

func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})

	var out []string
	for _, p := range parts {
		if s := normalizeSentence(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// normalizeSentence lowercases and strips everything but letters, digits and
// spaces, so cosmetic edits do not read as new material.
func normalizeSentence(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

var alignmentStopwords = map[string]struct{}{
	"the": {}, "and": {}, "that": {}, "with": {}, "this": {}, "your": {},
	"into": {}, "from": {}, "have": {}, "more": {}, "each": {}, "make": {},
	"adds": {}, "add": {}, "use": {}, "uses": {}, "using": {}, "about": {},
	"what": {}, "when": {}, "where": {}, "will": {}, "would": {}, "their": {},
	"there": {}, "then": {}, "than": {}, "them": {}, "they": {}, "also": {},
	"only": {}, "such": {}, "very": {}, "some": {}, "like": {}, "been": {},
	"does": {}, "other": {}, "which": {}, "while": {}, "least": {}, "atleast": {},
	"should": {}, "could": {}, "include": {}, "includes": {}, "one": {},
	"two": {}, "three": {}, "write": {}, "writing": {}, "written": {},
}

func keywordSet(text string) map[string]struct{} {
	keywords := make(map[string]struct{})
	for _, word := range strings.Fields(normalizeSentence(text)) {
		if len(word) < 4 {
			continue
		}
		if _, stop := alignmentStopwords[word]; stop {
			continue
		}
		keywords[word] = struct{}{}
	}
	return keywords
}
