// Package scoring computes objective scores for submitted answers.
// Choice questions are scored all-or-nothing; free-text questions always
// score zero and are handed to the trainer for manual grading.
package scoring

import (
	"strings"

	"github.com/formedic/examproctor/internal/model"
)

// Score returns the auto score for one answer, in [0, q.MaxScore].
func Score(q model.Question, a model.Answer) float64 {
	if !a.Matches(q) {
		return 0
	}
	switch q.Type {
	case model.SingleChoice:
		if a.Selected == "" {
			return 0
		}
		if containsToken(q.CorrectAnswers, a.Selected) {
			return q.MaxScore
		}
		return 0
	case model.MultiChoice:
		if setEqual(a.SelectedSet, q.CorrectAnswers) {
			return q.MaxScore
		}
		return 0
	case model.FreeText:
		return 0
	}
	return 0
}

// RequiresManual reports whether the question must be graded by a trainer.
func RequiresManual(q model.Question) bool {
	return q.Type == model.FreeText
}

// Total sums the per-question auto scores over the whole exercise. Questions
// without an answer score zero. The result is computed exactly once at submit
// time; trainer edits never feed back into it.
func Total(ex model.Exercise, answers map[string]model.Answer) float64 {
	var total float64
	for _, q := range ex.Questions {
		if a, ok := answers[q.ID]; ok {
			total += Score(q, a)
		}
	}
	return total
}

// MaxScore sums the per-question maximum scores of the exercise.
func MaxScore(ex model.Exercise) float64 {
	var max float64
	for _, q := range ex.Questions {
		max += q.MaxScore
	}
	return max
}

// containsToken matches a selection against option tokens: trimmed, exact.
func containsToken(tokens []string, s string) bool {
	s = strings.TrimSpace(s)
	for _, t := range tokens {
		if strings.TrimSpace(t) == s {
			return true
		}
	}
	return false
}

// setEqual reports whether the two sets hold the same elements: no extras,
// no missing, order irrelevant.
func setEqual(got, want []string) bool {
	if len(got) == 0 || len(want) == 0 {
		return false
	}
	wantSet := make(map[string]struct{}, len(want))
	for _, w := range want {
		wantSet[strings.TrimSpace(w)] = struct{}{}
	}
	gotSet := make(map[string]struct{}, len(got))
	for _, g := range got {
		gotSet[strings.TrimSpace(g)] = struct{}{}
	}
	if len(gotSet) != len(wantSet) {
		return false
	}
	for g := range gotSet {
		if _, ok := wantSet[g]; !ok {
			return false
		}
	}
	return true
}
