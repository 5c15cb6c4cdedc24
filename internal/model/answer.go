package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Answer is the canonical stored answer for one question. The Type tag must
// match the owning question's type; exactly one of the shape fields is
// populated. Shapes are validated once here and never re-inferred downstream.
type Answer struct {
	Type        QuestionType `json:"type"`
	Selected    string       `json:"selected,omitempty"`
	SelectedSet []string     `json:"selected_set,omitempty"`
	Text        string       `json:"text,omitempty"`
}

// Canonicalize turns a raw draft value into the canonical answer for q.
// Scalars become a string selection, a singleton set, or text depending on
// the question type. Values are whitespace-trimmed; options are compared as
// opaque tokens with no case or diacritic folding. A value that cannot be
// coerced to the question's shape yields a ShapeMismatchError.
func Canonicalize(q Question, raw any) (Answer, error) {
	switch q.Type {
	case SingleChoice:
		s, ok := scalarString(raw)
		if !ok {
			// A singleton list is a tolerable client sloppiness.
			if set, listOK := stringSet(raw); listOK && len(set) == 1 {
				return Answer{Type: SingleChoice, Selected: set[0]}, nil
			}
			return Answer{}, &ShapeMismatchError{QuestionID: q.ID, QuestionType: q.Type, Got: describe(raw)}
		}
		return Answer{Type: SingleChoice, Selected: s}, nil

	case MultiChoice:
		if set, ok := stringSet(raw); ok {
			return Answer{Type: MultiChoice, SelectedSet: set}, nil
		}
		if s, ok := scalarString(raw); ok {
			if s == "" {
				return Answer{Type: MultiChoice}, nil
			}
			return Answer{Type: MultiChoice, SelectedSet: []string{s}}, nil
		}
		return Answer{}, &ShapeMismatchError{QuestionID: q.ID, QuestionType: q.Type, Got: describe(raw)}

	case FreeText:
		s, ok := scalarString(raw)
		if !ok {
			return Answer{}, &ShapeMismatchError{QuestionID: q.ID, QuestionType: q.Type, Got: describe(raw)}
		}
		return Answer{Type: FreeText, Text: s}, nil
	}
	return Answer{}, &ShapeMismatchError{QuestionID: q.ID, QuestionType: q.Type, Got: describe(raw)}
}

// IsEmpty reports whether the answer counts as unanswered: no selection,
// an empty set, or blank text.
func (a Answer) IsEmpty() bool {
	switch a.Type {
	case SingleChoice:
		return a.Selected == ""
	case MultiChoice:
		return len(a.SelectedSet) == 0
	case FreeText:
		return strings.TrimSpace(a.Text) == ""
	}
	return true
}

// Matches reports whether the answer matches q's shape.
func (a Answer) Matches(q Question) bool {
	return a.Type == q.Type
}

// scalarString converts a scalar draft value to its trimmed string form.
func scalarString(raw any) (string, bool) {
	switch v := raw.(type) {
	case nil:
		return "", true
	case string:
		return strings.TrimSpace(v), true
	case bool:
		return strconv.FormatBool(v), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case fmt.Stringer:
		return strings.TrimSpace(v.String()), true
	}
	return "", false
}

// stringSet converts a slice draft value into a deduplicated, sorted set of
// trimmed strings. Order of the input never matters for scoring.
func stringSet(raw any) ([]string, bool) {
	var items []any
	switch v := raw.(type) {
	case []string:
		for _, s := range v {
			items = append(items, s)
		}
	case []any:
		items = v
	case map[string]struct{}:
		for s := range v {
			items = append(items, s)
		}
	default:
		return nil, false
	}

	seen := make(map[string]struct{}, len(items))
	var set []string
	for _, it := range items {
		s, ok := scalarString(it)
		if !ok {
			return nil, false
		}
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		set = append(set, s)
	}
	sort.Strings(set)
	return set, true
}

func describe(raw any) string {
	if raw == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", raw)
}
