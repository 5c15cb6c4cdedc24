// Package review implements the trainer's correction of a submission. The
// reconciliation keeps a working copy of per-answer scores and a final score
// that is either derived from them or pinned by the trainer.
package review

import (
	"fmt"
	"math"
	"sort"

	"github.com/formedic/examproctor/internal/model"
	"github.com/formedic/examproctor/internal/portal"
)

// scoreTolerance is the slack allowed when deciding whether a typed final
// score still matches the computed total. Anything within it keeps the final
// score in derived mode.
const scoreTolerance = 0.01

// FinalMode says where the final score currently comes from.
type FinalMode string

const (
	// FinalCalculated means the final score tracks the per-answer total.
	FinalCalculated FinalMode = "CALCULATED"
	// FinalOverridden means the trainer pinned an explicit value; per-answer
	// edits no longer move it until Reset re-arms the recompute.
	FinalOverridden FinalMode = "OVERRIDDEN"
)

// FinalScore is the reconciliation's final score together with its mode.
type FinalScore struct {
	Value float64   `json:"value"`
	Mode  FinalMode `json:"mode"`
}

// entry is the working state for one answer.
type entry struct {
	record model.AnswerRecord
	max    float64

	score   float64
	comment string
	// explicit is true once a score has been deliberately assigned: seeded
	// from the auto scorer for choice questions, from a prior correction, or
	// set by the trainer in this pass. Free-text answers with no prior
	// trainer score start at 0 without being explicit.
	explicit bool
}

// Reconciliation is the trainer's in-flight correction of one submission.
// It is not safe for concurrent use.
type Reconciliation struct {
	submission model.Submission
	entries    []*entry
	byID       map[string]*entry

	override *float64
	feedback string
}

// NewReconciliation seeds a correction pass from a submission. Choice answers
// start from their auto score; free-text answers start from a prior trainer
// score if one exists, otherwise at zero pending the trainer's grade. An
// already corrected submission seeds its final score as an override.
func NewReconciliation(ex model.Exercise, sub model.Submission) (*Reconciliation, error) {
	r := &Reconciliation{
		submission: sub,
		byID:       make(map[string]*entry, len(sub.Answers)),
		feedback:   sub.TrainerFeedback,
	}
	for _, rec := range sub.Answers {
		q, ok := ex.QuestionByID(rec.QuestionID)
		if !ok {
			return nil, fmt.Errorf("submission %s: answer for unknown question %s", sub.ID, rec.QuestionID)
		}
		e := &entry{record: rec, max: q.MaxScore}
		switch {
		case rec.TrainerScore != nil:
			e.score = *rec.TrainerScore
			e.explicit = true
		case q.Type == model.FreeText:
			e.score = 0
			e.explicit = false
		default:
			e.score = rec.AutoScore
			e.explicit = true
		}
		e.comment = rec.TrainerComment
		r.entries = append(r.entries, e)
		r.byID[rec.ID] = e
	}
	sort.Slice(r.entries, func(i, j int) bool {
		return r.entries[i].record.Position < r.entries[j].record.Position
	})
	if sub.FinalScore != nil {
		r.seedFinal(*sub.FinalScore)
	}
	return r, nil
}

// seedFinal installs a pre-existing final score, keeping derived mode when it
// already matches the computed total.
func (r *Reconciliation) seedFinal(v float64) {
	if math.Abs(v-r.total()) <= scoreTolerance {
		return
	}
	pinned := v
	r.override = &pinned
}

func (r *Reconciliation) total() float64 {
	var sum float64
	for _, e := range r.entries {
		sum += e.score
	}
	return sum
}

// FinalScore returns the current final score and its mode.
func (r *Reconciliation) FinalScore() FinalScore {
	if r.override != nil {
		return FinalScore{Value: *r.override, Mode: FinalOverridden}
	}
	return FinalScore{Value: r.total(), Mode: FinalCalculated}
}

// SetAnswerScore records the trainer's score for one answer. The score must
// lie within [0, maxScore] for that question. In derived mode the final score
// follows; a pinned final score stays put.
func (r *Reconciliation) SetAnswerScore(answerID string, score float64) error {
	e, ok := r.byID[answerID]
	if !ok {
		return fmt.Errorf("unknown answer %s", answerID)
	}
	if score < 0 || score > e.max {
		return &model.ValidationError{
			Reason:    fmt.Sprintf("score %g out of range [0, %g]", score, e.max),
			Positions: []int{e.record.Position},
		}
	}
	e.score = score
	e.explicit = true
	return nil
}

// SetAnswerComment records the trainer's comment for one answer.
func (r *Reconciliation) SetAnswerComment(answerID, comment string) error {
	e, ok := r.byID[answerID]
	if !ok {
		return fmt.Errorf("unknown answer %s", answerID)
	}
	e.comment = comment
	return nil
}

// SetFeedback records the overall trainer feedback.
func (r *Reconciliation) SetFeedback(feedback string) {
	r.feedback = feedback
}

// SetFinalScore sets the final score directly. A value within tolerance of
// the computed total keeps (or restores) derived mode; anything else pins the
// score until Reset.
func (r *Reconciliation) SetFinalScore(v float64) error {
	if v < 0 || v > r.submission.MaxScore {
		return &model.ValidationError{
			Reason: fmt.Sprintf("final score %g out of range [0, %g]", v, r.submission.MaxScore),
		}
	}
	if math.Abs(v-r.total()) <= scoreTolerance {
		r.override = nil
		return nil
	}
	pinned := v
	r.override = &pinned
	return nil
}

// Reset drops a pinned final score and returns to derived mode.
func (r *Reconciliation) Reset() {
	r.override = nil
}

// Validate checks that the correction is complete: every free-text answer
// needs an explicitly assigned score. The returned error lists the 1-based
// positions still missing one.
func (r *Reconciliation) Validate() error {
	var missing []int
	for _, e := range r.entries {
		if !e.explicit {
			missing = append(missing, e.record.Position)
		}
	}
	if len(missing) > 0 {
		return &model.ValidationError{Reason: "free-text answers not yet graded", Positions: missing}
	}
	return nil
}

// Payload builds the portal review request. Per-answer entries are included
// when the trainer touched them: a free-text grade always goes out, a choice
// answer only when its score moved off the auto score or it carries a
// comment.
func (r *Reconciliation) Payload() (portal.ReviewRequest, error) {
	if err := r.Validate(); err != nil {
		return portal.ReviewRequest{}, err
	}

	req := portal.ReviewRequest{
		FinalScore:      r.FinalScore().Value,
		TrainerFeedback: r.feedback,
	}
	for _, e := range r.entries {
		freeText := e.record.Answer.Type == model.FreeText
		changed := e.score != e.record.AutoScore
		if !freeText && !changed && e.comment == "" {
			continue
		}
		score := e.score
		req.Answers = append(req.Answers, portal.ReviewAnswer{
			AnswerID:       e.record.ID,
			TrainerComment: e.comment,
			AutoScore:      &score,
		})
	}
	return req, nil
}

// Entries returns the per-answer working state in position order, for
// display.
func (r *Reconciliation) Entries() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Entry{
			AnswerID:   e.record.ID,
			QuestionID: e.record.QuestionID,
			Position:   e.record.Position,
			Answer:     e.record.Answer,
			AutoScore:  e.record.AutoScore,
			MaxScore:   e.max,
			Score:      e.score,
			Comment:    e.comment,
			Graded:     e.explicit,
		})
	}
	return out
}

// Entry is the read-only view of one answer during correction.
type Entry struct {
	AnswerID   string       `json:"answer_id"`
	QuestionID string       `json:"question_id"`
	Position   int          `json:"position"`
	Answer     model.Answer `json:"answer"`
	AutoScore  float64      `json:"auto_score"`
	MaxScore   float64      `json:"max_score"`
	Score      float64      `json:"score"`
	Comment    string       `json:"comment"`
	Graded     bool         `json:"graded"`
}
