package model

import (
	"fmt"
	"time"
)

// QuestionType discriminates the three supported question kinds.
type QuestionType string

const (
	// SingleChoice questions have one correct option.
	SingleChoice QuestionType = "SINGLE_CHOICE"
	// MultiChoice questions have a set of correct options.
	MultiChoice QuestionType = "MULTI_CHOICE"
	// FreeText questions are graded manually by a trainer.
	FreeText QuestionType = "FREE_TEXT"
)

// AssignmentStatus represents the lifecycle status of an assignment.
// Transitions are one-way: ASSIGNED → IN_PROGRESS → DONE.
type AssignmentStatus string

const (
	StatusAssigned   AssignmentStatus = "ASSIGNED"
	StatusInProgress AssignmentStatus = "IN_PROGRESS"
	StatusDone       AssignmentStatus = "DONE"
)

// Question is one question of an exercise template.
// Position is 1-based and defines ordering and navigation.
type Question struct {
	ID             string       `json:"id"`
	Position       int          `json:"position"`
	Type           QuestionType `json:"type"`
	Prompt         string       `json:"prompt"`
	MaxScore       float64      `json:"max_score"`
	Options        []string     `json:"options,omitempty"`
	CorrectAnswers []string     `json:"correct_answers,omitempty"`
	Guidelines     []string     `json:"guidelines,omitempty"`
}

// Validate checks the structural invariants of a question.
func (q Question) Validate() error {
	switch q.Type {
	case SingleChoice, MultiChoice, FreeText:
	default:
		return fmt.Errorf("question %s: unknown type %q", q.ID, q.Type)
	}
	if q.MaxScore < 0 {
		return fmt.Errorf("question %s: negative max score %g", q.ID, q.MaxScore)
	}
	if q.Type == FreeText {
		if len(q.CorrectAnswers) > 0 {
			return fmt.Errorf("question %s: free-text questions carry no correct answers", q.ID)
		}
		return nil
	}
	if len(q.Options) == 0 {
		return fmt.Errorf("question %s: choice question without options", q.ID)
	}
	opts := make(map[string]struct{}, len(q.Options))
	for _, o := range q.Options {
		opts[o] = struct{}{}
	}
	for _, c := range q.CorrectAnswers {
		if _, ok := opts[c]; !ok {
			return fmt.Errorf("question %s: correct answer %q is not an option", q.ID, c)
		}
	}
	return nil
}

// Exercise is an immutable exam template. Read-only once assigned.
type Exercise struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Type              string     `json:"type"`
	Difficulty        int        `json:"difficulty"`
	EstimatedDuration int        `json:"estimated_duration"`
	Questions         []Question `json:"questions"`
}

// Validate checks every question and the 1..n position sequence.
func (e Exercise) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("exercise without id")
	}
	for i, q := range e.Questions {
		if err := q.Validate(); err != nil {
			return err
		}
		if q.Position != i+1 {
			return fmt.Errorf("question %s: position %d, want %d", q.ID, q.Position, i+1)
		}
	}
	return nil
}

// QuestionByID returns the question with the given id, or false.
func (e Exercise) QuestionByID(id string) (Question, bool) {
	for _, q := range e.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Assignment links a trainee to an exercise.
type Assignment struct {
	ID         string           `json:"id"`
	ExerciseID string           `json:"exercise_id"`
	TraineeID  string           `json:"trainee_id"`
	DueAt      *time.Time       `json:"due_at,omitempty"`
	Status     AssignmentStatus `json:"status"`
}

// AnswerRecord is one graded answer inside a submission.
// TrainerScore and TrainerComment are set during reconciliation.
type AnswerRecord struct {
	ID             string   `json:"id"`
	QuestionID     string   `json:"question_id"`
	Position       int      `json:"position"`
	Answer         Answer   `json:"answer"`
	AutoScore      float64  `json:"auto_score"`
	TrainerScore   *float64 `json:"trainer_score,omitempty"`
	TrainerComment string   `json:"trainer_comment,omitempty"`
}

// Submission is the trainee's finalized answer set for one assignment.
// AutoScore is computed once at submit time and never recomputed;
// once FinalScore is set the submission is corrected for good.
type Submission struct {
	ID              string         `json:"id"`
	AssignmentID    string         `json:"assignment_id"`
	SubmittedAt     time.Time      `json:"submitted_at"`
	MaxScore        float64        `json:"max_score"`
	AutoScore       float64        `json:"auto_score"`
	FinalScore      *float64       `json:"final_score,omitempty"`
	TrainerFeedback string         `json:"trainer_feedback,omitempty"`
	Answers         []AnswerRecord `json:"answers"`
}

// Corrected reports whether a trainer has already reviewed the submission.
func (s Submission) Corrected() bool {
	return s.FinalScore != nil
}

// Session is the client-side draft of an exam in progress. It is owned by
// exactly one trainee client per assignment and is destroyed on submit,
// expiry, or explicit abandonment.
type Session struct {
	ExerciseID           string            `json:"exercise_id"`
	AssignmentID         string            `json:"assignment_id"`
	WriterID             string            `json:"writer_id"`
	StartedAt            time.Time         `json:"started_at"`
	CurrentQuestionIndex int               `json:"current_question_index"`
	Answers              map[string]Answer `json:"answers"`
	IsStarted            bool              `json:"is_started"`
}

// Age returns how long the session has existed at the given instant.
func (s Session) Age(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}
