// Package exam orchestrates the trainee's exam session: starting, resuming,
// answering, navigating, submitting, and expiring drafts.
package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/formedic/examproctor/internal/draft"
	"github.com/formedic/examproctor/internal/model"
	"github.com/formedic/examproctor/internal/portal"
	"github.com/formedic/examproctor/internal/scoring"
)

// State is the observable state of an exam session.
type State string

const (
	StateNotStarted State = "NOT_STARTED"
	StateInProgress State = "IN_PROGRESS"
	StateSubmitted  State = "SUBMITTED"
)

// Event drives the state machine. Expiry is a side exit from IN_PROGRESS
// back to NOT_STARTED; SUBMITTED is terminal.
type Event string

const (
	EventStart    Event = "start"
	EventAnswer   Event = "answer"
	EventNavigate Event = "navigate"
	EventSubmit   Event = "submit"
	EventExpire   Event = "expire"
)

// ErrSubmitInFlight rejects a repeat submit while one is pending.
var ErrSubmitInFlight = errors.New("submit already in flight")

// ErrIllegalTransition marks an event arriving in a state that does not
// accept it, e.g. answering before start or submitting twice.
var ErrIllegalTransition = errors.New("not allowed in current state")

// next is the pure transition function. Every controller method consults it
// before performing effects, so legality lives in exactly one place.
func next(s State, ev Event) (State, error) {
	switch s {
	case StateNotStarted:
		if ev == EventStart {
			return StateInProgress, nil
		}
	case StateInProgress:
		switch ev {
		case EventAnswer, EventNavigate:
			return StateInProgress, nil
		case EventSubmit:
			return StateSubmitted, nil
		case EventExpire:
			return StateNotStarted, nil
		}
	case StateSubmitted:
		// Terminal.
	}
	return s, fmt.Errorf("event %s in state %s: %w", ev, s, ErrIllegalTransition)
}

// Controller owns one assignment's exam session. User actions and the expiry
// tick are the only writers; the draft store may still report the session
// absent at any point (expired or cleared), which the controller treats as
// "must restart".
type Controller struct {
	mu      sync.Mutex
	portal  portal.Client
	drafts  *draft.Store
	logger  *slog.Logger
	state   State
	session *model.Session

	assignmentID string
	exercise     model.Exercise

	submitting bool
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

// NewController fetches and validates the exercise, then resumes any existing
// draft for the assignment.
func NewController(ctx context.Context, p portal.Client, d *draft.Store, exerciseID, assignmentID string, opts ...ControllerOption) (*Controller, error) {
	if exerciseID == "" || assignmentID == "" {
		return nil, fmt.Errorf("exercise and assignment ids are required")
	}

	ex, err := p.GetExerciseDetail(ctx, exerciseID)
	if err != nil {
		return nil, err
	}
	if err := ex.Validate(); err != nil {
		return nil, fmt.Errorf("exercise %s: %w", exerciseID, err)
	}

	c := &Controller{
		portal:       p,
		drafts:       d,
		logger:       slog.Default(),
		state:        StateNotStarted,
		assignmentID: assignmentID,
		exercise:     ex,
	}
	for _, opt := range opts {
		opt(c)
	}

	sess, err := d.Load(assignmentID)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		c.session = sess
		c.state = StateInProgress
		c.logger.Info("resumed draft session",
			"assignment_id", assignmentID,
			"answers", len(sess.Answers),
			"question_index", sess.CurrentQuestionIndex)
	}
	return c, nil
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Exercise returns the exercise template the session runs against.
func (c *Controller) Exercise() model.Exercise {
	return c.exercise
}

// Session returns a copy of the current draft, or nil.
func (c *Controller) Session() *model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	copied := *c.session
	copied.Answers = make(map[string]model.Answer, len(c.session.Answers))
	for k, v := range c.session.Answers {
		copied.Answers[k] = v
	}
	return &copied
}

// Start flips the assignment server-side, then creates the draft. If the
// portal call fails no session is created and the error is surfaced.
func (c *Controller) Start(ctx context.Context) (*model.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := next(c.state, EventStart); err != nil {
		return nil, err
	}
	if err := c.portal.StartAssignment(ctx, c.assignmentID); err != nil {
		return nil, err
	}

	sess, err := c.drafts.Start(c.exercise.ID, c.assignmentID)
	if err != nil {
		return nil, err
	}
	c.session = sess
	c.state = StateInProgress
	c.logger.Info("exam session started", "assignment_id", c.assignmentID, "exercise_id", c.exercise.ID)
	return c.sessionLocked(), nil
}

// SaveAnswer canonicalizes the raw draft value and persists it. A shape
// mismatch is a client defect: it is logged and the answer is not stored.
func (c *Controller) SaveAnswer(questionID string, raw any) (*model.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireLive(EventAnswer); err != nil {
		return nil, err
	}
	q, ok := c.exercise.QuestionByID(questionID)
	if !ok {
		return nil, fmt.Errorf("unknown question %s", questionID)
	}

	answer, err := model.Canonicalize(q, raw)
	if err != nil {
		var shape *model.ShapeMismatchError
		if errors.As(err, &shape) {
			c.logger.Error("answer shape mismatch",
				"assignment_id", c.assignmentID,
				"question_id", questionID,
				"question_type", string(q.Type),
				"got", shape.Got)
		}
		return nil, err
	}

	sess, err := c.drafts.SaveAnswer(c.session, questionID, answer)
	if err != nil {
		return nil, err
	}
	c.session = sess
	return c.sessionLocked(), nil
}

// GoTo navigates to a question index, clamped to [0, questionCount-1].
func (c *Controller) GoTo(index int) (*model.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireLive(EventNavigate); err != nil {
		return nil, err
	}
	if index < 0 {
		index = 0
	}
	if max := len(c.exercise.Questions) - 1; index > max {
		index = max
	}

	sess, err := c.drafts.GoTo(c.session, index)
	if err != nil {
		return nil, err
	}
	c.session = sess
	return c.sessionLocked(), nil
}

// MissingPositions returns the 1-based positions of questions without a
// non-empty canonical answer. Empty means allAnswered.
func (c *Controller) MissingPositions() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.missingLocked()
}

func (c *Controller) missingLocked() []int {
	var missing []int
	for _, q := range c.exercise.Questions {
		a, ok := answerFor(c.session, q.ID)
		if !ok || a.IsEmpty() {
			missing = append(missing, q.Position)
		}
	}
	return missing
}

// Submit sends the full answer map to the portal and, once the server
// confirms, clears the draft and records a receipt. Validation happens
// before any network call; a failed submit leaves the draft intact for
// retry; a confirmation for a session that vanished or changed owner in the
// meantime is discarded.
func (c *Controller) Submit(ctx context.Context) (*model.Submission, error) {
	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return nil, ErrSubmitInFlight
	}
	if err := c.requireLive(EventSubmit); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if missing := c.missingLocked(); len(missing) > 0 {
		c.mu.Unlock()
		return nil, &model.ValidationError{Reason: "not all questions answered", Positions: missing}
	}

	answers := make([]portal.SubmittedAnswer, 0, len(c.exercise.Questions))
	for _, q := range c.exercise.Questions {
		a, _ := answerFor(c.session, q.ID)
		answers = append(answers, portal.SubmittedAnswer{QuestionID: q.ID, Answer: a})
	}
	writerID := c.session.WriterID
	startedAt := c.session.StartedAt
	answerMap := make(map[string]model.Answer, len(c.session.Answers))
	for k, v := range c.session.Answers {
		answerMap[k] = v
	}
	expected := scoring.Total(c.exercise, answerMap)
	c.submitting = true
	c.mu.Unlock()

	sub, err := c.portal.SubmitAssignment(ctx, c.assignmentID, answers)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitting = false
	if err != nil {
		// Draft stays intact; the trainee can retry.
		return nil, err
	}

	// Stale-response check: only apply the confirmation if the draft this
	// submit was built from is still the live one.
	current, loadErr := c.drafts.Load(c.assignmentID)
	if loadErr != nil {
		return nil, loadErr
	}
	if current == nil || current.WriterID != writerID {
		c.logger.Warn("discarding stale submit confirmation", "assignment_id", c.assignmentID)
		c.session = current
		if current == nil {
			c.state = StateNotStarted
		}
		return nil, model.ErrSessionExpired
	}

	if err := c.drafts.Clear(c.assignmentID); err != nil {
		return nil, err
	}
	if _, err := c.drafts.SaveReceipt(model.Receipt{
		AssignmentID:   c.assignmentID,
		ExerciseID:     c.exercise.ID,
		SubmissionID:   sub.ID,
		SubmittedAt:    sub.SubmittedAt,
		MaxScore:       sub.MaxScore,
		ServerAuto:     sub.AutoScore,
		ExpectedAuto:   expected,
		Answers:        answerMap,
		SessionStarted: startedAt,
	}); err != nil {
		c.logger.Error("failed to record submit receipt", "assignment_id", c.assignmentID, "error", err)
	}
	if expected != sub.AutoScore {
		c.logger.Warn("server auto score differs from local computation",
			"assignment_id", c.assignmentID, "server", sub.AutoScore, "local", expected)
	}

	c.session = nil
	c.state = StateSubmitted
	c.logger.Info("exam submitted",
		"assignment_id", c.assignmentID,
		"submission_id", sub.ID,
		"auto_score", sub.AutoScore,
		"max_score", sub.MaxScore)
	return &sub, nil
}

// Tick is the periodic expiry check. While IN_PROGRESS it asks the draft
// store for the session; the store's read-time expiry deletes overdue drafts,
// and an absent draft drops the controller back to NOT_STARTED.
func (c *Controller) Tick() (expired bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInProgress {
		return false, nil
	}
	sess, err := c.drafts.Load(c.assignmentID)
	if err != nil {
		return false, err
	}
	if sess == nil {
		c.session = nil
		c.state, _ = next(c.state, EventExpire)
		c.logger.Info("exam session expired", "assignment_id", c.assignmentID)
		return true, nil
	}
	c.session = sess
	return false, nil
}

// requireLive checks the event against the state machine and verifies the
// draft still exists, dropping to NOT_STARTED when it does not.
func (c *Controller) requireLive(ev Event) error {
	if _, err := next(c.state, ev); err != nil {
		return err
	}
	sess, err := c.drafts.Load(c.assignmentID)
	if err != nil {
		return err
	}
	if sess == nil {
		c.session = nil
		c.state, _ = next(c.state, EventExpire)
		return model.ErrSessionExpired
	}
	c.session = sess
	return nil
}

// sessionLocked copies the session; callers must hold the mutex.
func (c *Controller) sessionLocked() *model.Session {
	if c.session == nil {
		return nil
	}
	copied := *c.session
	copied.Answers = make(map[string]model.Answer, len(c.session.Answers))
	for k, v := range c.session.Answers {
		copied.Answers[k] = v
	}
	return &copied
}

func answerFor(sess *model.Session, questionID string) (model.Answer, bool) {
	if sess == nil {
		return model.Answer{}, false
	}
	a, ok := sess.Answers[questionID]
	return a, ok
}
