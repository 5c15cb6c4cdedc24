// Package handler exposes the exam subsystem as a JSON API for the trainee
// and trainer clients. Responses use an {ok, result, error} envelope; error
// messages are localized, portal and storage details never leak through.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/formedic/examproctor/internal/draft"
	"github.com/formedic/examproctor/internal/exam"
	"github.com/formedic/examproctor/internal/i18n"
	"github.com/formedic/examproctor/internal/llm"
	"github.com/formedic/examproctor/internal/model"
	"github.com/formedic/examproctor/internal/portal"
	"github.com/formedic/examproctor/internal/review"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	registry *exam.Registry
	drafts   *draft.Store
	portal   portal.Client
	llm      *llm.Client
}

// New creates a new Handler. The LLM client may be nil; the suggestion
// endpoint then reports itself unavailable.
func New(reg *exam.Registry, d *draft.Store, p portal.Client, l *llm.Client) *Handler {
	return &Handler{registry: reg, drafts: d, portal: p, llm: l}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/assignments/{assignmentID}", func(r chi.Router) {
		r.Get("/session", h.handleGetSession)
		r.Post("/start", h.handleStart)
		r.Put("/answers/{questionID}", h.handleSaveAnswer)
		r.Post("/goto", h.handleGoTo)
		r.Post("/submit", h.handleSubmit)
		r.Get("/guard", h.handleGuard)
	})
	r.Route("/submissions/{submissionID}", func(r chi.Router) {
		r.Post("/review", h.handleReview)
		r.Post("/suggest", h.handleSuggest)
	})
	r.Get("/receipts", h.handleListReceipts)
}

// sessionView is the session payload shared by most trainee responses.
type sessionView struct {
	State            exam.State     `json:"state"`
	Session          *model.Session `json:"session,omitempty"`
	MissingPositions []int          `json:"missing_positions,omitempty"`
}

func viewOf(c *exam.Controller) sessionView {
	v := sessionView{State: c.State(), Session: c.Session()}
	if v.State == exam.StateInProgress {
		v.MissingPositions = c.MissingPositions()
	}
	return v
}

// controllerFor resolves the controller for an assignment. The exercise id
// comes from the query on the first touch; later calls find the cached one.
func (h *Handler) controllerFor(r *http.Request) (*exam.Controller, error) {
	assignmentID := chi.URLParam(r, "assignmentID")
	if c, ok := h.registry.Lookup(assignmentID); ok {
		return c, nil
	}
	exerciseID := r.URL.Query().Get("exercise_id")
	if exerciseID == "" {
		return nil, errBadRequest
	}
	return h.registry.Controller(r.Context(), exerciseID, assignmentID)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	c, err := h.controllerFor(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, viewOf(c))
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	c, err := h.controllerFor(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if _, err := c.Start(r.Context()); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, viewOf(c))
}

func (h *Handler) handleSaveAnswer(w http.ResponseWriter, r *http.Request) {
	c, err := h.controllerFor(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var body struct {
		Value any `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, r, errBadRequest)
		return
	}

	if _, err := c.SaveAnswer(chi.URLParam(r, "questionID"), body.Value); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, viewOf(c))
}

func (h *Handler) handleGoTo(w http.ResponseWriter, r *http.Request) {
	c, err := h.controllerFor(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var body struct {
		Index int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, r, errBadRequest)
		return
	}

	if _, err := c.GoTo(body.Index); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, viewOf(c))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	c, err := h.controllerFor(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	sub, err := c.Submit(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{
		"submission": sub,
		"notice": i18n.Td(r.Context(), "notice.submitted", map[string]any{
			"AutoScore": sub.AutoScore,
			"MaxScore":  sub.MaxScore,
		}),
	})
}

// guardView bundles the navigation guard's verdicts so the UI can wire its
// unload and popstate hooks in one round trip.
type guardView struct {
	Engaged bool                `json:"engaged"`
	Unload  exam.UnloadDecision `json:"unload"`
	Back    exam.BackDecision   `json:"back"`
	Warning string              `json:"warning,omitempty"`
}

func (h *Handler) handleGuard(w http.ResponseWriter, r *http.Request) {
	c, err := h.controllerFor(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	g := exam.NewNavigationGuard(c)
	v := guardView{Engaged: g.Engaged(), Unload: g.OnUnload(), Back: g.OnBack()}
	if v.Engaged {
		v.Warning = i18n.T(r.Context(), "guard.leave_warning")
	}
	h.respond(w, http.StatusOK, v)
}

// reviewRequest is the trainer's correction input. The submission travels in
// the body: the trainer UI holds the authoritative copy it got from the
// portal, and this service keeps no submission state of its own.
type reviewRequest struct {
	ExerciseID string             `json:"exercise_id"`
	Submission model.Submission   `json:"submission"`
	Scores     map[string]float64 `json:"scores"`
	Comments   map[string]string  `json:"comments"`
	FinalScore *float64           `json:"final_score"`
	Feedback   string             `json:"feedback"`
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submissionID")

	var body reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ExerciseID == "" {
		h.respondError(w, r, errBadRequest)
		return
	}
	body.Submission.ID = submissionID

	ex, err := h.portal.GetExerciseDetail(r.Context(), body.ExerciseID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	rec, err := review.NewReconciliation(ex, body.Submission)
	if err != nil {
		h.respondError(w, r, errBadRequest)
		return
	}
	for answerID, score := range body.Scores {
		if err := rec.SetAnswerScore(answerID, score); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	for answerID, comment := range body.Comments {
		if err := rec.SetAnswerComment(answerID, comment); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	rec.SetFeedback(body.Feedback)
	if body.FinalScore != nil {
		if err := rec.SetFinalScore(*body.FinalScore); err != nil {
			h.respondError(w, r, err)
			return
		}
	}

	payload, err := rec.Payload()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	sub, err := h.portal.ReviewSubmission(r.Context(), submissionID, payload)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{
		"submission": sub,
		"notice": i18n.Td(r.Context(), "notice.review_saved", map[string]any{
			"FinalScore": payload.FinalScore,
		}),
	})
}

// suggestRequest asks for an advisory grade of one free-text answer.
type suggestRequest struct {
	ExerciseID string `json:"exercise_id"`
	QuestionID string `json:"question_id"`
	Text       string `json:"text"`
}

func (h *Handler) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if h.llm == nil {
		h.respondLocalized(w, r, http.StatusNotImplemented, "error.internal")
		return
	}

	var body suggestRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ExerciseID == "" || body.QuestionID == "" {
		h.respondError(w, r, errBadRequest)
		return
	}

	ex, err := h.portal.GetExerciseDetail(r.Context(), body.ExerciseID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	q, ok := ex.QuestionByID(body.QuestionID)
	if !ok {
		h.respondLocalized(w, r, http.StatusNotFound, "error.unknown_question")
		return
	}

	s, err := h.llm.SuggestScore(r.Context(), q, model.Answer{Type: model.FreeText, Text: body.Text})
	if err != nil {
		slog.Error("score suggestion failed", "question_id", q.ID, "error", err)
		h.respondLocalized(w, r, http.StatusBadGateway, "error.internal")
		return
	}
	h.respond(w, http.StatusOK, s)
}

func (h *Handler) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := h.drafts.ListReceipts()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, receipts)
}

// errBadRequest is the catch-all for malformed request bodies and missing
// parameters.
var errBadRequest = errors.New("bad request")

type envelope struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) respond(w http.ResponseWriter, status int, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{OK: true, Result: result}); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func (h *Handler) respondLocalized(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Error: i18n.T(r.Context(), msgID)}); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// respondError maps domain errors onto status codes and localized messages.
// Shape mismatches are client defects: logged upstream, reported as internal.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr  *model.ValidationError
		perr  *model.PortalError
		shape *model.ShapeMismatchError
	)
	switch {
	case errors.Is(err, errBadRequest):
		h.respondLocalized(w, r, http.StatusBadRequest, "error.invalid_request")
	case errors.As(err, &verr):
		msgID := "error.not_all_answered"
		if strings.Contains(verr.Reason, "free-text") {
			msgID = "error.review_incomplete"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		msg := i18n.Td(r.Context(), msgID, map[string]any{"Positions": joinPositions(verr.Positions)})
		if encErr := json.NewEncoder(w).Encode(struct {
			envelope
			Positions []int `json:"positions,omitempty"`
		}{envelope{Error: msg}, verr.Positions}); encErr != nil {
			slog.Error("encode response", "error", encErr)
		}
	case errors.Is(err, model.ErrSessionExpired):
		h.respondLocalized(w, r, http.StatusConflict, "error.session_expired")
	case errors.Is(err, exam.ErrSubmitInFlight):
		h.respondLocalized(w, r, http.StatusConflict, "error.submit_in_flight")
	case errors.Is(err, exam.ErrIllegalTransition):
		msgID := "error.already_submitted"
		if strings.Contains(err.Error(), string(exam.StateNotStarted)) {
			msgID = "error.session_not_started"
		}
		h.respondLocalized(w, r, http.StatusConflict, msgID)
	case errors.As(err, &perr):
		slog.Error("portal call failed", "op", perr.Op, "error", perr.Err)
		h.respondLocalized(w, r, http.StatusBadGateway, "error.portal_unavailable")
	case errors.As(err, &shape):
		h.respondLocalized(w, r, http.StatusInternalServerError, "error.internal")
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		h.respondLocalized(w, r, http.StatusInternalServerError, "error.internal")
	}
}

func joinPositions(positions []int) string {
	parts := make([]string, len(positions))
	for i, p := range positions {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ", ")
}
