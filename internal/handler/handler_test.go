package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formedic/examproctor/internal/draft"
	"github.com/formedic/examproctor/internal/exam"
	"github.com/formedic/examproctor/internal/i18n"
	"github.com/formedic/examproctor/internal/model"
	"github.com/formedic/examproctor/internal/portal"
	"github.com/formedic/examproctor/internal/scoring"
)

type fakePortal struct {
	exercise   model.Exercise
	startErr   error
	submitErr  error
	reviewed   *portal.ReviewRequest
	reviewResp model.Submission
}

func (f *fakePortal) StartAssignment(ctx context.Context, assignmentID string) error {
	return f.startErr
}

func (f *fakePortal) GetExerciseDetail(ctx context.Context, exerciseID string) (model.Exercise, error) {
	if exerciseID != f.exercise.ID {
		return model.Exercise{}, &model.PortalError{Op: "getExerciseDetail", Err: fmt.Errorf("unknown exercise %s", exerciseID)}
	}
	return f.exercise, nil
}

func (f *fakePortal) SubmitAssignment(ctx context.Context, assignmentID string, answers []portal.SubmittedAnswer) (model.Submission, error) {
	if f.submitErr != nil {
		return model.Submission{}, f.submitErr
	}
	answerMap := make(map[string]model.Answer, len(answers))
	for _, sa := range answers {
		answerMap[sa.QuestionID] = sa.Answer
	}
	return model.Submission{
		ID:           uuid.NewString(),
		AssignmentID: assignmentID,
		SubmittedAt:  time.Now(),
		MaxScore:     scoring.MaxScore(f.exercise),
		AutoScore:    scoring.Total(f.exercise, answerMap),
	}, nil
}

func (f *fakePortal) ReviewSubmission(ctx context.Context, submissionID string, review portal.ReviewRequest) (model.Submission, error) {
	f.reviewed = &review
	return f.reviewResp, nil
}

func handlerExercise() model.Exercise {
	return model.Exercise{
		ID: "ex-1",
		Questions: []model.Question{
			{ID: "q1", Position: 1, Type: model.SingleChoice, Prompt: "Pick one",
				Options: []string{"A", "B"}, CorrectAnswers: []string{"A"}, MaxScore: 1},
			{ID: "q2", Position: 2, Type: model.FreeText, Prompt: "Explain", MaxScore: 2},
		},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *fakePortal, *draft.Store) {
	t.Helper()
	require.NoError(t, i18n.Init("en"))

	store, err := draft.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	p := &fakePortal{exercise: handlerExercise()}
	h := New(exam.NewRegistry(p, store), store, p, nil)

	r := chi.NewRouter()
	r.Use(i18n.Middleware("en"))
	h.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, p, store
}

type apiResponse struct {
	OK        bool            `json:"ok"`
	Result    json.RawMessage `json:"result"`
	Error     string          `json:"error"`
	Positions []int           `json:"positions"`
}

func doJSON(t *testing.T, method, url string, body any) (int, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	srv, _, _ := newTestServer(t)
	base := srv.URL + "/assignments/as-1"

	// Fresh assignment: not started.
	status, resp := doJSON(t, http.MethodGet, base+"/session?exercise_id=ex-1", nil)
	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.OK)
	var view struct {
		State   exam.State     `json:"state"`
		Session *model.Session `json:"session"`
		Missing []int          `json:"missing_positions"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &view))
	assert.Equal(t, exam.StateNotStarted, view.State)
	assert.Nil(t, view.Session)

	// Start.
	status, resp = doJSON(t, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusCreated, status)
	require.NoError(t, json.Unmarshal(resp.Result, &view))
	assert.Equal(t, exam.StateInProgress, view.State)
	require.NotNil(t, view.Session)
	assert.Equal(t, []int{1, 2}, view.Missing)

	// Answer both questions.
	status, _ = doJSON(t, http.MethodPut, base+"/answers/q1", map[string]any{"value": " A "})
	require.Equal(t, http.StatusOK, status)
	status, resp = doJSON(t, http.MethodPut, base+"/answers/q2", map[string]any{"value": "because"})
	require.Equal(t, http.StatusOK, status)
	// missing_positions is omitted when empty, and Unmarshal leaves absent
	// fields untouched; clear the value left over from the start response.
	view.Missing = nil
	require.NoError(t, json.Unmarshal(resp.Result, &view))
	assert.Empty(t, view.Missing)
	assert.Equal(t, "A", view.Session.Answers["q1"].Selected)

	// Navigate.
	status, resp = doJSON(t, http.MethodPost, base+"/goto", map[string]any{"index": 99})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(resp.Result, &view))
	assert.Equal(t, 1, view.Session.CurrentQuestionIndex)

	// Submit.
	status, resp = doJSON(t, http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusOK, status)
	var submitted struct {
		Submission model.Submission `json:"submission"`
		Notice     string           `json:"notice"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &submitted))
	assert.Equal(t, 1.0, submitted.Submission.AutoScore)
	assert.Contains(t, submitted.Notice, "submitted")

	// A second submit conflicts.
	status, resp = doJSON(t, http.MethodPost, base+"/submit", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.NotEmpty(t, resp.Error)
}

func TestSubmitIncompleteReturns422(t *testing.T) {
	srv, _, _ := newTestServer(t)
	base := srv.URL + "/assignments/as-1"

	_, _ = doJSON(t, http.MethodGet, base+"/session?exercise_id=ex-1", nil)
	status, _ := doJSON(t, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusCreated, status)

	status, resp := doJSON(t, http.MethodPost, base+"/submit", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, []int{1, 2}, resp.Positions)
	assert.Contains(t, resp.Error, "Missing: 1, 2")
}

func TestAnswerBeforeStartConflicts(t *testing.T) {
	srv, _, _ := newTestServer(t)
	base := srv.URL + "/assignments/as-1"

	_, _ = doJSON(t, http.MethodGet, base+"/session?exercise_id=ex-1", nil)
	status, resp := doJSON(t, http.MethodPut, base+"/answers/q1", map[string]any{"value": "A"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, resp.Error, "not been started")
}

func TestExpiredSessionConflicts(t *testing.T) {
	srv, _, store := newTestServer(t)
	base := srv.URL + "/assignments/as-1"

	_, _ = doJSON(t, http.MethodGet, base+"/session?exercise_id=ex-1", nil)
	status, _ := doJSON(t, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusCreated, status)

	// Draft vanishes server-side.
	require.NoError(t, store.Clear("as-1"))

	status, resp := doJSON(t, http.MethodPut, base+"/answers/q1", map[string]any{"value": "A"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, resp.Error, "expired")
}

func TestPortalFailureMapsTo502(t *testing.T) {
	srv, p, _ := newTestServer(t)
	base := srv.URL + "/assignments/as-1"

	_, _ = doJSON(t, http.MethodGet, base+"/session?exercise_id=ex-1", nil)
	p.startErr = &model.PortalError{Op: "startAssignment", Err: fmt.Errorf("down")}

	status, resp := doJSON(t, http.MethodPost, base+"/start", nil)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, resp.Error, "portal")
}

func TestGuardEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	base := srv.URL + "/assignments/as-1"

	_, _ = doJSON(t, http.MethodGet, base+"/session?exercise_id=ex-1", nil)
	status, resp := doJSON(t, http.MethodGet, base+"/guard", nil)
	require.Equal(t, http.StatusOK, status)
	var g guardView
	require.NoError(t, json.Unmarshal(resp.Result, &g))
	assert.False(t, g.Engaged)
	assert.True(t, g.Unload.Allow)

	_, _ = doJSON(t, http.MethodPost, base+"/start", nil)
	status, resp = doJSON(t, http.MethodGet, base+"/guard", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(resp.Result, &g))
	assert.True(t, g.Engaged)
	assert.True(t, g.Unload.Prompt)
	assert.True(t, g.Back.Repush)
	assert.NotEmpty(t, g.Warning)
}

func TestReviewEndpoint(t *testing.T) {
	srv, p, _ := newTestServer(t)

	final := 2.5
	p.reviewResp = model.Submission{ID: "sub-1", FinalScore: &final}
	sub := model.Submission{
		AssignmentID: "as-1",
		MaxScore:     3,
		AutoScore:    1,
		Answers: []model.AnswerRecord{
			{ID: "a1", QuestionID: "q1", Position: 1,
				Answer: model.Answer{Type: model.SingleChoice, Selected: "A"}, AutoScore: 1},
			{ID: "a2", QuestionID: "q2", Position: 2,
				Answer: model.Answer{Type: model.FreeText, Text: "because"}, AutoScore: 0},
		},
	}

	// Missing free-text grade: rejected before any portal write.
	status, resp := doJSON(t, http.MethodPost, srv.URL+"/submissions/sub-1/review", map[string]any{
		"exercise_id": "ex-1",
		"submission":  sub,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, []int{2}, resp.Positions)
	assert.Nil(t, p.reviewed)

	status, resp = doJSON(t, http.MethodPost, srv.URL+"/submissions/sub-1/review", map[string]any{
		"exercise_id": "ex-1",
		"submission":  sub,
		"scores":      map[string]float64{"a2": 1.5},
		"comments":    map[string]string{"a2": "solid reasoning"},
		"feedback":    "good work",
	})
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, p.reviewed)
	assert.Equal(t, 2.5, p.reviewed.FinalScore)
	assert.Equal(t, "good work", p.reviewed.TrainerFeedback)
	require.Len(t, p.reviewed.Answers, 1)
	assert.Equal(t, "a2", p.reviewed.Answers[0].AnswerID)

	var reviewed struct {
		Submission model.Submission `json:"submission"`
		Notice     string           `json:"notice"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &reviewed))
	assert.Contains(t, reviewed.Notice, "2.5")
}

func TestSuggestUnavailableWithoutLLM(t *testing.T) {
	srv, _, _ := newTestServer(t)
	status, _ := doJSON(t, http.MethodPost, srv.URL+"/submissions/sub-1/suggest", map[string]any{
		"exercise_id": "ex-1",
		"question_id": "q2",
		"text":        "because",
	})
	assert.Equal(t, http.StatusNotImplemented, status)
}

func TestReceiptsEndpoint(t *testing.T) {
	srv, _, store := newTestServer(t)

	_, err := store.SaveReceipt(model.Receipt{AssignmentID: "as-1", SubmissionID: "sub-1"})
	require.NoError(t, err)

	status, resp := doJSON(t, http.MethodGet, srv.URL+"/receipts", nil)
	require.Equal(t, http.StatusOK, status)
	var receipts []model.Receipt
	require.NoError(t, json.Unmarshal(resp.Result, &receipts))
	require.Len(t, receipts, 1)
	assert.Equal(t, "sub-1", receipts[0].SubmissionID)
}
