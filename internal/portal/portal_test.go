package portal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formedic/examproctor/internal/model"
)

func TestGetExerciseDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/exercises/ex-1", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": model.Exercise{
				ID:    "ex-1",
				Title: "Dossier patient",
				Questions: []model.Question{
					{ID: "q1", Position: 1, Type: model.SingleChoice,
						Options: []string{"A"}, CorrectAnswers: []string{"A"}, MaxScore: 1},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok")
	ex, err := c.GetExerciseDetail(context.Background(), "ex-1")
	require.NoError(t, err)
	assert.Equal(t, "ex-1", ex.ID)
	require.Len(t, ex.Questions, 1)
	assert.Equal(t, model.SingleChoice, ex.Questions[0].Type)
}

func TestSubmitAssignmentSendsAnswers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/assignments/as-1/submit", r.URL.Path)

		var body struct {
			Answers []SubmittedAnswer `json:"answers"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Answers, 1)
		assert.Equal(t, "q1", body.Answers[0].QuestionID)
		assert.Equal(t, "A", body.Answers[0].Answer.Selected)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": model.Submission{ID: "sub-1", AssignmentID: "as-1", AutoScore: 1, MaxScore: 1},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	sub, err := c.SubmitAssignment(context.Background(), "as-1", []SubmittedAnswer{
		{QuestionID: "q1", Answer: model.Answer{Type: model.SingleChoice, Selected: "A"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sub.ID)
	assert.Equal(t, 1.0, sub.AutoScore)
}

func TestAPIErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "assignment already submitted"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	err := c.StartAssignment(context.Background(), "as-1")
	require.Error(t, err)

	var perr *model.PortalError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "startAssignment", perr.Op)
	assert.Contains(t, perr.Error(), "already submitted")
}

func TestHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.GetExerciseDetail(context.Background(), "ex-1")
	require.Error(t, err)

	var perr *model.PortalError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, perr.Error(), "502")
}

func TestReviewSubmissionPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/submissions/sub-1/review", r.URL.Path)

		var req ReviewRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 2.5, req.FinalScore)
		require.Len(t, req.Answers, 1)
		require.NotNil(t, req.Answers[0].AutoScore)
		assert.Equal(t, 1.5, *req.Answers[0].AutoScore)

		final := req.FinalScore
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": model.Submission{ID: "sub-1", FinalScore: &final},
		})
	}))
	defer srv.Close()

	score := 1.5
	c := NewHTTPClient(srv.URL, "")
	sub, err := c.ReviewSubmission(context.Background(), "sub-1", ReviewRequest{
		FinalScore: 2.5,
		Answers:    []ReviewAnswer{{AnswerID: "a2", TrainerComment: "partial", AutoScore: &score}},
	})
	require.NoError(t, err)
	require.NotNil(t, sub.FinalScore)
	assert.Equal(t, 2.5, *sub.FinalScore)
}
