// Package portal talks to the upstream training-portal API. The wire format
// is owned by the portal; this package only maps it onto the local model.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/formedic/examproctor/internal/model"
)

// Client is the set of portal operations the exam subsystem consumes.
type Client interface {
	// StartAssignment flips the assignment to IN_PROGRESS server-side. It
	// must succeed before a draft session is created.
	StartAssignment(ctx context.Context, assignmentID string) error
	// GetExerciseDetail fetches the exercise template with its questions.
	GetExerciseDetail(ctx context.Context, exerciseID string) (model.Exercise, error)
	// SubmitAssignment sends the full answer map and returns the
	// authoritative submission, including the server-computed auto score.
	SubmitAssignment(ctx context.Context, assignmentID string, answers []SubmittedAnswer) (model.Submission, error)
	// ReviewSubmission saves the trainer's correction and returns the
	// corrected submission.
	ReviewSubmission(ctx context.Context, submissionID string, review ReviewRequest) (model.Submission, error)
}

// SubmittedAnswer pairs a question with its canonical answer for submit.
type SubmittedAnswer struct {
	QuestionID string       `json:"questionId"`
	Answer     model.Answer `json:"answer"`
}

// ReviewAnswer is one per-answer correction entry. AutoScore carries the
// trainer's overridden score despite the name; the field name is inherited
// from the portal contract and cannot change here.
type ReviewAnswer struct {
	AnswerID       string   `json:"answerId"`
	TrainerComment string   `json:"trainerComment,omitempty"`
	AutoScore      *float64 `json:"autoScore,omitempty"`
}

// ReviewRequest is the reviewSubmission payload.
type ReviewRequest struct {
	FinalScore      float64        `json:"finalScore"`
	TrainerFeedback string         `json:"trainerFeedback,omitempty"`
	Answers         []ReviewAnswer `json:"answers,omitempty"`
}

const defaultTimeout = 15 * time.Second

// HTTPClient implements Client against the portal's REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a portal client for the given base URL and bearer
// token.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *HTTPClient) StartAssignment(ctx context.Context, assignmentID string) error {
	path := fmt.Sprintf("/assignments/%s/start", url.PathEscape(assignmentID))
	_, err := c.doRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return &model.PortalError{Op: "startAssignment", Err: err}
	}
	return nil
}

func (c *HTTPClient) GetExerciseDetail(ctx context.Context, exerciseID string) (model.Exercise, error) {
	path := fmt.Sprintf("/exercises/%s", url.PathEscape(exerciseID))
	raw, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return model.Exercise{}, &model.PortalError{Op: "getExerciseDetail", Err: err}
	}
	var ex model.Exercise
	if err := json.Unmarshal(raw, &ex); err != nil {
		return model.Exercise{}, &model.PortalError{Op: "getExerciseDetail", Err: fmt.Errorf("decode exercise: %w", err)}
	}
	return ex, nil
}

func (c *HTTPClient) SubmitAssignment(ctx context.Context, assignmentID string, answers []SubmittedAnswer) (model.Submission, error) {
	path := fmt.Sprintf("/assignments/%s/submit", url.PathEscape(assignmentID))
	body := map[string]any{"answers": answers}
	raw, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return model.Submission{}, &model.PortalError{Op: "submitAssignment", Err: err}
	}
	var sub model.Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return model.Submission{}, &model.PortalError{Op: "submitAssignment", Err: fmt.Errorf("decode submission: %w", err)}
	}
	return sub, nil
}

func (c *HTTPClient) ReviewSubmission(ctx context.Context, submissionID string, review ReviewRequest) (model.Submission, error) {
	path := fmt.Sprintf("/submissions/%s/review", url.PathEscape(submissionID))
	raw, err := c.doRequest(ctx, http.MethodPost, path, review)
	if err != nil {
		return model.Submission{}, &model.PortalError{Op: "reviewSubmission", Err: err}
	}
	var sub model.Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return model.Submission{}, &model.PortalError{Op: "reviewSubmission", Err: fmt.Errorf("decode submission: %w", err)}
	}
	return sub, nil
}

// doRequest performs one portal call and unwraps the response envelope.
func (c *HTTPClient) doRequest(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(data, 256))
	}

	var envelope struct {
		OK     bool            `json:"ok"`
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if !envelope.OK {
		return nil, fmt.Errorf("portal api error: %s", envelope.Error)
	}
	return envelope.Result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
