package model

import "time"

// ReceiptExport is the top-level JSON structure for the export command.
type ReceiptExport struct {
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Receipts   []Receipt `json:"receipts"`
}

// Receipt is the local audit record kept after a confirmed submit. The draft
// session is destroyed on submit, so this is the only trace the client keeps.
type Receipt struct {
	ID             string            `json:"id"`
	AssignmentID   string            `json:"assignment_id"`
	ExerciseID     string            `json:"exercise_id"`
	SubmissionID   string            `json:"submission_id"`
	SubmittedAt    time.Time         `json:"submitted_at"`
	MaxScore       float64           `json:"max_score"`
	ServerAuto     float64           `json:"server_auto_score"`
	ExpectedAuto   float64           `json:"expected_auto_score"`
	Answers        map[string]Answer `json:"answers"`
	SessionStarted time.Time         `json:"session_started_at"`
}
