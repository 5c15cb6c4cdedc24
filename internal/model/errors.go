package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSessionExpired signals that the draft session is gone (expired or
// cleared) and the trainee must restart from the assignment's server status.
var ErrSessionExpired = errors.New("session expired")

// ShapeMismatchError reports a draft value that does not match the owning
// question's type. This is a client programming defect: it is logged and
// must never surface to the trainee.
type ShapeMismatchError struct {
	QuestionID   string
	QuestionType QuestionType
	Got          string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("answer shape mismatch on question %s: type %s cannot hold %s", e.QuestionID, e.QuestionType, e.Got)
}

// ValidationError blocks an action (submit or review save) and names the
// offending 1-based question positions.
type ValidationError struct {
	Reason    string
	Positions []int
}

func (e *ValidationError) Error() string {
	if len(e.Positions) == 0 {
		return e.Reason
	}
	pos := make([]string, len(e.Positions))
	for i, p := range e.Positions {
		pos[i] = strconv.Itoa(p)
	}
	return fmt.Sprintf("%s: questions %s", e.Reason, strings.Join(pos, ", "))
}

// PortalError wraps a failed portal call. The operation is retryable and no
// local state change is committed when one occurs.
type PortalError struct {
	Op  string
	Err error
}

func (e *PortalError) Error() string {
	return fmt.Sprintf("portal %s: %v", e.Op, e.Err)
}

func (e *PortalError) Unwrap() error {
	return e.Err
}
