// Package approval defines human-in-the-loop approval requests and
// their terminal statuses.
package approval

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/outerlook/vibe-kanban-sub002/internal/domain"
)

// RequestType discriminates the two kinds of decision an executing
// agent can ask for.
type RequestType string

const (
	TypeToolApproval RequestType = "tool_approval"
	TypeUserQuestion RequestType = "user_question"
)

// Status is the lifecycle state of an approval request. A request moves
// from Pending to exactly one terminal state, exactly once.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusAnswered Status = "answered"
	StatusTimedOut Status = "timed_out"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s != StatusPending && s != ""
}

// Question is one multiple-choice question posed to the user.
type Question struct {
	Prompt     string   `json:"prompt"`
	Options    []string `json:"options"`
	AllowOther bool     `json:"allow_other,omitempty"`
}

// Answer is the user's selection for one question.
type Answer struct {
	QuestionIndex   int    `json:"question_index"`
	SelectedIndices []int  `json:"selected_indices"`
	OtherText       string `json:"other_text,omitempty"`
}

// Request is a pending decision bound to one execution process.
type Request struct {
	ID                 string          `json:"id"`
	RequestType        RequestType     `json:"request_type"`
	ToolCallID         string          `json:"tool_call_id,omitempty"`
	ToolName           string          `json:"tool_name,omitempty"`
	ToolInput          json.RawMessage `json:"tool_input,omitempty"`
	Questions          []Question      `json:"questions,omitempty"`
	ExecutionProcessID string          `json:"execution_process_id"`
	Status             Status          `json:"status"`
	Reason             string          `json:"reason,omitempty"`
	Answers            []Answer        `json:"answers,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	TimeoutAt          time.Time       `json:"timeout_at"`
}

// Validate checks the request shape against its type.
func (r *Request) Validate() error {
	if r.ExecutionProcessID == "" {
		return fmt.Errorf("execution_process_id is required: %w", domain.ErrValidation)
	}
	switch r.RequestType {
	case TypeToolApproval:
		if r.ToolName == "" {
			return fmt.Errorf("tool_name is required for tool approvals: %w", domain.ErrValidation)
		}
	case TypeUserQuestion:
		if len(r.Questions) == 0 {
			return fmt.Errorf("at least one question is required: %w", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("unknown request_type %q: %w", r.RequestType, domain.ErrValidation)
	}
	return nil
}

// Response is the externally supplied decision for a request.
type Response struct {
	ExecutionProcessID string   `json:"execution_process_id"`
	Status             Status   `json:"status"`
	Reason             string   `json:"reason,omitempty"`
	Answers            []Answer `json:"answers,omitempty"`
}

// TerminalStatus computes the terminal status a response resolves to,
// validated against the request type.
func (r *Request) TerminalStatus(resp Response) (Status, error) {
	switch resp.Status {
	case StatusApproved, StatusDenied:
		if r.RequestType != TypeToolApproval {
			return "", fmt.Errorf("%s response for a %s request: %w", resp.Status, r.RequestType, domain.ErrValidation)
		}
		return resp.Status, nil
	case StatusAnswered:
		if r.RequestType != TypeUserQuestion {
			return "", fmt.Errorf("answered response for a %s request: %w", r.RequestType, domain.ErrValidation)
		}
		if len(resp.Answers) == 0 {
			return "", fmt.Errorf("answers are required: %w", domain.ErrValidation)
		}
		return StatusAnswered, nil
	default:
		return "", fmt.Errorf("invalid response status %q: %w", resp.Status, domain.ErrValidation)
	}
}
