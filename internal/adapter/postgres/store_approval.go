package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/outerlook/vibe-kanban-sub002/internal/domain"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/approval"
)

func scanApproval(row scannable) (approval.Request, error) {
	var r approval.Request
	var toolCallID, toolName, reason *string
	var toolInput, questionsJSON, answersJSON []byte
	err := row.Scan(&r.ID, &r.RequestType, &toolCallID, &toolName, &toolInput,
		&questionsJSON, &r.ExecutionProcessID, &r.Status, &reason, &answersJSON,
		&r.CreatedAt, &r.TimeoutAt)
	if err != nil {
		return r, err
	}
	if toolCallID != nil {
		r.ToolCallID = *toolCallID
	}
	if toolName != nil {
		r.ToolName = *toolName
	}
	if reason != nil {
		r.Reason = *reason
	}
	r.ToolInput = toolInput
	if questionsJSON != nil {
		if err := json.Unmarshal(questionsJSON, &r.Questions); err != nil {
			return r, fmt.Errorf("unmarshal questions: %w", err)
		}
	}
	if answersJSON != nil {
		if err := json.Unmarshal(answersJSON, &r.Answers); err != nil {
			return r, fmt.Errorf("unmarshal answers: %w", err)
		}
	}
	return r, nil
}

const approvalColumns = `id, request_type, tool_call_id, tool_name, tool_input,
	questions, execution_process_id, status, reason, answers, created_at, timeout_at`

func (s *Store) CreateApproval(ctx context.Context, req *approval.Request) error {
	var questionsJSON []byte
	if len(req.Questions) > 0 {
		var err error
		questionsJSON, err = json.Marshal(req.Questions)
		if err != nil {
			return fmt.Errorf("marshal questions: %w", err)
		}
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO approval_requests (id, request_type, tool_call_id, tool_name, tool_input, questions, execution_process_id, status, timeout_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at`,
		req.ID, string(req.RequestType), nullIfEmpty(req.ToolCallID), nullIfEmpty(req.ToolName),
		[]byte(req.ToolInput), questionsJSON, req.ExecutionProcessID, string(approval.StatusPending), req.TimeoutAt)
	if err := row.Scan(&req.CreatedAt); err != nil {
		return fmt.Errorf("create approval %s: %w", req.ID, err)
	}
	req.Status = approval.StatusPending
	return nil
}

func (s *Store) GetApproval(ctx context.Context, id string) (*approval.Request, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests WHERE id = $1`, id)

	r, err := scanApproval(row)
	if err != nil {
		return nil, notFoundWrap(err, "get approval %s", id)
	}
	return &r, nil
}

// UpdateApprovalStatus records the terminal status. The status guard
// makes the transition set-once: a second resolution attempt affects
// zero rows and reports conflict.
func (s *Store) UpdateApprovalStatus(ctx context.Context, id string, status approval.Status, reason string, answers []approval.Answer) error {
	var answersJSON []byte
	if len(answers) > 0 {
		var err error
		answersJSON, err = json.Marshal(answers)
		if err != nil {
			return fmt.Errorf("marshal answers: %w", err)
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE approval_requests SET status = $2, reason = $3, answers = $4, resolved_at = $5
		 WHERE id = $1 AND status = 'pending'`,
		id, string(status), nullIfEmpty(reason), answersJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update approval %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM approval_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("update approval %s: %w", id, err)
		}
		if !exists {
			return fmt.Errorf("update approval %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("approval %s already resolved: %w", id, domain.ErrConflict)
	}
	return nil
}

func (s *Store) ListPendingApprovals(ctx context.Context) ([]approval.Request, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests WHERE status = 'pending' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer rows.Close()

	var requests []approval.Request
	for rows.Next() {
		r, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}
