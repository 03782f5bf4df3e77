package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/outerlook/vibe-kanban-sub002/internal/domain"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/execution"
)

func scanQueueEntry(row scannable) (execution.QueueEntry, error) {
	var e execution.QueueEntry
	var sessionID, profileID *string
	var actionJSON []byte
	err := row.Scan(&e.ID, &e.WorkspaceID, &profileID, &sessionID, &actionJSON, &e.RunReason, &e.QueuedAt)
	if err != nil {
		return e, err
	}
	if profileID != nil {
		e.ExecutorProfileID = *profileID
	}
	if sessionID != nil {
		e.SessionID = *sessionID
	}
	if actionJSON != nil {
		var action execution.ExecutorAction
		if err := json.Unmarshal(actionJSON, &action); err != nil {
			return e, fmt.Errorf("unmarshal executor_action: %w", err)
		}
		e.ExecutorAction = &action
	}
	return e, nil
}

func (s *Store) CreateQueueEntry(ctx context.Context, e *execution.QueueEntry) error {
	var actionJSON []byte
	if e.ExecutorAction != nil {
		var err error
		actionJSON, err = json.Marshal(e.ExecutorAction)
		if err != nil {
			return fmt.Errorf("marshal executor_action: %w", err)
		}
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO execution_queue (workspace_id, executor_profile_id, session_id, executor_action, run_reason)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, queued_at`,
		e.WorkspaceID, nullIfEmpty(e.ExecutorProfileID), nullIfEmpty(e.SessionID), actionJSON, string(e.RunReason))
	if err := row.Scan(&e.ID, &e.QueuedAt); err != nil {
		if isUnique(err) {
			return fmt.Errorf("queue entry for workspace %s already exists: %w", e.WorkspaceID, domain.ErrConflict)
		}
		return fmt.Errorf("create queue entry: %w", err)
	}
	return nil
}

// PopNextQueueEntry removes and returns the oldest queue entry.
// SKIP LOCKED keeps concurrent pops from racing on the same row; each
// caller either gets a distinct entry or nothing.
func (s *Store) PopNextQueueEntry(ctx context.Context) (*execution.QueueEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pop queue entry: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT id, workspace_id, executor_profile_id, session_id, executor_action, run_reason, queued_at
		 FROM execution_queue
		 ORDER BY queued_at, id
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`)

	e, err := scanQueueEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("pop queue entry: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("pop queue entry: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM execution_queue WHERE id = $1`, e.ID); err != nil {
		return nil, fmt.Errorf("pop queue entry: delete %s: %w", e.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("pop queue entry: commit: %w", err)
	}
	return &e, nil
}

func (s *Store) GetQueueEntryByWorkspace(ctx context.Context, workspaceID string) (*execution.QueueEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, workspace_id, executor_profile_id, session_id, executor_action, run_reason, queued_at
		 FROM execution_queue WHERE workspace_id = $1`, workspaceID)

	e, err := scanQueueEntry(row)
	if err != nil {
		return nil, notFoundWrap(err, "get queue entry for workspace %s", workspaceID)
	}
	return &e, nil
}

func (s *Store) ListQueueEntries(ctx context.Context) ([]execution.QueueEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, workspace_id, executor_profile_id, session_id, executor_action, run_reason, queued_at
		 FROM execution_queue ORDER BY queued_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	defer rows.Close()

	var entries []execution.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) DeleteQueueEntryByWorkspace(ctx context.Context, workspaceID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM execution_queue WHERE workspace_id = $1`, workspaceID)
	return execExpectOne(tag, err, "delete queue entry for workspace %s", workspaceID)
}

func (s *Store) CountQueueEntries(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM execution_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queue entries: %w", err)
	}
	return n, nil
}
