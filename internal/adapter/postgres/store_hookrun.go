package postgres

import (
	"context"
	"fmt"
)

// Hook runs record each spawned handler invocation so operators can see
// what background work an event triggered and how it ended.

func (s *Store) CreateHookRun(ctx context.Context, id, handler, eventKind string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO hook_runs (id, handler, event_kind, status) VALUES ($1, $2, $3, 'running')`,
		id, handler, eventKind)
	if err != nil {
		return fmt.Errorf("create hook run %s: %w", id, err)
	}
	return nil
}

func (s *Store) CompleteHookRun(ctx context.Context, id, status, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE hook_runs SET status = $2, error = $3, completed_at = now() WHERE id = $1`,
		id, status, nullIfEmpty(errMsg))
	return execExpectOne(tag, err, "complete hook run %s", id)
}
