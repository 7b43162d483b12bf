package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JorgeZavalaO/torno-app-sub000/tooling"
)

// =============================================================================
// AUDIT RUNS (tooling.AuditRunStore interface)
// =============================================================================

// SaveAuditRun inserts or updates an audit run. Findings are stored as JSONB.
func (s *Store) SaveAuditRun(ctx context.Context, r tooling.AuditRun) error {
	findings, err := json.Marshal(r.Findings)
	if err != nil {
		return fmt.Errorf("failed to encode findings: %w", err)
	}

	var errText *string
	if r.Error != "" {
		errText = &r.Error
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_runs (id, status, tools_checked, findings, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			tools_checked = EXCLUDED.tools_checked,
			findings = EXCLUDED.findings,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at`,
		r.ID, r.Status, r.ToolsChecked, string(findings), errText, r.StartedAt, r.CompletedAt,
	)
	if err != nil {
		return classify("save audit run", err)
	}
	return nil
}

// ListAuditRuns returns the latest runs first. limit <= 0 means all.
func (s *Store) ListAuditRuns(ctx context.Context, limit int) ([]tooling.AuditRun, error) {
	query := `
		SELECT id, status, tools_checked, findings::text, error, started_at, completed_at
		FROM audit_runs
		ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list audit runs", err)
	}
	defer rows.Close()

	var runs []tooling.AuditRun
	for rows.Next() {
		var (
			r                 tooling.AuditRun
			findings, errText *string
		)
		if err := rows.Scan(&r.ID, &r.Status, &r.ToolsChecked, &findings, &errText, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit run: %w", err)
		}
		if errText != nil {
			r.Error = *errText
		}
		if findings != nil {
			if err := json.Unmarshal([]byte(*findings), &r.Findings); err != nil {
				return nil, fmt.Errorf("corrupt findings for run %s: %w", r.ID, err)
			}
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list audit runs", err)
	}
	return runs, nil
}
