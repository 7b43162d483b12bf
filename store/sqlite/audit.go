package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/JorgeZavalaO/torno-app-sub000/tooling"
)

// =============================================================================
// AUDIT RUNS (tooling.AuditRunStore interface)
// =============================================================================

// SaveAuditRun inserts or updates an audit run.
func (s *Store) SaveAuditRun(ctx context.Context, r tooling.AuditRun) error {
	findingsJSON, err := json.Marshal(r.Findings)
	if err != nil {
		return fmt.Errorf("failed to encode findings: %w", err)
	}

	query := `
		INSERT INTO audit_runs (id, status, tools_checked, findings_json, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			tools_checked = excluded.tools_checked,
			findings_json = excluded.findings_json,
			error = excluded.error,
			completed_at = excluded.completed_at
	`
	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.Status, r.ToolsChecked, string(findingsJSON), nullString(r.Error),
		formatTime(r.StartedAt), nullTime(r.CompletedAt),
	)
	return err
}

// ListAuditRuns returns the latest runs first. limit <= 0 means all.
func (s *Store) ListAuditRuns(ctx context.Context, limit int) ([]tooling.AuditRun, error) {
	query := `
		SELECT id, status, tools_checked, findings_json, error, started_at, completed_at
		FROM audit_runs
		ORDER BY started_at DESC
	`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []tooling.AuditRun
	for rows.Next() {
		var (
			r                     tooling.AuditRun
			findingsJSON, errText sql.NullString
			startedAt             string
			completedAt           sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Status, &r.ToolsChecked, &findingsJSON, &errText, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		r.Error = errText.String
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if r.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, err
		}
		if findingsJSON.Valid && findingsJSON.String != "" {
			if err := json.Unmarshal([]byte(findingsJSON.String), &r.Findings); err != nil {
				return nil, fmt.Errorf("corrupt findings for run %s: %w", r.ID, err)
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
