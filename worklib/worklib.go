// Package worklib implements a SQLite-backed library of saved workflows:
// name, description, search keywords, capabilities, and the raw IR,
// keyed by name for WorkflowDiscovery's Path A lookup and surfaced in
// summary form to the discovery/browsing prompts (spec §4.6 gestures at
// "saved workflows" throughout but leaves their storage unspecified;
// this supplies it).
//
// Grounded on petalflow's server/store_sqlite.go: same schema-on-open
// and WAL-mode discipline, reshaped from a workflow-run ledger
// (workflows + workflow_schedules) to a name-addressed library held in
// a single workflows table.
package worklib

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pflow-dev/pflow/ir"
	"github.com/pflow-dev/pflow/planner"
)

const schema = `
CREATE TABLE IF NOT EXISTS workflows (
	name TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	search_keywords TEXT NOT NULL DEFAULT '[]',
	capabilities TEXT NOT NULL DEFAULT '[]',
	ir_json BLOB NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`

// Library is a SQLite-backed saved-workflow store. It implements
// planner.WorkflowLibrary.
type Library struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite-backed library at dsn.
func Open(dsn string) (*Library, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("worklib: dsn is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("worklib: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("worklib: set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("worklib: create schema: %w", err)
	}
	return &Library{db: db}, nil
}

// Close closes the underlying database handle.
func (l *Library) Close() error { return l.db.Close() }

// Save inserts or replaces a saved workflow under name.
func (l *Library) Save(ctx context.Context, name string, wf *ir.Workflow, meta planner.Metadata) error {
	irJSON, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("worklib: marshal workflow: %w", err)
	}
	keywords, err := json.Marshal(meta.SearchKeywords)
	if err != nil {
		return fmt.Errorf("worklib: marshal keywords: %w", err)
	}
	capabilities, err := json.Marshal(meta.Capabilities)
	if err != nil {
		return fmt.Errorf("worklib: marshal capabilities: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = l.db.ExecContext(ctx, `
INSERT INTO workflows (name, description, search_keywords, capabilities, ir_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	description = excluded.description,
	search_keywords = excluded.search_keywords,
	capabilities = excluded.capabilities,
	ir_json = excluded.ir_json,
	updated_at = excluded.updated_at`,
		name, meta.Description, string(keywords), string(capabilities), irJSON, now, now)
	if err != nil {
		return fmt.Errorf("worklib: save %q: %w", name, err)
	}
	return nil
}

// Find loads a saved workflow by exact name. Implements
// planner.WorkflowLibrary.
func (l *Library) Find(ctx context.Context, name string) (*ir.Workflow, bool, error) {
	row := l.db.QueryRowContext(ctx, `SELECT ir_json FROM workflows WHERE name = ?`, name)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("worklib: find %q: %w", name, err)
	}
	var wf ir.Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, false, fmt.Errorf("worklib: decode %q: %w", name, err)
	}
	return &wf, true, nil
}

// BrowseContext lists every saved workflow's summary metadata, for the
// discovery and browsing prompts. Implements planner.WorkflowLibrary.
func (l *Library) BrowseContext(ctx context.Context) ([]planner.WorkflowSummary, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT name, description, search_keywords, capabilities FROM workflows ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("worklib: browse context: %w", err)
	}
	defer rows.Close()

	var out []planner.WorkflowSummary
	for rows.Next() {
		var name, description, keywordsJSON, capabilitiesJSON string
		if err := rows.Scan(&name, &description, &keywordsJSON, &capabilitiesJSON); err != nil {
			return nil, fmt.Errorf("worklib: scan row: %w", err)
		}
		var keywords, capabilities []string
		_ = json.Unmarshal([]byte(keywordsJSON), &keywords)
		_ = json.Unmarshal([]byte(capabilitiesJSON), &capabilities)
		out = append(out, planner.WorkflowSummary{
			Name:         name,
			Description:  description,
			Keywords:     keywords,
			Capabilities: capabilities,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("worklib: browse context rows: %w", err)
	}
	return out, nil
}
