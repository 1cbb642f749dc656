package trace

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS traces (
	trace_id       TEXT PRIMARY KEY,
	timestamp      TEXT NOT NULL,
	prompt         TEXT NOT NULL,
	intent         TEXT NOT NULL,
	model_used     TEXT NOT NULL,
	tool_executed  TEXT,
	rag_used       INTEGER NOT NULL,
	success        INTEGER NOT NULL,
	duration_ms    INTEGER NOT NULL,
	reward         REAL,
	correlation_id TEXT,
	degraded       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_traces_intent ON traces(intent);
CREATE INDEX IF NOT EXISTS idx_traces_model ON traces(model_used);
`

// timestampLayout keeps a fixed width so text order matches time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Index is a sqlite mirror of the ledger for filtered queries. The JSONL
// file stays the source of truth; Rebuild replaces the mirror wholesale.
type Index struct {
	db *sql.DB
}

// OpenIndex opens or creates the index database.
func OpenIndex(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the database.
func (x *Index) Close() error {
	return x.db.Close()
}

// Rebuild replaces the indexed rows with records.
func (x *Index) Rebuild(records []Record) error {
	tx, err := x.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM traces"); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO traces
		(trace_id, timestamp, prompt, intent, model_used, tool_executed,
		 rag_used, success, duration_ms, reward, correlation_id, degraded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		var reward sql.NullFloat64
		if r.Reward != nil {
			reward = sql.NullFloat64{Float64: *r.Reward, Valid: true}
		}
		var tool sql.NullString
		if r.ToolExecuted != nil {
			tool = sql.NullString{String: *r.ToolExecuted, Valid: true}
		}
		if _, err := stmt.Exec(
			r.TraceID, r.Timestamp.UTC().Format(timestampLayout), r.Prompt, r.Intent, r.ModelUsed, tool,
			r.RAGUsed, r.Success, r.DurationMs, reward, r.CorrelationID, r.Degraded,
		); err != nil {
			return fmt.Errorf("index %s: %w", r.TraceID, err)
		}
	}
	return tx.Commit()
}

// Query returns indexed records matching f, most recent first.
func (x *Index) Query(f Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if f.Success != nil {
		where = append(where, "success = ?")
		args = append(args, *f.Success)
	}
	if f.MinReward != nil {
		where = append(where, "reward IS NOT NULL AND reward >= ?")
		args = append(args, *f.MinReward)
	}
	if f.Intent != "" {
		where = append(where, "intent = ? COLLATE NOCASE")
		args = append(args, f.Intent)
	}
	if f.Model != "" {
		where = append(where, "model_used = ?")
		args = append(args, f.Model)
	}
	if f.Tool != "" {
		where = append(where, "tool_executed = ?")
		args = append(args, f.Tool)
	}

	q := `SELECT trace_id, timestamp, prompt, intent, model_used, tool_executed,
		rag_used, success, duration_ms, reward, correlation_id, degraded FROM traces`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY timestamp DESC, rowid DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := x.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r           Record
			ts          string
			tool        sql.NullString
			reward      sql.NullFloat64
			correlation sql.NullString
		)
		if err := rows.Scan(&r.TraceID, &ts, &r.Prompt, &r.Intent, &r.ModelUsed, &tool,
			&r.RAGUsed, &r.Success, &r.DurationMs, &reward, &correlation, &r.Degraded); err != nil {
			return nil, err
		}
		r.Timestamp, _ = time.Parse(timestampLayout, ts)
		if tool.Valid {
			r.SetTool(tool.String)
		}
		if reward.Valid {
			r.SetReward(reward.Float64)
		}
		r.CorrelationID = correlation.String
		r.ConditionsEvaluated = []string{}
		out = append(out, r)
	}
	return out, rows.Err()
}
