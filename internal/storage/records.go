package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/diagnostics"
	"github.com/KevinKickass/PanelBridge/internal/types"
	"github.com/jackc/pgx/v5"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS diagnostics_journal (
	id         UUID PRIMARY KEY,
	kind       TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	endpoint   TEXT NOT NULL DEFAULT '',
	panel      TEXT NOT NULL DEFAULT '',
	element    TEXT NOT NULL DEFAULT '',
	variable   TEXT NOT NULL DEFAULT '',
	from_state TEXT NOT NULL DEFAULT '',
	to_state   TEXT NOT NULL DEFAULT '',
	value      DOUBLE PRECISION,
	message    TEXT NOT NULL DEFAULT '',
	error      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS diagnostics_journal_kind_time ON diagnostics_journal (kind, recorded_at DESC);
`

var journalColumns = []string{
	"id", "kind", "recorded_at", "endpoint", "panel", "element", "variable",
	"from_state", "to_state", "value", "message", "error",
}

// EnsureSchema creates the journal table if it does not exist.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

// InsertRecords appends a batch of diagnostic records.
func (p *PostgresClient) InsertRecords(ctx context.Context, records []diagnostics.Record) error {
	rows := make([][]interface{}, len(records))
	for i, r := range records {
		rows[i] = []interface{}{
			r.ID, string(r.Kind), r.Time, r.Endpoint, string(r.Panel), string(r.Element), r.Variable,
			r.From, r.To, r.Value, r.Message, r.Error,
		}
	}

	_, err := p.pool.CopyFrom(ctx, pgx.Identifier{"diagnostics_journal"}, journalColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to insert %d records: %w", len(records), err)
	}
	return nil
}

// RecordFilter narrows a journal query. Zero fields match everything.
type RecordFilter struct {
	Kind     diagnostics.Kind
	Endpoint string
	Since    time.Time
	Limit    int
}

// ListRecords returns matching records, newest first.
func (p *PostgresClient) ListRecords(ctx context.Context, f RecordFilter) ([]diagnostics.Record, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, kind, recorded_at, endpoint, panel, element, variable,
		       from_state, to_state, value, message, error
		FROM diagnostics_journal
		WHERE ($1 = '' OR kind = $1)
		  AND ($2 = '' OR endpoint = $2)
		  AND recorded_at >= $3
		ORDER BY recorded_at DESC
		LIMIT $4
	`, string(f.Kind), f.Endpoint, f.Since, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var records []diagnostics.Record
	for rows.Next() {
		var (
			r              diagnostics.Record
			kind           string
			panel, element string
		)
		if err := rows.Scan(&r.ID, &kind, &r.Time, &r.Endpoint, &panel, &element, &r.Variable,
			&r.From, &r.To, &r.Value, &r.Message, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r.Kind = diagnostics.Kind(kind)
		r.Panel = types.PanelID(panel)
		r.Element = types.ElementID(element)
		records = append(records, r)
	}

	return records, rows.Err()
}
