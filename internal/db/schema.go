package db

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrTableNotExportable is returned for tables outside the export allow-list.
var ErrTableNotExportable = errors.New("table is not exportable")

// ExportableTables may be dumped with ExportTable.
var ExportableTables = []string{
	"dao", "proposals", "votes",
	"dao_stats", "dao_percentile", "proposal_stats",
	"cluster_data", "parameters",
}

// ColumnInfo describes one column of a public table.
type ColumnInfo struct {
	Table          string `json:"table"`
	Column         string `json:"column"`
	DataType       string `json:"dataType"`
	Nullable       bool   `json:"nullable"`
	ConstraintType string `json:"constraintType,omitempty"`
}

// DescribeSchema lists every column of the public schema with the type of
// constraint it participates in.
func (s *PostgresStore) DescribeSchema(ctx context.Context) ([]ColumnInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.table_name, c.column_name, c.data_type, c.is_nullable = 'YES', COALESCE(tc.constraint_type, '')
		FROM information_schema.columns c
		LEFT JOIN information_schema.constraint_column_usage ccu
			ON c.table_name = ccu.table_name AND c.column_name = ccu.column_name
		LEFT JOIN information_schema.table_constraints tc
			ON ccu.constraint_name = tc.constraint_name
		WHERE c.table_schema = 'public'
		ORDER BY c.table_name, c.ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("describe schema: %w", err)
	}
	defer rows.Close()

	out := make([]ColumnInfo, 0)
	for rows.Next() {
		var ci ColumnInfo
		if err := rows.Scan(&ci.Table, &ci.Column, &ci.DataType, &ci.Nullable, &ci.ConstraintType); err != nil {
			return nil, err
		}
		out = append(out, ci)
	}
	return out, rows.Err()
}

// ExportTable writes every row of an allow-listed table to w as CSV, header
// first.
func (s *PostgresStore) ExportTable(ctx context.Context, table string, w *csv.Writer) (int, error) {
	if !slices.Contains(ExportableTables, table) {
		return 0, fmt.Errorf("%w: %q", ErrTableNotExportable, table)
	}

	rows, err := s.pool.Query(ctx, "SELECT * FROM "+pgx.Identifier{table}.Sanitize())
	if err != nil {
		return 0, fmt.Errorf("export %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = f.Name
	}
	if err := w.Write(header); err != nil {
		return 0, err
	}

	n := 0
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return n, err
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = cellText(v)
		}
		if err := w.Write(cells); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	w.Flush()
	return n, w.Error()
}

func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case [16]byte:
		return uuid.UUID(t).String()
	case time.Time:
		return t.Format(time.RFC3339)
	case map[string]any, []any:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	default:
		return fmt.Sprint(t)
	}
}
