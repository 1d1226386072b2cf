package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/sheetflow/sheetflow/internal/observability"
)

// readDuckDB stages the object to a temp file and reads it through an
// in-memory DuckDB. read_csv_auto infers per-column types from the csv text,
// so numeric and date cells come back typed rather than as strings.
func (s *Service) readDuckDB(ctx context.Context, key string, format Format, maxRows int) (Table, error) {
	localPath, cleanup, err := stageObject(ctx, s.store, key, "sheet."+string(format))
	defer cleanup()
	if err != nil {
		return Table{}, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return Table{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	var source string
	switch format {
	case FormatCSV:
		source = fmt.Sprintf("read_csv_auto(%s, header=true)", sqlLiteral(localPath))
	case FormatParquet:
		source = fmt.Sprintf("read_parquet(%s)", sqlLiteral(localPath))
	default:
		return Table{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(format))
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", source, maxRows))
	if err != nil {
		return Table{}, fmt.Errorf("read %s file: %w", format, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Table{}, fmt.Errorf("read columns: %w", err)
	}
	collected, err := collectRows(rows, len(columns))
	if err != nil {
		return Table{}, err
	}

	observability.IncrementPreview("duckdb")
	return Table{Columns: columns, Rows: collected}, nil
}

// collectRows drains the result set into row slices. DuckDB hands text
// columns back as []byte, which callers expect as string.
func collectRows(rows *sql.Rows, width int) ([][]any, error) {
	out := make([][]any, 0)
	for rows.Next() {
		cells := make([]any, width)
		ptrs := make([]any, width)
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, cell := range cells {
			if raw, ok := cell.([]byte); ok {
				cells[i] = string(raw)
			}
		}
		out = append(out, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// sqlLiteral embeds a path in the query text since DuckDB table functions
// do not take bind parameters for file names.
func sqlLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
