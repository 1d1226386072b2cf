package dataset

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/sheetflow/sheetflow/internal/observability"
)

// readXLSX decodes the first worksheet of a stored workbook. excelize returns
// formatted cell text, so every value in the resulting table is a string and
// type inference happens downstream on the text.
func (s *Service) readXLSX(ctx context.Context, key string, maxRows int) (Table, error) {
	reader, err := s.store.Get(ctx, key)
	if err != nil {
		return Table{}, fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	workbook, err := excelize.OpenReader(reader)
	if err != nil {
		return Table{}, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = workbook.Close() }()

	sheet := workbook.GetSheetName(0)
	if sheet == "" {
		return Table{}, fmt.Errorf("workbook has no sheets")
	}

	rows, err := workbook.GetRows(sheet)
	if err != nil {
		return Table{}, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if err := ctx.Err(); err != nil {
		return Table{}, err
	}
	if len(rows) == 0 {
		return Table{Columns: []string{}, Rows: [][]any{}}, nil
	}

	columns := rows[0]
	dataRows := rows[1:]
	if len(dataRows) > maxRows {
		dataRows = dataRows[:maxRows]
	}

	resultRows := make([][]any, 0, len(dataRows))
	for _, cells := range dataRows {
		row := make([]any, len(cells))
		for i, cell := range cells {
			row[i] = cell
		}
		resultRows = append(resultRows, normalizeRow(row, len(columns)))
	}

	observability.IncrementPreview("excelize")
	return Table{Columns: columns, Rows: resultRows}, nil
}
