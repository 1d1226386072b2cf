package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"
)

func encodeCSV(table Table) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := csv.NewWriter(buf)

	if err := writer.Write(table.Columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(table.Columns))
	for _, row := range table.Rows {
		for i := range record {
			if i < len(row) {
				record[i] = formatCell(row[i])
			} else {
				record[i] = ""
			}
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeXLSX(table Table) ([]byte, error) {
	workbook := excelize.NewFile()
	defer func() { _ = workbook.Close() }()
	sheet := workbook.GetSheetName(0)

	for i, column := range table.Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, fmt.Errorf("map header cell: %w", err)
		}
		if err := workbook.SetCellValue(sheet, cell, column); err != nil {
			return nil, fmt.Errorf("write header cell %s: %w", cell, err)
		}
	}
	for rowIndex, row := range table.Rows {
		for colIndex, value := range row {
			if value == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(colIndex+1, rowIndex+2)
			if err != nil {
				return nil, fmt.Errorf("map cell: %w", err)
			}
			if err := workbook.SetCellValue(sheet, cell, value); err != nil {
				return nil, fmt.Errorf("write cell %s: %w", cell, err)
			}
		}
	}

	buf := bytes.NewBuffer(nil)
	if err := workbook.Write(buf); err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// encodeParquet writes the table with a schema built at runtime: one optional
// string column per header. Nil cells are left out of the record, which the
// writer stores as nulls.
func encodeParquet(table Table) ([]byte, error) {
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("cannot encode parquet without columns")
	}

	group := parquet.Group{}
	for _, column := range table.Columns {
		group[column] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("sheet", group)

	records := make([]map[string]any, 0, len(table.Rows))
	for _, row := range table.Rows {
		record := make(map[string]any, len(table.Columns))
		for i, column := range table.Columns {
			if i < len(row) && row[i] != nil {
				record[column] = formatCell(row[i])
			}
		}
		records = append(records, record)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[map[string]any](buf, schema)
	if _, err := writer.Write(records); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func formatCell(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	case int:
		return strconv.Itoa(typed)
	case int32:
		return strconv.FormatInt(int64(typed), 10)
	case int64:
		return strconv.FormatInt(typed, 10)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case time.Time:
		if typed.Hour() == 0 && typed.Minute() == 0 && typed.Second() == 0 && typed.Nanosecond() == 0 {
			return typed.Format("2006-01-02")
		}
		return typed.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", typed)
	}
}
