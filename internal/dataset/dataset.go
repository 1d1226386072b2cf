// Package dataset reads stored spreadsheet files and converts them between
// tabular formats. It backs the preview, schema and export endpoints: csv and
// parquet objects are staged to a temp directory and queried through an
// in-memory DuckDB, xlsx objects are decoded with excelize.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sheetflow/sheetflow/internal/assist"
	"github.com/sheetflow/sheetflow/internal/storage"
)

var ErrUnsupportedFormat = errors.New("unsupported file format")

type Format string

const (
	FormatCSV     Format = "csv"
	FormatXLSX    Format = "xlsx"
	FormatParquet Format = "parquet"
)

// DetectFormat resolves the tabular format of a stored file from its name,
// falling back to the recorded content type when the extension is unknown.
func DetectFormat(name, contentType string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".parquet":
		return FormatParquet, nil
	}

	switch normalizeContentType(contentType) {
	case "text/csv":
		return FormatCSV, nil
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return FormatXLSX, nil
	case "application/vnd.apache.parquet", "application/x-parquet":
		return FormatParquet, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

func normalizeContentType(contentType string) string {
	trimmed := strings.ToLower(strings.TrimSpace(contentType))
	if index := strings.Index(trimmed, ";"); index >= 0 {
		trimmed = strings.TrimSpace(trimmed[:index])
	}
	return trimmed
}

// Table is one rectangular slice of a sheet. Rows are normalized to the
// column count: short rows are padded with nils, extra cells are dropped.
type Table struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated"`
}

type Config struct {
	PreviewRows    int
	PreviewMaxRows int
	ExportMaxRows  int
}

type Service struct {
	store storage.ObjectStore
	cfg   Config
}

func NewService(store storage.ObjectStore, cfg Config) *Service {
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = 50
	}
	if cfg.PreviewMaxRows <= 0 {
		cfg.PreviewMaxRows = 500
	}
	if cfg.ExportMaxRows <= 0 {
		cfg.ExportMaxRows = 100_000
	}
	return &Service{store: store, cfg: cfg}
}

// Preview returns up to limit data rows of the stored object. A limit of zero
// or less selects the configured default; limits above the configured maximum
// are clamped. Truncated reports whether more rows exist beyond the slice.
func (s *Service) Preview(ctx context.Context, key string, format Format, limit int) (Table, error) {
	if limit <= 0 {
		limit = s.cfg.PreviewRows
	}
	if limit > s.cfg.PreviewMaxRows {
		limit = s.cfg.PreviewMaxRows
	}

	table, err := s.read(ctx, key, format, limit+1)
	if err != nil {
		return Table{}, err
	}
	if len(table.Rows) > limit {
		table.Rows = table.Rows[:limit]
		table.Truncated = true
	}
	return table, nil
}

// SheetSchema reads the header row plus the first data row and reduces them
// to the privacy-safe schema shape used by the formula assistant. Files with
// no data rows produce a schema where every column is tagged as a string.
func (s *Service) SheetSchema(ctx context.Context, key string, format Format) (assist.Schema, error) {
	table, err := s.read(ctx, key, format, 1)
	if err != nil {
		return assist.Schema{}, err
	}

	var firstRow []any
	if len(table.Rows) > 0 {
		firstRow = table.Rows[0]
	}
	return assist.ExtractSchema(table.Columns, firstRow), nil
}

type ExportResult struct {
	Data        []byte
	ContentType string
	FileName    string
	Rows        int
	Truncated   bool
}

// Export reads the stored object in its source format and re-encodes it in
// the target format. Reads are capped at the configured export row limit.
func (s *Service) Export(ctx context.Context, key string, source, target Format, baseName string) (ExportResult, error) {
	table, err := s.read(ctx, key, source, s.cfg.ExportMaxRows+1)
	if err != nil {
		return ExportResult{}, err
	}
	truncated := false
	if len(table.Rows) > s.cfg.ExportMaxRows {
		table.Rows = table.Rows[:s.cfg.ExportMaxRows]
		truncated = true
	}

	var data []byte
	var contentType string
	switch target {
	case FormatCSV:
		data, err = encodeCSV(table)
		contentType = "text/csv"
	case FormatXLSX:
		data, err = encodeXLSX(table)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatParquet:
		data, err = encodeParquet(table)
		contentType = "application/vnd.apache.parquet"
	default:
		return ExportResult{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(target))
	}
	if err != nil {
		return ExportResult{}, err
	}

	return ExportResult{
		Data:        data,
		ContentType: contentType,
		FileName:    exportFileName(baseName, target),
		Rows:        len(table.Rows),
		Truncated:   truncated,
	}, nil
}

func (s *Service) read(ctx context.Context, key string, format Format, maxRows int) (Table, error) {
	if s.store == nil {
		return Table{}, fmt.Errorf("object store is required")
	}

	switch format {
	case FormatCSV, FormatParquet:
		return s.readDuckDB(ctx, key, format, maxRows)
	case FormatXLSX:
		return s.readXLSX(ctx, key, maxRows)
	default:
		return Table{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(format))
	}
}

func exportFileName(baseName string, target Format) string {
	base := strings.TrimSpace(baseName)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" {
		base = "export"
	}
	return base + "." + string(target)
}

func normalizeRow(row []any, width int) []any {
	if len(row) == width {
		return row
	}
	normalized := make([]any, width)
	copy(normalized, row)
	return normalized
}
