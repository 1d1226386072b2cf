package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"

	"github.com/sheetflow/sheetflow/internal/assist"
	"github.com/sheetflow/sheetflow/internal/storage"
)

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name        string
		fileName    string
		contentType string
		want        Format
		wantErr     bool
	}{
		{name: "csv extension", fileName: "sales.csv", want: FormatCSV},
		{name: "xlsx extension", fileName: "Budget 2024.XLSX", want: FormatXLSX},
		{name: "parquet extension", fileName: "events.parquet", want: FormatParquet},
		{name: "extension wins over content type", fileName: "sales.csv", contentType: "application/octet-stream", want: FormatCSV},
		{name: "csv content type fallback", fileName: "upload", contentType: "text/csv; charset=utf-8", want: FormatCSV},
		{name: "xlsx content type fallback", fileName: "upload", contentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", want: FormatXLSX},
		{name: "parquet content type fallback", fileName: "upload", contentType: "application/x-parquet", want: FormatParquet},
		{name: "unknown", fileName: "notes.txt", contentType: "text/plain", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DetectFormat(tc.fileName, tc.contentType)
			if tc.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Fatalf("DetectFormat() error = %v, want ErrUnsupportedFormat", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DetectFormat() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("DetectFormat() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPreviewReadsCSVThroughDuckDB(t *testing.T) {
	store := newMemoryStore()
	store.objects["sheets/u1/f1/sales.csv"] = []byte("name,age,joined\nada,36,2021-03-01\ngrace,41,2020-07-15\n")
	service := NewService(store, Config{})

	table, err := service.Preview(context.Background(), "sheets/u1/f1/sales.csv", FormatCSV, 0)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if len(table.Columns) != 3 || table.Columns[0] != "name" {
		t.Fatalf("columns = %v", table.Columns)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("rows = %d", len(table.Rows))
	}
	if table.Rows[0][0] != "ada" {
		t.Fatalf("name cell = %#v", table.Rows[0][0])
	}
	if table.Rows[0][1] != int64(36) {
		t.Fatalf("age cell = %#v", table.Rows[0][1])
	}
	if _, ok := table.Rows[0][2].(time.Time); !ok {
		t.Fatalf("joined cell = %#v, want time.Time", table.Rows[0][2])
	}
	if table.Truncated {
		t.Fatalf("Truncated = true for full read")
	}
}

func TestPreviewClampsLimitAndReportsTruncation(t *testing.T) {
	var csvText strings.Builder
	csvText.WriteString("id\n")
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&csvText, "%d\n", i)
	}

	store := newMemoryStore()
	store.objects["big.csv"] = []byte(csvText.String())
	service := NewService(store, Config{PreviewRows: 2, PreviewMaxRows: 3})

	table, err := service.Preview(context.Background(), "big.csv", FormatCSV, 10)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if len(table.Rows) != 3 {
		t.Fatalf("rows = %d, want clamp to 3", len(table.Rows))
	}
	if !table.Truncated {
		t.Fatalf("Truncated = false, want true")
	}
}

func TestPreviewReadsParquet(t *testing.T) {
	store := newMemoryStore()
	store.objects["events.parquet"] = buildParquet(t, []parquetRow{{ID: 1, Value: "a"}, {ID: 2, Value: "b"}})
	service := NewService(store, Config{})

	table, err := service.Preview(context.Background(), "events.parquet", FormatParquet, 10)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if len(table.Columns) != 2 || table.Columns[0] != "id" {
		t.Fatalf("columns = %v", table.Columns)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("rows = %d", len(table.Rows))
	}
	if table.Rows[0][0] != int64(1) || table.Rows[1][1] != "b" {
		t.Fatalf("rows = %#v", table.Rows)
	}
}

func TestPreviewReadsXLSXFirstSheet(t *testing.T) {
	store := newMemoryStore()
	store.objects["book.xlsx"] = buildXLSX(t, [][]any{
		{"name", "score"},
		{"ada", 98},
		{"grace", 95},
		{"edsger"},
	})
	service := NewService(store, Config{})

	table, err := service.Preview(context.Background(), "book.xlsx", FormatXLSX, 2)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if len(table.Columns) != 2 || table.Columns[1] != "score" {
		t.Fatalf("columns = %v", table.Columns)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("rows = %d", len(table.Rows))
	}
	if table.Rows[0][0] != "ada" || table.Rows[0][1] != "98" {
		t.Fatalf("rows = %#v", table.Rows)
	}
	if !table.Truncated {
		t.Fatalf("Truncated = false, want true")
	}
}

func TestPreviewPadsShortXLSXRows(t *testing.T) {
	store := newMemoryStore()
	store.objects["book.xlsx"] = buildXLSX(t, [][]any{
		{"name", "score"},
		{"edsger"},
	})
	service := NewService(store, Config{})

	table, err := service.Preview(context.Background(), "book.xlsx", FormatXLSX, 10)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if len(table.Rows) != 1 || len(table.Rows[0]) != 2 {
		t.Fatalf("rows = %#v", table.Rows)
	}
	if table.Rows[0][1] != nil {
		t.Fatalf("missing cell = %#v, want nil", table.Rows[0][1])
	}
}

func TestPreviewMissingObject(t *testing.T) {
	service := NewService(newMemoryStore(), Config{})

	_, err := service.Preview(context.Background(), "gone.csv", FormatCSV, 10)
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Preview() error = %v, want ErrObjectNotFound", err)
	}
}

func TestSheetSchemaInfersColumnTypes(t *testing.T) {
	store := newMemoryStore()
	store.objects["people.csv"] = []byte("name,salary,joined\nada,120000,2021-03-01\n")
	service := NewService(store, Config{})

	schema, err := service.SheetSchema(context.Background(), "people.csv", FormatCSV)
	if err != nil {
		t.Fatalf("SheetSchema() error = %v", err)
	}
	if schema.ColumnTypes["name"] != assist.ColumnString {
		t.Fatalf("name type = %q", schema.ColumnTypes["name"])
	}
	if schema.ColumnTypes["salary"] != assist.ColumnNumber {
		t.Fatalf("salary type = %q", schema.ColumnTypes["salary"])
	}
	if schema.ColumnTypes["joined"] != assist.ColumnDate {
		t.Fatalf("joined type = %q", schema.ColumnTypes["joined"])
	}
	if len(schema.SampleData) != 1 {
		t.Fatalf("SampleData rows = %d", len(schema.SampleData))
	}
	for _, tag := range schema.SampleData[0] {
		switch tag {
		case assist.ColumnString, assist.ColumnNumber, assist.ColumnDate:
		default:
			t.Fatalf("sample tag = %q", tag)
		}
	}
}

func TestSheetSchemaHeaderOnlyFile(t *testing.T) {
	store := newMemoryStore()
	store.objects["empty.csv"] = []byte("a,b\n")
	service := NewService(store, Config{})

	schema, err := service.SheetSchema(context.Background(), "empty.csv", FormatCSV)
	if err != nil {
		t.Fatalf("SheetSchema() error = %v", err)
	}
	if schema.ColumnTypes["a"] != assist.ColumnString || schema.ColumnTypes["b"] != assist.ColumnString {
		t.Fatalf("ColumnTypes = %v", schema.ColumnTypes)
	}
	if len(schema.SampleData) != 0 {
		t.Fatalf("SampleData = %v, want empty", schema.SampleData)
	}
}

type parquetRow struct {
	ID    int64  `parquet:"id"`
	Value string `parquet:"value"`
}

func buildParquet(t *testing.T, rows []parquetRow) []byte {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRow](buf)
	if _, err := writer.Write(rows); err != nil {
		t.Fatalf("write parquet fixture: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close parquet fixture: %v", err)
	}
	return buf.Bytes()
}

func buildXLSX(t *testing.T, rows [][]any) []byte {
	t.Helper()
	workbook := excelize.NewFile()
	defer func() { _ = workbook.Close() }()
	sheet := workbook.GetSheetName(0)

	for rowIndex, row := range rows {
		for colIndex, value := range row {
			cell, err := excelize.CoordinatesToCellName(colIndex+1, rowIndex+1)
			if err != nil {
				t.Fatalf("map cell: %v", err)
			}
			if err := workbook.SetCellValue(sheet, cell, value); err != nil {
				t.Fatalf("set cell %s: %v", cell, err)
			}
		}
	}

	buf := bytes.NewBuffer(nil)
	if err := workbook.Write(buf); err != nil {
		t.Fatalf("encode workbook fixture: %v", err)
	}
	return buf.Bytes()
}

type memoryStore struct {
	objects map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	if _, ok := m.objects[key]; !ok {
		return "", storage.ErrObjectNotFound
	}
	return "https://signed.example/" + key, nil
}
