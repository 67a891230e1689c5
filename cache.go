package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// cacheExists reports whether a cache file is present. Absence only switches
// the loader into batch mode.
func cacheExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// readParquetFrame reads a cache file into a frame. Dates and timestamps are
// rendered as ISO dates so they go through the same date parser as batches.
func readParquetFrame(ctx context.Context, path string) (frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return frame{}, err
	}
	defer file.Close()

	mem := memory.NewGoAllocator()
	table, err := pqarrow.ReadTable(ctx, file, parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return frame{}, fmt.Errorf("read parquet %s: %w", path, err)
	}
	defer table.Release()

	numRows := int(table.NumRows())
	numCols := int(table.NumCols())
	out := frame{Source: path, Headers: make([]string, numCols), Rows: make([][]string, numRows)}
	for i := range out.Rows {
		out.Rows[i] = make([]string, numCols)
	}

	for c := 0; c < numCols; c++ {
		column := table.Column(c)
		out.Headers[c] = column.Name()
		offset := 0
		for _, chunk := range column.Data().Chunks() {
			for i := 0; i < chunk.Len(); i++ {
				if offset+i >= numRows {
					return frame{}, fmt.Errorf("read parquet %s: column %s longer than table", path, column.Name())
				}
				out.Rows[offset+i][c] = cellString(chunk, i)
			}
			offset += chunk.Len()
		}
	}
	return out, nil
}

func cellString(arr arrow.Array, i int) string {
	if arr.IsNull(i) {
		return ""
	}
	switch typed := arr.(type) {
	case *array.Date32:
		return formatDate(typed.Value(i).ToTime())
	case *array.Date64:
		return formatDate(typed.Value(i).ToTime())
	case *array.Timestamp:
		unit := typed.DataType().(*arrow.TimestampType).Unit
		return formatDate(typed.Value(i).ToTime(unit))
	case *array.String:
		return typed.Value(i)
	case *array.LargeString:
		return typed.Value(i)
	default:
		return arr.ValueStr(i)
	}
}

// writeParquetCache unions the headers of all frames and writes them as one
// zstd-compressed Parquet file. Columns whose values all parse as integers
// become int64; dateColumn (if non-empty) becomes a DATE column with nulls for
// unparseable values; everything else is a string.
func writeParquetCache(path string, frames []frame, dateColumn string, layouts []string) (int, error) {
	headers, rows := unionFrames(frames)
	if len(headers) == 0 {
		return 0, errors.New("no columns to write")
	}

	mem := memory.NewGoAllocator()
	fields := make([]arrow.Field, len(headers))
	columns := make([]arrow.Array, len(headers))
	defer func() {
		for _, col := range columns {
			if col != nil {
				col.Release()
			}
		}
	}()

	for c, name := range headers {
		switch {
		case dateColumn != "" && normalizeHeader(name) == normalizeHeader(dateColumn):
			fields[c] = arrow.Field{Name: name, Type: arrow.FixedWidthTypes.Date32, Nullable: true}
			columns[c] = buildDateColumn(mem, rows, c, layouts)
		case integerColumn(rows, c):
			fields[c] = arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int64, Nullable: true}
			columns[c] = buildInt64Column(mem, rows, c)
		default:
			fields[c] = arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: true}
			columns[c] = buildStringColumn(mem, rows, c)
		}
	}

	schema := arrow.NewSchema(fields, nil)
	record := array.NewRecord(schema, columns, int64(len(rows)))
	defer record.Release()

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create cache file: %w", err)
	}

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Zstd))
	writer, err := pqarrow.NewFileWriter(schema, file, props, pqarrow.DefaultWriterProps())
	if err != nil {
		file.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	if err := writer.Write(record); err != nil {
		writer.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to write parquet record: %w", err)
	}
	if err := writer.Close(); err != nil {
		file.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to close parquet writer: %w", err)
	}
	_ = file.Close()
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("move cache file into place: %w", err)
	}
	return len(rows), nil
}

// unionFrames aligns rows from frames with different headers onto the union
// of their normalized header names, keeping first-seen order and spelling.
func unionFrames(frames []frame) ([]string, [][]string) {
	var headers []string
	position := map[string]int{}
	for _, f := range frames {
		for _, h := range f.Headers {
			key := normalizeHeader(h)
			if _, ok := position[key]; ok {
				continue
			}
			position[key] = len(headers)
			headers = append(headers, h)
		}
	}

	var rows [][]string
	for _, f := range frames {
		mapping := make([]int, len(f.Headers))
		for i, h := range f.Headers {
			mapping[i] = position[normalizeHeader(h)]
		}
		for _, record := range f.Rows {
			row := make([]string, len(headers))
			for i, value := range record {
				if i < len(mapping) {
					row[mapping[i]] = value
				}
			}
			rows = append(rows, row)
		}
	}
	return headers, rows
}

func integerColumn(rows [][]string, c int) bool {
	seen := false
	for _, row := range rows {
		value := getValue(row, c)
		if value == "" {
			continue
		}
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return false
		}
		seen = true
	}
	return seen
}

func buildInt64Column(mem memory.Allocator, rows [][]string, c int) arrow.Array {
	b := array.NewInt64Builder(mem)
	defer b.Release()
	for _, row := range rows {
		value, err := strconv.ParseInt(getValue(row, c), 10, 64)
		if err != nil {
			b.AppendNull()
			continue
		}
		b.Append(value)
	}
	return b.NewArray()
}

func buildStringColumn(mem memory.Allocator, rows [][]string, c int) arrow.Array {
	b := array.NewStringBuilder(mem)
	defer b.Release()
	for _, row := range rows {
		b.Append(getValue(row, c))
	}
	return b.NewArray()
}

func buildDateColumn(mem memory.Allocator, rows [][]string, c int, layouts []string) arrow.Array {
	b := array.NewDate32Builder(mem)
	defer b.Release()
	for _, row := range rows {
		parsed := parseDateOrNull(getValue(row, c), layouts)
		if parsed.IsZero() {
			b.AppendNull()
			continue
		}
		b.Append(arrow.Date32FromTime(parsed))
	}
	return b.NewArray()
}

// cacheAge is reported on the status endpoint.
func cacheAge(path string, now time.Time) (time.Duration, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return now.Sub(info.ModTime()), true
}
