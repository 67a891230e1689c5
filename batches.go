package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

// frame is a header row plus string cells. Raw batches and the columnar cache
// are both turned into frames so they share one normalization path.
type frame struct {
	Source  string
	Headers []string
	Rows    [][]string
	Dropped int
}

// discoverBatches walks root at any depth and returns files whose extension
// is in exts, sorted for a stable load order. A missing root is not an error.
func discoverBatches(root string, exts []string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat batch root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("batch root %s is not a directory", root)
	}

	allowed := make(map[string]bool, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(ext)] = true
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if allowed[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan batch root %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// errMalformedBatch marks a batch that could not be read as a table at all.
// The loader skips such a batch with a warning instead of failing the load.
var errMalformedBatch = errors.New("malformed batch")

func readBatch(ctx context.Context, path string) (frame, error) {
	if err := ctx.Err(); err != nil {
		return frame{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return readXLSXBatch(path)
	default:
		return readCSVBatch(path)
	}
}

func readCSVBatch(path string) (frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return frame{}, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.Is(err, io.EOF) || errors.As(err, &parseErr) {
			return frame{}, fmt.Errorf("%w: %s: unable to read header: %v", errMalformedBatch, path, err)
		}
		return frame{}, fmt.Errorf("read %s: %w", path, err)
	}

	out := frame{Source: path, Headers: headers}
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				out.Dropped++
				continue
			}
			return frame{}, fmt.Errorf("read %s: %w", path, err)
		}
		if len(record) == 0 {
			continue
		}
		out.Rows = append(out.Rows, record)
	}
	return out, nil
}

// readXLSXBatch reads the first sheet of a workbook.
func readXLSXBatch(path string) (frame, error) {
	if _, err := os.Stat(path); err != nil {
		return frame{}, err
	}
	book, err := excelize.OpenFile(path)
	if err != nil {
		return frame{}, fmt.Errorf("%w: %s: %v", errMalformedBatch, path, err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return frame{}, fmt.Errorf("%w: %s: workbook has no sheets", errMalformedBatch, path)
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return frame{}, fmt.Errorf("%w: %s: %v", errMalformedBatch, path, err)
	}
	if len(rows) == 0 {
		return frame{}, fmt.Errorf("%w: %s: empty sheet", errMalformedBatch, path)
	}

	out := frame{Source: path, Headers: rows[0]}
	for _, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}
