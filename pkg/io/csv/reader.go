// Package csv provides CSV file reading for exported sensor readings.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	sgio "github.com/hed1ad/sensorguard/pkg/io"
)

// Reader reads x1, y1, ... x4, y4 rows from CSV files.
type Reader struct {
	file    io.Closer
	reader  *csv.Reader
	columns int
	headers []string
	pending []float64
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithColumns sets the expected number of columns. Rows of any other
// width are skipped.
func WithColumns(n int) Option {
	return func(r *Reader) {
		r.columns = n
	}
}

// NewReader creates a reader over a CSV file. A first row that does not
// parse as numbers is taken as the header.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r, err := newReader(file, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.file = file
	return r, nil
}

// FromReader creates a reader over in.
func FromReader(in io.Reader, opts ...Option) (*Reader, error) {
	return newReader(in, opts...)
}

func newReader(in io.Reader, opts ...Option) (*Reader, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	r := &Reader{
		reader:  cr,
		columns: sgio.Columns,
	}
	for _, opt := range opts {
		opt(r)
	}

	first, err := r.reader.Read()
	if errors.Is(err, io.EOF) {
		return r, nil
	}
	if err != nil {
		return nil, err
	}
	if row, err := r.parseRow(first); err == nil {
		r.pending = row
	} else {
		r.headers = first
	}

	return r, nil
}

// Headers returns the column headers, or nil if the file has none.
func (r *Reader) Headers() []string {
	return r.headers
}

// Read returns all data as a 2D float slice.
func (r *Reader) Read() ([][]float64, error) {
	var data [][]float64

	for {
		row, err := r.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		data = append(data, row)
	}

	return data, nil
}

// Stream returns a channel of rows for real-time processing.
func (r *Reader) Stream(ctx context.Context) (<-chan []float64, error) {
	out := make(chan []float64, 100)

	go func() {
		defer close(out)
		for {
			row, err := r.next()
			if err != nil {
				return
			}

			select {
			case out <- row:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// next returns the next well-formed row or io.EOF.
func (r *Reader) next() ([]float64, error) {
	if r.pending != nil {
		row := r.pending
		r.pending = nil
		return row, nil
	}

	for {
		record, err := r.reader.Read()
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue // Skip malformed rows
			}
			return nil, err
		}

		row, err := r.parseRow(record)
		if err != nil {
			continue // Skip malformed rows
		}
		return row, nil
	}
}

// parseRow converts string slice to float slice.
func (r *Reader) parseRow(record []string) ([]float64, error) {
	if len(record) != r.columns {
		return nil, fmt.Errorf("row has %d fields, want %d", len(record), r.columns)
	}

	row := make([]float64, len(record))
	for i, val := range record {
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, err
		}
		row[i] = f
	}
	return row, nil
}
