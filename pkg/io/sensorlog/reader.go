// Package sensorlog reads the plain-text sensor logs written by the position
// sensors. A reading line carries four groups of the form
//
//	Sensor N - X: <float> Y: <float>
//
// for N = 1..4 in order. Any other line is skipped.
package sensorlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"

	sgio "github.com/hed1ad/sensorguard/pkg/io"
)

// ErrNoReading is returned by ParseLine for lines without a complete reading.
var ErrNoReading = errors.New("line holds no sensor reading")

const float = `[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`

var groupRe = regexp.MustCompile(`Sensor\s+(\d+)\s*-\s*X:\s*(` + float + `)\s*Y:\s*(` + float + `)`)

// ParseLine extracts the x1, y1, ... x4, y4 row of a reading line.
func ParseLine(line string) ([]float64, error) {
	groups := groupRe.FindAllStringSubmatch(line, -1)
	if len(groups) != sgio.Sensors {
		return nil, ErrNoReading
	}

	row := make([]float64, 0, sgio.Columns)
	for i, g := range groups {
		if g[1] != strconv.Itoa(i+1) {
			return nil, fmt.Errorf("sensor %s at position %d: %w", g[1], i+1, ErrNoReading)
		}
		x, err := strconv.ParseFloat(g[2], 64)
		if err != nil {
			return nil, err
		}
		y, err := strconv.ParseFloat(g[3], 64)
		if err != nil {
			return nil, err
		}
		row = append(row, x, y)
	}
	return row, nil
}

// Reader reads sensor readings line by line.
type Reader struct {
	closer  io.Closer
	scanner *bufio.Scanner
	skipped int
}

// NewReader reads from r. Closing the Reader closes r if it is an io.Closer.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	reader := &Reader{scanner: scanner}
	if c, ok := r.(io.Closer); ok {
		reader.closer = c
	}
	return reader
}

// Open opens a sensor log file.
func Open(filename string) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	return NewReader(file), nil
}

// Read returns all readings.
func (r *Reader) Read() ([][]float64, error) {
	var data [][]float64
	for {
		row, err := r.next()
		if errors.Is(err, io.EOF) {
			return data, nil
		}
		if err != nil {
			return nil, err
		}
		data = append(data, row)
	}
}

// Stream returns a channel of readings for real-time processing.
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

// Skipped returns the number of lines without a reading seen so far.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func (r *Reader) next() ([]float64, error) {
	for r.scanner.Scan() {
		row, err := ParseLine(r.scanner.Text())
		if err != nil {
			r.skipped++
			continue
		}
		return row, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Extractor turns a single log line into a reading row.
type Extractor struct{}

// Extract accepts a string or a byte slice.
func (Extractor) Extract(data any) ([]float64, error) {
	switch v := data.(type) {
	case string:
		return ParseLine(v)
	case []byte:
		return ParseLine(string(v))
	default:
		return nil, fmt.Errorf("unsupported input %T", data)
	}
}

// FeatureNames returns x1, y1, ... x4, y4.
func (Extractor) FeatureNames() []string {
	return sgio.ColumnNames()
}
