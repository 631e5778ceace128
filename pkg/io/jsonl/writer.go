// Package jsonl writes detection results as JSON lines, one result per line.
package jsonl

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sync"

	sgio "github.com/hed1ad/sensorguard/pkg/io"
)

// Writer writes results to an underlying stream. It is safe for
// concurrent use.
type Writer struct {
	mu     sync.Mutex
	closer io.Closer
	buf    *bufio.Writer
	enc    *json.Encoder
}

// NewWriter writes to w. Closing the Writer flushes and closes w if it is an
// io.Closer.
func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	out := &Writer{buf: buf, enc: json.NewEncoder(buf)}
	if c, ok := w.(io.Closer); ok {
		out.closer = c
	}
	return out
}

// Create truncates or creates the file at path.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return NewWriter(f), nil
}

// Write outputs a single result.
func (w *Writer) Write(result sgio.Result) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(result)
}

// WriteAll outputs multiple results.
func (w *Writer) WriteAll(results []sgio.Result) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range results {
		if err := w.enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes buffered results to the underlying stream.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}

// Close flushes and releases resources. Later calls only flush.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.buf.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
		w.closer = nil
	}
	return err
}
