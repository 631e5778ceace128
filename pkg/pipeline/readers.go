package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	sgio "github.com/hed1ad/sensorguard/pkg/io"
	"github.com/hed1ad/sensorguard/pkg/io/csv"
	"github.com/hed1ad/sensorguard/pkg/io/pcap"
	"github.com/hed1ad/sensorguard/pkg/io/sensorlog"
)

// OpenFunc opens a reading source.
type OpenFunc func(path string) (sgio.Reader, error)

// defaultReaders maps lower-case file extensions to readers. Any other
// extension is read as a sensor log.
func defaultReaders() map[string]OpenFunc {
	return map[string]OpenFunc{
		".csv": func(path string) (sgio.Reader, error) {
			return csv.NewReader(path)
		},
		".pcap": func(path string) (sgio.Reader, error) {
			return pcap.NewFileReader(path)
		},
		".pcapng": func(path string) (sgio.Reader, error) {
			return pcap.NewFileReader(path)
		},
	}
}

func openSensorLog(path string) (sgio.Reader, error) {
	return sensorlog.Open(path)
}

// Open returns a reader for path chosen by its extension.
func (p *Pipeline) Open(path string) (sgio.Reader, error) {
	return openWith(p.readers, path)
}

// OpenReader is Open with the built-in readers only.
func OpenReader(path string) (sgio.Reader, error) {
	return openWith(defaultReaders(), path)
}

func openWith(readers map[string]OpenFunc, path string) (sgio.Reader, error) {
	open, ok := readers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		open = openSensorLog
	}
	r, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return r, nil
}

// readAll reads every reading of the files in order.
func (p *Pipeline) readAll(paths ...string) ([][]float64, error) {
	var rows [][]float64
	for _, path := range paths {
		r, err := p.Open(path)
		if err != nil {
			return nil, err
		}
		data, err := r.Read()
		cerr := r.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if cerr != nil {
			return nil, fmt.Errorf("close %s: %w", path, cerr)
		}
		rows = append(rows, data...)
	}
	return rows, nil
}
