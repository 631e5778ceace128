// Package pcap reads sensor readings mirrored off the wire: UDP or TCP
// payloads in a capture file carry sensor log lines.
package pcap

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	sgio "github.com/hed1ad/sensorguard/pkg/io"
	"github.com/hed1ad/sensorguard/pkg/io/sensorlog"
)

// captureSource is satisfied by both pcap and pcapng readers.
type captureSource interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// Reader reads readings from pcap or pcapng files.
type Reader struct {
	file      *os.File
	source    *gopacket.PacketSource
	extractor *PayloadExtractor
	pending   [][]float64
}

// Option configures a Reader.
type Option func(*PayloadExtractor)

// WithPort keeps only packets whose source or destination port is port.
func WithPort(port uint16) Option {
	return func(e *PayloadExtractor) {
		e.port = port
	}
}

// NewFileReader creates a reader for capture files.
func NewFileReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	src, err := openCapture(file)
	if err != nil {
		file.Close()
		return nil, err
	}

	extractor := NewPayloadExtractor()
	for _, opt := range opts {
		opt(extractor)
	}

	return &Reader{
		file:      file,
		source:    gopacket.NewPacketSource(src, src.LinkType()),
		extractor: extractor,
	}, nil
}

func openCapture(file *os.File) (captureSource, error) {
	if r, err := pcapgo.NewReader(file); err == nil {
		return r, nil
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	r, err := pcapgo.NewNgReader(file, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		return nil, errors.New("not a pcap or pcapng file")
	}
	return r, nil
}

// Read returns all readings in capture order.
func (r *Reader) Read() ([][]float64, error) {
	if r.source == nil {
		return nil, errors.New("reader not initialized")
	}

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
	if r.source == nil {
		return nil, errors.New("reader not initialized")
	}

	out := make(chan []float64, 1000)
	packets := r.source.Packets()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-packets:
				if !ok {
					return
				}
				for _, row := range r.extractor.Extract(packet) {
					select {
					case out <- row:
					case <-ctx.Done():
						return
					}
				}
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

func (r *Reader) next() ([]float64, error) {
	for len(r.pending) == 0 {
		packet, err := r.source.NextPacket()
		if err != nil {
			return nil, err
		}
		r.pending = r.extractor.Extract(packet)
	}
	row := r.pending[0]
	r.pending = r.pending[1:]
	return row, nil
}

// PayloadExtractor extracts readings from transport payloads.
type PayloadExtractor struct {
	port uint16
}

// NewPayloadExtractor creates an extractor accepting any port.
func NewPayloadExtractor() *PayloadExtractor {
	return &PayloadExtractor{}
}

// Extract returns every complete reading line in the packet's TCP or UDP
// payload. Packets without such a payload yield nothing.
func (e *PayloadExtractor) Extract(packet gopacket.Packet) [][]float64 {
	var src, dst uint16
	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp := tcpLayer.(*layers.TCP)
		src, dst = uint16(tcp.SrcPort), uint16(tcp.DstPort)
	} else if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		src, dst = uint16(udp.SrcPort), uint16(udp.DstPort)
	} else {
		return nil
	}
	if e.port != 0 && src != e.port && dst != e.port {
		return nil
	}

	app := packet.ApplicationLayer()
	if app == nil {
		return nil
	}

	var rows [][]float64
	scanner := bufio.NewScanner(bytes.NewReader(app.Payload()))
	for scanner.Scan() {
		row, err := sensorlog.ParseLine(scanner.Text())
		if err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// FeatureNames returns the names of extracted features.
func (e *PayloadExtractor) FeatureNames() []string {
	return sgio.ColumnNames()
}
