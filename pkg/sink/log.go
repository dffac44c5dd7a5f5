//go:build linux

package sink

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/r-xue/psrecord/pkg/record"
	"github.com/r-xue/psrecord/pkg/snapshot"
	"github.com/r-xue/psrecord/pkg/system/util"
)

var _ record.Sink = (*Log)(nil)

// Log writes one line per sample and flushes it before Accept returns, so
// an interrupted run still leaves a usable partial log.
type Log struct {
	enc    encoder
	file   *os.File // nil when the stream belongs to the caller
	closed bool
}

type encoder interface {
	header() error
	row(record.Sample) error
}

// NewLog writes the header for (f, cols) to w. w is never closed.
func NewLog(w io.Writer, f Format, cols Columns) (*Log, error) {
	enc, err := newEncoder(w, f, cols)
	if err != nil {
		return nil, err
	}
	if err := enc.header(); err != nil {
		return nil, fmt.Errorf("sink: write header: %w", err)
	}
	return &Log{enc: enc}, nil
}

// NewLogFile creates path (and its parent directories) and writes the
// header. The format is checked first: a bad selector leaves no file.
func NewLogFile(path string, f Format, cols Columns) (*Log, error) {
	if !f.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	l, err := NewLog(file, f, cols)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	l.file = file
	return l, nil
}

func (l *Log) Accept(s record.Sample) error {
	if l.closed {
		return os.ErrClosed
	}
	return l.enc.row(s)
}

// Close releases the file if the log owns one. Calling it again is a no-op.
func (l *Log) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func newEncoder(w io.Writer, f Format, cols Columns) (encoder, error) {
	switch f {
	case FormatPlain:
		return &plainEncoder{w: w, cols: cols}, nil
	case FormatCSV:
		return &csvEncoder{w: csv.NewWriter(w), cols: cols}, nil
	case FormatJSON:
		return &jsonEncoder{enc: json.NewEncoder(w), cols: cols}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
	}
}

// ioOrZero keeps the IO columns present even if a sample lacks counters.
func ioOrZero(s record.Sample) snapshot.IOCounters {
	if s.IO == nil {
		return snapshot.IOCounters{}
	}
	return *s.IO
}

// plainEncoder writes 12 character wide, space separated columns.
type plainEncoder struct {
	w    io.Writer
	cols Columns
}

func (e *plainEncoder) header() error {
	var b strings.Builder
	b.WriteString("#")
	for _, l := range e.cols.Labels() {
		b.WriteString(" ")
		b.WriteString(util.Center(l, 12))
	}
	b.WriteString("\n")
	_, err := io.WriteString(e.w, b.String())
	return err
}

func (e *plainEncoder) row(s record.Sample) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%12.3f %12.3f %12.3f %12.3f %12.3f",
		s.Elapsed.Seconds(), s.CPUPercent, s.MemReal.MB(), s.MemVirtual.MB(), s.MemSwap.MB())
	if e.cols.IO {
		c := ioOrZero(s)
		fmt.Fprintf(&b, " %12d %12d %12d %12d", c.ReadCount, c.WriteCount, c.ReadBytes, c.WriteBytes)
	}
	if e.cols.Dir {
		fmt.Fprintf(&b, " %12.3f", s.DirSize.MB())
	}
	b.WriteString("\n")
	_, err := io.WriteString(e.w, b.String())
	return err
}

type csvEncoder struct {
	w    *csv.Writer
	cols Columns
}

func (e *csvEncoder) header() error {
	return e.write(e.cols.Fields())
}

func (e *csvEncoder) row(s record.Sample) error {
	rec := []string{
		util.FmtFloat(s.Elapsed.Seconds()),
		strconv.Itoa(s.NProc),
		util.FmtFloat(s.CPUPercent),
		util.FmtFloat(s.MemReal.MB()),
		util.FmtFloat(s.MemVirtual.MB()),
		util.FmtFloat(s.MemSwap.MB()),
	}
	if e.cols.IO {
		c := ioOrZero(s)
		rec = append(rec,
			strconv.FormatUint(c.ReadCount, 10),
			strconv.FormatUint(c.WriteCount, 10),
			strconv.FormatUint(c.ReadBytes, 10),
			strconv.FormatUint(c.WriteBytes, 10),
		)
	}
	if e.cols.Dir {
		rec = append(rec, util.FmtFloat(s.DirSize.MB()))
	}
	return e.write(rec)
}

func (e *csvEncoder) write(rec []string) error {
	if err := e.w.Write(rec); err != nil {
		return err
	}
	e.w.Flush()
	return e.w.Error()
}

// jsonEncoder writes one object per line with the same keys as the csv
// header. Optional keys are present on every line or on none.
type jsonEncoder struct {
	enc  *json.Encoder
	cols Columns
}

type jsonRow struct {
	ElapsedTime float64 `json:"elapsed_time"`
	NProc       int     `json:"nproc"`
	CPU         float64 `json:"cpu"`
	MemReal     float64 `json:"mem_real"`
	MemVirtual  float64 `json:"mem_virtual"`
	MemSwap     float64 `json:"mem_swap"`

	ReadCount  *uint64 `json:"read_count,omitempty"`
	WriteCount *uint64 `json:"write_count,omitempty"`
	ReadBytes  *uint64 `json:"read_bytes,omitempty"`
	WriteBytes *uint64 `json:"write_bytes,omitempty"`

	DirSizeMB *float64 `json:"dir_size_mb,omitempty"`
}

func (e *jsonEncoder) header() error { return nil }

func (e *jsonEncoder) row(s record.Sample) error {
	r := jsonRow{
		ElapsedTime: s.Elapsed.Seconds(),
		NProc:       s.NProc,
		CPU:         s.CPUPercent,
		MemReal:     s.MemReal.MB(),
		MemVirtual:  s.MemVirtual.MB(),
		MemSwap:     s.MemSwap.MB(),
	}
	if e.cols.IO {
		c := ioOrZero(s)
		r.ReadCount, r.WriteCount = &c.ReadCount, &c.WriteCount
		r.ReadBytes, r.WriteBytes = &c.ReadBytes, &c.WriteBytes
	}
	if e.cols.Dir {
		mb := s.DirSize.MB()
		r.DirSizeMB = &mb
	}
	return e.enc.Encode(r)
}
