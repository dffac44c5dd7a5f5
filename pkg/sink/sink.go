//go:build linux

// Package sink holds the consumers of recorded samples: a log that is
// written row by row as samples arrive, and a plot that is rendered once
// when the run stops.
package sink

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownFormat         = errors.New("sink: unknown log format")
	ErrUnsupportedPlotFormat = errors.New("sink: unsupported plot format")
)

// Format selects the log encoding for a whole run.
type Format string

const (
	FormatPlain Format = "plain"
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
)

// ParseFormat maps a user supplied selector to a Format.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if !f.valid() {
		return "", fmt.Errorf("%w: %q (want plain, csv or json)", ErrUnknownFormat, s)
	}
	return f, nil
}

func (f Format) valid() bool {
	switch f {
	case FormatPlain, FormatCSV, FormatJSON:
		return true
	}
	return false
}

// Columns is the optional part of the log schema. It is fixed when the
// sink is built and every row follows it.
type Columns struct {
	IO  bool
	Dir bool
}

// Fields returns the machine-readable column names for cols, in order.
func (c Columns) Fields() []string {
	out := []string{"elapsed_time", "nproc", "cpu", "mem_real", "mem_virtual", "mem_swap"}
	if c.IO {
		out = append(out, "read_count", "write_count", "read_bytes", "write_bytes")
	}
	if c.Dir {
		out = append(out, "dir_size_mb")
	}
	return out
}

// Labels returns the human-readable column titles of the plain format.
func (c Columns) Labels() []string {
	out := []string{"Elapsed time", "CPU (%)", "Real (MB)", "Virtual (MB)", "Swap (MB)"}
	if c.IO {
		out = append(out, "Read count", "Write count", "Read bytes", "Write bytes")
	}
	if c.Dir {
		out = append(out, "Dir size (MB)")
	}
	return out
}
