//go:build linux

package sink

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/r-xue/psrecord/pkg/record"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

var _ record.Sink = (*Plot)(nil)

// TimeSeries is the in-memory state of a Plot. All slices are index
// aligned; the I/O slices stay empty unless the plot was built with I/O.
type TimeSeries struct {
	Times      []float64 // seconds
	CPU        []float64 // percent
	MemReal    []float64 // MB
	MemVirtual []float64 // MB

	ReadCount  []uint64
	WriteCount []uint64
	ReadBytes  []uint64
	WriteBytes []uint64
}

// Len is the number of accepted samples.
func (ts *TimeSeries) Len() int { return len(ts.Times) }

// Plot keeps every sample and renders a CPU / real memory chart to a file
// on Close. Nothing is written before Close.
type Plot struct {
	path     string
	render   chart.RendererProvider
	io       bool
	series   TimeSeries
	rendered bool
	closed   bool
}

// NewPlot checks that the extension of path is one of .png or .svg.
func NewPlot(path string, withIO bool) (*Plot, error) {
	var rp chart.RendererProvider
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png":
		rp = chart.PNG
	case ".svg":
		rp = chart.SVG
	default:
		return nil, fmt.Errorf("%w: %q (want .png or .svg)", ErrUnsupportedPlotFormat, ext)
	}
	return &Plot{path: path, render: rp, io: withIO}, nil
}

func (p *Plot) Accept(s record.Sample) error {
	if p.closed {
		return os.ErrClosed
	}
	ts := &p.series
	ts.Times = append(ts.Times, s.Elapsed.Seconds())
	ts.CPU = append(ts.CPU, s.CPUPercent)
	ts.MemReal = append(ts.MemReal, s.MemReal.MB())
	ts.MemVirtual = append(ts.MemVirtual, s.MemVirtual.MB())
	if p.io {
		c := ioOrZero(s)
		ts.ReadCount = append(ts.ReadCount, c.ReadCount)
		ts.WriteCount = append(ts.WriteCount, c.WriteCount)
		ts.ReadBytes = append(ts.ReadBytes, c.ReadBytes)
		ts.WriteBytes = append(ts.WriteBytes, c.WriteBytes)
	}
	return nil
}

// Series returns the accumulated samples.
func (p *Plot) Series() TimeSeries { return p.series }

// Rendered reports whether Close produced a file.
func (p *Plot) Rendered() bool { return p.rendered }

// Close renders the chart once. A series that spans no time (fewer than
// two samples) cannot be drawn and leaves no file; check Rendered.
func (p *Plot) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	ts := p.series
	if ts.Len() < 2 || ts.Times[0] == ts.Times[ts.Len()-1] {
		return nil
	}

	var buf bytes.Buffer
	if err := p.chart().Render(p.render, &buf); err != nil {
		return fmt.Errorf("sink: render %s: %w", p.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(p.path, buf.Bytes(), 0o644); err != nil {
		return err
	}
	p.rendered = true
	return nil
}

func (p *Plot) chart() chart.Chart {
	red, blue := drawing.ColorRed, drawing.ColorBlue
	grid := chart.Style{StrokeColor: drawing.ColorFromHex("d0d0d0"), StrokeWidth: 1}

	return chart.Chart{
		Background: chart.Style{Padding: chart.Box{Top: 20, Left: 20, Right: 20, Bottom: 20}},
		XAxis: chart.XAxis{
			Name:           "time (s)",
			GridMajorStyle: grid,
		},
		YAxis: chart.YAxis{
			Name:           "CPU (%)",
			NameStyle:      chart.Style{FontColor: red},
			Range:          &chart.ContinuousRange{Min: 0, Max: upper(p.series.CPU)},
			GridMajorStyle: grid,
		},
		YAxisSecondary: chart.YAxis{
			Name:      "Real Memory (MB)",
			NameStyle: chart.Style{FontColor: blue},
			Range:     &chart.ContinuousRange{Min: 0, Max: upper(p.series.MemReal)},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "CPU (%)",
				XValues: p.series.Times,
				YValues: p.series.CPU,
				Style:   chart.Style{StrokeColor: red, StrokeWidth: 1},
			},
			chart.ContinuousSeries{
				Name:    "Real Memory (MB)",
				YAxis:   chart.YAxisSecondary,
				XValues: p.series.Times,
				YValues: p.series.MemReal,
				Style:   chart.Style{StrokeColor: blue, StrokeWidth: 1},
			},
		},
	}
}

// upper leaves 20% headroom above the largest value. An all-zero series
// still gets a non-empty axis.
func upper(vs []float64) float64 {
	var m float64
	for _, v := range vs {
		if v > m {
			m = v
		}
	}
	if m == 0 {
		return 1
	}
	return m * 1.2
}
