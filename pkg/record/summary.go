//go:build linux

package record

import "github.com/r-xue/psrecord/pkg/types"

// Accumulator keeps running peaks and averages over the samples of one run.
type Accumulator struct {
	count      int
	sumCPU     float64
	sumMemReal float64
	peakCPU    float64
	peakMem    types.Bytes
	peakNProc  int
}

// Apply folds one sample into the running totals.
func (a *Accumulator) Apply(s Sample) {
	a.count++
	a.sumCPU += s.CPUPercent
	a.sumMemReal += float64(s.MemReal)
	if s.CPUPercent > a.peakCPU {
		a.peakCPU = s.CPUPercent
	}
	if s.MemReal > a.peakMem {
		a.peakMem = s.MemReal
	}
	if s.NProc > a.peakNProc {
		a.peakNProc = s.NProc
	}
}

// Result returns averages and peaks over all applied samples.
func (a *Accumulator) Result() Result {
	if a.count == 0 {
		return Result{}
	}
	n := float64(a.count)
	return Result{
		Samples:     a.count,
		AvgCPU:      a.sumCPU / n,
		PeakCPU:     a.peakCPU,
		AvgMemReal:  types.Bytes(a.sumMemReal / n),
		PeakMemReal: a.peakMem,
		PeakNProc:   a.peakNProc,
	}
}
