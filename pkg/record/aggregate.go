//go:build linux

package record

import "github.com/r-xue/psrecord/pkg/snapshot"

// Aggregate merges the root reading with its descendants' results.
//
// With includeChildren false the sample is the root reading alone and
// NProc is 1. Otherwise CPU, memory and I/O are summed over the root and
// every child that is still running; gone or zombie children add nothing
// and do not affect the others. Elapsed and DirSize are left for the caller.
func Aggregate(root snapshot.Reading, children []snapshot.Result, includeChildren bool) Sample {
	s := Sample{
		NProc:      1,
		CPUPercent: root.CPUPercent,
		MemReal:    root.MemReal,
		MemVirtual: root.MemVirtual,
		MemSwap:    root.MemSwap,
	}
	if root.IO != nil {
		io := *root.IO
		s.IO = &io
	}
	if !includeChildren {
		return s
	}

	for _, c := range children {
		if c.Gone() || c.Reading.Status.Terminated() {
			continue
		}
		r := c.Reading
		s.NProc++
		s.CPUPercent += r.CPUPercent
		s.MemReal += r.MemReal
		s.MemVirtual += r.MemVirtual
		s.MemSwap += r.MemSwap
		if s.IO != nil && r.IO != nil {
			*s.IO = s.IO.Add(*r.IO)
		}
	}
	return s
}
