//go:build linux

package snapshot

import (
	"context"
	"time"

	"github.com/r-xue/psrecord/pkg/system/proc"
	"github.com/r-xue/psrecord/pkg/system/util"
	"github.com/r-xue/psrecord/pkg/types"
)

// procfsSource reads /proc directly:
//   - status and CPU jiffies: /proc/<pid>/stat
//   - real/virtual memory:    /proc/<pid>/statm
//   - swap:                   /proc/<pid>/status (VmSwap)
//   - I/O:                    /proc/<pid>/io
type procfsSource struct {
	clkTck int
	now    func() time.Time

	// Per-handle prev counters for CPU percent
	cpuPrev  map[Handle]uint64 // utime+stime (jiffies)
	wallPrev map[Handle]time.Time
}

func newProcfs() *procfsSource {
	return &procfsSource{
		clkTck:   proc.ClockTicks(),
		now:      time.Now,
		cpuPrev:  make(map[Handle]uint64),
		wallPrev: make(map[Handle]time.Time),
	}
}

func (s *procfsSource) Close() error {
	clear(s.cpuPrev)
	clear(s.wallPrev)
	return nil
}

func (s *procfsSource) Descendants(_ context.Context, root Handle) ([]Handle, error) {
	return descendants(root)
}

func (s *procfsSource) Snapshot(_ context.Context, h Handle, includeIO bool) Result {
	pid := int(h.PID)

	st, err := current(h)
	if err != nil {
		return failed(err)
	}
	now := s.now()

	r := Reading{Status: statusFromState(st.State)}
	if r.Status.Terminated() {
		return ok(r)
	}

	r.CPUPercent = s.cpuPercent(h, st.UTime+st.STime, now)

	vms, rss, err := proc.ReadStatm(pid)
	if err != nil {
		return failed(gone(pid, err))
	}
	swap, err := proc.ReadSwap(pid)
	if err != nil {
		return failed(gone(pid, err))
	}
	r.MemReal = types.ToBytes(rss)
	r.MemVirtual = types.ToBytes(vms)
	r.MemSwap = types.ToBytes(swap)

	if includeIO {
		io, err := proc.ReadIO(pid)
		if err != nil {
			return failed(gone(pid, err))
		}
		r.IO = &IOCounters{
			ReadCount:  io.SysCR,
			WriteCount: io.SysCW,
			ReadBytes:  io.ReadBytes,
			WriteBytes: io.WriteBytes,
		}
	}
	return ok(r)
}

// cpuPercent converts the jiffy delta since the last read of h into percent
// of one core over the wall-clock delta. The first read of h yields 0.
func (s *procfsSource) cpuPercent(h Handle, jiffies uint64, now time.Time) float64 {
	prevJ, seen := s.cpuPrev[h]
	prevT := s.wallPrev[h]
	s.cpuPrev[h] = jiffies
	s.wallPrev[h] = now
	if !seen {
		return 0
	}
	cpuSec := float64(util.DeltaU64(jiffies, prevJ)) / float64(s.clkTck)
	return util.SafeDiv(cpuSec, now.Sub(prevT).Seconds()) * 100
}
