//go:build linux

package snapshot

import (
	"context"

	"github.com/r-xue/psrecord/pkg/system/proc"
	"github.com/r-xue/psrecord/pkg/types"
	"github.com/shirou/gopsutil/v4/process"
)

// psutilSource reads processes through gopsutil. One *process.Process is kept
// per handle because Percent(0) measures CPU since the previous call on the
// same object.
type psutilSource struct {
	procs map[Handle]*process.Process
}

func newPsutil() *psutilSource {
	return &psutilSource{procs: make(map[Handle]*process.Process)}
}

func (s *psutilSource) Close() error {
	clear(s.procs)
	return nil
}

func (s *psutilSource) Descendants(_ context.Context, root Handle) ([]Handle, error) {
	return descendants(root)
}

func (s *psutilSource) lookup(ctx context.Context, h Handle) (*process.Process, error) {
	if p, ok := s.procs[h]; ok {
		return p, nil
	}
	p, err := process.NewProcessWithContext(ctx, h.PID)
	if err != nil {
		return nil, gone(int(h.PID), err)
	}
	s.procs[h] = p
	return p, nil
}

func (s *psutilSource) Snapshot(ctx context.Context, h Handle, includeIO bool) Result {
	pid := int(h.PID)

	// gopsutil keys processes by pid only; confirm the pid still belongs to h.
	st, err := current(h)
	if err != nil {
		return failed(err)
	}
	p, err := s.lookup(ctx, h)
	if err != nil {
		return failed(err)
	}

	var r Reading
	states, err := p.StatusWithContext(ctx)
	if err != nil {
		return failed(gone(pid, err))
	}
	r.Status = statusFromPsutil(states)
	if r.Status == StatusUnknown {
		r.Status = statusFromState(st.State)
	}
	if r.Status.Terminated() {
		return ok(r)
	}

	cpu, err := p.PercentWithContext(ctx, 0)
	if err != nil {
		return failed(gone(pid, err))
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return failed(gone(pid, err))
	}
	swap, err := proc.ReadSwap(pid)
	if err != nil {
		return failed(gone(pid, err))
	}
	r.CPUPercent = cpu
	r.MemReal = types.ToBytes(mem.RSS)
	r.MemVirtual = types.ToBytes(mem.VMS)
	r.MemSwap = types.ToBytes(swap)

	if includeIO {
		io, err := p.IOCountersWithContext(ctx)
		if err != nil {
			return failed(gone(pid, err))
		}
		r.IO = &IOCounters{
			ReadCount:  io.ReadCount,
			WriteCount: io.WriteCount,
			ReadBytes:  io.ReadBytes,
			WriteBytes: io.WriteBytes,
		}
	}
	return ok(r)
}

func statusFromPsutil(states []string) Status {
	if len(states) == 0 {
		return StatusUnknown
	}
	switch states[0] {
	case process.Running:
		return StatusRunning
	case process.Sleep:
		return StatusSleeping
	case process.Wait:
		return StatusDiskSleep
	case process.Stop:
		return StatusStopped
	case process.Idle:
		return StatusIdle
	case process.Zombie:
		return StatusZombie
	default:
		return StatusUnknown
	}
}
