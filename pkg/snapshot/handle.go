//go:build linux

package snapshot

import (
	"fmt"

	"github.com/r-xue/psrecord/pkg/system/proc"
)

// Handle refers to one OS process. Two handles are equal only when both the
// pid and the kernel start time match, so a recycled pid never aliases the
// process that used to own it. Handle is comparable and used as a map key.
type Handle struct {
	PID       int32
	StartTime uint64 // jiffies after boot, from /proc/<pid>/stat
}

func (h Handle) String() string { return fmt.Sprintf("%d@%d", h.PID, h.StartTime) }

// Open builds a Handle for a live pid.
func Open(pid int) (Handle, error) {
	st, err := proc.ReadStat(pid)
	if err != nil {
		return Handle{}, gone(pid, err)
	}
	return Handle{PID: int32(pid), StartTime: st.StartTime}, nil
}

// current re-reads stat for h and fails when the pid is gone or has been
// handed to another process.
func current(h Handle) (proc.Stat, error) {
	st, err := proc.ReadStat(int(h.PID))
	if err != nil {
		return proc.Stat{}, gone(int(h.PID), err)
	}
	if st.StartTime != h.StartTime {
		return proc.Stat{}, fmt.Errorf("%w: pid %d was reused", ErrProcessGone, h.PID)
	}
	return st, nil
}

// descendants lists the live descendants of root as handles. Children that
// vanish between enumeration and the stat read are left out.
func descendants(root Handle) ([]Handle, error) {
	if _, err := current(root); err != nil {
		return nil, err
	}
	pids, err := proc.Descendants(int(root.PID))
	if err != nil {
		return nil, gone(int(root.PID), err)
	}
	out := make([]Handle, 0, len(pids))
	for _, pid := range pids {
		h, err := Open(pid)
		if err != nil {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}
