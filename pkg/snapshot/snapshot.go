//go:build linux

// Package snapshot reads the resource usage of a single process at one
// instant. A read either produces a Reading or reports the process as gone;
// it never fails in any other way, so callers only branch on Result.Gone.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/r-xue/psrecord/pkg/types"
)

// ErrProcessGone wraps every per-process read failure: the process exited,
// the pid was recycled, or we were denied access.
var ErrProcessGone = errors.New("snapshot: process gone")

// ErrUnknownBackend is returned by New for an unrecognised backend name.
var ErrUnknownBackend = errors.New("snapshot: unknown backend")

func gone(pid int, err error) error {
	return fmt.Errorf("%w: pid %d: %w", ErrProcessGone, pid, err)
}

type Status int

const (
	StatusUnknown Status = iota
	StatusRunning
	StatusSleeping
	StatusDiskSleep
	StatusStopped
	StatusIdle
	StatusZombie
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusSleeping:
		return "sleeping"
	case StatusDiskSleep:
		return "disk-sleep"
	case StatusStopped:
		return "stopped"
	case StatusIdle:
		return "idle"
	case StatusZombie:
		return "zombie"
	case StatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Terminated reports whether the process has finished running, even if its
// pid is still visible.
func (s Status) Terminated() bool { return s == StatusZombie || s == StatusDead }

// statusFromState maps the state letter of /proc/<pid>/stat.
func statusFromState(c byte) Status {
	switch c {
	case 'R':
		return StatusRunning
	case 'S':
		return StatusSleeping
	case 'D':
		return StatusDiskSleep
	case 'T', 't':
		return StatusStopped
	case 'I':
		return StatusIdle
	case 'Z':
		return StatusZombie
	case 'X', 'x':
		return StatusDead
	default:
		return StatusUnknown
	}
}

// IOCounters are cumulative since process start.
type IOCounters struct {
	ReadCount  uint64
	WriteCount uint64
	ReadBytes  uint64
	WriteBytes uint64
}

// Add returns the element-wise sum.
func (c IOCounters) Add(o IOCounters) IOCounters {
	return IOCounters{
		ReadCount:  c.ReadCount + o.ReadCount,
		WriteCount: c.WriteCount + o.WriteCount,
		ReadBytes:  c.ReadBytes + o.ReadBytes,
		WriteBytes: c.WriteBytes + o.WriteBytes,
	}
}

// Reading is one process's usage at one instant.
type Reading struct {
	// CPUPercent is usage since the previous read of the same handle, where
	// 100 is one full core. The first read of a handle returns 0.
	CPUPercent float64
	MemReal    types.Bytes
	MemVirtual types.Bytes
	MemSwap    types.Bytes
	Status     Status
	// IO is nil unless I/O counters were requested.
	IO *IOCounters
}

// Result is either a Reading or, when Err is set, the ProcessGone signal.
type Result struct {
	Reading Reading
	Err     error
}

// Gone reports whether the process could not be read.
func (r Result) Gone() bool { return r.Err != nil }

func ok(r Reading) Result { return Result{Reading: r} }

func failed(err error) Result { return Result{Err: err} }

// Source snapshots processes. Implementations keep per-handle state for
// CPU accounting and are not safe for concurrent use.
type Source interface {
	// Snapshot reads h. includeIO controls whether Reading.IO is filled.
	Snapshot(ctx context.Context, h Handle, includeIO bool) Result
	// Descendants lists every live transitive child of root. It fails only
	// when root itself cannot be read.
	Descendants(ctx context.Context, root Handle) ([]Handle, error)
	// Close releases cached per-process state.
	Close() error
}

// Backend selects a Source implementation.
type Backend string

const (
	BackendPsutil Backend = "psutil"
	BackendProcfs Backend = "procfs"
)

// ParseBackend validates a backend name; the empty string selects psutil.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "", BackendPsutil:
		return BackendPsutil, nil
	case BackendProcfs:
		return BackendProcfs, nil
	default:
		return "", fmt.Errorf("%w: %q (want %q or %q)", ErrUnknownBackend, s, BackendPsutil, BackendProcfs)
	}
}

// New returns the Source for b.
func New(b Backend) (Source, error) {
	switch b {
	case BackendPsutil, "":
		return newPsutil(), nil
	case BackendProcfs:
		return newProcfs(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, string(b))
	}
}
