//go:build linux

package record

import (
	"errors"
	"fmt"
	"time"

	"github.com/r-xue/psrecord/pkg/snapshot"
	"github.com/r-xue/psrecord/pkg/types"
)

// ErrBadConfig is wrapped by every Config validation failure.
var ErrBadConfig = errors.New("record: bad config")

// Config is fixed for the lifetime of a run.
// Units:
//   - Interval: pause between iterations; 0 samples as fast as possible
//   - Duration: recording budget; 0 records until the process exits
//   - Dir: directory whose size is attached to every sample; "" disables
type Config struct {
	Interval        time.Duration
	Duration        time.Duration
	IncludeChildren bool
	IncludeIO       bool
	Dir             string
}

// Validate rejects values no run could honour.
func (c Config) Validate() error {
	if c.Interval < 0 {
		return fmt.Errorf("%w: interval must be >= 0, got %s", ErrBadConfig, c.Interval)
	}
	if c.Duration < 0 {
		return fmt.Errorf("%w: duration must be >= 0, got %s", ErrBadConfig, c.Duration)
	}
	return nil
}

// Sample is the aggregate reading of one loop iteration: the root process
// plus every live descendant when children are included.
type Sample struct {
	Elapsed    time.Duration
	NProc      int
	CPUPercent float64
	MemReal    types.Bytes
	MemVirtual types.Bytes
	MemSwap    types.Bytes
	// IO is set when the run includes I/O counters.
	IO *snapshot.IOCounters
	// DirSize is meaningful only when Config.Dir is set.
	DirSize types.Bytes
}

// Sink consumes samples. Accept is called once per iteration in arrival
// order; Close is called exactly once when the run stops.
type Sink interface {
	Accept(Sample) error
	Close() error
}

// Reason says why a run stopped.
type Reason int

const (
	ProcessExited Reason = iota
	DurationExceeded
	Interrupted
	SnapshotFailed
)

func (r Reason) String() string {
	switch r {
	case ProcessExited:
		return "process exited"
	case DurationExceeded:
		return "duration exceeded"
	case Interrupted:
		return "interrupted"
	case SnapshotFailed:
		return "snapshot failed"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Stop describes a finished run.
type Stop struct {
	Reason  Reason
	Elapsed time.Duration
	// Cause holds the root read error for ProcessExited/SnapshotFailed when
	// the root could not be read at all.
	Cause   error
	Summary Result
}

// Result summarises every sample of a run.
type Result struct {
	Samples     int
	AvgCPU      float64
	PeakCPU     float64
	AvgMemReal  types.Bytes
	PeakMemReal types.Bytes
	PeakNProc   int
}
