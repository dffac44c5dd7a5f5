//go:build linux

package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/r-xue/psrecord/pkg/snapshot"
	"github.com/r-xue/psrecord/pkg/system/disk"
)

// Monitor samples one process tree until a stop condition fires.
type Monitor struct {
	cfg      Config
	src      snapshot.Source
	sinks    []Sink
	log      *slog.Logger
	now      func() time.Time
	registry *Registry
}

type Option func(*Monitor)

// WithLogger sets the logger for lifecycle and absorbed-error messages.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New validates cfg and builds a Monitor that routes every sample to sinks.
func New(cfg Config, src snapshot.Source, sinks []Sink, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: nil snapshot source", ErrBadConfig)
	}
	m := &Monitor{
		cfg:      cfg,
		src:      src,
		sinks:    sinks,
		log:      slog.Default(),
		now:      time.Now,
		registry: NewRegistry(),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Registry exposes the descendant registry of the current or last run.
func (m *Monitor) Registry() *Registry { return m.registry }

// Run records root until it exits, the duration budget is spent or ctx is
// cancelled. Runtime failures never abort a run; the returned error only
// reports sinks that failed to close (flush, render).
func (m *Monitor) Run(ctx context.Context, root snapshot.Handle) (Stop, error) {
	m.registry.Reset()
	start := m.now()

	var acc Accumulator
	stop := m.loop(ctx, root, start, &acc)
	stop.Elapsed = m.now().Sub(start)
	stop.Summary = acc.Result()

	switch stop.Reason {
	case ProcessExited:
		m.log.Info("process finished", "pid", root.PID, "elapsed", fmt.Sprintf("%.2fs", stop.Elapsed.Seconds()))
	case DurationExceeded:
		m.log.Info("duration elapsed", "duration", m.cfg.Duration)
	case Interrupted:
		m.log.Info("interrupted")
	case SnapshotFailed:
		m.log.Warn("cannot read process", "pid", root.PID, "err", stop.Cause)
	}

	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stop, errors.Join(errs...)
}

func (m *Monitor) loop(ctx context.Context, root snapshot.Handle, start time.Time, acc *Accumulator) Stop {
	for {
		if ctx.Err() != nil {
			return Stop{Reason: Interrupted}
		}

		// Checked before the root read so no iteration starts past the budget.
		elapsed := m.now().Sub(start)
		if m.cfg.Duration > 0 && elapsed > m.cfg.Duration {
			return Stop{Reason: DurationExceeded}
		}

		res := m.src.Snapshot(ctx, root, m.cfg.IncludeIO)
		if res.Gone() {
			return rootGone(res.Err)
		}
		if res.Reading.Status.Terminated() {
			return Stop{Reason: ProcessExited}
		}

		var children []snapshot.Result
		if m.cfg.IncludeChildren {
			handles, err := m.registry.Refresh(ctx, m.src, root)
			if err != nil {
				m.log.Debug("descendant enumeration failed", "pid", root.PID, "err", err)
			}
			children = make([]snapshot.Result, 0, len(handles))
			for _, h := range handles {
				r := m.src.Snapshot(ctx, h, m.cfg.IncludeIO)
				if r.Gone() {
					m.log.Debug("skipping descendant", "child", h, "err", r.Err)
				}
				children = append(children, r)
			}
		}

		s := Aggregate(res.Reading, children, m.cfg.IncludeChildren)
		s.Elapsed = elapsed
		if m.cfg.Dir != "" {
			s.DirSize = disk.DirSize(m.cfg.Dir)
		}

		if ctx.Err() != nil {
			return Stop{Reason: Interrupted}
		}
		for _, sk := range m.sinks {
			if err := sk.Accept(s); err != nil {
				m.log.Warn("sink write failed", "err", err)
			}
		}
		acc.Apply(s)

		if m.cfg.Interval > 0 && !pause(ctx, m.cfg.Interval) {
			return Stop{Reason: Interrupted}
		}
	}
}

// rootGone classifies a failed root read: a permission problem means we
// could never sample it, anything else means it went away.
func rootGone(err error) Stop {
	if errors.Is(err, os.ErrPermission) {
		return Stop{Reason: SnapshotFailed, Cause: err}
	}
	return Stop{Reason: ProcessExited, Cause: err}
}

// pause waits for d and reports false if ctx was cancelled first.
func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
