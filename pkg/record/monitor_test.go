//go:build linux

package record

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/r-xue/psrecord/pkg/snapshot"
	"github.com/r-xue/psrecord/pkg/system/spawn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newMonitor(t *testing.T, cfg Config, src snapshot.Source, sinks ...Sink) *Monitor {
	t.Helper()
	m, err := New(cfg, src, sinks, quiet())
	require.NoError(t, err)
	return m
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Interval: -time.Second}, newFake(), nil)
	assert.ErrorIs(t, err, ErrBadConfig)

	_, err = New(Config{Duration: -time.Second}, newFake(), nil)
	assert.ErrorIs(t, err, ErrBadConfig)

	_, err = New(Config{}, nil, nil)
	assert.ErrorIs(t, err, ErrBadConfig)
}

func TestRun_ProcessExited_WithoutChildren(t *testing.T) {
	f := newFake()
	f.script[rootH] = []snapshot.Result{live(10, 1), live(20, 2), live(30, 3), zombie()}
	f.script[kidA] = []snapshot.Result{live(99, 99)}
	f.tree = [][]snapshot.Handle{{kidA}}
	sink := &memSink{}

	stop, err := newMonitor(t, Config{}, f, sink).Run(context.Background(), rootH)
	require.NoError(t, err)

	assert.Equal(t, ProcessExited, stop.Reason)
	require.Len(t, sink.samples, 3)
	for i, s := range sink.samples {
		assert.Equal(t, 1, s.NProc)
		assert.Equal(t, f.script[rootH][i].Reading.CPUPercent, s.CPUPercent)
		assert.Equal(t, f.script[rootH][i].Reading.MemReal, s.MemReal)
		assert.Nil(t, s.IO)
	}
	assert.Equal(t, 1, sink.closes)
	assert.Equal(t, 0, f.treeCalls, "children are never enumerated")
	assert.Equal(t, 3, stop.Summary.Samples)
	assert.InDelta(t, 30.0, stop.Summary.PeakCPU, 1e-9)
}

func TestRun_RootGone(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Reason
	}{
		{"not_exist", snapshot.ErrProcessGone, ProcessExited},
		{"permission", errors.Join(snapshot.ErrProcessGone, os.ErrPermission), SnapshotFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFake()
			f.script[rootH] = []snapshot.Result{live(1, 1), {Err: tc.err}}
			sink := &memSink{}

			stop, err := newMonitor(t, Config{}, f, sink).Run(context.Background(), rootH)
			require.NoError(t, err)
			assert.Equal(t, tc.want, stop.Reason)
			assert.ErrorIs(t, stop.Cause, tc.err)
			assert.Len(t, sink.samples, 1)
			assert.Equal(t, 1, sink.closes)
		})
	}
}

func TestRun_ZeroSamples(t *testing.T) {
	f := newFake()
	f.script[rootH] = []snapshot.Result{zombie()}
	sink := &memSink{}

	stop, err := newMonitor(t, Config{}, f, sink).Run(context.Background(), rootH)
	require.NoError(t, err)
	assert.Equal(t, ProcessExited, stop.Reason)
	assert.Empty(t, sink.samples)
	assert.Equal(t, 1, sink.closes)
	assert.Equal(t, Result{}, stop.Summary)
}

func TestRun_DurationExceeded_NoReadPastThreshold(t *testing.T) {
	clock := &stepClock{t: time.Unix(1_700_000_000, 0)}
	f := newFake()
	f.script[rootH] = []snapshot.Result{live(1, 1)}
	// every root read costs 50ms of wall time
	f.onRoot = func(int) { clock.advance(50 * time.Millisecond) }
	sink := &memSink{}

	m, err := New(Config{Duration: 200 * time.Millisecond}, f, []Sink{sink}, quiet(), WithClock(clock.now))
	require.NoError(t, err)
	stop, err := m.Run(context.Background(), rootH)
	require.NoError(t, err)

	assert.Equal(t, DurationExceeded, stop.Reason)
	// iterations start at 0, 50, 100, 150, 200ms; the one at 250ms never reads
	require.Len(t, sink.samples, 5)
	assert.Equal(t, 5, f.calls[rootH])
	for i, s := range sink.samples {
		assert.Equal(t, time.Duration(i)*50*time.Millisecond, s.Elapsed)
		assert.LessOrEqual(t, s.Elapsed, 200*time.Millisecond)
	}
}

func TestRun_DurationExceeded_RealClock(t *testing.T) {
	f := newFake()
	f.script[rootH] = []snapshot.Result{live(1, 1)}
	sink := &memSink{}
	cfg := Config{Duration: 200 * time.Millisecond, Interval: 50 * time.Millisecond}

	stop, err := newMonitor(t, cfg, f, sink).Run(context.Background(), rootH)
	require.NoError(t, err)

	assert.Equal(t, DurationExceeded, stop.Reason)
	assert.GreaterOrEqual(t, len(sink.samples), 1)
	assert.LessOrEqual(t, len(sink.samples), 6)
	for _, s := range sink.samples {
		assert.LessOrEqual(t, s.Elapsed, cfg.Duration)
	}
	assert.Greater(t, stop.Elapsed, cfg.Duration)
}

func TestRun_ChildExitDropsCountButStaysRegistered(t *testing.T) {
	f := newFake()
	f.script[rootH] = []snapshot.Result{live(1, 1), live(1, 1), live(1, 1), live(1, 1), zombie()}
	f.script[kidA] = []snapshot.Result{live(10, 10), live(10, 10), gone()}
	f.script[kidB] = []snapshot.Result{live(20, 20)}
	f.tree = [][]snapshot.Handle{{kidA, kidB}, {kidA, kidB}, {kidB}}
	sink := &memSink{}

	m := newMonitor(t, Config{IncludeChildren: true}, f, sink)
	stop, err := m.Run(context.Background(), rootH)
	require.NoError(t, err)
	assert.Equal(t, ProcessExited, stop.Reason)

	var nproc []int
	for _, s := range sink.samples {
		nproc = append(nproc, s.NProc)
	}
	assert.Equal(t, []int{3, 3, 2, 2}, nproc)
	assert.Equal(t, uint64(21*MB), sink.samples[3].MemReal.Uint64())
	assert.Equal(t, []snapshot.Handle{kidA, kidB}, m.Registry().Handles())
	assert.Equal(t, 4, f.calls[kidA], "a dead child is still looked at every iteration")
	assert.Equal(t, 3, stop.Summary.PeakNProc)
}

func TestRun_EnumerationFailureUsesLastKnownChildren(t *testing.T) {
	f := newFake()
	f.script[rootH] = []snapshot.Result{live(1, 1), live(1, 1), zombie()}
	f.script[kidA] = []snapshot.Result{live(5, 5)}
	f.tree = [][]snapshot.Handle{{kidA}}
	f.treeErrAt[1] = true
	sink := &memSink{}

	_, err := newMonitor(t, Config{IncludeChildren: true}, f, sink).Run(context.Background(), rootH)
	require.NoError(t, err)

	require.Len(t, sink.samples, 2)
	assert.Equal(t, 2, sink.samples[1].NProc)
}

func TestRun_RegistryResetBetweenRuns(t *testing.T) {
	f := newFake()
	f.script[rootH] = []snapshot.Result{live(1, 1), zombie()}
	f.script[kidA] = []snapshot.Result{live(1, 1)}
	f.script[kidB] = []snapshot.Result{live(1, 1)}
	f.tree = [][]snapshot.Handle{{kidA}}

	m := newMonitor(t, Config{IncludeChildren: true}, f, &memSink{})
	_, err := m.Run(context.Background(), rootH)
	require.NoError(t, err)
	assert.Equal(t, []snapshot.Handle{kidA}, m.Registry().Handles())

	clear(f.calls)
	f.treeCalls = 0
	f.tree = [][]snapshot.Handle{{kidB}}
	m.sinks = []Sink{&memSink{}}
	_, err = m.Run(context.Background(), rootH)
	require.NoError(t, err)
	assert.Equal(t, []snapshot.Handle{kidB}, m.Registry().Handles())
}

func TestRun_IncludeIOAndDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.dat"), make([]byte, 4096), 0o644))

	f := newFake()
	f.script[rootH] = []snapshot.Result{withIO(live(1, 1), 1), zombie()}
	f.script[kidA] = []snapshot.Result{withIO(live(1, 1), 10)}
	f.tree = [][]snapshot.Handle{{kidA}}
	sink := &memSink{}

	cfg := Config{IncludeChildren: true, IncludeIO: true, Dir: dir}
	_, err := newMonitor(t, cfg, f, sink).Run(context.Background(), rootH)
	require.NoError(t, err)

	require.Len(t, sink.samples, 1)
	s := sink.samples[0]
	require.NotNil(t, s.IO)
	assert.Equal(t, uint64(11), s.IO.ReadCount)
	assert.Equal(t, uint64(44), s.IO.WriteBytes)
	assert.Equal(t, uint64(4096), s.DirSize.Uint64())
}

func TestRun_Interrupted(t *testing.T) {
	t.Run("between_iterations", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		f := newFake()
		f.script[rootH] = []snapshot.Result{live(1, 1)}
		sink := &memSink{onAccept: func(n int) {
			if n == 2 {
				cancel()
			}
		}}

		stop, err := newMonitor(t, Config{}, f, sink).Run(ctx, rootH)
		require.NoError(t, err)
		assert.Equal(t, Interrupted, stop.Reason)
		assert.Len(t, sink.samples, 2, "samples already routed are kept")
		assert.Equal(t, 1, sink.closes)
	})

	t.Run("during_pause", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		f := newFake()
		f.script[rootH] = []snapshot.Result{live(1, 1)}
		sink := &memSink{onAccept: func(int) { cancel() }}

		start := time.Now()
		stop, err := newMonitor(t, Config{Interval: time.Hour}, f, sink).Run(ctx, rootH)
		require.NoError(t, err)
		assert.Equal(t, Interrupted, stop.Reason)
		assert.Len(t, sink.samples, 1)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("mid_iteration_skips_routing", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		f := newFake()
		f.script[rootH] = []snapshot.Result{live(1, 1)}
		f.onRoot = func(call int) {
			if call == 1 {
				cancel()
			}
		}
		sink := &memSink{}

		stop, err := newMonitor(t, Config{}, f, sink).Run(ctx, rootH)
		require.NoError(t, err)
		assert.Equal(t, Interrupted, stop.Reason)
		assert.Len(t, sink.samples, 1)
	})
}

func TestRun_SinkCloseErrorIsReported(t *testing.T) {
	f := newFake()
	f.script[rootH] = []snapshot.Result{zombie()}
	boom := errors.New("disk full")
	ok := &memSink{}
	bad := &memSink{closeErr: boom}

	stop, err := newMonitor(t, Config{}, f, bad, ok).Run(context.Background(), rootH)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, ProcessExited, stop.Reason)
	assert.Equal(t, 1, ok.closes, "every sink is closed even if one fails")
}

func TestRun_SpawnedProcess(t *testing.T) {
	for _, b := range []snapshot.Backend{snapshot.BackendPsutil, snapshot.BackendProcfs} {
		t.Run(string(b), func(t *testing.T) {
			p, err := spawn.Start("sleep 0.5")
			require.NoError(t, err)
			t.Cleanup(func() { _ = p.Terminate() })

			root, err := snapshot.Open(p.Pid())
			require.NoError(t, err)
			src, err := snapshot.New(b)
			require.NoError(t, err)
			defer src.Close()

			sink := &memSink{}
			cfg := Config{Interval: 100 * time.Millisecond, IncludeChildren: true, IncludeIO: true}
			stop, err := newMonitor(t, cfg, src, sink).Run(context.Background(), root)
			require.NoError(t, err)

			assert.Equal(t, ProcessExited, stop.Reason)
			assert.GreaterOrEqual(t, len(sink.samples), 1)
			assert.LessOrEqual(t, len(sink.samples), 7)
			for _, s := range sink.samples {
				assert.GreaterOrEqual(t, s.NProc, 1)
				assert.Greater(t, s.MemReal.Uint64(), uint64(0))
			}
		})
	}
}
