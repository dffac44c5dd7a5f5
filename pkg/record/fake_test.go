//go:build linux

package record

import (
	"context"
	"errors"
	"time"

	"github.com/r-xue/psrecord/pkg/snapshot"
	"github.com/r-xue/psrecord/pkg/types"
)

const MB = 1 << 20

var (
	rootH = snapshot.Handle{PID: 100, StartTime: 1}
	kidA  = snapshot.Handle{PID: 101, StartTime: 2}
	kidB  = snapshot.Handle{PID: 102, StartTime: 3}
	kidC  = snapshot.Handle{PID: 103, StartTime: 4}
)

func live(cpu float64, realMB uint64) snapshot.Result {
	return snapshot.Result{Reading: snapshot.Reading{
		CPUPercent: cpu,
		MemReal:    types.Bytes(realMB * MB),
		MemVirtual: types.Bytes(2 * realMB * MB),
		MemSwap:    types.Bytes(realMB),
		Status:     snapshot.StatusRunning,
	}}
}

func withIO(r snapshot.Result, n uint64) snapshot.Result {
	r.Reading.IO = &snapshot.IOCounters{ReadCount: n, WriteCount: 2 * n, ReadBytes: 3 * n, WriteBytes: 4 * n}
	return r
}

func zombie() snapshot.Result {
	return snapshot.Result{Reading: snapshot.Reading{Status: snapshot.StatusZombie}}
}

func gone() snapshot.Result {
	return snapshot.Result{Err: snapshot.ErrProcessGone}
}

// fakeSource replays scripted results. For each handle the i-th Snapshot
// call returns script[h][i]; the last entry repeats. Descendants works the
// same way over tree.
type fakeSource struct {
	script map[snapshot.Handle][]snapshot.Result
	calls  map[snapshot.Handle]int

	tree      [][]snapshot.Handle
	treeErrAt map[int]bool
	treeCalls int

	// onRoot runs before every root read with the 0-based call index.
	onRoot func(call int)
	closed bool
}

func newFake() *fakeSource {
	return &fakeSource{
		script:    map[snapshot.Handle][]snapshot.Result{},
		calls:     map[snapshot.Handle]int{},
		treeErrAt: map[int]bool{},
	}
}

func (f *fakeSource) Snapshot(_ context.Context, h snapshot.Handle, includeIO bool) snapshot.Result {
	i := f.calls[h]
	f.calls[h]++
	if h == rootH && f.onRoot != nil {
		f.onRoot(i)
	}
	rs, ok := f.script[h]
	if !ok || len(rs) == 0 {
		return gone()
	}
	if i >= len(rs) {
		i = len(rs) - 1
	}
	r := rs[i]
	if !includeIO {
		r.Reading.IO = nil
	}
	return r
}

func (f *fakeSource) Descendants(_ context.Context, _ snapshot.Handle) ([]snapshot.Handle, error) {
	i := f.treeCalls
	f.treeCalls++
	if f.treeErrAt[i] {
		return nil, errors.New("enumeration failed")
	}
	if len(f.tree) == 0 {
		return nil, nil
	}
	if i >= len(f.tree) {
		i = len(f.tree) - 1
	}
	return f.tree[i], nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

// memSink records everything it is given.
type memSink struct {
	samples  []Sample
	closes   int
	onAccept func(n int)
	closeErr error
}

func (s *memSink) Accept(x Sample) error {
	s.samples = append(s.samples, x)
	if s.onAccept != nil {
		s.onAccept(len(s.samples))
	}
	return nil
}

func (s *memSink) Close() error {
	s.closes++
	return s.closeErr
}

// stepClock advances only when told to.
type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time          { return c.t }
func (c *stepClock) advance(d time.Duration) { c.t = c.t.Add(d) }
