//go:build linux

package record

import (
	"context"
	"slices"

	"github.com/r-xue/psrecord/pkg/snapshot"
)

// Lister enumerates the live descendants of a process.
type Lister interface {
	Descendants(ctx context.Context, root snapshot.Handle) ([]snapshot.Handle, error)
}

// Registry remembers every descendant seen during one run, in discovery
// order. Handles are only ever added: a child that exits stays registered
// and is skipped at aggregation time because its snapshot reports it gone.
type Registry struct {
	seen  map[snapshot.Handle]struct{}
	order []snapshot.Handle
}

func NewRegistry() *Registry {
	return &Registry{seen: make(map[snapshot.Handle]struct{})}
}

// Reset empties the registry. Called once at the start of each run.
func (r *Registry) Reset() {
	clear(r.seen)
	r.order = r.order[:0]
}

// Len returns the number of handles registered so far.
func (r *Registry) Len() int { return len(r.order) }

// Handles returns a copy of the registry contents.
func (r *Registry) Handles() []snapshot.Handle { return slices.Clone(r.order) }

// Refresh adds any descendant of root not registered yet and returns the
// full registry. When enumeration fails (typically because root just
// exited) the registry is returned unchanged, so the last known children
// still get one more aggregation pass.
func (r *Registry) Refresh(ctx context.Context, l Lister, root snapshot.Handle) ([]snapshot.Handle, error) {
	found, err := l.Descendants(ctx, root)
	if err != nil {
		return r.Handles(), err
	}
	for _, h := range found {
		if _, ok := r.seen[h]; ok {
			continue
		}
		r.seen[h] = struct{}{}
		r.order = append(r.order, h)
	}
	return r.Handles(), nil
}
