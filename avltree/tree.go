// Copyright 2020 Nathan Taylor (nbtaylor@gmail.com)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
// Package avltree implements a concurrent ordered map as a self-balancing
// AVL binary search tree, synchronized with fine-grained seqlocks (package
// seqlock) instead of a tree-wide lock. Readers are optimistic: they never
// block a writer, they validate what they read and retry when a writer
// raced them. Writers lock only the node (or handful of nodes, for a
// rotation) they are mutating. Unlinked nodes are freed through an epoch
// provider (package epoch) rather than directly, so a reader that began
// before a node was unlinked can keep dereferencing it safely.
package avltree

import (
	"errors"
	"sync/atomic"

	"github.com/dijkstracula/go-cds/epoch"
)

// ErrDuplicate is returned by Insert when key is already present.
var ErrDuplicate = errors.New("avltree: key already present")

// ErrAbsent is returned by Remove when key has no entry in the tree. Get
// reports the same condition as ok == false, and Lookup by passing nil to
// its observer.
var ErrAbsent = errors.New("avltree: key not present")

// Config holds tunable behavior for a Tree. The zero value is not
// necessarily safe to use directly; construct one with DefaultConfig and
// apply Options on top of it.
type Config struct {
	// StatsEnabled turns on the atomic operation counters surfaced through
	// Tree.Stats. Enabled by default; a caller on a very hot path that never
	// inspects Stats can turn the extra atomic increments off.
	StatsEnabled bool
}

// DefaultConfig returns a Config with stats tracking enabled.
func DefaultConfig() Config {
	return Config{StatsEnabled: true}
}

// Option configures a Tree at construction time.
type Option[K any, V any] func(*Config)

// WithStats enables or disables the Tree's operation counters.
func WithStats[K any, V any](enabled bool) Option[K, V] {
	return func(c *Config) { c.StatsEnabled = enabled }
}

// Stats is a point-in-time snapshot of a Tree's operation counters, taken
// with Tree.Stats. It tracks this tree's own operations and outcomes
// (inserts, duplicates, removes, absences) plus repair's two structural
// actions (cleanups, rotations) rather than anything B+tree-shaped.
type Stats struct {
	Inserts    int64
	Duplicates int64
	Removes    int64
	Absences   int64
	Cleanups   int64
	Rotations  int64
}

// stats holds the live atomic counters backing Stats.
type stats struct {
	inserts    atomic.Int64
	duplicates atomic.Int64
	removes    atomic.Int64
	absences   atomic.Int64
	cleanups   atomic.Int64
	rotations  atomic.Int64
}

func (s *stats) snapshot() Stats {
	return Stats{
		Inserts:    s.inserts.Load(),
		Duplicates: s.duplicates.Load(),
		Removes:    s.removes.Load(),
		Absences:   s.absences.Load(),
		Cleanups:   s.cleanups.Load(),
		Rotations:  s.rotations.Load(),
	}
}

// Tree is a concurrent ordered map implemented as a self-balancing AVL
// binary search tree. Readers never block; writers lock only the nodes
// they mutate. The zero value is not usable; construct one with New.
type Tree[K any, V any] struct {
	root    *node[K, V]
	cmp     Cmp[K]
	reclaim *epoch.Manager[node[K, V]]
	cfg     Config
	stats   stats
}

// New returns an empty Tree ordered by cmp. Nodes unlinked by concurrent
// writers are reclaimed through an internal epoch.Manager once no
// in-flight reader can still observe them.
//
// The reclamation provider isn't a constructor parameter: epoch.Provider is
// generic over the type it reclaims, and the node type repair unlinks is
// this package's own unexported node[K,V] — no caller outside this package
// can name it to supply a provider of their own. Tree owns an
// epoch.Manager[node[K,V]] internally instead; any caller wanting a
// different reclamation strategy is better served by a different tree
// implementation than by threading a provider they can't type-check.
func New[K any, V any](cmp Cmp[K], opts ...Option[K, V]) *Tree[K, V] {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var zeroKey K
	var zeroValue V
	return &Tree[K, V]{
		root:    newNode(zeroKey, zeroValue),
		cmp:     cmp,
		reclaim: epoch.NewManager[node[K, V]](),
		cfg:     cfg,
	}
}

// Pin begins a reader's participation with the tree's epoch provider. The
// returned guard must be passed to every operation the caller performs
// until it calls Release; holding one guard across several operations
// amortizes the pin.
func (t *Tree[K, V]) Pin() epoch.Guard {
	return t.reclaim.Pin()
}

// Release ends participation begun by Pin.
func (t *Tree[K, V]) Release(guard epoch.Guard) {
	t.reclaim.Release(guard)
}

// Stats returns a snapshot of the tree's operation counters. Always reads
// as all-zero if the tree was constructed with WithStats(false).
func (t *Tree[K, V]) Stats() Stats {
	return t.stats.snapshot()
}

// Insert adds key/value to the tree. It returns ErrDuplicate if key is
// already present (logically: its value slot is non-nil); the rejected
// value is the caller's own, so nothing further is returned to reclaim.
func (t *Tree[K, V]) Insert(key K, value V, guard epoch.Guard) error {
	c := newCursor(t.root)

	for {
		c.recover()
		c.find(key, t.cmp)

		writeGuard, ok := c.guard.Upgrade()
		if !ok {
			continue
		}

		if c.dir == Eq && writeGuard.Value().value.Load() != nil {
			writeGuard.Unlock()
			if t.cfg.StatsEnabled {
				t.stats.duplicates.Add(1)
			}
			return ErrDuplicate
		}

		if len(c.ancestors) > 0 {
			parent := c.ancestors[len(c.ancestors)-1]
			if !parent.guard.Value().isSameChild(parent.dir, c.current) || !parent.guard.Validate() {
				writeGuard.Unlock()
				continue
			}
		}

		switch c.dir {
		case Left:
			if writeGuard.Value().left.Load() != nil {
				writeGuard.Unlock()
				continue
			}
			writeGuard.Value().left.Store(newNode(key, value))
		case Right:
			if writeGuard.Value().right.Load() != nil {
				writeGuard.Unlock()
				continue
			}
			writeGuard.Value().right.Store(newNode(key, value))
		case Eq:
			writeGuard.Value().value.Store(&value)
		}

		writeGuard.Unlock()
		if t.cfg.StatsEnabled {
			t.stats.inserts.Add(1)
		}
		t.repair(c, guard)
		return nil
	}
}

// Get reports the value stored for key, copying it out under a validated
// read snapshot. ok is false if key is absent.
func (t *Tree[K, V]) Get(key K, guard epoch.Guard) (V, bool) {
	c := newCursor(t.root)

	for {
		c.recover()
		c.find(key, t.cmp)

		if c.dir != Eq {
			var zero V
			return zero, false
		}

		ptr := c.guard.Value().value.Load()
		if ptr == nil {
			if !c.guard.Validate() {
				continue
			}
			var zero V
			return zero, false
		}

		value := *ptr
		if !c.guard.Validate() {
			continue
		}
		return value, true
	}
}

// Lookup invokes observer with a pointer to the value stored for key, or
// nil if key is absent, and returns observer's result. The snapshot backing
// the pointer is upgraded to a write guard for the duration of the call, so
// observer runs with no concurrent writer able to touch this node's value;
// observer must return promptly and must never call back into this tree,
// since Go's call-then-return control flow is the only thing releasing the
// guard once observer is done.
func Lookup[K any, V any, R any](t *Tree[K, V], key K, guard epoch.Guard, observer func(*V) R) R {
	c := newCursor(t.root)

	for {
		c.recover()
		c.find(key, t.cmp)

		if c.dir != Eq {
			return observer(nil)
		}

		writeGuard, ok := c.guard.Upgrade()
		if !ok {
			continue
		}

		result := observer(writeGuard.Value().value.Load())
		writeGuard.Unlock()
		return result
	}
}

// Remove takes the value out of key's node, leaving the node logically
// removed for repair to unlink later, and returns it. It returns ErrAbsent
// if key has no entry.
func (t *Tree[K, V]) Remove(key K, guard epoch.Guard) (V, error) {
	c := newCursor(t.root)

	for {
		c.recover()
		c.find(key, t.cmp)

		if c.dir != Eq {
			if t.cfg.StatsEnabled {
				t.stats.absences.Add(1)
			}
			var zero V
			return zero, ErrAbsent
		}

		writeGuard, ok := c.guard.Upgrade()
		if !ok {
			continue
		}

		oldValue := writeGuard.Value().value.Swap(nil)
		if oldValue == nil {
			writeGuard.Unlock()
			if t.cfg.StatsEnabled {
				t.stats.absences.Add(1)
			}
			var zero V
			return zero, ErrAbsent
		}

		writeGuard.Unlock()
		if t.cfg.StatsEnabled {
			t.stats.removes.Add(1)
		}
		t.repair(c, guard)
		return *oldValue, nil
	}
}

// Height reports the height of the real tree root (root.right), 0 if
// empty. It takes root's write lock to get a precise reading without
// racing a concurrent top-level rotation; it is a diagnostic, not a
// hot-path operation.
func (t *Tree[K, V]) Height(guard epoch.Guard) int64 {
	wg := t.root.inner.WriteLock()
	defer wg.Unlock()

	right := wg.Value().right.Load()
	if right == nil {
		return 0
	}
	return right.height.Load()
}

// Close walks the tree under the epoch provider's Unprotected guard,
// handing every node to DeferDestroy so Go's garbage collector can reclaim
// it, and asks the provider to drain any bookkeeping for nodes retired
// earlier. It assumes no concurrent operation is in flight; it is for
// deterministic teardown in tests and explicit lifecycle management, not
// for use on a live tree.
func (t *Tree[K, V]) Close() {
	guard := t.reclaim.Unprotected()
	var walk func(n *node[K, V])
	walk = func(n *node[K, V]) {
		if n == nil {
			return
		}
		inner := n.inner.WriteLock()
		left := inner.Value().left.Load()
		right := inner.Value().right.Load()
		inner.Unlock()
		walk(left)
		walk(right)
		t.reclaim.DeferDestroy(guard, n)
	}
	walk(t.root)
	t.root = nil

	t.reclaim.Advance()
	t.reclaim.TryReclaim()
}
