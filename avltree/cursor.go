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
package avltree

import "github.com/dijkstracula/go-cds/seqlock"

// Cmp compares two keys, returning a negative number if a < b, zero if
// a == b, and a positive number if a > b — the three-way comparator every
// tree operation navigates with, since Go generics have no built-in
// ordering constraint for arbitrary K.
type Cmp[K any] func(a, b K) int

// ancestor records one step of a cursor's descent: the node visited, the
// read snapshot taken on it, and the direction taken to leave it.
type ancestor[K any, V any] struct {
	node  *node[K, V]
	guard seqlock.ReadGuard[nodeInner[K, V]]
	dir   Dir
}

// cursor is a hand-over-hand optimistic traversal: a stack of ancestor
// read-snapshots below the node currently under examination. Descent never
// blocks a writer; a cursor only pays for a failed race when it has to
// recover back to a snapshot that still validates.
type cursor[K any, V any] struct {
	ancestors []ancestor[K, V]
	current   *node[K, V]
	guard     seqlock.ReadGuard[nodeInner[K, V]]
	dir       Dir
}

// newCursor starts a traversal at root, the dummy sentinel whose own key is
// never compared; the real tree hangs off root's right child, so dir starts
// at Right.
func newCursor[K any, V any](root *node[K, V]) cursor[K, V] {
	return cursor[K, V]{
		current: root,
		guard:   root.inner.ReadLock(),
		dir:     Right,
	}
}

// recover unwinds the ancestor stack, discarding snapshots until it finds
// one that still validates — or the stack runs out, at which point the
// bottommost entry (ultimately rooted at the dummy sentinel, whose shape
// never changes) is trusted unconditionally. The cursor's own snapshot is
// then restarted either way.
func (c *cursor[K, V]) recover() {
	for len(c.ancestors) > 0 {
		top := c.ancestors[len(c.ancestors)-1]
		c.ancestors = c.ancestors[:len(c.ancestors)-1]
		if top.guard.Validate() || len(c.ancestors) == 0 {
			c.current = top.node
			c.guard = top.guard
			c.dir = top.dir
			break
		}
	}
	c.guard = c.guard.Restart()
}

// moveNext advances the cursor in the direction named by c.dir, using
// hand-over-hand optimistic locking: before committing to a child it
// revalidates its own snapshot and, if any, its parent's, recovering and
// retrying on failure rather than risk dereferencing a pointer a concurrent
// writer has already unlinked. It reports false once dir is Eq (nowhere
// left to go) or the named child is nil.
func (c *cursor[K, V]) moveNext() bool {
	for {
		if c.dir == Eq {
			return false
		}

		next := c.guard.Value().child(c.dir).Load()

		if !c.guard.Validate() {
			c.recover()
			continue
		}
		if len(c.ancestors) > 0 {
			if parent := c.ancestors[len(c.ancestors)-1]; !parent.guard.Validate() {
				c.recover()
				continue
			}
		}

		if next == nil {
			return false
		}

		nextGuard := next.inner.ReadLock()
		c.ancestors = append(c.ancestors, ancestor[K, V]{node: c.current, guard: c.guard, dir: c.dir})
		c.current = next
		c.guard = nextGuard
		return true
	}
}

// find descends from the cursor's current position looking for key,
// steering via cmp at each node it visits. It leaves dir == Eq once it
// lands on a node comparing equal to key, or leaves dir pointing at the
// empty child slot where key would be inserted if no such node exists.
func (c *cursor[K, V]) find(key K, cmp Cmp[K]) {
	for c.moveNext() {
		switch {
		case cmp(key, c.current.key) < 0:
			c.dir = Left
		case cmp(key, c.current.key) > 0:
			c.dir = Right
		default:
			c.dir = Eq
		}
	}
}
