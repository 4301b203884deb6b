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

import (
	"github.com/dijkstracula/go-cds/epoch"
	"github.com/dijkstracula/go-cds/seqlock"
)

// repair walks a cursor's ancestor stack bottom-up, from the node an
// Insert or Remove just touched up toward the dummy root, attempting
// physical cleanup of a logically-removed node at each level and, failing
// that, recomputing its height and checking whether it needs rebalancing
// against its own parent.
func (t *Tree[K, V]) repair(c cursor[K, V], guard epoch.Guard) {
	current := c.current
	destroyed := false

	for len(c.ancestors) > 0 {
		a := c.ancestors[len(c.ancestors)-1]
		c.ancestors = c.ancestors[:len(c.ancestors)-1]
		parent, parentGuard, dir := a.node, a.guard, a.dir

		if tryCleanup(current, parent, dir, t.reclaim, guard) {
			destroyed = true
			if t.cfg.StatsEnabled {
				t.stats.cleanups.Add(1)
			}
		} else {
			for {
				newHeight, ok := seqlock.Read(&current.inner, func(n *nodeInner[K, V]) int64 {
					return n.newHeight()
				})
				if ok {
					current.height.Store(newHeight)
					break
				}
			}

			if len(c.ancestors) > 0 {
				root := c.ancestors[len(c.ancestors)-1]
				if tryRebalance(parent, parentGuard, root.node, root.dir) && t.cfg.StatsEnabled {
					t.stats.rotations.Add(1)
				}
			}
		}

		current = parent
	}

	if destroyed {
		t.reclaim.Advance()
		t.reclaim.TryReclaim()
	}
}

// tryCleanup physically unlinks current from parent's dir child slot if
// current is logically removed (its value slot is nil) and has at most one
// child. It reports whether the unlink happened; on success current is
// handed to reclaim for deferred destruction.
func tryCleanup[K any, V any](current, parent *node[K, V], dir Dir, reclaim epoch.Provider[node[K, V]], guard epoch.Guard) bool {
	readGuard := current.inner.ReadLock()

	if readGuard.Value().value.Load() != nil {
		return false
	}

	leftNil := readGuard.Value().left.Load() == nil
	rightNil := readGuard.Value().right.Load() == nil
	if !leftNil && !rightNil {
		return false
	}

	parentWriteGuard := parent.inner.WriteLock()
	if !parentWriteGuard.Value().isSameChild(dir, current) {
		parentWriteGuard.Unlock()
		return false
	}

	writeGuard, ok := readGuard.Upgrade()
	if !ok {
		parentWriteGuard.Unlock()
		return false
	}

	var replacement *node[K, V]
	if !leftNil {
		replacement = writeGuard.Value().left.Swap(nil)
	} else {
		replacement = writeGuard.Value().right.Swap(nil)
	}

	parentWriteGuard.Value().child(dir).Store(replacement)

	parentWriteGuard.Unlock()
	writeGuard.Unlock()

	reclaim.DeferDestroy(guard, current)
	return true
}

// tryRebalance restores the AVL bound at parent if it has drifted outside
// [-1, 1], rotating against root (the anchor whose rootDir child pointer
// names parent) to keep the rotation's lock set fixed at root → parent →
// pivot → pivot's child, the order every rebalance in this tree uses to
// avoid deadlock.
func tryRebalance[K any, V any](parent *node[K, V], parentReadGuard seqlock.ReadGuard[nodeInner[K, V]], root *node[K, V], rootDir Dir) bool {
	if f := parentReadGuard.Value().factor(); f >= -1 && f <= 1 {
		return false
	}

	rootGuard := root.inner.WriteLock()
	if !rootGuard.Value().isSameChild(rootDir, parent) {
		rootGuard.Unlock()
		return false
	}

	parentGuard := parent.inner.WriteLock()

	var current *node[K, V]
	var currentGuard seqlock.WriteGuard[nodeInner[K, V]]

	switch {
	case parentGuard.Value().factor() <= -2:
		current = parentGuard.Value().right.Load()
		currentGuard = current.inner.WriteLock()

		if currentGuard.Value().factor() > 0 {
			// partial right-left rotation
			leftChild := currentGuard.Value().left.Load()
			leftChildGuard := leftChild.inner.WriteLock()

			parentGuard.Value().right.Store(rotateRight(current, currentGuard.Value(), leftChildGuard.Value()))
			current.height.Store(currentGuard.Value().newHeight())

			currentGuard.Unlock()
			current = leftChild
			currentGuard = leftChildGuard
		}

		rootGuard.Value().child(rootDir).Store(rotateLeft(parent, parentGuard.Value(), currentGuard.Value()))

	case parentGuard.Value().factor() >= 2:
		current = parentGuard.Value().left.Load()
		currentGuard = current.inner.WriteLock()

		if currentGuard.Value().factor() < 0 {
			// partial left-right rotation
			rightChild := currentGuard.Value().right.Load()
			rightChildGuard := rightChild.inner.WriteLock()

			parentGuard.Value().left.Store(rotateLeft(current, currentGuard.Value(), rightChildGuard.Value()))
			current.height.Store(currentGuard.Value().newHeight())

			currentGuard.Unlock()
			current = rightChild
			currentGuard = rightChildGuard
		}

		rootGuard.Value().child(rootDir).Store(rotateRight(parent, parentGuard.Value(), currentGuard.Value()))

	default:
		// factor drifted back into range between the read snapshot and the
		// write lock; nothing to do.
		parentGuard.Unlock()
		rootGuard.Unlock()
		return false
	}

	parent.height.Store(parentGuard.Value().newHeight())
	current.height.Store(currentGuard.Value().newHeight())

	currentGuard.Unlock()
	parentGuard.Unlock()
	rootGuard.Unlock()
	return true
}
