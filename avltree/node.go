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
	"sync/atomic"

	"github.com/dijkstracula/go-cds/seqlock"
)

// Dir is the direction a cursor takes from a node: towards the node with
// the lesser key, the node with the greater key, or "found" (the cursor's
// current node is the one being searched for).
type Dir int

const (
	Left Dir = iota
	Eq
	Right
)

// nodeInner is everything about a node that's mutated after construction:
// its logical value (nil means "logically removed") and its two children. It's held behind a
// seqlock so a writer can publish changes to all three fields atomically
// from a reader's point of view, while readers never block.
type nodeInner[K any, V any] struct {
	value atomic.Pointer[V]
	left  atomic.Pointer[node[K, V]]
	right atomic.Pointer[node[K, V]]
}

// child returns the slot for the given direction. Eq has no child slot;
// callers never hold dir == Eq while navigating structure.
func (n *nodeInner[K, V]) child(dir Dir) *atomic.Pointer[node[K, V]] {
	switch dir {
	case Left:
		return &n.left
	case Right:
		return &n.right
	default:
		panic("avltree: Eq has no child slot")
	}
}

func (n *nodeInner[K, V]) isSameChild(dir Dir, candidate *node[K, V]) bool {
	return n.child(dir).Load() == candidate
}

// factor returns height(left) - height(right), with 0 for a nil child.
func (n *nodeInner[K, V]) factor() int64 {
	lh, rh := childHeight(n.left.Load()), childHeight(n.right.Load())
	return lh - rh
}

// newHeight returns 1 + max(height(left), height(right)), with 0 for a nil
// child — the quiescent height invariant, recomputed from current children.
func (n *nodeInner[K, V]) newHeight() int64 {
	lh, rh := childHeight(n.left.Load()), childHeight(n.right.Load())
	if lh > rh {
		return lh + 1
	}
	return rh + 1
}

func childHeight[K any, V any](n *node[K, V]) int64 {
	if n == nil {
		return 0
	}
	return n.height.Load()
}

// node is a tree node: an immutable key, an atomically-published height,
// and a seqlock-protected value/children record.
//
// node is unexported: callers interact with the tree only through Tree's
// methods, never with nodes directly. A node is purely an implementation
// detail of the cursor/repair machinery.
type node[K any, V any] struct {
	key    K
	height atomic.Int64
	inner  seqlock.SeqLock[nodeInner[K, V]]
}

func newNode[K any, V any](key K, value V) *node[K, V] {
	n := &node[K, V]{key: key, inner: *seqlock.New(nodeInner[K, V]{})}
	n.height.Store(1)

	wg := n.inner.WriteLock()
	wg.Value().value.Store(&value)
	wg.Unlock()

	return n
}

// rotateLeft changes Parent-RightChild into LeftChild-Parent: current's
// right child becomes the new parent, current becomes that new parent's
// left child, and the new parent's former left child (which sorts between
// current and the new parent) becomes current's new right child. Both
// nodes must already be held under their own write guards; rotateLeft only
// permutes pointers through those guards; it never acquires a lock itself.
func rotateLeft[K any, V any](current *node[K, V], currentInner, rightInner *nodeInner[K, V]) *node[K, V] {
	rightLeft := rightInner.left.Load()
	newParent := currentInner.right.Swap(rightLeft)
	rightInner.left.Store(current)
	return newParent
}

// rotateRight is the mirror image of rotateLeft.
func rotateRight[K any, V any](current *node[K, V], currentInner, leftInner *nodeInner[K, V]) *node[K, V] {
	leftRight := leftInner.right.Load()
	newParent := currentInner.left.Swap(leftRight)
	leftInner.right.Store(current)
	return newParent
}
