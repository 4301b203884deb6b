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
// Package seqmap provides a single-threaded convenience wrapper around
// avltree.Tree. It exists because avltree's every operation takes an
// explicit epoch guard so a concurrent caller can amortize one pin across
// several operations; a sequential caller has no concurrency to amortize
// against, so seqmap pins once, for the Map's whole lifetime, and never
// contends with itself.
//
// seqmap reuses avltree's single tree algorithm rather than implementing a
// second, classic sequential AVL insertion/deletion (the two-child-swap
// removal some sequential AVL implementations use); see DESIGN.md.
package seqmap

import (
	"github.com/dijkstracula/go-cds/avltree"
	"github.com/dijkstracula/go-cds/epoch"
)

// Map is an ordered map backed by avltree.Tree, safe for use by exactly
// one goroutine at a time.
type Map[K any, V any] struct {
	tree  *avltree.Tree[K, V]
	guard epoch.Guard
}

// New returns an empty Map ordered by cmp.
func New[K any, V any](cmp avltree.Cmp[K]) *Map[K, V] {
	tree := avltree.New[K, V](cmp)
	return &Map[K, V]{tree: tree, guard: tree.Pin()}
}

// Insert adds key/value to the map. It returns avltree.ErrDuplicate if key
// is already present.
func (m *Map[K, V]) Insert(key K, value V) error {
	return m.tree.Insert(key, value, m.guard)
}

// Lookup reports the value stored for key. ok is false if key is absent.
func (m *Map[K, V]) Lookup(key K) (V, bool) {
	return m.tree.Get(key, m.guard)
}

// Remove takes key's value out of the map and returns it, or returns
// avltree.ErrAbsent if key has no entry.
func (m *Map[K, V]) Remove(key K) (V, error) {
	return m.tree.Remove(key, m.guard)
}

// Height reports the height of the map's underlying tree, 0 if empty.
func (m *Map[K, V]) Height() int64 {
	return m.tree.Height(m.guard)
}

// Close releases the Map's pinned epoch guard and its underlying tree's
// nodes. The Map must not be used afterward.
func (m *Map[K, V]) Close() {
	m.tree.Release(m.guard)
	m.tree.Close()
}
