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
// Package epoch provides the minimal epoch-based reclamation provider that
// package avltree treats as an external collaborator: pin a reader, load
// pointers protected by a pin, and defer destruction of a node until no pin
// predates its unlinking.
//
// This is intentionally small. A general-purpose reclamation library would
// shard reader state per CPU, cache thread-local pins, and offer several
// reclamation strategies; none of that is this repository's job. avltree
// only needs the four operations in Provider, so that's all this package
// ships.
package epoch

import (
	"sync"
	"sync/atomic"
)

// Guard is an opaque token returned by Pin or Unprotected. It must be
// released with the owning Manager's Release method once the holder is done
// touching memory it observed while pinned.
type Guard interface {
	epochGuard()
}

// Provider is the contract package avltree consumes from its reclamation
// collaborator. Manager is the concrete implementation this package ships;
// any other type providing the same four operations with epoch (or
// equivalent quiescent-state) semantics is an acceptable substitute.
type Provider[T any] interface {
	// Pin marks the caller as an active reader. While the returned guard is
	// held, no node that guard has already observed may be destroyed.
	Pin() Guard

	// Release ends a reader's participation, begun by Pin. Safe to call
	// with an Unprotected guard (a no-op).
	Release(guard Guard)

	// DeferDestroy schedules ptr for reclamation once no guard older than
	// the current epoch remains pinned. Called only after ptr has been
	// physically unlinked (its former parent's child pointer no longer
	// names it).
	DeferDestroy(guard Guard, ptr *T)

	// Unprotected returns a pseudo-guard usable only when the caller
	// already holds exclusive access to the structure (e.g. during
	// teardown). DeferDestroy called with this guard drops its reference
	// immediately instead of deferring.
	Unprotected() Guard
}

type reader struct {
	epoch  atomic.Uint64
	active atomic.Bool
}

// pinGuard is the Guard returned by Manager.Pin.
type pinGuard[T any] struct {
	mgr      *Manager[T]
	reader   *reader
	readerID uint64
}

func (*pinGuard[T]) epochGuard() {}

// unprotectedGuard is the Guard returned by Manager.Unprotected.
type unprotectedGuard struct{}

func (unprotectedGuard) epochGuard() {}

// Manager is a straightforward epoch-based reclamation provider: readers
// record the global epoch they entered at, writers advance the global epoch
// after publishing a mutation, and nodes retired at epoch E are freed once
// every active reader has an epoch greater than E.
//
// Because nodes here are ordinary Go values, "freeing" is just dropping the
// last reference so the garbage collector can do its job; there is no
// manual deallocation step the way there would be in a language without a
// GC.
type Manager[T any] struct {
	globalEpoch  atomic.Uint64
	nextReaderID atomic.Uint64
	readers      sync.Map // uint64 -> *reader

	retiredMu sync.Mutex
	retired   map[uint64][]*T
}

// NewManager returns a Manager starting at epoch 1 (0 is reserved to mean
// "no epoch recorded").
func NewManager[T any]() *Manager[T] {
	m := &Manager[T]{retired: make(map[uint64][]*T)}
	m.globalEpoch.Store(1)
	return m
}

// Pin implements Provider.
func (m *Manager[T]) Pin() Guard {
	id := m.nextReaderID.Add(1)
	r := &reader{}
	r.epoch.Store(m.globalEpoch.Load())
	r.active.Store(true)
	m.readers.Store(id, r)

	return &pinGuard[T]{mgr: m, reader: r, readerID: id}
}

// Unprotected implements Provider.
func (m *Manager[T]) Unprotected() Guard {
	return unprotectedGuard{}
}

// Release implements Provider.
func (m *Manager[T]) Release(guard Guard) {
	pg, ok := guard.(*pinGuard[T])
	if !ok {
		return
	}
	pg.reader.active.Store(false)
	pg.mgr.readers.Delete(pg.readerID)
}

// DeferDestroy implements Provider.
func (m *Manager[T]) DeferDestroy(guard Guard, ptr *T) {
	if ptr == nil {
		return
	}
	if _, unprotected := guard.(unprotectedGuard); unprotected {
		return
	}

	epoch := m.globalEpoch.Load()
	m.retiredMu.Lock()
	m.retired[epoch] = append(m.retired[epoch], ptr)
	m.retiredMu.Unlock()
}

// Advance increments the global epoch and returns the new value. Callers
// invoke this after a mutation has been published, so that readers pinned
// before the mutation are distinguishable from readers pinned after it.
func (m *Manager[T]) Advance() uint64 {
	return m.globalEpoch.Add(1)
}

// TryReclaim drops references to every node retired strictly before the
// oldest epoch any active reader is pinned at, allowing the garbage
// collector to reclaim them, and returns how many were dropped.
func (m *Manager[T]) TryReclaim() int {
	minEpoch := m.minActiveEpoch()

	m.retiredMu.Lock()
	defer m.retiredMu.Unlock()

	reclaimed := 0
	for epoch, nodes := range m.retired {
		if epoch < minEpoch {
			reclaimed += len(nodes)
			delete(m.retired, epoch)
		}
	}
	return reclaimed
}

// PendingCount returns the number of nodes currently retired but not yet
// reclaimed. Exposed for tests that want to assert forward progress.
func (m *Manager[T]) PendingCount() int {
	m.retiredMu.Lock()
	defer m.retiredMu.Unlock()

	count := 0
	for _, nodes := range m.retired {
		count += len(nodes)
	}
	return count
}

// ActiveReaderCount returns the number of readers currently pinned.
func (m *Manager[T]) ActiveReaderCount() int {
	count := 0
	m.readers.Range(func(_, value any) bool {
		if value.(*reader).active.Load() {
			count++
		}
		return true
	})
	return count
}

func (m *Manager[T]) minActiveEpoch() uint64 {
	minEpoch := m.globalEpoch.Load()
	m.readers.Range(func(_, value any) bool {
		r := value.(*reader)
		if r.active.Load() {
			if e := r.epoch.Load(); e < minEpoch {
				minEpoch = e
			}
		}
		return true
	})
	return minEpoch
}
