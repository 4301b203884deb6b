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

// Package seqlock implements a sequence lock: a synchronization primitive that
// lets readers proceed without ever blocking a writer, at the cost of readers
// having to validate (and, on failure, retry) whatever they read.
//
// A seqlock wraps a value of type T behind a monotonically increasing counter.
// The counter is even while no writer holds the lock and odd while one does;
// a reader takes a snapshot of the counter, reads the protected value with
// plain loads, and then re-checks the counter to see whether a writer raced
// it. Unlike a RWMutex, acquiring the lock for read never blocks a writer, and
// a reader can be made to retry instead of ever observing a torn read.
//
// ISLock/IXLock-style hierarchical exclusion is a different problem (locking
// a path through a tree against other lockers of the same path); a SeqLock
// instead protects a single value against readers that race a single writer,
// which is the primitive the concurrent AVL tree in package avltree is built
// from.
package seqlock

import "sync/atomic"

// rawSeqLock holds the even/odd version counter. seq is even iff no writer
// holds the lock; seq is odd iff a writer is in progress.
type rawSeqLock struct {
	seq atomic.Uint64
}

// writeLock spins until it can CAS seq from an even value s to s+1, and
// returns s. The caller holds the write ticket until writeUnlock(s) is
// called.
func (r *rawSeqLock) writeLock() uint64 {
	for {
		seq := r.seq.Load()
		if seq&1 == 0 && r.seq.CompareAndSwap(seq, seq+1) {
			return seq
		}
	}
}

// writeUnlock publishes the writer's changes by advancing seq past the
// writer's ticket to the next even value.
func (r *rawSeqLock) writeUnlock(seq uint64) {
	r.seq.Store(seq + 2)
}

// readBegin spins until seq is observed even and returns that snapshot.
func (r *rawSeqLock) readBegin() uint64 {
	for {
		seq := r.seq.Load()
		if seq&1 == 0 {
			return seq
		}
	}
}

// readValidate reports whether no writer began or completed between the
// corresponding readBegin and now.
func (r *rawSeqLock) readValidate(seq uint64) bool {
	return seq == r.seq.Load()
}

// upgrade atomically promotes a read snapshot into a write ticket: it CASes
// seq from s to s+1, succeeding only if no writer intervened since the
// snapshot was taken. It never blocks.
func (r *rawSeqLock) upgrade(seq uint64) bool {
	return r.seq.CompareAndSwap(seq, seq+1)
}

// SeqLock protects a value of type T with a sequence lock. The zero value is
// not usable; construct one with New.
type SeqLock[T any] struct {
	lock rawSeqLock
	data T
}

// New returns a SeqLock protecting data.
func New[T any](data T) *SeqLock[T] {
	return &SeqLock[T]{data: data}
}

// ReadGuard is a snapshot of a SeqLock's sequence counter, taken by
// ReadLock. The protected value may be read through Value, but any
// observation made this way is only trustworthy once Validate returns true
// (or Upgrade succeeds).
type ReadGuard[T any] struct {
	lock *SeqLock[T]
	seq  uint64
}

// WriteGuard is an exclusive write ticket on a SeqLock, taken by WriteLock
// or by upgrading a ReadGuard. The caller must call Unlock exactly once to
// publish the writer's changes.
type WriteGuard[T any] struct {
	lock *SeqLock[T]
	seq  uint64
}

// ReadLock begins an optimistic read: it returns once the lock is observed
// idle (an even sequence counter).
func (l *SeqLock[T]) ReadLock() ReadGuard[T] {
	return ReadGuard[T]{lock: l, seq: l.lock.readBegin()}
}

// WriteLock acquires the lock for exclusive write access, spinning until no
// other writer holds it.
func (l *SeqLock[T]) WriteLock() WriteGuard[T] {
	return WriteGuard[T]{lock: l, seq: l.lock.writeLock()}
}

// Read is a convenience wrapper: it takes a read snapshot, invokes f with
// the protected value, and validates. It returns the zero value and false
// if a writer raced the read.
func Read[T any, R any](l *SeqLock[T], f func(*T) R) (R, bool) {
	g := l.ReadLock()
	result := f(g.Value())
	if !g.Validate() {
		var zero R
		return zero, false
	}
	return result, true
}

// Value returns a pointer to the protected value. The caller must validate
// (directly, or via Upgrade) before trusting anything read
// through it, and must never use it to perform an observable side effect
// before that validation succeeds.
func (g ReadGuard[T]) Value() *T {
	return &g.lock.data
}

// Validate reports whether no writer has begun or completed since this
// snapshot was taken. It may be called any number of times.
func (g ReadGuard[T]) Validate() bool {
	return g.lock.lock.readValidate(g.seq)
}

// Restart re-takes the read snapshot, discarding the old one. Used by
// callers that want to keep working from the same node after a failed
// validation rather than unwind entirely.
func (g ReadGuard[T]) Restart() ReadGuard[T] {
	return ReadGuard[T]{lock: g.lock, seq: g.lock.lock.readBegin()}
}

// Upgrade atomically promotes this read snapshot into a WriteGuard. It
// fails (returning ok == false) if any writer has begun or completed since
// the snapshot was taken; the caller must restart its operation on failure,
// never retry the upgrade against the same stale snapshot.
func (g ReadGuard[T]) Upgrade() (WriteGuard[T], bool) {
	if !g.lock.lock.upgrade(g.seq) {
		return WriteGuard[T]{}, false
	}
	return WriteGuard[T]{lock: g.lock, seq: g.seq}, true
}

// Value returns a pointer to the protected value. Because the WriteGuard
// holder has exclusive access, reads and writes through it require no
// further validation.
func (g WriteGuard[T]) Value() *T {
	return &g.lock.data
}

// Unlock releases the write ticket, publishing any mutations made through
// Value to subsequent readers and writers.
func (g WriteGuard[T]) Unlock() {
	g.lock.lock.writeUnlock(g.seq)
}
