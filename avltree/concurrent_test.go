package avltree

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// TestStressSPMC is seed scenario 4: a single writer inserts 0..n-1 while ten
// readers concurrently Get random keys in [0, 2n), racing the insert. Values
// follow the value == key convention, so any key a reader observes present
// must come back with that same value — never a torn or stale read.
//
// Uses a fixed-width worker set started and joined directly via
// sync.WaitGroup: no first-failure propagation is needed since readers only
// assert, never return an error.
func TestStressSPMC(t *testing.T) {
	n := 1_000_000
	if testing.Short() {
		n = 20_000
	}
	logger := stressLogger(t)

	tr := New[int, int](intCmp)
	writerGuard := tr.Pin()

	const readers = 10
	done := make(chan struct{})

	var readerWG sync.WaitGroup
	readerWG.Add(readers)
	for i := 0; i < readers; i++ {
		guard := tr.Pin()
		rng := rand.New(rand.NewSource(int64(100 + i)))
		go func() {
			defer readerWG.Done()
			defer tr.Release(guard)
			for {
				select {
				case <-done:
					return
				default:
				}
				k := rng.Intn(2 * n)
				if v, ok := tr.Get(k, guard); ok {
					assert.Equal(t, k, v, "reader observed a value that doesn't match its key")
				}
			}
		}()
	}

	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		for i := 0; i < n; i++ {
			assert.NoError(t, tr.Insert(i, i, writerGuard))
			if i%100_000 == 0 {
				logger.Printf("writer: inserted %d/%d, height=%d", i, n, tr.Height(writerGuard))
			}
		}
		close(done)
	}()

	writerWG.Wait()
	readerWG.Wait()
	tr.Release(writerGuard)

	guard := tr.Pin()
	defer tr.Release(guard)
	assert.Equal(t, n, len(CheckInvariants(t, tr, intCmp)), "every inserted key must still be present once the writer is done")
}

// TestStressMPMCUniformMix is seed scenario 5: 32 threads each perform
// 100,000 operations over the key space 0..255 with a 40/20/40
// insert/lookup/remove mix. Every access to a given key is serialized behind
// a per-key mutex that also guards a reference presence table, so the
// reference reflects a true linearization of that key's operations even
// though different keys continue to race freely against the tree itself.
// After all workers join, a sequential sweep must agree with the reference
// on every key: present in the tree iff the reference says present, and
// with the value == key convention intact.
//
// Uses errgroup because the worker pool here is large and heterogeneous
// enough that first-failure propagation via require inside a goroutine
// needs a return path; see DESIGN.md.
func TestStressMPMCUniformMix(t *testing.T) {
	const keySpace = 256
	opsPerWorker := 100_000
	if testing.Short() {
		opsPerWorker = 2_000
	}
	logger := stressLogger(t)

	tr := New[int, int](intCmp)

	var keyMu [keySpace]sync.Mutex
	var present [keySpace]bool

	var g errgroup.Group
	for w := 0; w < 32; w++ {
		worker, seed := w, int64(w+1)
		g.Go(func() error {
			guard := tr.Pin()
			defer tr.Release(guard)
			rng := rand.New(rand.NewSource(seed))

			for i := 0; i < opsPerWorker; i++ {
				if i%20_000 == 0 {
					logger.Printf("worker %d: %d/%d ops done", worker, i, opsPerWorker)
				}
				k := rng.Intn(keySpace)
				roll := rng.Intn(100)

				keyMu[k].Lock()
				switch {
				case roll < 40: // insert
					if err := tr.Insert(k, k, guard); err == nil {
						present[k] = true
					} else if err != ErrDuplicate {
						keyMu[k].Unlock()
						return err
					}
				case roll < 60: // lookup
					v, ok := tr.Get(k, guard)
					if ok != present[k] {
						keyMu[k].Unlock()
						return fmt.Errorf("key %d: lookup presence %v disagreed with reference %v", k, ok, present[k])
					}
					if ok && v != k {
						keyMu[k].Unlock()
						return fmt.Errorf("key %d: lookup value %d diverged from key convention", k, v)
					}
				default: // remove
					if _, err := tr.Remove(k, guard); err == nil {
						present[k] = false
					} else if err != ErrAbsent {
						keyMu[k].Unlock()
						return err
					}
				}
				keyMu[k].Unlock()
			}
			return nil
		})
	}

	require.NoError(t, g.Wait())
	logger.Printf("final stats: %+v", tr.Stats())

	guard := tr.Pin()
	defer tr.Release(guard)
	for k := 0; k < keySpace; k++ {
		v, ok := tr.Get(k, guard)
		assert.Equal(t, present[k], ok, "key %d: tree/reference presence mismatch", k)
		if ok {
			assert.Equal(t, k, v)
		}
	}
	CheckInvariants(t, tr, intCmp)
}
