package seqlock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadAfterWriteSeesNewValue(t *testing.T) {
	l := New(42)

	wg := l.WriteLock()
	*wg.Value() = 43
	wg.Unlock()

	rg := l.ReadLock()
	got := *rg.Value()
	require.True(t, rg.Validate())
	assert.Equal(t, 43, got)
}

func TestUpgradeFailsAfterConcurrentWrite(t *testing.T) {
	l := New(0)

	rg := l.ReadLock()

	other := l.WriteLock()
	other.Unlock()

	_, ok := rg.Upgrade()
	assert.False(t, ok, "upgrade must fail once a writer has intervened")
}

func TestUpgradeSucceedsWithNoIntervention(t *testing.T) {
	l := New(0)

	rg := l.ReadLock()
	wg, ok := rg.Upgrade()
	require.True(t, ok)

	*wg.Value() = 7
	wg.Unlock()

	got, valid := Read(l, func(v *int) int { return *v })
	require.True(t, valid)
	assert.Equal(t, 7, got)
}

func TestValidateFailsDuringConcurrentWrite(t *testing.T) {
	l := New(0)

	rg := l.ReadLock()
	wg := l.WriteLock()

	assert.False(t, rg.Validate(), "a read snapshot must not validate while a writer holds the lock")

	wg.Unlock()
	assert.True(t, rg.Restart().Validate())
}

func TestConcurrentIncrementsAreLinearizable(t *testing.T) {
	l := New(0)

	const goroutines = 32
	const incrementsEach = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < incrementsEach; j++ {
				g := l.WriteLock()
				*g.Value()++
				g.Unlock()
			}
		}()
	}
	wg.Wait()

	got, valid := Read(l, func(v *int) int { return *v })
	require.True(t, valid)
	assert.Equal(t, goroutines*incrementsEach, got)
}

func TestConcurrentReadersNeverObserveATornWrite(t *testing.T) {
	type pair struct{ a, b int }
	l := New(pair{})

	done := make(chan struct{})
	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		for i := 1; i <= 100_000; i++ {
			g := l.WriteLock()
			g.Value().a = i
			g.Value().b = i
			g.Unlock()
		}
		close(done)
	}()

	var readerWG sync.WaitGroup
	const readers = 8
	readerWG.Add(readers)
	for i := 0; i < readers; i++ {
		go func() {
			defer readerWG.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				rg := l.ReadLock()
				snapshot := *rg.Value()
				if rg.Validate() {
					assert.Equal(t, snapshot.a, snapshot.b, "reader observed a torn write")
				}
			}
		}()
	}

	writerWG.Wait()
	readerWG.Wait()
}
