package avltree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// CheckInvariants walks the tree's physical structure directly, taking each
// node's write lock in turn to read its fields, and asserts the BST order, height
// correctness, and AVL bound invariants hold at every physical node (logically
// removed nodes the cleanup pass hasn't unlinked yet included, since those
// invariants are about tree shape, not logical presence). It returns the set
// of keys currently present (a non-nil value slot) so callers can cross-check
// against a reference map. Internal to this package's own tests; it is not
// part of the tree's public surface.
func CheckInvariants[K comparable, V any](t *testing.T, tr *Tree[K, V], cmp Cmp[K]) map[K]struct{} {
	t.Helper()

	present := make(map[K]struct{})

	real := func() *node[K, V] {
		wg := tr.root.inner.WriteLock()
		defer wg.Unlock()
		return wg.Value().right.Load()
	}()

	var walk func(n *node[K, V], lo, hi *K) int64
	walk = func(n *node[K, V], lo, hi *K) int64 {
		if n == nil {
			return 0
		}

		if lo != nil {
			assert.Greater(t, cmp(n.key, *lo), 0, "key out of BST order (below lower bound)")
		}
		if hi != nil {
			assert.Less(t, cmp(n.key, *hi), 0, "key out of BST order (above upper bound)")
		}

		wg := n.inner.WriteLock()
		left := wg.Value().left.Load()
		right := wg.Value().right.Load()
		value := wg.Value().value.Load()
		wg.Unlock()

		if value != nil {
			present[n.key] = struct{}{}
		}

		lh := walk(left, lo, &n.key)
		rh := walk(right, &n.key, hi)

		factor := lh - rh
		assert.LessOrEqual(t, factor, int64(1), "AVL bound violated at key %v: factor %d", n.key, factor)
		assert.GreaterOrEqual(t, factor, int64(-1), "AVL bound violated at key %v: factor %d", n.key, factor)

		wantHeight := lh + 1
		if rh > lh {
			wantHeight = rh + 1
		}
		gotHeight := n.height.Load()
		assert.Equal(t, wantHeight, gotHeight, "height mismatch at key %v", n.key)

		return gotHeight
	}

	walk(real, nil, nil)
	return present
}
