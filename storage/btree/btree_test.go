package btree

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"btreeindex/internal/bterr"
	"btreeindex/storage/buffer"
)

// newTestTree creates a fresh index under t.TempDir() with the given
// fixed sizes and block budget, and arranges for it to close itself
// when the test finishes.
func newTestTree(t *testing.T, keySize, valueSize, blockSize, numBlocks int) *BTreeImpl {
	t.Helper()
	bm, err := buffer.NewBufferManager(zap.NewNop(), buffer.WithDirectory(t.TempDir()), buffer.WithBufferSize(numBlocks))
	require.NoError(t, err)

	tr, err := Create(bm, "idx", keySize, valueSize, blockSize, numBlocks, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// fit pads a short literal out to width bytes with trailing zero
// bytes; keyN and valN use it to build the fixed-width "key00001"-style
// keys and values spec.md's boundary scenarios use.
func fit(s string, width int) []byte {
	b := make([]byte, width)
	copy(b, s)
	return b
}

func keyN(n int) []byte { return fit(fmt.Sprintf("key%05d", n), 8) }
func valN(n int) []byte { return fit(fmt.Sprintf("val%05d", n), 8) }

func TestCreateInsertLookupRoundTrip(t *testing.T) {
	tr := newTestTree(t, 8, 8, 4096, 16)

	require.NoError(t, tr.Insert(keyN(1), valN(1)))
	v, found, err := tr.Lookup(keyN(1))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, valN(1), v)

	require.NoError(t, tr.SanityCheck())
}

func TestLookupMissingKey(t *testing.T) {
	tr := newTestTree(t, 8, 8, 4096, 16)
	require.NoError(t, tr.Insert(keyN(1), valN(1)))

	_, found, err := tr.Lookup(keyN(2))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInsertDuplicateKeyFails(t *testing.T) {
	tr := newTestTree(t, 8, 8, 4096, 16)
	require.NoError(t, tr.Insert(keyN(1), valN(1)))

	err := tr.Insert(keyN(1), valN(99))
	require.Error(t, err)
	assert.True(t, errors.Is(err, bterr.DuplicateKey), "want DuplicateKey, got %v", err)

	v, found, err := tr.Lookup(keyN(1))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, valN(1), v, "a failed duplicate insert must not disturb the original value")
}

// TestLeafSplitPromotesMaxOfLowerHalf reproduces the boundary scenario
// with leaf capacity 4 (block size 104, key=value=8 bytes): inserting
// key00001..key00005 in order must split the root leaf once the fifth
// key arrives, promoting key00003 (the maximum of the lower half) and
// leaving two leaf children under a new interior root.
func TestLeafSplitPromotesMaxOfLowerHalf(t *testing.T) {
	tr := newTestTree(t, 8, 8, 104, 16)

	for i := 1; i <= 4; i++ {
		require.NoError(t, tr.Insert(keyN(i), valN(i)))
	}
	root, err := tr.rootBlock()
	require.NoError(t, err)
	require.Equal(t, uint64(1), root, "root block number should not change before the first split")

	require.NoError(t, tr.Insert(keyN(5), valN(5)))

	root, err = tr.rootBlock()
	require.NoError(t, err)
	rootNode, err := tr.pin(root)
	require.NoError(t, err)
	require.True(t, rootNode.IsInterior(), "root must grow an interior level after the fifth insert")
	require.Equal(t, 1, rootNode.NumKeys())
	assert.Equal(t, keyN(3), rootNode.GetKey(0), "promoted key must be the maximum of the lower half")
	leftID := rootNode.GetPtr(0)
	rightID := rootNode.GetPtr(1)
	require.NoError(t, tr.unpin(root, false))

	left, err := tr.pin(leftID)
	require.NoError(t, err)
	assert.True(t, left.IsLeaf())
	assert.Equal(t, 3, left.NumKeys(), "lower half keeps the ceil(total/2) share")
	require.NoError(t, tr.unpin(leftID, false))

	right, err := tr.pin(rightID)
	require.NoError(t, err)
	assert.True(t, right.IsLeaf())
	assert.Equal(t, 2, right.NumKeys())
	require.NoError(t, tr.unpin(rightID, false))

	require.NoError(t, tr.SanityCheck())

	entries, err := tr.RangeQuery(keyN(1), keyN(5))
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, keyN(i+1), e.Key)
		assert.Equal(t, valN(i+1), e.Value)
	}
}

// TestRootGrowsAcrossMultipleLevels inserts enough ascending keys to
// force more than one split and checks the tree stays well-formed and
// fully ordered throughout.
func TestRootGrowsAcrossMultipleLevels(t *testing.T) {
	tr := newTestTree(t, 8, 8, 104, 64)

	const n = 20
	for i := 1; i <= n; i++ {
		require.NoError(t, tr.Insert(keyN(i), valN(i)))
		require.NoError(t, tr.SanityCheck(), "tree must stay well-formed after insert %d", i)
	}

	entries, err := tr.RangeQuery(keyN(1), keyN(n))
	require.NoError(t, err)
	require.Len(t, entries, n)
	for i, e := range entries {
		assert.Equal(t, keyN(i+1), e.Key)
	}
}

func TestRangeQueryIsInclusiveAndOrdered(t *testing.T) {
	tr := newTestTree(t, 8, 8, 104, 64)
	for i := 1; i <= 12; i++ {
		require.NoError(t, tr.Insert(keyN(i), valN(i)))
	}

	entries, err := tr.RangeQuery(keyN(5), keyN(10))
	require.NoError(t, err)
	require.Len(t, entries, 6)
	for i, e := range entries {
		assert.Equal(t, keyN(i+5), e.Key)
	}
}

func TestUpdateOverwritesValue(t *testing.T) {
	tr := newTestTree(t, 8, 8, 4096, 16)
	require.NoError(t, tr.Insert(keyN(1), valN(1)))

	require.NoError(t, tr.Update(keyN(1), valN(42)))
	v, found, err := tr.Lookup(keyN(1))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, valN(42), v)
}

func TestUpdateMissingKeyFails(t *testing.T) {
	tr := newTestTree(t, 8, 8, 4096, 16)
	err := tr.Update(keyN(1), valN(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, bterr.NotFound), "want NotFound, got %v", err)
}

func TestDeleteThenLookupMisses(t *testing.T) {
	tr := newTestTree(t, 8, 8, 4096, 16)
	require.NoError(t, tr.Insert(keyN(1), valN(1)))
	require.NoError(t, tr.Insert(keyN(2), valN(2)))

	require.NoError(t, tr.Delete(keyN(1)))
	_, found, err := tr.Lookup(keyN(1))
	require.NoError(t, err)
	assert.False(t, found)

	v, found, err := tr.Lookup(keyN(2))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, valN(2), v)
}

func TestDeleteMissingKeyFails(t *testing.T) {
	tr := newTestTree(t, 8, 8, 4096, 16)
	err := tr.Delete(keyN(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, bterr.NotFound), "want NotFound, got %v", err)
}

// TestDeleteDrivesMergesAndRootCollapse inserts enough keys to build a
// multi-level tree, then deletes all but one key in ascending order,
// checking well-formedness after every step including the point where
// the root must collapse back down to a single leaf.
func TestDeleteDrivesMergesAndRootCollapse(t *testing.T) {
	tr := newTestTree(t, 8, 8, 104, 64)

	const n = 20
	for i := 1; i <= n; i++ {
		require.NoError(t, tr.Insert(keyN(i), valN(i)))
	}
	require.NoError(t, tr.SanityCheck())

	for i := 1; i < n; i++ {
		require.NoError(t, tr.Delete(keyN(i)))
		require.NoError(t, tr.SanityCheck(), "tree must stay well-formed after deleting key %d", i)
	}

	root, err := tr.rootBlock()
	require.NoError(t, err)
	rootNode, err := tr.pin(root)
	require.NoError(t, err)
	assert.True(t, rootNode.IsLeaf(), "root must collapse back to a leaf once only one key remains")
	assert.Equal(t, 1, rootNode.NumKeys())
	require.NoError(t, tr.unpin(root, false))

	v, found, err := tr.Lookup(keyN(n))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, valN(n), v)
}

func TestDeleteMergePreservesOrderUnderBackwardDeletion(t *testing.T) {
	tr := newTestTree(t, 8, 8, 104, 64)

	const n = 20
	for i := 1; i <= n; i++ {
		require.NoError(t, tr.Insert(keyN(i), valN(i)))
	}

	for i := n; i > 1; i-- {
		require.NoError(t, tr.Delete(keyN(i)))
		require.NoError(t, tr.SanityCheck(), "tree must stay well-formed after deleting key %d", i)
	}

	entries, err := tr.RangeQuery(keyN(0), keyN(n))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, keyN(1), entries[0].Key)
}

// TestOutOfSpaceFailsCleanly creates an index with exactly enough
// blocks for the superblock and a single leaf, and checks that the
// insert which would require a split fails with NoSpace instead of
// silently growing the file, leaving the tree intact and queryable.
func TestOutOfSpaceFailsCleanly(t *testing.T) {
	tr := newTestTree(t, 8, 8, 104, 2)

	for i := 1; i <= 4; i++ {
		require.NoError(t, tr.Insert(keyN(i), valN(i)))
	}

	err := tr.Insert(keyN(5), valN(5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, bterr.NoSpace), "want NoSpace, got %v", err)

	require.NoError(t, tr.SanityCheck())
	entries, err := tr.RangeQuery(keyN(1), keyN(4))
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestWrongSizedKeyIsRejected(t *testing.T) {
	tr := newTestTree(t, 8, 8, 4096, 16)

	err := tr.Insert([]byte("short"), valN(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, bterr.Corrupt), "want Corrupt, got %v", err)
}

// TestDeleteBorrowFixesSeparatorBothSides builds a three-leaf tree
// (leafCapacity 4: leaves [1,2,3] [4,5,6] [7,8,9] under a root keyed
// [3,6]), then drives the middle leaf through exactly one borrow from
// its left sibling and then exactly one borrow from its right sibling,
// checking point lookups on both sides of the separator each borrow
// rewrites. A borrow that leaves the moved key as the separator
// (instead of recomputing it from the donor's new boundary) routes one
// of these lookups into the wrong child and reports it missing.
func TestDeleteBorrowFixesSeparatorBothSides(t *testing.T) {
	tr := newTestTree(t, 8, 8, 104, 64)

	for i := 1; i <= 9; i++ {
		require.NoError(t, tr.Insert(keyN(i), valN(i)))
	}
	require.NoError(t, tr.SanityCheck())

	// Delete 4 (no underflow), then 5: the middle leaf [4,5,6] drops to
	// [6], underflows, and borrows from the left leaf [1,2,3]. Left's
	// new maximum (2) must become the separator, not the key (3) that
	// moved into the middle leaf.
	require.NoError(t, tr.Delete(keyN(4)))
	require.NoError(t, tr.Delete(keyN(5)))
	require.NoError(t, tr.SanityCheck())

	v, found, err := tr.Lookup(keyN(3))
	require.NoError(t, err)
	require.True(t, found, "key moved into the middle leaf by a left-borrow must still be reachable")
	assert.Equal(t, valN(3), v)

	v, found, err = tr.Lookup(keyN(2))
	require.NoError(t, err)
	require.True(t, found, "left leaf's new maximum must still be reachable under the rewritten separator")
	assert.Equal(t, valN(2), v)

	// Delete 3: the middle leaf [3,6] drops to [6], underflows again
	// (its left sibling [1,2] has nothing to spare), and borrows from
	// the right leaf [7,8,9]. The key moved into the middle leaf (7)
	// must become the separator, not the right leaf's new minimum (8).
	require.NoError(t, tr.Delete(keyN(3)))
	require.NoError(t, tr.SanityCheck())

	v, found, err = tr.Lookup(keyN(8))
	require.NoError(t, err)
	require.True(t, found, "right leaf's new minimum must still be reachable under the rewritten separator")
	assert.Equal(t, valN(8), v)

	v, found, err = tr.Lookup(keyN(7))
	require.NoError(t, err)
	require.True(t, found, "key moved into the middle leaf by a right-borrow must still be reachable")
	assert.Equal(t, valN(7), v)
}

func TestAttachReopensExistingIndex(t *testing.T) {
	dir := t.TempDir()
	bm, err := buffer.NewBufferManager(zap.NewNop(), buffer.WithDirectory(dir), buffer.WithBufferSize(16))
	require.NoError(t, err)

	tr, err := Create(bm, "reopen", 8, 8, 4096, 16, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, tr.Insert(keyN(1), valN(1)))
	require.NoError(t, tr.Close())

	bm2, err := buffer.NewBufferManager(zap.NewNop(), buffer.WithDirectory(dir), buffer.WithBufferSize(16))
	require.NoError(t, err)
	tr2, err := Attach(bm2, "reopen", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr2.Close() })

	v, found, err := tr2.Lookup(keyN(1))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, valN(1), v)
	assert.Equal(t, 8, tr2.KeySize())
	assert.Equal(t, 8, tr2.ValueSize())
}
