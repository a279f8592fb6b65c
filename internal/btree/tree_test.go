package btree

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulboul1013/tinytable/internal/storage"
)

// testPages adapts a bare pager into a PageAccessor with no transaction
// overlay.
type testPages struct {
	pager *storage.Pager
}

func (p *testPages) ForRead(pageNum uint32) ([]byte, error)  { return p.pager.Get(pageNum) }
func (p *testPages) ForWrite(pageNum uint32) ([]byte, error) { return p.pager.Get(pageNum) }
func (p *testPages) Page(pageNum uint32) ([]byte, error)     { return p.pager.Get(pageNum) }
func (p *testPages) Allocate() uint32                        { return p.pager.Allocate() }
func (p *testPages) Evict(pageNum uint32)                    { p.pager.Evict(pageNum) }

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	pager, err := storage.OpenPager(filepath.Join(t.TempDir(), "tree.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pager.Close() })

	root, err := pager.Get(0)
	require.NoError(t, err)
	storage.InitializeLeaf(root)
	storage.SetRoot(root, true)

	return New(&testPages{pager: pager}, 0)
}

func mustInsert(t *testing.T, tree *Tree, key uint32) {
	t.Helper()
	row, err := storage.NewRow(key, fmt.Sprintf("u%d", key), fmt.Sprintf("u%d@e", key))
	require.NoError(t, err)
	require.NoError(t, tree.Insert(key, &row))
}

// scanKeys walks the leaf chain from the leftmost leaf.
func scanKeys(t *testing.T, tree *Tree) []uint32 {
	t.Helper()
	cursor, err := tree.Start()
	require.NoError(t, err)

	var keys []uint32
	for !cursor.EndOfTable {
		row, err := cursor.Row()
		require.NoError(t, err)
		keys = append(keys, row.ID)
		require.NoError(t, cursor.Advance())
	}
	return keys
}

func TestInsertAndFind(t *testing.T) {
	tree := newTestTree(t)

	for _, key := range []uint32{5, 3, 8, 1, 9} {
		mustInsert(t, tree, key)
	}

	for _, key := range []uint32{1, 3, 5, 8, 9} {
		cursor, err := tree.Find(key)
		require.NoError(t, err)
		got, err := cursor.Key()
		require.NoError(t, err)
		assert.Equal(t, key, got)
	}

	assert.Equal(t, []uint32{1, 3, 5, 8, 9}, scanKeys(t, tree))
}

func TestInsertDuplicate(t *testing.T) {
	tree := newTestTree(t)
	mustInsert(t, tree, 42)

	row, err := storage.NewRow(42, "b", "b@e")
	require.NoError(t, err)
	assert.ErrorIs(t, tree.Insert(42, &row), ErrDuplicateKey)
}

func TestEmptyTreeStart(t *testing.T) {
	tree := newTestTree(t)
	cursor, err := tree.Start()
	require.NoError(t, err)
	assert.True(t, cursor.EndOfTable)
}

func TestLeafSplitOnFourteenthInsert(t *testing.T) {
	tree := newTestTree(t)

	for key := uint32(1); key <= 13; key++ {
		mustInsert(t, tree, key)
	}

	// Still a single root leaf
	root, err := tree.pages.Page(0)
	require.NoError(t, err)
	require.Equal(t, storage.NodeLeaf, storage.GetNodeType(root))
	require.Equal(t, uint32(13), storage.LeafNode(root).NumCells())

	mustInsert(t, tree, 14)

	// Root became internal with a single separator key of 7
	root, err = tree.pages.Page(0)
	require.NoError(t, err)
	require.Equal(t, storage.NodeInternal, storage.GetNodeType(root))
	rootNode := storage.InternalNode(root)
	assert.Equal(t, uint32(1), rootNode.NumKeys())
	assert.Equal(t, uint32(7), rootNode.Key(0))

	leftPage, err := rootNode.Child(0)
	require.NoError(t, err)
	rightPage, err := rootNode.Child(1)
	require.NoError(t, err)

	left, err := tree.pages.Page(leftPage)
	require.NoError(t, err)
	right, err := tree.pages.Page(rightPage)
	require.NoError(t, err)

	leftLeaf := storage.LeafNode(left)
	rightLeaf := storage.LeafNode(right)
	assert.Equal(t, uint32(storage.LeafLeftSplitCount), leftLeaf.NumCells())
	assert.Equal(t, uint32(storage.LeafRightSplitCount), rightLeaf.NumCells())
	assert.Equal(t, uint32(1), leftLeaf.Key(0))
	assert.Equal(t, uint32(7), leftLeaf.Key(6))
	assert.Equal(t, uint32(8), rightLeaf.Key(0))
	assert.Equal(t, uint32(14), rightLeaf.Key(6))

	// Sibling chain threads left to right and terminates
	assert.Equal(t, rightPage, leftLeaf.NextLeaf())
	assert.Equal(t, uint32(0), rightLeaf.NextLeaf())

	// Both children point back at the root
	assert.Equal(t, uint32(0), storage.NodeParent(left))
	assert.Equal(t, uint32(0), storage.NodeParent(right))

	keys := scanKeys(t, tree)
	require.Len(t, keys, 14)
	for i, key := range keys {
		assert.Equal(t, uint32(i+1), key)
	}
}

func TestSplitWithDescendingInserts(t *testing.T) {
	tree := newTestTree(t)

	for key := uint32(20); key >= 1; key-- {
		mustInsert(t, tree, key)
	}

	keys := scanKeys(t, tree)
	require.Len(t, keys, 20)
	for i, key := range keys {
		assert.Equal(t, uint32(i+1), key)
	}
}

func TestManyInsertsKeepAscendingOrder(t *testing.T) {
	tree := newTestTree(t)

	// Interleaved order exercises splits away from the rightmost leaf and
	// internal node splits on the way up.
	var inserted []uint32
	for key := uint32(1); key <= 60; key += 2 {
		mustInsert(t, tree, key)
		inserted = append(inserted, key)
	}
	for key := uint32(2); key <= 60; key += 2 {
		mustInsert(t, tree, key)
		inserted = append(inserted, key)
	}

	keys := scanKeys(t, tree)
	require.Len(t, keys, len(inserted))
	for i, key := range keys {
		assert.Equal(t, uint32(i+1), key)
	}

	for _, key := range inserted {
		cursor, err := tree.Find(key)
		require.NoError(t, err)
		got, err := cursor.Key()
		require.NoError(t, err)
		assert.Equal(t, key, got)
	}

	checkParentPointers(t, tree, 0)
}

// checkParentPointers verifies every child of every internal node under
// pageNum names that node as its parent.
func checkParentPointers(t *testing.T, tree *Tree, pageNum uint32) {
	t.Helper()
	node, err := tree.pages.Page(pageNum)
	require.NoError(t, err)
	if storage.GetNodeType(node) != storage.NodeInternal {
		return
	}

	internal := storage.InternalNode(node)
	for i := uint32(0); i <= internal.NumKeys(); i++ {
		childPage, err := internal.Child(i)
		require.NoError(t, err)
		child, err := tree.pages.Page(childPage)
		require.NoError(t, err)
		assert.Equal(t, pageNum, storage.NodeParent(child))
		checkParentPointers(t, tree, childPage)
	}
}

func TestDeleteShiftsCells(t *testing.T) {
	tree := newTestTree(t)
	for key := uint32(1); key <= 5; key++ {
		mustInsert(t, tree, key)
	}

	cursor, err := tree.Find(3)
	require.NoError(t, err)
	require.NoError(t, tree.Delete(cursor))

	assert.Equal(t, []uint32{1, 2, 4, 5}, scanKeys(t, tree))
}

func TestEmptyLeafMergesIntoLeftSibling(t *testing.T) {
	tree := newTestTree(t)

	// Two splits produce three leaves; the middle one sits in the
	// parent's cell array with a left sibling to merge into.
	for key := uint32(1); key <= 21; key++ {
		mustInsert(t, tree, key)
	}

	root, err := tree.pages.Page(0)
	require.NoError(t, err)
	require.Equal(t, storage.NodeInternal, storage.GetNodeType(root))
	rootNode := storage.InternalNode(root)
	require.Equal(t, uint32(2), rootNode.NumKeys())

	middlePage := rootNode.CellChild(1)

	// Empty the middle leaf
	for key := uint32(8); key <= 14; key++ {
		cursor, err := tree.Find(key)
		require.NoError(t, err)
		require.NoError(t, tree.Delete(cursor))
	}

	// The merge removed the middle leaf's entry from the root
	root, err = tree.pages.Page(0)
	require.NoError(t, err)
	rootNode = storage.InternalNode(root)
	assert.Equal(t, uint32(1), rootNode.NumKeys())

	leftPage, err := rootNode.Child(0)
	require.NoError(t, err)
	left, err := tree.pages.Page(leftPage)
	require.NoError(t, err)
	assert.NotEqual(t, middlePage, leftPage)
	assert.NotEqual(t, middlePage, storage.LeafNode(left).NextLeaf())

	assert.Equal(t, []uint32{1, 2, 3, 4, 5, 6, 7, 15, 16, 17, 18, 19, 20, 21}, scanKeys(t, tree))
}

func TestDeleteSoleRootCell(t *testing.T) {
	tree := newTestTree(t)
	mustInsert(t, tree, 1)

	cursor, err := tree.Find(1)
	require.NoError(t, err)
	require.NoError(t, tree.Delete(cursor))

	assert.Empty(t, scanKeys(t, tree))
}

func TestPrintShowsSeparator(t *testing.T) {
	tree := newTestTree(t)
	for key := uint32(1); key <= 14; key++ {
		mustInsert(t, tree, key)
	}

	rendered, err := tree.Print()
	require.NoError(t, err)
	assert.Contains(t, rendered, "internal (size 1)")
	assert.Contains(t, rendered, "key 7")
	assert.Contains(t, rendered, "leaf (size 7)")
}
