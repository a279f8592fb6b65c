package btree

import (
	"errors"

	"github.com/paulboul1013/tinytable/internal/storage"
)

var (
	// ErrDuplicateKey reports an insert whose key is already present.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrKeyNotFound reports a lookup for an absent key.
	ErrKeyNotFound = errors.New("key not found")
)

// PageAccessor supplies page buffers to the tree. ForRead and ForWrite
// are the transaction-aware paths: inside a transaction they consult the
// shadow overlay, materializing a shadow copy on first write. Page is the
// raw cache path used by structural reorganization (splits, merges, root
// creation), which operates directly on pager state.
type PageAccessor interface {
	ForRead(pageNum uint32) ([]byte, error)
	ForWrite(pageNum uint32) ([]byte, error)
	Page(pageNum uint32) ([]byte, error)
	Allocate() uint32
	Evict(pageNum uint32)
}

// Tree is a B+tree over fixed-size pages. It borrows pages through the
// accessor and owns none of them; the root always lives at rootPage.
type Tree struct {
	pages    PageAccessor
	rootPage uint32
}

// New binds a tree to a page accessor and a root page number.
func New(pages PageAccessor, rootPage uint32) *Tree {
	return &Tree{pages: pages, rootPage: rootPage}
}

// RootPage returns the root's page number.
func (t *Tree) RootPage() uint32 {
	return t.rootPage
}

// Find descends from the root to the leaf that contains key, returning a
// cursor at the matching cell or at the position where key would insert.
func (t *Tree) Find(key uint32) (*Cursor, error) {
	node, err := t.pages.ForRead(t.rootPage)
	if err != nil {
		return nil, err
	}

	if storage.GetNodeType(node) == storage.NodeLeaf {
		return t.leafFind(t.rootPage, key)
	}
	return t.internalFind(t.rootPage, key)
}

// Start returns a cursor at the first populated leaf's first cell,
// skipping leaves emptied by deletion. EndOfTable is set when no leaf
// holds a cell.
func (t *Tree) Start() (*Cursor, error) {
	cursor, err := t.Find(0)
	if err != nil {
		return nil, err
	}
	cursor.CellNum = 0

	node, err := t.pages.ForRead(cursor.PageNum)
	if err != nil {
		return nil, err
	}
	leaf := storage.LeafNode(node)

	for leaf.NumCells() == 0 {
		nextPageNum := leaf.NextLeaf()
		if nextPageNum == 0 {
			cursor.EndOfTable = true
			return cursor, nil
		}
		cursor.PageNum = nextPageNum
		node, err = t.pages.ForRead(cursor.PageNum)
		if err != nil {
			return nil, err
		}
		leaf = storage.LeafNode(node)
	}

	cursor.EndOfTable = false
	return cursor, nil
}

func (t *Tree) leafFind(pageNum, key uint32) (*Cursor, error) {
	node, err := t.pages.ForRead(pageNum)
	if err != nil {
		return nil, err
	}
	leaf := storage.LeafNode(node)
	numCells := leaf.NumCells()

	cursor := &Cursor{tree: t, PageNum: pageNum}

	minIndex := uint32(0)
	onePastMax := numCells
	for onePastMax != minIndex {
		index := (minIndex + onePastMax) / 2
		keyAtIndex := leaf.Key(index)
		if key == keyAtIndex {
			cursor.CellNum = index
			return cursor, nil
		}
		if key < keyAtIndex {
			onePastMax = index
		} else {
			minIndex = index + 1
		}
	}

	cursor.CellNum = minIndex
	if cursor.CellNum >= numCells {
		cursor.EndOfTable = true
	}
	return cursor, nil
}

func (t *Tree) internalFind(pageNum, key uint32) (*Cursor, error) {
	node, err := t.pages.ForRead(pageNum)
	if err != nil {
		return nil, err
	}
	internal := storage.InternalNode(node)

	childIndex := internal.FindChildIndex(key)
	childPage, err := internal.Child(childIndex)
	if err != nil {
		return nil, err
	}

	child, err := t.pages.ForRead(childPage)
	if err != nil {
		return nil, err
	}

	if storage.GetNodeType(child) == storage.NodeLeaf {
		return t.leafFind(childPage, key)
	}
	return t.internalFind(childPage, key)
}

// maxKey returns the largest key reachable from node, following
// right_child pointers through internal nodes.
func (t *Tree) maxKey(node []byte) (uint32, error) {
	if storage.GetNodeType(node) == storage.NodeLeaf {
		leaf := storage.LeafNode(node)
		numCells := leaf.NumCells()
		if numCells == 0 {
			// A leaf emptied by deletion can linger as a child; it bounds
			// no keys.
			return 0, nil
		}
		return leaf.Key(numCells - 1), nil
	}

	right, err := t.pages.Page(storage.InternalNode(node).RightChild())
	if err != nil {
		return 0, err
	}
	return t.maxKey(right)
}

// Insert places (key, row) into the tree, splitting the target leaf when
// full. Returns ErrDuplicateKey when key is already present.
func (t *Tree) Insert(key uint32, row *storage.Row) error {
	cursor, err := t.Find(key)
	if err != nil {
		return err
	}

	node, err := t.pages.ForRead(cursor.PageNum)
	if err != nil {
		return err
	}
	leaf := storage.LeafNode(node)
	if cursor.CellNum < leaf.NumCells() && leaf.Key(cursor.CellNum) == key {
		return ErrDuplicateKey
	}

	return t.leafInsert(cursor, key, row)
}

func (t *Tree) leafInsert(cursor *Cursor, key uint32, row *storage.Row) error {
	node, err := t.pages.ForWrite(cursor.PageNum)
	if err != nil {
		return err
	}
	leaf := storage.LeafNode(node)
	numCells := leaf.NumCells()

	if numCells >= storage.LeafMaxCells {
		return t.leafSplitAndInsert(cursor, key, row)
	}

	if cursor.CellNum < numCells {
		// Make room for the new cell
		for i := numCells; i > cursor.CellNum; i-- {
			copy(leaf.Cell(i), leaf.Cell(i-1))
		}
	}

	leaf.SetNumCells(numCells + 1)
	leaf.SetKey(cursor.CellNum, key)
	row.Serialize(leaf.Value(cursor.CellNum))
	return nil
}

// leafSplitAndInsert splits a full leaf into an even left/right pair with
// the new key placed at its ordered position, then threads the new right
// sibling into the parent (creating a new root when the leaf was root).
func (t *Tree) leafSplitAndInsert(cursor *Cursor, key uint32, row *storage.Row) error {
	oldNode, err := t.pages.Page(cursor.PageNum)
	if err != nil {
		return err
	}
	oldMax, err := t.maxKey(oldNode)
	if err != nil {
		return err
	}

	newPageNum := t.pages.Allocate()
	newNode, err := t.pages.Page(newPageNum)
	if err != nil {
		return err
	}
	storage.InitializeLeaf(newNode)

	oldLeaf := storage.LeafNode(oldNode)
	newLeaf := storage.LeafNode(newNode)
	storage.SetNodeParent(newNode, storage.NodeParent(oldNode))
	newLeaf.SetNextLeaf(oldLeaf.NextLeaf())
	oldLeaf.SetNextLeaf(newPageNum)

	// Walk the virtual sequence of MAX+1 cells from the top down, placing
	// each at its post-split home. Index insertAt is the new cell; indices
	// above it come from one slot lower in the source.
	insertAt := int32(cursor.CellNum)
	for i := int32(storage.LeafMaxCells); i >= 0; i-- {
		var dest storage.LeafNode
		if i >= int32(storage.LeafLeftSplitCount) {
			dest = newLeaf
		} else {
			dest = oldLeaf
		}
		indexWithinNode := uint32(i % int32(storage.LeafLeftSplitCount))

		switch {
		case i == insertAt:
			row.Serialize(dest.Value(indexWithinNode))
			dest.SetKey(indexWithinNode, key)
		case i > insertAt:
			copy(dest.Cell(indexWithinNode), oldLeaf.Cell(uint32(i-1)))
		default:
			copy(dest.Cell(indexWithinNode), oldLeaf.Cell(uint32(i)))
		}
	}

	oldLeaf.SetNumCells(storage.LeafLeftSplitCount)
	newLeaf.SetNumCells(storage.LeafRightSplitCount)

	if storage.IsRoot(oldNode) {
		return t.createNewRoot(newPageNum)
	}

	parentPageNum := storage.NodeParent(oldNode)
	newMax, err := t.maxKey(oldNode)
	if err != nil {
		return err
	}
	parent, err := t.pages.Page(parentPageNum)
	if err != nil {
		return err
	}
	updateInternalKey(storage.InternalNode(parent), oldMax, newMax)
	return t.internalInsert(parentPageNum, newPageNum)
}

// Delete removes the cell at cursor's position. The caller has already
// verified the key matches. When the leaf empties and is not the root,
// a merge with the left sibling is attempted if it has spare room.
func (t *Tree) Delete(cursor *Cursor) error {
	node, err := t.pages.ForWrite(cursor.PageNum)
	if err != nil {
		return err
	}
	leaf := storage.LeafNode(node)
	numCells := leaf.NumCells()

	if cursor.CellNum >= numCells {
		return ErrKeyNotFound
	}

	for i := cursor.CellNum; i < numCells-1; i++ {
		copy(leaf.Cell(i), leaf.Cell(i+1))
	}
	leaf.SetNumCells(numCells - 1)

	if leaf.NumCells() > 0 || storage.IsRoot(node) {
		return nil
	}

	// The leaf is empty: merge into the left sibling when one exists with
	// spare room. No redistribution is attempted otherwise.
	parentPageNum := storage.NodeParent(node)
	parentPage, err := t.pages.Page(parentPageNum)
	if err != nil {
		return err
	}
	parent := storage.InternalNode(parentPage)

	childIndex := uint32(0)
	numKeys := parent.NumKeys()
	for i := uint32(0); i < numKeys; i++ {
		if parent.CellChild(i) == cursor.PageNum {
			childIndex = i
			break
		}
	}

	if childIndex > 0 {
		leftSiblingPage := parent.CellChild(childIndex - 1)
		leftSibling, err := t.pages.Page(leftSiblingPage)
		if err != nil {
			return err
		}
		if storage.LeafNode(leftSibling).NumCells() < storage.LeafMaxCells {
			return t.leafMerge(leftSiblingPage, cursor.PageNum)
		}
	}
	return nil
}

// leafMerge appends right's cells onto left, repairs the sibling chain,
// and removes right's entry from the parent. Right's cache slot is
// dropped; its page number leaks by design of the allocator.
func (t *Tree) leafMerge(leftPageNum, rightPageNum uint32) error {
	leftPage, err := t.pages.Page(leftPageNum)
	if err != nil {
		return err
	}
	rightPage, err := t.pages.Page(rightPageNum)
	if err != nil {
		return err
	}
	left := storage.LeafNode(leftPage)
	right := storage.LeafNode(rightPage)

	leftCells := left.NumCells()
	rightCells := right.NumCells()

	for i := uint32(0); i < rightCells; i++ {
		copy(left.Cell(leftCells+i), right.Cell(i))
	}
	left.SetNumCells(leftCells + rightCells)
	left.SetNextLeaf(right.NextLeaf())

	parentPageNum := storage.NodeParent(rightPage)
	parentPage, err := t.pages.Page(parentPageNum)
	if err != nil {
		return err
	}
	parent := storage.InternalNode(parentPage)

	numKeys := parent.NumKeys()
	childIndex := uint32(0)
	for i := uint32(0); i < numKeys; i++ {
		if parent.CellChild(i) == rightPageNum {
			childIndex = i
			break
		}
	}

	for i := childIndex; i < numKeys-1; i++ {
		copy(parent.Cell(i), parent.Cell(i+1))
	}
	parent.SetNumKeys(numKeys - 1)

	t.pages.Evict(rightPageNum)
	return nil
}

// internalMerge folds right into left through their shared parent: the
// separator key is pulled down, right's children are appended, and
// right's entry is removed from the parent. Retained as a primitive; the
// delete path does not invoke it.
func (t *Tree) internalMerge(parentPageNum, leftPageNum, rightPageNum uint32) error {
	leftPage, err := t.pages.Page(leftPageNum)
	if err != nil {
		return err
	}
	rightPage, err := t.pages.Page(rightPageNum)
	if err != nil {
		return err
	}
	parentPage, err := t.pages.Page(parentPageNum)
	if err != nil {
		return err
	}
	left := storage.InternalNode(leftPage)
	right := storage.InternalNode(rightPage)
	parent := storage.InternalNode(parentPage)

	leftKeys := left.NumKeys()
	rightKeys := right.NumKeys()
	numKeys := parent.NumKeys()

	separatorKey := uint32(0)
	for i := uint32(0); i < numKeys; i++ {
		if parent.CellChild(i) == leftPageNum {
			separatorKey = parent.Key(i)
			break
		}
	}

	// Pull the separator down: left's former right child becomes a cell
	// bounded by it, then right's cells and right child follow.
	left.SetCellChild(leftKeys, left.RightChild())
	left.SetKey(leftKeys, separatorKey)
	for i := uint32(0); i < rightKeys; i++ {
		left.SetCellChild(leftKeys+1+i, right.CellChild(i))
		left.SetKey(leftKeys+1+i, right.Key(i))
	}
	left.SetRightChild(right.RightChild())
	left.SetNumKeys(leftKeys + rightKeys + 1)

	for i := uint32(0); i <= left.NumKeys(); i++ {
		movedPage, err := left.Child(i)
		if err != nil {
			return err
		}
		moved, err := t.pages.Page(movedPage)
		if err != nil {
			return err
		}
		storage.SetNodeParent(moved, leftPageNum)
	}

	childIndex := uint32(0)
	for i := uint32(0); i < numKeys; i++ {
		if parent.CellChild(i) == rightPageNum {
			childIndex = i
			break
		}
	}
	for i := childIndex; i < numKeys-1; i++ {
		copy(parent.Cell(i), parent.Cell(i+1))
	}
	parent.SetNumKeys(numKeys - 1)

	t.pages.Evict(rightPageNum)
	return nil
}

// internalInsert adds childPageNum under the internal node at
// parentPageNum, splitting the parent when it is already at capacity.
func (t *Tree) internalInsert(parentPageNum, childPageNum uint32) error {
	parentPage, err := t.pages.Page(parentPageNum)
	if err != nil {
		return err
	}
	childPage, err := t.pages.Page(childPageNum)
	if err != nil {
		return err
	}
	parent := storage.InternalNode(parentPage)

	childMaxKey, err := t.maxKey(childPage)
	if err != nil {
		return err
	}
	index := parent.FindChildIndex(childMaxKey)

	originalNumKeys := parent.NumKeys()
	if originalNumKeys >= storage.InternalMaxCells {
		return t.internalSplitAndInsert(parentPageNum, childPageNum)
	}

	rightChildPageNum := parent.RightChild()
	if rightChildPageNum == storage.InvalidPageNum {
		// Empty internal node: the child becomes its right child.
		parent.SetRightChild(childPageNum)
		return nil
	}

	rightChildPage, err := t.pages.Page(rightChildPageNum)
	if err != nil {
		return err
	}
	rightChildMax, err := t.maxKey(rightChildPage)
	if err != nil {
		return err
	}

	parent.SetNumKeys(originalNumKeys + 1)

	if childMaxKey > rightChildMax {
		// Replace right child
		parent.SetCellChild(originalNumKeys, rightChildPageNum)
		parent.SetKey(originalNumKeys, rightChildMax)
		parent.SetRightChild(childPageNum)
	} else {
		// Make room for the new cell
		for i := originalNumKeys; i > index; i-- {
			copy(parent.Cell(i), parent.Cell(i-1))
		}
		parent.SetCellChild(index, childPageNum)
		parent.SetKey(index, childMaxKey)
	}
	return nil
}

// internalSplitAndInsert splits an overfull internal node, migrating the
// upper half of its children to a fresh sibling via internalInsert, then
// routes childPageNum to whichever side now bounds its max key. Splitting
// the root goes through createNewRoot first, after which the old node is
// re-resolved as the new root's first child.
func (t *Tree) internalSplitAndInsert(parentPageNum, childPageNum uint32) error {
	oldPageNum := parentPageNum
	oldNode, err := t.pages.Page(parentPageNum)
	if err != nil {
		return err
	}
	oldMax, err := t.maxKey(oldNode)
	if err != nil {
		return err
	}

	childPage, err := t.pages.Page(childPageNum)
	if err != nil {
		return err
	}
	childMax, err := t.maxKey(childPage)
	if err != nil {
		return err
	}

	newPageNum := t.pages.Allocate()
	splittingRoot := storage.IsRoot(oldNode)

	var parentPage []byte
	if splittingRoot {
		if err := t.createNewRoot(newPageNum); err != nil {
			return err
		}
		parentPage, err = t.pages.Page(t.rootPage)
		if err != nil {
			return err
		}
		oldPageNum, err = storage.InternalNode(parentPage).Child(0)
		if err != nil {
			return err
		}
		oldNode, err = t.pages.Page(oldPageNum)
		if err != nil {
			return err
		}
	} else {
		parentPage, err = t.pages.Page(storage.NodeParent(oldNode))
		if err != nil {
			return err
		}
		newNode, err := t.pages.Page(newPageNum)
		if err != nil {
			return err
		}
		storage.InitializeInternal(newNode)
	}

	old := storage.InternalNode(oldNode)

	// Move the old node's right child over, then the upper half of its
	// cells, reinserting each under the new sibling.
	curPageNum := old.RightChild()
	if err := t.moveChild(newPageNum, curPageNum); err != nil {
		return err
	}
	old.SetRightChild(storage.InvalidPageNum)

	for i := int32(storage.InternalMaxCells) - 1; i > int32(storage.InternalMaxCells)/2; i-- {
		curPageNum = old.CellChild(uint32(i))
		if err := t.moveChild(newPageNum, curPageNum); err != nil {
			return err
		}
		old.SetNumKeys(old.NumKeys() - 1)
	}

	// The highest surviving child becomes the old node's right child.
	old.SetRightChild(old.CellChild(old.NumKeys() - 1))
	old.SetNumKeys(old.NumKeys() - 1)

	maxAfterSplit, err := t.maxKey(oldNode)
	if err != nil {
		return err
	}

	destinationPageNum := newPageNum
	if childMax < maxAfterSplit {
		destinationPageNum = oldPageNum
	}
	if err := t.internalInsert(destinationPageNum, childPageNum); err != nil {
		return err
	}
	storage.SetNodeParent(childPage, destinationPageNum)

	newOldMax, err := t.maxKey(oldNode)
	if err != nil {
		return err
	}
	updateInternalKey(storage.InternalNode(parentPage), oldMax, newOldMax)

	if !splittingRoot {
		if err := t.internalInsert(storage.NodeParent(oldNode), newPageNum); err != nil {
			return err
		}
		// Re-read the parent: inserting the sibling can split the
		// grandparent and move the old node under a new page.
		newNode, err := t.pages.Page(newPageNum)
		if err != nil {
			return err
		}
		storage.SetNodeParent(newNode, storage.NodeParent(oldNode))
	}
	return nil
}

// moveChild reinserts childPageNum under destPageNum and reparents it.
func (t *Tree) moveChild(destPageNum, childPageNum uint32) error {
	if err := t.internalInsert(destPageNum, childPageNum); err != nil {
		return err
	}
	child, err := t.pages.Page(childPageNum)
	if err != nil {
		return err
	}
	storage.SetNodeParent(child, destPageNum)
	return nil
}

// createNewRoot handles a root split. The old root's contents move to a
// fresh page that becomes the left child; the root page is reinitialized
// as an internal node over the left child and rightChildPageNum. The root
// never moves from its page.
func (t *Tree) createNewRoot(rightChildPageNum uint32) error {
	root, err := t.pages.Page(t.rootPage)
	if err != nil {
		return err
	}
	rightChild, err := t.pages.Page(rightChildPageNum)
	if err != nil {
		return err
	}

	leftChildPageNum := t.pages.Allocate()
	leftChild, err := t.pages.Page(leftChildPageNum)
	if err != nil {
		return err
	}

	if storage.GetNodeType(root) == storage.NodeInternal {
		storage.InitializeInternal(rightChild)
		storage.InitializeInternal(leftChild)
	}

	// The left child takes over the old root's data and former role.
	copy(leftChild, root)
	storage.SetRoot(leftChild, false)

	if storage.GetNodeType(leftChild) == storage.NodeInternal {
		left := storage.InternalNode(leftChild)
		for i := uint32(0); i < left.NumKeys(); i++ {
			child, err := t.pages.Page(left.CellChild(i))
			if err != nil {
				return err
			}
			storage.SetNodeParent(child, leftChildPageNum)
		}
		child, err := t.pages.Page(left.RightChild())
		if err != nil {
			return err
		}
		storage.SetNodeParent(child, leftChildPageNum)
	}

	storage.InitializeInternal(root)
	storage.SetRoot(root, true)
	newRoot := storage.InternalNode(root)
	newRoot.SetNumKeys(1)
	newRoot.SetCellChild(0, leftChildPageNum)
	leftChildMaxKey, err := t.maxKey(leftChild)
	if err != nil {
		return err
	}
	newRoot.SetKey(0, leftChildMaxKey)
	newRoot.SetRightChild(rightChildPageNum)
	storage.SetNodeParent(leftChild, t.rootPage)
	storage.SetNodeParent(rightChild, t.rootPage)
	return nil
}

// updateInternalKey rewrites the separator entry that bounded oldKey.
func updateInternalKey(node storage.InternalNode, oldKey, newKey uint32) {
	oldChildIndex := node.FindChildIndex(oldKey)
	node.SetKey(oldChildIndex, newKey)
}
