package btree

import (
	"github.com/paulboul1013/tinytable/internal/storage"
)

// Cursor identifies a position in the tree for iteration or insertion:
// a leaf page, a cell index within it, and an end-of-table flag.
type Cursor struct {
	tree       *Tree
	PageNum    uint32
	CellNum    uint32
	EndOfTable bool
}

// Row deserializes the row at the cursor's position.
func (c *Cursor) Row() (storage.Row, error) {
	var row storage.Row
	node, err := c.tree.pages.ForRead(c.PageNum)
	if err != nil {
		return row, err
	}
	row.Deserialize(storage.LeafNode(node).Value(c.CellNum))
	return row, nil
}

// Key returns the key at the cursor's position.
func (c *Cursor) Key() (uint32, error) {
	node, err := c.tree.pages.ForRead(c.PageNum)
	if err != nil {
		return 0, err
	}
	return storage.LeafNode(node).Key(c.CellNum), nil
}

// NumCells returns the cell count of the cursor's leaf.
func (c *Cursor) NumCells() (uint32, error) {
	node, err := c.tree.pages.ForRead(c.PageNum)
	if err != nil {
		return 0, err
	}
	return storage.LeafNode(node).NumCells(), nil
}

// WriteRow serializes row over the cell at the cursor's position through
// the transaction-aware write path. The key is left untouched.
func (c *Cursor) WriteRow(row *storage.Row) error {
	node, err := c.tree.pages.ForWrite(c.PageNum)
	if err != nil {
		return err
	}
	row.Serialize(storage.LeafNode(node).Value(c.CellNum))
	return nil
}

// Advance steps the cursor one cell forward, following the sibling chain
// across leaves. Leaves emptied by deletion but never merged stay in the
// chain, so the walk skips any leaf with no cells. Past the rightmost
// leaf it sets EndOfTable.
func (c *Cursor) Advance() error {
	node, err := c.tree.pages.ForRead(c.PageNum)
	if err != nil {
		return err
	}
	leaf := storage.LeafNode(node)

	c.CellNum++
	for c.CellNum >= leaf.NumCells() {
		nextPageNum := leaf.NextLeaf()
		if nextPageNum == 0 {
			// Rightmost leaf
			c.EndOfTable = true
			return nil
		}
		c.PageNum = nextPageNum
		c.CellNum = 0
		node, err = c.tree.pages.ForRead(c.PageNum)
		if err != nil {
			return err
		}
		leaf = storage.LeafNode(node)
	}
	return nil
}
