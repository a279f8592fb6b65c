package btree

import (
	"fmt"

	"github.com/xlab/treeprint"

	"github.com/paulboul1013/tinytable/internal/storage"
)

// Print renders the tree structure rooted at the root page, one branch
// per node with its keys listed beneath it.
func (t *Tree) Print() (string, error) {
	tree := treeprint.New()
	tree.SetValue("tree")
	if err := t.printNode(tree, t.rootPage); err != nil {
		return "", err
	}
	return tree.String(), nil
}

func (t *Tree) printNode(branch treeprint.Tree, pageNum uint32) error {
	node, err := t.pages.Page(pageNum)
	if err != nil {
		return err
	}

	switch storage.GetNodeType(node) {
	case storage.NodeLeaf:
		leaf := storage.LeafNode(node)
		numCells := leaf.NumCells()
		b := branch.AddBranch(fmt.Sprintf("leaf (size %d)", numCells))
		for i := uint32(0); i < numCells; i++ {
			b.AddNode(fmt.Sprintf("%d", leaf.Key(i)))
		}

	case storage.NodeInternal:
		internal := storage.InternalNode(node)
		numKeys := internal.NumKeys()
		b := branch.AddBranch(fmt.Sprintf("internal (size %d)", numKeys))
		if numKeys == 0 {
			break
		}
		for i := uint32(0); i < numKeys; i++ {
			child, err := internal.Child(i)
			if err != nil {
				return err
			}
			if err := t.printNode(b, child); err != nil {
				return err
			}
			b.AddNode(fmt.Sprintf("key %d", internal.Key(i)))
		}
		right, err := internal.Child(numKeys)
		if err != nil {
			return err
		}
		if err := t.printNode(b, right); err != nil {
			return err
		}
	}
	return nil
}
