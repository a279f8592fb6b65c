// Package backend drives the storage engine: it owns the pager, the
// shadow-paging transaction, the table statistics and the B+tree, and
// executes parsed statements against them.
package backend

import (
	log "github.com/sirupsen/logrus"

	"github.com/paulboul1013/tinytable/internal/btree"
	"github.com/paulboul1013/tinytable/internal/storage"
)

// rootPageNum is fixed: the root never moves from page 0.
const rootPageNum = 0

// Table is the single table of the database. It exclusively owns the
// pager, the transaction and the statistics; none of them are safe for
// concurrent use.
type Table struct {
	log   *log.Logger
	pager *storage.Pager
	tree  *btree.Tree
	txn   *Transaction
	stats *Statistics
}

// Open opens or creates the database file at path. A brand new database
// gets a single empty root leaf at page 0; a non-empty one has its
// statistics collected up front.
func Open(logger *log.Logger, path string) (*Table, error) {
	pager, err := storage.OpenPager(path)
	if err != nil {
		return nil, err
	}

	t := &Table{
		log:   logger,
		pager: pager,
		txn:   &Transaction{},
		stats: &Statistics{},
	}
	t.tree = btree.New(t, rootPageNum)
	t.stats.Reset()

	if pager.NumPages() == 0 {
		root, err := pager.Get(rootPageNum)
		if err != nil {
			pager.Close()
			return nil, err
		}
		storage.InitializeLeaf(root)
		storage.SetRoot(root, true)
	} else if err := t.Analyze(); err != nil {
		pager.Close()
		return nil, err
	}

	logger.WithField("path", path).Infof("database opened [pages: %d]", pager.NumPages())
	return t, nil
}

// Close flushes every cached page and releases the file. An active
// transaction is committed first; losing it silently would be worse.
func (t *Table) Close() error {
	if t.txn.Active() {
		t.log.Warn("active transaction will be committed")
		if err := t.Commit(); err != nil {
			return err
		}
	}
	return t.pager.Close()
}

// Tree exposes the table's B+tree.
func (t *Table) Tree() *btree.Tree {
	return t.tree
}

// Stats returns a snapshot of the table statistics.
func (t *Table) Stats() Statistics {
	return *t.stats
}

// ForRead returns the page for reading, consulting the transaction's
// shadow overlay first so reads inside a transaction observe its writes.
func (t *Table) ForRead(pageNum uint32) ([]byte, error) {
	if t.txn.Active() && pageNum < storage.MaxPages && t.txn.shadow[pageNum] != nil {
		return t.txn.shadow[pageNum], nil
	}
	return t.pager.Get(pageNum)
}

// ForWrite returns the page for writing. Outside a transaction writes go
// straight to the pager cache; inside one, a shadow copy is materialized
// on first touch and all writes land there until commit.
func (t *Table) ForWrite(pageNum uint32) ([]byte, error) {
	if !t.txn.Active() {
		return t.pager.Get(pageNum)
	}
	if pageNum >= storage.MaxPages {
		return t.pager.Get(pageNum)
	}

	if t.txn.shadow[pageNum] == nil {
		original, err := t.pager.Get(pageNum)
		if err != nil {
			return nil, err
		}
		shadow := make([]byte, storage.PageSize)
		copy(shadow, original)
		t.txn.shadow[pageNum] = shadow
		if !t.txn.modified[pageNum] {
			t.txn.modified[pageNum] = true
			t.txn.numModified++
		}
	}
	return t.txn.shadow[pageNum], nil
}

// Page returns the raw pager page, bypassing any transaction overlay.
func (t *Table) Page(pageNum uint32) ([]byte, error) {
	return t.pager.Get(pageNum)
}

// Allocate returns the next unused page number.
func (t *Table) Allocate() uint32 {
	return t.pager.Allocate()
}

// Evict drops a page's cache slot.
func (t *Table) Evict(pageNum uint32) {
	t.pager.Evict(pageNum)
}

var _ btree.PageAccessor = (*Table)(nil)
