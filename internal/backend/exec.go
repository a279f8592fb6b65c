package backend

import (
	"errors"
	"fmt"

	"github.com/paulboul1013/tinytable/internal/btree"
	"github.com/paulboul1013/tinytable/internal/storage"
	"github.com/paulboul1013/tinytable/tsql"
)

var (
	// ErrDuplicateKey reports an insert of an existing key.
	ErrDuplicateKey = btree.ErrDuplicateKey

	// ErrKeyNotFound reports an update or delete that matched nothing.
	ErrKeyNotFound = btree.ErrKeyNotFound

	// ErrTableFull reports an insert once the page cache is exhausted.
	ErrTableFull = errors.New("table full")
)

// maxBulkDelete caps the rows one delete statement with a non-trivial
// WHERE clause can remove. Matches past the cap are silently left behind.
const maxBulkDelete = 1000

// Execute dispatches a parsed statement. Selects return a row iterator
// the caller must drain before issuing another statement; all other
// statements return nil rows.
func (t *Table) Execute(stmt *tsql.Statement) (*Rows, error) {
	switch stmt.Kind {
	case tsql.StatementInsert:
		return nil, t.execInsert(stmt)
	case tsql.StatementSelect:
		return t.execSelect(stmt)
	case tsql.StatementUpdate:
		return nil, t.execUpdate(stmt)
	case tsql.StatementDelete:
		return nil, t.execDelete(stmt)
	case tsql.StatementBegin:
		return nil, t.Begin()
	case tsql.StatementCommit:
		return nil, t.Commit()
	case tsql.StatementRollback:
		return nil, t.Rollback()
	case tsql.StatementAnalyze:
		return nil, t.Analyze()
	}
	return nil, fmt.Errorf("unsupported statement kind %d", stmt.Kind)
}

func (t *Table) execInsert(stmt *tsql.Statement) error {
	row := stmt.Row
	if err := t.tree.Insert(row.ID, &row); err != nil {
		if errors.Is(err, storage.ErrPageOutOfRange) {
			return ErrTableFull
		}
		return err
	}
	t.stats.noteInsert(&row)
	return nil
}

func (t *Table) execSelect(stmt *tsql.Statement) (*Rows, error) {
	plan := planQuery(stmt.Where, t.stats)
	t.log.WithField("plan", plan.Type.String()).
		WithField("cost", plan.EstimatedCost).
		Debug("query plan selected")

	rows := &Rows{where: stmt.Where}

	switch plan.Type {
	case PlanIndexLookup:
		cursor, err := t.tree.Find(plan.StartKey)
		if err != nil {
			return nil, err
		}
		numCells, err := cursor.NumCells()
		if err != nil {
			return nil, err
		}
		if cursor.CellNum >= numCells {
			rows.done = true
			return rows, nil
		}
		key, err := cursor.Key()
		if err != nil {
			return nil, err
		}
		if key != plan.StartKey {
			rows.done = true
			return rows, nil
		}
		rows.cursor = cursor
		rows.single = true

	case PlanRangeScan:
		var cursor *btree.Cursor
		var err error
		if plan.HasStartKey && plan.StartKey > 0 {
			cursor, err = t.tree.Find(plan.StartKey)
		} else {
			cursor, err = t.tree.Start()
		}
		if err != nil {
			return nil, err
		}
		rows.cursor = cursor

	default:
		cursor, err := t.tree.Start()
		if err != nil {
			return nil, err
		}
		rows.cursor = cursor
	}

	return rows, nil
}

func (t *Table) execUpdate(stmt *tsql.Statement) error {
	// A trivial `id = k` filter updates in place after a point lookup.
	if w := stmt.Where; w.IsBasic(tsql.FieldID) && w.Op == tsql.OpEqual {
		key := w.IDValue
		cursor, err := t.tree.Find(key)
		if err != nil {
			return err
		}
		node, err := t.ForWrite(cursor.PageNum)
		if err != nil {
			return err
		}
		leaf := storage.LeafNode(node)
		if cursor.CellNum < leaf.NumCells() && leaf.Key(cursor.CellNum) == key {
			var existing storage.Row
			existing.Deserialize(leaf.Value(cursor.CellNum))
			applyUpdate(&existing, stmt)
			existing.Serialize(leaf.Value(cursor.CellNum))
			return nil
		}
		return ErrKeyNotFound
	}

	cursor, err := t.tree.Start()
	if err != nil {
		return err
	}

	found := false
	for !cursor.EndOfTable {
		row, err := cursor.Row()
		if err != nil {
			return err
		}
		if stmt.Where == nil || stmt.Where.Eval(&row) {
			found = true
			applyUpdate(&row, stmt)
			if err := cursor.WriteRow(&row); err != nil {
				return err
			}
		}
		if err := cursor.Advance(); err != nil {
			return err
		}
	}

	if !found {
		return ErrKeyNotFound
	}
	return nil
}

func applyUpdate(row *storage.Row, stmt *tsql.Statement) {
	if stmt.UpdateUsername {
		row.Username = stmt.Row.Username
	}
	if stmt.UpdateEmail {
		row.Email = stmt.Row.Email
	}
}

func (t *Table) execDelete(stmt *tsql.Statement) error {
	// A trivial `id = k` filter deletes after a point lookup.
	if w := stmt.Where; w.IsBasic(tsql.FieldID) && w.Op == tsql.OpEqual {
		deleted, err := t.deleteKey(w.IDValue)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrKeyNotFound
		}
		return nil
	}

	// Collect matching ids first, then delete them in reverse order so
	// earlier removals cannot shift rows still awaiting deletion.
	cursor, err := t.tree.Start()
	if err != nil {
		return err
	}

	var toDelete []uint32
	for !cursor.EndOfTable && len(toDelete) < maxBulkDelete {
		row, err := cursor.Row()
		if err != nil {
			return err
		}
		if stmt.Where == nil || stmt.Where.Eval(&row) {
			toDelete = append(toDelete, row.ID)
		}
		if err := cursor.Advance(); err != nil {
			return err
		}
	}

	if len(toDelete) == 0 {
		return ErrKeyNotFound
	}

	for i := len(toDelete) - 1; i >= 0; i-- {
		if _, err := t.deleteKey(toDelete[i]); err != nil {
			return err
		}
	}
	return nil
}

// deleteKey removes key when present, reporting whether a row went away.
func (t *Table) deleteKey(key uint32) (bool, error) {
	cursor, err := t.tree.Find(key)
	if err != nil {
		return false, err
	}
	numCells, err := cursor.NumCells()
	if err != nil {
		return false, err
	}
	if cursor.CellNum >= numCells {
		return false, nil
	}
	keyAtIndex, err := cursor.Key()
	if err != nil {
		return false, err
	}
	if keyAtIndex != key {
		return false, nil
	}

	if err := t.tree.Delete(cursor); err != nil {
		return false, err
	}
	t.stats.noteDelete()
	return true, nil
}

// Rows is the lazy row sequence produced by a select. Iterate with Next,
// read the current row with Row, and check Err once Next returns false.
type Rows struct {
	where  *tsql.Expr
	cursor *btree.Cursor
	single bool
	done   bool
	row    storage.Row
	err    error
}

// Next advances to the next matching row.
func (r *Rows) Next() bool {
	if r.done || r.err != nil {
		return false
	}

	if r.single {
		r.done = true
		row, err := r.cursor.Row()
		if err != nil {
			r.err = err
			return false
		}
		if r.where != nil && !r.where.Eval(&row) {
			return false
		}
		r.row = row
		return true
	}

	for !r.cursor.EndOfTable {
		row, err := r.cursor.Row()
		if err != nil {
			r.err = err
			return false
		}
		if err := r.cursor.Advance(); err != nil {
			r.err = err
			return false
		}
		if r.where == nil || r.where.Eval(&row) {
			r.row = row
			return true
		}
	}

	r.done = true
	return false
}

// Row returns the row Next positioned on.
func (r *Rows) Row() storage.Row {
	return r.row
}

// Err returns the first error hit during iteration.
func (r *Rows) Err() error {
	return r.err
}

// Drain consumes the remaining rows and returns them.
func (r *Rows) Drain() ([]storage.Row, error) {
	var rows []storage.Row
	for r.Next() {
		rows = append(rows, r.Row())
	}
	return rows, r.Err()
}
