package backend

import (
	"errors"

	"github.com/paulboul1013/tinytable/internal/storage"
)

var (
	// ErrNoTransaction reports commit or rollback without an active
	// transaction.
	ErrNoTransaction = errors.New("no active transaction")

	// ErrTransactionActive reports begin while a transaction is open.
	ErrTransactionActive = errors.New("transaction already in progress")
)

// TxnState tracks the transaction lifecycle. Committed and Aborted are
// terminal until the next Begin resets them.
type TxnState int

const (
	TxnNone TxnState = iota
	TxnActive
	TxnCommitted
	TxnAborted
)

// Transaction implements shadow paging: writes inside a transaction land
// on per-page shadow copies, which commit copies back through the pager
// and flushes, and rollback simply discards.
type Transaction struct {
	state       TxnState
	shadow      [storage.MaxPages][]byte
	modified    [storage.MaxPages]bool
	numModified int
}

// Active reports whether a transaction is in progress.
func (x *Transaction) Active() bool {
	return x.state == TxnActive
}

// State returns the transaction state.
func (x *Transaction) State() TxnState {
	return x.state
}

func (x *Transaction) clear() {
	for i := range x.shadow {
		x.shadow[i] = nil
		x.modified[i] = false
	}
	x.numModified = 0
}

// InTransaction reports whether the table has an active transaction.
func (t *Table) InTransaction() bool {
	return t.txn.Active()
}

// Begin starts a transaction, discarding any shadow state left from a
// prior one.
func (t *Table) Begin() error {
	if t.txn.Active() {
		return ErrTransactionActive
	}
	t.txn.clear()
	t.txn.state = TxnActive
	t.log.Debug("transaction started")
	return nil
}

// Commit copies every shadow page back into the pager cache and flushes
// it to disk, in page-number order. Durability holds once Commit returns
// nil; a crash in the middle may leave a prefix of pages persisted.
func (t *Table) Commit() error {
	if !t.txn.Active() {
		return ErrNoTransaction
	}

	for i := uint32(0); i < storage.MaxPages; i++ {
		if !t.txn.modified[i] || t.txn.shadow[i] == nil {
			continue
		}
		original, err := t.pager.Get(i)
		if err != nil {
			return err
		}
		copy(original, t.txn.shadow[i])
		if err := t.pager.Flush(i); err != nil {
			return err
		}
		t.txn.shadow[i] = nil
		t.txn.modified[i] = false
	}

	t.txn.numModified = 0
	t.txn.state = TxnCommitted
	t.log.Debug("transaction committed")
	return nil
}

// Rollback discards all shadow pages, restoring the pre-transaction view.
func (t *Table) Rollback() error {
	if !t.txn.Active() {
		return ErrNoTransaction
	}
	t.txn.clear()
	t.txn.state = TxnAborted
	t.log.Debug("transaction rolled back")
	return nil
}
