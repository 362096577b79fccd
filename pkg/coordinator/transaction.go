package coordinator

import (
	"github.com/opcoordio/txlog/pkg/adapter"
	"github.com/opcoordio/txlog/pkg/txerr"
	"github.com/opcoordio/txlog/pkg/txid"
	"github.com/opcoordio/txlog/pkg/txn"
)

// Transaction is the handle BeginTransaction returns. When sp is nil it
// represents the base transaction itself; otherwise it represents one
// nested save-point on that base transaction's stack. It satisfies
// io.Closer: Close without a prior Commit or Rollback performs Rollback
// (a full rollback for the base handle, a rollback to its save-point for
// a nested handle), so a handle can always be deferred safely.
type Transaction struct {
	coord *Coordinator
	base  *txn.BaseTransaction
	sp    *txn.Savepoint // nil for a base-transaction-level handle
	key   any

	closed bool
}

// ID returns the owning base transaction's identifier.
func (t *Transaction) ID() txid.TxId { return t.base.ID() }

// Depth reports how many save-points are currently open on the base
// transaction this handle belongs to.
func (t *Transaction) Depth() int { return t.base.Depth() }

// Commit commits this transaction. For a nested handle this commits
// every save-point above its own, then its own save-point, without
// changing the log. For the base handle this is a full commit: flip to REDO,
// re-apply forward, delete the log.
func (t *Transaction) Commit() error {
	if t.closed {
		return txerr.New(txerr.StateError, "transaction is already closed")
	}
	t.closed = true
	if t.sp != nil {
		return t.base.CommitTo(t.sp)
	}
	return t.coord.commitBase(t.base)
}

// Rollback rolls back this transaction. For a nested handle this undoes
// and truncates back to its own save-point. For the base handle this is
// a full rollback: undo every record back to the start, delete the log.
func (t *Transaction) Rollback() error {
	if t.closed {
		return txerr.New(txerr.StateError, "transaction is already closed")
	}
	t.closed = true
	ctx := &adapter.UpdateContext{Coordinator: t.coord, Phase: adapter.PhaseRollback, TxId: t.base.ID()}
	if t.sp != nil {
		return t.base.RollbackTo(ctx, t.coord.resource, t.sp)
	}
	return t.coord.rollbackBase(t.base)
}

// Write appends an operation to the base transaction's log, under the
// coordinator's resource adapter. The current save-point (if any) does
// not need to be notified: its position was already captured by Push,
// and a later Rollback on that save-point will undo every record
// written after it, including this one.
func (t *Transaction) Write(payload any, description string) error {
	if t.closed {
		return txerr.New(txerr.StateError, "transaction is already closed")
	}
	ctx := &adapter.UpdateContext{Coordinator: t.coord, TxId: t.base.ID()}
	return t.base.Log().Write(ctx, t.coord.resource, adapter.Operation{Description: description, Payload: payload})
}

// Close rolls back the transaction if it was not already committed or
// rolled back. Calling Close after a Commit or Rollback is a no-op.
func (t *Transaction) Close() error {
	if t.closed {
		return nil
	}
	return t.Rollback()
}
