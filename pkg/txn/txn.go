// Package txn implements the Base Transaction and its stack of Nested
// Transactions (save-points), spec §3/§4.5.
package txn

import (
	"github.com/opcoordio/txlog/pkg/adapter"
	"github.com/opcoordio/txlog/pkg/oplog"
	"github.com/opcoordio/txlog/pkg/txerr"
	"github.com/opcoordio/txlog/pkg/txid"
)

// Savepoint is the opaque handle returned by Push. Callers retain it to
// later Commit or Rollback that specific nested transaction, even if
// other save-points have since been pushed above it.
type Savepoint struct {
	pos    oplog.Position
	link   *spLink
	popped bool
}

// BaseTransaction is the outermost transactional unit: it owns the
// Operation Log and the stack of nested save-points anchored to
// positions within it.
type BaseTransaction struct {
	id    txid.TxId
	log   oplog.OperationLog
	State any // user-supplied opaque state threaded by the caller
	stack *savepointList
}

// New returns a BaseTransaction with an empty save-point stack.
func New(id txid.TxId, log oplog.OperationLog) *BaseTransaction {
	return &BaseTransaction{id: id, log: log, stack: newSavepointList()}
}

func (b *BaseTransaction) ID() txid.TxId        { return b.id }
func (b *BaseTransaction) Log() oplog.OperationLog { return b.log }

// Depth reports how many save-points are currently open.
func (b *BaseTransaction) Depth() int { return b.stack.len() }

// Push captures the log's current append position as a new save-point.
func (b *BaseTransaction) Push() (*Savepoint, error) {
	pos, err := b.log.Position()
	if err != nil {
		return nil, err
	}
	sp := &Savepoint{pos: pos}
	sp.link = b.stack.pushTail(sp)
	sp.link.sp = sp
	return sp, nil
}

// CommitTop pops the top save-point without changing the log.
func (b *BaseTransaction) CommitTop() error {
	top := b.stack.peekTail()
	if top == nil {
		return txerr.New(txerr.StateError, "StackEmpty: no nested transaction to commit")
	}
	top.popSelf()
	top.sp.popped = true
	return nil
}

// RollbackTop undoes every operation appended since the top save-point
// was pushed (reading the log from its end back to that position, in
// reverse), truncates the log to that position, then pops.
func (b *BaseTransaction) RollbackTop(ctx *adapter.UpdateContext, resource adapter.ResourceAdapter) error {
	top := b.stack.peekTail()
	if top == nil {
		return txerr.New(txerr.StateError, "StackEmpty: no nested transaction to roll back")
	}
	if err := b.undoBeyond(ctx, resource, top.sp.pos); err != nil {
		return err
	}
	if err := b.log.Truncate(top.sp.pos); err != nil {
		return err
	}
	top.popSelf()
	top.sp.popped = true
	return nil
}

// CommitTo repeatedly commits the top save-point until target is
// reached, then commits target itself.
func (b *BaseTransaction) CommitTo(target *Savepoint) error {
	if err := b.checkPresent(target); err != nil {
		return err
	}
	for b.stack.peekTail() != target.link {
		if err := b.CommitTop(); err != nil {
			return err
		}
	}
	return b.CommitTop()
}

// RollbackTo repeatedly rolls back the top save-point until target is
// reached, then rolls back target itself.
func (b *BaseTransaction) RollbackTo(ctx *adapter.UpdateContext, resource adapter.ResourceAdapter, target *Savepoint) error {
	if err := b.checkPresent(target); err != nil {
		return err
	}
	for b.stack.peekTail() != target.link {
		if err := b.RollbackTop(ctx, resource); err != nil {
			return err
		}
	}
	return b.RollbackTop(ctx, resource)
}

func (b *BaseTransaction) checkPresent(target *Savepoint) error {
	if target == nil || target.popped || target.link == nil || target.link.list != b.stack {
		return txerr.New(txerr.NotFound, "TransactionNotPresent: save-point is not on this transaction's stack")
	}
	return nil
}

// RollbackAll undoes every record in the log, from its end back to the
// very start, in reverse append order. Used for a full rollback of the
// base transaction itself (which has no enclosing save-point of its
// own), spec §4.4.
func (b *BaseTransaction) RollbackAll(ctx *adapter.UpdateContext, resource adapter.ResourceAdapter) error {
	positions, err := b.log.Positions(true)
	if err != nil {
		return err
	}
	return b.runUndo(ctx, resource, positions)
}

// RedoAll walks every record in the log forward, asking the adapter to
// re-apply each, bracketed by BeginRedo/EndRedo. Used for commit of the
// outermost transaction and for REDO-mode recovery, spec §4.4.
func (b *BaseTransaction) RedoAll(ctx *adapter.UpdateContext, resource adapter.ResourceAdapter) error {
	positions, err := b.log.Positions(false)
	if err != nil {
		return err
	}
	proceed, err := resource.BeginRedo(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}
	for _, p := range positions {
		op, err := b.log.Read(ctx, resource, p)
		if err != nil {
			return err
		}
		if err := resource.Redo(ctx, op); err != nil {
			return err
		}
	}
	return resource.EndRedo(ctx)
}

func (b *BaseTransaction) runUndo(ctx *adapter.UpdateContext, resource adapter.ResourceAdapter, positions []oplog.Position) error {
	if len(positions) == 0 {
		return nil
	}
	proceed, err := resource.BeginUndo(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}
	for _, p := range positions {
		op, err := b.log.Read(ctx, resource, p)
		if err != nil {
			return err
		}
		if err := resource.Undo(ctx, op); err != nil {
			return err
		}
	}
	return resource.EndUndo(ctx)
}

// undoBeyond walks the log in reverse from its end back to the record
// that starts at pos (the first one appended after pos was captured),
// calling the adapter's Undo for each record, bracketed by
// BeginUndo/EndUndo.
func (b *BaseTransaction) undoBeyond(ctx *adapter.UpdateContext, resource adapter.ResourceAdapter, pos oplog.Position) error {
	positions, err := b.log.PositionsTo(pos)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}
	proceed, err := resource.BeginUndo(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}
	for _, p := range positions {
		op, err := b.log.Read(ctx, resource, p)
		if err != nil {
			return err
		}
		if err := resource.Undo(ctx, op); err != nil {
			return err
		}
	}
	return resource.EndUndo(ctx)
}
