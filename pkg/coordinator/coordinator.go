// Package coordinator implements the Transaction Coordinator (spec §4.4):
// it owns the active set of base transactions, drives recovery at
// startup, and walks the Operation Log forward or backward to commit or
// roll back a base transaction via the Resource Adapter.
//
// Go has no notion of an OS thread visible to user code, so "thread
// affinity" (spec §5/§9) is keyed by a caller-supplied token rather than
// an implicit runtime thread-local: BeginTransaction takes a key, and in
// thread-affine mode that key (a connection id, a request id, anything
// comparable) is looked up in an explicit map guarded by the
// coordinator's own mutex, never a goroutine-local variable.
package coordinator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opcoordio/txlog/pkg/adapter"
	"github.com/opcoordio/txlog/pkg/diag"
	"github.com/opcoordio/txlog/pkg/logstore"
	"github.com/opcoordio/txlog/pkg/oplog"
	"github.com/opcoordio/txlog/pkg/txerr"
	"github.com/opcoordio/txlog/pkg/txid"
	"github.com/opcoordio/txlog/pkg/txn"
	"go.uber.org/zap"
)

type state int

const (
	stateNew state = iota
	stateRunning
	stateStopped
)

// Coordinator is the C4 Transaction Coordinator. The zero value is not
// usable; construct with New.
type Coordinator struct {
	resource       adapter.ResourceAdapter
	store          logstore.LogStore
	log            *diag.Logger
	threadAffine   bool
	recoveryFanout int

	mu     sync.Mutex
	st     state
	active map[txid.TxId]*txn.BaseTransaction
	byKey  map[any]*txn.BaseTransaction // thread-affine mode only
}

// New returns an unstarted Coordinator. threadAffine and recoveryFanout
// mirror config.Settings.ThreadAffine/RecoveryFanout; log may be nil, in
// which case diagnostics are discarded.
func New(resource adapter.ResourceAdapter, store logstore.LogStore, log *diag.Logger, threadAffine bool, recoveryFanout int) *Coordinator {
	if recoveryFanout <= 0 {
		recoveryFanout = 1
	}
	return &Coordinator{
		resource:       resource,
		store:          store,
		log:            log,
		threadAffine:   threadAffine,
		recoveryFanout: recoveryFanout,
		active:         make(map[txid.TxId]*txn.BaseTransaction),
		byKey:          make(map[any]*txn.BaseTransaction),
	}
}

// State reports the coordinator's current lifecycle state ("new",
// "running", or "stopped"). Returned directly from the guarded field,
// not cached or recomputed, so it can never go stale between two calls
// the way a snapshot-then-branch implementation could.
func (c *Coordinator) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.st {
	case stateRunning:
		return "running"
	case stateStopped:
		return "stopped"
	default:
		return "new"
	}
}

func (c *Coordinator) warn(msg string, fields ...zap.Field) {
	if c.log != nil {
		c.log.Warn(msg, fields...)
	}
}

func (c *Coordinator) info(msg string, fields ...zap.Field) {
	if c.log != nil {
		c.log.Info(msg, fields...)
	}
}

// Start opens the log store, recovers any orphaned transactions left
// behind by a prior crash, and admits the coordinator into the running
// state. recoverCorrupt, if false, refuses to start when the store scan
// finds a corrupt log; if true, Start proceeds and the corrupt log is
// discarded during the recovery scan (spec §9 open question).
func (c *Coordinator) Start(recoverCorrupt bool) error {
	c.mu.Lock()
	if c.st != stateNew {
		c.mu.Unlock()
		return txerr.New(txerr.StateError, "coordinator already started")
	}
	c.mu.Unlock()

	status, err := c.store.Open()
	if err != nil {
		return err
	}

	switch status {
	case logstore.Ready:
		// nothing to recover
	case logstore.Recover:
		if err := c.recover(); err != nil {
			return err
		}
	case logstore.Corrupt:
		if !recoverCorrupt {
			_ = c.store.Close(false)
			return txerr.New(txerr.Corrupt, "log store has at least one corrupt log and recover_corrupt is false")
		}
		if err := c.recover(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.st = stateRunning
	c.mu.Unlock()
	return nil
}

// recover drives the full recovery cycle: BeginRecovery, a bounded
// concurrent fan-out of one redo-or-undo walk per orphan transaction,
// then EndRecovery. Recovery ordering across distinct orphan
// transactions is unspecified (spec §9): the adapter's undo/redo must
// already tolerate being applied out of order relative to other base
// transactions, so fanning the walk out across a worker pool is safe and
// lets recovery finish in roughly one orphan's worth of wall time
// instead of the sum of all of them.
func (c *Coordinator) recover() error {
	orphans, err := c.store.OrphanTransactions()
	if err != nil {
		return err
	}

	rctx := &adapter.UpdateContext{Coordinator: c, Phase: adapter.PhaseRecovery, TxId: txid.Nil}
	if err := c.resource.BeginRecovery(rctx); err != nil {
		return err
	}

	group, _ := errgroup.WithContext(context.Background())
	group.SetLimit(c.recoveryFanout)
	for _, id := range orphans {
		id := id
		group.Go(func() error {
			return c.recoverOne(id)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	return c.resource.EndRecovery(rctx)
}

// recoverOne reopens a single orphan's log and replays it according to
// the mode it was left in: REDO logs are walked forward (the crash
// happened after commit flipped the mode but before the log was
// deleted), UNDO logs are walked in reverse (the crash happened before
// commit, so the transaction never took effect and must be undone).
func (c *Coordinator) recoverOne(id txid.TxId) error {
	log, err := c.store.OpenOperationLog(id)
	if err != nil {
		return err
	}

	base := txn.New(id, log)
	ctx := &adapter.UpdateContext{Coordinator: c, Phase: adapter.PhaseRecovery, TxId: id}

	switch log.Mode() {
	case oplog.ModeRedo:
		c.info("recovering orphan log in redo mode", zap.String("tx_id", id.String()))
		if err := base.RedoAll(ctx, c.resource); err != nil {
			return err
		}
	case oplog.ModeUndo:
		c.info("recovering orphan log in undo mode", zap.String("tx_id", id.String()))
		if err := base.RollbackAll(ctx, c.resource); err != nil {
			return err
		}
	}

	return c.store.RemoveOperationLog(log)
}

// Stop refuses new transactions and, if wait is true, polls every 500ms
// for the active set to drain until StopTimeout elapses; any
// transactions still active at that point are forced closed (rolled
// back) and a warning is logged. If wait is false, Stop forces an
// immediate close of every active transaction.
func (c *Coordinator) Stop(wait bool, timeout time.Duration) error {
	c.mu.Lock()
	if c.st != stateRunning {
		c.mu.Unlock()
		return txerr.New(txerr.StateError, "coordinator is not running")
	}
	c.st = stateStopped
	c.mu.Unlock()

	if wait {
		deadline := time.Now().Add(timeout)
		for {
			c.mu.Lock()
			n := len(c.active)
			c.mu.Unlock()
			if n == 0 {
				break
			}
			if time.Now().After(deadline) {
				c.warn("stop timed out with transactions still active, forcing close", zap.Int("active", n))
				break
			}
			time.Sleep(500 * time.Millisecond)
		}
	}

	c.mu.Lock()
	remaining := make([]*txn.BaseTransaction, 0, len(c.active))
	for _, b := range c.active {
		remaining = append(remaining, b)
	}
	c.mu.Unlock()

	for _, b := range remaining {
		ctx := &adapter.UpdateContext{Coordinator: c, Phase: adapter.PhaseRollback, TxId: b.ID()}
		if err := b.RollbackAll(ctx, c.resource); err != nil {
			c.warn("force rollback failed during stop", zap.String("tx_id", b.ID().String()), zap.Error(err))
			continue
		}
		c.endTransaction(b)
	}

	return c.store.Close(false)
}

// BeginTransaction starts or joins a base transaction. In thread-
// spanning mode (threadAffine=false) key is ignored and every call
// returns a handle onto a fresh base transaction. In thread-affine mode,
// if a base transaction is already bound to key a new save-point is
// pushed on its stack and the returned handle commits/rolls back just
// that save-point; otherwise a fresh base transaction is created and
// bound to key.
func (c *Coordinator) BeginTransaction(key any) (*Transaction, error) {
	c.mu.Lock()
	if c.st != stateRunning {
		c.mu.Unlock()
		return nil, txerr.New(txerr.StateError, "coordinator is not running")
	}

	if c.threadAffine {
		if base, ok := c.byKey[key]; ok {
			c.mu.Unlock()
			sp, err := base.Push()
			if err != nil {
				return nil, err
			}
			return &Transaction{coord: c, base: base, sp: sp, key: key}, nil
		}
	}
	c.mu.Unlock()

	id := txid.New()
	log, err := c.store.CreateOperationLog(id)
	if err != nil {
		return nil, err
	}
	base := txn.New(id, log)

	c.mu.Lock()
	c.active[id] = base
	if c.threadAffine {
		c.byKey[key] = base
	}
	c.mu.Unlock()

	return &Transaction{coord: c, base: base, key: key}, nil
}

// CurrentTransaction returns the base transaction currently bound to
// key. Valid only in thread-affine mode.
func (c *Coordinator) CurrentTransaction(key any) (*Transaction, error) {
	if !c.threadAffine {
		return nil, txerr.New(txerr.StateError, "CurrentTransaction requires a thread-affine coordinator")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	base, ok := c.byKey[key]
	if !ok {
		return nil, txerr.New(txerr.NotFound, "no transaction is bound to this key")
	}
	return &Transaction{coord: c, base: base, key: key}, nil
}

// commitBase performs the commit-of-the-outermost-transaction algorithm
// (spec §4.4): flip the log to REDO, reopen it, walk it forward
// re-applying every operation, then delete it.
func (c *Coordinator) commitBase(base *txn.BaseTransaction) error {
	log := base.Log()
	if err := c.store.CommitOperationLog(log); err != nil {
		return err
	}
	reopened, err := c.store.OpenOperationLog(base.ID())
	if err != nil {
		return err
	}
	redoBase := txn.New(base.ID(), reopened)
	ctx := &adapter.UpdateContext{Coordinator: c, Phase: adapter.PhaseCommit, TxId: base.ID()}
	if err := redoBase.RedoAll(ctx, c.resource); err != nil {
		return err
	}
	if err := c.store.RemoveOperationLog(reopened); err != nil {
		return err
	}
	c.endTransaction(base)
	return nil
}

// rollbackBase performs the rollback-of-the-base-transaction algorithm:
// undo every record in reverse order back to the start of the log, then
// delete it. The log stays in UNDO mode the whole time.
func (c *Coordinator) rollbackBase(base *txn.BaseTransaction) error {
	ctx := &adapter.UpdateContext{Coordinator: c, Phase: adapter.PhaseRollback, TxId: base.ID()}
	if err := base.RollbackAll(ctx, c.resource); err != nil {
		return err
	}
	if err := c.store.RemoveOperationLog(base.Log()); err != nil {
		return err
	}
	c.endTransaction(base)
	return nil
}

// endTransaction removes base from the active set and, in thread-
// affine mode, unbinds it from its key.
func (c *Coordinator) endTransaction(base *txn.BaseTransaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, base.ID())
	if c.threadAffine {
		for k, b := range c.byKey {
			if b == base {
				delete(c.byKey, k)
			}
		}
	}
}
