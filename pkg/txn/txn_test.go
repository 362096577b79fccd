package txn

import (
	"testing"

	"github.com/opcoordio/txlog/pkg/adapter"
	"github.com/opcoordio/txlog/pkg/adapter/accumulator"
	"github.com/opcoordio/txlog/pkg/oplog"
	"github.com/opcoordio/txlog/pkg/txid"
)

func newBase(t *testing.T) (*BaseTransaction, *accumulator.Accumulator) {
	t.Helper()
	id := txid.New()
	log := oplog.NewMemLog(id)
	acc := accumulator.New()
	return New(id, log), acc
}

func write(t *testing.T, b *BaseTransaction, acc *accumulator.Accumulator, v int32) {
	t.Helper()
	ctx := &adapter.UpdateContext{TxId: b.ID()}
	if err := b.Log().Write(ctx, acc, adapter.Operation{Payload: v}); err != nil {
		t.Fatalf("write(%d): %v", v, err)
	}
	// The accumulator only changes value on Redo/Undo, not on Write, so
	// after a rollback it holds minus the sum of the undone writes.
}

func TestPushCommitTopIsNoOpOnLog(t *testing.T) {
	b, acc := newBase(t)
	sp, err := b.Push()
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	write(t, b, acc, 5)
	if err := b.CommitTop(); err != nil {
		t.Fatalf("CommitTop: %v", err)
	}
	if b.Depth() != 0 {
		t.Fatalf("Depth after CommitTop = %d, want 0", b.Depth())
	}
	positions, err := b.Log().Positions(false)
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("log has %d records after CommitTop, want 1 (commit leaves the log as is)", len(positions))
	}
	_ = sp
}

func TestRollbackTopUndoesAndTruncates(t *testing.T) {
	b, acc := newBase(t)
	if _, err := b.Push(); err != nil {
		t.Fatalf("Push: %v", err)
	}
	write(t, b, acc, 10)
	write(t, b, acc, 20)

	ctx := &adapter.UpdateContext{TxId: b.ID()}
	if err := b.RollbackTop(ctx, acc); err != nil {
		t.Fatalf("RollbackTop: %v", err)
	}
	if b.Depth() != 0 {
		t.Fatalf("Depth after RollbackTop = %d, want 0", b.Depth())
	}
	if acc.Value() != -30 {
		t.Fatalf("accumulator = %d, want -30 (undo of 20 then 10)", acc.Value())
	}
	positions, err := b.Log().Positions(false)
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("log has %d records after rollback, want 0", len(positions))
	}
}

func TestNestedRollbackLeavesOuterSavepointIntact(t *testing.T) {
	b, acc := newBase(t)
	outer, err := b.Push()
	if err != nil {
		t.Fatalf("Push outer: %v", err)
	}
	write(t, b, acc, 1)

	if _, err := b.Push(); err != nil {
		t.Fatalf("Push inner: %v", err)
	}
	write(t, b, acc, 100)

	ctx := &adapter.UpdateContext{TxId: b.ID()}
	if err := b.RollbackTop(ctx, acc); err != nil {
		t.Fatalf("RollbackTop (inner): %v", err)
	}
	if acc.Value() != -100 {
		t.Fatalf("accumulator after inner rollback = %d, want -100 (only the inner write is undone)", acc.Value())
	}
	if b.Depth() != 1 {
		t.Fatalf("Depth after inner rollback = %d, want 1", b.Depth())
	}

	if err := b.CommitTop(); err != nil {
		t.Fatalf("CommitTop (outer): %v", err)
	}
	if b.Depth() != 0 {
		t.Fatalf("Depth after outer commit = %d, want 0", b.Depth())
	}
	positions, err := b.Log().Positions(false)
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("log has %d records after outer commit, want 1 (the surviving write)", len(positions))
	}
}

func TestCommitToSkipsIntermediateSavepoints(t *testing.T) {
	b, _ := newBase(t)
	first, err := b.Push()
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if _, err := b.Push(); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if _, err := b.Push(); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := b.CommitTo(first); err != nil {
		t.Fatalf("CommitTo: %v", err)
	}
	if b.Depth() != 0 {
		t.Fatalf("Depth after CommitTo(first) = %d, want 0", b.Depth())
	}
}

func TestCommitAlreadyPoppedSavepointFails(t *testing.T) {
	b, _ := newBase(t)
	sp, err := b.Push()
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := b.CommitTop(); err != nil {
		t.Fatalf("CommitTop: %v", err)
	}
	if err := b.CommitTo(sp); err == nil {
		t.Fatal("expected error committing an already-popped save-point")
	}
}

func TestRollbackTopWithNothingOpenFails(t *testing.T) {
	b, acc := newBase(t)
	ctx := &adapter.UpdateContext{TxId: b.ID()}
	if err := b.RollbackTop(ctx, acc); err == nil {
		t.Fatal("expected error rolling back with an empty save-point stack")
	}
}
