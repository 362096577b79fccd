package logstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opcoordio/txlog/pkg/adapter"
	"github.com/opcoordio/txlog/pkg/adapter/accumulator"
	"github.com/opcoordio/txlog/pkg/oplog"
	"github.com/opcoordio/txlog/pkg/txid"
)

func TestFileStoreOpenReadyOnEmptyDir(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, nil)
	status, err := s.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if status != Ready {
		t.Fatalf("status = %v, want Ready", status)
	}
	if err := s.Close(false); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestFileStoreSecondOpenFails(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, nil)
	if _, err := s.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close(false)

	other := NewFileStore(dir, nil)
	if _, err := other.Open(); err == nil {
		t.Fatal("expected second Open of the same directory to fail")
	}
}

func TestCreateOpenCommitRemoveLifecycle(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, nil)
	if _, err := s.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close(false)

	id := txid.New()
	log, err := s.CreateOperationLog(id)
	if err != nil {
		t.Fatalf("CreateOperationLog: %v", err)
	}

	acc := accumulator.New()
	ctx := &adapter.UpdateContext{TxId: id}
	if err := log.Write(ctx, acc, adapter.Operation{Payload: int32(9)}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := s.CommitOperationLog(log); err != nil {
		t.Fatalf("CommitOperationLog: %v", err)
	}
	if log.Mode() != oplog.ModeRedo {
		t.Fatalf("mode after commit = %v, want ModeRedo", log.Mode())
	}

	reopened, err := s.OpenOperationLog(id)
	if err != nil {
		t.Fatalf("OpenOperationLog after commit: %v", err)
	}
	if reopened.Mode() != oplog.ModeRedo {
		t.Fatalf("reopened mode = %v, want ModeRedo", reopened.Mode())
	}
	if err := s.RemoveOperationLog(reopened); err != nil {
		t.Fatalf("RemoveOperationLog: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, id.String()+".log")); !os.IsNotExist(err) {
		t.Fatal("log file should be deleted after RemoveOperationLog")
	}
}

func TestCreateOperationLogRejectsDuplicateWhileOpen(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, nil)
	if _, err := s.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close(false)

	id := txid.New()
	if _, err := s.CreateOperationLog(id); err != nil {
		t.Fatalf("CreateOperationLog: %v", err)
	}
	if _, err := s.CreateOperationLog(id); err == nil {
		t.Fatal("expected error creating a log for an already-open TxId")
	}
}

func TestOpenDetectsCorruptLogOnRestart(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, nil)
	if _, err := s.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	id := txid.New()
	log, err := s.CreateOperationLog(id)
	if err != nil {
		t.Fatalf("CreateOperationLog: %v", err)
	}
	acc := accumulator.New()
	ctx := &adapter.UpdateContext{TxId: id}
	if err := log.Write(ctx, acc, adapter.Operation{Payload: int32(1)}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(true); err != nil { // simulate crash: handle dropped, file kept
		t.Fatalf("Close: %v", err)
	}

	path := filepath.Join(dir, id.String()+".log")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	raw[0] ^= 0xFF // corrupt the header magic
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fresh := NewFileStore(dir, nil)
	status, err := fresh.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if status != Corrupt {
		t.Fatalf("status = %v, want Corrupt", status)
	}
	fresh.Close(false)
}

func TestOrphanTransactionsDiscardsCorruptAndReturnsValid(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, nil)
	if _, err := s.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	goodID := txid.New()
	good, err := s.CreateOperationLog(goodID)
	if err != nil {
		t.Fatalf("CreateOperationLog: %v", err)
	}
	acc := accumulator.New()
	ctx := &adapter.UpdateContext{TxId: goodID}
	if err := good.Write(ctx, acc, adapter.Operation{Payload: int32(1)}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	badID := txid.New()
	bad, err := s.CreateOperationLog(badID)
	if err != nil {
		t.Fatalf("CreateOperationLog: %v", err)
	}
	_ = bad

	if err := s.Close(true); err != nil {
		t.Fatalf("Close: %v", err)
	}

	badPath := filepath.Join(dir, badID.String()+".log")
	raw, err := os.ReadFile(badPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	raw[0] ^= 0xFF
	if err := os.WriteFile(badPath, raw, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fresh := NewFileStore(dir, nil)
	if _, err := fresh.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer fresh.Close(false)

	orphans, err := fresh.OrphanTransactions()
	if err != nil {
		t.Fatalf("OrphanTransactions: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != goodID {
		t.Fatalf("orphans = %v, want just [%s]", orphans, goodID)
	}
	if _, err := os.Stat(badPath); !os.IsNotExist(err) {
		t.Fatal("corrupt log should have been removed by OrphanTransactions")
	}
}
