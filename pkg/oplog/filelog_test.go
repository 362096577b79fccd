package oplog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opcoordio/txlog/pkg/adapter/accumulator"
	"github.com/opcoordio/txlog/pkg/txid"
)

func tempLogPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.log")
}

func TestCreateFileLogStartsEmptyInUndoMode(t *testing.T) {
	path := tempLogPath(t)
	id := txid.New()
	log, err := CreateFileLog(path, id, nil)
	if err != nil {
		t.Fatalf("CreateFileLog: %v", err)
	}
	defer log.Close()

	if log.Mode() != ModeUndo {
		t.Fatalf("new log mode = %v, want ModeUndo", log.Mode())
	}
	positions, err := log.Positions(false)
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("new log has %d positions, want 0", len(positions))
	}
}

func TestCreateFileLogFailsIfExists(t *testing.T) {
	path := tempLogPath(t)
	id := txid.New()
	log, err := CreateFileLog(path, id, nil)
	if err != nil {
		t.Fatalf("CreateFileLog: %v", err)
	}
	log.Close()

	if _, err := CreateFileLog(path, id, nil); err == nil {
		t.Fatal("expected error creating a log at an existing path")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := tempLogPath(t)
	id := txid.New()
	log, err := CreateFileLog(path, id, nil)
	if err != nil {
		t.Fatalf("CreateFileLog: %v", err)
	}
	defer log.Close()

	acc := accumulator.New()
	ctx := testCtx(id)

	var positions []int
	for _, v := range []int32{5, -3, 100} {
		before, _ := log.Position()
		if err := log.Write(ctx, acc, opFor(v)); err != nil {
			t.Fatalf("Write(%d): %v", v, err)
		}
		_ = before
		positions = append(positions, 0)
	}
	_ = positions

	all, err := log.Positions(false)
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("have %d positions, want 3", len(all))
	}

	want := []int32{5, -3, 100}
	for i, pos := range all {
		op, err := log.Read(ctx, acc, pos)
		if err != nil {
			t.Fatalf("Read(%d): %v", i, err)
		}
		got, ok := op.Payload.(int32)
		if !ok || got != want[i] {
			t.Fatalf("Read(%d) = %v, want %d", i, op.Payload, want[i])
		}
	}
}

func TestReopenValidatesAndRestoresState(t *testing.T) {
	path := tempLogPath(t)
	id := txid.New()
	log, err := CreateFileLog(path, id, nil)
	if err != nil {
		t.Fatalf("CreateFileLog: %v", err)
	}
	acc := accumulator.New()
	ctx := testCtx(id)
	if err := log.Write(ctx, acc, opFor(42)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenFileLog(path, id, nil)
	if err != nil {
		t.Fatalf("OpenFileLog: %v", err)
	}
	defer reopened.Close()

	positions, err := reopened.Positions(false)
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("reopened log has %d positions, want 1", len(positions))
	}
	op, err := reopened.Read(ctx, acc, positions[0])
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if op.Payload.(int32) != 42 {
		t.Fatalf("Read payload = %v, want 42", op.Payload)
	}
}

func TestOpenFileLogRejectsTxIdMismatch(t *testing.T) {
	path := tempLogPath(t)
	id := txid.New()
	log, err := CreateFileLog(path, id, nil)
	if err != nil {
		t.Fatalf("CreateFileLog: %v", err)
	}
	log.Close()

	if _, err := OpenFileLog(path, txid.New(), nil); err == nil {
		t.Fatal("expected TxId mismatch error")
	}
}

func TestTruncateDiscardsTrailingRecords(t *testing.T) {
	path := tempLogPath(t)
	id := txid.New()
	log, err := CreateFileLog(path, id, nil)
	if err != nil {
		t.Fatalf("CreateFileLog: %v", err)
	}
	defer log.Close()
	acc := accumulator.New()
	ctx := testCtx(id)

	savepoint, _ := log.Position()
	for _, v := range []int32{1, 2, 3} {
		if err := log.Write(ctx, acc, opFor(v)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := log.Truncate(savepoint); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	positions, err := log.Positions(false)
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("after truncate have %d positions, want 0", len(positions))
	}
}

func TestTruncateRejectedOutsideUndoMode(t *testing.T) {
	path := tempLogPath(t)
	id := txid.New()
	log, err := CreateFileLog(path, id, nil)
	if err != nil {
		t.Fatalf("CreateFileLog: %v", err)
	}
	defer log.Close()
	pos, _ := log.Position()
	if err := log.SetMode(ModeRedo); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if err := log.Truncate(pos); err == nil {
		t.Fatal("expected error truncating a REDO-mode log")
	}
}

func TestValidateDetectsCorruption(t *testing.T) {
	path := tempLogPath(t)
	id := txid.New()
	log, err := CreateFileLog(path, id, nil)
	if err != nil {
		t.Fatalf("CreateFileLog: %v", err)
	}
	acc := accumulator.New()
	ctx := testCtx(id)
	if err := log.Write(ctx, acc, opFor(7)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	// Byte offsets that the validation procedure actually inspects:
	// header magic, format version, mode, and the one record's frame
	// magic and length. Corrupting any of these must be caught.
	mustCorrupt := map[string]int{
		"header magic":   0,
		"format version": 4,
		"mode":           12,
		"record magic":   headerSize,
		"record length":  headerSize + 4,
	}
	for name, offset := range mustCorrupt {
		corrupt := make([]byte, len(raw))
		copy(corrupt, raw)
		corrupt[offset] ^= 0xFF
		cp := filepath.Join(t.TempDir(), name+".log")
		if err := os.WriteFile(cp, corrupt, 0644); err != nil {
			t.Fatalf("WriteFile(%s): %v", name, err)
		}
		if _, err := ValidateFile(cp); err == nil {
			t.Errorf("corrupting %s was not detected", name)
		}
	}

	// A deliberately truncated file (mid-record) must always be Corrupt.
	truncated := raw[:len(raw)-1]
	tp := filepath.Join(t.TempDir(), "short.log")
	if err := os.WriteFile(tp, truncated, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ValidateFile(tp); err == nil {
		t.Fatal("expected Corrupt for a truncated file")
	}
}

func TestValidateRejectsBadMagic(t *testing.T) {
	path := tempLogPath(t)
	id := txid.New()
	log, err := CreateFileLog(path, id, nil)
	if err != nil {
		t.Fatalf("CreateFileLog: %v", err)
	}
	log.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	raw[0] ^= 0xFF
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ValidateFile(path); err == nil {
		t.Fatal("expected error for bad header magic")
	}
}

