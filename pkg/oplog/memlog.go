package oplog

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/opcoordio/txlog/pkg/adapter"
	"github.com/opcoordio/txlog/pkg/txerr"
	"github.com/opcoordio/txlog/pkg/txid"
)

type memRecord struct {
	description string
	payload     []byte
}

// MemLog is the in-memory twin of FileLog: identical semantics, no I/O.
// A Position for a MemLog carries a record index rather than a byte
// offset.
type MemLog struct {
	mu      sync.Mutex
	id      txid.TxId
	mode    Mode
	records []memRecord
	closed  bool
}

// NewMemLog returns a new in-memory log in UNDO mode for id.
func NewMemLog(id txid.TxId) *MemLog {
	return &MemLog{id: id, mode: ModeUndo}
}

func (l *MemLog) TxId() txid.TxId { return l.id }

func (l *MemLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *MemLog) Mode() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

func (l *MemLog) SetMode(m Mode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mode = m
	return nil
}

func (l *MemLog) Position() (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode != ModeUndo {
		return Position{}, txerr.New(txerr.StateError, "position: log is not in UNDO mode")
	}
	return fromMemIndex(len(l.records)), nil
}

func (l *MemLog) Truncate(pos Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode != ModeUndo {
		return txerr.New(txerr.StateError, "truncate: log is not in UNDO mode")
	}
	idx, ok := pos.MemIndex()
	if !ok {
		return txerr.New(txerr.InvalidArgument, "truncate: position is not memory-backed")
	}
	if idx < 0 || idx > len(l.records) {
		return txerr.Newf(txerr.InvalidArgument, "truncate: index %d out of range [0, %d]", idx, len(l.records))
	}
	l.records = l.records[:idx]
	return nil
}

func (l *MemLog) Positions(reverse bool) ([]Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.records)
	out := make([]Position, n)
	for i := 0; i < n; i++ {
		if reverse {
			out[n-1-i] = fromMemIndex(i)
		} else {
			out[i] = fromMemIndex(i)
		}
	}
	return out, nil
}

func (l *MemLog) PositionsTo(pos Position) ([]Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, ok := pos.MemIndex()
	if !ok {
		return nil, txerr.New(txerr.InvalidArgument, "positionsTo: position is not memory-backed")
	}
	var out []Position
	for i := len(l.records) - 1; i >= idx; i-- {
		out = append(out, fromMemIndex(i))
	}
	return out, nil
}

func (l *MemLog) Write(ctx *adapter.UpdateContext, resource adapter.ResourceAdapter, op adapter.Operation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode != ModeUndo {
		return txerr.New(txerr.StateError, "write: log is not in UNDO mode (ModeMismatch)")
	}
	var buf bytes.Buffer
	if err := resource.WriteOperation(ctx, &buf, op.Payload); err != nil {
		return fmt.Errorf("oplog: adapter WriteOperation failed: %w", err)
	}
	l.records = append(l.records, memRecord{description: op.Description, payload: buf.Bytes()})
	return nil
}

func (l *MemLog) Read(ctx *adapter.UpdateContext, resource adapter.ResourceAdapter, pos Position) (adapter.Operation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, ok := pos.MemIndex()
	if !ok {
		return adapter.Operation{}, txerr.New(txerr.InvalidArgument, "read: position is not memory-backed")
	}
	if idx < 0 || idx >= len(l.records) {
		return adapter.Operation{}, txerr.Newf(txerr.InvalidArgument, "read: index %d is out of range", idx)
	}
	rec := l.records[idx]
	r := bytes.NewReader(rec.payload)
	payload, err := resource.ReadOperation(ctx, r)
	if err != nil {
		return adapter.Operation{}, fmt.Errorf("oplog: adapter ReadOperation failed: %w", err)
	}
	return adapter.Operation{Description: rec.description, Payload: payload}, nil
}
