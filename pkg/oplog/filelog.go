// Package oplog implements the Operation Log (spec §4.1): a crash-safe,
// self-describing, append-only (in UNDO mode) sequence of records for one
// base transaction, with a file-backed implementation and an in-memory
// twin.
package oplog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/opcoordio/txlog/pkg/adapter"
	"github.com/opcoordio/txlog/pkg/txerr"
	"github.com/opcoordio/txlog/pkg/txid"
)

// WarnFunc receives a non-fatal diagnostic, such as adapter read-cursor
// drift. A nil WarnFunc is a valid no-op.
type WarnFunc func(format string, args ...any)

func (f WarnFunc) warn(format string, args ...any) {
	if f != nil {
		f(format, args...)
	}
}

// OperationLog is the contract shared by the file-backed and in-memory
// implementations. See spec §4.1.
type OperationLog interface {
	TxId() txid.TxId
	Close() error
	Mode() Mode
	SetMode(m Mode) error
	Position() (Position, error)
	Truncate(pos Position) error
	Positions(reverse bool) ([]Position, error)
	PositionsTo(pos Position) ([]Position, error)
	Read(ctx *adapter.UpdateContext, resource adapter.ResourceAdapter, pos Position) (adapter.Operation, error)
	Write(ctx *adapter.UpdateContext, resource adapter.ResourceAdapter, op adapter.Operation) error
}

// FileLog is the binary, file-backed Operation Log described in spec
// §4.1 and §6.
type FileLog struct {
	mu   sync.Mutex
	file *os.File
	path string
	id   txid.TxId
	mode Mode
	size int64   // current file size
	pos  []int64 // record start offsets, in append order
	warn WarnFunc

	closed bool
}

// CreateFileLog creates a new log file at path in UNDO mode for id. It
// fails if path already exists.
func CreateFileLog(path string, id txid.TxId, warn WarnFunc) (*FileLog, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, txerr.Wrap(path, err)
	}
	l := &FileLog{file: f, path: path, id: id, mode: ModeUndo, size: headerSize, warn: warn}
	if err := l.writeHeader(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return l, nil
}

// OpenFileLog opens an existing log file, validating its structure and
// asserting its persisted TxId equals id.
func OpenFileLog(path string, id txid.TxId, warn WarnFunc) (*FileLog, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, txerr.Wrap(path, err)
	}
	l := &FileLog{file: f, path: path, warn: warn}
	gotID, mode, positions, size, verr := validate(f)
	if verr != nil {
		f.Close()
		return nil, verr
	}
	if !id.IsNil() && gotID != id {
		f.Close()
		return nil, txerr.Newf(txerr.Corrupt, "log %s: TxId mismatch: header has %s, expected %s", path, gotID, id)
	}
	l.id = gotID
	l.mode = mode
	l.pos = positions
	l.size = size
	return l, nil
}

// ValidateFile runs the static validation procedure (spec §4.1) against
// an existing file without holding it open, returning the TxId persisted
// in its header. Used by the log store's directory scan.
func ValidateFile(path string) (txid.TxId, error) {
	f, err := os.Open(path)
	if err != nil {
		return txid.TxId{}, txerr.Wrap(path, err)
	}
	defer f.Close()
	id, _, _, _, err := validate(f)
	if err != nil {
		return txid.TxId{}, err
	}
	return id, nil
}

// validate implements the procedure from spec §4.1: read the header,
// then iterate records, advancing by 8+L each step, until EOF is reached
// cleanly. Any misalignment or bad magic terminates validation with
// Corrupt.
func validate(f *os.File) (id txid.TxId, mode Mode, positions []int64, size int64, err error) {
	info, serr := f.Stat()
	if serr != nil {
		return txid.TxId{}, 0, nil, 0, txerr.Wrap(f.Name(), serr)
	}
	size = info.Size()
	if size < headerSize {
		return txid.TxId{}, 0, nil, 0, txerr.Newf(txerr.Corrupt, "log %s: file shorter than header (%d bytes)", f.Name(), size)
	}

	header := make([]byte, headerSize)
	if _, rerr := f.ReadAt(header, 0); rerr != nil {
		return txid.TxId{}, 0, nil, 0, txerr.Wrap(f.Name(), rerr)
	}
	gotMagic := byteOrder.Uint32(header[0:4])
	if gotMagic != magic {
		return txid.TxId{}, 0, nil, 0, txerr.Newf(txerr.Corrupt, "log %s: bad header magic", f.Name())
	}
	version := byteOrder.Uint32(header[4:8])
	if version != formatVersion {
		return txid.TxId{}, 0, nil, 0, txerr.Newf(txerr.Corrupt, "log %s: unsupported format version %d", f.Name(), version)
	}
	modeVal := byteOrder.Uint32(header[12:16])
	if modeVal != uint32(ModeUndo) && modeVal != uint32(ModeRedo) {
		return txid.TxId{}, 0, nil, 0, txerr.Newf(txerr.Corrupt, "log %s: unknown mode %d", f.Name(), modeVal)
	}
	var rawID [16]byte
	copy(rawID[:], header[16:32])

	positions = make([]int64, 0)
	offset := int64(headerSize)
	frameHeader := make([]byte, recordFrameFixed)
	for offset < size {
		if _, rerr := f.ReadAt(frameHeader, offset); rerr != nil {
			return txid.TxId{}, 0, nil, 0, txerr.Newf(txerr.Corrupt, "log %s: short record header at offset %d", f.Name(), offset)
		}
		gotMagic := byteOrder.Uint32(frameHeader[0:4])
		if gotMagic != magic {
			return txid.TxId{}, 0, nil, 0, txerr.Newf(txerr.Corrupt, "log %s: bad record magic at offset %d", f.Name(), offset)
		}
		length := int32(byteOrder.Uint32(frameHeader[4:8]))
		if length < 0 {
			return txid.TxId{}, 0, nil, 0, txerr.Newf(txerr.Corrupt, "log %s: negative record length at offset %d", f.Name(), offset)
		}
		if offset+recordFrameFixed+int64(length) > size {
			return txid.TxId{}, 0, nil, 0, txerr.Newf(txerr.Corrupt, "log %s: record at offset %d overruns file", f.Name(), offset)
		}
		positions = append(positions, offset)
		offset += recordFrameFixed + int64(length)
	}
	if offset != size {
		return txid.TxId{}, 0, nil, 0, txerr.Newf(txerr.Corrupt, "log %s: trailing misaligned bytes after offset %d", f.Name(), offset)
	}
	return txid.TxId(rawID), Mode(modeVal), positions, size, nil
}

func (l *FileLog) writeHeader() error {
	buf := make([]byte, headerSize)
	byteOrder.PutUint32(buf[0:4], magic)
	byteOrder.PutUint32(buf[4:8], formatVersion)
	byteOrder.PutUint32(buf[8:12], 0)
	byteOrder.PutUint32(buf[12:16], uint32(l.mode))
	copy(buf[16:32], l.id[:])
	if _, err := l.file.WriteAt(buf, 0); err != nil {
		return txerr.Wrap(l.path, err)
	}
	return txerr.Wrap(l.path, l.file.Sync())
}

func (l *FileLog) TxId() txid.TxId { return l.id }

// Close releases the file handle. Idempotent.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return txerr.Wrap(l.path, l.file.Close())
}

func (l *FileLog) Mode() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// SetMode writes the single header mode byte group to stable storage
// before returning.
func (l *FileLog) SetMode(m Mode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mode = m
	var buf [4]byte
	byteOrder.PutUint32(buf[:], uint32(m))
	if _, err := l.file.WriteAt(buf[:], 12); err != nil {
		return txerr.Wrap(l.path, err)
	}
	return txerr.Wrap(l.path, l.file.Sync())
}

// Position returns the current append point. Valid only in UNDO mode.
func (l *FileLog) Position() (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode != ModeUndo {
		return Position{}, txerr.New(txerr.StateError, "position: log is not in UNDO mode")
	}
	return fromFileOffset(l.size), nil
}

// Truncate discards everything at or beyond pos. Valid only in UNDO mode.
func (l *FileLog) Truncate(pos Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode != ModeUndo {
		return txerr.New(txerr.StateError, "truncate: log is not in UNDO mode")
	}
	offset, ok := pos.FileOffset()
	if !ok {
		return txerr.New(txerr.InvalidArgument, "truncate: position is not file-backed")
	}
	if offset < headerSize || offset > l.size {
		return txerr.Newf(txerr.InvalidArgument, "truncate: position %d out of range [%d, %d]", offset, headerSize, l.size)
	}
	if err := l.file.Truncate(offset); err != nil {
		return txerr.Wrap(l.path, err)
	}
	l.size = offset
	kept := 0
	for kept < len(l.pos) && l.pos[kept] < offset {
		kept++
	}
	l.pos = l.pos[:kept]
	return nil
}

// Positions returns a Position for every record, in append order or its
// reverse.
func (l *FileLog) Positions(reverse bool) ([]Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Position, len(l.pos))
	if reverse {
		for i, off := range l.pos {
			out[len(l.pos)-1-i] = fromFileOffset(off)
		}
	} else {
		for i, off := range l.pos {
			out[i] = fromFileOffset(off)
		}
	}
	return out, nil
}

// PositionsTo returns a Position for every record at or beyond pos (the
// records appended since pos was captured as the append point), in
// reverse append order.
func (l *FileLog) PositionsTo(pos Position) ([]Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	offset, ok := pos.FileOffset()
	if !ok {
		return nil, txerr.New(txerr.InvalidArgument, "positionsTo: position is not file-backed")
	}
	var out []Position
	for i := len(l.pos) - 1; i >= 0; i-- {
		if l.pos[i] >= offset {
			out = append(out, fromFileOffset(l.pos[i]))
		}
	}
	return out, nil
}

// Write appends a new record. Valid only in UNDO mode.
func (l *FileLog) Write(ctx *adapter.UpdateContext, resource adapter.ResourceAdapter, op adapter.Operation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode != ModeUndo {
		return txerr.New(txerr.StateError, "write: log is not in UNDO mode (ModeMismatch)")
	}

	var body bytes.Buffer
	if op.Description == "" {
		var lenBuf [4]byte
		byteOrder.PutUint32(lenBuf[:], 0)
		body.Write(lenBuf[:])
	} else {
		descBytes := []byte(op.Description)
		var lenBuf [4]byte
		byteOrder.PutUint32(lenBuf[:], uint32(len(descBytes)))
		body.Write(lenBuf[:])
		body.Write(descBytes)
	}
	if err := resource.WriteOperation(ctx, &body, op.Payload); err != nil {
		return fmt.Errorf("oplog: adapter WriteOperation failed: %w", err)
	}

	offset := l.size
	frame := make([]byte, recordFrameFixed)
	byteOrder.PutUint32(frame[0:4], magic)
	byteOrder.PutUint32(frame[4:8], uint32(body.Len()))
	if _, err := l.file.WriteAt(frame, offset); err != nil {
		return txerr.Wrap(l.path, err)
	}
	if _, err := l.file.WriteAt(body.Bytes(), offset+recordFrameFixed); err != nil {
		return txerr.Wrap(l.path, err)
	}
	if err := l.file.Sync(); err != nil {
		return txerr.Wrap(l.path, err)
	}
	l.size = offset + recordFrameFixed + int64(body.Len())
	l.pos = append(l.pos, offset)
	return nil
}

// Read seeks to pos, validates the record frame, reads the description,
// then asks the resource adapter to deserialize the payload.
func (l *FileLog) Read(ctx *adapter.UpdateContext, resource adapter.ResourceAdapter, pos Position) (adapter.Operation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	offset, ok := pos.FileOffset()
	if !ok {
		return adapter.Operation{}, txerr.New(txerr.InvalidArgument, "read: position is not file-backed")
	}
	if !l.isKnownPosition(offset) {
		return adapter.Operation{}, txerr.Newf(txerr.InvalidArgument, "read: position %d is out of range", offset)
	}

	frame := make([]byte, recordFrameFixed)
	if _, err := l.file.ReadAt(frame, offset); err != nil {
		return adapter.Operation{}, txerr.Newf(txerr.Corrupt, "read: cannot read record frame at %d: %v", offset, err)
	}
	if byteOrder.Uint32(frame[0:4]) != magic {
		return adapter.Operation{}, txerr.Newf(txerr.Corrupt, "read: bad record magic at %d", offset)
	}
	length := int64(int32(byteOrder.Uint32(frame[4:8])))
	if length < 0 || offset+recordFrameFixed+length > l.size {
		return adapter.Operation{}, txerr.Newf(txerr.Corrupt, "read: record at %d has invalid length %d", offset, length)
	}

	var descLenBuf [4]byte
	if _, err := l.file.ReadAt(descLenBuf[:], offset+recordFrameFixed); err != nil {
		return adapter.Operation{}, txerr.Wrap(l.path, err)
	}
	descLen := int32(byteOrder.Uint32(descLenBuf[:]))
	descStart := offset + recordFrameFixed + 4
	var description string
	switch {
	case descLen == nullDescLen:
		description = ""
	case descLen >= 0:
		descBytes := make([]byte, descLen)
		if descLen > 0 {
			if _, err := l.file.ReadAt(descBytes, descStart); err != nil {
				return adapter.Operation{}, txerr.Wrap(l.path, err)
			}
		}
		description = string(descBytes)
	default:
		return adapter.Operation{}, txerr.Newf(txerr.Corrupt, "read: record at %d has invalid description length %d", offset, descLen)
	}

	payloadStart := descStart + int64(maxInt32(descLen, 0))
	recordEnd := offset + recordFrameFixed + length
	payloadLen := recordEnd - payloadStart
	if payloadLen < 0 {
		return adapter.Operation{}, txerr.Newf(txerr.Corrupt, "read: record at %d description overruns frame", offset)
	}

	section := io.NewSectionReader(l.file, payloadStart, payloadLen)
	payload, err := resource.ReadOperation(ctx, section)
	if err != nil {
		return adapter.Operation{}, fmt.Errorf("oplog: adapter ReadOperation failed: %w", err)
	}
	consumed, _ := section.Seek(0, io.SeekCurrent)
	if consumed != payloadLen {
		l.warn.warn("oplog: adapter %s left read cursor at %d, expected %d for record at %d; repositioning",
			resource.Name(), consumed, payloadLen, offset)
	}
	return adapter.Operation{Description: description, Payload: payload}, nil
}

func (l *FileLog) isKnownPosition(offset int64) bool {
	for _, p := range l.pos {
		if p == offset {
			return true
		}
	}
	return false
}

func maxInt32(a int32, b int32) int32 {
	if a > b {
		return a
	}
	return b
}
