package logstore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	copydir "github.com/otiai10/copy"

	"github.com/opcoordio/txlog/pkg/bloom"
	"github.com/opcoordio/txlog/pkg/oplog"
	"github.com/opcoordio/txlog/pkg/txerr"
	"github.com/opcoordio/txlog/pkg/txid"
)

const lockFileName = "transactions.lock"

// WarnFunc receives a non-fatal diagnostic (a corrupt file discovered
// during a rescan, e.g.). A nil WarnFunc is a valid no-op.
type WarnFunc func(format string, args ...any)

func (f WarnFunc) warn(format string, args ...any) {
	if f != nil {
		f(format, args...)
	}
}

// FileStore is the file-backed Log Store described in spec §4.2/§6: one
// `<TxId>.log` file per base transaction plus a sentinel
// `transactions.lock` held exclusively for the life of the store.
type FileStore struct {
	dir  string
	warn WarnFunc

	mu   sync.Mutex
	lock *os.File
	open map[txid.TxId]oplog.OperationLog
	seen *bloom.Set
}

// NewFileStore returns a FileStore rooted at dir. dir must already exist.
func NewFileStore(dir string, warn WarnFunc) *FileStore {
	return &FileStore{
		dir:  dir,
		warn: warn,
		open: make(map[txid.TxId]oplog.OperationLog),
		seen: bloom.NewSet(64),
	}
}

func (s *FileStore) logPath(id txid.TxId) string {
	return filepath.Join(s.dir, id.String()+".log")
}

func (s *FileStore) lockPath() string {
	return filepath.Join(s.dir, lockFileName)
}

// Open acquires exclusive ownership of the directory and scans for
// existing logs.
func (s *FileStore) Open() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock != nil {
		return 0, txerr.New(txerr.StateError, "log store is already open")
	}
	lock, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		if os.IsExist(err) {
			return 0, txerr.New(txerr.StateError, "log store directory is already owned by another process")
		}
		return 0, txerr.Wrap(s.lockPath(), err)
	}
	s.lock = lock

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, txerr.Wrap(s.dir, err)
	}
	anyFound := false
	anyCorrupt := false
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		anyFound = true
		if _, verr := oplog.ValidateFile(filepath.Join(s.dir, e.Name())); verr != nil {
			anyCorrupt = true
		}
	}
	switch {
	case !anyFound:
		return Ready, nil
	case anyCorrupt:
		return Corrupt, nil
	default:
		return Recover, nil
	}
}

// Close releases the lock. If simulateCrash is true, open handles are
// dropped without a graceful Close and every log file is left intact on
// disk, simulating a process crash; this is used only by tests, per
// spec §4.2.
func (s *FileStore) Close(simulateCrash bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	handles := make([]oplog.OperationLog, 0, len(s.open))
	for _, h := range s.open {
		handles = append(handles, h)
	}
	s.open = make(map[txid.TxId]oplog.OperationLog)
	s.seen.Reset()
	if !simulateCrash {
		for _, h := range handles {
			_ = h.Close()
		}
	}
	if s.lock == nil {
		return nil
	}
	path := s.lockPath()
	if err := s.lock.Close(); err != nil {
		s.lock = nil
		return txerr.Wrap(path, err)
	}
	s.lock = nil
	return txerr.Wrap(path, os.Remove(path))
}

// OrphanTransactions re-scans the directory, returns the TxIds of every
// log that validates, and deletes any that don't. Idempotent.
func (s *FileStore) OrphanTransactions() ([]txid.TxId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, txerr.Wrap(s.dir, err)
	}

	var candidates []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		candidates = append(candidates, e.Name())
	}

	var corrupt []string
	var ids []txid.TxId
	for _, name := range candidates {
		path := filepath.Join(s.dir, name)
		id, verr := oplog.ValidateFile(path)
		if verr != nil {
			corrupt = append(corrupt, path)
			continue
		}
		ids = append(ids, id)
		s.seen.Add(id)
	}

	if len(corrupt) > 0 {
		s.snapshotBeforeDiscard()
		for _, path := range corrupt {
			s.warn.warn("logstore: discarding corrupt log %s", path)
			_ = os.Remove(path)
		}
	}
	return ids, nil
}

// snapshotBeforeDiscard shadow-copies the directory aside before a
// corrupt file is deleted, mirroring the teacher's Prime/Delta
// snapshot-before-mutate pattern. Best-effort: a failed snapshot never
// blocks recovery, it only loses the post-mortem copy.
func (s *FileStore) snapshotBeforeDiscard() {
	shadow := strings.TrimSuffix(s.dir, string(filepath.Separator)) + "-discarded"
	_ = os.RemoveAll(shadow)
	_ = copydir.Copy(s.dir, shadow)
}

// OpenOperationLog opens an existing log file.
func (s *FileStore) OpenOperationLog(id txid.TxId) (oplog.OperationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, already := s.open[id]; already {
		return nil, txerr.Newf(txerr.StateError, "log %s is already open in this process", id)
	}
	log, err := oplog.OpenFileLog(s.logPath(id), id, oplog.WarnFunc(s.warn))
	if err != nil {
		return nil, err
	}
	s.open[id] = log
	s.seen.Add(id)
	return log, nil
}

// CreateOperationLog creates a new log in UNDO mode. The in-process
// open map is the authoritative guard against double-opening a TxId
// and is always consulted. The bloom filter gates a second, disk-level
// check: for the overwhelmingly common case of a freshly minted TxId,
// MaybeContains reports false and CreateOperationLog skips straight to
// CreateFileLog without a stat syscall; only when the filter reports a
// possible hit (this TxId was seen before, e.g. a leftover file from an
// incomplete removal) does it pay for an os.Stat, which turns what
// would otherwise be an O_EXCL error out of CreateFileLog into an
// earlier, more specific one.
func (s *FileStore) CreateOperationLog(id txid.TxId) (oplog.OperationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, already := s.open[id]; already {
		return nil, txerr.Newf(txerr.StateError, "log %s is already open in this process", id)
	}
	if s.seen.MaybeContains(id) {
		if _, err := os.Stat(s.logPath(id)); err == nil {
			return nil, txerr.Newf(txerr.StateError, "log %s already exists on disk", id)
		}
	}
	log, err := oplog.CreateFileLog(s.logPath(id), id, oplog.WarnFunc(s.warn))
	if err != nil {
		return nil, err
	}
	s.open[id] = log
	s.seen.Add(id)
	return log, nil
}

// CommitOperationLog flips the log to REDO and closes the handle,
// leaving the file on disk for the coordinator's forward-apply walk.
func (s *FileStore) CommitOperationLog(log oplog.OperationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := log.SetMode(oplog.ModeRedo); err != nil {
		return err
	}
	delete(s.open, log.TxId())
	return log.Close()
}

// RemoveOperationLog closes and deletes the log file.
func (s *FileStore) RemoveOperationLog(log oplog.OperationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := log.TxId()
	delete(s.open, id)
	if err := log.Close(); err != nil {
		return err
	}
	return txerr.Wrap(s.logPath(id), os.Remove(s.logPath(id)))
}

// CloseOperationLog closes the handle without deleting the file.
func (s *FileStore) CloseOperationLog(log oplog.OperationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, log.TxId())
	return log.Close()
}
